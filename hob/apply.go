// Copyright the DXE Core Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hob

import (
	"go.uber.org/zap"

	"github.com/patina-fw/dxecore/gcd"
	"github.com/patina-fw/dxecore/pool"
)

// Real UEFI EFI_MEMORY_TYPE ordinals, as they appear on the wire in a
// memory-allocation or memory-type-information HOB. pool.Type's own
// enum is renumbered for its allocator-table purposes (pool/type.go),
// so HOB consumption maps through this table rather than casting.
const (
	efiLoaderCode          uint32 = 1
	efiLoaderData          uint32 = 2
	efiBootServicesCode    uint32 = 3
	efiBootServicesData    uint32 = 4
	efiRuntimeServicesCode uint32 = 5
	efiRuntimeServicesData uint32 = 6
	efiConventionalMemory  uint32 = 7
	efiACPIReclaimMemory   uint32 = 9
	efiACPIMemoryNVS       uint32 = 10
)

func poolTypeFor(efiType uint32) (pool.Type, bool) {
	switch efiType {
	case efiLoaderCode:
		return pool.LoaderCode, true
	case efiLoaderData:
		return pool.LoaderData, true
	case efiBootServicesCode:
		return pool.BootServicesCode, true
	case efiBootServicesData:
		return pool.BootServicesData, true
	case efiRuntimeServicesCode:
		return pool.RuntimeServicesCode, true
	case efiRuntimeServicesData:
		return pool.RuntimeServicesData, true
	case efiACPIReclaimMemory:
		return pool.ACPIReclaimMemory, true
	case efiACPIMemoryNVS:
		return pool.ACPIMemoryNVS, true
	case efiConventionalMemory:
		return pool.ConventionalMemory, true
	default:
		return 0, false
	}
}

// MemoryTypeHints converts the list's memory-type-information GUID HOB
// entries into the hints pool.NewRegistry expects, skipping any
// ordinal this build doesn't model an allocator for.
func (l *List) MemoryTypeHints() []pool.MemoryTypeHint {
	hints := make([]pool.MemoryTypeHint, 0, len(l.MemoryTypeInfo))
	for _, e := range l.MemoryTypeInfo {
		t, ok := poolTypeFor(e.MemoryType)
		if !ok {
			continue
		}
		hints = append(hints, pool.MemoryTypeHint{MemoryType: t, ReservedPages: uint64(e.NumberOfPages)})
	}
	return hints
}

// ReserveMemoryAllocations marks every MemoryAllocation/
// MemoryAllocationModule HOB's range as already owned in m, so the
// pool allocators never hand the same pages back out. Entries of type
// CONVENTIONAL_MEMORY, zero length, or zero base are skipped with a
// warning. owner identifies the reservation in the GCD map.
func (l *List) ReserveMemoryAllocations(m *gcd.Map, owner gcd.Handle, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	reserve := func(base, length uint64, efiType uint32, name string) error {
		if efiType == efiConventionalMemory || length == 0 || base == 0 {
			logger.Warn("skipping memory allocation HOB",
				zap.String("name", name),
				zap.Uint64("base", base),
				zap.Uint64("length", length),
				zap.Uint32("memory_type", efiType))
			return nil
		}
		_, err := m.AllocateMemorySpace(gcd.AtAddress(base), gcd.SystemMemory, 0, length, owner, gcd.Unallocated)
		return err
	}

	for _, ma := range l.MemoryAllocations {
		if err := reserve(ma.BaseAddress, ma.Length, ma.MemoryType, ma.Name.String()); err != nil {
			return err
		}
	}
	for _, mod := range l.MemoryAllocationModules {
		if err := reserve(mod.BaseAddress, mod.Length, mod.MemoryType, mod.ModuleName.String()); err != nil {
			return err
		}
	}
	return nil
}

// ReserveNullPage allocates page 0 for null-pointer detection if it
// lies in system memory and isn't already owned.
func ReserveNullPage(m *gcd.Map, owner gcd.Handle) error {
	d, err := m.GetMemoryDescriptorForAddress(0)
	if err != nil {
		return nil // address 0 isn't mapped at all; nothing to reserve
	}
	if d.Type != gcd.SystemMemory || d.Owner != gcd.Unallocated {
		return nil
	}
	_, err = m.AllocateMemorySpace(gcd.AtAddress(0), gcd.SystemMemory, 0, gcd.PageSize, owner, gcd.Unallocated)
	return err
}
