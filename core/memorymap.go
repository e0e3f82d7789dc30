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

package core

import (
	"encoding/binary"
	"hash/crc32"
	"sort"

	"github.com/patina-fw/dxecore/gcd"
	"github.com/patina-fw/dxecore/pool"
)

// EFI_MEMORY_TYPE ordinals, bit-exact with the UEFI specification, used
// as the "type" field of every emitted MemoryMapEntry.
const (
	EfiReservedMemoryType uint32 = iota
	EfiLoaderCode
	EfiLoaderData
	EfiBootServicesCode
	EfiBootServicesData
	EfiRuntimeServicesCode
	EfiRuntimeServicesData
	EfiConventionalMemory
	EfiUnusableMemory
	EfiACPIReclaimMemory
	EfiACPIMemoryNVS
	EfiMemoryMappedIO
	EfiMemoryMappedIOPortSpace
	EfiPalCode
	EfiPersistentMemory
	EfiUnacceptedMemoryType
)

var poolTypeToEFI = map[pool.Type]uint32{
	pool.LoaderCode:          EfiLoaderCode,
	pool.LoaderData:          EfiLoaderData,
	pool.BootServicesCode:    EfiBootServicesCode,
	pool.BootServicesData:    EfiBootServicesData,
	pool.RuntimeServicesCode: EfiRuntimeServicesCode,
	pool.RuntimeServicesData: EfiRuntimeServicesData,
	pool.ACPIReclaimMemory:   EfiACPIReclaimMemory,
	pool.ACPIMemoryNVS:       EfiACPIMemoryNVS,
	pool.ConventionalMemory:  EfiConventionalMemory,
}

// MemoryMapEntry is the bit-exact EFI_MEMORY_DESCRIPTOR shape get_memory_map
// reports.
type MemoryMapEntry struct {
	Type          uint32
	Pad           uint32
	PhysicalStart uint64
	VirtualStart  uint64
	NumberOfPages uint64
	Attribute     uint64
}

const memoryMapEntrySize = 40

// Encode writes e in little-endian wire order.
func (e MemoryMapEntry) Encode() []byte {
	buf := make([]byte, memoryMapEntrySize)
	binary.LittleEndian.PutUint32(buf[0:4], e.Type)
	binary.LittleEndian.PutUint32(buf[4:8], e.Pad)
	binary.LittleEndian.PutUint64(buf[8:16], e.PhysicalStart)
	binary.LittleEndian.PutUint64(buf[16:24], e.VirtualStart)
	binary.LittleEndian.PutUint64(buf[24:32], e.NumberOfPages)
	binary.LittleEndian.PutUint64(buf[32:40], e.Attribute)
	return buf
}

// efiTypeFor classifies one GCD descriptor into its reported
// EFI_MEMORY_TYPE. Non-SystemMemory descriptors map straight across;
// SystemMemory descriptors reverse-map through the owner handle
// assigned to a well-known pool allocator, falling back to
// BootServicesData for the core's own bookkeeping allocations and
// ConventionalMemory for anything still free.
func (c *Core) efiTypeFor(d gcd.Descriptor) (uint32, bool) {
	switch d.Type {
	case gcd.Nonexistent:
		return 0, false
	case gcd.MemoryMappedIo:
		return EfiMemoryMappedIO, true
	case gcd.Reserved:
		return EfiReservedMemoryType, true
	case gcd.Persistent:
		return EfiPersistentMemory, true
	case gcd.Unaccepted:
		return EfiUnacceptedMemoryType, true
	case gcd.SystemMemory:
		if d.Owner == gcd.Unallocated {
			return EfiConventionalMemory, true
		}
		if t, ok := c.poolOwners[d.Owner]; ok {
			return poolTypeToEFI[t], true
		}
		return EfiBootServicesData, true
	default:
		return 0, false
	}
}

func attributeFor(d gcd.Descriptor) uint64 {
	return uint64(d.Attributes)
}

// GetMemoryMap builds the current UEFI memory map: every page-aligned
// GCD descriptor, classified to its EFI_MEMORY_TYPE and merged where
// adjacent entries share type and attribute. It returns the merged
// entries and a CRC32 map_key over their emitted bytes. Descriptors
// are sorted by PhysicalStart before hashing so the key is
// deterministic regardless of the GCD tree's internal node order.
func (c *Core) GetMemoryMap() (entries []MemoryMapEntry, mapKey uint32) {
	descs := c.GCD.GetMemoryDescriptors()
	sort.Slice(descs, func(i, j int) bool { return descs[i].BaseAddress < descs[j].BaseAddress })

	var raw []MemoryMapEntry
	for _, d := range descs {
		if d.Length < gcd.PageSize || d.BaseAddress%gcd.PageSize != 0 || d.Length%gcd.PageSize != 0 {
			continue
		}
		typ, ok := c.efiTypeFor(d)
		if !ok {
			continue
		}
		raw = append(raw, MemoryMapEntry{
			Type:          typ,
			PhysicalStart: d.BaseAddress,
			NumberOfPages: d.Length / gcd.PageSize,
			Attribute:     attributeFor(d),
		})
	}

	merged := mergeEntries(raw)

	buf := make([]byte, 0, len(merged)*memoryMapEntrySize)
	for _, e := range merged {
		buf = append(buf, e.Encode()...)
	}
	return merged, crc32.ChecksumIEEE(buf)
}

// mergeEntries coalesces adjacent entries sharing Type and
// Attribute.
func mergeEntries(entries []MemoryMapEntry) []MemoryMapEntry {
	if len(entries) == 0 {
		return nil
	}
	out := make([]MemoryMapEntry, 0, len(entries))
	cur := entries[0]
	for _, e := range entries[1:] {
		adjacent := cur.PhysicalStart+cur.NumberOfPages*gcd.PageSize == e.PhysicalStart
		sameFields := cur.Type == e.Type && cur.Attribute == e.Attribute
		if adjacent && sameFields {
			cur.NumberOfPages += e.NumberOfPages
			continue
		}
		out = append(out, cur)
		cur = e
	}
	out = append(out, cur)
	return out
}
