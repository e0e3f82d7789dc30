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

// Package gcd implements the Global Coherent Descriptor map: the
// canonical record of all physical memory and IO address space. Every
// page-granular allocation in the core, direct or via a pool
// allocator, passes through this map.
package gcd

import "fmt"

// Handle is the opaque identity of the allocator (or other owner) a
// range of address space is assigned to. Unallocated is the sentinel
// meaning "free".
type Handle uint64

// Unallocated marks a descriptor as not currently owned by anyone.
const Unallocated Handle = 0

// PageSize is the core's page granularity for x86/ARM32 and AArch64
// non-runtime types. Runtime types on AArch64 use pool.PageSize64K
// instead, a pool-allocator concern layered on top of this package's
// page-aligned primitives.
const PageSize = 4096

// MemoryType classifies a range of the GCD memory-space map.
type MemoryType int

const (
	Nonexistent MemoryType = iota
	SystemMemory
	MemoryMappedIo
	Reserved
	Persistent
	Unaccepted
)

func (t MemoryType) String() string {
	switch t {
	case Nonexistent:
		return "Nonexistent"
	case SystemMemory:
		return "SystemMemory"
	case MemoryMappedIo:
		return "MemoryMappedIo"
	case Reserved:
		return "Reserved"
	case Persistent:
		return "Persistent"
	case Unaccepted:
		return "Unaccepted"
	default:
		return fmt.Sprintf("MemoryType(%d)", int(t))
	}
}

// Capability is a bitmask of cacheability/permission/runtime bits. The
// numeric values match the UEFI specification's EFI_MEMORY_* constants
// bit-exact, since they round-trip through the memory map the OS loader
// reads.
type Capability uint64

const (
	CapUC          Capability = 0x0000000000000001
	CapWC          Capability = 0x0000000000000002
	CapWT          Capability = 0x0000000000000004
	CapWB          Capability = 0x0000000000000008
	CapUCE         Capability = 0x0000000000000010
	CapWP          Capability = 0x0000000000001000
	CapRP          Capability = 0x0000000000002000
	CapXP          Capability = 0x0000000000004000
	CapNV          Capability = 0x0000000000008000
	CapMoreReliable Capability = 0x0000000000010000
	CapRO          Capability = 0x0000000000020000
	CapSP          Capability = 0x0000000000040000
	CapCPUCrypto   Capability = 0x0000000000080000
	CapRuntime     Capability = 0x8000000000000000
)

// Has reports whether c contains every bit of want.
func (c Capability) Has(want Capability) bool { return c&want == want }

// Descriptor is one entry of the GCD memory-space map, covering
// [BaseAddress, BaseAddress+Length).
type Descriptor struct {
	BaseAddress  uint64
	Length       uint64
	Type         MemoryType
	Capabilities Capability
	Attributes   Capability
	Owner        Handle
	Device       Handle // optional device_handle associated with the allocation

	// Allocated distinguishes a live lease from a range that was freed
	// with FreeMemorySpacePreservingOwnership: such a range keeps its
	// Owner but is not leased, and only that owner may re-claim it.
	Allocated bool
}

// End returns the exclusive end address of d.
func (d Descriptor) End() uint64 { return d.BaseAddress + d.Length }

// sameFields reports whether two descriptors carry identical
// memory_type/capabilities/attributes/image_handle, the condition
// under which adjacent descriptors must merge.
func (d Descriptor) sameFields(o Descriptor) bool {
	return d.Type == o.Type && d.Capabilities == o.Capabilities &&
		d.Attributes == o.Attributes && d.Owner == o.Owner &&
		d.Allocated == o.Allocated
}

// GcdIoType classifies a range of the GCD IO-space map.
type GcdIoType int

const (
	IoNonexistent GcdIoType = iota
	IoSpace
	IoReserved
)

func (t GcdIoType) String() string {
	switch t {
	case IoNonexistent:
		return "IoNonexistent"
	case IoSpace:
		return "IoSpace"
	case IoReserved:
		return "IoReserved"
	default:
		return fmt.Sprintf("GcdIoType(%d)", int(t))
	}
}

// IoDescriptor is one entry of the GCD IO-space map.
type IoDescriptor struct {
	BaseAddress uint64
	Length      uint64
	Type        GcdIoType
	Owner       Handle
}

func (d IoDescriptor) End() uint64 { return d.BaseAddress + d.Length }

func (d IoDescriptor) sameFields(o IoDescriptor) bool {
	return d.Type == o.Type && d.Owner == o.Owner
}
