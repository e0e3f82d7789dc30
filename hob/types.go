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

// Package hob decodes the pre-DXE-to-DXE hand-off block list the core
// is entered with, and applies the subset of it memory initialization
// consumes: Firmware-Volume discovery and pre-existing memory-
// allocation reservations.
package hob

import "github.com/patina-fw/dxecore/pkg/guid"

// Type identifies one HOB's shape, mirroring the UEFI PI specification's
// EFI_HOB_TYPE_* constants bit-exact (these values appear on the wire).
type Type uint16

const (
	TypeHandoff              Type = 0x0001
	TypeMemoryAllocation      Type = 0x0002
	TypeResourceDescriptor   Type = 0x0003
	TypeGUIDExtension        Type = 0x0004
	TypeFirmwareVolume       Type = 0x0005
	TypeCPU                  Type = 0x0006
	TypeMemoryPool           Type = 0x0007
	TypeFirmwareVolume2      Type = 0x0009
	TypeFirmwareVolume3      Type = 0x000C
	TypeUnused               Type = 0xFFFE
	TypeEndOfHobList         Type = 0xFFFF
)

// headerSize is EFI_HOB_GENERIC_HEADER: HobType(u16) HobLength(u16)
// Reserved(u32).
const headerSize = 8

// FirmwareVolume is an EFI_HOB_FIRMWARE_VOLUME.
type FirmwareVolume struct {
	BaseAddress uint64
	Length      uint64
}

// FirmwareVolume2 is an EFI_HOB_FIRMWARE_VOLUME2.
type FirmwareVolume2 struct {
	BaseAddress uint64
	Length      uint64
	FvName      guid.GUID
	FileName    guid.GUID
}

// FirmwareVolume3 is an EFI_HOB_FIRMWARE_VOLUME3.
type FirmwareVolume3 struct {
	BaseAddress          uint64
	Length               uint64
	AuthenticationStatus uint32
	ExtractedAsIs        bool
	FvName               guid.GUID
	FileName             guid.GUID
}

// MemoryAllocation is an EFI_HOB_MEMORY_ALLOCATION: a pre-existing
// reservation the DXE core must honor rather than hand back out.
type MemoryAllocation struct {
	Name        guid.GUID
	BaseAddress uint64
	Length      uint64
	MemoryType  uint32 // raw EFI_MEMORY_TYPE ordinal
}

// MemoryAllocationModule is an EFI_HOB_MEMORY_ALLOCATION_MODULE: a
// MemoryAllocation plus the PE/COFF module it holds.
type MemoryAllocationModule struct {
	MemoryAllocation
	ModuleName guid.GUID
	EntryPoint uint64
}

// MemoryTypeInfoEntry is one {Type, NumberOfPages} pair out of the
// memory-type-information GUID HOB's payload.
type MemoryTypeInfoEntry struct {
	MemoryType    uint32
	NumberOfPages uint32
}

// MemoryTypeInfoGUID names the GuidHob variant memory init consumes to
// seed each pool allocator's reserved-range hint.
var MemoryTypeInfoGUID = guid.MustParse("4c19049f-4137-4dd3-9c10-8b97a83ffdfa")

// List is the decoded, classified contents of a HOB list: only the
// variants memory init consumes are retained individually; everything
// else is counted in Skipped.
type List struct {
	FirmwareVolumes         []FirmwareVolume
	FirmwareVolumes2        []FirmwareVolume2
	FirmwareVolumes3        []FirmwareVolume3
	MemoryAllocations       []MemoryAllocation
	MemoryAllocationModules []MemoryAllocationModule
	MemoryTypeInfo          []MemoryTypeInfoEntry
	Skipped                 int
}
