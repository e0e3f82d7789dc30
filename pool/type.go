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

package pool

import "fmt"

// Type is the UEFI EFI_MEMORY_TYPE a pool/page allocation is made as
// (not to be confused with gcd.MemoryType, which classifies address
// space itself). One Allocator exists per active Type.
// Every Type's backing pages are carved from gcd.SystemMemory space;
// Type only distinguishes the allocator instance and its statistics
// bucket in the memory-type-information table.
type Type int

const (
	LoaderCode Type = iota
	LoaderData
	BootServicesCode
	BootServicesData
	RuntimeServicesCode
	RuntimeServicesData
	ACPIReclaimMemory
	ACPIMemoryNVS
	ConventionalMemory
)

func (t Type) String() string {
	switch t {
	case LoaderCode:
		return "LoaderCode"
	case LoaderData:
		return "LoaderData"
	case BootServicesCode:
		return "BootServicesCode"
	case BootServicesData:
		return "BootServicesData"
	case RuntimeServicesCode:
		return "RuntimeServicesCode"
	case RuntimeServicesData:
		return "RuntimeServicesData"
	case ACPIReclaimMemory:
		return "ACPIReclaimMemory"
	case ACPIMemoryNVS:
		return "ACPIMemoryNVS"
	case ConventionalMemory:
		return "ConventionalMemory"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// IsRuntime reports whether t is consulted by the OS after
// SetVirtualAddressMap, and therefore (on AArch64) must use the 64 KiB
// page-allocation granularity.
func (t Type) IsRuntime() bool {
	switch t {
	case RuntimeServicesCode, RuntimeServicesData, ACPIMemoryNVS:
		return true
	default:
		return false
	}
}

// WellKnownTypes are the allocator instances the core creates eagerly
// at init; any other Type still gets one lazily on first use.
var WellKnownTypes = []Type{
	LoaderCode, LoaderData,
	BootServicesCode, BootServicesData,
	RuntimeServicesCode, RuntimeServicesData,
}
