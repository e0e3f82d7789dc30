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
	"hash/crc32"
	"sync"

	"github.com/patina-fw/dxecore/event"
	"github.com/patina-fw/dxecore/gcd"
	"github.com/patina-fw/dxecore/handledb"
	"github.com/patina-fw/dxecore/pkg/guid"
	"github.com/patina-fw/dxecore/pkg/status"
	"github.com/patina-fw/dxecore/pkg/tpl"
	"github.com/patina-fw/dxecore/pool"
)

// AllocateType selects AllocatePages' placement strategy, numbered to
// match the UEFI EFI_ALLOCATE_TYPE ordinals and translated to a
// gcd.Strategy by AllocatePages.
type AllocateType int

const (
	AllocateAnyPages AllocateType = iota
	AllocateMaxAddress
	AllocateAddress
)

// BootServicesTable is the set of function pointers a DXE core hands
// out to drivers and the OS loader before ExitBootServices.
// Every field is bound by NewBootServicesTable to this Core's
// subsystems; signatures follow the UEFI 2.10 Boot Services table
// grouping (Task Priority, Memory, Event & Timer, Protocol Handler,
// Image, and Miscellaneous Services) translated into idiomatic Go
// (explicit error returns, no raw pointers).
//
// Image services (LoadImage/StartImage/Exit/UnloadImage) are stubs:
// the PE/COFF image loader is an external collaborator out of scope
// for this module, so those fields return status.Unsupported
// rather than performing real image activation.
type BootServicesTable struct {
	// Task Priority Services
	RaiseTPL   func(newTPL tpl.Level) tpl.Level
	RestoreTPL func(oldTPL tpl.Level)

	// Memory Services
	AllocatePages func(kind AllocateType, memType pool.Type, pages uint64, address uint64) (uint64, error)
	FreePages     func(address, pages uint64) error
	GetMemoryMap  func() (entries []MemoryMapEntry, mapKey uint32)
	AllocatePool  func(memType pool.Type, size uint64) (uint64, error)
	FreePool      func(address uint64) error

	// Event & Timer Services
	CreateEvent  func(typ event.Type, notifyTPL tpl.Level, notifyFn event.NotifyFunc, ctx any, group *guid.GUID) (event.ID, error)
	SetTimer     func(id event.ID, kind event.TimerKind, triggerTime, period *uint64) error
	WaitForEvent func(events []event.ID) (int, error)
	SignalEvent  func(id event.ID) error
	CloseEvent   func(id event.ID) error
	CheckEvent   func(id event.ID) (bool, error)

	// Protocol Handler Services
	InstallProtocolInterface   func(handle gcd.Handle, protocolGUID guid.GUID, iface any) (gcd.Handle, error)
	ReinstallProtocolInterface func(handle gcd.Handle, protocolGUID guid.GUID, newIface any) error
	UninstallProtocolInterface func(handle gcd.Handle, protocolGUID guid.GUID) error
	HandleProtocol             func(handle gcd.Handle, protocolGUID guid.GUID) (any, error)
	RegisterProtocolNotify     func(protocolGUID guid.GUID) (handledb.Registration, error)
	LocateHandle               func(key handledb.SearchKey, protocolGUID guid.GUID, reg handledb.Registration) ([]gcd.Handle, error)
	LocateHandleBuffer         func(key handledb.SearchKey, protocolGUID guid.GUID, reg handledb.Registration) ([]gcd.Handle, error)
	LocateProtocol             func(protocolGUID guid.GUID, reg handledb.Registration) (any, error)
	OpenProtocol               func(handle gcd.Handle, protocolGUID guid.GUID, agent, controller gcd.Handle, attrs handledb.Attribute) (any, error)
	CloseProtocol              func(handle gcd.Handle, protocolGUID guid.GUID, agent, controller gcd.Handle) error
	OpenProtocolInformation    func(handle gcd.Handle, protocolGUID guid.GUID) ([]handledb.Usage, error)
	ProtocolsPerHandle         func(handle gcd.Handle) ([]guid.GUID, error)

	// Image Services (external collaborator boundary)
	LoadImage   func(devicePath []byte, sourceBuffer []byte) (gcd.Handle, error)
	StartImage  func(imageHandle gcd.Handle) error
	Exit        func(imageHandle gcd.Handle, exitStatus status.Code) error
	UnloadImage func(imageHandle gcd.Handle) error

	// Miscellaneous Services
	ExitBootServices     func(imageHandle gcd.Handle, mapKey uint32) error
	SetWatchdogTimer     func(timeout uint64) error
	ConnectController    func(controller gcd.Handle, drivers []gcd.Handle, remainingPath []byte, recursive bool) error
	DisconnectController func(controller gcd.Handle, driver, child gcd.Handle) error
	CalculateCrc32       func(data []byte) uint32
}

// poolAllocation tracks the size an AllocatePool call leased, since
// UEFI's FreePool (unlike this module's pool.Allocator.Free) takes
// only an address; the size is the header a real sub-allocator would
// keep inline.
type poolAllocation struct {
	memType pool.Type
	size    uint64
}

// bootServicesState closes over the bookkeeping NewBootServicesTable's
// closures need but that does not belong on Core itself (it exists only
// to make FreePool and ExitBootServices possible without an inline
// allocation header).
type bootServicesState struct {
	mu         sync.Mutex
	poolAllocs map[uint64]poolAllocation
	exitedBoot bool
}

// NewBootServicesTable builds the Boot Services function table for c,
// binding every field to c's subsystems.
func NewBootServicesTable(c *Core) *BootServicesTable {
	st := &bootServicesState{poolAllocs: make(map[uint64]poolAllocation)}

	t := &BootServicesTable{}

	t.RaiseTPL = tpl.Raise
	t.RestoreTPL = tpl.Restore

	t.AllocatePages = func(kind AllocateType, memType pool.Type, pages uint64, address uint64) (uint64, error) {
		granularity := uint64(pool.PageSize4K)
		length := pages * granularity
		var strategy gcd.Strategy
		switch kind {
		case AllocateAddress:
			strategy = gcd.AtAddress(address)
		case AllocateMaxAddress:
			strategy = gcd.BottomUp(address, true)
		default:
			strategy = gcd.Any()
		}
		owner := c.Handles.NewHandle()
		c.poolOwners[owner] = memType
		return c.GCD.AllocateMemorySpace(strategy, gcd.SystemMemory, 0, length, owner, gcd.Unallocated)
	}
	t.FreePages = func(address, pages uint64) error {
		return c.GCD.FreeMemorySpace(address, pages*pool.PageSize4K)
	}
	t.GetMemoryMap = c.GetMemoryMap
	t.AllocatePool = func(memType pool.Type, size uint64) (uint64, error) {
		owner := c.Handles.NewHandle()
		alloc, err := c.Pools.Get(memType, owner)
		if err != nil {
			return 0, err
		}
		addr, err := alloc.Allocate(size, 8)
		if err != nil {
			return 0, err
		}
		st.mu.Lock()
		st.poolAllocs[addr] = poolAllocation{memType: memType, size: size}
		st.mu.Unlock()
		return addr, nil
	}
	t.FreePool = func(address uint64) error {
		st.mu.Lock()
		rec, ok := st.poolAllocs[address]
		if ok {
			delete(st.poolAllocs, address)
		}
		st.mu.Unlock()
		if !ok {
			return status.New("core.FreePool", status.NotFound, "address was not leased by AllocatePool")
		}
		alloc, err := c.Pools.Get(rec.memType, c.Handle)
		if err != nil {
			return err
		}
		return alloc.Free(address, rec.size)
	}

	t.CreateEvent = c.Events.CreateEvent
	t.SetTimer = c.Events.SetTimer
	t.SignalEvent = c.Events.SignalEvent
	t.CloseEvent = c.Events.CloseEvent
	t.CheckEvent = c.Events.IsSignaled
	t.WaitForEvent = func(events []event.ID) (int, error) {
		if len(events) == 0 {
			return 0, status.New("core.WaitForEvent", status.InvalidParameter, "no events supplied")
		}
		// Single-processor cooperative model: nothing can signal an event
		// while this function holds the flow of control, so a true block
		// would never wake. One scan, then NotReady, and the caller (who
		// owns the timer-tick loop) retries.
		for i, id := range events {
			signaled, err := c.Events.ReadAndClearSignaled(id)
			if err != nil {
				return 0, err
			}
			if signaled {
				return i, nil
			}
		}
		return 0, status.New("core.WaitForEvent", status.NotReady, "no supplied event is signaled")
	}

	t.InstallProtocolInterface = c.Handles.InstallProtocolInterface
	t.ReinstallProtocolInterface = c.Handles.ReinstallProtocolInterface
	t.UninstallProtocolInterface = c.Handles.UninstallProtocolInterface
	t.HandleProtocol = c.Handles.HandleProtocol
	t.RegisterProtocolNotify = c.Handles.RegisterProtocolNotify
	t.LocateHandle = c.Handles.LocateHandle
	t.LocateHandleBuffer = c.Handles.LocateHandleBuffer // UEFI's buffer-returning sibling of LocateHandle
	t.LocateProtocol = c.Handles.LocateProtocol
	t.OpenProtocol = c.Handles.OpenProtocol
	t.CloseProtocol = c.Handles.CloseProtocol
	t.OpenProtocolInformation = func(handle gcd.Handle, protocolGUID guid.GUID) ([]handledb.Usage, error) {
		return c.Handles.UsagesOf(handle, protocolGUID)
	}
	t.ProtocolsPerHandle = c.Handles.ProtocolsOnHandle

	t.LoadImage = func(devicePath []byte, sourceBuffer []byte) (gcd.Handle, error) {
		return gcd.Unallocated, status.New("core.LoadImage", status.Unsupported, "PE/COFF image loading is not provided by this core")
	}
	t.StartImage = func(gcd.Handle) error {
		return status.New("core.StartImage", status.Unsupported, "PE/COFF image loading is not provided by this core")
	}
	t.Exit = func(gcd.Handle, status.Code) error {
		return status.New("core.Exit", status.Unsupported, "PE/COFF image loading is not provided by this core")
	}
	t.UnloadImage = func(gcd.Handle) error {
		return status.New("core.UnloadImage", status.Unsupported, "PE/COFF image loading is not provided by this core")
	}

	t.ExitBootServices = func(imageHandle gcd.Handle, mapKey uint32) error {
		st.mu.Lock()
		defer st.mu.Unlock()
		_, currentKey := c.GetMemoryMap()
		if currentKey != mapKey {
			return status.New("core.ExitBootServices", status.InvalidParameter, "stale map_key")
		}
		if st.exitedBoot {
			return status.New("core.ExitBootServices", status.AlreadyStarted, "boot services already exited")
		}
		st.exitedBoot = true
		if err := c.Events.SignalGroup(event.GroupExitBootServices); err != nil {
			return err
		}
		return nil
	}
	t.SetWatchdogTimer = func(uint64) error { return nil }
	t.ConnectController = c.Drivers.Connect
	t.DisconnectController = c.Drivers.Disconnect
	t.CalculateCrc32 = crc32Of

	return t
}

// crc32Of is bound to CalculateCrc32; kept as a tiny named function
// rather than an inline closure so it shows up by name in profiles.
func crc32Of(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
