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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/patina-fw/dxecore/driver"
	"github.com/patina-fw/dxecore/fv"
	"github.com/patina-fw/dxecore/gcd"
	"github.com/patina-fw/dxecore/hob"
	"github.com/patina-fw/dxecore/perf"
	"github.com/patina-fw/dxecore/pkg/guid"
	"github.com/patina-fw/dxecore/pkg/status"
	"github.com/patina-fw/dxecore/pool"
)

// Well-known protocol GUIDs this package installs on every firmware
// volume handle. Values are placeholders stable within
// this module, matching the style of driver.BindingProtocol and its
// siblings.
var (
	fvbProtocolGUID         = guid.MustParse("fe307545-ac53-49ad-86b5-4c0e8fb98a5d")
	fvProtocolGUID          = guid.MustParse("389f751f-1838-4388-8390-cd8154bd27f8")
	devicePathProtocolGUID  = driver.DevicePathProtocol
)

// SystemMemoryRegion describes one range of physical RAM the platform
// hands the core. Real firmware learns this from EFI_HOB_RESOURCE_DESCRIPTOR
// HOBs; this module's hob package decodes only the HOB variants memory
// init actually consumes, so callers supply the equivalent ranges
// directly (see DESIGN.md).
type SystemMemoryRegion struct {
	BaseAddress  uint64
	Length       uint64
	Capabilities gcd.Capability
}

// MemoryImage resolves a physical address range to its backing bytes,
// standing in for the memory-mapped access real firmware gets for
// free. A firmware-volume HOB names only a
// base address and length; this is how Init turns that into the bytes
// fv.Parse needs.
type MemoryImage interface {
	ReadAt(base, length uint64) ([]byte, error)
}

// foundFV is one HOB-named firmware volume location, the unit of work
// the parallel parse stage operates on.
type foundFV struct {
	base uint64
}

func collectFVLocations(l *hob.List) []foundFV {
	var out []foundFV
	for _, f := range l.FirmwareVolumes {
		out = append(out, foundFV{base: f.BaseAddress})
	}
	for _, f := range l.FirmwareVolumes2 {
		out = append(out, foundFV{base: f.BaseAddress})
	}
	for _, f := range l.FirmwareVolumes3 {
		out = append(out, foundFV{base: f.BaseAddress})
	}
	return out
}

// Init ingests a HOB list, populates the GCD from the platform-supplied
// system memory ranges, reserves pre-existing allocations and the null
// page, parses every firmware volume the HOBs name, installs its
// FVB/FV/device-path protocols, and publishes the boot performance
// table. It is called exactly once, after New.
func (c *Core) Init(hobData []byte, image MemoryImage, systemMemory []SystemMemoryRegion, basicBoot perf.BasicBootRecord) error {
	list, err := hob.Parse(hobData)
	if err != nil {
		return status.Wrap("core.Init", status.DeviceError, err)
	}

	for _, r := range systemMemory {
		if err := c.GCD.AddMemorySpace(gcd.SystemMemory, r.BaseAddress, r.Length, r.Capabilities); err != nil {
			return status.Wrap("core.Init", status.DeviceError, err)
		}
	}

	if err := list.ReserveMemoryAllocations(c.GCD, c.Handle, c.Logger); err != nil {
		return status.Wrap("core.Init", status.DeviceError, err)
	}
	if err := hob.ReserveNullPage(c.GCD, c.Handle); err != nil {
		return status.Wrap("core.Init", status.DeviceError, err)
	}

	for _, t := range pool.WellKnownTypes {
		owner := c.Handles.NewHandle()
		if _, err := c.Pools.Get(t, owner); err != nil {
			return status.Wrap("core.Init", status.OutOfResources, err)
		}
		c.poolOwners[owner] = t
	}

	if err := c.installFirmwareVolumes(list, image); err != nil {
		return err
	}

	if err := c.publishPerformanceTable(basicBoot); err != nil {
		return err
	}

	return nil
}

// installFirmwareVolumes parses every HOB-named FV concurrently (each
// fv.Parse call is a pure function over its own byte slice with no
// shared state), then installs their protocols one at a time, since
// the handle/protocol database and GCD map are guarded by the core's
// single-processor ceiling-protocol mutexes and were never meant to be
// entered from more than one logical flow at once.
func (c *Core) installFirmwareVolumes(list *hob.List, image MemoryImage) error {
	locations := collectFVLocations(list)
	if len(locations) == 0 {
		return nil
	}

	volumes := make([]*fv.Volume, len(locations))
	var g errgroup.Group
	for i, loc := range locations {
		i, loc := i, loc
		g.Go(func() error {
			v, err := c.parseFVAt(image, loc.base)
			if err != nil {
				return err
			}
			volumes[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return status.Wrap("core.installFirmwareVolumes", status.VolumeCorrupted, err)
	}

	for _, v := range volumes {
		if v == nil {
			continue
		}
		if err := c.installFV(v); err != nil {
			return err
		}
	}
	return nil
}

func (c *Core) parseFVAt(image MemoryImage, base uint64) (*fv.Volume, error) {
	header, err := image.ReadAt(base, fv.HeaderBaseSize)
	if err != nil {
		return nil, err
	}
	if len(header) < fv.HeaderBaseSize {
		return nil, status.New("core.parseFVAt", status.VolumeCorrupted, "short read for FV header")
	}
	// FvLength lives at a fixed offset within the fixed header region;
	// a second read pulls the whole declared image now that its length
	// is known.
	length := binary.LittleEndian.Uint64(header[32:40])
	full, err := image.ReadAt(base, length)
	if err != nil {
		return nil, err
	}
	v, err := fv.Parse(full)
	if err != nil {
		return nil, err
	}
	v.SetBaseAddress(base)
	return v, nil
}

// installFV claims v's address range in the GCD under a dedicated
// handle, then installs its FVB, FV, and device-path protocols on that
// handle.
func (c *Core) installFV(v *fv.Volume) error {
	handle := c.Handles.NewHandle()

	// The claim is page-granular even when the FV's declared length is
	// not: the GCD only tracks whole pages.
	claimBase := v.BaseAddress() &^ (gcd.PageSize - 1)
	claimEnd := (v.EndAddress() + gcd.PageSize - 1) &^ uint64(gcd.PageSize-1)
	if _, err := c.GCD.AllocateMemorySpace(gcd.AtAddress(claimBase), gcd.SystemMemory, 0, claimEnd-claimBase, handle, gcd.Unallocated); err != nil {
		// Already-claimed ranges (e.g. described redundantly by both a
		// resource descriptor and an FV HOB) and volumes living in
		// unmapped flash are not errors; the FV is still parsed and
		// published over whatever ownership exists.
		if !status.Is(err, status.AccessDenied) && !status.Is(err, status.NotFound) {
			return status.Wrap("core.installFV", status.DeviceError, err)
		}
	}

	fvb := fv.NewFVBProtocol(v)
	fvProto := fv.NewFVProtocol(v, c.Extractor, v.Header.Attributes)
	devicePath := v.DevicePath()

	if _, err := c.Handles.InstallProtocolInterface(handle, fvbProtocolGUID, fvb); err != nil {
		return status.Wrap("core.installFV", status.DeviceError, err)
	}
	if _, err := c.Handles.InstallProtocolInterface(handle, fvProtocolGUID, fvProto); err != nil {
		return status.Wrap("core.installFV", status.DeviceError, err)
	}
	if _, err := c.Handles.InstallProtocolInterface(handle, devicePathProtocolGUID, devicePath); err != nil {
		return status.Wrap("core.installFV", status.DeviceError, err)
	}

	c.fvs = append(c.fvs, &InstalledFV{Handle: handle, Volume: v, FVB: fvb, FV: fvProto, DevicePath: devicePath})
	c.Logger.Info("installed firmware volume",
		zap.Uint64("base", v.BaseAddress()),
		zap.Uint64("length", v.Header.FvLength),
		zap.Int("files", len(v.Files())))
	return nil
}

// publishPerformanceTable builds and publishes the FBPT, recalling its
// prior address from the variable store when one is recorded.
func (c *Core) publishPerformanceTable(basicBoot perf.BasicBootRecord) error {
	table := perf.NewTable(basicBoot)
	prevAddr := perf.FindPreviousTableAddress(c.VarStore)
	addr, err := perf.Publish(c.GCD, c.Handle, table, prevAddr)
	if err != nil {
		return status.Wrap("core.publishPerformanceTable", status.OutOfResources, err)
	}
	if err := perf.RecordTableAddress(c.VarStore, addr); err != nil {
		return status.Wrap("core.publishPerformanceTable", status.DeviceError, err)
	}
	c.Perf = table
	c.perfAddress = addr
	return nil
}

// PerfTableAddress returns the address the FBPT was last published at.
func (c *Core) PerfTableAddress() uint64 { return c.perfAddress }
