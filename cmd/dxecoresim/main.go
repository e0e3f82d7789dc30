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

// Command dxecoresim boots a DXE core against a firmware volume file on
// disk and prints the resulting memory map and FV file listing. It
// exercises core.New/core.Init end to end without requiring real
// firmware hardware.
package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/patina-fw/dxecore/core"
	"github.com/patina-fw/dxecore/gcd"
	"github.com/patina-fw/dxecore/perf"
)

// sizeFlag is a pflag.Value accepting human-readable byte sizes
// ("256MB", "1GiB") for the simulated system-memory region.
type sizeFlag uint64

func (s *sizeFlag) String() string { return humanize.Bytes(uint64(*s)) }

func (s *sizeFlag) Set(v string) error {
	n, err := humanize.ParseBytes(v)
	if err != nil {
		return err
	}
	*s = sizeFlag(n)
	return nil
}

func (s *sizeFlag) Type() string { return "size" }

var _ pflag.Value = (*sizeFlag)(nil)

// simMemory is a trivial core.MemoryImage backed by one contiguous byte
// slice anchored at a base address, standing in for the memory-mapped
// flash access real firmware gets for free.
type simMemory struct {
	anchor uint64
	data   []byte
}

func (m simMemory) ReadAt(base, length uint64) ([]byte, error) {
	if base < m.anchor || base+length > m.anchor+uint64(len(m.data)) {
		return nil, fmt.Errorf("dxecoresim: read [%#x, %#x) outside simulated image", base, base+length)
	}
	off := base - m.anchor
	return m.data[off : off+length], nil
}

// systemMemoryBase and fvLoadAddress lay out the simulator's one
// fabricated system-memory region: 256 MiB of SystemMemory starting at
// 0, with the firmware volume loaded 1 MiB in (page-aligned, clear of
// the null-page reservation core.Init always makes).
const (
	systemMemoryBase = 0
	systemMemorySize = 256 << 20
	fvLoadAddress    = 1 << 20
)

func newRootCommand() *cobra.Command {
	var fvPath string
	var devMode bool
	memSize := sizeFlag(systemMemorySize)

	root := &cobra.Command{
		Use:   "dxecoresim",
		Short: "Boot a DXE core against an on-disk firmware volume",
		Long: `dxecoresim loads a firmware volume file, boots a DXE core against it
via the same core.New/core.Init path real platform code drives, and
prints the resulting UEFI memory map and the firmware volume's file
listing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSim(fvPath, devMode, uint64(memSize))
		},
	}
	root.Flags().StringVar(&fvPath, "fv", "", "path to a firmware volume (.fv) file (required)")
	root.Flags().BoolVar(&devMode, "dev", false, "use a development (console) logger instead of JSON")
	root.Flags().Var(&memSize, "mem", "simulated system memory size (e.g. 256MB)")
	_ = root.MarkFlagRequired("fv")
	return root
}

func runSim(fvPath string, devMode bool, memSize uint64) error {
	logger, err := newLogger(devMode)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	fvBytes, err := os.ReadFile(fvPath)
	if err != nil {
		return fmt.Errorf("dxecoresim: reading %s: %w", fvPath, err)
	}

	if memSize < fvLoadAddress+uint64(len(fvBytes)) {
		return fmt.Errorf("dxecoresim: --mem %s is too small to hold the firmware volume", humanize.Bytes(memSize))
	}
	memSize &^= gcd.PageSize - 1

	image := simMemory{
		anchor: systemMemoryBase,
		data:   make([]byte, memSize),
	}
	copy(image.data[fvLoadAddress:], fvBytes)

	c := core.New(core.WithLogger(logger))

	systemMemory := []core.SystemMemoryRegion{{
		BaseAddress:  systemMemoryBase,
		Length:       memSize,
		Capabilities: gcd.CapWB | gcd.CapWC,
	}}
	basicBoot := perf.BasicBootRecord{}

	hobData := buildHOBList(fvLoadAddress, uint64(len(fvBytes)))
	if err := c.Init(hobData, image, systemMemory, basicBoot); err != nil {
		return fmt.Errorf("dxecoresim: core.Init: %w", err)
	}

	printMemoryMap(c)
	printFirmwareVolumes(c)
	return nil
}

func newLogger(devMode bool) (*zap.Logger, error) {
	if devMode {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func printMemoryMap(c *core.Core) {
	entries, mapKey := c.GetMemoryMap()
	fmt.Printf("memory map (map_key=%#08x, %d entries):\n", mapKey, len(entries))
	for _, e := range entries {
		fmt.Printf("  type=%-2d  base=%#012x  pages=%-8d (%s)\n",
			e.Type, e.PhysicalStart, e.NumberOfPages, humanize.Bytes(e.NumberOfPages*gcd.PageSize))
	}
}

func printFirmwareVolumes(c *core.Core) {
	for _, installed := range c.FirmwareVolumes() {
		fmt.Printf("\nfirmware volume at %#x (%s):\n", installed.Volume.BaseAddress(), humanize.Bytes(installed.Volume.Header.FvLength))
		for _, f := range installed.Volume.Files() {
			fmt.Printf("  file %s  type=%#02x  size=%d\n", f.Name, f.Type, f.Size)
		}
	}
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
