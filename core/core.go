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

// Package core wires the subsystems (gcd, pool, event, handledb,
// driver, fv, perf) into the process-wide singleton set a DXE core
// boots with, exposes the Boot Services function table external
// drivers call through, and drives HOB-based initialization.
//
// Every one of these singletons is created once at New/Init and never
// destroyed: a DXE core has no config reload or restart path, so there
// is exactly one live instance per boot and it runs until
// ExitBootServices is called.
package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/patina-fw/dxecore/driver"
	"github.com/patina-fw/dxecore/event"
	"github.com/patina-fw/dxecore/fv"
	"github.com/patina-fw/dxecore/fv/sectionextract"
	"github.com/patina-fw/dxecore/gcd"
	"github.com/patina-fw/dxecore/handledb"
	"github.com/patina-fw/dxecore/pkg/guid"
	"github.com/patina-fw/dxecore/pkg/status"
	"github.com/patina-fw/dxecore/perf"
	"github.com/patina-fw/dxecore/pool"
)

// InstalledFV is one firmware volume the core has parsed and published
// protocols for. Firmware volumes are installed once per boot and
// never removed.
type InstalledFV struct {
	Handle    gcd.Handle
	Volume    *fv.Volume
	FVB       *fv.FVBProtocol
	FV        *fv.FVProtocol
	DevicePath []byte
}

// Core holds every process-wide singleton a DXE core needs: the GCD
// memory and IO maps, the per-memory-type pool allocator registry, the
// event database, the handle/protocol database, the driver
// connect/disconnect manager, the installed firmware volumes, and the
// boot performance table. One Core exists per boot.
type Core struct {
	Logger *zap.Logger
	Metrics *prometheus.Registry

	GCD   *gcd.Map
	IO    *gcd.IoMap
	Pools *pool.Registry

	Events   *event.Database
	Handles  *handledb.Database
	Drivers  *driver.Manager
	Extractor *sectionextract.Extractor

	Perf        *perf.Table
	VarStore    perf.VariableStore
	perfAddress uint64

	// Handle is the core's own identity, used as the GCD/pool owner for
	// allocations the core makes on its own behalf (reserved ranges, the
	// null page, the FBPT) rather than on behalf of a driver.
	Handle gcd.Handle

	// poolOwners maps each well-known allocator's GCD owner handle back
	// to its pool.Type, so GetMemoryMap can classify SystemMemory
	// descriptors by EFI_MEMORY_TYPE instead of by raw ownership.
	poolOwners map[gcd.Handle]pool.Type

	fvs []*InstalledFV
}

// Option configures New.
type Option func(*config)

type config struct {
	logger         *zap.Logger
	aarch64Runtime bool
	memoryTypeHints []pool.MemoryTypeHint
	varStore       perf.VariableStore
}

// WithLogger overrides the default no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithAArch64Runtime enables the 64 KiB page-allocation granularity
// AArch64 requires for runtime memory types, instead of the default
// 4 KiB.
func WithAArch64Runtime() Option {
	return func(c *config) { c.aarch64Runtime = true }
}

// WithMemoryTypeHints seeds each pool allocator's reserved-range hint,
// normally derived from a GuidHob (hob.List.MemoryTypeHints).
func WithMemoryTypeHints(hints []pool.MemoryTypeHint) Option {
	return func(c *config) { c.memoryTypeHints = hints }
}

// WithVariableStore supplies the non-volatile variable store the FBPT
// uses to recall its address across boots. Defaults to an in-memory
// stand-in when omitted.
func WithVariableStore(s perf.VariableStore) Option {
	return func(c *config) { c.varStore = s }
}

// New constructs every process-wide singleton, wires the event
// database into the TPL dispatcher, and registers the default section
// decompression codecs. It does not yet know about any memory or
// firmware volumes; call Init to ingest a HOB list.
func New(opts ...Option) *Core {
	cfg := config{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger

	gcdMap := gcd.NewMap(logger)
	ioMap := gcd.NewIoMap(logger)
	pools := pool.NewRegistry(gcdMap, cfg.memoryTypeHints, cfg.aarch64Runtime, logger)
	events := event.NewDatabase(logger)
	events.Install()
	handles := handledb.New(logger)
	drivers := driver.NewManager(handles, logger)
	extractor := sectionextract.New()
	sectionextract.RegisterDefaultCodecs(extractor)

	varStore := cfg.varStore
	if varStore == nil {
		varStore = perf.NewMemStore()
	}

	c := &Core{
		Logger:    logger,
		Metrics:   prometheus.NewRegistry(),
		GCD:       gcdMap,
		IO:        ioMap,
		Pools:     pools,
		Events:    events,
		Handles:   handles,
		Drivers:   drivers,
		Extractor: extractor,
		VarStore:  varStore,
	}
	c.Handle = c.Handles.NewHandle()
	c.poolOwners = make(map[gcd.Handle]pool.Type)

	c.Metrics.MustRegister(
		events.Collector(),
		handles.Collector(),
		pool.Collector(),
	)

	return c
}

// FirmwareVolumes returns every FV installed so far, in install order.
func (c *Core) FirmwareVolumes() []*InstalledFV {
	out := make([]*InstalledFV, len(c.fvs))
	copy(out, c.fvs)
	return out
}

// FindFile searches every installed FV for a file with the given name,
// returning the first match.
func (c *Core) FindFile(name guid.GUID) (*InstalledFV, error) {
	for _, installed := range c.fvs {
		if _, err := installed.Volume.FindFile(name); err == nil {
			return installed, nil
		}
	}
	return nil, status.New("core.FindFile", status.NotFound, "no installed firmware volume carries this file")
}
