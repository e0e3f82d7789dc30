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

import (
	"sync"

	"go.uber.org/zap"

	"github.com/patina-fw/dxecore/gcd"
)

// MemoryTypeHint is the platform reserved-page hint for one memory
// type, normally seeded from the GuidHob memory-type-information HOB.
type MemoryTypeHint struct {
	MemoryType    Type
	ReservedPages uint64
}

// Registry lazily creates and holds the one Allocator instance per
// active memory type: created on first allocation of that type and
// never destroyed. The six well-known allocators (LoaderCode,
// LoaderData, BootServicesCode, BootServicesData, RuntimeServicesCode,
// RuntimeServicesData) are the usual callers, but any Type can get an
// allocator on demand.
type Registry struct {
	mu         sync.Mutex
	allocators map[Type]*Allocator
	gcdMap     *gcd.Map
	hints      map[Type]uint64
	aarch64    bool
	logger     *zap.Logger
}

// NewRegistry constructs a Registry over gcdMap. aarch64Runtime controls
// whether runtime-services memory types use the 64 KiB AArch64
// granularity instead of 4 KiB.
func NewRegistry(gcdMap *gcd.Map, hints []MemoryTypeHint, aarch64Runtime bool, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := make(map[Type]uint64, len(hints))
	for _, hint := range hints {
		h[hint.MemoryType] = hint.ReservedPages
	}
	return &Registry{
		allocators: make(map[Type]*Allocator),
		gcdMap:     gcdMap,
		hints:      h,
		aarch64:    aarch64Runtime,
		logger:     logger,
	}
}

func (r *Registry) granularityFor(memType Type) uint64 {
	if r.aarch64 && memType.IsRuntime() {
		return PageSize64K
	}
	return PageSize4K
}

// Get returns the allocator for memType, creating it (with owner as its
// GCD owner handle) on first use.
func (r *Registry) Get(memType Type, owner gcd.Handle) (*Allocator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.allocators[memType]; ok {
		return a, nil
	}
	a, err := New(memType, r.gcdMap, owner, r.granularityFor(memType), r.hints[memType], r.logger)
	if err != nil {
		return nil, err
	}
	r.allocators[memType] = a
	return a, nil
}

// Allocators returns a snapshot slice of every allocator created so
// far, in no particular order; used by the core's memory-map builder.
func (r *Registry) Allocators() []*Allocator {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Allocator, 0, len(r.allocators))
	for _, a := range r.allocators {
		out = append(out, a)
	}
	return out
}
