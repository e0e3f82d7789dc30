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

// Package pool implements the fixed-size-block (FSB) pool allocator
// layered on top of the gcd package. One Allocator exists per active
// UEFI memory type, created lazily on first use and never destroyed.
package pool

import (
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/patina-fw/dxecore/gcd"
	"github.com/patina-fw/dxecore/pkg/status"
	"github.com/patina-fw/dxecore/pkg/tpl"
)

// BlockSizes are the ten free-list bucket sizes.
var BlockSizes = [10]uint64{8, 16, 32, 64, 128, 256, 512, 1024, 2048, 4096}

// MinExpansion is the minimum number of bytes requested from the GCD
// when the fallback allocator runs out of room.
const MinExpansion = 1 << 20

// PageSize4K and PageSize64K are the two page-allocation granularities
// the core uses; AArch64 runtime memory types use the 64 KiB
// granularity to accommodate OS page sizes of 16/64 KiB; everything
// else uses 4 KiB.
const (
	PageSize4K  = 4096
	PageSize64K = 65536
)

// blockIndex returns the smallest index i such that BlockSizes[i] >=
// need, or -1 if need exceeds the largest bucket.
func blockIndex(need uint64) int {
	for i, sz := range BlockSizes {
		if sz >= need {
			return i
		}
	}
	return -1
}

// Stats mirrors per-allocator statistics, fed into the
// process-wide memory-type-information table after every mutation.
type Stats struct {
	PoolAllocationCalls uint64
	PoolFreeCalls       uint64
	PageAllocationCalls uint64
	PageFreeCalls       uint64
	ReservedSize        uint64
	ReservedUsed        uint64
	ClaimedPages        uint64
}

type backingRegion struct {
	base      uint64
	length    uint64
	sub       *subAllocator
	reserved  bool
}

type allocState struct {
	freeLists [10][]uint64
	regions   []*backingRegion
	stats     Stats
}

// Allocator is the per-memory-type FSB pool allocator. Its backing
// pages always come from gcd.SystemMemory space; memType only
// identifies which UEFI EFI_MEMORY_TYPE this allocator's leases are
// reported as.
type Allocator struct {
	memType     Type
	owner       gcd.Handle
	granularity uint64
	gcdMap      *gcd.Map
	mu          *tpl.Mutex[allocState]
	logger      *zap.Logger
}

// New constructs an Allocator for memType, backed by gcdMap, owned by
// owner. If reservedPages > 0 a reserved range is carved up front via
// gcdMap.
func New(memType Type, gcdMap *gcd.Map, owner gcd.Handle, granularity uint64, reservedPages uint64, logger *zap.Logger) (*Allocator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Allocator{
		memType:     memType,
		owner:       owner,
		granularity: granularity,
		gcdMap:      gcdMap,
		mu:          tpl.NewMutex(tpl.HighLevel, allocState{}),
		logger:      logger.Named("pool." + memType.String()),
	}
	if reservedPages > 0 {
		size := reservedPages * granularity
		base, err := gcdMap.AllocateMemorySpace(gcd.BottomUp(0, false), gcd.SystemMemory, log2(granularity), size, owner, gcd.Unallocated)
		if err != nil {
			return nil, status.Wrap("pool.New", status.OutOfResources, err)
		}
		if err := gcdMap.FreeMemorySpacePreservingOwnership(base, size); err != nil {
			return nil, status.Wrap("pool.New", status.OutOfResources, err)
		}
		tpl.With(a.mu, func(st *allocState) {
			st.regions = append(st.regions, &backingRegion{base: base, length: size, sub: newSubAllocator(base, size), reserved: true})
			st.stats.ReservedSize = size
			st.stats.ClaimedPages += size / granularity
		})
	}
	return a, nil
}

func log2(v uint64) uint8 {
	var n uint8
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}

// Allocate satisfies a size/align pool allocation: a size-indexed
// free-list pop when a bucket fits, the fallback first-fit
// sub-allocator otherwise, expanding the backing from the GCD when
// even that comes up empty.
func (a *Allocator) Allocate(size, align uint64) (uint64, error) {
	if size == 0 {
		size = 1
	}
	need := size
	if align > need {
		need = align
	}

	return tpl.WithResult(a.mu, func(st *allocState) (uint64, error) {
		if idx := blockIndex(need); idx >= 0 {
			if n := len(st.freeLists[idx]); n > 0 {
				addr := st.freeLists[idx][n-1]
				st.freeLists[idx] = st.freeLists[idx][:n-1]
				st.stats.PoolAllocationCalls++
				a.updateReservedUsage(st)
				return addr, nil
			}
		}

		if addr, ok := a.tryFallback(st, size, align); ok {
			st.stats.PoolAllocationCalls++
			a.updateReservedUsage(st)
			return addr, nil
		}

		if err := a.expand(st, size, align); err != nil {
			return 0, err
		}
		addr, ok := a.tryFallback(st, size, align)
		if !ok {
			return 0, status.New("pool.Allocate", status.OutOfResources, "expansion did not yield a usable hole")
		}
		st.stats.PoolAllocationCalls++
		a.updateReservedUsage(st)
		return addr, nil
	})
}

func (a *Allocator) tryFallback(st *allocState, size, align uint64) (uint64, bool) {
	for _, r := range st.regions {
		if addr, ok := r.sub.alloc(size, align); ok {
			return addr, true
		}
	}
	return 0, false
}

func (a *Allocator) expand(st *allocState, size, align uint64) error {
	need := size + align + nodeHeaderOverhead
	if need < MinExpansion {
		need = MinExpansion
	}
	need = alignUp64(need, a.granularity)

	base, err := a.gcdMap.AllocateMemorySpace(gcd.BottomUp(0, false), gcd.SystemMemory, log2(a.granularity), need, a.owner, gcd.Unallocated)
	if err != nil {
		return status.Wrap("pool.expand", status.OutOfResources, err)
	}
	st.regions = append(st.regions, &backingRegion{base: base, length: need, sub: newSubAllocator(base, need)})
	st.stats.PageAllocationCalls++
	st.stats.ClaimedPages += need / a.granularity
	a.logger.Debug("expanded pool backing region",
		zap.Uint64("base", base), zap.String("size", humanize.Bytes(need)))
	return nil
}

// Free releases an address previously returned by Allocate for a
// layout of the given size. Routing is by size alone: a size that fits
// a bucket goes onto that bucket's free list, a larger one back to the
// owning sub-allocator. An address outside every backing region of this
// allocator is rejected with NotFound.
func (a *Allocator) Free(addr, size uint64) error {
	if size == 0 {
		size = 1
	}
	return tpl.WithErr(a.mu, func(st *allocState) error {
		var owner *backingRegion
		for _, r := range st.regions {
			if addr >= r.base && addr < r.base+r.length {
				owner = r
				break
			}
		}
		if owner == nil {
			return status.New("pool.Free", status.NotFound, "address not owned by this allocator")
		}
		if idx := blockIndex(size); idx >= 0 {
			st.freeLists[idx] = append(st.freeLists[idx], addr)
		} else {
			owner.sub.free(addr, size)
		}
		st.stats.PoolFreeCalls++
		a.updateReservedUsage(st)
		return nil
	})
}

// updateReservedUsage recomputes ReservedUsed from the reserved
// region's remaining free bytes and publishes ClaimedPages into the
// process-wide memory-type-information table.
func (a *Allocator) updateReservedUsage(st *allocState) {
	for _, r := range st.regions {
		if !r.reserved {
			continue
		}
		free := r.sub.freeBytes()
		if free > st.stats.ReservedSize {
			free = st.stats.ReservedSize
		}
		st.stats.ReservedUsed = st.stats.ReservedSize - free
	}
	globalInfoTable.set(a.memType, st.stats.ClaimedPages)
}

// StatsSnapshot returns a copy of the allocator's current statistics.
func (a *Allocator) StatsSnapshot() Stats {
	s, _ := tpl.WithResult(a.mu, func(st *allocState) (Stats, error) {
		return st.stats, nil
	})
	return s
}
