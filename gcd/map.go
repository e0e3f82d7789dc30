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

package gcd

import (
	"sort"

	"go.uber.org/zap"

	"github.com/patina-fw/dxecore/internal/rbtree"
	"github.com/patina-fw/dxecore/pkg/status"
	"github.com/patina-fw/dxecore/pkg/tpl"
)

// AddressSpaceLimit bounds the modeled address space, matching the
// 48-bit physical address space the map models.
const AddressSpaceLimit = uint64(1) << 48

func cmpU64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

type memState struct {
	tree *rbtree.Tree[uint64, Descriptor]
}

// Map is the GCD memory-space map: a single process-wide singleton
// guarded by a TplMutex ceilinged at HighLevel.
type Map struct {
	mu     *tpl.Mutex[memState]
	logger *zap.Logger
}

// NewMap constructs an empty GCD memory-space map: the entire modeled
// address space starts out Nonexistent, as it is before any
// add_memory_space call populates it from HOBs.
func NewMap(logger *zap.Logger) *Map {
	if logger == nil {
		logger = zap.NewNop()
	}
	backing := make([]rbtree.Node[uint64, Descriptor], 64)
	tree := rbtree.New(backing, cmpU64)
	if _, err := tree.Add(0, Descriptor{BaseAddress: 0, Length: AddressSpaceLimit, Type: Nonexistent}); err != nil {
		panic("gcd: seeding the descriptor map failed: " + err.Error())
	}
	return &Map{
		mu:     tpl.NewMutex(tpl.HighLevel, memState{tree: tree}),
		logger: logger.Named("gcd"),
	}
}

func alignPage(v uint64) bool { return v%PageSize == 0 }

func growIfNeeded(st *memState) {
	extra := st.tree.Cap()
	if extra < 64 {
		extra = 64
	}
	bigger := make([]rbtree.Node[uint64, Descriptor], st.tree.Cap()+extra)
	if err := st.tree.Resize(bigger); err != nil {
		panic("gcd: descriptor map resize failed: " + err.Error())
	}
}

// addWithGrowth inserts into st.tree, transparently growing the backing
// slice on OutOfResources (the tree's backing storage is an
// implementation convenience here, not a hard hardware-buffer limit;
// only requires the tree itself support Resize).
func addWithGrowth(st *memState, base uint64, d Descriptor) {
	if _, err := st.tree.Add(base, d); err != nil {
		growIfNeeded(st)
		if _, err := st.tree.Add(base, d); err != nil {
			panic("gcd: descriptor insert failed after growth: " + err.Error())
		}
	}
}

// covering returns the descriptor covering addr.
func covering(st *memState, addr uint64) (Descriptor, bool) {
	idx, ok := st.tree.GetClosestIdx(addr)
	if !ok {
		return Descriptor{}, false
	}
	_, d := st.tree.At(idx)
	if addr >= d.End() {
		return Descriptor{}, false
	}
	return d, true
}

// splitAt ensures addr is a descriptor boundary, unless addr is outside
// the mapped range entirely.
func splitAt(st *memState, addr uint64) {
	if addr == 0 || addr >= AddressSpaceLimit {
		return
	}
	d, ok := covering(st, addr)
	if !ok || d.BaseAddress == addr {
		return
	}
	left := d
	left.Length = addr - d.BaseAddress
	right := d
	right.BaseAddress = addr
	right.Length = d.End() - addr

	_ = st.tree.Delete(d.BaseAddress)
	addWithGrowth(st, left.BaseAddress, left)
	addWithGrowth(st, right.BaseAddress, right)
}

// mergeAt merges the descriptor ending at addr with the one starting
// at addr, if they carry identical type/capabilities/attributes/owner.
func mergeAt(st *memState, addr uint64) {
	if addr == 0 || addr >= AddressSpaceLimit {
		return
	}
	right, ok := st.tree.Get(addr)
	if !ok {
		return
	}
	leftKey, _, ok := st.tree.Prev(addr)
	if !ok {
		return
	}
	left, _ := st.tree.Get(leftKey)
	if left.End() != addr || !left.sameFields(right) {
		return
	}
	_ = st.tree.Delete(addr)
	_ = st.tree.Delete(leftKey)
	left.Length += right.Length
	addWithGrowth(st, left.BaseAddress, left)
}

// mutateRange splits at the edges of [base, base+length), applies fn to
// every descriptor fully inside that range, then merges at both edges.
func mutateRange(st *memState, base, length uint64, fn func(Descriptor) (Descriptor, error)) error {
	end := base + length
	splitAt(st, base)
	splitAt(st, end)

	cur := base
	for cur < end {
		d, ok := covering(st, cur)
		if !ok || d.BaseAddress != cur {
			return status.New("gcd.mutateRange", status.NotFound, "range not covered by the map")
		}
		updated, err := fn(d)
		if err != nil {
			return err
		}
		updated.BaseAddress = d.BaseAddress
		updated.Length = d.Length
		_ = st.tree.Delete(d.BaseAddress)
		addWithGrowth(st, updated.BaseAddress, updated)
		cur = d.End()
	}

	mergeAt(st, base)
	mergeAt(st, end)
	return nil
}

// AddMemorySpace introduces a descriptor covering a previously
// Nonexistent range.
func (m *Map) AddMemorySpace(memType MemoryType, base, length uint64, caps Capability) error {
	if length == 0 || !alignPage(base) || !alignPage(length) {
		return status.New("gcd.AddMemorySpace", status.InvalidParameter, "base/length must be page aligned and nonzero")
	}
	if base+length > AddressSpaceLimit {
		return status.New("gcd.AddMemorySpace", status.InvalidParameter, "range exceeds modeled address space")
	}
	err := tpl.WithErr(m.mu, func(st *memState) error {
		return mutateRange(st, base, length, func(d Descriptor) (Descriptor, error) {
			if d.Type != Nonexistent {
				return Descriptor{}, status.New("gcd.AddMemorySpace", status.AccessDenied, "range overlaps an existing descriptor")
			}
			return Descriptor{Type: memType, Capabilities: caps, Owner: Unallocated}, nil
		})
	})
	if err != nil {
		m.logger.Debug("add memory space failed", zap.Uint64("base", base), zap.Uint64("length", length), zap.Error(err))
		return err
	}
	m.logger.Debug("added memory space", zap.Uint64("base", base), zap.Uint64("length", length), zap.Stringer("type", memType))
	return nil
}

func alignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

func alignDown(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	return v &^ (align - 1)
}

// AllocateMemorySpace carves a sub-range of length bytes out of free
// space of memType, according to strategy, and assigns it to owner.
func (m *Map) AllocateMemorySpace(strategy Strategy, memType MemoryType, alignShift uint8, length uint64, owner Handle, device Handle) (uint64, error) {
	if length == 0 || !alignPage(length) {
		return 0, status.New("gcd.AllocateMemorySpace", status.InvalidParameter, "length must be a nonzero multiple of the page size")
	}
	align := uint64(1) << alignShift

	return tpl.WithResult(m.mu, func(st *memState) (uint64, error) {
		base, err := pickRange(st, strategy, memType, align, length, owner)
		if err != nil {
			return 0, err
		}
		err = mutateRange(st, base, length, func(d Descriptor) (Descriptor, error) {
			if d.Allocated || (d.Owner != Unallocated && d.Owner != owner) {
				return Descriptor{}, status.New("gcd.AllocateMemorySpace", status.AccessDenied, "range already allocated")
			}
			d.Owner = owner
			d.Device = device
			d.Allocated = true
			return d, nil
		})
		if err != nil {
			return 0, err
		}
		return base, nil
	})
}

func pickRange(st *memState, strategy Strategy, memType MemoryType, align, length uint64, owner Handle) (uint64, error) {
	switch strategy.Kind {
	case StrategyKindAddress:
		base := strategy.Address
		if base%align != 0 {
			return 0, status.New("gcd.AllocateMemorySpace", status.InvalidParameter, "address not aligned")
		}
		d, ok := covering(st, base)
		if !ok {
			return 0, status.New("gcd.AllocateMemorySpace", status.NotFound, "address not mapped")
		}
		// A range freed with preserved ownership may be re-claimed, but
		// only by the handle that still owns it.
		free := !d.Allocated && (d.Owner == Unallocated || d.Owner == owner)
		if base+length > d.End() || d.Type != memType || !free {
			return 0, status.New("gcd.AllocateMemorySpace", status.AccessDenied, "range not free or wrong type")
		}
		return base, nil

	case StrategyKindBottomUp, StrategyKindAny:
		var found uint64
		ok := false
		forEachFree(st, memType, func(d Descriptor) bool {
			cand := alignUp(d.BaseAddress, align)
			if cand+length > d.End() {
				return true
			}
			if strategy.HasBound && cand+length > strategy.Bound {
				return true
			}
			found, ok = cand, true
			return false
		})
		if !ok {
			return 0, status.New("gcd.AllocateMemorySpace", status.NotFound, "no suitable free range")
		}
		return found, nil

	case StrategyKindTopDown:
		var found uint64
		ok := false
		forEachFreeReverse(st, memType, func(d Descriptor) bool {
			cand := alignDown(d.End()-length, align)
			if cand < d.BaseAddress || cand+length > d.End() {
				return true
			}
			if strategy.HasBound && cand < strategy.Bound {
				return true
			}
			found, ok = cand, true
			return false
		})
		if !ok {
			return 0, status.New("gcd.AllocateMemorySpace", status.NotFound, "no suitable free range")
		}
		return found, nil

	default:
		return 0, status.New("gcd.AllocateMemorySpace", status.InvalidParameter, "unknown strategy")
	}
}

// forEachFree walks free descriptors of memType in ascending address
// order, stopping early when visit returns false. Ranges freed with
// preserved ownership are skipped: they are only reachable by their
// owner via an Address-strategy allocation.
func forEachFree(st *memState, memType MemoryType, visit func(Descriptor) bool) {
	k, v, ok := st.tree.First()
	for ok {
		if v.Type == memType && v.Owner == Unallocated && !v.Allocated {
			if !visit(v) {
				return
			}
		}
		k, v, ok = st.tree.Next(k)
	}
}

// forEachFreeReverse is forEachFree in descending address order.
func forEachFreeReverse(st *memState, memType MemoryType, visit func(Descriptor) bool) {
	k, v, ok := st.tree.Last()
	for ok {
		if v.Type == memType && v.Owner == Unallocated && !v.Allocated {
			if !visit(v) {
				return
			}
		}
		k, v, ok = st.tree.Prev(k)
	}
}

// FreeMemorySpace returns [base, base+length) to the free pool of its
// owning type, clearing the owner handle.
func (m *Map) FreeMemorySpace(base, length uint64) error {
	return tpl.WithErr(m.mu, func(st *memState) error {
		return mutateRange(st, base, length, func(d Descriptor) (Descriptor, error) {
			if !d.Allocated {
				return Descriptor{}, status.New("gcd.FreeMemorySpace", status.NotFound, "range already free")
			}
			d.Owner = Unallocated
			d.Device = Unallocated
			d.Allocated = false
			return d, nil
		})
	})
}

// FreeMemorySpacePreservingOwnership marks [base, base+length) free but
// keeps its owner handle intact, used to implement reserved buckets.
func (m *Map) FreeMemorySpacePreservingOwnership(base, length uint64) error {
	return tpl.WithErr(m.mu, func(st *memState) error {
		return mutateRange(st, base, length, func(d Descriptor) (Descriptor, error) {
			if !d.Allocated {
				return Descriptor{}, status.New("gcd.FreeMemorySpacePreservingOwnership", status.NotFound, "range not allocated")
			}
			d.Allocated = false
			return d, nil
		})
	})
}

// SetMemorySpaceAttributes programs attrs on [base, base+length),
// splitting descriptors as needed. Every covered descriptor must
// already have every requested bit in its Capabilities mask.
func (m *Map) SetMemorySpaceAttributes(base, length uint64, attrs Capability) error {
	return tpl.WithErr(m.mu, func(st *memState) error {
		return mutateRange(st, base, length, func(d Descriptor) (Descriptor, error) {
			if !d.Capabilities.Has(attrs) {
				return Descriptor{}, status.New("gcd.SetMemorySpaceAttributes", status.Unsupported, "requested attribute not in capabilities")
			}
			d.Attributes = attrs
			return d, nil
		})
	})
}

// GetMemoryDescriptorForAddress returns the descriptor covering addr.
func (m *Map) GetMemoryDescriptorForAddress(addr uint64) (Descriptor, error) {
	return tpl.WithResult(m.mu, func(st *memState) (Descriptor, error) {
		d, ok := covering(st, addr)
		if !ok {
			return Descriptor{}, status.New("gcd.GetMemoryDescriptorForAddress", status.NotFound, "address not mapped")
		}
		return d, nil
	})
}

// GetMemoryDescriptors returns every descriptor, in ascending address
// order.
func (m *Map) GetMemoryDescriptors() []Descriptor {
	out, _ := tpl.WithResult(m.mu, func(st *memState) ([]Descriptor, error) {
		descs := make([]Descriptor, 0, st.tree.Len())
		k, v, ok := st.tree.First()
		for ok {
			descs = append(descs, v)
			k, v, ok = st.tree.Next(k)
		}
		return descs, nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].BaseAddress < out[j].BaseAddress })
	return out
}

// MemoryDescriptorCount returns the number of descriptors presently in
// the map.
func (m *Map) MemoryDescriptorCount() int {
	n, _ := tpl.WithResult(m.mu, func(st *memState) (int, error) {
		return st.tree.Len(), nil
	})
	return n
}
