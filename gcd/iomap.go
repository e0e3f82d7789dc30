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
	"go.uber.org/zap"

	"github.com/patina-fw/dxecore/internal/rbtree"
	"github.com/patina-fw/dxecore/pkg/status"
	"github.com/patina-fw/dxecore/pkg/tpl"
)

// IoAddressSpaceLimit bounds the modeled IO port space (a full 16-bit
// legacy IO space plus headroom for memory-mapped IO port windows on
// non-x86 platforms).
const IoAddressSpaceLimit = uint64(1) << 32

type ioState struct {
	tree *rbtree.Tree[uint64, IoDescriptor]
}

// IoMap is the GCD IO-space map, parallel to the memory-space Map. It
// shares the split/merge invariant but carries a simpler attribute
// set: an IO descriptor has only a type and an owner.
type IoMap struct {
	mu     *tpl.Mutex[ioState]
	logger *zap.Logger
}

// NewIoMap constructs an empty GCD IO-space map.
func NewIoMap(logger *zap.Logger) *IoMap {
	if logger == nil {
		logger = zap.NewNop()
	}
	backing := make([]rbtree.Node[uint64, IoDescriptor], 32)
	tree := rbtree.New(backing, cmpU64)
	if _, err := tree.Add(0, IoDescriptor{BaseAddress: 0, Length: IoAddressSpaceLimit, Type: IoNonexistent}); err != nil {
		panic("gcd: seeding the io descriptor map failed: " + err.Error())
	}
	return &IoMap{
		mu:     tpl.NewMutex(tpl.HighLevel, ioState{tree: tree}),
		logger: logger.Named("gcd.io"),
	}
}

func ioGrowIfNeeded(st *ioState) {
	extra := st.tree.Cap()
	if extra < 32 {
		extra = 32
	}
	bigger := make([]rbtree.Node[uint64, IoDescriptor], st.tree.Cap()+extra)
	if err := st.tree.Resize(bigger); err != nil {
		panic("gcd: io descriptor map resize failed: " + err.Error())
	}
}

func ioAdd(st *ioState, base uint64, d IoDescriptor) {
	if _, err := st.tree.Add(base, d); err != nil {
		ioGrowIfNeeded(st)
		if _, err := st.tree.Add(base, d); err != nil {
			panic("gcd: io descriptor insert failed after growth: " + err.Error())
		}
	}
}

func ioCovering(st *ioState, addr uint64) (IoDescriptor, bool) {
	idx, ok := st.tree.GetClosestIdx(addr)
	if !ok {
		return IoDescriptor{}, false
	}
	_, d := st.tree.At(idx)
	if addr >= d.End() {
		return IoDescriptor{}, false
	}
	return d, true
}

func ioSplitAt(st *ioState, addr uint64) {
	if addr == 0 || addr >= IoAddressSpaceLimit {
		return
	}
	d, ok := ioCovering(st, addr)
	if !ok || d.BaseAddress == addr {
		return
	}
	left := d
	left.Length = addr - d.BaseAddress
	right := d
	right.BaseAddress = addr
	right.Length = d.End() - addr
	_ = st.tree.Delete(d.BaseAddress)
	ioAdd(st, left.BaseAddress, left)
	ioAdd(st, right.BaseAddress, right)
}

func ioMergeAt(st *ioState, addr uint64) {
	if addr == 0 || addr >= IoAddressSpaceLimit {
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
	ioAdd(st, left.BaseAddress, left)
}

func ioMutateRange(st *ioState, base, length uint64, fn func(IoDescriptor) (IoDescriptor, error)) error {
	end := base + length
	ioSplitAt(st, base)
	ioSplitAt(st, end)

	cur := base
	for cur < end {
		d, ok := ioCovering(st, cur)
		if !ok || d.BaseAddress != cur {
			return status.New("gcd.ioMutateRange", status.NotFound, "range not covered by the io map")
		}
		updated, err := fn(d)
		if err != nil {
			return err
		}
		updated.BaseAddress = d.BaseAddress
		updated.Length = d.Length
		_ = st.tree.Delete(d.BaseAddress)
		ioAdd(st, updated.BaseAddress, updated)
		cur = d.End()
	}

	ioMergeAt(st, base)
	ioMergeAt(st, end)
	return nil
}

// AddIoSpace introduces an IO descriptor covering a previously
// IoNonexistent range.
func (m *IoMap) AddIoSpace(ioType GcdIoType, base, length uint64) error {
	if length == 0 {
		return status.New("gcd.AddIoSpace", status.InvalidParameter, "length must be nonzero")
	}
	return tpl.WithErr(m.mu, func(st *ioState) error {
		return ioMutateRange(st, base, length, func(d IoDescriptor) (IoDescriptor, error) {
			if d.Type != IoNonexistent {
				return IoDescriptor{}, status.New("gcd.AddIoSpace", status.AccessDenied, "range overlaps an existing descriptor")
			}
			return IoDescriptor{Type: ioType, Owner: Unallocated}, nil
		})
	})
}

// AllocateIoSpace carves out [base, base+length) of ioType, assigning
// owner.
func (m *IoMap) AllocateIoSpace(strategy Strategy, ioType GcdIoType, length uint64, owner Handle) (uint64, error) {
	if length == 0 {
		return 0, status.New("gcd.AllocateIoSpace", status.InvalidParameter, "length must be nonzero")
	}
	return tpl.WithResult(m.mu, func(st *ioState) (uint64, error) {
		var base uint64
		found := false
		switch strategy.Kind {
		case StrategyKindAddress:
			d, ok := ioCovering(st, strategy.Address)
			if !ok || strategy.Address+length > d.End() || d.Type != ioType || d.Owner != Unallocated {
				return 0, status.New("gcd.AllocateIoSpace", status.AccessDenied, "range not free or wrong type")
			}
			base, found = strategy.Address, true
		default:
			k, v, ok := st.tree.First()
			for ok {
				if v.Type == ioType && v.Owner == Unallocated && v.BaseAddress+length <= v.End() {
					base, found = v.BaseAddress, true
					break
				}
				k, v, ok = st.tree.Next(k)
			}
		}
		if !found {
			return 0, status.New("gcd.AllocateIoSpace", status.NotFound, "no suitable free range")
		}
		err := ioMutateRange(st, base, length, func(d IoDescriptor) (IoDescriptor, error) {
			d.Owner = owner
			return d, nil
		})
		if err != nil {
			return 0, err
		}
		return base, nil
	})
}

// FreeIoSpace returns [base, base+length) to the free pool.
func (m *IoMap) FreeIoSpace(base, length uint64) error {
	return tpl.WithErr(m.mu, func(st *ioState) error {
		return ioMutateRange(st, base, length, func(d IoDescriptor) (IoDescriptor, error) {
			d.Owner = Unallocated
			return d, nil
		})
	})
}

// GetIoDescriptorForAddress returns the IO descriptor covering addr.
func (m *IoMap) GetIoDescriptorForAddress(addr uint64) (IoDescriptor, error) {
	return tpl.WithResult(m.mu, func(st *ioState) (IoDescriptor, error) {
		d, ok := ioCovering(st, addr)
		if !ok {
			return IoDescriptor{}, status.New("gcd.GetIoDescriptorForAddress", status.NotFound, "address not mapped")
		}
		return d, nil
	})
}
