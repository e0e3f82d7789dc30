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

import "sort"

// nodeHeaderOverhead is the worst-case bytes a fresh allocator list
// node costs on top of a requested layout when the fallback allocator
// must carve a brand-new hole boundary: next, prev, and size words on
// the modeled 64-bit target.
const nodeHeaderOverhead = 3 * 8

// hole is one free interval [Base, Base+Length) inside a backing
// region, tracked by the fallback first-fit sub-allocator.
type hole struct {
	Base   uint64
	Length uint64
}

// subAllocator is the first-fit fallback allocator walked across a
// single backing region. Holes are kept
// sorted by Base so first-fit scanning and neighbor-merging on free are
// both a simple linear scan.
type subAllocator struct {
	holes []hole
}

func newSubAllocator(base, length uint64) *subAllocator {
	return &subAllocator{holes: []hole{{Base: base, Length: length}}}
}

func alignUp64(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// alloc finds the first hole that can satisfy size bytes at the given
// alignment (plus nodeHeaderOverhead, to leave room for re-splitting the
// hole later), carves it out, and returns the aligned base address.
func (s *subAllocator) alloc(size, align uint64) (uint64, bool) {
	need := size + nodeHeaderOverhead
	for i, h := range s.holes {
		start := alignUp64(h.Base, align)
		end := start + need
		if end > h.Base+h.Length {
			continue
		}
		// Shrink/split the hole to remove [start, start+need).
		var replacement []hole
		if start > h.Base {
			replacement = append(replacement, hole{Base: h.Base, Length: start - h.Base})
		}
		if end < h.Base+h.Length {
			replacement = append(replacement, hole{Base: end, Length: h.Base + h.Length - end})
		}
		s.holes = append(s.holes[:i], append(replacement, s.holes[i+1:]...)...)
		return start, true
	}
	return 0, false
}

// free returns [addr, addr+size) to the hole list, merging with
// adjacent holes.
func (s *subAllocator) free(addr, size uint64) {
	h := hole{Base: addr, Length: size + nodeHeaderOverhead}
	s.holes = append(s.holes, h)
	sort.Slice(s.holes, func(i, j int) bool { return s.holes[i].Base < s.holes[j].Base })

	merged := s.holes[:0]
	for _, cur := range s.holes {
		if len(merged) > 0 {
			last := &merged[len(merged)-1]
			if last.Base+last.Length == cur.Base {
				last.Length += cur.Length
				continue
			}
		}
		merged = append(merged, cur)
	}
	s.holes = merged
}

// freeBytes returns the total bytes presently free across all holes.
func (s *subAllocator) freeBytes() uint64 {
	var total uint64
	for _, h := range s.holes {
		total += h.Length
	}
	return total
}
