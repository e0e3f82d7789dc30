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

// Package rbtree implements an ordered associative container usable
// before any pool allocator exists, e.g. by the gcd package itself.
// The caller supplies the backing storage as a slice of
// Node values up front; the tree never grows that slice itself (Resize
// is the caller's job) and performs no allocation of its own. Child and
// parent links are indices into that slice rather than pointers, and an
// internal free list threads unused slots.
//
// Rather than reinterpreting raw bytes via unsafe, the caller hands
// the tree a slice of typed Node[K, V] values, which the tree treats
// purely as an array of index-linked slots. Keys and values must be
// ordinary copyable Go values, since Resize relocates nodes with the
// built-in copy.
package rbtree

import (
	"sync/atomic"

	"github.com/patina-fw/dxecore/pkg/status"
)

const nilIdx int32 = -1

type color uint8

const (
	red color = iota
	black
)

// Node is one slot of the tree's backing array. The zero Node is a free
// (unused) slot.
type Node[K any, V any] struct {
	Key   K
	Value V

	color                color
	left, right, parent  int32
	inUse                bool
	nextFree             int32
}

// Tree is a red-black tree keyed by K with values V, backed entirely by
// a caller-supplied slice. K must be comparable via the supplied cmp
// function and must be safe to copy (Resize relocates nodes with Go's
// built-in copy, which always does a shallow/value copy).
type Tree[K any, V any] struct {
	nodes    []Node[K, V]
	root     atomic.Int32
	freeHead int32
	count    int
	cmp      func(a, b K) int
}

// New constructs a Tree over backing, which the tree takes ownership of
// (the caller must not otherwise mutate it). cmp must implement a total
// order consistent with equality.
func New[K any, V any](backing []Node[K, V], cmp func(a, b K) int) *Tree[K, V] {
	t := &Tree[K, V]{nodes: backing, cmp: cmp}
	t.root.Store(nilIdx)
	t.rebuildFreeList(0)
	return t
}

// rebuildFreeList threads every slot at index >= from that is not
// currently in use onto the free list, preserving index order so
// allocation favors the lowest free index (helps Resize keep data
// dense near the front).
func (t *Tree[K, V]) rebuildFreeList(from int) {
	t.freeHead = nilIdx
	for i := len(t.nodes) - 1; i >= from; i-- {
		if t.nodes[i].inUse {
			continue
		}
		t.nodes[i].nextFree = t.freeHead
		t.freeHead = int32(i)
	}
}

// Len returns the number of live entries.
func (t *Tree[K, V]) Len() int { return t.count }

// Cap returns the capacity of the backing slice.
func (t *Tree[K, V]) Cap() int { return len(t.nodes) }

func (t *Tree[K, V]) alloc() (int32, bool) {
	if t.freeHead == nilIdx {
		return nilIdx, false
	}
	idx := t.freeHead
	t.freeHead = t.nodes[idx].nextFree
	return idx, true
}

func (t *Tree[K, V]) free(idx int32) {
	t.nodes[idx] = Node[K, V]{nextFree: t.freeHead}
	t.freeHead = idx
}

func (t *Tree[K, V]) root32() int32 { return t.root.Load() }

// Add inserts key/value. It returns status.AlreadyStarted (this
// package's rendering of "AlreadyExists" under the core's single flat
// error taxonomy) if key is already present, or
// status.OutOfResources if the backing slice has no free
// slot (the caller's cue to Resize).
func (t *Tree[K, V]) Add(key K, value V) (int, error) {
	idx, found := t.findIdx(key)
	if found {
		return int(idx), status.New("rbtree.Add", status.AlreadyStarted, "key already exists")
	}
	newIdx, ok := t.alloc()
	if !ok {
		return -1, status.New("rbtree.Add", status.OutOfResources, "backing slice exhausted")
	}
	n := &t.nodes[newIdx]
	n.Key = key
	n.Value = value
	n.color = red
	n.left, n.right = nilIdx, nilIdx
	n.inUse = true

	if t.root32() == nilIdx {
		n.parent = nilIdx
		n.color = black
		t.root.Store(newIdx)
		t.count++
		return int(newIdx), nil
	}

	// findIdx reports no position for an absent key; walk again to find
	// the leaf parent this key attaches under.
	parent := t.attachParent(key)
	n.parent = parent
	if t.cmp(key, t.nodes[parent].Key) < 0 {
		t.nodes[parent].left = newIdx
	} else {
		t.nodes[parent].right = newIdx
	}
	t.count++
	t.insertFixup(newIdx)
	return int(newIdx), nil
}

// attachParent walks from the root to find the leaf parent under which
// key would be inserted.
func (t *Tree[K, V]) attachParent(key K) int32 {
	cur := t.root32()
	var parent int32 = nilIdx
	for cur != nilIdx {
		parent = cur
		c := t.cmp(key, t.nodes[cur].Key)
		if c < 0 {
			cur = t.nodes[cur].left
		} else {
			cur = t.nodes[cur].right
		}
	}
	return parent
}

// AddMany inserts every key/value pair, stopping at the first error
// (AlreadyStarted for a duplicate key, OutOfResources once the backing
// slice is exhausted). It returns how many were added before that.
func (t *Tree[K, V]) AddMany(keys []K, values []V) (int, error) {
	n := len(keys)
	if len(values) < n {
		n = len(values)
	}
	for i := 0; i < n; i++ {
		if _, err := t.Add(keys[i], values[i]); err != nil {
			return i, err
		}
	}
	return n, nil
}

func (t *Tree[K, V]) rotateLeft(x int32) {
	y := t.nodes[x].right
	t.nodes[x].right = t.nodes[y].left
	if t.nodes[y].left != nilIdx {
		t.nodes[t.nodes[y].left].parent = x
	}
	t.nodes[y].parent = t.nodes[x].parent
	if t.nodes[x].parent == nilIdx {
		t.root.Store(y)
	} else if t.nodes[t.nodes[x].parent].left == x {
		t.nodes[t.nodes[x].parent].left = y
	} else {
		t.nodes[t.nodes[x].parent].right = y
	}
	t.nodes[y].left = x
	t.nodes[x].parent = y
}

func (t *Tree[K, V]) rotateRight(x int32) {
	y := t.nodes[x].left
	t.nodes[x].left = t.nodes[y].right
	if t.nodes[y].right != nilIdx {
		t.nodes[t.nodes[y].right].parent = x
	}
	t.nodes[y].parent = t.nodes[x].parent
	if t.nodes[x].parent == nilIdx {
		t.root.Store(y)
	} else if t.nodes[t.nodes[x].parent].right == x {
		t.nodes[t.nodes[x].parent].right = y
	} else {
		t.nodes[t.nodes[x].parent].left = y
	}
	t.nodes[y].right = x
	t.nodes[x].parent = y
}

func (t *Tree[K, V]) isRed(idx int32) bool {
	return idx != nilIdx && t.nodes[idx].color == red
}

func (t *Tree[K, V]) insertFixup(z int32) {
	for t.nodes[z].parent != nilIdx && t.isRed(t.nodes[z].parent) {
		parent := t.nodes[z].parent
		grandparent := t.nodes[parent].parent
		if grandparent == nilIdx {
			break
		}
		if parent == t.nodes[grandparent].left {
			uncle := t.nodes[grandparent].right
			if t.isRed(uncle) {
				t.nodes[parent].color = black
				t.nodes[uncle].color = black
				t.nodes[grandparent].color = red
				z = grandparent
				continue
			}
			if z == t.nodes[parent].right {
				z = parent
				t.rotateLeft(z)
				parent = t.nodes[z].parent
				grandparent = t.nodes[parent].parent
			}
			t.nodes[parent].color = black
			t.nodes[grandparent].color = red
			t.rotateRight(grandparent)
		} else {
			uncle := t.nodes[grandparent].left
			if t.isRed(uncle) {
				t.nodes[parent].color = black
				t.nodes[uncle].color = black
				t.nodes[grandparent].color = red
				z = grandparent
				continue
			}
			if z == t.nodes[parent].left {
				z = parent
				t.rotateRight(z)
				parent = t.nodes[z].parent
				grandparent = t.nodes[parent].parent
			}
			t.nodes[parent].color = black
			t.nodes[grandparent].color = red
			t.rotateLeft(grandparent)
		}
	}
	t.nodes[t.root32()].color = black
}

func (t *Tree[K, V]) findIdx(key K) (int32, bool) {
	cur := t.root32()
	for cur != nilIdx {
		c := t.cmp(key, t.nodes[cur].Key)
		switch {
		case c == 0:
			return cur, true
		case c < 0:
			cur = t.nodes[cur].left
		default:
			cur = t.nodes[cur].right
		}
	}
	return nilIdx, false
}

// Get returns the value stored under key.
func (t *Tree[K, V]) Get(key K) (V, bool) {
	idx, ok := t.findIdx(key)
	if !ok {
		var zero V
		return zero, false
	}
	return t.nodes[idx].Value, true
}

// GetMut returns a pointer to the value stored under key, allowing
// in-place mutation. The caller must not mutate the Key through this
// pointer's containing Node, since doing so would break the tree's
// ordering invariant.
func (t *Tree[K, V]) GetMut(key K) (*V, bool) {
	idx, ok := t.findIdx(key)
	if !ok {
		return nil, false
	}
	return &t.nodes[idx].Value, true
}

// At returns the key/value stored at backing-slice index idx.
func (t *Tree[K, V]) At(idx int) (K, V) {
	n := &t.nodes[idx]
	return n.Key, n.Value
}

// KeyAt returns the key stored at backing-slice index idx.
func (t *Tree[K, V]) KeyAt(idx int) K { return t.nodes[idx].Key }

// GetIdx returns the backing-slice index of key, if present.
func (t *Tree[K, V]) GetIdx(key K) (int, bool) {
	idx, ok := t.findIdx(key)
	return int(idx), ok
}

// GetClosestIdx returns the index of the largest key <= key, or false
// if key is smaller than every key in the tree.
func (t *Tree[K, V]) GetClosestIdx(key K) (int, bool) {
	cur := t.root32()
	var best int32 = nilIdx
	for cur != nilIdx {
		c := t.cmp(key, t.nodes[cur].Key)
		switch {
		case c == 0:
			return int(cur), true
		case c < 0:
			cur = t.nodes[cur].left
		default:
			best = cur
			cur = t.nodes[cur].right
		}
	}
	if best == nilIdx {
		return -1, false
	}
	return int(best), true
}

func (t *Tree[K, V]) minimum(x int32) int32 {
	for t.nodes[x].left != nilIdx {
		x = t.nodes[x].left
	}
	return x
}

func (t *Tree[K, V]) maximum(x int32) int32 {
	for t.nodes[x].right != nilIdx {
		x = t.nodes[x].right
	}
	return x
}

// First returns the smallest key and its value.
func (t *Tree[K, V]) First() (K, V, bool) {
	if t.root32() == nilIdx {
		var k K
		var v V
		return k, v, false
	}
	idx := t.minimum(t.root32())
	return t.nodes[idx].Key, t.nodes[idx].Value, true
}

// Last returns the largest key and its value.
func (t *Tree[K, V]) Last() (K, V, bool) {
	if t.root32() == nilIdx {
		var k K
		var v V
		return k, v, false
	}
	idx := t.maximum(t.root32())
	return t.nodes[idx].Key, t.nodes[idx].Value, true
}

// FirstIdx returns the backing-slice index of the smallest key.
func (t *Tree[K, V]) FirstIdx() (int, bool) {
	if t.root32() == nilIdx {
		return -1, false
	}
	return int(t.minimum(t.root32())), true
}

// LastIdx returns the backing-slice index of the largest key.
func (t *Tree[K, V]) LastIdx() (int, bool) {
	if t.root32() == nilIdx {
		return -1, false
	}
	return int(t.maximum(t.root32())), true
}

func (t *Tree[K, V]) successor(x int32) int32 {
	if t.nodes[x].right != nilIdx {
		return t.minimum(t.nodes[x].right)
	}
	y := t.nodes[x].parent
	for y != nilIdx && x == t.nodes[y].right {
		x = y
		y = t.nodes[y].parent
	}
	return y
}

func (t *Tree[K, V]) predecessor(x int32) int32 {
	if t.nodes[x].left != nilIdx {
		return t.maximum(t.nodes[x].left)
	}
	y := t.nodes[x].parent
	for y != nilIdx && x == t.nodes[y].left {
		x = y
		y = t.nodes[y].parent
	}
	return y
}

// Next returns the key immediately greater than key, by value.
func (t *Tree[K, V]) Next(key K) (K, V, bool) {
	idx, ok := t.findIdx(key)
	if !ok {
		var k K
		var v V
		return k, v, false
	}
	n := t.successor(idx)
	if n == nilIdx {
		var k K
		var v V
		return k, v, false
	}
	return t.nodes[n].Key, t.nodes[n].Value, true
}

// Prev returns the key immediately less than key, by value.
func (t *Tree[K, V]) Prev(key K) (K, V, bool) {
	idx, ok := t.findIdx(key)
	if !ok {
		var k K
		var v V
		return k, v, false
	}
	p := t.predecessor(idx)
	if p == nilIdx {
		var k K
		var v V
		return k, v, false
	}
	return t.nodes[p].Key, t.nodes[p].Value, true
}

// NextIdx returns the backing-slice index immediately after idx.
func (t *Tree[K, V]) NextIdx(idx int) (int, bool) {
	n := t.successor(int32(idx))
	if n == nilIdx {
		return -1, false
	}
	return int(n), true
}

// PrevIdx returns the backing-slice index immediately before idx.
func (t *Tree[K, V]) PrevIdx(idx int) (int, bool) {
	p := t.predecessor(int32(idx))
	if p == nilIdx {
		return -1, false
	}
	return int(p), true
}

// transplant replaces the subtree rooted at u with the subtree rooted
// at v within u's parent.
func (t *Tree[K, V]) transplant(u, v int32) {
	parent := t.nodes[u].parent
	if parent == nilIdx {
		t.root.Store(v)
	} else if t.nodes[parent].left == u {
		t.nodes[parent].left = v
	} else {
		t.nodes[parent].right = v
	}
	if v != nilIdx {
		t.nodes[v].parent = parent
	}
}

// Delete removes key. It returns status.NotFound if key is absent.
func (t *Tree[K, V]) Delete(key K) error {
	idx, ok := t.findIdx(key)
	if !ok {
		return status.New("rbtree.Delete", status.NotFound, "key not present")
	}
	return t.DeleteWithIdx(int(idx))
}

// DeleteWithIdx removes the node at the given backing-slice index.
func (t *Tree[K, V]) DeleteWithIdx(idxArg int) error {
	z := int32(idxArg)
	if z < 0 || int(z) >= len(t.nodes) || !t.nodes[z].inUse {
		return status.New("rbtree.DeleteWithIdx", status.NotFound, "index not in use")
	}
	y := z
	yOrigColor := t.nodes[y].color
	var x, xParent int32

	switch {
	case t.nodes[z].left == nilIdx:
		x = t.nodes[z].right
		xParent = t.nodes[z].parent
		t.transplant(z, t.nodes[z].right)
	case t.nodes[z].right == nilIdx:
		x = t.nodes[z].left
		xParent = t.nodes[z].parent
		t.transplant(z, t.nodes[z].left)
	default:
		y = t.minimum(t.nodes[z].right)
		yOrigColor = t.nodes[y].color
		x = t.nodes[y].right
		if t.nodes[y].parent == z {
			xParent = y
		} else {
			xParent = t.nodes[y].parent
			t.transplant(y, t.nodes[y].right)
			t.nodes[y].right = t.nodes[z].right
			t.nodes[t.nodes[y].right].parent = y
		}
		t.transplant(z, y)
		t.nodes[y].left = t.nodes[z].left
		t.nodes[t.nodes[y].left].parent = y
		t.nodes[y].color = t.nodes[z].color
	}

	if yOrigColor == black {
		t.deleteFixup(x, xParent)
	}

	t.count--
	t.free(z)
	return nil
}

func (t *Tree[K, V]) deleteFixup(x, xParent int32) {
	for x != t.root32() && !t.isRed(x) {
		if xParent == nilIdx {
			break
		}
		if x == t.nodes[xParent].left {
			w := t.nodes[xParent].right
			if t.isRed(w) {
				t.nodes[w].color = black
				t.nodes[xParent].color = red
				t.rotateLeft(xParent)
				w = t.nodes[xParent].right
			}
			if !t.isRed(t.nodes[w].left) && !t.isRed(t.nodes[w].right) {
				t.nodes[w].color = red
				x = xParent
				xParent = t.nodes[x].parent
				continue
			}
			if !t.isRed(t.nodes[w].right) {
				if t.nodes[w].left != nilIdx {
					t.nodes[t.nodes[w].left].color = black
				}
				t.nodes[w].color = red
				t.rotateRight(w)
				w = t.nodes[xParent].right
			}
			t.nodes[w].color = t.nodes[xParent].color
			t.nodes[xParent].color = black
			if t.nodes[w].right != nilIdx {
				t.nodes[t.nodes[w].right].color = black
			}
			t.rotateLeft(xParent)
			x = t.root32()
			xParent = nilIdx
		} else {
			w := t.nodes[xParent].left
			if t.isRed(w) {
				t.nodes[w].color = black
				t.nodes[xParent].color = red
				t.rotateRight(xParent)
				w = t.nodes[xParent].left
			}
			if !t.isRed(t.nodes[w].right) && !t.isRed(t.nodes[w].left) {
				t.nodes[w].color = red
				x = xParent
				xParent = t.nodes[x].parent
				continue
			}
			if !t.isRed(t.nodes[w].left) {
				if t.nodes[w].right != nilIdx {
					t.nodes[t.nodes[w].right].color = black
				}
				t.nodes[w].color = red
				t.rotateLeft(w)
				w = t.nodes[xParent].left
			}
			t.nodes[w].color = t.nodes[xParent].color
			t.nodes[xParent].color = black
			if t.nodes[w].left != nilIdx {
				t.nodes[t.nodes[w].left].color = black
			}
			t.rotateRight(xParent)
			x = t.root32()
			xParent = nilIdx
		}
	}
	if x != nilIdx {
		t.nodes[x].color = black
	}
}

// Resize copies every live node into newBacking (which must be at least
// as large as t.Len()) and makes it the tree's backing storage. Resize
// is only valid because K and V are required to be ordinary (copyable)
// Go values: indices are recomputed densely, in key order, so the tree
// never straddles old and new storage.
func (t *Tree[K, V]) Resize(newBacking []Node[K, V]) error {
	if len(newBacking) < t.count {
		return status.New("rbtree.Resize", status.InvalidParameter, "new backing smaller than live entry count")
	}
	keys := make([]K, 0, t.count)
	values := make([]V, 0, t.count)
	t.dfsInOrder(t.root32(), func(k K, v V) {
		keys = append(keys, k)
		values = append(values, v)
	})
	nt := New(newBacking, t.cmp)
	for i := range keys {
		if _, err := nt.Add(keys[i], values[i]); err != nil {
			return err
		}
	}
	t.nodes = nt.nodes
	t.root.Store(nt.root.Load())
	t.freeHead = nt.freeHead
	t.count = nt.count
	return nil
}

func (t *Tree[K, V]) dfsInOrder(x int32, visit func(K, V)) {
	if x == nilIdx {
		return
	}
	t.dfsInOrder(t.nodes[x].left, visit)
	visit(t.nodes[x].Key, t.nodes[x].Value)
	t.dfsInOrder(t.nodes[x].right, visit)
}

// DFS returns every key in ascending order. It is intended for test
// assertions, not production call sites.
func (t *Tree[K, V]) DFS() []K {
	keys := make([]K, 0, t.count)
	t.dfsInOrder(t.root32(), func(k K, _ V) { keys = append(keys, k) })
	return keys
}

// Height returns the tree's height (node count on the longest
// root-to-leaf path; 0 for an empty tree),
// used by tests to check the 2*log2(n+1) bound.
func (t *Tree[K, V]) Height() int {
	var height func(x int32) int
	height = func(x int32) int {
		if x == nilIdx {
			return 0
		}
		l := height(t.nodes[x].left)
		r := height(t.nodes[x].right)
		if l > r {
			return l + 1
		}
		return r + 1
	}
	return height(t.root32())
}
