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

package perf

import (
	"encoding/binary"
	"sync"

	"github.com/patina-fw/dxecore/gcd"
	"github.com/patina-fw/dxecore/pkg/status"
)

// Table is a growable, in-memory FBPT image. Every AddRecord call
// appends a pre-encoded record and rewrites the Length field in place,
// matching how firmware grows the table in the address space it was
// originally allocated in rather than by relocating it.
type Table struct {
	mu  sync.Mutex
	buf []byte
}

// NewTable builds a table containing only the mandatory basic boot
// record, which every table must carry.
func NewTable(basicBoot BasicBootRecord) *Table {
	t := &Table{buf: make([]byte, tableHeaderSize)}
	binary.LittleEndian.PutUint32(t.buf[0:4], Signature)
	t.appendLocked(basicBoot.Encode())
	return t
}

func (t *Table) appendLocked(record []byte) {
	t.buf = append(t.buf, record...)
	binary.LittleEndian.PutUint32(t.buf[4:8], uint32(len(t.buf)))
}

// AddRecord appends an already-encoded Extended Firmware Performance
// record and updates the table's Length field in place.
func (t *Table) AddRecord(record []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendLocked(record)
}

// AddExtendedRecord encodes and appends r.
func (t *Table) AddExtendedRecord(r ExtendedRecord) error {
	enc, err := r.Encode()
	if err != nil {
		return err
	}
	t.AddRecord(enc)
	return nil
}

// Bytes returns a snapshot of the table's current wire image.
func (t *Table) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]byte, len(t.buf))
	copy(out, t.buf)
	return out
}

// Len returns the table's current encoded length.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buf)
}

// belowFourGiB bounds a BottomUp search so the table lands in 32-bit
// addressable space, matching firmware that must keep the FBPT
// reachable by legacy OS loader code when no preferred address is
// available or reusable.
const belowFourGiB = 1 << 32

// fbptPageHeadroom is added to the previously recorded table size when
// retrying at its prior address, so growth since the last boot doesn't
// immediately force a relocation.
const fbptPageHeadroom = 64 * 1024

// Publish allocates backing pages from m for t's current contents and
// writes them in. It first retries at prevAddr (the address recorded
// in the previous boot's non-volatile variable), padded by
// fbptPageHeadroom bytes, then falls back
// to any address below 4 GiB. owner identifies the allocation in the
// GCD map. Publish returns the address the table was written at.
func Publish(m *gcd.Map, owner gcd.Handle, t *Table, prevAddr uint64) (uint64, error) {
	// In this in-process simulation the GCD allocation is the table's
	// only backing store; there is no separate physical RAM to copy
	// t.Bytes() into, unlike real firmware writing through a mapped
	// pointer at the returned address.
	pages := pagesFor(uint64(t.Len()) + fbptPageHeadroom)

	if prevAddr != 0 {
		if addr, err := m.AllocateMemorySpace(gcd.AtAddress(prevAddr), gcd.SystemMemory, 0, pages*gcd.PageSize, owner, gcd.Unallocated); err == nil {
			return addr, nil
		}
	}

	addr, err := m.AllocateMemorySpace(gcd.BottomUp(belowFourGiB, true), gcd.SystemMemory, 0, pages*gcd.PageSize, owner, gcd.Unallocated)
	if err != nil {
		return 0, status.Wrap("perf.Publish", status.OutOfResources, err)
	}
	return addr, nil
}

func pagesFor(size uint64) uint64 {
	return (size + gcd.PageSize - 1) / gcd.PageSize
}
