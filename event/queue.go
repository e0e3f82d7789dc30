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

package event

import (
	"container/heap"

	"github.com/patina-fw/dxecore/pkg/tpl"
)

// notifyEntry is one member of the pending-notify queue: an event id
// plus the notify_tpl it was queued at and the monotonic insertion
// tag that breaks ties within a TPL.
type notifyEntry struct {
	id  ID
	tpl tpl.Level
	tag uint64
}

// notifyHeap orders entries descending by tpl, then ascending by tag:
// higher TPL first, FIFO within a level.
type notifyHeap []notifyEntry

func (h notifyHeap) Len() int { return len(h) }

func (h notifyHeap) Less(i, j int) bool {
	if h[i].tpl != h[j].tpl {
		return h[i].tpl > h[j].tpl
	}
	return h[i].tag < h[j].tag
}

func (h notifyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *notifyHeap) Push(x any) { *h = append(*h, x.(notifyEntry)) }

func (h *notifyHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

var _ heap.Interface = (*notifyHeap)(nil)
