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

import "github.com/patina-fw/dxecore/pkg/tpl"

// NotifyIter pulls pending notifications in priority order above a
// fixed TPL floor. It is re-entrant: entries queued after the iterator
// was created but before it is exhausted are observed, because each
// Next call re-reads the live queue under the database's mutex.
type NotifyIter struct {
	db    *Database
	floor tpl.Level
}

// EventNotificationIter returns an iterator over pending notifies whose
// notify_tpl is strictly above floor, in descending-TPL/FIFO order,
// popping each entry as it is yielded.
func (db *Database) EventNotificationIter(floor tpl.Level) *NotifyIter {
	return &NotifyIter{db: db, floor: floor}
}

// Next pops and returns the next pending notification above the
// iterator's floor. ok is false once the queue is empty or its
// remaining head is at or below the floor; the queue is left untouched
// in that case.
func (it *NotifyIter) Next() (id ID, fn NotifyFunc, ctx any, ok bool) {
	id, _, fn, ctx, ok = it.db.next(it.floor)
	return id, fn, ctx, ok
}
