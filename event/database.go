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
	"sort"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/patina-fw/dxecore/pkg/guid"
	"github.com/patina-fw/dxecore/pkg/status"
	"github.com/patina-fw/dxecore/pkg/tpl"
)

type dbState struct {
	events  map[ID]*evt
	nextID  uint64
	tag     uint64
	queue   notifyHeap
	groups  map[guid.GUID]map[ID]struct{}
}

// Database is the process-wide event database: every
// event, its timer state, and the pending-notify queue that the TPL
// dispatcher drains on every lowering. One Database exists per core
// instance; Install wires it into tpl.Dispatch.
type Database struct {
	mu          *tpl.Mutex[dbState]
	logger      *zap.Logger
	depth       prometheus.Gauge
	dispatching atomic.Bool
}

// NewDatabase constructs an empty event database guarded by a
// HighLevel-ceiling TplMutex, the same ceiling the memory subsystem
// uses.
func NewDatabase(logger *zap.Logger) *Database {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Database{
		mu: tpl.NewMutex(tpl.HighLevel, dbState{
			events: make(map[ID]*evt),
			groups: make(map[guid.GUID]map[ID]struct{}),
		}),
		logger: logger.Named("event"),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dxecore",
			Subsystem: "event",
			Name:      "pending_notify_depth",
			Help:      "Number of entries currently in the pending-notify queue.",
		}),
	}
}

// Collector exposes the pending-notify queue depth gauge for metrics
// registration (ambient stack).
func (db *Database) Collector() prometheus.Collector { return db.depth }

// Install wires db into tpl.Dispatch so that lowering the TPL runs
// pending notifications above the new floor before returning
// control. It should be called exactly once, at core init.
func (db *Database) Install() {
	tpl.Dispatch = db.runDispatch
}

// CreateEvent validates and registers a new event. notifyFn is
// required when typ carries
// NotifySignal or NotifyWait, and notifyTPL must then be strictly above
// Application and no higher than HighLevel.
func (db *Database) CreateEvent(typ Type, notifyTPL tpl.Level, notifyFn NotifyFunc, ctx any, group *guid.GUID) (ID, error) {
	if typ&NotifySignal != 0 && typ&NotifyWait != 0 {
		return 0, status.New("event.CreateEvent", status.InvalidParameter, "NOTIFY_SIGNAL and NOTIFY_WAIT are mutually exclusive")
	}
	if typ&(NotifySignal|NotifyWait) != 0 {
		if notifyFn == nil {
			return 0, status.New("event.CreateEvent", status.InvalidParameter, "notify_fn required for NOTIFY_SIGNAL/NOTIFY_WAIT events")
		}
		if notifyTPL <= tpl.Application || notifyTPL > tpl.HighLevel {
			return 0, status.New("event.CreateEvent", status.InvalidParameter, "notify_tpl must be in (Application, HighLevel]")
		}
	}

	return tpl.WithResult(db.mu, func(st *dbState) (ID, error) {
		st.nextID++
		id := ID(st.nextID)
		e := &evt{id: id, typ: typ, state: Created, notifyTPL: notifyTPL, notifyFn: notifyFn, notifyCtx: ctx, group: group}
		st.events[id] = e
		if group != nil {
			if st.groups[*group] == nil {
				st.groups[*group] = make(map[ID]struct{})
			}
			st.groups[*group][id] = struct{}{}
		}
		db.logger.Debug("event created", zap.Uint64("id", uint64(id)), zap.Uint32("type", uint32(typ)))
		return id, nil
	})
}

// CloseEvent destroys an event, removing it from the event table and
// any group it belonged to. A notify already queued for it stays in the
// pending-notify queue; the dispatcher skips it when it is dequeued.
func (db *Database) CloseEvent(id ID) error {
	return tpl.WithErr(db.mu, func(st *dbState) error {
		e, ok := st.events[id]
		if !ok {
			return status.New("event.CloseEvent", status.NotFound, "unknown event id")
		}
		if e.group != nil {
			delete(st.groups[*e.group], id)
		}
		delete(st.events, id)
		e.state = Destroyed
		return nil
	})
}

// SignalEvent marks id signalled and, per group semantics,
// signals every other member of its group too. A NOTIFY_SIGNAL event
// not already queued is enqueued exactly once.
func (db *Database) SignalEvent(id ID) error {
	return tpl.WithErr(db.mu, func(st *dbState) error {
		e, ok := st.events[id]
		if !ok {
			return status.New("event.SignalEvent", status.NotFound, "unknown event id")
		}
		db.signalLocked(st, e)
		if e.group != nil {
			db.signalGroupLocked(st, *e.group)
		}
		return nil
	})
}

// SignalGroup signals every event currently bound to group, whether or
// not any one of them was signalled directly. This models composite
// events like EXIT_BOOT_SERVICES.
func (db *Database) SignalGroup(group guid.GUID) error {
	return tpl.WithErr(db.mu, func(st *dbState) error {
		db.signalGroupLocked(st, group)
		return nil
	})
}

// signalGroupLocked fans a signal out to every member of group in
// ascending id (creation) order, so the insertion tags each member
// receives are deterministic and FIFO within a TPL holds across runs.
func (db *Database) signalGroupLocked(st *dbState, group guid.GUID) {
	members := make([]ID, 0, len(st.groups[group]))
	for id := range st.groups[group] {
		members = append(members, id)
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	for _, id := range members {
		if e, ok := st.events[id]; ok {
			db.signalLocked(st, e)
		}
	}
}

func (db *Database) signalLocked(st *dbState, e *evt) {
	e.state = Signaled
	if e.typ&NotifySignal != 0 && !e.queued {
		db.enqueueLocked(st, e)
	}
}

func (db *Database) enqueueLocked(st *dbState, e *evt) {
	e.queued = true
	st.tag++
	heap.Push(&st.queue, notifyEntry{id: e.id, tpl: e.notifyTPL, tag: st.tag})
	db.depth.Set(float64(len(st.queue)))
}

// ClearSignal clears id's signalled state and removes it from the
// pending-notify queue if present.
func (db *Database) ClearSignal(id ID) error {
	return tpl.WithErr(db.mu, func(st *dbState) error {
		e, ok := st.events[id]
		if !ok {
			return status.New("event.ClearSignal", status.NotFound, "unknown event id")
		}
		e.state = Created
		e.queued = false
		db.removeFromQueueLocked(st, id)
		return nil
	})
}

// removeFromQueueLocked drops every queue entry for id. The queue is
// small and bounded by live event count, so a linear rebuild is cheap
// and keeps the heap invariant intact without a side index.
func (db *Database) removeFromQueueLocked(st *dbState, id ID) {
	kept := st.queue[:0]
	for _, e := range st.queue {
		if e.id != id {
			kept = append(kept, e)
		}
	}
	st.queue = kept
	heap.Init(&st.queue)
	db.depth.Set(float64(len(st.queue)))
}

// IsSignaled reports id's current signalled state.
func (db *Database) IsSignaled(id ID) (bool, error) {
	return tpl.WithResult(db.mu, func(st *dbState) (bool, error) {
		e, ok := st.events[id]
		if !ok {
			return false, status.New("event.IsSignaled", status.NotFound, "unknown event id")
		}
		return e.state == Signaled, nil
	})
}

// ReadAndClearSignaled atomically reads and clears id's signalled
// state, returning what it was immediately before clearing.
func (db *Database) ReadAndClearSignaled(id ID) (bool, error) {
	return tpl.WithResult(db.mu, func(st *dbState) (bool, error) {
		e, ok := st.events[id]
		if !ok {
			return false, status.New("event.ReadAndClearSignaled", status.NotFound, "unknown event id")
		}
		was := e.state == Signaled
		e.state = Created
		e.queued = false
		db.removeFromQueueLocked(st, id)
		return was, nil
	})
}

// QueueEventNotify force-queues id's notify callback regardless of its
// current signalled state.
func (db *Database) QueueEventNotify(id ID) error {
	return tpl.WithErr(db.mu, func(st *dbState) error {
		e, ok := st.events[id]
		if !ok {
			return status.New("event.QueueEventNotify", status.NotFound, "unknown event id")
		}
		if !e.queued {
			db.enqueueLocked(st, e)
		}
		return nil
	})
}

// runDispatch is installed as tpl.Dispatch: it drains every pending
// notify whose tpl is strictly above floor, invoking each notify
// function in priority/FIFO order before returning. Locking db.mu to
// inspect the queue itself lowers and re-raises the TPL, which would
// otherwise re-enter runDispatch recursively and scramble ordering;
// the dispatching flag makes those nested calls into no-ops so only
// the outermost loop ever drains the queue.
func (db *Database) runDispatch(floor tpl.Level) {
	if !db.dispatching.CompareAndSwap(false, true) {
		return
	}
	defer db.dispatching.Store(false)

	for {
		id, notifyTPL, fn, ctx, ok := db.next(floor)
		if !ok {
			return
		}
		if fn != nil {
			// A notify function runs at its own notify_tpl, not at the
			// floor the dispatcher was entered with.
			prev := tpl.Raise(notifyTPL)
			fn(id, ctx)
			tpl.Restore(prev)
		}
	}
}

// notifyResult is the payload next() pulls out of the queue under lock.
type notifyResult struct {
	id  ID
	tpl tpl.Level
	fn  NotifyFunc
	ctx any
	ok  bool
}

// next pops and returns the highest-priority queued notify above
// floor, or reports false without popping if the queue is empty or its
// head is at or below floor; entries at or below the floor stay
// queued.
func (db *Database) next(floor tpl.Level) (ID, tpl.Level, NotifyFunc, any, bool) {
	r, _ := tpl.WithResult(db.mu, func(st *dbState) (notifyResult, error) {
		for len(st.queue) > 0 && st.queue[0].tpl > floor {
			entry := heap.Pop(&st.queue).(notifyEntry)
			db.depth.Set(float64(len(st.queue)))
			e, ok := st.events[entry.id]
			if !ok {
				// Event closed while queued; skip it and keep draining.
				continue
			}
			e.queued = false
			return notifyResult{id: e.id, tpl: entry.tpl, fn: e.notifyFn, ctx: e.notifyCtx, ok: true}, nil
		}
		return notifyResult{}, nil
	})
	return r.id, r.tpl, r.fn, r.ctx, r.ok
}
