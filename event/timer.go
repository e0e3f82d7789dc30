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
	"sort"

	"github.com/patina-fw/dxecore/pkg/status"
	"github.com/patina-fw/dxecore/pkg/tpl"
)

// TimerKind selects the SetTimer mode.
type TimerKind int

const (
	Cancel TimerKind = iota
	Periodic
	Relative
)

// SetTimer arms, rearms, or disarms id's timer. Cancel takes neither
// triggerTime nor period; Periodic requires both; Relative requires
// triggerTime only.
func (db *Database) SetTimer(id ID, kind TimerKind, triggerTime, period *uint64) error {
	switch kind {
	case Cancel:
		if triggerTime != nil || period != nil {
			return status.New("event.SetTimer", status.InvalidParameter, "Cancel takes no trigger_time or period")
		}
	case Periodic:
		if triggerTime == nil || period == nil {
			return status.New("event.SetTimer", status.InvalidParameter, "Periodic requires both trigger_time and period")
		}
	case Relative:
		if triggerTime == nil || period != nil {
			return status.New("event.SetTimer", status.InvalidParameter, "Relative requires trigger_time and no period")
		}
	default:
		return status.New("event.SetTimer", status.InvalidParameter, "unknown timer kind")
	}

	return tpl.WithErr(db.mu, func(st *dbState) error {
		e, ok := st.events[id]
		if !ok {
			return status.New("event.SetTimer", status.NotFound, "unknown event id")
		}
		if e.typ&Timer == 0 {
			return status.New("event.SetTimer", status.InvalidParameter, "event was not created with the Timer flag")
		}
		switch kind {
		case Cancel:
			e.hasTrigger = false
			e.periodic = false
			e.period = 0
		case Periodic:
			e.hasTrigger = true
			e.triggerTime = *triggerTime
			e.periodic = true
			e.period = *period
		case Relative:
			e.hasTrigger = true
			e.triggerTime = *triggerTime
			e.periodic = false
			e.period = 0
		}
		return nil
	})
}

// TimerTick scans every armed timer event and fires (signals) those
// whose trigger_time has passed, rearming periodic timers for their
// next period and disarming one-shot timers.
func (db *Database) TimerTick(now uint64) {
	tpl.With(db.mu, func(st *dbState) {
		// Scan in id order so that two timers expiring on the same tick
		// are queued with deterministic insertion tags.
		ids := make([]ID, 0, len(st.events))
		for id := range st.events {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			e := st.events[id]
			if e.typ&Timer == 0 || !e.hasTrigger || e.triggerTime > now {
				continue
			}
			db.signalLocked(st, e)
			if e.group != nil {
				db.signalGroupLocked(st, *e.group)
			}
			if e.periodic {
				e.triggerTime = now + e.period
			} else {
				e.hasTrigger = false
			}
		}
	})
}
