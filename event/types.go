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

// Package event implements the DXE core's event database and the
// notification dispatcher that runs when the TPL is lowered. Events,
// timers, and the priority-ordered pending-notify queue are the core's
// only source of "preemption"; this package owns the tpl.Dispatch hook
// that makes TPL restores run pending notifications above the new
// floor before returning control.
package event

import (
	"github.com/patina-fw/dxecore/pkg/guid"
	"github.com/patina-fw/dxecore/pkg/tpl"
)

// Type is the bitmask of event kind flags. Composite types like
// EXIT_BOOT_SERVICES are modelled as membership of the well-known
// groups below rather than as distinct flags.
type Type uint32

const (
	Timer Type = 1 << iota
	NotifySignal
	NotifyWait
)

// Well-known event group GUIDs, standing in for UEFI's composite event
// types: callers translate EVT_SIGNAL_EXIT_BOOT_SERVICES and
// EVT_SIGNAL_VIRTUAL_ADDRESS_CHANGE into membership of these groups.
var (
	GroupExitBootServices     = guid.MustParse("27abf055-b1b8-4c26-8048-748f37baa2df")
	GroupVirtualAddressChange = guid.MustParse("13fa7698-c831-49c7-87ea-8f43fcc25196")
	GroupReadyToBoot          = guid.MustParse("7ce88fb3-4bd7-4679-87a8-a8d8dee50d2b")
	GroupMemoryMapChange      = guid.MustParse("31878c87-0b75-11d9-95b6-0002a5d5c51b")
)

// ID identifies an event within a Database. The zero ID never names a
// live event.
type ID uint64

// NotifyFunc is invoked when a signalled event is dispatched. ctx is
// the value supplied to CreateEvent.
type NotifyFunc func(id ID, ctx any)

// State is where an event currently sits in its lifecycle.
type State int

const (
	Created State = iota
	Signaled
	Destroyed
)

type evt struct {
	id        ID
	typ       Type
	state     State
	notifyTPL tpl.Level
	notifyFn  NotifyFunc
	notifyCtx any
	group     *guid.GUID

	hasTrigger  bool
	triggerTime uint64
	periodic    bool
	period      uint64

	queued bool
}
