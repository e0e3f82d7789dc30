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
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patina-fw/dxecore/pkg/tpl"
)

func TestCreateEventValidation(t *testing.T) {
	db := NewDatabase(zap.NewNop())

	_, err := db.CreateEvent(NotifySignal, tpl.Notify, nil, nil, nil)
	require.Error(t, err, "NOTIFY_SIGNAL without a notify_fn must be rejected")

	_, err = db.CreateEvent(NotifySignal, tpl.Application, func(ID, any) {}, nil, nil)
	require.Error(t, err, "notify_tpl at Application is below the legal range")

	_, err = db.CreateEvent(NotifySignal|NotifyWait, tpl.Notify, func(ID, any) {}, nil, nil)
	require.Error(t, err, "NOTIFY_SIGNAL and NOTIFY_WAIT cannot be combined")

	id, err := db.CreateEvent(NotifySignal, tpl.Notify, func(ID, any) {}, nil, nil)
	require.NoError(t, err)
	require.NotZero(t, id)
}

// two events at each of CALLBACK, NOTIFY,
// HIGH_LEVEL, signalled interleaved; event_notification_iter(APPLICATION)
// yields HIGH_LEVEL first (creation order), then NOTIFY, then CALLBACK.
func TestEventPriorityOrdering(t *testing.T) {
	db := NewDatabase(zap.NewNop())

	mk := func(level tpl.Level) ID {
		id, err := db.CreateEvent(NotifySignal, level, func(ID, any) {}, nil, nil)
		require.NoError(t, err)
		return id
	}

	cb1, cb2 := mk(tpl.Callback), mk(tpl.Callback)
	nf1, nf2 := mk(tpl.Notify), mk(tpl.Notify)
	hl1, hl2 := mk(tpl.HighLevel), mk(tpl.HighLevel)

	for _, id := range []ID{cb1, nf1, hl1, cb2, nf2, hl2} {
		require.NoError(t, db.SignalEvent(id))
	}

	var order []ID
	it := db.EventNotificationIter(tpl.Application)
	for {
		id, _, _, ok := it.Next()
		if !ok {
			break
		}
		order = append(order, id)
	}

	require.Equal(t, []ID{hl1, hl2, nf1, nf2, cb1, cb2}, order)
}

func TestSignalTwiceQueuesOnce(t *testing.T) {
	db := NewDatabase(zap.NewNop())
	id, err := db.CreateEvent(NotifySignal, tpl.Notify, func(ID, any) {}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, db.SignalEvent(id))
	require.NoError(t, db.SignalEvent(id))

	it := db.EventNotificationIter(tpl.Application)
	_, _, _, ok := it.Next()
	require.True(t, ok)
	_, _, _, ok = it.Next()
	require.False(t, ok, "the same event must not be queued twice without an intervening clear")
}

// periodic timer, period=trigger=0x100.
func TestTimerTickPeriodic(t *testing.T) {
	db := NewDatabase(zap.NewNop())
	id, err := db.CreateEvent(Timer|NotifySignal, tpl.Notify, func(ID, any) {}, nil, nil)
	require.NoError(t, err)

	trigger, period := uint64(0x100), uint64(0x100)
	require.NoError(t, db.SetTimer(id, Periodic, &trigger, &period))

	db.TimerTick(0x100)
	signaled, err := db.IsSignaled(id)
	require.NoError(t, err)
	require.True(t, signaled)

	require.NoError(t, db.ClearSignal(id))
	db.TimerTick(0x1FF)
	signaled, err = db.IsSignaled(id)
	require.NoError(t, err)
	require.False(t, signaled, "timer must not refire before its next period elapses")

	db.TimerTick(0x210)
	signaled, err = db.IsSignaled(id)
	require.NoError(t, err)
	require.True(t, signaled)
}

func TestSetTimerCrossChecks(t *testing.T) {
	db := NewDatabase(zap.NewNop())
	id, err := db.CreateEvent(Timer, tpl.Notify, nil, nil, nil)
	require.NoError(t, err)

	trigger, period := uint64(1), uint64(1)
	require.Error(t, db.SetTimer(id, Cancel, &trigger, nil))
	require.Error(t, db.SetTimer(id, Periodic, &trigger, nil))
	require.Error(t, db.SetTimer(id, Relative, nil, &period))
	require.NoError(t, db.SetTimer(id, Relative, &trigger, nil))
	require.NoError(t, db.SetTimer(id, Cancel, nil, nil))
}

func TestGroupSignalFansOut(t *testing.T) {
	db := NewDatabase(zap.NewNop())
	group := GroupExitBootServices

	a, err := db.CreateEvent(NotifySignal, tpl.Notify, func(ID, any) {}, nil, &group)
	require.NoError(t, err)
	b, err := db.CreateEvent(NotifySignal, tpl.Notify, func(ID, any) {}, nil, &group)
	require.NoError(t, err)

	require.NoError(t, db.SignalEvent(a))

	sigB, err := db.IsSignaled(b)
	require.NoError(t, err)
	require.True(t, sigB, "signalling one group member must signal the rest")
}

func TestCloseEventSkippedByIterator(t *testing.T) {
	db := NewDatabase(zap.NewNop())
	id, err := db.CreateEvent(NotifySignal, tpl.Notify, func(ID, any) {}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, db.SignalEvent(id))
	require.NoError(t, db.CloseEvent(id))

	it := db.EventNotificationIter(tpl.Application)
	_, _, _, ok := it.Next()
	require.False(t, ok, "closing a queued event must make the iterator skip it transparently")
}

func TestInstallRunsDispatchOnRestore(t *testing.T) {
	db := NewDatabase(zap.NewNop())
	db.Install()
	t.Cleanup(func() { tpl.Dispatch = nil })

	ran := false
	id, err := db.CreateEvent(NotifySignal, tpl.Notify, func(ID, any) { ran = true }, nil, nil)
	require.NoError(t, err)

	old := tpl.Raise(tpl.Notify)
	require.NoError(t, db.SignalEvent(id))
	tpl.Restore(old)

	require.True(t, ran)
}
