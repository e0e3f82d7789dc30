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

package tpl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRaiseRestore(t *testing.T) {
	require.Equal(t, Application, Current())
	old := Raise(Notify)
	require.Equal(t, Application, old)
	require.Equal(t, Notify, Current())
	Restore(old)
	require.Equal(t, Application, Current())
}

func TestRaiseBelowCurrentPanics(t *testing.T) {
	old := Raise(Notify)
	defer Restore(old)
	require.Panics(t, func() {
		Raise(Callback)
	})
}

func TestMutexWith(t *testing.T) {
	m := NewMutex(HighLevel, 0)
	With(m, func(v *int) { *v = 42 })
	data, unlock := m.Lock()
	require.Equal(t, 42, *data)
	unlock()
	require.Equal(t, Application, Current())
}

func TestDispatchHookCalledOnRestore(t *testing.T) {
	var gotFloor Level
	called := false
	prev := Dispatch
	Dispatch = func(floor Level) { called = true; gotFloor = floor }
	defer func() { Dispatch = prev }()

	old := Raise(Notify)
	Restore(old)
	require.True(t, called)
	require.Equal(t, Application, gotFloor)
}
