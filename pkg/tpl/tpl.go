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

// Package tpl implements the DXE core's single concurrency primitive:
// Task Priority Levels and a ceiling-protocol mutex built on them. The
// core is single-processor and cooperatively scheduled; the only source
// of "preemption" is a pending notification callback running when the
// local TPL is lowered.
package tpl

import (
	"fmt"
	"sync/atomic"
)

// Level is a Task Priority Level. Numeric values match the UEFI
// specification's TPL constants so that "higher TPL runs first"
// checks are ordinary integer comparisons.
type Level uint32

const (
	Application Level = 4
	Callback    Level = 8
	Notify      Level = 16
	HighLevel   Level = 31
)

func (l Level) String() string {
	switch l {
	case Application:
		return "Application"
	case Callback:
		return "Callback"
	case Notify:
		return "Notify"
	case HighLevel:
		return "HighLevel"
	default:
		return fmt.Sprintf("Level(%d)", uint32(l))
	}
}

var current atomic.Uint32

func init() { current.Store(uint32(Application)) }

// Current returns the TPL the calling logical processor is presently
// running at.
func Current() Level { return Level(current.Load()) }

// Dispatch is invoked by Restore whenever the TPL is lowered, given the
// new (lower) floor. The event package's Database.Install sets this
// hook so that pending notifies above the new floor run before Restore
// returns. It is nil until Install is called, and while it is nil
// Restore is a pure level change (useful for tests of
// lower-level packages in isolation).
var Dispatch func(floor Level)

// Raise raises the current TPL to new and returns the previous level,
// which the caller must later pass to Restore. Raising to a level lower
// than the current one is a broken internal invariant, not a user
// error, and panics rather than returning a status code.
func Raise(new Level) Level {
	old := Level(current.Swap(uint32(new)))
	if new < old {
		panic(fmt.Sprintf("tpl: Raise(%s) below current %s", new, old))
	}
	return old
}

// Restore lowers the current TPL back to old, running any pending
// notifications queued above the new floor before returning to the
// caller.
func Restore(old Level) {
	new := Level(current.Load())
	if old > new {
		panic(fmt.Sprintf("tpl: Restore(%s) above current %s", old, new))
	}
	current.Store(uint32(old))
	if Dispatch != nil {
		Dispatch(old)
	}
}

// Mutex is a ceiling-protocol lock parameterized by the data it guards.
// Acquiring it raises the local TPL to Ceiling (disabling dispatch of
// same-or-lower notifications) and spins on an atomic bit; releasing it
// restores the prior TPL. This is the entire concurrency primitive the
// DXE core needs: every process-wide singleton (GCD, pool
// allocators, event DB, protocol DB, FV private map) is one of these.
type Mutex[T any] struct {
	Ceiling Level
	locked  atomic.Bool
	data    T
}

// NewMutex constructs a Mutex with the given ceiling TPL guarding the
// given initial data value.
func NewMutex[T any](ceiling Level, data T) *Mutex[T] {
	return &Mutex[T]{Ceiling: ceiling, data: data}
}

// Lock raises the TPL to m.Ceiling, spins until the guard bit is
// acquired, and returns a pointer to the guarded data plus an unlock
// function. The returned pointer must not escape past the matching
// Unlock call.
func (m *Mutex[T]) Lock() (*T, func()) {
	old := Raise(m.Ceiling)
	for !m.locked.CompareAndSwap(false, true) {
		// Single-processor cooperative model: the only way this spins
		// is a reentrant Lock from the same logical flow, which is a
		// programming error, not contention from another processor.
	}
	return &m.data, func() {
		m.locked.Store(false)
		Restore(old)
	}
}

// With runs fn with the guarded data locked, unlocking on return.
func With[T any](m *Mutex[T], fn func(*T)) {
	data, unlock := m.Lock()
	defer unlock()
	fn(data)
}

// WithErr is With for functions that can fail.
func WithErr[T any](m *Mutex[T], fn func(*T) error) error {
	data, unlock := m.Lock()
	defer unlock()
	return fn(data)
}

// WithResult is With for functions that return a value alongside an
// error.
func WithResult[T any, R any](m *Mutex[T], fn func(*T) (R, error)) (R, error) {
	data, unlock := m.Lock()
	defer unlock()
	return fn(data)
}
