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

// Package status defines the single flat error taxonomy shared by every
// DXE core subsystem. Each Code mirrors a UEFI status code 1:1; internal
// code propagates *Error values, and only the FFI/extern boundary (not
// modeled in this module) need ever convert a Code to its raw EFI_STATUS
// integer.
package status

import "fmt"

// Code is a DXE core status code. The zero value is never used as an
// error; callers compare against the exported Code constants.
type Code int

const (
	InvalidParameter Code = iota + 1
	NotFound
	OutOfResources
	AccessDenied
	AlreadyStarted
	BufferTooSmall
	Unsupported
	DeviceError
	NotReady
	Aborted
	WriteProtected
	VolumeCorrupted
)

func (c Code) String() string {
	switch c {
	case InvalidParameter:
		return "InvalidParameter"
	case NotFound:
		return "NotFound"
	case OutOfResources:
		return "OutOfResources"
	case AccessDenied:
		return "AccessDenied"
	case AlreadyStarted:
		return "AlreadyStarted"
	case BufferTooSmall:
		return "BufferTooSmall"
	case Unsupported:
		return "Unsupported"
	case DeviceError:
		return "DeviceError"
	case NotReady:
		return "NotReady"
	case Aborted:
		return "Aborted"
	case WriteProtected:
		return "WriteProtected"
	case VolumeCorrupted:
		return "VolumeCorrupted"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// Error is the single concrete error type used across the core. It
// pairs a taxonomy Code with an optional human-readable detail and/or
// wrapped cause.
type Error struct {
	Code    Code
	Op      string // subsystem/operation that produced the error, e.g. "gcd.Allocate"
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Code, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Code, so callers
// can write errors.Is(err, status.New("", status.NotFound, "")) or, more
// commonly, use the Code-comparison helper Is below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New constructs an *Error for the given operation and code.
func New(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Message: msg}
}

// Wrap constructs an *Error that chains an underlying cause.
func Wrap(op string, code Code, err error) *Error {
	return &Error{Op: op, Code: code, Err: err}
}

// Wrapf is Wrap with a formatted message alongside the cause.
func Wrapf(op string, code Code, err error, format string, args ...any) *Error {
	return &Error{Op: op, Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the Code carried by err, walking the Unwrap chain. It
// returns false if neither err nor anything in its chain is a *Error.
func CodeOf(err error) (Code, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return 0, false
}

// Is reports whether err carries the given Code anywhere in its chain.
func Is(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
