// Copyright 2019 The guestnet Authors.
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

// Package syserr defines the error space visible to the emulated guest.
//
// Every failure a proxy handler can report, whether it originated in a host
// networking primitive or in the proxy's own validation, is expressed as an
// *Error carrying a host errno number. The guest observes only the number,
// through the last-error cell; the message exists for host-side logs.
package syserr

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Error is a proxy-internal error with a guest-visible errno translation.
type Error struct {
	// message is the human readable form of this Error, for host logs.
	message string

	// errno is the host errno number the guest observes.
	errno unix.Errno
}

// New creates a new Error with the given guest-visible errno.
func New(message string, errno unix.Errno) *Error {
	return &Error{message: message, errno: errno}
}

// FromHost returns the Error for a host errno. The number is passed through
// to the guest untranslated; only the message is synthesized.
func FromHost(errno unix.Errno) *Error {
	return &Error{message: errno.Error(), errno: errno}
}

// FromError converts a host call's error to an *Error. A nil err yields nil.
//
// Host networking primitives in this module fail only with unix.Errno
// values; anything else indicates a programming error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	if errno, ok := err.(unix.Errno); ok {
		return FromHost(errno)
	}
	panic(fmt.Sprintf("unknown host error: %v", err))
}

// String implements fmt.Stringer.String.
func (e *Error) String() string {
	if e == nil {
		return "<nil>"
	}
	return e.message
}

// Errno returns the guest-visible errno number.
func (e *Error) Errno() unix.Errno {
	if e == nil {
		return 0
	}
	return e.errno
}

// The proxy error taxonomy.
//
// ErrExhausted and ErrOversize share ENOMEM with the original guest-services
// numeric space: both are resource-limit conditions the host call never saw.
// ErrInvalidSocket is what the verify-fd gate reports.
var (
	// ErrExhausted is returned when the descriptor table has no free slot.
	ErrExhausted = New("no free guest socket slot", unix.ENOMEM)

	// ErrInvalidSocket is returned for a guest handle that is out of range
	// or does not name an owned slot.
	ErrInvalidSocket = New("not a guest socket", unix.ENOTSOCK)

	// ErrOversize is returned when a guest-declared length exceeds the
	// proxy's fixed marshaling bound. The host call never runs.
	ErrOversize = New("transfer exceeds marshaling bound", unix.ENOMEM)

	// ErrClosedByPeer is stored when a receive observes an orderly
	// shutdown. The guest cannot distinguish this from a hard error; see
	// the receive handler.
	ErrClosedByPeer = New("connection closed by peer", unix.ECONNRESET)
)
