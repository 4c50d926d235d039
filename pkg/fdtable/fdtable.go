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

// Package fdtable maps guest socket handles to host descriptors.
//
// The table is fixed-capacity, owned by the proxy, and mutated only on the
// single emulation thread; it carries no internal locking. An integrator
// that drives handlers from more than one thread must serialize the whole
// handler invocation.
package fdtable

import "guestnet.dev/guestnet/pkg/syserr"

// Handle is the guest-visible socket number, an index into the table.
// Handles are reused after release and are not contiguous over time.
type Handle = int32

// slot is either free or owns a host descriptor. A slot is claimed (owned
// with no descriptor yet) only for the duration of a single handler, between
// Allocate and SetHostFD.
type slot struct {
	owned  bool
	hostFD int
}

// Table maps guest handles to host descriptors.
type Table struct {
	slots []slot
}

// New returns an empty table with the given capacity.
func New(capacity int) *Table {
	return &Table{slots: make([]slot, capacity)}
}

// Capacity returns the fixed number of slots.
func (t *Table) Capacity() int {
	return len(t.slots)
}

// Used returns the number of owned slots.
func (t *Table) Used() int {
	var n int
	for _, s := range t.slots {
		if s.owned {
			n++
		}
	}
	return n
}

// Allocate claims the lowest free slot. On exhaustion it fails with
// ErrExhausted and the table is unchanged. The caller must either SetHostFD
// or Release the handle before returning to the guest.
func (t *Table) Allocate() (Handle, *syserr.Error) {
	for i := range t.slots {
		if !t.slots[i].owned {
			t.slots[i] = slot{owned: true, hostFD: -1}
			return Handle(i), nil
		}
	}
	return -1, syserr.ErrExhausted
}

// SetHostFD records the host descriptor for a claimed handle.
func (t *Table) SetHostFD(h Handle, hostFD int) {
	t.slots[h].hostFD = hostFD
}

// HostFD is the verify-fd gate: it returns the host descriptor for h, or
// false if h is out of range or does not name an owned slot. No host call
// may run for a handle that fails this check.
func (t *Table) HostFD(h Handle) (int, bool) {
	if h < 0 || int(h) >= len(t.slots) {
		return -1, false
	}
	s := t.slots[h]
	if !s.owned || s.hostFD < 0 {
		return -1, false
	}
	return s.hostFD, true
}

// Release returns the slot to the free state. Releasing a free or
// out-of-range handle is a no-op, not a fault.
func (t *Table) Release(h Handle) {
	if h < 0 || int(h) >= len(t.slots) {
		return
	}
	t.slots[h] = slot{}
}
