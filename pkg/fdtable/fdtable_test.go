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

package fdtable

import (
	"testing"

	"guestnet.dev/guestnet/pkg/syserr"
)

func TestAllocateUntilExhaustion(t *testing.T) {
	const capacity = 8
	tb := New(capacity)

	for i := 0; i < capacity; i++ {
		h, err := tb.Allocate()
		if err != nil {
			t.Fatalf("Allocate %d: got err %v, wanted nil", i, err)
		}
		if got, want := h, Handle(i); got != want {
			t.Errorf("Allocate %d: got handle %d, wanted %d", i, got, want)
		}
		tb.SetHostFD(h, 100+i)
	}

	if _, err := tb.Allocate(); err != syserr.ErrExhausted {
		t.Fatalf("Allocate on full table: got err %v, wanted ErrExhausted", err)
	}
	if got, want := tb.Used(), capacity; got != want {
		t.Errorf("Used after failed Allocate: got %d, wanted %d", got, want)
	}
	for i := 0; i < capacity; i++ {
		if fd, ok := tb.HostFD(Handle(i)); !ok || fd != 100+i {
			t.Errorf("HostFD(%d) after failed Allocate: got (%d, %v), wanted (%d, true)", i, fd, ok, 100+i)
		}
	}
}

func TestLowestFreeSlotReuse(t *testing.T) {
	tb := New(4)

	h0, _ := tb.Allocate()
	tb.SetHostFD(h0, 10)
	h1, _ := tb.Allocate()
	tb.SetHostFD(h1, 11)
	if h0 != 0 || h1 != 1 {
		t.Fatalf("got handles (%d, %d), wanted (0, 1)", h0, h1)
	}

	tb.Release(h0)
	h, err := tb.Allocate()
	if err != nil {
		t.Fatalf("Allocate after Release: got err %v, wanted nil", err)
	}
	if got, want := h, Handle(0); got != want {
		t.Errorf("Allocate after Release: got handle %d, wanted %d", got, want)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	tb := New(2)
	h, _ := tb.Allocate()
	tb.SetHostFD(h, 42)

	tb.Release(h)
	tb.Release(h)
	tb.Release(-1)
	tb.Release(99)

	if got, want := tb.Used(), 0; got != want {
		t.Errorf("Used: got %d, wanted %d", got, want)
	}
}

func TestHostFDGate(t *testing.T) {
	tb := New(2)
	h, _ := tb.Allocate()
	tb.SetHostFD(h, 7)

	if fd, ok := tb.HostFD(h); !ok || fd != 7 {
		t.Errorf("HostFD(%d): got (%d, %v), wanted (7, true)", h, fd, ok)
	}
	for _, bad := range []Handle{-1, 1, 2, 99} {
		if _, ok := tb.HostFD(bad); ok {
			t.Errorf("HostFD(%d): got ok, wanted failure", bad)
		}
	}
}

func TestClaimedSlotNotVisible(t *testing.T) {
	tb := New(2)
	h, _ := tb.Allocate()

	// A claimed slot has no host descriptor yet and must not pass the
	// verify-fd gate.
	if _, ok := tb.HostFD(h); ok {
		t.Errorf("HostFD on claimed slot: got ok, wanted failure")
	}
}
