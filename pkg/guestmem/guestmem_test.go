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

package guestmem

import (
	"bytes"
	"context"
	"testing"

	"golang.org/x/sys/unix"
	"guestnet.dev/guestnet/pkg/syserr"
)

func newContext() context.Context {
	return context.Background()
}

func newBytesIOString(s string) *BytesIO {
	return &BytesIO{[]byte(s)}
}

func TestBytesIOCopyOutSuccess(t *testing.T) {
	b := newBytesIOString("ABCDE")
	n, err := b.CopyOut(newContext(), 1, []byte("foo"))
	if wantN := 3; n != wantN || err != nil {
		t.Errorf("CopyOut: got (%v, %v), wanted (%v, nil)", n, err, wantN)
	}
	if got, want := b.Bytes, []byte("AfooE"); !bytes.Equal(got, want) {
		t.Errorf("Bytes: got %q, wanted %q", got, want)
	}
}

func TestBytesIOCopyOutFailure(t *testing.T) {
	b := newBytesIOString("ABC")
	n, err := b.CopyOut(newContext(), 1, []byte("foo"))
	if wantN, wantErr := 2, unix.EFAULT; n != wantN || err != wantErr {
		t.Errorf("CopyOut: got (%v, %v), wanted (%v, %v)", n, err, wantN, wantErr)
	}
	if got, want := b.Bytes, []byte("Afo"); !bytes.Equal(got, want) {
		t.Errorf("Bytes: got %q, wanted %q", got, want)
	}
}

func TestBytesIOCopyInSuccess(t *testing.T) {
	b := newBytesIOString("AfooE")
	var dst [3]byte
	n, err := b.CopyIn(newContext(), 1, dst[:])
	if wantN := 3; n != wantN || err != nil {
		t.Errorf("CopyIn: got (%v, %v), wanted (%v, nil)", n, err, wantN)
	}
	if got, want := dst[:], []byte("foo"); !bytes.Equal(got, want) {
		t.Errorf("dst: got %q, wanted %q", got, want)
	}
}

func TestBytesIOCopyInFailure(t *testing.T) {
	b := newBytesIOString("Afo")
	var dst [3]byte
	n, err := b.CopyIn(newContext(), 1, dst[:])
	if wantN, wantErr := 2, unix.EFAULT; n != wantN || err != wantErr {
		t.Errorf("CopyIn: got (%v, %v), wanted (%v, %v)", n, err, wantN, wantErr)
	}
	if got, want := dst[:], []byte("fo\x00"); !bytes.Equal(got, want) {
		t.Errorf("dst: got %q, wanted %q", got, want)
	}
}

func TestBytesIOAddrOutOfRange(t *testing.T) {
	b := newBytesIOString("ABC")
	var dst [1]byte
	if n, err := b.CopyIn(newContext(), 7, dst[:]); n != 0 || err != unix.EFAULT {
		t.Errorf("CopyIn: got (%v, %v), wanted (0, EFAULT)", n, err)
	}
	if n, err := b.CopyOut(newContext(), 7, []byte("x")); n != 0 || err != unix.EFAULT {
		t.Errorf("CopyOut: got (%v, %v), wanted (0, EFAULT)", n, err)
	}
}

func TestGatewayCopyInBound(t *testing.T) {
	b := newBytesIOString("ABCDEFGH")
	g := &Gateway{IO: b, MaxTransfer: 4}

	buf, err := g.CopyIn(newContext(), 2, 4)
	if err != nil {
		t.Fatalf("CopyIn: got err %v, wanted nil", err)
	}
	if got, want := buf, []byte("CDEF"); !bytes.Equal(got, want) {
		t.Errorf("CopyIn: got %q, wanted %q", got, want)
	}

	if _, err := g.CopyIn(newContext(), 0, 5); err != syserr.ErrOversize {
		t.Errorf("CopyIn over bound: got err %v, wanted ErrOversize", err)
	}
	if _, err := g.CopyIn(newContext(), 0, -1); err != syserr.ErrOversize {
		t.Errorf("CopyIn negative length: got err %v, wanted ErrOversize", err)
	}
}

func TestGatewayCopyOutBound(t *testing.T) {
	b := newBytesIOString("ABCDEFGH")
	g := &Gateway{IO: b, MaxTransfer: 4}

	if err := g.CopyOut(newContext(), 1, []byte("xy")); err != nil {
		t.Fatalf("CopyOut: got err %v, wanted nil", err)
	}
	if got, want := b.Bytes, []byte("AxyDEFGH"); !bytes.Equal(got, want) {
		t.Errorf("Bytes: got %q, wanted %q", got, want)
	}

	if err := g.CopyOut(newContext(), 0, []byte("toolarge")); err != syserr.ErrOversize {
		t.Errorf("CopyOut over bound: got err %v, wanted ErrOversize", err)
	}
}

func TestGatewayBadAddress(t *testing.T) {
	b := newBytesIOString("AB")
	g := &Gateway{IO: b, MaxTransfer: 16}

	if _, err := g.CopyIn(newContext(), 5, 1); err == nil || err.Errno() != unix.EFAULT {
		t.Errorf("CopyIn: got err %v, wanted EFAULT", err)
	}
	if err := g.CopyOut(newContext(), 5, []byte("x")); err == nil || err.Errno() != unix.EFAULT {
		t.Errorf("CopyOut: got err %v, wanted EFAULT", err)
	}
}
