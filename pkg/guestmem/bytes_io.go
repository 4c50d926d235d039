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
	"context"

	"golang.org/x/sys/unix"
)

// BytesIO implements IO over a byte slice standing in for guest memory.
// It is used by tests and by the selftest harness in place of a real
// emulated address space.
type BytesIO struct {
	Bytes []byte
}

// CopyIn implements IO.CopyIn. An out-of-range access copies the bytes that
// are in range and fails with EFAULT.
func (b *BytesIO) CopyIn(ctx context.Context, addr Addr, dst []byte) (int, error) {
	rng, err := b.rangeCheck(addr, len(dst))
	if rng == 0 {
		return 0, err
	}
	n := copy(dst[:rng], b.Bytes[int(addr):int(addr)+rng])
	return n, err
}

// CopyOut implements IO.CopyOut.
func (b *BytesIO) CopyOut(ctx context.Context, addr Addr, src []byte) (int, error) {
	rng, err := b.rangeCheck(addr, len(src))
	if rng == 0 {
		return 0, err
	}
	n := copy(b.Bytes[int(addr):int(addr)+rng], src[:rng])
	return n, err
}

// rangeCheck returns the number of bytes at addr that are in range, and
// EFAULT if that is fewer than length.
func (b *BytesIO) rangeCheck(addr Addr, length int) (int, error) {
	if length == 0 {
		return 0, nil
	}
	if uint64(addr) >= uint64(len(b.Bytes)) {
		return 0, unix.EFAULT
	}
	avail := len(b.Bytes) - int(addr)
	if length <= avail {
		return length, nil
	}
	return avail, unix.EFAULT
}
