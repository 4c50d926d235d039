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
	"guestnet.dev/guestnet/pkg/syserr"
)

// Gateway is the bounded copy path between guest memory and host-local
// buffers. Handlers never touch an IO directly: the gateway checks the
// transfer bound before any copy runs, so a hostile guest-declared length
// can neither allocate unbounded host memory nor reach the copy primitive.
type Gateway struct {
	// IO is the guest address space.
	IO IO

	// MaxTransfer bounds a single CopyIn or CopyOut, in bytes.
	MaxTransfer int
}

// CopyIn copies exactly length bytes of guest memory at addr into a fresh
// host buffer. Lengths beyond MaxTransfer fail with ErrOversize before any
// copy; a bad guest address fails with EFAULT.
func (g *Gateway) CopyIn(ctx context.Context, addr Addr, length int) ([]byte, *syserr.Error) {
	if length < 0 || length > g.MaxTransfer {
		return nil, syserr.ErrOversize
	}
	buf := make([]byte, length)
	if _, err := g.IO.CopyIn(ctx, addr, buf); err != nil {
		return nil, syserr.FromHost(unix.EFAULT)
	}
	return buf, nil
}

// Buffer allocates a host-local buffer of the given length, subject to the
// same bound as a copy. Handlers that fill a buffer from a host call before
// any guest copy runs (receive) use this so the bound is still checked
// before the host call.
func (g *Gateway) Buffer(length int) ([]byte, *syserr.Error) {
	if length < 0 || length > g.MaxTransfer {
		return nil, syserr.ErrOversize
	}
	return make([]byte, length), nil
}

// CopyOut copies exactly len(src) bytes to guest memory at addr. The caller
// passes only what the host call actually produced, never a request-sized
// buffer.
func (g *Gateway) CopyOut(ctx context.Context, addr Addr, src []byte) *syserr.Error {
	if len(src) > g.MaxTransfer {
		return syserr.ErrOversize
	}
	if _, err := g.IO.CopyOut(ctx, addr, src); err != nil {
		return syserr.FromHost(unix.EFAULT)
	}
	return nil
}
