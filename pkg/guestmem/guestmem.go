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

// Package guestmem governs access to the emulated guest's memory.
//
// The IO interface is implemented by the integrating emulator over whatever
// debug memory-copy primitive it has; implementations must report a bad
// guest address as an error rather than faulting the emulation thread. The
// Gateway is the only path proxy handlers may use, and it enforces the
// transfer bound itself rather than trusting the primitive beneath it.
package guestmem

import "context"

// Addr is a guest virtual address.
type Addr uint64

// IO provides access to the contents of the guest address space.
type IO interface {
	// CopyIn copies len(dst) bytes from the guest memory at addr to dst.
	// It returns the number of bytes copied. If the number of bytes
	// copied is < len(dst), it returns a non-nil error explaining why.
	CopyIn(ctx context.Context, addr Addr, dst []byte) (int, error)

	// CopyOut copies len(src) bytes from src to the guest memory at addr.
	// It returns the number of bytes copied. If the number of bytes
	// copied is < len(src), it returns a non-nil error explaining why.
	CopyOut(ctx context.Context, addr Addr, src []byte) (int, error)
}
