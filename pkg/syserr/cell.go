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

package syserr

import "golang.org/x/sys/unix"

// Cell is the guest-visible last-error slot, the analogue of errno.
//
// Every failing handler overwrites it; a guest that wants to know why a call
// failed must read it before issuing the next operation. The cell is plain
// shared state with no internal locking: the proxy contract is that handlers
// run to completion on the single emulation thread, and an integrator that
// dispatches from more than one thread must serialize around the whole
// handler invocation, not just the cell.
type Cell struct {
	errno unix.Errno
}

// Set records the errno of err. A nil err clears the cell.
func (c *Cell) Set(err *Error) {
	c.errno = err.Errno()
}

// Errno returns the most recently recorded errno number.
func (c *Cell) Errno() unix.Errno {
	return c.errno
}
