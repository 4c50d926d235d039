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

// Package tunnel re-executes guest socket operations as host syscalls.
//
// The emulated guest issues socket hypercalls; the dispatch layer (outside
// this package) decodes them and invokes one handler per operation. Each
// handler validates the guest handle against the descriptor table, marshals
// arguments through the bounded guest-memory gateway, runs the host
// networking primitive, and translates the result into the guest-visible
// return convention: a non-negative value on success, -1 with the reason in
// the last-error cell on failure.
//
// Every host descriptor the proxy owns is forced non-blocking when it is
// created or accepted, so no handler can stall the emulation thread on a
// network peer. Would-block results are reported through the cell like any
// other failure; the guest distinguishes them by errno and polls. There is
// no timeout support: a guest wanting a connect or accept deadline must
// bound its own polling.
//
// Handlers run to completion on the single thread driving guest instruction
// emulation. The table and the cell carry no locks; an integrator that
// dispatches from more than one thread must serialize entire handler
// invocations.
package tunnel

import (
	"context"
	"encoding/binary"
	"time"

	"golang.org/x/sys/unix"
	"guestnet.dev/guestnet/pkg/fdtable"
	"guestnet.dev/guestnet/pkg/guestmem"
	"guestnet.dev/guestnet/pkg/log"
	"guestnet.dev/guestnet/pkg/syserr"
)

// sizeofSockaddr is the fixed size of the address structure exchanged with
// the guest. It accommodates an IPv4 endpoint; the bytes are otherwise
// uninterpreted.
const sizeofSockaddr = unix.SizeofSockaddrInet4

// Limits bounds the proxy's guest-visible resources.
type Limits struct {
	// Sockets is the descriptor table capacity.
	Sockets int

	// MaxTransfer bounds a single payload marshal, in bytes.
	MaxTransfer int
}

// DefaultLimits mirrors the original guest-services constants.
func DefaultLimits() Limits {
	return Limits{
		Sockets:     64,
		MaxTransfer: 4096,
	}
}

// Proxy owns the descriptor table, the last-error cell, and the marshaling
// gateway for one guest.
type Proxy struct {
	table *fdtable.Table
	cell  *syserr.Cell
	gw    *guestmem.Gateway

	// pollLog is rate limited: polling guests hit the would-block paths
	// in a tight loop.
	pollLog log.Logger
}

// New returns a Proxy accessing guest memory through io.
func New(io guestmem.IO, limits Limits) *Proxy {
	return &Proxy{
		table:   fdtable.New(limits.Sockets),
		cell:    &syserr.Cell{},
		gw:      &guestmem.Gateway{IO: io, MaxTransfer: limits.MaxTransfer},
		pollLog: log.RateLimited(log.Log(), time.Second),
	}
}

// Errno returns the guest-visible last error code. The dispatch layer
// exposes this to the guest as its errno analogue; it is overwritten by
// every failing handler, so it must be read before the next operation.
func (p *Proxy) Errno() unix.Errno {
	return p.cell.Errno()
}

// Sockets returns the number of live guest sockets.
func (p *Proxy) Sockets() int {
	return p.table.Used()
}

// fail records err in the cell and returns the guest failure value.
func (p *Proxy) fail(err *syserr.Error) int32 {
	p.cell.Set(err)
	if transient(err) {
		p.pollLog.Debugf("tunnel: %v", err)
	} else {
		log.Debugf("tunnel: %v", err)
	}
	return -1
}

// transient reports whether err is one a polling guest is expected to
// retry.
func transient(err *syserr.Error) bool {
	switch err.Errno() {
	case unix.EAGAIN, unix.EINPROGRESS, unix.EALREADY:
		return true
	}
	return false
}

// Socket implements the create operation. It returns a new guest handle
// backed by a non-blocking host socket, passing domain, type and protocol
// through uninterpreted.
func (p *Proxy) Socket(ctx context.Context, domain, stype, protocol int32) int32 {
	h, err := p.table.Allocate()
	if err != nil {
		return p.fail(err)
	}
	fd, err := hostSocket(domain, stype, protocol)
	if err != nil {
		p.table.Release(h)
		return p.fail(err)
	}
	if err := setNonblocking(fd); err != nil {
		// The fcntl errno lands in the cell even though it is not from
		// socket(2); the guest cannot tell the difference.
		log.Warningf("couldn't set non-blocking flags on new host socket: %v", err)
		hostClose(fd)
		p.table.Release(h)
		return p.fail(err)
	}
	p.table.SetHostFD(h, fd)
	return int32(h)
}

// Accept implements the accept operation. On success the peer address and
// its length are written to guest memory at addrAddr and addrlenAddr, and
// the result is a new guest handle for the non-blocking peer socket. On a
// listening socket with no pending connection the host reports EAGAIN and
// the guest polls.
func (p *Proxy) Accept(ctx context.Context, h fdtable.Handle, addrAddr, addrlenAddr guestmem.Addr) int32 {
	fd, ok := p.table.HostFD(h)
	if !ok {
		return p.fail(syserr.ErrInvalidSocket)
	}
	nh, err := p.table.Allocate()
	if err != nil {
		return p.fail(err)
	}
	peerFD, peerAddr, err := hostAccept(fd)
	if err != nil {
		p.table.Release(nh)
		return p.fail(err)
	}
	if err := setNonblocking(peerFD); err != nil {
		log.Warningf("couldn't set non-blocking flags on accepted host socket: %v", err)
		hostClose(peerFD)
		p.table.Release(nh)
		return p.fail(err)
	}
	// The address is written back only on full success; a guest that sees
	// -1 must not trust either output.
	if err := p.gw.CopyOut(ctx, addrAddr, peerAddr); err != nil {
		hostClose(peerFD)
		p.table.Release(nh)
		return p.fail(err)
	}
	var lenBuf [4]byte
	binary.NativeEndian.PutUint32(lenBuf[:], uint32(len(peerAddr)))
	if err := p.gw.CopyOut(ctx, addrlenAddr, lenBuf[:]); err != nil {
		hostClose(peerFD)
		p.table.Release(nh)
		return p.fail(err)
	}
	p.table.SetHostFD(nh, peerFD)
	return int32(nh)
}

// Bind implements the bind operation. The guest address is forwarded
// verbatim; on success the address the host actually bound, including any
// normalization such as wildcard port resolution, is written back to guest
// memory.
func (p *Proxy) Bind(ctx context.Context, h fdtable.Handle, addrAddr guestmem.Addr, addrlen uint32) int32 {
	fd, ok := p.table.HostFD(h)
	if !ok {
		return p.fail(syserr.ErrInvalidSocket)
	}
	if addrlen > sizeofSockaddr {
		return p.fail(syserr.ErrOversize)
	}
	addr, err := p.gw.CopyIn(ctx, addrAddr, int(addrlen))
	if err != nil {
		return p.fail(err)
	}
	if err := hostBind(fd, addr); err != nil {
		return p.fail(err)
	}
	bound, err := hostSockName(fd)
	if err != nil {
		return p.fail(err)
	}
	if len(bound) > int(addrlen) {
		bound = bound[:addrlen]
	}
	if err := p.gw.CopyOut(ctx, addrAddr, bound); err != nil {
		return p.fail(err)
	}
	return 0
}

// Connect implements the connect operation. The socket is non-blocking, so
// the host typically reports EINPROGRESS for a TCP connect; that lands in
// the cell like any failure and the guest polls by repeating the call until
// the host reports success (or EISCONN).
func (p *Proxy) Connect(ctx context.Context, h fdtable.Handle, addrAddr guestmem.Addr, addrlen uint32) int32 {
	fd, ok := p.table.HostFD(h)
	if !ok {
		return p.fail(syserr.ErrInvalidSocket)
	}
	if addrlen > sizeofSockaddr {
		return p.fail(syserr.ErrOversize)
	}
	addr, err := p.gw.CopyIn(ctx, addrAddr, int(addrlen))
	if err != nil {
		return p.fail(err)
	}
	if err := hostConnect(fd, addr); err != nil {
		return p.fail(err)
	}
	if err := p.gw.CopyOut(ctx, addrAddr, addr); err != nil {
		return p.fail(err)
	}
	return 0
}

// Listen implements the listen operation.
func (p *Proxy) Listen(ctx context.Context, h fdtable.Handle, backlog int32) int32 {
	fd, ok := p.table.HostFD(h)
	if !ok {
		return p.fail(syserr.ErrInvalidSocket)
	}
	if err := hostListen(fd, backlog); err != nil {
		return p.fail(err)
	}
	return 0
}

// Send implements the send operation. The payload is bounded before any
// copy; flags pass through uninterpreted. Returns the byte count the host
// actually sent.
func (p *Proxy) Send(ctx context.Context, h fdtable.Handle, bufAddr guestmem.Addr, length uint32, flags int32) int32 {
	fd, ok := p.table.HostFD(h)
	if !ok {
		return p.fail(syserr.ErrInvalidSocket)
	}
	buf, err := p.gw.CopyIn(ctx, bufAddr, int(length))
	if err != nil {
		return p.fail(err)
	}
	n, err := hostSend(fd, buf, flags)
	if err != nil {
		return p.fail(err)
	}
	return int32(n)
}

// Recv implements the recv operation. Only the bytes the host actually
// transferred are copied to guest memory, never the requested maximum. A
// zero result (orderly shutdown by the peer) is reported as a failure; this
// layer does not distinguish it from an error beyond the stored errno.
func (p *Proxy) Recv(ctx context.Context, h fdtable.Handle, bufAddr guestmem.Addr, length uint32, flags int32) int32 {
	fd, ok := p.table.HostFD(h)
	if !ok {
		return p.fail(syserr.ErrInvalidSocket)
	}
	buf, err := p.gw.Buffer(int(length))
	if err != nil {
		return p.fail(err)
	}
	n, err := hostRecv(fd, buf, flags)
	if err != nil {
		return p.fail(err)
	}
	if n == 0 {
		return p.fail(syserr.ErrClosedByPeer)
	}
	if err := p.gw.CopyOut(ctx, bufAddr, buf[:n]); err != nil {
		return p.fail(err)
	}
	return int32(n)
}

// Close releases the guest handle and closes the backing host socket. The
// slot is returned to the table even if the host close fails; the guest
// handle is dead either way.
func (p *Proxy) Close(ctx context.Context, h fdtable.Handle) int32 {
	fd, ok := p.table.HostFD(h)
	if !ok {
		return p.fail(syserr.ErrInvalidSocket)
	}
	err := hostClose(fd)
	p.table.Release(h)
	if err != nil {
		return p.fail(err)
	}
	return 0
}
