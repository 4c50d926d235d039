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

package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"flag"
	"github.com/google/subcommands"
	"golang.org/x/sys/unix"
	"guestnet.dev/guestnet/pkg/guestmem"
	"guestnet.dev/guestnet/pkg/log"
	"guestnet.dev/guestnet/pkg/tunnel"
)

// Guest memory layout for the selftest.
const (
	addrOff    = 0
	addrlenOff = 64
	sendOff    = 128
	recvOff    = 2048
)

// Selftest implements subcommands.Command for the "selftest" command.
type Selftest struct {
	sockets     int
	maxTransfer int
	timeout     time.Duration
}

// Name implements subcommands.Command.Name.
func (*Selftest) Name() string {
	return "selftest"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Selftest) Synopsis() string {
	return "drives every proxy handler over host loopback"
}

// Usage implements subcommands.Command.Usage.
func (*Selftest) Usage() string {
	return `selftest [flags]`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Selftest) SetFlags(f *flag.FlagSet) {
	limits := tunnel.DefaultLimits()
	f.IntVar(&s.sockets, "sockets", limits.Sockets, "descriptor table capacity")
	f.IntVar(&s.maxTransfer, "max-transfer", limits.MaxTransfer, "payload marshaling bound in bytes")
	f.DurationVar(&s.timeout, "timeout", 5*time.Second, "polling deadline for connect, accept and recv")
}

// Execute implements subcommands.Command.Execute.
func (s *Selftest) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	mem := &guestmem.BytesIO{Bytes: make([]byte, 4096)}
	proxy := tunnel.New(mem, tunnel.Limits{Sockets: s.sockets, MaxTransfer: s.maxTransfer})

	srv := proxy.Socket(ctx, unix.AF_INET, unix.SOCK_STREAM, 0)
	if srv < 0 {
		Fatalf("socket: errno %v", proxy.Errno())
	}

	writeSockaddr(ctx, mem, 0)
	if ret := proxy.Bind(ctx, srv, addrOff, unix.SizeofSockaddrInet4); ret != 0 {
		Fatalf("bind: errno %v", proxy.Errno())
	}
	port := readPort(ctx, mem)
	log.Infof("bound loopback server on port %d (guest handle %d)", port, srv)

	if ret := proxy.Listen(ctx, srv, 1); ret != 0 {
		Fatalf("listen: errno %v", proxy.Errno())
	}

	cli := proxy.Socket(ctx, unix.AF_INET, unix.SOCK_STREAM, 0)
	if cli < 0 {
		Fatalf("socket: errno %v", proxy.Errno())
	}
	writeSockaddr(ctx, mem, port)
	s.poll(proxy, "connect", func() int32 {
		return proxy.Connect(ctx, cli, addrOff, unix.SizeofSockaddrInet4)
	})

	conn := s.poll(proxy, "accept", func() int32 {
		return proxy.Accept(ctx, srv, addrOff, addrlenOff)
	})
	log.Infof("accepted peer connection (guest handle %d)", conn)

	msg := []byte("guestnet selftest payload")
	if _, err := mem.CopyOut(ctx, sendOff, msg); err != nil {
		Fatalf("writing guest memory: %v", err)
	}
	if ret := proxy.Send(ctx, cli, sendOff, uint32(len(msg)), 0); ret != int32(len(msg)) {
		Fatalf("send: got %d, errno %v", ret, proxy.Errno())
	}

	n := s.poll(proxy, "recv", func() int32 {
		return proxy.Recv(ctx, conn, recvOff, uint32(s.maxTransfer), 0)
	})
	echo := make([]byte, n)
	if _, err := mem.CopyIn(ctx, recvOff, echo); err != nil {
		Fatalf("reading guest memory: %v", err)
	}
	if !bytes.Equal(echo, msg) {
		Fatalf("payload mismatch: got %q, wanted %q", echo, msg)
	}

	for _, h := range []int32{conn, cli, srv} {
		if ret := proxy.Close(ctx, h); ret != 0 {
			Fatalf("close(%d): errno %v", h, proxy.Errno())
		}
	}
	if n := proxy.Sockets(); n != 0 {
		Fatalf("%d guest sockets still live after close", n)
	}

	fmt.Printf("selftest passed: %d bytes round-tripped over loopback port %d\n", n, port)
	return subcommands.ExitSuccess
}

// poll repeats op until success, failing the selftest on any errno other
// than the would-block family.
func (s *Selftest) poll(proxy *tunnel.Proxy, name string, op func() int32) int32 {
	deadline := time.Now().Add(s.timeout)
	for {
		ret := op()
		if ret >= 0 {
			return ret
		}
		errno := proxy.Errno()
		switch errno {
		case unix.EAGAIN, unix.EINPROGRESS, unix.EALREADY:
		case unix.EISCONN:
			return 0
		default:
			Fatalf("%s: errno %v", name, errno)
		}
		if time.Now().After(deadline) {
			Fatalf("%s: still %v after %v; the guest would keep polling, the selftest gives up", name, errno, s.timeout)
		}
		time.Sleep(time.Millisecond)
	}
}

func writeSockaddr(ctx context.Context, mem *guestmem.BytesIO, port uint16) {
	var sa [unix.SizeofSockaddrInet4]byte
	binary.NativeEndian.PutUint16(sa[0:2], unix.AF_INET)
	binary.BigEndian.PutUint16(sa[2:4], port)
	copy(sa[4:8], []byte{127, 0, 0, 1})
	if _, err := mem.CopyOut(ctx, addrOff, sa[:]); err != nil {
		Fatalf("writing guest sockaddr: %v", err)
	}
}

func readPort(ctx context.Context, mem *guestmem.BytesIO) uint16 {
	var sa [unix.SizeofSockaddrInet4]byte
	if _, err := mem.CopyIn(ctx, addrOff, sa[:]); err != nil {
		Fatalf("reading guest sockaddr: %v", err)
	}
	return binary.BigEndian.Uint16(sa[2:4])
}
