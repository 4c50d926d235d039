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

package tunnel

import (
	"unsafe"

	"golang.org/x/sys/unix"
	"guestnet.dev/guestnet/pkg/syserr"
)

// The host socket primitives. Socket addresses cross this boundary as raw
// bytes: the proxy forwards whatever the guest supplied and does not
// interpret the address family.

func firstBytePtr(bs []byte) unsafe.Pointer {
	if len(bs) == 0 {
		return nil
	}
	return unsafe.Pointer(&bs[0])
}

func hostSocket(domain, stype, protocol int32) (int, *syserr.Error) {
	fd, _, errno := unix.Syscall(unix.SYS_SOCKET, uintptr(domain), uintptr(stype), uintptr(protocol))
	if errno != 0 {
		return -1, syserr.FromHost(errno)
	}
	return int(fd), nil
}

func hostBind(fd int, addr []byte) *syserr.Error {
	_, _, errno := unix.Syscall(unix.SYS_BIND, uintptr(fd), uintptr(firstBytePtr(addr)), uintptr(len(addr)))
	if errno != 0 {
		return syserr.FromHost(errno)
	}
	return nil
}

func hostConnect(fd int, addr []byte) *syserr.Error {
	_, _, errno := unix.Syscall(unix.SYS_CONNECT, uintptr(fd), uintptr(firstBytePtr(addr)), uintptr(len(addr)))
	if errno != 0 {
		return syserr.FromHost(errno)
	}
	return nil
}

func hostListen(fd int, backlog int32) *syserr.Error {
	_, _, errno := unix.Syscall(unix.SYS_LISTEN, uintptr(fd), uintptr(backlog), 0)
	if errno != 0 {
		return syserr.FromHost(errno)
	}
	return nil
}

// hostAccept returns the accepted descriptor and the peer address as the
// host produced it, truncated to what actually fits a sockaddr.
func hostAccept(fd int) (int, []byte, *syserr.Error) {
	addr := make([]byte, sizeofSockaddr)
	addrlen := uint32(len(addr))
	afd, _, errno := unix.Syscall6(unix.SYS_ACCEPT4, uintptr(fd), uintptr(unsafe.Pointer(&addr[0])), uintptr(unsafe.Pointer(&addrlen)), 0, 0, 0)
	if errno != 0 {
		return -1, nil, syserr.FromHost(errno)
	}
	if addrlen > uint32(len(addr)) {
		addrlen = uint32(len(addr))
	}
	return int(afd), addr[:addrlen], nil
}

// hostSockName returns the socket's local address as the host sees it,
// including any normalization bind applied (wildcard port resolution).
func hostSockName(fd int) ([]byte, *syserr.Error) {
	addr := make([]byte, sizeofSockaddr)
	addrlen := uint32(len(addr))
	_, _, errno := unix.Syscall(unix.SYS_GETSOCKNAME, uintptr(fd), uintptr(unsafe.Pointer(&addr[0])), uintptr(unsafe.Pointer(&addrlen)))
	if errno != 0 {
		return nil, syserr.FromHost(errno)
	}
	if addrlen > uint32(len(addr)) {
		addrlen = uint32(len(addr))
	}
	return addr[:addrlen], nil
}

func hostRecv(fd int, buf []byte, flags int32) (int, *syserr.Error) {
	n, _, errno := unix.Syscall6(unix.SYS_RECVFROM, uintptr(fd), uintptr(firstBytePtr(buf)), uintptr(len(buf)), uintptr(flags), 0, 0)
	if errno != 0 {
		return -1, syserr.FromHost(errno)
	}
	return int(n), nil
}

func hostSend(fd int, buf []byte, flags int32) (int, *syserr.Error) {
	n, _, errno := unix.Syscall6(unix.SYS_SENDTO, uintptr(fd), uintptr(firstBytePtr(buf)), uintptr(len(buf)), uintptr(flags), 0, 0)
	if errno != 0 {
		return -1, syserr.FromHost(errno)
	}
	return int(n), nil
}

func hostClose(fd int) *syserr.Error {
	return syserr.FromError(unix.Close(fd))
}

// setNonblocking forces O_NONBLOCK onto the descriptor's file flags. Any
// failure is surfaced in the host errno space, even though it came from
// fcntl rather than the socket call that preceded it.
func setNonblocking(fd int) *syserr.Error {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return syserr.FromError(err)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags|unix.O_NONBLOCK); err != nil {
		return syserr.FromError(err)
	}
	return nil
}
