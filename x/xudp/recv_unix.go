//go:build linux || darwin || freebsd || netbsd || openbsd

package xudp

import (
	"errors"
	"net/netip"

	"golang.org/x/sys/unix"
)

var errWouldBlock = errors.New("xudp: would block")

// recv performs a single recvfrom with MSG_DONTWAIT on the socket. The runtime
// poller is never parked on since the callback always reports done.
func (tr *Transport) recv(b []byte) (n int, from netip.AddrPort, err error) {
	var rerr error
	var sa unix.Sockaddr
	err = tr.raw.Read(func(fd uintptr) bool {
		n, sa, rerr = unix.Recvfrom(int(fd), b, unix.MSG_DONTWAIT)
		return true
	})
	if err != nil {
		return 0, from, err
	} else if rerr == unix.EAGAIN || rerr == unix.EWOULDBLOCK || rerr == unix.EINTR {
		return 0, from, errWouldBlock
	} else if rerr != nil {
		return 0, from, rerr
	}
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		from = netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		from = netip.AddrPortFrom(netip.AddrFrom16(sa.Addr), uint16(sa.Port))
	}
	if n > len(b) {
		n = len(b)
	}
	return n, from, nil
}
