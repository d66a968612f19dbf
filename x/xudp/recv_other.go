//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package xudp

import (
	"errors"
	"net"
	"net/netip"
	"time"
)

var errWouldBlock = errors.New("xudp: would block")

// recv reads with an immediate deadline. Unlike the unix implementation this may
// wait for up to the platform's timer granularity.
func (tr *Transport) recv(b []byte) (int, netip.AddrPort, error) {
	err := tr.conn.SetReadDeadline(time.Now().Add(time.Microsecond))
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	n, from, err := tr.conn.ReadFromUDPAddrPort(b)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return 0, from, errWouldBlock
		}
		return 0, from, err
	}
	return n, from, nil
}
