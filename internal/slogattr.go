package internal

import (
	"log/slog"
	"net/netip"
)

// SlogAddrPort returns a slog.Attr for an IPv4 address and port packed into a
// uint64 as 0xAAAAAAAAPPPP without allocating a string. IPv6 addresses are
// not packable and are logged as strings.
func SlogAddrPort(key string, ap netip.AddrPort) slog.Attr {
	addr := ap.Addr().Unmap()
	if !addr.Is4() {
		return slog.String(key, ap.String())
	}
	a4 := addr.As4()
	u64 := uint64(a4[0])<<40 | uint64(a4[1])<<32 | uint64(a4[2])<<24 | uint64(a4[3])<<16 | uint64(ap.Port())
	return slog.Uint64(key, u64)
}
