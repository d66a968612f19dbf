// Package xudp implements the [sntp.Transport] over the host's UDP sockets
// with non-blocking receives.
//
// [sntp.Transport]: https://pkg.go.dev/github.com/soypat/rtntp/sntp#Transport
package xudp

import (
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"syscall"

	"golang.org/x/net/ipv4"

	"github.com/soypat/rtntp"
	"github.com/soypat/rtntp/internal"
)

const defaultMaxDatagram = 512

var (
	errNotBound     = errors.New("xudp: transport not bound")
	errBound        = errors.New("xudp: transport already bound")
	errNotComposing = errors.New("xudp: write outside BeginSend/EndSend")
	errNoDest       = errors.New("xudp: no destination")
)

// Config configures a [Transport]. The zero value is ready for use.
type Config struct {
	// Network is one of "udp", "udp4" or "udp6". Defaults to "udp4".
	Network string
	// AcceptAnySource disables dropping datagrams whose source is not the
	// address of the last destination sent to.
	AcceptAnySource bool
	// TOS sets the IPv4 type of service (DSCP and ECN) of outgoing datagrams when non-zero.
	TOS int
	// TTL sets the IPv4 time to live of outgoing datagrams when non-zero.
	TTL int
	// MaxDatagram is the size of the receive buffer. Longer datagrams are truncated.
	// Defaults to 512.
	MaxDatagram int
	Logger      *slog.Logger
}

// Transport is a UDP datagram transport whose receive path never blocks.
// Destination hostnames are resolved once and cached until a different host
// or port is sent to, so the first send to a hostname may wait on DNS.
// A failed resolution is not cached: every following BeginSend resolves again
// and may block for the resolver's timeout while DNS is unreachable. Hosts
// that must never stall should pass a literal IP address.
type Transport struct {
	cfg  Config
	conn *net.UDPConn
	raw  syscall.RawConn

	dstHost string
	dstPort uint16
	dst     netip.AddrPort

	composing bool
	out       []byte

	in      []byte
	inLen   int
	pending bool

	droppedSource uint64
	logger
}

// New returns a Transport configured with cfg. No socket is opened until Bind.
func New(cfg Config) *Transport {
	if cfg.Network == "" {
		cfg.Network = "udp4"
	}
	if cfg.MaxDatagram <= 0 {
		cfg.MaxDatagram = defaultMaxDatagram
	}
	return &Transport{
		cfg:    cfg,
		in:     make([]byte, cfg.MaxDatagram),
		out:    make([]byte, 0, 64),
		logger: logger{log: cfg.Logger},
	}
}

// Bind opens a UDP socket on localPort of all local addresses.
func (tr *Transport) Bind(localPort uint16) error {
	if tr.conn != nil {
		return errBound
	}
	conn, err := net.ListenUDP(tr.cfg.Network, &net.UDPAddr{Port: int(localPort)})
	if err != nil {
		return err
	}
	raw, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return err
	}
	if tr.cfg.TOS != 0 || tr.cfg.TTL != 0 {
		err = tr.setIPv4Options(conn)
		if err != nil {
			conn.Close()
			return err
		}
	}
	tr.conn = conn
	tr.raw = raw
	tr.debug("xudp:bind", slog.String("laddr", conn.LocalAddr().String()))
	return nil
}

func (tr *Transport) setIPv4Options(conn *net.UDPConn) error {
	if tr.cfg.Network == "udp6" {
		return errors.New("xudp: TOS/TTL only supported on IPv4")
	}
	pc := ipv4.NewConn(conn)
	if tr.cfg.TOS != 0 {
		if err := pc.SetTOS(tr.cfg.TOS); err != nil {
			return err
		}
	}
	if tr.cfg.TTL != 0 {
		if err := pc.SetTTL(tr.cfg.TTL); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the socket. It is safe to call on a Transport whose Bind failed.
func (tr *Transport) Close() error {
	if tr.conn == nil {
		return nil
	}
	err := tr.conn.Close()
	tr.conn = nil
	tr.raw = nil
	tr.pending = false
	tr.composing = false
	tr.debug("xudp:close")
	return err
}

// LocalAddr returns the bound local address or an invalid AddrPort if not bound.
func (tr *Transport) LocalAddr() netip.AddrPort {
	if tr.conn == nil {
		return netip.AddrPort{}
	}
	return tr.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// DroppedSource returns the amount of datagrams dropped for not coming from the destination.
func (tr *Transport) DroppedSource() uint64 { return tr.droppedSource }

func (tr *Transport) BeginSend(host string, port uint16) error {
	if tr.conn == nil {
		return errNotBound
	}
	if host != tr.dstHost || port != tr.dstPort || !tr.dst.IsValid() {
		addr, err := net.ResolveUDPAddr(tr.cfg.Network, net.JoinHostPort(host, strconv.Itoa(int(port))))
		if err != nil {
			tr.dst = netip.AddrPort{}
			return err
		}
		tr.dstHost = host
		tr.dstPort = port
		tr.dst = unmap(addr.AddrPort())
		tr.debug("xudp:resolved", slog.String("host", host), internal.SlogAddrPort("addr", tr.dst))
	}
	tr.composing = true
	tr.out = tr.out[:0]
	return nil
}

func (tr *Transport) Write(b []byte) (int, error) {
	if !tr.composing {
		return 0, errNotComposing
	}
	tr.out = append(tr.out, b...)
	return len(b), nil
}

func (tr *Transport) EndSend() error {
	if !tr.composing {
		return errNotComposing
	} else if tr.conn == nil {
		return errNotBound
	} else if !tr.dst.IsValid() {
		return errNoDest
	}
	tr.composing = false
	_, err := tr.conn.WriteToUDPAddrPort(tr.out, tr.dst)
	return err
}

// Available returns the length of the next datagram or 0 if none has arrived.
// Datagrams from sources other than the destination are discarded here unless
// [Config.AcceptAnySource] is set.
func (tr *Transport) Available() int {
	if tr.conn == nil {
		return 0
	} else if tr.pending {
		return tr.inLen
	}
	// Bounded loop so a flood of foreign datagrams cannot stall the host loop.
	for i := 0; i < 4; i++ {
		n, from, err := tr.recv(tr.in)
		if err != nil {
			if err != errWouldBlock {
				tr.warn("xudp:recv", slog.String("err", err.Error()))
			}
			return 0
		}
		from = unmap(from)
		if err = tr.checkSource(from); err != nil {
			tr.droppedSource++
			tr.debug("xudp:drop-source", internal.SlogAddrPort("from", from), slog.Int("plen", n), slog.String("err", err.Error()))
			continue
		} else if n == 0 {
			// Available reports 0 as no datagram so an empty one could never be read.
			tr.debug("xudp:drop-empty", internal.SlogAddrPort("from", from))
			continue
		}
		tr.inLen = n
		tr.pending = true
		return n
	}
	return 0
}

func (tr *Transport) checkSource(from netip.AddrPort) error {
	if tr.cfg.AcceptAnySource || from == tr.dst {
		return nil
	}
	return rtntp.ErrMismatch
}

// Read copies the next datagram into b. Bytes that do not fit are discarded.
func (tr *Transport) Read(b []byte) (int, error) {
	if tr.conn == nil {
		return 0, errNotBound
	}
	if !tr.pending && tr.Available() == 0 {
		return 0, nil
	}
	n := copy(b, tr.in[:tr.inLen])
	tr.pending = false
	tr.inLen = 0
	return n, nil
}

func unmap(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

type logger struct {
	log *slog.Logger
}

func (l logger) warn(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelWarn, msg, attrs...)
}
func (l logger) debug(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelDebug, msg, attrs...)
}
