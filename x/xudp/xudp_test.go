package xudp

import (
	"errors"
	"math/rand"
	"net"
	"net/netip"
	"testing"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/soypat/rtntp"
	"github.com/soypat/rtntp/internal/ltesto"
	"github.com/soypat/rtntp/monoclock"
	"github.com/soypat/rtntp/ntp"
	"github.com/soypat/rtntp/sntp"
)

// ntpServer answers every request with a reply carrying epoch as transmit seconds.
func ntpServer(t *testing.T, epoch uint32) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	go func() {
		rng := rand.New(rand.NewSource(int64(epoch)))
		var gen ltesto.ReplyGen
		gen.RandomizeFields(rng)
		buf := make([]byte, 512)
		for {
			n, from, err := conn.ReadFromUDPAddrPort(buf)
			if err != nil {
				return
			}
			if n != ntp.SizeHeader {
				continue
			}
			reply := gen.Reply(rng, epoch)
			conn.WriteToUDPAddrPort(reply[:], from)
		}
	}()
	return conn
}

func freePort(t *testing.T) uint16 {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()
	return uint16(port)
}

func serverPort(conn *net.UDPConn) uint16 {
	return uint16(conn.LocalAddr().(*net.UDPAddr).Port)
}

func TestClientSyncsOverLoopback(t *testing.T) {
	const epoch = 1_700_000_000
	sv := ntpServer(t, epoch)
	tr := New(Config{})
	c, err := sntp.New(tr, sntp.Config{
		Server:     "127.0.0.1",
		ServerPort: serverPort(sv),
		LocalPort:  freePort(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	deadline := time.Now().Add(5 * time.Second)
	synced := false
	for !synced && time.Now().Before(deadline) {
		synced = c.Update(monoclock.Millis()) == sntp.Synced
		time.Sleep(time.Millisecond)
	}
	if !synced {
		t.Fatal("client did not sync over loopback")
	}
	got := c.EpochTime(monoclock.Millis())
	if got < epoch || got > epoch+1 {
		t.Errorf("epoch %d, want %d", got, epoch)
	}
}

func TestAvailableDoesNotBlock(t *testing.T) {
	tr := New(Config{})
	err := tr.Bind(freePort(t))
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()
	start := time.Now()
	for i := 0; i < 100; i++ {
		if n := tr.Available(); n != 0 {
			t.Fatalf("unexpected datagram of length %d", n)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("100 empty polls took %s", elapsed)
	}
	n, err := tr.Read(make([]byte, 8))
	if n != 0 || err != nil {
		t.Errorf("empty read returned %d, %v", n, err)
	}
}

func TestDropsForeignSource(t *testing.T) {
	sv := ntpServer(t, 1)
	tr := New(Config{})
	lport := freePort(t)
	if err := tr.Bind(lport); err != nil {
		t.Fatal(err)
	}
	defer tr.Close()
	if err := tr.BeginSend("127.0.0.1", serverPort(sv)); err != nil {
		t.Fatal(err)
	}

	rogue, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer rogue.Close()
	dst := netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), lport)
	_, err = rogue.WriteToUDPAddrPort(make([]byte, ntp.SizeHeader), dst)
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for tr.DroppedSource() == 0 && time.Now().Before(deadline) {
		if n := tr.Available(); n != 0 {
			t.Fatalf("accepted datagram of length %d from foreign source", n)
		}
		time.Sleep(time.Millisecond)
	}
	if tr.DroppedSource() != 1 {
		t.Fatalf("dropped %d datagrams, want 1", tr.DroppedSource())
	}

	// With source checks disabled the rogue datagram is accepted.
	tr2 := New(Config{AcceptAnySource: true})
	lport2 := freePort(t)
	if err := tr2.Bind(lport2); err != nil {
		t.Fatal(err)
	}
	defer tr2.Close()
	_, err = rogue.WriteToUDPAddrPort(make([]byte, 60), netip.AddrPortFrom(dst.Addr(), lport2))
	if err != nil {
		t.Fatal(err)
	}
	var n int
	deadline = time.Now().Add(2 * time.Second)
	for n == 0 && time.Now().Before(deadline) {
		n = tr2.Available()
		time.Sleep(time.Millisecond)
	}
	if n != 60 {
		t.Fatalf("available %d, want 60", n)
	}
	var buf [ntp.SizeHeader]byte
	if n, _ = tr2.Read(buf[:]); n != ntp.SizeHeader {
		t.Errorf("truncated read %d, want %d", n, ntp.SizeHeader)
	}
	if tr2.Available() != 0 {
		t.Error("excess datagram bytes were not discarded")
	}
}

func TestBindTwice(t *testing.T) {
	tr := New(Config{})
	port := freePort(t)
	if err := tr.Bind(port); err != nil {
		t.Fatal(err)
	}
	if err := tr.Bind(port); err == nil {
		t.Error("expected error binding twice")
	}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if _, err := tr.Read(nil); err == nil {
		t.Error("expected error reading closed transport")
	}
}

func TestCheckSource(t *testing.T) {
	tr := New(Config{})
	tr.dst = netip.MustParseAddrPort("10.0.0.1:123")
	if err := tr.checkSource(tr.dst); err != nil {
		t.Errorf("destination rejected: %v", err)
	}
	err := tr.checkSource(netip.MustParseAddrPort("10.0.0.1:124"))
	if !errors.Is(err, rtntp.ErrMismatch) {
		t.Errorf("want mismatch for foreign port, got %v", err)
	}
	tr.cfg.AcceptAnySource = true
	if err := tr.checkSource(netip.MustParseAddrPort("10.0.0.2:123")); err != nil {
		t.Errorf("AcceptAnySource rejected source: %v", err)
	}
}

func TestEmptyDatagramDropped(t *testing.T) {
	sv, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer sv.Close()
	tr := New(Config{})
	lport := freePort(t)
	if err := tr.Bind(lport); err != nil {
		t.Fatal(err)
	}
	defer tr.Close()
	if err := tr.BeginSend("127.0.0.1", serverPort(sv)); err != nil {
		t.Fatal(err)
	}
	dst := netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), lport)
	if _, err = sv.WriteToUDPAddrPort(nil, dst); err != nil {
		t.Fatal(err)
	}
	// Let the empty datagram reach the socket before the reply is sent.
	deadline := time.Now().Add(2 * time.Second)
	for i := 0; i < 10 && time.Now().Before(deadline); i++ {
		if n := tr.Available(); n != 0 {
			t.Fatalf("empty datagram reported as %d bytes", n)
		}
		time.Sleep(time.Millisecond)
	}
	var gen ltesto.ReplyGen
	data := gen.Reply(rand.New(rand.NewSource(1)), 1000)
	if _, err = sv.WriteToUDPAddrPort(data[:], dst); err != nil {
		t.Fatal(err)
	}
	var n int
	for n == 0 && time.Now().Before(deadline) {
		n = tr.Available()
		time.Sleep(time.Millisecond)
	}
	if n != ntp.SizeHeader {
		t.Fatalf("available %d after empty datagram, want %d", n, ntp.SizeHeader)
	}
	var buf [ntp.SizeHeader]byte
	if n, err = tr.Read(buf[:]); err != nil || n != ntp.SizeHeader {
		t.Fatalf("read %d, %v", n, err)
	}
	if ntp.DecodeReplyEpochSeconds(&buf) != 1000 {
		t.Errorf("decoded %d, want 1000", ntp.DecodeReplyEpochSeconds(&buf))
	}
}

func TestBeginSendRecoversFromResolveError(t *testing.T) {
	sv := ntpServer(t, 1)
	tr := New(Config{Network: "udp4"})
	if err := tr.Bind(freePort(t)); err != nil {
		t.Fatal(err)
	}
	defer tr.Close()
	// An IPv6 literal has no udp4 address; resolution fails without DNS.
	if err := tr.BeginSend("::1", ntp.ServerPort); err == nil {
		t.Fatal("expected resolve error")
	}
	if err := tr.EndSend(); err == nil {
		t.Error("expected error ending send after failed BeginSend")
	}
	if err := tr.BeginSend("127.0.0.1", serverPort(sv)); err != nil {
		t.Fatal(err)
	}
	req := ntp.EncodeRequest()
	if _, err := tr.Write(req[:]); err != nil {
		t.Fatal(err)
	}
	if err := tr.EndSend(); err != nil {
		t.Fatal(err)
	}
}

func TestBindAppliesIPv4Options(t *testing.T) {
	const tos, ttl = 0xb8, 64
	tr := New(Config{TOS: tos, TTL: ttl})
	if err := tr.Bind(freePort(t)); err != nil {
		t.Fatal(err)
	}
	defer tr.Close()
	pc := ipv4.NewConn(tr.conn)
	gotTOS, err := pc.TOS()
	if err != nil {
		t.Fatal(err)
	}
	if gotTOS != tos {
		t.Errorf("TOS %#x, want %#x", gotTOS, tos)
	}
	gotTTL, err := pc.TTL()
	if err != nil {
		t.Fatal(err)
	}
	if gotTTL != ttl {
		t.Errorf("TTL %d, want %d", gotTTL, ttl)
	}

	tr6 := New(Config{Network: "udp6", TOS: tos})
	if err := tr6.Bind(freePort(t)); err == nil {
		tr6.Close()
		t.Error("expected error setting IPv4 options on udp6 transport")
	}
}
