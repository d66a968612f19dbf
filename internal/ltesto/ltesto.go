// Package ltesto provides in-memory test doubles for the datagram transport
// and generators for NTP server replies.
package ltesto

import (
	"errors"
	"math/rand"

	"github.com/soypat/rtntp/ntp"
)

var (
	errNotBound     = errors.New("ltesto: transport not bound")
	errClosed       = errors.New("ltesto: transport closed")
	errNotComposing = errors.New("ltesto: write outside BeginSend/EndSend")
)

// Datagram is a packet sent through a [Transport].
type Datagram struct {
	Host string
	Port uint16
	Data []byte
}

// Transport is an in-memory datagram transport. Inbound datagrams are queued
// with [Transport.Deliver] and outbound datagrams are recorded in Sent.
// Reads copy as much of the pending datagram as fits and discard the rest.
type Transport struct {
	// BindErr is returned by Bind when set.
	BindErr error
	// SendErr is returned by EndSend when set. The datagram is not recorded.
	SendErr error

	LocalPort uint16
	Bound     bool
	Closed    bool
	// CloseCalls counts calls to Close.
	CloseCalls int
	Sent       []Datagram
	// Dropped counts inbound bytes discarded because the reader's buffer was too small.
	Dropped int

	composing bool
	out       Datagram
	inbound   [][]byte
}

func (tr *Transport) Bind(localPort uint16) error {
	if tr.BindErr != nil {
		return tr.BindErr
	}
	tr.LocalPort = localPort
	tr.Bound = true
	tr.Closed = false
	return nil
}

func (tr *Transport) Close() error {
	tr.CloseCalls++
	tr.Closed = true
	tr.Bound = false
	tr.inbound = tr.inbound[:0]
	return nil
}

func (tr *Transport) BeginSend(host string, port uint16) error {
	if err := tr.usable(); err != nil {
		return err
	}
	tr.composing = true
	tr.out = Datagram{Host: host, Port: port}
	return nil
}

func (tr *Transport) Write(b []byte) (int, error) {
	if !tr.composing {
		return 0, errNotComposing
	}
	tr.out.Data = append(tr.out.Data, b...)
	return len(b), nil
}

func (tr *Transport) EndSend() error {
	if !tr.composing {
		return errNotComposing
	}
	tr.composing = false
	if tr.SendErr != nil {
		return tr.SendErr
	}
	tr.Sent = append(tr.Sent, tr.out)
	tr.out = Datagram{}
	return nil
}

func (tr *Transport) Available() int {
	if tr.usable() != nil || len(tr.inbound) == 0 {
		return 0
	}
	return len(tr.inbound[0])
}

func (tr *Transport) Read(b []byte) (int, error) {
	if err := tr.usable(); err != nil {
		return 0, err
	} else if len(tr.inbound) == 0 {
		return 0, nil
	}
	dg := tr.inbound[0]
	tr.inbound = tr.inbound[1:]
	n := copy(b, dg)
	tr.Dropped += len(dg) - n
	return n, nil
}

// Deliver queues a copy of data as an inbound datagram.
func (tr *Transport) Deliver(data []byte) {
	tr.inbound = append(tr.inbound, append([]byte(nil), data...))
}

// Pending returns the amount of inbound datagrams not yet read.
func (tr *Transport) Pending() int { return len(tr.inbound) }

// LastSent returns the last datagram sent. It panics if nothing was sent.
func (tr *Transport) LastSent() Datagram {
	return tr.Sent[len(tr.Sent)-1]
}

func (tr *Transport) usable() error {
	if tr.Closed {
		return errClosed
	} else if !tr.Bound {
		return errNotBound
	}
	return nil
}

// ReplyGen generates server replies. Fields other than the transmit timestamp are
// randomized so tests show the client only depends on the transmit seconds.
type ReplyGen struct {
	Stratum ntp.Stratum
	RefID   [4]byte
}

// RandomizeFields sets a random secondary stratum and reference identifier.
func (gen *ReplyGen) RandomizeFields(rng *rand.Rand) {
	gen.Stratum = ntp.Stratum(2 + rng.Intn(14))
	rng.Read(gen.RefID[:])
}

// Reply returns a server reply whose transmit timestamp is unixSeconds since the Unix epoch.
func (gen *ReplyGen) Reply(rng *rand.Rand, unixSeconds uint32) (reply [ntp.SizeHeader]byte) {
	frm, err := ntp.NewFrame(reply[:])
	if err != nil {
		panic(err)
	}
	stratum := gen.Stratum
	if stratum == 0 {
		stratum = 2
	}
	frm.SetFlags(ntp.ModeServer, ntp.Version4, ntp.LeapNoWarning)
	frm.SetStratum(stratum)
	frm.SetPoll(6)
	frm.SetPrecision(int8(-(18 + rng.Intn(8))))
	frm.SetRootDelay(ntp.Short(rng.Uint32() & 0xffff))
	frm.SetRootDispersion(ntp.Short(rng.Uint32() & 0xffff))
	*frm.ReferenceID() = gen.RefID
	xmt := ntp.TimestampFromUint64(uint64(unixSeconds+ntp.UnixEraOffset)<<32 | uint64(rng.Uint32()))
	frm.SetReferenceTime(xmt.Add(-16e9))
	frm.SetOriginTime(ntp.TimestampFromUint64(rng.Uint64()))
	frm.SetReceiveTime(xmt.Add(-1e6))
	frm.SetTransmitTime(xmt)
	return reply
}
