package ntp

import (
	"encoding/binary"
	"errors"

	"github.com/soypat/rtntp"
)

// NewFrame returns a new Frame with data set to buf.
// An error is returned if the buffer size is smaller than [SizeHeader].
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < SizeHeader {
		return Frame{buf: buf}, errShort
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of an NTP packet header and provides
// methods for manipulating and retrieving its fields. See [RFC5905].
//
// [RFC5905]: https://tools.ietf.org/html/rfc5905
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (frm Frame) RawData() []byte { return frm.buf }

// Flags returns the mode, version and leap indicator packed in the first byte of the header.
func (frm Frame) Flags() (mode Mode, version Version, leap LeapIndicator) {
	b := frm.buf[0]
	return Mode(b & 0b111), Version((b >> 3) & 0b111), LeapIndicator(b >> 6)
}

// SetFlags sets the first byte of the header. See [Frame.Flags].
func (frm Frame) SetFlags(mode Mode, version Version, leap LeapIndicator) {
	frm.buf[0] = byte(leap)<<6 | byte(version&0b111)<<3 | byte(mode&0b111)
}

// Stratum returns the stratum of the server that sent the packet.
func (frm Frame) Stratum() Stratum { return Stratum(frm.buf[1]) }

// SetStratum sets the stratum field. See [Frame.Stratum].
func (frm Frame) SetStratum(s Stratum) { frm.buf[1] = byte(s) }

// Poll returns the log2 of the maximum interval between successive messages in seconds.
func (frm Frame) Poll() int8 { return int8(frm.buf[2]) }

// SetPoll sets the poll exponent field. See [Frame.Poll].
func (frm Frame) SetPoll(poll int8) { frm.buf[2] = byte(poll) }

// Precision returns the log2 of the precision of the sender's clock in seconds.
func (frm Frame) Precision() int8 { return int8(frm.buf[3]) }

// SetPrecision sets the precision field. See [Frame.Precision].
func (frm Frame) SetPrecision(prec int8) { frm.buf[3] = byte(prec) }

// RootDelay returns the total round-trip delay to the reference clock.
func (frm Frame) RootDelay() Short { return Short(binary.BigEndian.Uint32(frm.buf[4:8])) }

// SetRootDelay sets the root delay field. See [Frame.RootDelay].
func (frm Frame) SetRootDelay(d Short) { binary.BigEndian.PutUint32(frm.buf[4:8], uint32(d)) }

// RootDispersion returns the total dispersion to the reference clock.
func (frm Frame) RootDispersion() Short { return Short(binary.BigEndian.Uint32(frm.buf[8:12])) }

// SetRootDispersion sets the root dispersion field. See [Frame.RootDispersion].
func (frm Frame) SetRootDispersion(d Short) { binary.BigEndian.PutUint32(frm.buf[8:12], uint32(d)) }

// ReferenceID returns a pointer to the 4 byte reference identifier. For stratum 0
// packets it holds the kiss code, for stratum 1 a reference clock code.
func (frm Frame) ReferenceID() *[4]byte { return (*[4]byte)(frm.buf[12:16]) }

// ReferenceTime is the time when the system clock was last set or corrected.
func (frm Frame) ReferenceTime() Timestamp { return frm.timestamp(16) }

// SetReferenceTime sets the reference timestamp. See [Frame.ReferenceTime].
func (frm Frame) SetReferenceTime(ts Timestamp) { frm.setTimestamp(16, ts) }

// OriginTime is the client time at which the request departed for the server.
func (frm Frame) OriginTime() Timestamp { return frm.timestamp(24) }

// SetOriginTime sets the origin timestamp. See [Frame.OriginTime].
func (frm Frame) SetOriginTime(ts Timestamp) { frm.setTimestamp(24, ts) }

// ReceiveTime is the server time at which the request arrived.
func (frm Frame) ReceiveTime() Timestamp { return frm.timestamp(32) }

// SetReceiveTime sets the receive timestamp. See [Frame.ReceiveTime].
func (frm Frame) SetReceiveTime(ts Timestamp) { frm.setTimestamp(32, ts) }

// TransmitTime is the server time at which the reply departed for the client.
func (frm Frame) TransmitTime() Timestamp { return frm.timestamp(40) }

// SetTransmitTime sets the transmit timestamp. See [Frame.TransmitTime].
func (frm Frame) SetTransmitTime(ts Timestamp) { frm.setTimestamp(40, ts) }

func (frm Frame) timestamp(off int) Timestamp {
	return TimestampFromUint64(binary.BigEndian.Uint64(frm.buf[off : off+8]))
}

func (frm Frame) setTimestamp(off int, ts Timestamp) {
	binary.BigEndian.PutUint64(frm.buf[off:off+8], ts.Uint64())
}

// ClearHeader zeros out the header contents.
func (frm Frame) ClearHeader() {
	for i := range frm.buf[:SizeHeader] {
		frm.buf[i] = 0
	}
}

//
// Validation API.
//

var (
	errShort        = rtntp.ErrShortBuffer
	errBadMode      = errors.New("ntp: reply mode not server")
	errBadVersion   = errors.New("ntp: bad version")
	errBadStratum   = errors.New("ntp: bad stratum")
	errKissOfDeath  = errors.New("ntp: kiss-o'-death reply")
	errZeroTransmit = errors.New("ntp: zero transmit timestamp")
	errServerUnsync = errors.New("ntp: server clock unsynchronized")
)

// ValidateSize checks the buffer is large enough to contain an NTP header.
func (frm Frame) ValidateSize(v *rtntp.Validator) {
	if len(frm.buf) < SizeHeader {
		v.AddError(errShort)
	}
}

// ValidateReply checks the header is a plausible server reply: server or broadcast mode,
// versions 1 through 4, a synchronized server of stratum 1 through 15 and a non-zero
// transmit timestamp. Stratum 0 replies are accepted only when the validator was
// created with [rtntp.ValidateAllowKissCode].
func (frm Frame) ValidateReply(v *rtntp.Validator) {
	frm.ValidateSize(v)
	if v.HasError() {
		return
	}
	mode, version, leap := frm.Flags()
	if mode != ModeServer && mode != ModeBroadcast {
		v.AddBitPosErr(5, 3, errBadMode)
	}
	if version < 1 || version > Version4 {
		v.AddBitPosErr(2, 3, errBadVersion)
	}
	if leap == LeapNotSync {
		v.AddBitPosErr(0, 2, errServerUnsync)
	}
	switch stratum := frm.Stratum(); {
	case stratum == StratumUnspecified:
		if !v.Flags().Has(rtntp.ValidateAllowKissCode) {
			v.AddBitPosErr(8, 8, errKissOfDeath)
		}
	case stratum >= StratumUnsync:
		v.AddBitPosErr(8, 8, errBadStratum)
	}
	if frm.TransmitTime().IsZero() {
		v.AddBitPosErr(40*8, 64, errZeroTransmit)
	}
}
