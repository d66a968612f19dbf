package ntp

import (
	"errors"
	"math"
	"time"
)

var errTimestampRange = errors.New("ntp: time out of era 0 range")

// Timestamp is a 64-bit NTP timestamp: seconds since 1900-01-01 in the upper 32 bits
// and a binary fraction of a second in the lower 32 bits. Only era 0 (1900-2036) is handled.
type Timestamp struct {
	sec  uint32
	frac uint32
}

// TimestampFromUint64 returns the Timestamp encoded as the 64-bit wire value v.
func TimestampFromUint64(v uint64) Timestamp {
	return Timestamp{sec: uint32(v >> 32), frac: uint32(v)}
}

// TimestampFromTime converts t to an era 0 Timestamp.
func TimestampFromTime(t time.Time) (Timestamp, error) {
	d := t.Sub(BaseTime())
	if d < 0 || d/time.Second > math.MaxUint32 {
		return Timestamp{}, errTimestampRange
	}
	sec := uint64(d / time.Second)
	nsec := uint64(d % time.Second)
	return Timestamp{
		sec:  uint32(sec),
		frac: uint32((nsec << 32) / uint64(time.Second)),
	}, nil
}

// Uint64 returns the 64-bit wire representation of the Timestamp.
func (ts Timestamp) Uint64() uint64 { return uint64(ts.sec)<<32 | uint64(ts.frac) }

// Seconds returns the integer seconds since 1900-01-01 of the timestamp.
func (ts Timestamp) Seconds() uint32 { return ts.sec }

// Fraction returns the fractional second part of the timestamp in units of 2**-32 seconds.
func (ts Timestamp) Fraction() uint32 { return ts.frac }

// UnixSeconds returns the seconds since the Unix epoch. The subtraction wraps
// for timestamps before 1970 which is how the wire format is consumed by clients.
func (ts Timestamp) UnixSeconds() uint32 { return ts.sec - UnixEraOffset }

// IsZero reports whether ts is the zero timestamp, which NTP uses to mean "unknown".
func (ts Timestamp) IsZero() bool { return ts.sec == 0 && ts.frac == 0 }

// Time returns the timestamp as a [time.Time] in UTC.
func (ts Timestamp) Time() time.Time {
	return BaseTime().Add(time.Duration(ts.sec)*time.Second + ts.fracDuration())
}

// Sub returns the duration ts-other.
func (ts Timestamp) Sub(other Timestamp) time.Duration {
	dsec := time.Duration(int64(ts.sec)-int64(other.sec)) * time.Second
	return dsec + ts.fracDuration() - other.fracDuration()
}

// Add returns the timestamp ts+d. The result wraps within the era.
func (ts Timestamp) Add(d time.Duration) Timestamp {
	frac := int64(d%time.Second) << 32 / int64(time.Second)
	v := int64(ts.Uint64()) + int64(d/time.Second)<<32 + frac
	return TimestampFromUint64(uint64(v))
}

func (ts Timestamp) fracDuration() time.Duration {
	return time.Duration((uint64(ts.frac) * uint64(time.Second)) >> 32)
}

// Short is the 32-bit NTP short format with 16 bits of seconds and 16 bits of fraction.
// It is used for root delay and root dispersion.
type Short uint32

// Duration returns the Short value as a [time.Duration].
func (s Short) Duration() time.Duration {
	sec := time.Duration(s>>16) * time.Second
	frac := time.Duration((uint64(s&0xffff) * uint64(time.Second)) >> 16)
	return sec + frac
}
