package sntp

import (
	"strconv"
	"time"
)

const (
	secondsPerMinute = 60
	secondsPerHour   = 60 * secondsPerMinute
	secondsPerDay    = 24 * secondsPerHour
	// 1970-01-01 was a Thursday.
	epochWeekday = int64(time.Thursday)
)

// Epoch is a count of seconds since the Unix epoch, 1970-01-01 00:00:00 UTC.
// Calendar fields are computed with floored division so that negative values,
// which arise from negative offsets before the first sync, stay in range.
type Epoch int64

// Weekday returns the day of the week with 0 being Sunday.
func (e Epoch) Weekday() time.Weekday {
	days := floorDiv(int64(e), secondsPerDay)
	return time.Weekday(floorMod(days+epochWeekday, 7))
}

// Hour returns the hour of the day in the range [0, 23].
func (e Epoch) Hour() int { return int(floorMod(int64(e), secondsPerDay) / secondsPerHour) }

// Minute returns the minute of the hour in the range [0, 59].
func (e Epoch) Minute() int { return int(floorMod(int64(e), secondsPerHour) / secondsPerMinute) }

// Second returns the second of the minute in the range [0, 59].
func (e Epoch) Second() int { return int(floorMod(int64(e), secondsPerMinute)) }

// Time returns the epoch as a UTC [time.Time].
func (e Epoch) Time() time.Time { return time.Unix(int64(e), 0).UTC() }

// AppendFormat appends the time of day formatted as hh:mm:ss to dst.
func (e Epoch) AppendFormat(dst []byte) []byte {
	dst = appendPadded2(dst, e.Hour())
	dst = append(dst, ':')
	dst = appendPadded2(dst, e.Minute())
	dst = append(dst, ':')
	return appendPadded2(dst, e.Second())
}

// String returns the time of day formatted as hh:mm:ss.
func (e Epoch) String() string {
	var buf [len("hh:mm:ss")]byte
	return string(e.AppendFormat(buf[:0]))
}

func appendPadded2(dst []byte, v int) []byte {
	if v < 10 {
		dst = append(dst, '0')
	}
	return strconv.AppendInt(dst, int64(v), 10)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 {
	m := a % b
	if m != 0 && ((m < 0) != (b < 0)) {
		m += b
	}
	return m
}
