// Package monoclock provides monotonic millisecond readings for driving an
// [sntp.Client] from a host loop. Readings are uint32 and wrap every ~49.7 days,
// the same as the millis() counter of most microcontroller runtimes.
//
// [sntp.Client]: https://pkg.go.dev/github.com/soypat/rtntp/sntp#Client
package monoclock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Source returns a monotonic millisecond reading.
type Source func() uint32

// Millis returns the host's monotonic clock in milliseconds truncated to 32 bits.
func Millis() uint32 {
	return uint32(monotonicNanos() / int64(time.Millisecond))
}

// Since returns the milliseconds elapsed between the readings start and now
// using wrapping subtraction.
func Since(start, now uint32) uint32 { return now - start }

// FromClockwork returns a Source that reads milliseconds elapsed on clk since the call
// to FromClockwork. Use it with [clockwork.NewFakeClock] to drive a client deterministically.
func FromClockwork(clk clockwork.Clock) Source {
	start := clk.Now()
	return func() uint32 {
		return uint32(clk.Since(start) / time.Millisecond)
	}
}

// Offset returns a Source that reads src shifted by off milliseconds.
// It is mostly useful for exercising the wrap of the millisecond counter.
func Offset(src Source, off uint32) Source {
	return func() uint32 { return src() + off }
}
