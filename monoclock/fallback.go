package monoclock

import "time"

var processStart = time.Now()

// fallbackNanos uses the monotonic reading embedded in time.Time.
func fallbackNanos() int64 { return int64(time.Since(processStart)) }
