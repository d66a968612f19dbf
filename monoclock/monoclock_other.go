//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package monoclock

func monotonicNanos() int64 { return fallbackNanos() }
