package clock

import (
	"time"

	"golang.org/x/sys/unix"
)

type (
	Timestamp int64 // CLOCK_MONOTONIC in nanoseconds - differences can be cast directly to time.Duration
)

func Now() Timestamp {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		// CLOCK_MONOTONIC is always available on linux
		panic(err)
	}
	return Timestamp(ts.Nano())
}

func (t Timestamp) Add(d time.Duration) Timestamp {
	return t + Timestamp(d)
}

func (t Timestamp) Sub(u Timestamp) time.Duration {
	return time.Duration(t - u)
}

// Epoch pairs the monotonic start of a run with the wall clock read at the same instant,
// so that points on the monotonic timeline can be printed as wall-clock times.
type Epoch struct {
	Mono Timestamp
	Wall time.Time
}

func NewEpoch() Epoch {
	return Epoch{
		Mono: Now(),
		Wall: time.Now(),
	}
}

func (e Epoch) WallAt(t Timestamp) time.Time {
	return e.Wall.Add(t.Sub(e.Mono))
}
