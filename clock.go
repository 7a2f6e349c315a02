package coachsync

import "time"

// Clock abstracts wall time and timer scheduling so the reconnect machine and
// typing TTLs are testable without real timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock returns the real-time Clock used by default.
func SystemClock() Clock { return systemClock{} }
