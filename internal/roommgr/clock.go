package roommgr

import "time"

// Clock abstracts wall-clock time and timer scheduling so the grace-period
// and heartbeat logic is deterministically testable without real sleeps.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the cancellable handle returned by Clock.AfterFunc.
type Timer interface {
	// Stop prevents the timer from firing, if it hasn't already. It returns
	// true if the call stopped the timer, false if it had already fired or
	// been stopped.
	Stop() bool
}

type realClock struct{}

// NewRealClock returns a Clock backed by the actual system clock and
// time.AfterFunc.
func NewRealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
