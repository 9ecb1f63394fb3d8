package pacer

import "time"

// Timer is a delayed callback that can be stopped before it fires.
type Timer interface {
	// Stop reports whether the callback was prevented from running.
	Stop() bool
}

// Clock abstracts time for the Scheduler so tests can inject their own.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemClock is the default Clock, backed by the standard library.
var SystemClock Clock = systemClock{}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
