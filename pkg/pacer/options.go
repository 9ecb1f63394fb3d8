package pacer

import (
	"log/slog"
	"time"
)

// DefaultInterval is used by callers that have no opinion on spacing.
const DefaultInterval = 2 * time.Second

// TimerStart selects when the spacing timer for the next dispatch is armed
// after dispatching an operation with an asynchronous result. Synchronous
// results always arm immediately.
type TimerStart int

const (
	// TimerStartBefore arms the timer at dispatch time, even if the
	// dispatched operation's asynchronous result is still pending.
	TimerStartBefore TimerStart = iota
	// TimerStartAfter defers arming until the asynchronous result settles
	// (regardless of outcome).
	TimerStartAfter
)

// Options configure a Scheduler. The zero value is the default behavior:
// wait for the previous asynchronous result before dispatching the next
// entry, arm the spacing timer at dispatch time, no looping, and dispatch
// the first entry of an idle queue immediately.
type Options struct {
	// DisableAwaitLast dispatches the next entry as soon as the interval
	// elapses, even while the previous asynchronous result is still pending.
	DisableAwaitLast bool

	// StartTimer selects the timer arming policy for asynchronous results.
	StartTimer TimerStart

	// Loop re-appends every dispatched entry to the tail (with a fresh
	// Future) right before it runs, repeating it each interval until
	// Clear or Pause breaks the cycle.
	Loop bool

	// DelayFirst waits one full interval before the first dispatch after
	// the queue was idle or paused, instead of dispatching immediately.
	DelayFirst bool

	// Logger receives dispatch/failure logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Clock defaults to SystemClock.
	Clock Clock

	// HistorySize bounds the dispatch history ring kept for Snapshot.
	// Zero disables history.
	HistorySize int

	// FailureLogEvery throttles failure logging to at most one entry per
	// given duration. Zero logs every failure. Futures always carry the
	// error regardless.
	FailureLogEvery time.Duration
}
