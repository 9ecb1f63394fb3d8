// Package probe holds the downstream checks the daemon paces: each probe is
// one operation submitted to the shared pacer.Scheduler.
package probe

import (
	"context"
	"time"
)

// Result is the successful outcome of one probe run.
type Result struct {
	Probe    string
	Type     string
	Started  time.Time
	Duration time.Duration

	// Detail is a short human-readable summary, e.g. "200 OK in 53ms".
	Detail string
}

type Probe interface {
	Name() string
	Type() string

	// Run performs one check. It must respect ctx and return promptly after
	// cancellation; the pacer never cancels a run once dispatched, so the
	// caller-supplied timeout is the only bound.
	Run(ctx context.Context) (*Result, error)
}
