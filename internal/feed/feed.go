// Package feed turns schedules into pacer submissions: each cron firing
// enqueues one probe run, and the pacer (not cron) decides when it
// actually dispatches. Finished runs are published on an event bus for the
// history store and notifier to consume.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"paced/internal/eventbus"
	"paced/internal/probe"
	"paced/pkg/pacer"
)

// ProbeEvent is published once per finished probe run. Result is nil when
// Err is set.
type ProbeEvent struct {
	Probe  string
	Type   string
	At     time.Time
	Result *probe.Result
	Err    error
}

type Feed struct {
	log   *slog.Logger
	sched *pacer.Scheduler
	cron  *cron.Cron
	bus   eventbus.Bus[ProbeEvent]
}

func New(sched *pacer.Scheduler, log *slog.Logger, bus eventbus.Bus[ProbeEvent]) *Feed {
	if log == nil {
		log = slog.Default()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Feed{
		log:   log,
		sched: sched,
		cron:  cron.New(cron.WithParser(parser)),
		bus:   bus,
	}
}

// Register schedules a probe; spec is a cron expression or "@every <dur>".
func (f *Feed) Register(p probe.Probe, spec string, timeout time.Duration) error {
	_, err := f.cron.AddFunc(spec, func() { f.Submit(p, timeout) })
	if err != nil {
		return fmt.Errorf("register %s (%q): %w", p.Name(), spec, err)
	}
	f.log.Info("probe registered",
		slog.String("probe", p.Name()),
		slog.String("type", p.Type()),
		slog.String("schedule", spec),
	)
	return nil
}

// Submit enqueues one run right away. The run itself is asynchronous from
// the pacer's point of view, so with await-last enabled two probes never
// overlap no matter how schedules collide.
func (f *Feed) Submit(p probe.Probe, timeout time.Duration) {
	fut := f.sched.Add(pacer.Async(func(args ...any) (any, error) {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return p.Run(ctx)
	}))

	go func() {
		v, err := fut.Wait(context.Background())
		res, _ := v.(*probe.Result)
		if err != nil {
			f.log.Warn("probe failed", slog.String("probe", p.Name()), slog.String("err", err.Error()))
		} else if res != nil {
			f.log.Debug("probe ok", slog.String("probe", p.Name()), slog.String("detail", res.Detail))
		}
		if f.bus != nil {
			f.bus.Publish(ProbeEvent{
				Probe:  p.Name(),
				Type:   p.Type(),
				At:     time.Now(),
				Result: res,
				Err:    err,
			})
		}
	}()
}

func (f *Feed) Start() { f.cron.Start() }

// Stop halts new cron firings; in-flight probe runs finish on their own.
func (f *Feed) Stop(ctx context.Context) {
	select {
	case <-f.cron.Stop().Done():
	case <-ctx.Done():
	}
}
