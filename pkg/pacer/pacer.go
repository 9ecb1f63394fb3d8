package pacer

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrNegativeInterval is returned for intervals below zero.
var ErrNegativeInterval = errors.New("pacer: interval must be >= 0")

// Operation is a caller-supplied deferred computation. The Scheduler invokes
// it with the arguments given to Add. If the returned value is a *Future,
// the result is treated as asynchronous: the handle returned by Add settles
// with whatever that Future settles with, and the await-last / timer-start
// policies apply to it. Any other return value settles the handle directly.
type Operation func(args ...any) (any, error)

// Async wraps a blocking function into an Operation whose dispatch returns
// immediately: fn runs on its own goroutine and its outcome is delivered
// through a Future the engine knows how to track.
func Async(fn func(args ...any) (any, error)) Operation {
	return func(args ...any) (any, error) {
		f := NewFuture()
		go func() {
			v, err := invoke(fn, args)
			if err != nil {
				f.Fail(err)
				return
			}
			f.Fulfill(v)
		}()
		return f, nil
	}
}

// PanicError carries a recovered panic out of an operation as a regular
// failure on that operation's Future.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("operation panicked: %v", e.Value)
}

type entry struct {
	op   Operation
	args []any
	fut  *Future
}

// Scheduler dispatches queued operations strictly in submission order,
// spaced by a mutable interval. All state is guarded by one mutex; the only
// suspension points are the spacing timer and (optionally) waiting for the
// previous asynchronous result.
type Scheduler struct {
	mu sync.Mutex

	interval time.Duration
	opts     Options
	clock    Clock
	log      *slog.Logger
	failLog  *rate.Limiter

	queue       []entry
	triggering  bool
	dispatching bool
	paused      bool
	isFirst     bool
	lastFuture  *Future

	timer    Timer
	timerGen uint64

	seq uint64 // dispatches so far

	hmu     sync.Mutex
	history []HistoryItem
}

// New returns a Scheduler spacing dispatches by interval.
func New(interval time.Duration, opts Options) (*Scheduler, error) {
	if interval < 0 {
		return nil, ErrNegativeInterval
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	var failLog *rate.Limiter
	if opts.FailureLogEvery > 0 {
		failLog = rate.NewLimiter(rate.Every(opts.FailureLogEvery), 1)
	}
	return &Scheduler{
		interval: interval,
		opts:     opts,
		clock:    clock,
		log:      log,
		failLog:  failLog,
		isFirst:  true,
	}, nil
}

// Add appends the operation and its arguments to the queue and attempts a
// trigger round. It never blocks; if the queue is idle the operation may be
// dispatched synchronously inside Add. The returned Future settles exactly
// once with the operation's outcome.
func (s *Scheduler) Add(op Operation, args ...any) *Future {
	fut := NewFuture()
	s.mu.Lock()
	s.queue = append(s.queue, entry{op: op, args: args, fut: fut})
	s.mu.Unlock()
	s.trigger()
	return fut
}

// SetInterval updates the spacing and forces an immediate reschedule: any
// partially elapsed wait is discarded and the next dispatch decision is
// re-evaluated right away under the new interval.
func (s *Scheduler) SetInterval(d time.Duration) error {
	if d < 0 {
		return ErrNegativeInterval
	}
	s.mu.Lock()
	s.interval = d
	s.cancelTimerLocked()
	s.triggering = false
	s.mu.Unlock()
	s.trigger()
	return nil
}

// Interval returns the current spacing.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Clear cancels any pending spacing timer and releases the in-progress
// round. The queue, the paused flag, and first-run state are untouched;
// nothing dispatches until the next trigger (Add, RunNext, Resume,
// SetInterval).
func (s *Scheduler) Clear() {
	s.mu.Lock()
	s.cancelTimerLocked()
	s.triggering = false
	s.mu.Unlock()
}

// RunNext bypasses any remaining wait and dispatches the next eligible
// entry immediately, subject to the usual gating (paused, await-last).
func (s *Scheduler) RunNext() {
	s.Clear()
	s.trigger()
}

// Pause suspends dispatching. Queued entries stay queued; an operation
// already running is not cancelled and still settles its Future.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.isFirst = true
	s.cancelTimerLocked()
	s.triggering = false
	s.mu.Unlock()
}

// Resume lifts a Pause and immediately attempts a trigger round.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.trigger()
}

// Len reports the number of queued (not yet dispatched) entries.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// trigger is one round of the dispatch state machine: dispatch the head
// entry, arm a timer, or bail out.
func (s *Scheduler) trigger() {
	s.mu.Lock()
	if s.paused || s.triggering {
		s.mu.Unlock()
		return
	}
	if len(s.queue) == 0 {
		s.isFirst = true
		s.mu.Unlock()
		return
	}
	s.triggering = true

	if s.opts.DelayFirst && s.isFirst {
		// Wait one interval before the first dispatch; the timer callback
		// re-enters with isFirst already cleared.
		s.armLocked()
		s.mu.Unlock()
		return
	}

	last := s.lastFuture
	s.mu.Unlock()

	if !s.opts.DisableAwaitLast && last != nil && !last.Settled() {
		// Hold the round (triggering stays set) until the previous
		// asynchronous result settles; its outcome is irrelevant here.
		go func() {
			<-last.Done()
			s.dispatch()
		}()
		return
	}
	s.dispatch()
}

// dispatch pops the head entry, runs it, settles its Future, and arms the
// next spacing timer.
func (s *Scheduler) dispatch() {
	s.mu.Lock()
	if s.dispatching {
		// Another round is mid-invoke (possible when SetInterval or RunNext
		// races a held await-last continuation). Abandon this one; the active
		// dispatch arms the next timer and the chain continues from there.
		s.mu.Unlock()
		return
	}
	if len(s.queue) == 0 {
		s.triggering = false
		s.isFirst = true
		s.mu.Unlock()
		return
	}
	s.dispatching = true
	e := s.queue[0]
	s.queue = s.queue[1:]
	if s.opts.Loop {
		// Re-add before running so the repeat keeps its place behind
		// entries submitted in the meantime.
		s.queue = append(s.queue, entry{op: e.op, args: e.args, fut: NewFuture()})
	}
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	started := s.clock.Now()
	v, err := invoke(e.op, e.args)
	async, isAsync := v.(*Future)
	if err != nil {
		isAsync = false
	}

	s.mu.Lock()
	s.dispatching = false
	if isAsync {
		s.lastFuture = async
	} else {
		s.lastFuture = nil
	}
	s.mu.Unlock()

	if isAsync {
		go func() {
			<-async.Done()
			rv, rerr := async.Result()
			s.record(seq, started, true, rerr)
			if rerr != nil {
				e.fut.Fail(rerr)
				return
			}
			e.fut.Fulfill(rv)
		}()
		if s.opts.StartTimer == TimerStartAfter {
			go func() {
				<-async.Done()
				s.arm()
			}()
			return
		}
		s.arm()
		return
	}

	s.record(seq, started, false, err)
	if err != nil {
		e.fut.Fail(err)
	} else {
		e.fut.Fulfill(v)
	}
	s.arm()
}

func (s *Scheduler) arm() {
	s.mu.Lock()
	s.armLocked()
	s.mu.Unlock()
}

// armLocked replaces any outstanding timer with a fresh interval wait.
// While paused no timer may exist, so the round just ends; Resume will
// re-trigger.
func (s *Scheduler) armLocked() {
	s.cancelTimerLocked()
	if s.paused {
		s.triggering = false
		return
	}
	s.isFirst = false
	gen := s.timerGen
	s.timer = s.clock.AfterFunc(s.interval, func() { s.timerFired(gen) })
}

// cancelTimerLocked stops the pending timer (if any) and invalidates every
// callback armed before this point, including ones that already fired and
// are waiting on the mutex.
func (s *Scheduler) cancelTimerLocked() {
	s.timerGen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) timerFired(gen uint64) {
	s.mu.Lock()
	if gen != s.timerGen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.triggering = false
	s.mu.Unlock()
	s.trigger()
}

func (s *Scheduler) record(seq uint64, started time.Time, async bool, err error) {
	if err != nil {
		if s.failLog == nil || s.failLog.Allow() {
			s.log.Warn("operation failed",
				slog.Uint64("seq", seq),
				slog.Bool("async", async),
				slog.String("err", err.Error()),
			)
		}
	} else {
		s.log.Debug("operation dispatched", slog.Uint64("seq", seq), slog.Bool("async", async))
	}

	if s.opts.HistorySize <= 0 {
		return
	}
	item := HistoryItem{
		Seq:      seq,
		Started:  started,
		Duration: s.clock.Now().Sub(started),
		Async:    async,
	}
	if err != nil {
		item.Error = err.Error()
	}
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > s.opts.HistorySize {
		s.history = s.history[len(s.history)-s.opts.HistorySize:]
	}
	s.hmu.Unlock()
}

func invoke(op Operation, args []any) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = nil
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return op(args...)
}
