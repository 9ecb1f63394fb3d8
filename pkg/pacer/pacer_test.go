package pacer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newScheduler(t *testing.T, interval time.Duration, opts Options) *Scheduler {
	t.Helper()
	s, err := New(interval, opts)
	if err != nil {
		t.Fatalf("New(%v) error: %v", interval, err)
	}
	return s
}

func waitFuture(t *testing.T, f *Future, timeout time.Duration) (any, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	v, err := f.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("future not settled within %v", timeout)
	}
	return v, err
}

func noop(args ...any) (any, error) { return nil, nil }

func TestNewRejectsNegativeInterval(t *testing.T) {
	t.Parallel()
	if _, err := New(-time.Millisecond, Options{}); !errors.Is(err, ErrNegativeInterval) {
		t.Fatalf("New(-1ms) error = %v, want ErrNegativeInterval", err)
	}

	s := newScheduler(t, time.Second, Options{})
	if err := s.SetInterval(-time.Second); !errors.Is(err, ErrNegativeInterval) {
		t.Fatalf("SetInterval(-1s) error = %v, want ErrNegativeInterval", err)
	}
	if got := s.Interval(); got != time.Second {
		t.Fatalf("Interval = %v after rejected update, want 1s", got)
	}
}

func TestFirstDispatchIsSynchronous(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, time.Hour, Options{})

	var ran atomic.Bool
	fut := s.Add(func(args ...any) (any, error) {
		ran.Store(true)
		return "first", nil
	})
	if !ran.Load() {
		t.Fatal("first entry on an idle queue should run inside Add")
	}
	v, err := waitFuture(t, fut, time.Second)
	if err != nil || v != "first" {
		t.Fatalf("future = (%v, %v), want (first, nil)", v, err)
	}
}

func TestDispatchSpacing(t *testing.T) {
	t.Parallel()
	const interval = 120 * time.Millisecond
	s := newScheduler(t, interval, Options{})

	var mu sync.Mutex
	var at []time.Time
	stamp := func(args ...any) (any, error) {
		mu.Lock()
		at = append(at, time.Now())
		mu.Unlock()
		return nil, nil
	}

	s.Add(stamp)
	s.Add(stamp)
	last := s.Add(stamp)

	time.Sleep(interval / 2)
	mu.Lock()
	n := len(at)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("dispatched %d entries at half an interval, want 1", n)
	}

	waitFuture(t, last, 2*time.Second)
	mu.Lock()
	defer mu.Unlock()
	if len(at) != 3 {
		t.Fatalf("dispatched %d entries, want 3", len(at))
	}
	for i := 1; i < len(at); i++ {
		if gap := at[i].Sub(at[i-1]); gap < interval-20*time.Millisecond {
			t.Fatalf("gap %d = %v, want >= ~%v", i, gap, interval)
		}
	}
}

func TestDelayFirst(t *testing.T) {
	t.Parallel()
	const interval = 100 * time.Millisecond
	s := newScheduler(t, interval, Options{DelayFirst: true})

	start := time.Now()
	fut := s.Add(noop)

	time.Sleep(interval / 3)
	if fut.Settled() {
		t.Fatal("first entry ran before the initial delay elapsed")
	}
	waitFuture(t, fut, time.Second)
	if elapsed := time.Since(start); elapsed < interval-20*time.Millisecond {
		t.Fatalf("first dispatch after %v, want >= ~%v", elapsed, interval)
	}
}

func TestAwaitLastHoldsNextDispatch(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 30*time.Millisecond, Options{})

	var firstDone atomic.Bool
	s.Add(Async(func(args ...any) (any, error) {
		time.Sleep(200 * time.Millisecond)
		firstDone.Store(true)
		return nil, nil
	}))

	var sawFirstDone atomic.Bool
	second := s.Add(func(args ...any) (any, error) {
		sawFirstDone.Store(firstDone.Load())
		return nil, nil
	})

	time.Sleep(120 * time.Millisecond)
	if second.Settled() {
		t.Fatal("second entry dispatched while the first async result was pending")
	}
	waitFuture(t, second, 2*time.Second)
	if !sawFirstDone.Load() {
		t.Fatal("second entry ran before the first async result settled")
	}
}

func TestDisableAwaitLast(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 30*time.Millisecond, Options{DisableAwaitLast: true})

	var firstDone atomic.Bool
	s.Add(Async(func(args ...any) (any, error) {
		time.Sleep(300 * time.Millisecond)
		firstDone.Store(true)
		return nil, nil
	}))

	var sawFirstDone atomic.Bool
	second := s.Add(func(args ...any) (any, error) {
		sawFirstDone.Store(firstDone.Load())
		return nil, nil
	})

	waitFuture(t, second, time.Second)
	if sawFirstDone.Load() {
		t.Fatal("second entry waited for the first async result despite DisableAwaitLast")
	}
}

func TestStartTimerAfter(t *testing.T) {
	t.Parallel()
	const (
		interval = 50 * time.Millisecond
		workTime = 150 * time.Millisecond
	)
	s := newScheduler(t, interval, Options{
		DisableAwaitLast: true,
		StartTimer:       TimerStartAfter,
	})

	start := time.Now()
	var firstDone atomic.Bool
	s.Add(Async(func(args ...any) (any, error) {
		time.Sleep(workTime)
		firstDone.Store(true)
		return nil, nil
	}))

	var sawFirstDone atomic.Bool
	second := s.Add(func(args ...any) (any, error) {
		sawFirstDone.Store(firstDone.Load())
		return nil, nil
	})

	waitFuture(t, second, 2*time.Second)
	if elapsed := time.Since(start); elapsed < workTime+interval-30*time.Millisecond {
		t.Fatalf("second dispatch after %v, want >= ~%v", elapsed, workTime+interval)
	}
	if !sawFirstDone.Load() {
		t.Fatal("spacing timer started before the first async result settled")
	}
}

func TestClearCancelsPendingWait(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 50*time.Millisecond, Options{})

	s.Add(noop)
	second := s.Add(noop)
	s.Clear()

	time.Sleep(200 * time.Millisecond)
	if second.Settled() {
		t.Fatal("entry dispatched after Clear without a new trigger")
	}

	s.RunNext()
	waitFuture(t, second, time.Second)
}

func TestRunNextBypassesWait(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, time.Hour, Options{})

	s.Add(noop)
	second := s.Add(noop)
	if second.Settled() {
		t.Fatal("second entry should be waiting out the interval")
	}

	s.RunNext()
	waitFuture(t, second, time.Second)
}

func TestPauseAndResume(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 50*time.Millisecond, Options{})

	s.Add(noop)
	s.Pause()
	second := s.Add(noop)

	time.Sleep(150 * time.Millisecond)
	if second.Settled() {
		t.Fatal("entry dispatched while paused")
	}

	s.Resume()
	waitFuture(t, second, time.Second)
}

func TestPauseDoesNotCancelAwaitHold(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 30*time.Millisecond, Options{})

	release := make(chan struct{})
	s.Add(Async(func(args ...any) (any, error) {
		<-release
		return nil, nil
	}))

	var sawRelease atomic.Bool
	second := s.Add(func(args ...any) (any, error) {
		select {
		case <-release:
			sawRelease.Store(true)
		default:
		}
		return nil, nil
	})

	// Let the spacing timer fire so the round is held on the first result,
	// then pause. Only pending timers are cancellable; the held dispatch
	// must still go through once the result settles.
	time.Sleep(100 * time.Millisecond)
	s.Pause()
	if second.Settled() {
		t.Fatal("second entry dispatched before the first async result settled")
	}

	close(release)
	waitFuture(t, second, time.Second)
	if !sawRelease.Load() {
		t.Fatal("held entry ran before the previous result settled")
	}

	deadline := time.Now().Add(time.Second)
	for {
		snap := s.Snapshot()
		if !snap.InFlight {
			if !snap.Paused || snap.QueueLen != 0 {
				t.Fatalf("snapshot after held dispatch = %+v, want paused and idle", snap)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("round never released after held dispatch: %+v", snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartTimerAfterSettleWhilePaused(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 10*time.Millisecond, Options{StartTimer: TimerStartAfter})

	release := make(chan struct{})
	s.Add(Async(func(args ...any) (any, error) {
		<-release
		return nil, nil
	}))
	second := s.Add(noop)

	// The settle path reaches timer arming after Pause; no timer may exist
	// while paused, so the round just ends and Resume restarts the chain.
	s.Pause()
	close(release)

	time.Sleep(100 * time.Millisecond)
	if second.Settled() {
		t.Fatal("entry dispatched while paused")
	}
	if snap := s.Snapshot(); snap.InFlight {
		t.Fatalf("round not released after settling while paused: %+v", snap)
	}

	s.Resume()
	waitFuture(t, second, time.Second)
}

func TestLoopRepeats(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 30*time.Millisecond, Options{Loop: true})

	var count atomic.Int64
	s.Add(func(args ...any) (any, error) {
		count.Add(1)
		return nil, nil
	})

	deadline := time.Now().Add(2 * time.Second)
	for count.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("looped entry ran %d times, want >= 3", count.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.Pause()
	if got := s.Len(); got != 1 {
		t.Fatalf("queue length after pause = %d, want the requeued entry", got)
	}
	stable := count.Load()
	time.Sleep(150 * time.Millisecond)
	if got := count.Load(); got != stable {
		t.Fatalf("looped entry ran while paused: %d -> %d", stable, got)
	}
}

func TestZeroInterval(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 0, Options{})

	s.Add(noop)
	time.Sleep(10 * time.Millisecond)
	second := s.Add(noop)
	waitFuture(t, second, 500*time.Millisecond)
}

func TestSetIntervalReschedulesImmediately(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, time.Hour, Options{})

	s.Add(noop)
	second := s.Add(noop)
	if err := s.SetInterval(10 * time.Millisecond); err != nil {
		t.Fatalf("SetInterval error: %v", err)
	}
	waitFuture(t, second, time.Second)
}

func TestFutureCarriesOutcome(t *testing.T) {
	t.Parallel()
	opErr := errors.New("downstream said no")

	tests := []struct {
		name    string
		op      Operation
		wantVal any
		wantErr error
	}{
		{
			name:    "sync value",
			op:      func(args ...any) (any, error) { return 42, nil },
			wantVal: 42,
		},
		{
			name:    "sync error",
			op:      func(args ...any) (any, error) { return nil, opErr },
			wantErr: opErr,
		},
		{
			name: "async value",
			op: Async(func(args ...any) (any, error) {
				time.Sleep(20 * time.Millisecond)
				return "later", nil
			}),
			wantVal: "later",
		},
		{
			name: "async failure",
			op: Async(func(args ...any) (any, error) {
				time.Sleep(20 * time.Millisecond)
				return nil, opErr
			}),
			wantErr: opErr,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newScheduler(t, 0, Options{})
			v, err := waitFuture(t, s.Add(tt.op), time.Second)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && v != tt.wantVal {
				t.Fatalf("value = %v, want %v", v, tt.wantVal)
			}
		})
	}
}

func TestOperationPanicFailsOnlyItsFuture(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 0, Options{})

	boom := s.Add(func(args ...any) (any, error) { panic("boom") })
	_, err := waitFuture(t, boom, time.Second)
	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *PanicError", err)
	}

	// Siblings are unaffected.
	next := s.Add(func(args ...any) (any, error) { return "fine", nil })
	if v, err := waitFuture(t, next, time.Second); err != nil || v != "fine" {
		t.Fatalf("sibling future = (%v, %v), want (fine, nil)", v, err)
	}
}

func TestArgumentsReachOperation(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 0, Options{})

	fut := s.Add(func(args ...any) (any, error) {
		if len(args) != 2 {
			t.Errorf("got %d args, want 2", len(args))
		}
		return args[0].(int) + args[1].(int), nil
	}, 19, 23)

	if v, _ := waitFuture(t, fut, time.Second); v != 42 {
		t.Fatalf("value = %v, want 42", v)
	}
}

func TestSnapshotAndHistory(t *testing.T) {
	t.Parallel()
	s := newScheduler(t, 0, Options{HistorySize: 2})

	var last *Future
	for i := 0; i < 3; i++ {
		last = s.Add(noop)
	}
	waitFuture(t, last, time.Second)

	snap := s.Snapshot()
	if snap.Dispatched != 3 {
		t.Fatalf("Dispatched = %d, want 3", snap.Dispatched)
	}
	if snap.Paused || snap.QueueLen != 0 {
		t.Fatalf("unexpected snapshot state: %+v", snap)
	}
	if len(snap.History) != 2 {
		t.Fatalf("history length = %d, want 2 (ring capped)", len(snap.History))
	}
	if snap.History[0].Seq != 2 || snap.History[1].Seq != 3 {
		t.Fatalf("history seqs = %d,%d, want 2,3", snap.History[0].Seq, snap.History[1].Seq)
	}
}
