package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"paced/internal/eventbus"
	"paced/internal/probe"
	"paced/pkg/pacer"
)

type fakeProbe struct {
	name string
	err  error
}

func (f *fakeProbe) Name() string { return f.name }
func (f *fakeProbe) Type() string { return "fake" }

func (f *fakeProbe) Run(ctx context.Context) (*probe.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &probe.Result{Probe: f.name, Type: f.Type(), Started: time.Now(), Detail: "ok"}, nil
}

func newPacer(t *testing.T) *pacer.Scheduler {
	t.Helper()
	s, err := pacer.New(0, pacer.Options{})
	if err != nil {
		t.Fatalf("pacer.New: %v", err)
	}
	return s
}

func TestSubmitPublishesEvents(t *testing.T) {
	t.Parallel()

	bus := eventbus.New[ProbeEvent]()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	f := New(newPacer(t), nil, bus)
	boom := errors.New("probe exploded")
	f.Submit(&fakeProbe{name: "good"}, time.Second)
	f.Submit(&fakeProbe{name: "bad", err: boom}, time.Second)

	got := map[string]ProbeEvent{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			got[ev.Probe] = ev
		case <-time.After(2 * time.Second):
			t.Fatal("missing probe event")
		}
	}

	good, ok := got["good"]
	if !ok || good.Err != nil || good.Result == nil || good.Result.Detail != "ok" {
		t.Fatalf("good event = %+v", good)
	}
	bad, ok := got["bad"]
	if !ok || !errors.Is(bad.Err, boom) || bad.Result != nil {
		t.Fatalf("bad event = %+v", bad)
	}
}

func TestRegisterRejectsBadSpec(t *testing.T) {
	t.Parallel()
	f := New(newPacer(t), nil, nil)
	if err := f.Register(&fakeProbe{name: "x"}, "every now and then", 0); err == nil {
		t.Fatal("Register accepted an invalid schedule")
	}
	if err := f.Register(&fakeProbe{name: "x"}, "@every 1m", 0); err != nil {
		t.Fatalf("Register rejected a valid schedule: %v", err)
	}
}
