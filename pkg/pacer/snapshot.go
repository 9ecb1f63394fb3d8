package pacer

import "time"

// HistoryItem is one dispatched operation, recorded once its outcome is
// known (immediately for synchronous results, at settle time for
// asynchronous ones).
type HistoryItem struct {
	Seq      uint64
	Started  time.Time
	Duration time.Duration
	Async    bool
	Error    string
}

// Snapshot is a point-in-time view of the Scheduler for diagnostics.
type Snapshot struct {
	Interval   time.Duration
	QueueLen   int
	Paused     bool
	InFlight   bool // a round is holding the dispatch slot
	Dispatched uint64
	History    []HistoryItem
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Interval:   s.interval,
		QueueLen:   len(s.queue),
		Paused:     s.paused,
		InFlight:   s.triggering,
		Dispatched: s.seq,
	}
	s.mu.Unlock()

	s.hmu.Lock()
	snap.History = make([]HistoryItem, len(s.history))
	copy(snap.History, s.history)
	s.hmu.Unlock()
	return snap
}
