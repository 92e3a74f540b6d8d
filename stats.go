package bitonic

import (
	"sync/atomic"
	"time"
)

// Stats contains sorter execution statistics.
type Stats struct {
	// Started is the number of invocations that ran the pass sequence.
	Started uint64

	// Completed is the number of invocations that finished every pass.
	Completed uint64

	// Dropped is the number of invocations rejected because another was in
	// progress or the sorter was closing.
	Dropped uint64

	// Failed is the number of invocations abandoned on an error.
	Failed uint64

	// Uploads is the number of times dirty host data was re-uploaded.
	Uploads uint64

	// Dispatches is the total number of dispatches recorded.
	Dispatches uint64

	// PlanLength is the number of passes of one invocation.
	PlanLength int

	// Strategy is the resolved strategy for levels above the block size.
	Strategy Strategy

	// LastDuration is the wall time of the last completed invocation.
	LastDuration time.Duration

	// TotalDuration is the wall time of all completed invocations.
	TotalDuration time.Duration
}

type statsCounters struct {
	started    atomic.Uint64
	completed  atomic.Uint64
	dropped    atomic.Uint64
	failed     atomic.Uint64
	uploads    atomic.Uint64
	dispatches atomic.Uint64
	lastNS     atomic.Int64
	totalNS    atomic.Int64
}

func (c *statsCounters) complete(d time.Duration) {
	c.completed.Add(1)
	c.lastNS.Store(int64(d))
	c.totalNS.Add(int64(d))
}

// Stats returns a snapshot of the execution statistics.
func (s *Sorter) Stats() Stats {
	return Stats{
		Started:       s.stats.started.Load(),
		Completed:     s.stats.completed.Load(),
		Dropped:       s.stats.dropped.Load(),
		Failed:        s.stats.failed.Load(),
		Uploads:       s.stats.uploads.Load(),
		Dispatches:    s.stats.dispatches.Load(),
		PlanLength:    len(s.plan),
		Strategy:      s.cfg.Strategy,
		LastDuration:  time.Duration(s.stats.lastNS.Load()),
		TotalDuration: time.Duration(s.stats.totalNS.Load()),
	}
}
