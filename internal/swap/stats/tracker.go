// Package stats aggregates swap latencies.
package stats

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/Aidin1998/swapengine/internal/swap/coordination"
)

// Tracker keeps running latency aggregates and feeds the coordination
// latency ring. All updates are lock-free.
type Tracker struct {
	state *coordination.State

	count atomic.Int64
	sum   atomic.Int64
	min   atomic.Int64
	max   atomic.Int64
}

// NewTracker creates a tracker writing samples into state's ring.
func NewTracker(state *coordination.State) *Tracker {
	t := &Tracker{state: state}
	t.min.Store(math.MaxInt64)
	return t
}

// Record adds one sample in microseconds.
func (t *Tracker) Record(sampleUs int64) {
	t.count.Add(1)
	t.sum.Add(sampleUs)

	for {
		cur := t.min.Load()
		if sampleUs >= cur || t.min.CompareAndSwap(cur, sampleUs) {
			break
		}
	}
	for {
		cur := t.max.Load()
		if sampleUs <= cur || t.max.CompareAndSwap(cur, sampleUs) {
			break
		}
	}

	t.state.PushLatency(sampleUs)
}

// RecordDuration records d in microseconds.
func (t *Tracker) RecordDuration(d time.Duration) {
	t.Record(d.Microseconds())
}

// Snapshot is a point-in-time view of the aggregates. Latencies are in
// microseconds.
type Snapshot struct {
	Count       int64   `json:"count"`
	Avg         float64 `json:"avg_us"`
	Min         int64   `json:"min_us"`
	Max         int64   `json:"max_us"`
	Active      int64   `json:"active"`
	IdleWorkers int     `json:"idle_workers"`
	Recent      []int64 `json:"recent_us"`
}

// Snapshot reads the aggregates. With no samples Avg, Min and Max are zero.
func (t *Tracker) Snapshot() Snapshot {
	s := Snapshot{
		Count:       t.count.Load(),
		Active:      t.state.Active(),
		IdleWorkers: t.state.ReadyLegA() + t.state.ReadyLegB(),
		Recent:      t.state.RecentLatencies(),
	}
	if s.Count == 0 {
		return s
	}
	s.Avg = float64(t.sum.Load()) / float64(s.Count)
	s.Min = t.min.Load()
	s.Max = t.max.Load()
	return s
}
