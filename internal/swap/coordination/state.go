// Package coordination holds the state shared by every in-flight swap: the
// coordination lock, transaction counters, worker readiness flags and the
// latency ring. Every field is touched only through sync/atomic.
package coordination

import (
	"context"
	"sync/atomic"
	"time"
)

const (
	lockFree int32 = 0
	lockHeld int32 = 1

	maxPollInterval = 50 * time.Microsecond
	minPollInterval = time.Microsecond
)

// State is the coordination region. The zero value is not usable; build it
// with NewState.
type State struct {
	lock atomic.Int32
	// wake carries one release signal to a waiter so it does not sleep a
	// full poll interval after the holder lets go.
	wake chan struct{}

	active     atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
	rolledBack atomic.Int64
	failovers  atomic.Int64

	legAWorkers int
	ready       []atomic.Int32

	samples atomic.Uint64
	latency []atomic.Int64
}

// NewState allocates readiness flags for legA+legB workers (leg-A slots
// first) and a latency ring of window samples.
func NewState(legAWorkers, legBWorkers, window int) *State {
	if window < 1 {
		window = 1
	}
	return &State{
		wake:        make(chan struct{}, 1),
		legAWorkers: legAWorkers,
		ready:       make([]atomic.Int32, legAWorkers+legBWorkers),
		latency:     make([]atomic.Int64, window),
	}
}

// TryAcquire performs a single compare-and-swap of the lock from free to
// held. It never blocks.
func (s *State) TryAcquire() bool {
	return s.lock.CompareAndSwap(lockFree, lockHeld)
}

// Release frees the lock and wakes a waiter, if any.
func (s *State) Release() {
	s.lock.Store(lockFree)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Held reports whether some swap currently holds the lock.
func (s *State) Held() bool {
	return s.lock.Load() == lockHeld
}

// WaitAcquire retries TryAcquire with a short bounded sleep until it
// succeeds, timeout elapses or ctx is done. A false return means the caller
// proceeds without the lock.
func (s *State) WaitAcquire(ctx context.Context, timeout time.Duration) bool {
	if s.TryAcquire() {
		return true
	}
	if timeout <= 0 {
		return false
	}

	poll := timeout / 8
	if poll > maxPollInterval {
		poll = maxPollInterval
	}
	if poll < minPollInterval {
		poll = minPollInterval
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return s.TryAcquire()
		case <-s.wake:
		case <-ticker.C:
		}
		if s.TryAcquire() {
			return true
		}
	}
}

// BeginTransaction increments the active transaction counter.
func (s *State) BeginTransaction() {
	s.active.Add(1)
}

// EndTransaction decrements the active transaction counter.
func (s *State) EndTransaction() {
	s.active.Add(-1)
}

// RecordCompleted, RecordFailed and RecordRolledBack bump the terminal counters.
func (s *State) RecordCompleted() { s.completed.Add(1) }
func (s *State) RecordFailed() { s.failed.Add(1) }
func (s *State) RecordRolledBack() { s.rolledBack.Add(1) }

// RecordFailover counts a swap that proceeded without the lock.
func (s *State) RecordFailover() {
	s.failovers.Add(1)
}

// Active returns the number of swaps currently executing.
func (s *State) Active() int64 {
	return s.active.Load()
}

// SetReady stores the readiness flag of worker slot.
func (s *State) SetReady(slot int, ready bool) {
	if slot < 0 || slot >= len(s.ready) {
		return
	}
	var v int32
	if ready {
		v = 1
	}
	s.ready[slot].Store(v)
}

// readyCount counts ready workers in [from, to).
func (s *State) readyCount(from, to int) int {
	n := 0
	for i := from; i < to; i++ {
		if s.ready[i].Load() == 1 {
			n++
		}
	}
	return n
}

// ReadyLegA and ReadyLegB count ready workers of each role.
func (s *State) ReadyLegA() int { return s.readyCount(0, s.legAWorkers) }
func (s *State) ReadyLegB() int { return s.readyCount(s.legAWorkers, len(s.ready)) }

// PushLatency stores sample at sampleCount mod K and returns the slot used.
func (s *State) PushLatency(sampleUs int64) int {
	n := s.samples.Add(1) - 1
	slot := int(n % uint64(len(s.latency)))
	s.latency[slot].Store(sampleUs)
	return slot
}

// RecentLatencies returns the ring content, newest first. Slots that were
// never written are omitted.
func (s *State) RecentLatencies() []int64 {
	n := s.samples.Load()
	k := uint64(len(s.latency))
	count := n
	if count > k {
		count = k
	}
	out := make([]int64, 0, count)
	for i := uint64(0); i < count; i++ {
		slot := (n - 1 - i) % k
		out = append(out, s.latency[slot].Load())
	}
	return out
}

// StateSnapshot is a benignly stale read of the independent counters.
type StateSnapshot struct {
	LockHeld   bool    `json:"lock_held"`
	Active     int64   `json:"active"`
	Completed  int64   `json:"completed"`
	Failed     int64   `json:"failed"`
	RolledBack int64   `json:"rolled_back"`
	Failovers  int64   `json:"failovers"`
	ReadyLegA  int     `json:"ready_leg_a"`
	ReadyLegB  int     `json:"ready_leg_b"`
	Samples    uint64  `json:"samples"`
	Latencies  []int64 `json:"recent_latencies_us"`
}

// Snapshot reads every field once.
func (s *State) Snapshot() StateSnapshot {
	return StateSnapshot{
		LockHeld:   s.Held(),
		Active:     s.active.Load(),
		Completed:  s.completed.Load(),
		Failed:     s.failed.Load(),
		RolledBack: s.rolledBack.Load(),
		Failovers:  s.failovers.Load(),
		ReadyLegA:  s.ReadyLegA(),
		ReadyLegB:  s.ReadyLegB(),
		Samples:    s.samples.Load(),
		Latencies:  s.RecentLatencies(),
	}
}
