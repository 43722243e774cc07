// Package workers tracks the fixed set of logical workers that legs are
// dispatched through. A worker's status is claimed with a single
// compare-and-swap so two orchestrators can never reserve the same worker.
package workers

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/swapengine/internal/swap/coordination"
	"github.com/Aidin1998/swapengine/internal/swap/model"
)

// Status of a worker.
type Status int32

const (
	StatusIdle Status = iota
	StatusBusy
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusBusy:
		return "busy"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// Worker is a long-lived logical executor bound to one counterparty.
type Worker struct {
	ID           string
	Role         model.Role
	Counterparty string

	slot          int
	status        atomic.Int32
	lastHeartbeat atomic.Int64 // unix nanos
	completed     atomic.Int64
	failed        atomic.Int64
}

// Status returns the current status.
func (w *Worker) Status() Status {
	return Status(w.status.Load())
}

func (w *Worker) heartbeat() {
	w.lastHeartbeat.Store(time.Now().UnixNano())
}

// Info is a point-in-time copy of a worker.
type Info struct {
	ID            string     `json:"id"`
	Role          model.Role `json:"role"`
	Counterparty  string     `json:"counterparty"`
	Status        string     `json:"status"`
	LastHeartbeat time.Time  `json:"last_heartbeat"`
	Completed     int64      `json:"completed"`
	Failed        int64      `json:"failed"`
}

// Config describes the pool layout.
type Config struct {
	PoolSize           int
	// LegAWorkers is the number of leg-A workers; 0 splits the pool evenly.
	LegAWorkers        int
	LegACounterparties []string
	LegBCounterparties []string
}

// Split returns the number of leg-A and leg-B workers.
func (c Config) Split() (int, int) {
	legA := c.LegAWorkers
	if legA <= 0 || legA >= c.PoolSize {
		legA = (c.PoolSize + 1) / 2
	}
	return legA, c.PoolSize - legA
}

// Registry owns the worker pool.
type Registry struct {
	logger *zap.Logger
	state  *coordination.State
	byRole map[model.Role][]*Worker
	all    []*Worker
}

// NewRegistry creates the pool. Workers of each role are bound round-robin
// to that role's counterparties; readiness slots follow the layout of
// coordination.NewState (leg-A first).
func NewRegistry(cfg Config, state *coordination.State, logger *zap.Logger) (*Registry, error) {
	if cfg.PoolSize < 2 {
		return nil, fmt.Errorf("worker pool needs at least 2 workers, got %d", cfg.PoolSize)
	}
	if len(cfg.LegACounterparties) == 0 || len(cfg.LegBCounterparties) == 0 {
		return nil, fmt.Errorf("both roles need at least one counterparty")
	}

	r := &Registry{
		logger: logger.Named("workers"),
		state:  state,
		byRole: make(map[model.Role][]*Worker, 2),
	}

	legA, legB := cfg.Split()
	r.build(model.RoleLegA, legA, cfg.LegACounterparties)
	r.build(model.RoleLegB, legB, cfg.LegBCounterparties)

	r.logger.Info("Worker pool ready",
		zap.Int("leg_a_workers", legA),
		zap.Int("leg_b_workers", legB))

	return r, nil
}

func (r *Registry) build(role model.Role, n int, counterparties []string) {
	for i := 0; i < n; i++ {
		w := &Worker{
			ID:           fmt.Sprintf("%s-%d", role, i),
			Role:         role,
			Counterparty: counterparties[i%len(counterparties)],
			slot:         len(r.all),
		}
		w.heartbeat()
		r.byRole[role] = append(r.byRole[role], w)
		r.all = append(r.all, w)
		r.state.SetReady(w.slot, true)
	}
}

// FindWorker selects without reserving: an idle worker bound to
// counterparty, else any idle worker of role, else nil.
func (r *Registry) FindWorker(role model.Role, counterparty string) *Worker {
	var fallback *Worker
	for _, w := range r.byRole[role] {
		if w.Status() != StatusIdle {
			continue
		}
		if w.Counterparty == counterparty {
			return w
		}
		if fallback == nil {
			fallback = w
		}
	}
	return fallback
}

// Reserve applies the FindWorker policy but claims the worker with a CAS
// idle -> busy. A lost race moves on to the next candidate.
func (r *Registry) Reserve(role model.Role, counterparty string) (*Worker, bool) {
	pool := r.byRole[role]
	for _, w := range pool {
		if w.Counterparty == counterparty && r.claim(w) {
			return w, true
		}
	}
	for _, w := range pool {
		if r.claim(w) {
			return w, true
		}
	}
	return nil, false
}

func (r *Registry) claim(w *Worker) bool {
	if !w.status.CompareAndSwap(int32(StatusIdle), int32(StatusBusy)) {
		return false
	}
	r.state.SetReady(w.slot, false)
	w.heartbeat()
	return true
}

// Release returns a busy worker to idle and records the leg outcome.
func (r *Registry) Release(w *Worker, ok bool) {
	if ok {
		w.completed.Add(1)
	} else {
		w.failed.Add(1)
	}
	w.heartbeat()
	if w.status.CompareAndSwap(int32(StatusBusy), int32(StatusIdle)) {
		r.state.SetReady(w.slot, true)
	}
}

// MarkError parks a busy worker after a transport fault.
func (r *Registry) MarkError(w *Worker) {
	w.failed.Add(1)
	w.heartbeat()
	if w.status.CompareAndSwap(int32(StatusBusy), int32(StatusError)) {
		r.logger.Warn("Worker parked after transport fault",
			zap.String("worker_id", w.ID),
			zap.String("counterparty", w.Counterparty))
	}
}

// Recover returns workers that have been in error for at least cooldown to
// idle and reports how many were recovered.
func (r *Registry) Recover(cooldown time.Duration) int {
	cutoff := time.Now().Add(-cooldown).UnixNano()
	recovered := 0
	for _, w := range r.all {
		if w.Status() != StatusError || w.lastHeartbeat.Load() > cutoff {
			continue
		}
		if w.status.CompareAndSwap(int32(StatusError), int32(StatusIdle)) {
			w.heartbeat()
			r.state.SetReady(w.slot, true)
			recovered++
		}
	}
	if recovered > 0 {
		r.logger.Info("Recovered workers", zap.Int("count", recovered))
	}
	return recovered
}

// IdleCount counts idle workers of role.
func (r *Registry) IdleCount(role model.Role) int {
	n := 0
	for _, w := range r.byRole[role] {
		if w.Status() == StatusIdle {
			n++
		}
	}
	return n
}

// Snapshot copies every worker.
func (r *Registry) Snapshot() []Info {
	out := make([]Info, 0, len(r.all))
	for _, w := range r.all {
		out = append(out, Info{
			ID:            w.ID,
			Role:          w.Role,
			Counterparty:  w.Counterparty,
			Status:        w.Status().String(),
			LastHeartbeat: time.Unix(0, w.lastHeartbeat.Load()),
			Completed:     w.completed.Load(),
			Failed:        w.failed.Load(),
		})
	}
	return out
}
