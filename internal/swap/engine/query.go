package engine

import (
	"slices"

	"github.com/google/uuid"

	"github.com/Aidin1998/swapengine/internal/swap/coordination"
	"github.com/Aidin1998/swapengine/internal/swap/model"
	"github.com/Aidin1998/swapengine/internal/swap/workers"
	"github.com/Aidin1998/swapengine/pkg/errors"
)

// Stats summarizes the engine since start. Latencies are in microseconds.
type Stats struct {
	Total           int64   `json:"total"`
	Completed       int64   `json:"completed"`
	Failed          int64   `json:"failed"`
	RolledBack      int64   `json:"rolled_back"`
	SuccessRate     float64 `json:"success_rate"`
	AvgLatency      float64 `json:"avg_latency_us"`
	MinLatency      int64   `json:"min_latency_us"`
	MaxLatency      int64   `json:"max_latency_us"`
	RecentLatencies []int64 `json:"recent_latencies_us"`
	ActiveCount     int64   `json:"active_count"`
	IdleWorkerCount int     `json:"idle_worker_count"`
	Failovers       int64   `json:"failovers"`
}

// ActiveSwaps returns copies of the swaps currently in flight, oldest first.
func (o *Orchestrator) ActiveSwaps() []model.Swap {
	o.activeMu.RLock()
	out := make([]model.Swap, 0, len(o.active))
	for _, s := range o.active {
		out = append(out, s)
	}
	o.activeMu.RUnlock()

	slices.SortFunc(out, func(a, b model.Swap) int {
		switch {
		case a.Sequence < b.Sequence:
			return -1
		case a.Sequence > b.Sequence:
			return 1
		}
		return 0
	})
	return out
}

// History returns up to limit finished swaps, newest first.
func (o *Orchestrator) History(limit int) []model.Swap {
	return o.history.Recent(limit)
}

// Swap looks id up in the active set, then in history.
func (o *Orchestrator) Swap(id uuid.UUID) (model.Swap, error) {
	o.activeMu.RLock()
	s, ok := o.active[id]
	o.activeMu.RUnlock()
	if ok {
		return s, nil
	}
	if s, ok := o.history.Get(id); ok {
		return s, nil
	}
	return model.Swap{}, errors.ErrNotFound.Explain("swap %s not found", id)
}

// Stats reads the counters and latency aggregates.
func (o *Orchestrator) Stats() Stats {
	snap := o.state.Snapshot()
	lat := o.tracker.Snapshot()

	st := Stats{
		Completed:       snap.Completed,
		Failed:          snap.Failed,
		RolledBack:      snap.RolledBack,
		AvgLatency:      lat.Avg,
		MinLatency:      lat.Min,
		MaxLatency:      lat.Max,
		RecentLatencies: lat.Recent,
		ActiveCount:     snap.Active,
		IdleWorkerCount: o.workers.IdleCount(model.RoleLegA) + o.workers.IdleCount(model.RoleLegB),
		Failovers:       snap.Failovers,
	}
	st.Total = st.Completed + st.Failed + st.RolledBack
	if st.Total > 0 {
		st.SuccessRate = float64(st.Completed) / float64(st.Total) * 100
	}
	return st
}

// Workers returns a copy of every worker.
func (o *Orchestrator) Workers() []workers.Info {
	return o.workers.Snapshot()
}

// Coordination returns a snapshot of the shared coordination state.
func (o *Orchestrator) Coordination() coordination.StateSnapshot {
	return o.state.Snapshot()
}
