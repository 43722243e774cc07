package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsRegistered(t *testing.T) {
	for name, c := range map[string]prometheus.Collector{
		"swaps_total":       SwapsTotal,
		"swap_latency":      SwapLatency,
		"leg_results":       LegResults,
		"lock_failovers":    LockFailovers,
		"rollback_attempts": RollbackAttempts,
		"active_swaps":      ActiveSwaps,
		"idle_workers":      IdleWorkers,
		"events_dropped":    EventsDropped,
	} {
		err := prometheus.Register(c)
		var already prometheus.AlreadyRegisteredError
		require.ErrorAs(t, err, &already, name)
	}
}

func TestLabelledCounters(t *testing.T) {
	SwapsTotal.WithLabelValues("completed").Inc()
	SwapsTotal.WithLabelValues("rolled-back").Add(2)
	assert.Equal(t, 1.0, testutil.ToFloat64(SwapsTotal.WithLabelValues("completed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(SwapsTotal.WithLabelValues("rolled-back")))

	IdleWorkers.WithLabelValues("leg-a").Set(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(IdleWorkers.WithLabelValues("leg-a")))

	SwapLatency.Observe(0.002)
	assert.Equal(t, 1, testutil.CollectAndCount(SwapLatency))
}
