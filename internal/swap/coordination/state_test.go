package coordination

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquire_AtMostOneHolder(t *testing.T) {
	s := NewState(2, 2, 4)

	const contenders = 64
	var winners atomic.Int32
	var start sync.WaitGroup
	var done sync.WaitGroup
	start.Add(1)
	for i := 0; i < contenders; i++ {
		done.Add(1)
		go func() {
			defer done.Done()
			start.Wait()
			if s.TryAcquire() {
				winners.Add(1)
			}
		}()
	}
	start.Done()
	done.Wait()

	assert.Equal(t, int32(1), winners.Load())
	assert.True(t, s.Held())
	assert.False(t, s.TryAcquire())

	s.Release()
	assert.False(t, s.Held())
	assert.True(t, s.TryAcquire())
}

func TestWaitAcquire_TimesOutWhileHeld(t *testing.T) {
	s := NewState(1, 1, 4)
	require.True(t, s.TryAcquire())

	start := time.Now()
	ok := s.WaitAcquire(context.Background(), 2*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Millisecond)
	assert.True(t, s.Held())
}

func TestWaitAcquire_ZeroBudgetIsSingleAttempt(t *testing.T) {
	s := NewState(1, 1, 4)
	require.True(t, s.TryAcquire())
	assert.False(t, s.WaitAcquire(context.Background(), 0))

	s.Release()
	assert.True(t, s.WaitAcquire(context.Background(), 0))
}

func TestWaitAcquire_WokenByRelease(t *testing.T) {
	s := NewState(1, 1, 4)
	require.True(t, s.TryAcquire())

	go func() {
		time.Sleep(time.Millisecond)
		s.Release()
	}()

	assert.True(t, s.WaitAcquire(context.Background(), time.Second))
	assert.True(t, s.Held())
}

func TestWaitAcquire_ContextCancelled(t *testing.T) {
	s := NewState(1, 1, 4)
	require.True(t, s.TryAcquire())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, s.WaitAcquire(ctx, time.Second))
}

func TestCounters(t *testing.T) {
	s := NewState(1, 1, 4)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.BeginTransaction()
			s.RecordCompleted()
			s.EndTransaction()
		}()
	}
	wg.Wait()

	s.RecordFailed()
	s.RecordRolledBack()
	s.RecordFailover()

	snap := s.Snapshot()
	assert.Equal(t, int64(0), snap.Active)
	assert.Equal(t, int64(100), snap.Completed)
	assert.Equal(t, int64(1), snap.Failed)
	assert.Equal(t, int64(1), snap.RolledBack)
	assert.Equal(t, int64(1), snap.Failovers)
}

func TestReadinessFlagsGroupedByRole(t *testing.T) {
	s := NewState(2, 3, 4)
	for i := 0; i < 5; i++ {
		s.SetReady(i, true)
	}
	s.SetReady(1, false)
	s.SetReady(4, false)
	s.SetReady(99, true) // out of range is ignored

	assert.Equal(t, 1, s.ReadyLegA())
	assert.Equal(t, 2, s.ReadyLegB())
}

func TestLatencyRing(t *testing.T) {
	s := NewState(1, 1, 4)
	assert.Empty(t, s.RecentLatencies())

	assert.Equal(t, 0, s.PushLatency(10))
	assert.Equal(t, 1, s.PushLatency(20))
	assert.Equal(t, []int64{20, 10}, s.RecentLatencies())

	s.PushLatency(30)
	s.PushLatency(40)
	assert.Equal(t, 0, s.PushLatency(50))
	assert.Equal(t, []int64{50, 40, 30, 20}, s.RecentLatencies())
	assert.Equal(t, uint64(5), s.Snapshot().Samples)
}
