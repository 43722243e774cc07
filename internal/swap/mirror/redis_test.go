package mirror

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/swapengine/internal/swap/adapter"
	"github.com/Aidin1998/swapengine/internal/swap/coordination"
	"github.com/Aidin1998/swapengine/internal/swap/engine"
	"github.com/Aidin1998/swapengine/internal/swap/model"
	"github.com/Aidin1998/swapengine/internal/swap/workers"
)

type fakeRedis struct {
	mu      sync.Mutex
	hashes  map[string]map[string]interface{}
	expiry  map[string]time.Duration
	failSet bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		hashes: make(map[string]map[string]interface{}),
		expiry: make(map[string]time.Duration),
	}
}

func (f *fakeRedis) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet {
		cmd.SetErr(fmt.Errorf("connection refused"))
		return cmd
	}
	h := f.hashes[key]
	if h == nil {
		h = make(map[string]interface{})
		f.hashes[key] = h
	}
	for _, v := range values {
		if m, ok := v.(map[string]interface{}); ok {
			for k, val := range m {
				h[k] = val
			}
		}
	}
	cmd.SetVal(int64(len(h)))
	return cmd
}

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	f.mu.Lock()
	f.expiry[key] = expiration
	f.mu.Unlock()
	cmd.SetVal(true)
	return cmd
}

func (f *fakeRedis) hash(key string) map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hashes[key]
}

type staticSource struct {
	snap  coordination.StateSnapshot
	stats engine.Stats
}

func (s staticSource) Coordination() coordination.StateSnapshot { return s.snap }
func (s staticSource) Stats() engine.Stats                      { return s.stats }

func TestRedisMirror_Publish(t *testing.T) {
	client := newFakeRedis()
	src := staticSource{
		snap: coordination.StateSnapshot{
			LockHeld:  true,
			Active:    2,
			Completed: 7,
			Failovers: 1,
			ReadyLegA: 3,
			Latencies: []int64{40, 30},
		},
		stats: engine.Stats{AvgLatency: 35, SuccessRate: 87.5},
	}
	m := NewRedisMirror(client, src, RedisConfig{Key: "test:state", PublishInterval: time.Second}, zap.NewNop())

	require.NoError(t, m.Publish(context.Background()))

	h := client.hash("test:state")
	require.NotNil(t, h)
	assert.Equal(t, "true", h["lock_held"])
	assert.Equal(t, int64(2), h["active"])
	assert.Equal(t, int64(7), h["completed"])
	assert.Equal(t, int64(1), h["failovers"])
	assert.Equal(t, 3, h["ready_leg_a"])
	assert.Equal(t, "[40,30]", h["recent_latencies_us"])
	assert.Equal(t, "35.00", h["avg_latency_us"])
	assert.Equal(t, "87.50", h["success_rate"])
	assert.Equal(t, 3*time.Second, client.expiry["test:state"])
}

func TestRedisMirror_PublishError(t *testing.T) {
	client := newFakeRedis()
	client.failSet = true
	m := NewRedisMirror(client, staticSource{}, RedisConfig{}, zap.NewNop())

	err := m.Publish(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "swapengine:state")
}

func TestRedisMirror_RunStopsWithContext(t *testing.T) {
	client := newFakeRedis()
	m := NewRedisMirror(client, staticSource{}, RedisConfig{PublishInterval: time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return client.hash("swapengine:state") != nil }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("mirror did not stop")
	}
}

func TestRedisMirror_ReadsLiveEngine(t *testing.T) {
	pool := workers.Config{
		PoolSize:           8,
		LegACounterparties: []string{"venue-a"},
		LegBCounterparties: []string{"venue-b"},
	}
	nop := adapter.Func(func(_ context.Context, leg model.Leg) (model.Leg, error) { return leg, nil })
	o, err := engine.New(engine.DefaultConfig(), pool, engine.Deps{Adapter: nop})
	require.NoError(t, err)

	client := newFakeRedis()
	m := NewRedisMirror(client, o, RedisConfig{}, zap.NewNop())
	require.NoError(t, m.Publish(context.Background()))
	assert.Equal(t, 4, client.hash("swapengine:state")["ready_leg_a"])
}
