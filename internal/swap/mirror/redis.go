// Package mirror publishes the coordination state to Redis so processes
// outside the engine can observe it.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Aidin1998/swapengine/internal/swap/coordination"
	"github.com/Aidin1998/swapengine/internal/swap/engine"
)

// RedisConfig configures the mirror.
type RedisConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Address         string        `mapstructure:"address" yaml:"address"`
	Password        string        `mapstructure:"password" yaml:"password"`
	DB              int           `mapstructure:"db" yaml:"db"`
	Key             string        `mapstructure:"key" yaml:"key"`
	PublishInterval time.Duration `mapstructure:"publish_interval" yaml:"publish_interval"`
}

// Source is what the mirror reads from.
type Source interface {
	Coordination() coordination.StateSnapshot
	Stats() engine.Stats
}

type hashWriter interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisMirror writes a snapshot hash on every tick. The key expires after
// three missed ticks so a dead engine does not leave a stale view behind.
type RedisMirror struct {
	client   hashWriter
	source   Source
	key      string
	interval time.Duration
	logger   *zap.Logger
}

// NewRedisClient opens the client described by cfg.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRedisMirror creates a mirror of source.
func NewRedisMirror(client hashWriter, source Source, cfg RedisConfig, logger *zap.Logger) *RedisMirror {
	interval := cfg.PublishInterval
	if interval <= 0 {
		interval = time.Second
	}
	key := cfg.Key
	if key == "" {
		key = "swapengine:state"
	}
	return &RedisMirror{
		client:   client,
		source:   source,
		key:      key,
		interval: interval,
		logger:   logger.Named("mirror"),
	}
}

// Publish writes one snapshot.
func (m *RedisMirror) Publish(ctx context.Context) error {
	snap := m.source.Coordination()
	st := m.source.Stats()

	recent, err := json.Marshal(snap.Latencies)
	if err != nil {
		return fmt.Errorf("failed to marshal latencies: %w", err)
	}

	fields := map[string]interface{}{
		"lock_held":           strconv.FormatBool(snap.LockHeld),
		"active":              snap.Active,
		"completed":           snap.Completed,
		"failed":              snap.Failed,
		"rolled_back":         snap.RolledBack,
		"failovers":           snap.Failovers,
		"ready_leg_a":         snap.ReadyLegA,
		"ready_leg_b":         snap.ReadyLegB,
		"samples":             snap.Samples,
		"recent_latencies_us": string(recent),
		"avg_latency_us":      strconv.FormatFloat(st.AvgLatency, 'f', 2, 64),
		"min_latency_us":      st.MinLatency,
		"max_latency_us":      st.MaxLatency,
		"success_rate":        strconv.FormatFloat(st.SuccessRate, 'f', 2, 64),
		"updated_at":          time.Now().UTC().Format(time.RFC3339Nano),
	}

	if err := m.client.HSet(ctx, m.key, fields).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", m.key, err)
	}
	if err := m.client.Expire(ctx, m.key, 3*m.interval).Err(); err != nil {
		return fmt.Errorf("failed to set expiry on %s: %w", m.key, err)
	}
	return nil
}

// Run publishes every interval until ctx is done.
func (m *RedisMirror) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("Mirroring coordination state", zap.String("key", m.key), zap.Duration("interval", m.interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Publish(ctx); err != nil {
				m.logger.Warn("Failed to mirror coordination state", zap.Error(err))
			}
		}
	}
}
