package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Aidin1998/swapengine/pkg/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 64, cfg.Engine.MaxConcurrentSwaps)
	assert.Equal(t, 500*time.Microsecond, cfg.Engine.LockWaitBudget)
	assert.Equal(t, 3, cfg.Engine.MaxRollbackRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Engine.RollbackRetryDelay)
	assert.Equal(t, 3*time.Second, cfg.Engine.LegTimeout)
	assert.Equal(t, 0.5, cfg.Engine.SlippageTolerancePercent)
	assert.Equal(t, 4, cfg.Engine.LatencySampleWindow)
	assert.Equal(t, 1000, cfg.Engine.HistoryCapacity)

	assert.Equal(t, 8, cfg.Workers.PoolSize)
	assert.Equal(t, []string{"venue-a"}, cfg.Workers.LegACounterparties)
	assert.Equal(t, []string{"venue-b"}, cfg.Workers.LegBCounterparties)
	assert.Equal(t, ":8090", cfg.Server.Address)
	assert.Equal(t, "swap-events", cfg.Kafka.Topic)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, "swapengine:state", cfg.Redis.Key)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.Telemetry.Tracing)
	assert.Equal(t, "swapengine", cfg.Telemetry.ServiceName)

	pool := cfg.Workers.Pool()
	a, b := pool.Split()
	assert.Equal(t, 4, a)
	assert.Equal(t, 4, b)
}

func TestLoad_FileOverrides(t *testing.T) {
	path := writeConfig(t, `
engine:
  lock_wait_budget: 2ms
  leg_timeout: 750ms
  max_rollback_retries: 5
workers:
  pool_size: 6
  leg_a_workers: 2
  leg_a_counterparties: [binance, kraken]
kafka:
  enabled: true
  brokers: [kafka-1:9092, kafka-2:9092]
log:
  format: console
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Millisecond, cfg.Engine.LockWaitBudget)
	assert.Equal(t, 750*time.Millisecond, cfg.Engine.LegTimeout)
	assert.Equal(t, 5, cfg.Engine.MaxRollbackRetries)
	assert.Equal(t, 6, cfg.Workers.PoolSize)
	assert.Equal(t, 2, cfg.Workers.LegAWorkers)
	assert.Equal(t, []string{"binance", "kraken"}, cfg.Workers.LegACounterparties)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "console", cfg.Log.Format)
	// untouched keys keep their defaults
	assert.Equal(t, 1000, cfg.Engine.HistoryCapacity)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SWAPENGINE_ENGINE_LEG_TIMEOUT", "1500ms")
	t.Setenv("SWAPENGINE_SERVER_ADDRESS", ":9999")
	t.Setenv("SWAPENGINE_LOG_LEVEL", "debug")
	t.Setenv("SWAPENGINE_TELEMETRY_TRACING", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, cfg.Engine.LegTimeout)
	assert.Equal(t, ":9999", cfg.Server.Address)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Telemetry.Tracing)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"pool too small":     "workers:\n  pool_size: 1\n",
		"leg-a takes all":    "workers:\n  pool_size: 4\n  leg_a_workers: 4\n",
		"no retries":         "engine:\n  max_rollback_retries: 0\n",
		"zero leg timeout":   "engine:\n  leg_timeout: 0s\n",
		"bad log format":     "log:\n  format: xml\n",
		"bad probability":    "simulator:\n  reject_probability: 1.5\n",
		"inverted latencies": "simulator:\n  min_latency: 5ms\n  max_latency: 1ms\n",
		"kafka no brokers":   "kafka:\n  enabled: true\n  brokers: []\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestDump(t *testing.T) {
	path := writeConfig(t, "redis:\n  password: hunter2\n")

	out, err := Dump(path)
	require.NoError(t, err)

	var decoded map[string]map[string]interface{}
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	assert.Equal(t, "3s", decoded["engine"]["leg_timeout"])
	assert.Equal(t, "********", decoded["redis"]["password"])
	assert.NotContains(t, string(out), "hunter2")
}
