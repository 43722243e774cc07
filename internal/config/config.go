// Package config loads the engine configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Aidin1998/swapengine/internal/swap/adapter"
	"github.com/Aidin1998/swapengine/internal/swap/engine"
	"github.com/Aidin1998/swapengine/internal/swap/events"
	"github.com/Aidin1998/swapengine/internal/swap/mirror"
	"github.com/Aidin1998/swapengine/internal/swap/workers"
	"github.com/Aidin1998/swapengine/pkg/errors"
	"github.com/Aidin1998/swapengine/pkg/validation"
)

// EnvPrefix prefixes every environment override, e.g.
// SWAPENGINE_ENGINE_LEG_TIMEOUT=2s.
const EnvPrefix = "SWAPENGINE"

// Config is the full process configuration.
type Config struct {
	Engine    engine.Config           `mapstructure:"engine" yaml:"engine"`
	Workers   WorkersConfig           `mapstructure:"workers" yaml:"workers"`
	Server    ServerConfig            `mapstructure:"server" yaml:"server"`
	Kafka     events.KafkaConfig      `mapstructure:"kafka" yaml:"kafka"`
	Redis     mirror.RedisConfig      `mapstructure:"redis" yaml:"redis"`
	Simulator adapter.SimulatorConfig `mapstructure:"simulator" yaml:"simulator"`
	Log       LogConfig               `mapstructure:"log" yaml:"log"`
	Telemetry TelemetryConfig         `mapstructure:"telemetry" yaml:"telemetry"`
}

// WorkersConfig represents the worker pool layout
type WorkersConfig struct {
	PoolSize           int      `mapstructure:"pool_size" yaml:"pool_size" validate:"gte=2"`
	LegAWorkers        int      `mapstructure:"leg_a_workers" yaml:"leg_a_workers" validate:"gte=0,ltfield=PoolSize"`
	LegACounterparties []string `mapstructure:"leg_a_counterparties" yaml:"leg_a_counterparties" validate:"min=1"`
	LegBCounterparties []string `mapstructure:"leg_b_counterparties" yaml:"leg_b_counterparties" validate:"min=1"`
}

// Pool converts the layout for workers.NewRegistry.
func (w WorkersConfig) Pool() workers.Config {
	return workers.Config{
		PoolSize:           w.PoolSize,
		LegAWorkers:        w.LegAWorkers,
		LegACounterparties: w.LegACounterparties,
		LegBCounterparties: w.LegBCounterparties,
	}
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Address         string        `mapstructure:"address" yaml:"address" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=json console"`
}

// TelemetryConfig toggles the stdout OpenTelemetry exporters.
type TelemetryConfig struct {
	Tracing        bool          `mapstructure:"tracing" yaml:"tracing"`
	Metrics        bool          `mapstructure:"metrics" yaml:"metrics"`
	MetricInterval time.Duration `mapstructure:"metric_interval" yaml:"metric_interval"`
	ServiceName    string        `mapstructure:"service_name" yaml:"service_name" validate:"required"`
}

func setDefaults(v *viper.Viper) {
	e := engine.DefaultConfig()
	v.SetDefault("engine.max_concurrent_swaps", e.MaxConcurrentSwaps)
	v.SetDefault("engine.lock_wait_budget", e.LockWaitBudget)
	v.SetDefault("engine.max_rollback_retries", e.MaxRollbackRetries)
	v.SetDefault("engine.rollback_retry_delay", e.RollbackRetryDelay)
	v.SetDefault("engine.leg_timeout", e.LegTimeout)
	v.SetDefault("engine.slippage_tolerance_percent", e.SlippageTolerancePercent)
	v.SetDefault("engine.latency_sample_window", e.LatencySampleWindow)
	v.SetDefault("engine.history_capacity", e.HistoryCapacity)
	v.SetDefault("engine.worker_recovery_interval", e.WorkerRecoveryInterval)

	v.SetDefault("workers.pool_size", 8)
	v.SetDefault("workers.leg_a_workers", 0)
	v.SetDefault("workers.leg_a_counterparties", []string{"venue-a"})
	v.SetDefault("workers.leg_b_counterparties", []string{"venue-b"})

	v.SetDefault("server.address", ":8090")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	k := events.DefaultKafkaConfig()
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", k.Brokers)
	v.SetDefault("kafka.topic", k.Topic)
	v.SetDefault("kafka.write_timeout", k.WriteTimeout)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "swapengine:state")
	v.SetDefault("redis.publish_interval", time.Second)

	v.SetDefault("simulator.min_latency", 200*time.Microsecond)
	v.SetDefault("simulator.max_latency", 2*time.Millisecond)
	v.SetDefault("simulator.reject_probability", 0.05)
	v.SetDefault("simulator.max_slippage_percent", 0.3)
	v.SetDefault("simulator.seed", 0)
	v.SetDefault("simulator.offline", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("telemetry.tracing", false)
	v.SetDefault("telemetry.metrics", false)
	v.SetDefault("telemetry.metric_interval", time.Minute)
	v.SetDefault("telemetry.service_name", "swapengine")
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}
	return v, nil
}

// Load reads path (optional), applies environment overrides and defaults
// and validates the result.
func Load(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct tags and the cross-field rules.
func (c *Config) Validate() error {
	if err := validation.NewValidator().ValidateStruct(c); err != nil {
		return errors.ErrInvalidConfig.Wrap(err)
	}
	if c.Simulator.MaxLatency < c.Simulator.MinLatency {
		return errors.ErrInvalidConfig.Explain("simulator.max_latency %s is below simulator.min_latency %s",
			c.Simulator.MaxLatency, c.Simulator.MinLatency)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.ErrInvalidConfig.Explain("kafka.brokers is required when kafka is enabled")
	}
	if c.Redis.Enabled && c.Redis.Address == "" {
		return errors.ErrInvalidConfig.Explain("redis.address is required when redis is enabled")
	}
	return nil
}

// Dump renders the effective settings as YAML with durations in their
// string form and secrets redacted.
func Dump(path string) ([]byte, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	if v.GetString("redis.password") != "" {
		v.Set("redis.password", "********")
	}
	return yaml.Marshal(readable(v.AllSettings()))
}

func readable(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, val := range in {
		switch t := val.(type) {
		case map[string]interface{}:
			out[k] = readable(t)
		case time.Duration:
			out[k] = t.String()
		default:
			out[k] = val
		}
	}
	return out
}
