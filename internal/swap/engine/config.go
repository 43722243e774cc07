package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the orchestration tunables.
type Config struct {
	// MaxConcurrentSwaps gates admission; 0 disables the gate.
	MaxConcurrentSwaps int           `mapstructure:"max_concurrent_swaps" yaml:"max_concurrent_swaps" validate:"gte=0"`
	LockWaitBudget     time.Duration `mapstructure:"lock_wait_budget" yaml:"lock_wait_budget" validate:"gte=0"`
	MaxRollbackRetries int           `mapstructure:"max_rollback_retries" yaml:"max_rollback_retries" validate:"gte=1"`
	RollbackRetryDelay time.Duration `mapstructure:"rollback_retry_delay" yaml:"rollback_retry_delay" validate:"gte=0"`
	LegTimeout         time.Duration `mapstructure:"leg_timeout" yaml:"leg_timeout" validate:"gt=0"`
	// SlippageTolerancePercent is the allowed deviation of a fill from its
	// requested price, in percent.
	SlippageTolerancePercent float64       `mapstructure:"slippage_tolerance_percent" yaml:"slippage_tolerance_percent" validate:"gte=0"`
	LatencySampleWindow      int           `mapstructure:"latency_sample_window" yaml:"latency_sample_window" validate:"gte=1"`
	HistoryCapacity          int           `mapstructure:"history_capacity" yaml:"history_capacity" validate:"gte=1"`
	WorkerRecoveryInterval   time.Duration `mapstructure:"worker_recovery_interval" yaml:"worker_recovery_interval" validate:"gte=0"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentSwaps:       64,
		LockWaitBudget:           500 * time.Microsecond,
		MaxRollbackRetries:       3,
		RollbackRetryDelay:       100 * time.Millisecond,
		LegTimeout:               3 * time.Second,
		SlippageTolerancePercent: 0.5,
		LatencySampleWindow:      4,
		HistoryCapacity:          1000,
		WorkerRecoveryInterval:   5 * time.Second,
	}
}

func (c Config) slippageTolerance() decimal.Decimal {
	return decimal.NewFromFloat(c.SlippageTolerancePercent)
}
