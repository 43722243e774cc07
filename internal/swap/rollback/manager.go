// Package rollback undoes the filled leg of a half-executed swap.
package rollback

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Aidin1998/swapengine/internal/swap/adapter"
	"github.com/Aidin1998/swapengine/internal/swap/events"
	"github.com/Aidin1998/swapengine/internal/swap/model"
	"github.com/Aidin1998/swapengine/pkg/errors"
	"github.com/Aidin1998/swapengine/pkg/metrics"
)

// Config bounds compensation attempts.
type Config struct {
	MaxRetries int
	RetryDelay time.Duration
}

// Result describes a compensation run.
type Result struct {
	// Compensation is the last submitted state of the compensating leg.
	Compensation model.Leg
	Attempts     int
}

// Manager submits compensating legs.
type Manager struct {
	cfg       Config
	adapter   adapter.ExecutionAdapter
	publisher events.Publisher
	logger    *zap.Logger
}

// NewManager creates a rollback manager.
func NewManager(cfg Config, ad adapter.ExecutionAdapter, publisher events.Publisher, logger *zap.Logger) *Manager {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	return &Manager{
		cfg:       cfg,
		adapter:   ad,
		publisher: publisher,
		logger:    logger.Named("rollback"),
	}
}

// Compensate submits the leg undoing filled until it fills or the retry
// budget runs out. Attempts are not cut short by cancellation of ctx. On
// exhaustion a fatal rollback.failed event carrying both legs is published
// and ErrRollbackExhausted returned.
func (m *Manager) Compensate(ctx context.Context, swapID uuid.UUID, filled model.Leg) (Result, error) {
	ctx = context.WithoutCancel(ctx)
	pending := filled.Compensating()
	res := Result{Compensation: pending}

	logger := m.logger.With(
		zap.String("swap_id", swapID.String()),
		zap.String("leg_id", filled.ID.String()),
		zap.String("compensation_id", pending.ID.String()),
		zap.String("counterparty", filled.Counterparty))

	var lastReason string
	for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
		res.Attempts = attempt

		out, err := m.adapter.SubmitLeg(ctx, pending)
		switch {
		case err != nil:
			lastReason = err.Error()
			out = pending
			out.Fail(lastReason)
		case !out.Filled():
			lastReason = out.Error
		}
		res.Compensation = out

		if err == nil && out.Filled() {
			metrics.RollbackAttempts.WithLabelValues("succeeded").Inc()
			logger.Info("Compensating leg filled",
				zap.Int("attempt", attempt),
				zap.String("fill_price", out.EffectivePrice().String()))
			return res, nil
		}

		metrics.RollbackAttempts.WithLabelValues("failed").Inc()
		logger.Warn("Compensating leg failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", m.cfg.MaxRetries),
			zap.String("reason", lastReason))

		if attempt < m.cfg.MaxRetries && m.cfg.RetryDelay > 0 {
			time.Sleep(m.cfg.RetryDelay)
		}
	}

	e := events.New(events.RollbackFailed)
	e.SwapID = swapID
	e.Legs = []model.Leg{filled, res.Compensation}
	e.Message = fmt.Sprintf("compensation exhausted after %d attempts: %s", res.Attempts, lastReason)
	m.publisher.Publish(e)

	return res, errors.ErrRollbackExhausted.Explain("compensation of leg %s exhausted after %d attempts: %s",
		filled.ID, res.Attempts, lastReason)
}
