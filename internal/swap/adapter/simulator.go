package adapter

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/swapengine/internal/swap/model"
	"github.com/Aidin1998/swapengine/pkg/errors"
)

// SimulatorConfig shapes the simulated venue.
type SimulatorConfig struct {
	MinLatency time.Duration `mapstructure:"min_latency" yaml:"min_latency"`
	MaxLatency time.Duration `mapstructure:"max_latency" yaml:"max_latency"`
	// RejectProbability is the chance in [0,1] that a leg is rejected.
	RejectProbability float64 `mapstructure:"reject_probability" yaml:"reject_probability" validate:"gte=0,lte=1"`
	// MaxSlippagePercent bounds the deviation of the fill from the requested price.
	MaxSlippagePercent float64 `mapstructure:"max_slippage_percent" yaml:"max_slippage_percent" validate:"gte=0"`
	Seed               uint64  `mapstructure:"seed" yaml:"seed"`
	// Offline counterparties fail every submission with a transport fault.
	Offline []string `mapstructure:"offline" yaml:"offline"`
}

// Simulator is a paper venue: it fills or rejects legs after a random
// latency without talking to any counterparty.
type Simulator struct {
	cfg     SimulatorConfig
	logger  *zap.Logger
	offline map[string]struct{}

	mu  sync.Mutex
	rng *rand.Rand

	submitted int64
	rejected  int64
}

// NewSimulator creates a simulator. A zero seed draws one from the runtime.
func NewSimulator(cfg SimulatorConfig, logger *zap.Logger) *Simulator {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	if cfg.MaxLatency < cfg.MinLatency {
		cfg.MaxLatency = cfg.MinLatency
	}
	offline := make(map[string]struct{}, len(cfg.Offline))
	for _, cp := range cfg.Offline {
		offline[cp] = struct{}{}
	}
	return &Simulator{
		cfg:     cfg,
		logger:  logger.Named("simulator"),
		offline: offline,
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// draw returns the latency, whether to reject and the signed slippage
// fraction for one submission.
func (s *Simulator) draw() (time.Duration, bool, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.submitted++
	latency := s.cfg.MinLatency
	if spread := s.cfg.MaxLatency - s.cfg.MinLatency; spread > 0 {
		latency += time.Duration(s.rng.Int64N(int64(spread)))
	}
	reject := s.rng.Float64() < s.cfg.RejectProbability
	if reject {
		s.rejected++
	}
	slip := (s.rng.Float64()*2 - 1) * s.cfg.MaxSlippagePercent / 100
	return latency, reject, slip
}

// SubmitLeg implements ExecutionAdapter.
func (s *Simulator) SubmitLeg(ctx context.Context, leg model.Leg) (model.Leg, error) {
	latency, reject, slip := s.draw()

	if _, down := s.offline[leg.Counterparty]; down {
		return leg, errors.ErrTransport.Explain("counterparty %s unreachable", leg.Counterparty)
	}

	timer := time.NewTimer(latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return leg, errors.ErrTransport.Explain("submission to %s aborted", leg.Counterparty).Wrap(ctx.Err())
	case <-timer.C:
	}

	if reject {
		leg.Fail("rejected by " + leg.Counterparty)
		s.logger.Debug("Leg rejected",
			zap.String("leg_id", leg.ID.String()),
			zap.String("counterparty", leg.Counterparty))
		return leg, nil
	}

	price := leg.Price.Mul(decimal.NewFromFloat(1 + slip)).Round(8)
	leg.Fill(price, time.Now())
	return leg, nil
}

// Counts returns the number of submissions and rejections so far.
func (s *Simulator) Counts() (submitted, rejected int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitted, s.rejected
}
