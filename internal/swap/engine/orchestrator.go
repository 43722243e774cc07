// Package engine runs swaps: it arbitrates the coordination lock, dispatches
// both legs concurrently, classifies the joint outcome and compensates a
// half-executed swap.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Aidin1998/swapengine/internal/swap/adapter"
	"github.com/Aidin1998/swapengine/internal/swap/coordination"
	"github.com/Aidin1998/swapengine/internal/swap/events"
	"github.com/Aidin1998/swapengine/internal/swap/history"
	"github.com/Aidin1998/swapengine/internal/swap/model"
	"github.com/Aidin1998/swapengine/internal/swap/rollback"
	"github.com/Aidin1998/swapengine/internal/swap/stats"
	"github.com/Aidin1998/swapengine/internal/swap/workers"
	"github.com/Aidin1998/swapengine/pkg/errors"
	"github.com/Aidin1998/swapengine/pkg/metrics"
	"github.com/Aidin1998/swapengine/pkg/validation"
)

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Adapter adapter.ExecutionAdapter
	// Bus receives lifecycle events; a private bus is created when nil.
	Bus    *events.Bus
	Logger *zap.Logger
}

// Orchestrator executes swaps. It is safe for concurrent use.
type Orchestrator struct {
	cfg       Config
	slippage  decimal.Decimal
	logger    *zap.Logger
	tracer    trace.Tracer
	validator *validation.Validator

	adapter  adapter.ExecutionAdapter
	state    *coordination.State
	workers  *workers.Registry
	rollback *rollback.Manager
	tracker  *stats.Tracker
	history  *history.Log
	bus      *events.Bus

	admission *semaphore.Weighted
	seq       atomic.Uint64

	activeMu sync.RWMutex
	active   map[uuid.UUID]model.Swap

	lifecycle sync.Mutex
	stopped   bool
	inflight  sync.WaitGroup
	cancel    context.CancelFunc
	loops     sync.WaitGroup
}

// New builds an orchestrator with its own coordination state, worker pool
// and history.
func New(cfg Config, pool workers.Config, deps Deps) (*Orchestrator, error) {
	if deps.Adapter == nil {
		return nil, errors.ErrInvalidConfig.Explain("execution adapter is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LatencySampleWindow < 1 {
		cfg.LatencySampleWindow = DefaultConfig().LatencySampleWindow
	}
	if cfg.HistoryCapacity < 1 {
		cfg.HistoryCapacity = DefaultConfig().HistoryCapacity
	}

	legA, legB := pool.Split()
	state := coordination.NewState(legA, legB, cfg.LatencySampleWindow)
	registry, err := workers.NewRegistry(pool, state, logger)
	if err != nil {
		return nil, errors.ErrInvalidConfig.Wrap(err)
	}

	bus := deps.Bus
	if bus == nil {
		bus = events.NewBus(logger)
	}

	legAdapter := adapter.WithTimeout(deps.Adapter, cfg.LegTimeout)

	o := &Orchestrator{
		cfg:       cfg,
		slippage:  cfg.slippageTolerance(),
		logger:    logger.Named("engine"),
		tracer:    otel.Tracer("swapengine/engine"),
		validator: validation.NewValidator(),
		adapter:   legAdapter,
		state:     state,
		workers:   registry,
		rollback: rollback.NewManager(rollback.Config{
			MaxRetries: cfg.MaxRollbackRetries,
			RetryDelay: cfg.RollbackRetryDelay,
		}, legAdapter, bus, logger),
		tracker: stats.NewTracker(state),
		history: history.NewLog(cfg.HistoryCapacity),
		bus:     bus,
		active:  make(map[uuid.UUID]model.Swap),
	}
	if cfg.MaxConcurrentSwaps > 0 {
		o.admission = semaphore.NewWeighted(int64(cfg.MaxConcurrentSwaps))
	}
	o.publishIdleWorkers()

	return o, nil
}

// Start emits engine.started and runs the worker recovery loop until ctx
// is done or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	o.lifecycle.Lock()
	o.cancel = cancel
	o.stopped = false
	o.lifecycle.Unlock()

	if o.cfg.WorkerRecoveryInterval > 0 {
		o.loops.Add(1)
		go o.recoveryLoop(ctx)
	}

	e := events.New(events.EngineStarted)
	e.Message = fmt.Sprintf("%d workers", len(o.workers.Snapshot()))
	o.bus.Publish(e)
	o.logger.Info("Swap engine started",
		zap.Int("max_concurrent_swaps", o.cfg.MaxConcurrentSwaps),
		zap.Duration("lock_wait_budget", o.cfg.LockWaitBudget),
		zap.Duration("leg_timeout", o.cfg.LegTimeout))
}

// Stop rejects new swaps, waits for in-flight swaps to finish and emits
// engine.stopped.
func (o *Orchestrator) Stop() {
	o.lifecycle.Lock()
	if o.stopped {
		o.lifecycle.Unlock()
		return
	}
	o.stopped = true
	cancel := o.cancel
	o.lifecycle.Unlock()

	if cancel != nil {
		cancel()
	}
	o.loops.Wait()
	o.inflight.Wait()

	o.bus.Publish(events.New(events.EngineStopped))
	o.logger.Info("Swap engine stopped", zap.Any("state", o.state.Snapshot()))
}

func (o *Orchestrator) recoveryLoop(ctx context.Context) {
	defer o.loops.Done()
	ticker := time.NewTicker(o.cfg.WorkerRecoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if o.workers.Recover(o.cfg.WorkerRecoveryInterval) > 0 {
				o.publishIdleWorkers()
			}
		}
	}
}

// Execute validates req, admits it and runs the swap to a terminal status.
// An error is returned only when the request is rejected before execution;
// an executed swap is always returned with a nil error, whatever its status.
func (o *Orchestrator) Execute(ctx context.Context, req model.Request) (model.Swap, error) {
	if err := o.validator.ValidateStruct(req); err != nil {
		return model.Swap{}, errors.ErrInvalidRequest.Wrap(err)
	}

	o.lifecycle.Lock()
	if o.stopped {
		o.lifecycle.Unlock()
		return model.Swap{}, errors.ErrEngineStopped
	}
	o.inflight.Add(1)
	o.lifecycle.Unlock()
	defer o.inflight.Done()

	if o.admission != nil {
		if !o.admission.TryAcquire(1) {
			o.logger.Warn("Swap rejected at admission",
				zap.Int("max_concurrent_swaps", o.cfg.MaxConcurrentSwaps))
			return model.Swap{}, errors.ErrCapacityExceeded
		}
		defer o.admission.Release(1)
	}

	s := model.NewSwap(req)
	s.Sequence = o.seq.Add(1)
	return o.run(ctx, s), nil
}

func (o *Orchestrator) run(ctx context.Context, s model.Swap) (out model.Swap) {
	ctx, span := o.tracer.Start(ctx, "swap.execute", trace.WithAttributes(
		attribute.String("swap.id", s.ID.String()),
		attribute.String("swap.instrument", s.LegA.Instrument),
	))
	defer span.End()

	logger := o.logger.With(zap.String("swap_id", s.ID.String()))
	o.track(s)

	var lockHeld, counted bool
	defer func() {
		if r := recover(); r != nil {
			o.forceFailed(&s, fmt.Sprintf("panic: %v", r))
			logger.Error("Swap orchestration panicked", zap.Any("panic", r))
		}
		if lockHeld {
			o.state.Release()
		}
		if counted {
			o.state.EndTransaction()
			metrics.ActiveSwaps.Dec()
		}
		o.finalize(&s, logger)
		if s.Status != model.SwapCompleted {
			span.SetStatus(codes.Error, string(s.Status))
		}
		span.SetAttributes(attribute.String("swap.status", string(s.Status)))
		out = s
	}()

	lockHeld = o.state.WaitAcquire(ctx, o.cfg.LockWaitBudget)
	s.LockHeld = lockHeld
	if !lockHeld {
		s.Failovers++
		o.state.RecordFailover()
		metrics.LockFailovers.Inc()
		logger.Debug("Lock wait budget exceeded, proceeding without lock",
			zap.Duration("budget", o.cfg.LockWaitBudget))
	}

	if err := s.Transition(model.SwapExecuting); err != nil {
		panic(err)
	}
	o.state.BeginTransaction()
	counted = true
	metrics.ActiveSwaps.Inc()
	o.track(s)

	// Legs that reached a counterparty run to completion or their own
	// deadline regardless of the caller.
	dispatchCtx := context.WithoutCancel(ctx)
	legA, legB, err := o.dispatchBoth(dispatchCtx, s)
	s.LegA, s.LegB = legA, legB
	if err != nil {
		o.forceFailed(&s, err.Error())
		logger.Error("Leg dispatch panicked", zap.Error(err))
		return
	}

	outcome := model.Classify(legA, legB)
	switch outcome.Status {
	case model.SwapCompleted:
		s.ActualProfit = decimal.NewNullDecimal(model.Profit(legA, legB))
	case model.SwapRolledBack:
		res, rbErr := o.rollback.Compensate(dispatchCtx, s.ID, *s.Leg(outcome.Compensate))
		s.Compensation = res.Compensation
		s.RollbackAttempts = res.Attempts
		if rbErr != nil {
			s.Error = rbErr.Error()
		}
		s.Leg(outcome.Cancel).Cancel()
	case model.SwapFailed:
		s.Error = legErrors(legA, legB)
	}

	if err := s.Transition(outcome.Status); err != nil {
		panic(err)
	}
	return
}

// dispatchBoth runs both legs concurrently and joins them. A non-nil error
// means a leg panicked.
func (o *Orchestrator) dispatchBoth(ctx context.Context, s model.Swap) (model.Leg, model.Leg, error) {
	legs := [2]model.Leg{s.LegA, s.LegB}
	var g errgroup.Group
	for i := range legs {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = errors.ErrUnclassified.Explain("%s panicked: %v", legs[i].Role, r)
				}
			}()
			legs[i] = o.dispatchLeg(ctx, s.ID, legs[i])
			return nil
		})
	}
	err := g.Wait()
	return legs[0], legs[1], err
}

// dispatchLeg reserves a worker for leg, submits it and applies the
// slippage check. Every outcome is reported through the returned leg.
func (o *Orchestrator) dispatchLeg(ctx context.Context, swapID uuid.UUID, leg model.Leg) model.Leg {
	ctx, span := o.tracer.Start(ctx, "swap.leg", trace.WithAttributes(
		attribute.String("swap.id", swapID.String()),
		attribute.String("leg.role", string(leg.Role)),
		attribute.String("leg.counterparty", leg.Counterparty),
	))
	defer span.End()

	logger := o.logger.With(
		zap.String("swap_id", swapID.String()),
		zap.String("leg_id", leg.ID.String()),
		zap.String("role", string(leg.Role)),
		zap.String("counterparty", leg.Counterparty))

	defer func() {
		metrics.LegResults.WithLabelValues(string(leg.Role), string(leg.Status)).Inc()
	}()

	w, ok := o.workers.Reserve(leg.Role, leg.Counterparty)
	if !ok {
		leg.Fail(errors.ErrNoAvailableWorker.Error())
		span.SetStatus(codes.Error, leg.Error)
		logger.Warn("No available worker")
		return leg
	}
	leg.WorkerID = w.ID
	leg.Status = model.LegSubmitted

	released := false
	defer func() {
		if !released {
			o.workers.Release(w, false)
		}
	}()

	res, err := o.adapter.SubmitLeg(ctx, leg)
	if err != nil {
		released = true
		o.workers.MarkError(w)
		leg.Fail(err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport fault")
		logger.Warn("Leg transport fault", zap.String("worker_id", w.ID), zap.Error(err))
		return leg
	}

	res.WorkerID = w.ID
	switch {
	case res.Filled() && res.ExceedsSlippage(o.slippage):
		res.Fail(errors.ErrSlippageExceeded.Explain("slippage exceeded: %s%% > %s%%",
			res.SlippagePercent().StringFixed(4), o.slippage.String()).Error())
	case !res.Filled() && res.Status != model.LegFailed:
		res.Fail(fmt.Sprintf("unresolved leg status %q", res.Status))
	}

	released = true
	o.workers.Release(w, res.Filled())
	if !res.Filled() {
		span.SetStatus(codes.Error, res.Error)
	}
	logger.Debug("Leg settled", zap.String("worker_id", w.ID), zap.String("result", adapter.Describe(res)))

	leg = res
	return leg
}

// forceFailed terminates s as failed and attaches reason to both legs.
func (o *Orchestrator) forceFailed(s *model.Swap, reason string) {
	s.LegA.Fail(reason)
	s.LegB.Fail(reason)
	s.Error = reason
	if !s.Status.Terminal() {
		_ = s.Transition(model.SwapFailed)
	}
}

// finalize records a terminal swap and moves it from the active set to
// history.
func (o *Orchestrator) finalize(s *model.Swap, logger *zap.Logger) {
	if !s.Status.Terminal() {
		o.forceFailed(s, errors.ErrUnclassified.Error())
	}
	s.EndedAt = time.Now()
	s.Latency = s.EndedAt.Sub(s.StartedAt)

	switch s.Status {
	case model.SwapCompleted:
		o.state.RecordCompleted()
	case model.SwapRolledBack:
		o.state.RecordRolledBack()
	default:
		o.state.RecordFailed()
	}
	o.tracker.RecordDuration(s.Latency)

	metrics.SwapsTotal.WithLabelValues(string(s.Status)).Inc()
	metrics.SwapLatency.Observe(s.Latency.Seconds())
	o.publishIdleWorkers()

	o.history.Add(*s)
	o.untrack(s.ID)
	o.bus.Publish(events.ForSwap(*s))

	fields := []zap.Field{
		zap.String("status", string(s.Status)),
		zap.Duration("latency", s.Latency),
		zap.Int("failovers", s.Failovers),
	}
	switch s.Status {
	case model.SwapCompleted:
		logger.Info("Swap completed", append(fields, zap.String("profit", s.ActualProfit.Decimal.String()))...)
	case model.SwapRolledBack:
		logger.Warn("Swap rolled back", append(fields,
			zap.Int("rollback_attempts", s.RollbackAttempts),
			zap.String("error", s.Error))...)
	default:
		logger.Warn("Swap failed", append(fields, zap.String("error", s.Error))...)
	}
}

func (o *Orchestrator) publishIdleWorkers() {
	for _, role := range model.Roles {
		metrics.IdleWorkers.WithLabelValues(string(role)).Set(float64(o.workers.IdleCount(role)))
	}
}

func (o *Orchestrator) track(s model.Swap) {
	o.activeMu.Lock()
	o.active[s.ID] = s
	o.activeMu.Unlock()
}

func (o *Orchestrator) untrack(id uuid.UUID) {
	o.activeMu.Lock()
	delete(o.active, id)
	o.activeMu.Unlock()
}

func legErrors(legs ...model.Leg) string {
	var parts []string
	for _, l := range legs {
		if l.Error != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", l.Role, l.Error))
		}
	}
	return strings.Join(parts, "; ")
}
