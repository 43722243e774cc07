package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Aidin1998/swapengine/pkg/errors"
)

// SwapStatus follows pending -> executing -> completed | failed | rolled-back.
type SwapStatus string

const (
	SwapPending    SwapStatus = "pending"
	SwapExecuting  SwapStatus = "executing"
	SwapCompleted  SwapStatus = "completed"
	SwapFailed     SwapStatus = "failed"
	SwapRolledBack SwapStatus = "rolled-back"
)

// Terminal reports whether no further transition is allowed.
func (s SwapStatus) Terminal() bool {
	switch s {
	case SwapCompleted, SwapFailed, SwapRolledBack:
		return true
	}
	return false
}

func (s SwapStatus) rank() int {
	switch s {
	case SwapPending:
		return 0
	case SwapExecuting:
		return 1
	default:
		return 2
	}
}

// Request is a caller's ask to buy on one counterparty and sell on another.
type Request struct {
	Instrument       string          `json:"instrument" validate:"required"`
	BuyCounterparty  string          `json:"buy_counterparty" validate:"required"`
	SellCounterparty string          `json:"sell_counterparty" validate:"required,nefield=BuyCounterparty"`
	BuyPrice         decimal.Decimal `json:"buy_price" validate:"gt=0"`
	SellPrice        decimal.Decimal `json:"sell_price" validate:"gt=0"`
	Quantity         decimal.Decimal `json:"quantity" validate:"gt=0"`
	ExpectedProfit   decimal.Decimal `json:"expected_profit"`
}

// Swap is the paired leg-A/leg-B transaction. It owns both legs by value.
type Swap struct {
	ID               uuid.UUID           `json:"id"`
	Sequence         uint64              `json:"sequence"`
	LegA             Leg                 `json:"leg_a"`
	LegB             Leg                 `json:"leg_b"`
	ExpectedProfit   decimal.Decimal     `json:"expected_profit"`
	ActualProfit     decimal.NullDecimal `json:"actual_profit"`
	Status           SwapStatus          `json:"status"`
	StartedAt        time.Time           `json:"started_at"`
	EndedAt          time.Time           `json:"ended_at,omitempty"`
	Latency          time.Duration       `json:"latency_ns"`
	Failovers        int                 `json:"failovers"`
	LockHeld         bool                `json:"lock_held"`
	Compensation     Leg                 `json:"compensation,omitempty"`
	RollbackAttempts int                 `json:"rollback_attempts"`
	Error            string              `json:"error,omitempty"`
}

// NewSwap decomposes a request into its two legs.
func NewSwap(req Request) Swap {
	expected := req.ExpectedProfit
	if expected.IsZero() {
		expected = req.SellPrice.Sub(req.BuyPrice).Mul(req.Quantity)
	}
	return Swap{
		ID:             uuid.New(),
		LegA:           NewLeg(RoleLegA, SideBuy, req.BuyCounterparty, req.Instrument, req.BuyPrice, req.Quantity),
		LegB:           NewLeg(RoleLegB, SideSell, req.SellCounterparty, req.Instrument, req.SellPrice, req.Quantity),
		ExpectedProfit: expected,
		Status:         SwapPending,
		StartedAt:      time.Now(),
	}
}

// Transition moves the swap forward. Regressions and exits from a terminal
// status are rejected.
func (s *Swap) Transition(to SwapStatus) error {
	if s.Status.Terminal() || to.rank() <= s.Status.rank() {
		return errors.ErrInvalidTransition.Explain("invalid status transition %s -> %s", s.Status, to)
	}
	s.Status = to
	return nil
}

// Leg returns the leg playing role.
func (s *Swap) Leg(role Role) *Leg {
	if role == RoleLegA {
		return &s.LegA
	}
	return &s.LegB
}

// HasCompensation reports whether a compensating leg was issued.
func (s Swap) HasCompensation() bool {
	return s.Compensation.ID != uuid.Nil
}

// Profit is (sell effective price - buy effective price) * quantity.
func Profit(legA, legB Leg) decimal.Decimal {
	return legB.EffectivePrice().Sub(legA.EffectivePrice()).Mul(legA.Quantity)
}

// Outcome is the classification of a pair of leg results.
type Outcome struct {
	Status SwapStatus
	// Compensate is the role whose filled leg must be undone; empty if none.
	Compensate Role
	// Cancel is the role whose failed leg is cancelled after compensation.
	Cancel Role
}

// Classify maps the joint leg outcome onto a terminal swap status. It is a
// pure function of the two leg statuses.
func Classify(legA, legB Leg) Outcome {
	a, b := legA.Filled(), legB.Filled()
	switch {
	case a && b:
		return Outcome{Status: SwapCompleted}
	case a && !b:
		return Outcome{Status: SwapRolledBack, Compensate: RoleLegA, Cancel: RoleLegB}
	case !a && b:
		return Outcome{Status: SwapRolledBack, Compensate: RoleLegB, Cancel: RoleLegA}
	default:
		return Outcome{Status: SwapFailed}
	}
}

func (o Outcome) String() string {
	if o.Compensate == "" {
		return string(o.Status)
	}
	return fmt.Sprintf("%s(compensate=%s)", o.Status, o.Compensate)
}
