// Package model defines the legs and swaps handled by the engine.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the trading direction of a leg.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the compensating direction.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Role is the position of a leg inside a swap. Workers are partitioned by it.
type Role string

const (
	RoleLegA Role = "leg-a" // buy leg
	RoleLegB Role = "leg-b" // sell leg
)

// Roles lists both roles in dispatch order.
var Roles = [2]Role{RoleLegA, RoleLegB}

// LegStatus follows pending -> submitted -> filled | failed -> [cancelled].
type LegStatus string

const (
	LegPending   LegStatus = "pending"
	LegSubmitted LegStatus = "submitted"
	LegFilled    LegStatus = "filled"
	LegFailed    LegStatus = "failed"
	LegCancelled LegStatus = "cancelled"
)

// Leg is one side of a swap, bound to one counterparty.
type Leg struct {
	ID           uuid.UUID           `json:"id"`
	Side         Side                `json:"side"`
	Role         Role                `json:"role"`
	Counterparty string              `json:"counterparty"`
	Instrument   string              `json:"instrument"`
	Price        decimal.Decimal     `json:"price"`
	Quantity     decimal.Decimal     `json:"quantity"`
	CreatedAt    time.Time           `json:"created_at"`
	Status       LegStatus           `json:"status"`
	FillPrice    decimal.NullDecimal `json:"fill_price"`
	FilledAt     time.Time           `json:"filled_at,omitempty"`
	Error        string              `json:"error,omitempty"`
	WorkerID     string              `json:"worker_id,omitempty"`
}

// NewLeg creates a pending leg.
func NewLeg(role Role, side Side, counterparty, instrument string, price, quantity decimal.Decimal) Leg {
	return Leg{
		ID:           uuid.New(),
		Side:         side,
		Role:         role,
		Counterparty: counterparty,
		Instrument:   instrument,
		Price:        price,
		Quantity:     quantity,
		CreatedAt:    time.Now(),
		Status:       LegPending,
	}
}

// Filled reports whether the counterparty realized the leg.
func (l Leg) Filled() bool {
	return l.Status == LegFilled
}

// EffectivePrice is the realized fill price, falling back to the requested price.
func (l Leg) EffectivePrice() decimal.Decimal {
	if l.FillPrice.Valid {
		return l.FillPrice.Decimal
	}
	return l.Price
}

// Fill marks the leg filled at price.
func (l *Leg) Fill(price decimal.Decimal, at time.Time) {
	l.Status = LegFilled
	l.FillPrice = decimal.NewNullDecimal(price)
	l.FilledAt = at
	l.Error = ""
}

// Fail marks the leg failed with reason. A fill price already observed is kept.
func (l *Leg) Fail(reason string) {
	l.Status = LegFailed
	l.Error = reason
}

// Cancel marks a failed leg cancelled once its counterpart has been compensated.
func (l *Leg) Cancel() {
	l.Status = LegCancelled
}

// SlippagePercent is |fill - requested| / requested * 100. Zero without a fill.
func (l Leg) SlippagePercent() decimal.Decimal {
	if !l.FillPrice.Valid || l.Price.IsZero() {
		return decimal.Zero
	}
	return l.FillPrice.Decimal.Sub(l.Price).Abs().Div(l.Price).Mul(decimal.NewFromInt(100))
}

// ExceedsSlippage reports whether the realized fill deviates from the
// requested price by more than tolerancePct percent.
func (l Leg) ExceedsSlippage(tolerancePct decimal.Decimal) bool {
	return l.SlippagePercent().GreaterThan(tolerancePct)
}

// Compensating builds the leg that undoes l: opposite side, same
// counterparty, instrument and quantity, priced at the effective price.
func (l Leg) Compensating() Leg {
	return NewLeg(l.Role, l.Side.Opposite(), l.Counterparty, l.Instrument, l.EffectivePrice(), l.Quantity)
}
