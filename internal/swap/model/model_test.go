package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/swapengine/pkg/errors"
)

func testRequest() Request {
	return Request{
		Instrument:       "BTC-USDT",
		BuyCounterparty:  "venue-a",
		SellCounterparty: "venue-b",
		BuyPrice:         decimal.NewFromInt(100),
		SellPrice:        decimal.NewFromInt(102),
		Quantity:         decimal.NewFromFloat(1.5),
	}
}

func TestNewSwap_DecomposesLegs(t *testing.T) {
	s := NewSwap(testRequest())

	assert.Equal(t, SwapPending, s.Status)
	assert.Equal(t, RoleLegA, s.LegA.Role)
	assert.Equal(t, SideBuy, s.LegA.Side)
	assert.Equal(t, "venue-a", s.LegA.Counterparty)
	assert.Equal(t, RoleLegB, s.LegB.Role)
	assert.Equal(t, SideSell, s.LegB.Side)
	assert.Equal(t, "venue-b", s.LegB.Counterparty)
	assert.NotEqual(t, s.LegA.ID, s.LegB.ID)
	assert.True(t, s.ExpectedProfit.Equal(decimal.NewFromInt(3)))
	assert.False(t, s.HasCompensation())
}

func TestSwap_TransitionIsMonotonic(t *testing.T) {
	s := NewSwap(testRequest())

	require.NoError(t, s.Transition(SwapExecuting))
	assert.ErrorIs(t, s.Transition(SwapPending), errors.ErrInvalidTransition)
	assert.ErrorIs(t, s.Transition(SwapExecuting), errors.ErrInvalidTransition)
	require.NoError(t, s.Transition(SwapRolledBack))

	for _, to := range []SwapStatus{SwapPending, SwapExecuting, SwapCompleted, SwapFailed, SwapRolledBack} {
		assert.ErrorIs(t, s.Transition(to), errors.ErrInvalidTransition)
	}
	assert.Equal(t, SwapRolledBack, s.Status)
}

func TestSwap_PendingMayFailDirectly(t *testing.T) {
	s := NewSwap(testRequest())
	require.NoError(t, s.Transition(SwapFailed))
	assert.True(t, s.Status.Terminal())
}

func TestProfit_UsesFillsWhenPresent(t *testing.T) {
	s := NewSwap(testRequest())

	assert.True(t, Profit(s.LegA, s.LegB).Equal(decimal.NewFromInt(3)))

	s.LegA.Fill(decimal.NewFromFloat(100.5), time.Now())
	s.LegB.Fill(decimal.NewFromFloat(101.5), time.Now())
	assert.True(t, Profit(s.LegA, s.LegB).Equal(decimal.NewFromFloat(1.5)))
}

func TestClassify(t *testing.T) {
	filled := func(l Leg) Leg { l.Fill(l.Price, time.Now()); return l }
	failed := func(l Leg) Leg { l.Fail("rejected"); return l }
	s := NewSwap(testRequest())

	cases := []struct {
		name string
		a, b Leg
		want Outcome
	}{
		{"both filled", filled(s.LegA), filled(s.LegB), Outcome{Status: SwapCompleted}},
		{"only A", filled(s.LegA), failed(s.LegB), Outcome{Status: SwapRolledBack, Compensate: RoleLegA, Cancel: RoleLegB}},
		{"only B", failed(s.LegA), filled(s.LegB), Outcome{Status: SwapRolledBack, Compensate: RoleLegB, Cancel: RoleLegA}},
		{"none", failed(s.LegA), failed(s.LegB), Outcome{Status: SwapFailed}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			first := Classify(tc.a, tc.b)
			assert.Equal(t, tc.want, first)
			// re-running on the same pair yields the same status
			for i := 0; i < 10; i++ {
				assert.Equal(t, first, Classify(tc.a, tc.b))
			}
		})
	}
}

func TestLeg_Slippage(t *testing.T) {
	l := NewLeg(RoleLegA, SideBuy, "venue-a", "BTC-USDT", decimal.NewFromInt(200), decimal.NewFromInt(1))
	tolerance := decimal.NewFromFloat(0.5)

	assert.False(t, l.ExceedsSlippage(tolerance))

	l.Fill(decimal.NewFromInt(201), time.Now())
	assert.True(t, l.SlippagePercent().Equal(decimal.NewFromFloat(0.5)))
	assert.False(t, l.ExceedsSlippage(tolerance))

	l.Fill(decimal.NewFromFloat(198.9), time.Now())
	assert.True(t, l.ExceedsSlippage(tolerance))
}

func TestLeg_Compensating(t *testing.T) {
	l := NewLeg(RoleLegB, SideSell, "venue-b", "ETH-USDT", decimal.NewFromInt(3000), decimal.NewFromInt(2))
	l.Fill(decimal.NewFromInt(3001), time.Now())

	c := l.Compensating()
	assert.NotEqual(t, l.ID, c.ID)
	assert.Equal(t, SideBuy, c.Side)
	assert.Equal(t, "venue-b", c.Counterparty)
	assert.Equal(t, "ETH-USDT", c.Instrument)
	assert.True(t, c.Quantity.Equal(l.Quantity))
	assert.True(t, c.Price.Equal(decimal.NewFromInt(3001)))
	assert.Equal(t, LegPending, c.Status)
}
