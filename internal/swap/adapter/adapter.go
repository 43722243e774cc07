// Package adapter defines the boundary between the engine and whatever
// actually realizes a leg against a counterparty.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/Aidin1998/swapengine/internal/swap/model"
	"github.com/Aidin1998/swapengine/pkg/errors"
)

// ExecutionAdapter realizes a leg against its bound counterparty.
//
// SubmitLeg returns the leg updated to filled (with fill price and time) or
// failed (with a reason). Ordinary business outcomes such as a rejected
// order are reported through the returned leg with a nil error; an error
// is reserved for transport faults.
type ExecutionAdapter interface {
	SubmitLeg(ctx context.Context, leg model.Leg) (model.Leg, error)
}

// Func adapts a function to ExecutionAdapter.
type Func func(ctx context.Context, leg model.Leg) (model.Leg, error)

// SubmitLeg calls f.
func (f Func) SubmitLeg(ctx context.Context, leg model.Leg) (model.Leg, error) {
	return f(ctx, leg)
}

type timeoutAdapter struct {
	next    ExecutionAdapter
	timeout time.Duration
}

// WithTimeout bounds every submission to next by d. A submission that
// outlives its deadline is reported as a transport fault.
func WithTimeout(next ExecutionAdapter, d time.Duration) ExecutionAdapter {
	if d <= 0 {
		return next
	}
	return &timeoutAdapter{next: next, timeout: d}
}

func (a *timeoutAdapter) SubmitLeg(ctx context.Context, leg model.Leg) (model.Leg, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type result struct {
		leg      model.Leg
		err      error
		panicked any
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{panicked: r}
			}
		}()
		l, err := a.next.SubmitLeg(ctx, leg)
		done <- result{leg: l, err: err}
	}()

	select {
	case r := <-done:
		// surface adapter panics on the caller's goroutine
		if r.panicked != nil {
			panic(r.panicked)
		}
		if r.err != nil && ctx.Err() == context.DeadlineExceeded {
			return leg, ErrTimeout(leg, a.timeout, r.err)
		}
		return r.leg, r.err
	case <-ctx.Done():
		return leg, ErrTimeout(leg, a.timeout, ctx.Err())
	}
}

// ErrTimeout builds the transport fault reported for an expired leg.
func ErrTimeout(leg model.Leg, d time.Duration, cause error) error {
	return errors.ErrTransport.
		Explain("leg %s on %s timed out after %s", leg.ID, leg.Counterparty, d).
		Wrap(cause)
}

// IsTimeout reports whether err came from a leg deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// Describe renders a submission outcome for logs.
func Describe(leg model.Leg) string {
	if leg.Filled() {
		return fmt.Sprintf("%s %s@%s filled at %s", leg.Side, leg.Quantity, leg.Counterparty, leg.EffectivePrice())
	}
	return fmt.Sprintf("%s %s@%s %s: %s", leg.Side, leg.Quantity, leg.Counterparty, leg.Status, leg.Error)
}
