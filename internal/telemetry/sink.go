package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/Aidin1998/swapengine/internal/swap/events"
)

// EventCounter is an events.Sink that counts lifecycle events on an
// OpenTelemetry meter, split by type and fatality.
type EventCounter struct {
	counter otelmetric.Int64Counter
}

// NewEventCounter registers the swapengine.events counter on meter.
func NewEventCounter(meter otelmetric.Meter) (*EventCounter, error) {
	counter, err := meter.Int64Counter("swapengine.events",
		otelmetric.WithDescription("Swap lifecycle events by type"),
		otelmetric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}
	return &EventCounter{counter: counter}, nil
}

// Deliver implements events.Sink.
func (c *EventCounter) Deliver(ctx context.Context, e events.Event) error {
	c.counter.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("type", string(e.Type)),
		attribute.Bool("fatal", e.Fatal),
	))
	return nil
}

// Close implements events.Sink.
func (c *EventCounter) Close() error { return nil }
