package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/Aidin1998/swapengine/internal/swap/events"
)

func TestSetup_NothingEnabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), Options{})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
	// second call is a no-op
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_Providers(t *testing.T) {
	shutdown, err := Setup(context.Background(), Options{Tracing: true, Metrics: true})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestEventCounter(t *testing.T) {
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	counter, err := NewEventCounter(provider.Meter("test"))
	require.NoError(t, err)

	bus := events.NewBus(zap.NewNop(), counter)
	bus.Publish(events.New(events.SwapCompleted))
	bus.Publish(events.New(events.SwapCompleted))
	bus.Publish(events.New(events.RollbackFailed))
	require.NoError(t, bus.Close())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)

	m := rm.ScopeMetrics[0].Metrics[0]
	assert.Equal(t, "swapengine.events", m.Name)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	byType := map[string]int64{}
	fatal := map[string]bool{}
	for _, dp := range sum.DataPoints {
		typ, _ := dp.Attributes.Value(attribute.Key("type"))
		f, _ := dp.Attributes.Value(attribute.Key("fatal"))
		byType[typ.AsString()] += dp.Value
		fatal[typ.AsString()] = f.AsBool()
	}
	assert.Equal(t, int64(2), byType[string(events.SwapCompleted)])
	assert.Equal(t, int64(1), byType[string(events.RollbackFailed)])
	assert.True(t, fatal[string(events.RollbackFailed)])
	assert.False(t, fatal[string(events.SwapCompleted)])
}
