package telemetry

import (
	"context"
	"testing"

	"github.com/Mantoine56/spec-bot/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/trace"
)

func TestNew_Disabled(t *testing.T) {
	tel := New(context.Background(), config.TelemetryConfig{Enabled: false}, "dev")

	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.Nil(t, tel.LoggerProvider())
	assert.Equal(t, HealthStatus{}, tel.Health())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_EnabledCreatesProviders(t *testing.T) {
	// Exporters connect lazily, so construction succeeds without a collector.
	tel := New(context.Background(), config.TelemetryConfig{
		Enabled:      true,
		Endpoint:     "localhost:4317",
		Protocol:     "grpc",
		Insecure:     true,
		SamplingRate: 0.5,
	}, "1.2.3")

	assert.NotNil(t, tel.tracerProvider)
	assert.NotNil(t, tel.meterProvider)
	assert.False(t, tel.Health().Degraded)
	assert.NotNil(t, tel.LoggerProvider())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = tel.Shutdown(ctx)
}

func TestNilTelemetry(t *testing.T) {
	var tel *Telemetry
	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.Equal(t, HealthStatus{}, tel.Health())
}

func TestSamplerFor(t *testing.T) {
	assert.Equal(t, trace.AlwaysSample().Description(), samplerFor(1).Description())
	assert.Equal(t, trace.NeverSample().Description(), samplerFor(0).Description())
	assert.Contains(t, samplerFor(0.25).Description(), "TraceIDRatioBased")
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "otel.example.com:4318", stripScheme("https://otel.example.com:4318"))
	assert.Equal(t, "localhost:4318", stripScheme("http://localhost:4318"))
	assert.Equal(t, "localhost:4317", stripScheme("localhost:4317"))
}

func TestTestTelemetry(t *testing.T) {
	tt := NewTestTelemetry()

	_, span := tt.Tracer("test").Start(context.Background(), "workflow.generate")
	span.SetAttributes(attribute.String("phase", "design"))
	span.End()

	counter, err := tt.Meter("test").Int64Counter("specbot.test.total")
	require.NoError(t, err)
	counter.Add(context.Background(), 2, metricAttr("phase", "design"))
	counter.Add(context.Background(), 1, metricAttr("phase", "tasks"))

	tt.AssertSpanAttribute(t, "workflow.generate", "phase", "design")
	assert.Equal(t, int64(2), tt.SumValue(t, "specbot.test.total", attribute.String("phase", "design")))
	assert.Equal(t, int64(3), tt.SumValue(t, "specbot.test.total"))
}

func metricAttr(k, v string) metric.AddOption {
	return metric.WithAttributes(attribute.String(k, v))
}
