package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.uber.org/zap/zaptest"

	"github.com/VanDung-dev/stellar-gateway/config"
)

func TestSetupDisabled(t *testing.T) {
	tp, shutdown, err := Setup(context.Background(), config.Tracing{}, "test", zaptest.NewLogger(t))
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupEnabled(t *testing.T) {
	cfg := config.Default().Tracing
	cfg.Enabled = true
	cfg.Endpoint = "127.0.0.1:4317"
	cfg.SampleRate = 1

	tp, shutdown, err := Setup(context.Background(), cfg, "test", zaptest.NewLogger(t))
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(context.Background(), "sampled")
	assert.True(t, span.SpanContext().IsValid())
	assert.True(t, span.SpanContext().IsSampled())

	// The span is left open so nothing is exported to the absent collector.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, shutdown(ctx))
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(1).Description(), "AlwaysOn")
	assert.Contains(t, sampler(0).Description(), "AlwaysOff")
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}

func TestNewResourceKeepsSDKSchema(t *testing.T) {
	res, err := newResource("stellar-gateway", "1.2.3")
	require.NoError(t, err)
	assert.Equal(t, resource.Default().SchemaURL(), res.SchemaURL())

	attrs := map[string]string{}
	for _, kv := range res.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "stellar-gateway", attrs["service.name"])
	assert.Equal(t, "1.2.3", attrs["service.version"])
}
