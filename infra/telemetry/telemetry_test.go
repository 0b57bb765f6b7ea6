package telemetry

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx/fxtest"

	"github.com/webitel/im-forum-delivery/config"
)

func TestTracerProviderIsGlobal(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	cfg := &config.Config{Tracing: config.TracingConfig{SampleRatio: 1}}
	tp := NewTracerProvider(lc, cfg, Build{Service: "test"}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.Same(t, tp, otel.GetTracerProvider())

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	assert.True(t, span.SpanContext().IsSampled())
	span.End()

	lc.RequireStart().RequireStop()
}

func TestRegistryGathersRuntimeMetrics(t *testing.T) {
	families, err := NewRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["go_goroutines"])
}
