// Package telemetry owns the process-wide tracer provider and the
// prometheus registry served on /metrics.
package telemetry

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"

	"github.com/webitel/im-forum-delivery/config"
)

// Build identifies the running binary in traces and logs.
type Build struct {
	Service   string
	Namespace string
	Version   string
}

var Module = fx.Module("telemetry",
	fx.Provide(
		NewTracerProvider,
		NewRegistry,
		func(r *prometheus.Registry) prometheus.Registerer { return r },
		func(r *prometheus.Registry) prometheus.Gatherer { return r },
	),
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)

// NewTracerProvider installs a sampled provider as the global one. Exporters
// are attached by the deployment through span processors.
func NewTracerProvider(lc fx.Lifecycle, cfg *config.Config, b Build, logger *slog.Logger) *sdktrace.TracerProvider {
	res := resource.NewSchemaless(
		attribute.String("service.name", b.Service),
		attribute.String("service.namespace", b.Namespace),
		attribute.String("service.version", b.Version),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Tracing.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	logger.Debug("TRACER_PROVIDER_READY", "sample_ratio", cfg.Tracing.SampleRatio)

	lc.Append(fx.StopHook(func(ctx context.Context) error {
		return tp.Shutdown(ctx)
	}))
	return tp
}

// NewRegistry returns a registry preloaded with runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
