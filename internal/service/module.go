package service

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/webitel/im-forum-delivery/config"
	"github.com/webitel/im-forum-delivery/infra/store"
	"github.com/webitel/im-forum-delivery/internal/domain/presence"
	"github.com/webitel/im-forum-delivery/internal/domain/registry"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		func(reg prometheus.Registerer) (*Collector, error) {
			c := NewMetricsCollector()
			return c, reg.Register(c)
		},
		func(s store.Store, cfg *config.Config) Directorer {
			return NewDirectory(s, cfg.Directory.CacheSize, cfg.Directory.CacheTTL)
		},
		func(s store.Store, cfg *config.Config) Historian {
			return NewHistory(s, cfg.History.Limit)
		},

		// Domain services
		fx.Annotate(
			func(reg registry.Registrar, q registry.Queuer, d Directorer, p presence.Presencer, m *Collector, l *slog.Logger) *FanOut {
				return NewFanOut(reg, q, d, p, m, l.With("component", "fanout"))
			},
			fx.As(new(Broadcaster)),
		),
		fx.Annotate(
			func(b Broadcaster, p presence.Presencer, h Historian, d Directorer, l *slog.Logger) *EventEmitter {
				return NewEventEmitter(b, p, h, d, l.With("component", "emitter"))
			},
			fx.As(new(Emitter)),
		),
		func(reg registry.Registrar, q registry.Queuer, p presence.Presencer, d Directorer, m *Collector, l *slog.Logger, cfg *config.Config) *DeliveryService {
			return NewDeliveryService(reg, q, p, d, m, l.With("component", "delivery"), SessionConfig{
				HeartbeatInterval: cfg.Session.HeartbeatInterval,
				DrainInterval:     cfg.Session.DrainInterval,
				MaxLifetime:       cfg.Session.MaxLifetime,
				CloseTimeout:      cfg.Session.CloseTimeout,
			})
		},
		func(d *DeliveryService) Deliverer { return d },
		func(reg *registry.Registry, q *registry.Queue, p presence.Presencer, d *DeliveryService) *StatsService {
			return NewStatsService(reg, q, p, d)
		},
		func(reg registry.Registrar, p presence.Presencer, m *Collector, l *slog.Logger, cfg *config.Config) *Janitor {
			return NewJanitor(reg, p, m, l.With("component", "janitor"), cfg.Registry.SweepInterval)
		},
	),

	// [DECORATION_LAYER] Intercept Directorer to add cross-cutting concerns
	fx.Decorate(func(orig Directorer, logger *slog.Logger) Directorer {
		return NewDirectoryMiddleware(orig, logger.With("component", "directory"))
	}),

	fx.Invoke(func(lc fx.Lifecycle, j *Janitor, d *DeliveryService) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				j.Start()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				j.Stop()
				return d.Shutdown(ctx)
			},
		})
	}),
)
