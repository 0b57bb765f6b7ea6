package registry

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/im-forum-delivery/config"
	"github.com/webitel/im-forum-delivery/infra/store"
)

var Module = fx.Module("registry",
	fx.Provide(
		NewNotifier,
		// [CLEAN_INJECTION] Configure Registry and Queue using Functional Options
		func(s store.Store, cfg *config.Config, logger *slog.Logger) *Registry {
			return NewRegistry(s, logger.With("component", "registry"),
				WithMetadataTTL(cfg.Registry.MetadataTTL),
			)
		},
		func(s store.Store, n *Notifier, cfg *config.Config, logger *slog.Logger) *Queue {
			return NewQueue(s, n, logger.With("component", "queue"),
				WithQueueTTL(cfg.Queue.TTL),
			)
		},
		func(r *Registry) Registrar { return r },
		func(q *Queue) Queuer { return q },
	),
)
