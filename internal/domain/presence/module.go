package presence

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/im-forum-delivery/config"
	"github.com/webitel/im-forum-delivery/infra/store"
	"github.com/webitel/im-forum-delivery/internal/domain/registry"
)

var Module = fx.Module("presence",
	fx.Provide(
		func(s store.Store, reg registry.Registrar, pub Publisher, cfg *config.Config, logger *slog.Logger) *Resolver {
			return NewResolver(s, reg, logger.With("component", "presence"),
				WithPublisher(pub),
				WithTypingTTL(cfg.Presence.TypingTTL),
			)
		},
		func(r *Resolver) Presencer { return r },
	),
)
