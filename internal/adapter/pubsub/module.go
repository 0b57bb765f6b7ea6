package pubsub

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/fx"

	"github.com/webitel/im-forum-delivery/config"
	"github.com/webitel/im-forum-delivery/internal/domain/presence"
)

var Module = fx.Module("pubsub",
	fx.Provide(
		func(lc fx.Lifecycle, cfg *config.Config, wlog watermill.LoggerAdapter, logger *slog.Logger) Factory {
			var f Factory
			if cfg.AMQP.URL == "" {
				logger.Warn("EVENT_BUS_IN_PROCESS: amqp.url is empty")
				f = NewChannelFactory(wlog)
			} else {
				f = NewAMQPFactory(cfg.AMQP.URL, wlog)
			}
			lc.Append(fx.StopHook(func(context.Context) error { return f.Close() }))
			return f
		},
		NewPublisherProvider,
		NewSubscriberProvider,
		func(lc fx.Lifecycle, pp *PublisherProvider, logger *slog.Logger) (EventDispatcher, error) {
			pub, err := pp.Build(PresenceExchange)
			if err != nil {
				return nil, err
			}
			lc.Append(fx.StopHook(pub.Close))
			return NewEventDispatcher(pub, logger.With("component", "dispatcher")), nil
		},
		func(d EventDispatcher) presence.Publisher { return d },
	),
)
