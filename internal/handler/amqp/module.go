package amqp

import (
	"context"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.uber.org/fx"

	"github.com/webitel/im-forum-delivery/internal/service"
)

var Module = fx.Module("amqp-handler",
	fx.Provide(
		func(e service.Emitter, logger *slog.Logger, wlog watermill.LoggerAdapter) *MessageHandler {
			return NewMessageHandler(e, logger.With("component", "amqp"), wlog)
		},
		NewWatermillRouter,
	),

	fx.Invoke((*MessageHandler).RegisterHandlers),
	fx.Invoke(runRouter),
)

func NewWatermillRouter(wlog watermill.LoggerAdapter) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, wlog)
	if err != nil {
		return nil, err
	}
	router.AddMiddleware(middleware.Recoverer)
	return router, nil
}

func runRouter(lc fx.Lifecycle, router *message.Router, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := router.Run(context.Background()); err != nil {
					logger.Error("AMQP_ROUTER_STOPPED", "err", err)
				}
			}()
			select {
			case <-router.Running():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		OnStop: func(context.Context) error {
			return router.Close()
		},
	})
}
