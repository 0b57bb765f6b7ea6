package storedi

import (
	"context"
	"log/slog"

	"github.com/juju/clock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/webitel/im-forum-delivery/config"
	"github.com/webitel/im-forum-delivery/infra/store"
	"github.com/webitel/im-forum-delivery/infra/store/memstore"
	"github.com/webitel/im-forum-delivery/infra/store/redisstore"
)

var Module = fx.Module(
	"shared_store",

	// [CONSTRUCTOR] Backend selected by store.driver, always behind the breaker
	fx.Provide(func(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
		return New(lc, cfg, logger)
	}),
)

// New builds the configured backend. For redis the client is closed on stop.
func New(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	var backend store.Store

	switch cfg.Store.Driver {
	case "memory":
		backend = memstore.New(clock.WallClock)
		logger.Warn("SHARED_STORE_IN_MEMORY: state is local to this process")

	default:
		client := redisstore.NewClient(redisstore.Options{
			Addr:         cfg.Store.Redis.Addr,
			Password:     cfg.Store.Redis.Password,
			DB:           cfg.Store.Redis.DB,
			PoolSize:     cfg.Store.Redis.PoolSize,
			DialTimeout:  cfg.Store.Redis.DialTimeout,
			ReadTimeout:  cfg.Store.Redis.ReadTimeout,
			WriteTimeout: cfg.Store.Redis.WriteTimeout,
		})
		if lc != nil {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					// [FAIL_SOFT] The breaker covers an unreachable store at runtime
					if err := client.Ping(ctx).Err(); err != nil {
						logger.Error("SHARED_STORE_PING_FAILED", "addr", cfg.Store.Redis.Addr, "err", err)
					}
					return nil
				},
				OnStop: func(ctx context.Context) error {
					return client.Close()
				},
			})
		}
		backend = redisstore.New(redis.UniversalClient(client), cfg.Store.Prefix)
		logger.Info("SHARED_STORE_REDIS", "addr", cfg.Store.Redis.Addr, "prefix", cfg.Store.Prefix)
	}

	return store.NewBreaker(backend, store.BreakerSettings{
		Name:                "shared-store",
		MaxRequests:         cfg.Breaker.MaxRequests,
		Interval:            cfg.Breaker.Interval,
		Timeout:             cfg.Breaker.Timeout,
		ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
	}, logger), nil
}
