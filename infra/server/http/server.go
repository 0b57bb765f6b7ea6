package httpsrv

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"go.uber.org/fx"

	"github.com/webitel/im-forum-delivery/config"
	"github.com/webitel/im-forum-delivery/internal/service"
)

var Module = fx.Module("http_server",
	fx.Provide(New),
	fx.Invoke(func(*http.Server) {}),
)

// New binds the router to http.addr. There is no write timeout: streams are
// long-lived and bound by the session lifetime instead. On stop the sessions
// are closed first, otherwise Shutdown waits on stream handlers that never
// return.
func New(lc fx.Lifecycle, cfg *config.Config, handler http.Handler, deliverer service.Deliverer, logger *slog.Logger) *http.Server {
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			logger.Info("HTTP_SERVER_LISTENING", "addr", ln.Addr().String())
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("HTTP_SERVER_FAILED", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("HTTP_SERVER_STOPPING", "sessions", deliverer.Sessions())
			if err := deliverer.Shutdown(ctx); err != nil {
				logger.Warn("HTTP_SERVER_SESSIONS_NOT_DRAINED", "err", err)
			}
			return srv.Shutdown(ctx)
		},
	})
	return srv
}
