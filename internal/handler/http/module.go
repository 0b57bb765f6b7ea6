package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/webitel/im-forum-delivery/infra/store"
	"github.com/webitel/im-forum-delivery/internal/domain/presence"
	"github.com/webitel/im-forum-delivery/internal/handler/sse"
	"github.com/webitel/im-forum-delivery/internal/handler/ws"
	"github.com/webitel/im-forum-delivery/internal/service"
)

type Params struct {
	fx.In

	Logger    *slog.Logger
	Deliverer service.Deliverer
	Emitter   service.Emitter
	History   service.Historian
	Presence  presence.Presencer
	Stats     *service.StatsService
	Store     store.Store
	Gatherer  prometheus.Gatherer
}

var Module = fx.Module("http_handler",
	fx.Provide(func(p Params) http.Handler {
		logger := p.Logger.With("component", "http")
		return NewRouter(Deps{
			Logger:   logger,
			Emitter:  p.Emitter,
			History:  p.History,
			Presence: p.Presence,
			Stats:    p.Stats,
			Store:    p.Store,
			Gatherer: p.Gatherer,
			SSE:      sse.NewStreamHandler(logger, p.Deliverer),
			WS:       ws.NewWSHandler(logger, p.Deliverer),
		})
	}),
)
