// Package httpapi exposes the stream endpoints and the collaborator API.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/webitel/im-forum-delivery/internal/domain/model"
	"github.com/webitel/im-forum-delivery/internal/domain/presence"
	"github.com/webitel/im-forum-delivery/internal/service"
)

// Statser provides the snapshot served on /api/stats.
type Statser interface {
	Stats(ctx context.Context) (*model.Stats, error)
}

// Pinger checks the shared store for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps groups what the API needs; streams are mounted as plain handlers.
type Deps struct {
	Logger   *slog.Logger
	Emitter  service.Emitter
	History  service.Historian
	Presence presence.Presencer
	Stats    Statser
	Store    Pinger
	Gatherer prometheus.Gatherer
	SSE      http.Handler
	WS       http.Handler
}

type API struct {
	Deps
}

func NewRouter(d Deps) http.Handler {
	api := &API{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(api.requestLogger)

	r.Get("/healthz", api.health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodGet, "/stream", d.SSE)
		r.Method(http.MethodGet, "/ws", d.WS)

		r.Post("/events", api.emit)
		r.Post("/forums/{forumID}/typing", api.typing)
		r.Get("/forums/{forumID}/messages", api.messages)
		r.Get("/presence/{userID}", api.presence)
		r.Get("/stats", api.stats)
	})
	return r
}

// requestLogger skips the long-lived stream routes; sessions log their own lifecycle.
func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/stream" || r.URL.Path == "/api/ws" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.Logger.Debug("[HTTP] request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
