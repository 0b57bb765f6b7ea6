package sse

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/juju/errors"

	"github.com/webitel/im-forum-delivery/internal/domain/model"
	"github.com/webitel/im-forum-delivery/internal/handler/marshaller"
	"github.com/webitel/im-forum-delivery/internal/service"
)

var _ service.Sink = (*sink)(nil)

// sink serializes writes of the heartbeat and drain loops onto one response.
type sink struct {
	mu sync.Mutex
	w  http.ResponseWriter
	rc *http.ResponseController
}

func (s *sink) write(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *sink) WriteEvent(data []byte) error { return s.write(marshaller.SSEFrame(data)) }
func (s *sink) WriteKeepAlive() error        { return s.write(marshaller.SSEKeepAlive) }

type StreamHandler struct {
	logger    *slog.Logger
	deliverer service.Deliverer
}

func NewStreamHandler(logger *slog.Logger, deliverer service.Deliverer) *StreamHandler {
	return &StreamHandler{
		logger:    logger,
		deliverer: deliverer,
	}
}

// ServeHTTP opens a session for ?userId= and streams it as text/event-stream
// until the client goes away.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	// 1. OPEN BEFORE ANY BYTE IS WRITTEN: a rejected caller gets a JSON error
	sess, err := h.deliverer.Open(r.Context(), r.URL.Query().Get("userId"), model.ConnectMetadata{
		Transport: model.TransportSSE,
		RemoteIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		if !errors.Is(err, errors.NotValid) && !errors.Is(err, errors.NotFound) {
			h.logger.Warn("[SSE] open failed", "err", err)
		}
		marshaller.WriteError(w, err)
		return
	}

	// 2. STREAM HEADERS
	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	// The session bounds its own lifetime; the server write timeout must not.
	_ = rc.SetWriteDeadline(time.Time{})

	// 3. PUMP UNTIL CLOSE
	reason := sess.Run(r.Context(), &sink{w: w, rc: rc})
	h.logger.Debug("[SSE] stream ended", "conn_id", sess.ID(), "reason", reason)
}
