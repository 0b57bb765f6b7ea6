package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/webitel/im-forum-delivery/internal/domain/model"
	"github.com/webitel/im-forum-delivery/internal/handler/marshaller"
	"github.com/webitel/im-forum-delivery/internal/service"
)

const (
	writeWait      = 10 * time.Second
	maxInboundSize = 4096
)

var _ service.Sink = (*sink)(nil)

// sink serializes writes; gorilla allows one concurrent writer per connection.
type sink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *sink) WriteEvent(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *sink) WriteKeepAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

type WSHandler struct {
	logger    *slog.Logger
	deliverer service.Deliverer
	upgrader  websocket.Upgrader
}

func NewWSHandler(logger *slog.Logger, deliverer service.Deliverer) *WSHandler {
	return &WSHandler{
		logger:    logger,
		deliverer: deliverer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // identifiers are the only credential
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. OPEN THE SESSION FIRST SO A REJECTED CALLER NEVER GETS A SOCKET
	sess, err := h.deliverer.Open(r.Context(), r.URL.Query().Get("userId"), model.ConnectMetadata{
		Transport: model.TransportWebSocket,
		RemoteIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		marshaller.WriteError(w, err)
		return
	}

	// 2. UPGRADE TO WEBSOCKET
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("[WS] upgrade failed", "conn_id", sess.ID(), "err", err)
		sess.Close(service.CloseWriteFailed)
		return
	}
	defer conn.Close()

	// 3. READ PUMP: detects the peer closing; inbound payloads are ignored
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	conn.SetReadLimit(maxInboundSize)
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// 4. MAIN WS PUMP LOOP
	reason := sess.Run(ctx, &sink{conn: conn})
	h.logger.Debug("[WS] stream ended", "conn_id", sess.ID(), "reason", reason)

	closeCode := websocket.CloseNormalClosure
	if reason == service.CloseShutdown {
		closeCode = websocket.CloseGoingAway
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(closeCode, string(reason)),
		time.Now().Add(writeWait))
}
