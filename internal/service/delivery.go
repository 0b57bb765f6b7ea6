package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/juju/errors"

	"github.com/webitel/im-forum-delivery/internal/domain/model"
	"github.com/webitel/im-forum-delivery/internal/domain/presence"
	"github.com/webitel/im-forum-delivery/internal/domain/registry"
)

// [DELIVERY_SERVICE] PRIMARY INTERFACE FOR TRANSPORT HANDLERS (SSE/Websocket)
type Deliverer interface {
	Open(ctx context.Context, userID string, meta model.ConnectMetadata) (*Session, error)
	Sessions() int
	Shutdown(ctx context.Context) error
}

var _ Deliverer = (*DeliveryService)(nil)

// DeliveryService opens sessions and keeps track of the ones running in this
// process so they can be ended on shutdown.
type DeliveryService struct {
	registry  registry.Registrar
	queue     registry.Queuer
	presence  presence.Presencer
	directory Directorer
	metrics   *Collector
	logger    *slog.Logger
	cfg       SessionConfig

	// sessions stores Map[connID]*Session. Optimized for [READ_HEAVY] workloads.
	sessions sync.Map
}

func NewDeliveryService(
	reg registry.Registrar,
	queue registry.Queuer,
	pres presence.Presencer,
	dir Directorer,
	metrics *Collector,
	logger *slog.Logger,
	cfg SessionConfig,
) *DeliveryService {
	return &DeliveryService{
		registry:  reg,
		queue:     queue,
		presence:  pres,
		directory: dir,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
	}
}

// [OPEN] HANDLES CONNECTION LIFECYCLE INITIATION
// A rejected open allocates nothing: the user is validated before a
// connection id exists.
func (s *DeliveryService) Open(ctx context.Context, userID string, meta model.ConnectMetadata) (*Session, error) {
	if userID == "" {
		return nil, errors.NotValidf("missing userId")
	}
	user, err := s.directory.User(ctx, userID)
	if err != nil {
		return nil, err
	}

	conn := model.NewConnection(userID, meta)
	sess := newSession(s, conn, user)

	if err := s.registry.Register(ctx, conn); err != nil {
		s.rollback(ctx, conn)
		return nil, errors.Annotatef(err, "open session for %s", userID)
	}
	if err := s.presence.Connect(ctx, userID); err != nil {
		s.rollback(ctx, conn)
		return nil, errors.Annotatef(err, "mark %s present", userID)
	}

	sess.state.Store(int32(StateOpen))
	s.sessions.Store(conn.ID, sess)
	s.metrics.localSessions.Inc()

	s.logger.Info("[STREAM] session established",
		"conn_id", conn.ID,
		"user_id", userID,
		"transport", meta.Transport,
		"remote_ip", meta.RemoteIP,
	)
	return sess, nil
}

// rollback removes whatever a failed Open managed to write.
func (s *DeliveryService) rollback(ctx context.Context, conn *model.Connection) {
	if _, err := s.registry.Deregister(context.WithoutCancel(ctx), conn.ID, conn.UserID); err != nil {
		s.logger.Warn("[STREAM] rollback failed", "conn_id", conn.ID, "err", err)
	}
}

func (s *DeliveryService) Sessions() int {
	count := 0
	s.sessions.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// Session returns the local session of connID, if this process runs it.
func (s *DeliveryService) Session(connID string) (*Session, bool) {
	val, ok := s.sessions.Load(connID)
	if !ok {
		return nil, false
	}
	return val.(*Session), true
}

func (s *DeliveryService) forget(sess *Session) {
	if _, ok := s.sessions.LoadAndDelete(sess.conn.ID); ok {
		s.metrics.localSessions.Dec()
	}
}

// [GRACEFUL_SHUTDOWN] asks every local session to stop and waits for their
// teardown. Sessions still running when ctx expires are closed directly.
func (s *DeliveryService) Shutdown(ctx context.Context) error {
	var pending []*Session
	s.sessions.Range(func(_, val any) bool {
		sess := val.(*Session)
		sess.Stop(CloseShutdown)
		pending = append(pending, sess)
		return true
	})

	for _, sess := range pending {
		select {
		case <-sess.Done():
		case <-ctx.Done():
			sess.Close(CloseShutdown)
		}
	}
	s.logger.Info("[STREAM] sessions drained", "count", len(pending))
	return nil
}
