package service

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"golang.org/x/sync/errgroup"

	"github.com/webitel/im-forum-delivery/internal/domain/event"
	"github.com/webitel/im-forum-delivery/internal/domain/model"
)

// Sink is the client side of a session. Implementations must tolerate the
// heartbeat and drain loops calling them from different goroutines.
type Sink interface {
	WriteEvent(data []byte) error
	WriteKeepAlive() error
}

type SessionState int32

const (
	StateConnecting SessionState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type CloseReason string

const (
	CloseClientGone  CloseReason = "client_gone"
	CloseWriteFailed CloseReason = "write_failed"
	CloseLifetime    CloseReason = "lifetime_exceeded"
	CloseExpired     CloseReason = "expired"
	CloseShutdown    CloseReason = "shutdown"
)

// SessionConfig holds the cadence of a session.
type SessionConfig struct {
	HeartbeatInterval time.Duration
	DrainInterval     time.Duration
	MaxLifetime       time.Duration
	CloseTimeout      time.Duration
}

// closeError ends the session loops with a reason.
type closeError struct {
	reason CloseReason
	err    error
}

func (e *closeError) Error() string {
	if e.err == nil {
		return string(e.reason)
	}
	return string(e.reason) + ": " + e.err.Error()
}

func (e *closeError) Unwrap() error { return e.err }

// Session is the per-connection process: it streams the queue of one
// connection to its client until the client leaves, a write fails, the
// record expires or the lifetime elapses.
type Session struct {
	svc  *DeliveryService
	conn *model.Connection
	user model.User

	state atomic.Int32

	stopOnce  sync.Once
	stop      chan struct{}
	reason    atomic.Value // CloseReason
	closeOnce sync.Once
	done      chan struct{}

	// lastTyping is owned by the drain loop.
	lastTyping map[string]map[string]string
}

func newSession(svc *DeliveryService, conn *model.Connection, user model.User) *Session {
	s := &Session{
		svc:        svc,
		conn:       conn,
		user:       user,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		lastTyping: make(map[string]map[string]string),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

func (s *Session) ID() string                    { return s.conn.ID }
func (s *Session) UserID() string                { return s.conn.UserID }
func (s *Session) Connection() *model.Connection { return s.conn }
func (s *Session) State() SessionState           { return SessionState(s.state.Load()) }

// Done is closed once the session reached StateClosed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Reason reports why the session ended; empty while it is still open.
func (s *Session) Reason() CloseReason {
	r, _ := s.reason.Load().(CloseReason)
	return r
}

func (s *Session) log() *slog.Logger {
	return s.svc.logger.With("conn_id", s.conn.ID, "user_id", s.conn.UserID)
}

// Stop asks a running session to end. The first reason wins.
func (s *Session) Stop(reason CloseReason) {
	s.stopOnce.Do(func() {
		s.reason.Store(reason)
		close(s.stop)
	})
}

// Run streams to sink until the session ends and returns the close reason.
// The connected frame is always the first frame written.
func (s *Session) Run(ctx context.Context, sink Sink) CloseReason {
	reason := s.run(ctx, sink)
	s.Close(reason)
	return s.Reason()
}

func (s *Session) run(ctx context.Context, sink Sink) CloseReason {
	if s.State() != StateOpen {
		return CloseShutdown
	}

	frame, err := event.Encode(event.NewConnectedEvent(s.conn.ID))
	if err != nil {
		return CloseWriteFailed
	}
	if err := sink.WriteEvent(frame); err != nil {
		s.log().Debug("[STREAM] connected frame failed", "err", err)
		return CloseWriteFailed
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-runCtx.Done():
		}
	}()

	g, gCtx := errgroup.WithContext(runCtx)
	g.Go(func() error { return s.heartbeatLoop(gCtx, sink) })
	g.Go(func() error { return s.drainLoop(gCtx, sink) })
	err = g.Wait()

	var ce *closeError
	switch {
	case errors.As(err, &ce):
		if ce.err != nil {
			s.log().Debug("[STREAM] loop ended", "reason", ce.reason, "err", ce.err)
		}
		return ce.reason
	case s.Reason() != "":
		return s.Reason()
	default:
		// The transport cancels ctx when the client goes away.
		return CloseClientGone
	}
}

// heartbeatLoop keeps the client connection and the registry record alive.
func (s *Session) heartbeatLoop(ctx context.Context, sink Sink) error {
	ticker := time.NewTicker(s.svc.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if err := sink.WriteKeepAlive(); err != nil {
			return &closeError{reason: CloseWriteFailed, err: err}
		}
		if err := s.svc.registry.Touch(ctx, s.conn); err != nil {
			if errors.Is(err, errors.NotFound) {
				return &closeError{reason: CloseExpired, err: err}
			}
			if ctx.Err() != nil {
				return nil
			}
			// transient: the metadata TTL covers the next attempt
			s.log().Warn("[STREAM] heartbeat refresh failed", "err", err)
		}
	}
}

// drainLoop wakes on the notifier or the drain ticker, whichever fires first.
// The lifetime check is cooperative and happens on every wake.
func (s *Session) drainLoop(ctx context.Context, sink Sink) error {
	wake, release := s.svc.queue.Subscribe(s.conn.ID)
	defer release()

	ticker := time.NewTicker(s.svc.cfg.DrainInterval)
	defer ticker.Stop()

	deadline := time.UnixMilli(s.conn.CreatedAt).Add(s.svc.cfg.MaxLifetime)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-wake:
		case <-ticker.C:
		}

		if !time.Now().Before(deadline) {
			return &closeError{reason: CloseLifetime}
		}
		if err := s.flush(ctx, sink); err != nil {
			return err
		}
	}
}

// flush writes every queued frame in order, then the typing snapshots that
// changed since the previous cycle.
func (s *Session) flush(ctx context.Context, sink Sink) error {
	frames, err := s.svc.queue.DrainAll(ctx, s.conn.ID)
	if err != nil {
		if ctx.Err() == nil {
			s.log().Warn("[STREAM] drain failed", "err", err)
		}
		return nil
	}
	for _, f := range frames {
		if err := sink.WriteEvent(f.Raw); err != nil {
			return &closeError{reason: CloseWriteFailed, err: err}
		}
		s.svc.metrics.framesDelivered.Inc()
	}

	return s.flushTyping(ctx, sink)
}

// flushTyping sends a typing_update for every forum of the user whose typing
// set differs from the last one sent on this session. The user never sees
// themselves in the list.
func (s *Session) flushTyping(ctx context.Context, sink Sink) error {
	forums, err := s.svc.directory.UserForums(ctx, s.conn.UserID)
	if err != nil {
		return nil
	}

	current := make(map[string]struct{}, len(forums))
	for _, fid := range forums {
		current[fid] = struct{}{}

		typing, err := s.svc.presence.Typing(ctx, fid)
		if err != nil {
			continue
		}
		delete(typing, s.conn.UserID)

		prev := s.lastTyping[fid]
		if maps.Equal(prev, typing) {
			continue
		}
		data, err := event.Encode(event.NewTypingUpdateEvent(fid, typing))
		if err != nil {
			continue
		}
		if err := sink.WriteEvent(data); err != nil {
			return &closeError{reason: CloseWriteFailed, err: err}
		}
		s.lastTyping[fid] = typing
	}

	for fid := range s.lastTyping {
		if _, ok := current[fid]; !ok {
			delete(s.lastTyping, fid)
		}
	}
	return nil
}

// Close tears the session down exactly once: deregisters the connection
// together with its queue and recomputes presence of the owner. It is safe to
// call before, during or after Run.
func (s *Session) Close(reason CloseReason) {
	s.Stop(reason)
	s.closeOnce.Do(s.teardown)
}

func (s *Session) teardown() {
	s.state.Store(int32(StateClosing))
	reason := s.Reason()

	ctx, cancel := context.WithTimeout(context.Background(), s.svc.cfg.CloseTimeout)
	defer cancel()

	owner, err := s.svc.registry.Deregister(ctx, s.conn.ID, s.conn.UserID)
	if err != nil {
		s.log().Warn("[STREAM] deregister failed", "err", err)
	}
	if owner == "" {
		owner = s.conn.UserID
	}
	offline, err := s.svc.presence.Disconnect(ctx, owner)
	if err != nil {
		s.log().Warn("[STREAM] presence recompute failed", "err", err)
	}

	s.svc.forget(s)
	s.state.Store(int32(StateClosed))
	close(s.done)

	s.svc.metrics.sessionsClosed.WithLabelValues(string(reason)).Inc()
	lifetime := time.Since(time.UnixMilli(s.conn.CreatedAt))
	s.svc.metrics.sessionDuration.Observe(lifetime.Seconds())
	s.log().Info("[STREAM] session closed",
		"reason", reason,
		"lifetime_ms", lifetime.Milliseconds(),
		"user_offline", offline,
	)
}
