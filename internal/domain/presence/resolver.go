// Package presence derives online/offline status from the connection
// registry and keeps the short-lived typing indicators.
package presence

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/webitel/im-forum-delivery/infra/store"
	"github.com/webitel/im-forum-delivery/internal/domain/model"
)

const keyActiveUsers = "presence:active"

func keyStatus(userID string) string { return "presence:" + userID }

// ConnectionSource is the part of the registry presence is derived from.
type ConnectionSource interface {
	ConnectionsForUser(ctx context.Context, userID string) ([]*model.Connection, error)
}

// Publisher announces presence transitions to the outside world.
type Publisher interface {
	Publish(ctx context.Context, ev model.OutboundEventer) error
}

// Presencer is the presence API used by sessions, the janitor and handlers.
type Presencer interface {
	Connect(ctx context.Context, userID string) error
	Disconnect(ctx context.Context, userID string) (bool, error)
	IsOnline(ctx context.Context, userID string) (bool, error)
	Status(ctx context.Context, userID string) (*model.Presence, error)
	Active(ctx context.Context) ([]string, error)
	Reconcile(ctx context.Context) ([]string, error)

	SetTyping(ctx context.Context, forumID, userID, userName string) error
	ClearTyping(ctx context.Context, forumID, userID string) error
	Typing(ctx context.Context, forumID string) (map[string]string, error)
}

var _ Presencer = (*Resolver)(nil)

type Resolver struct {
	store     store.Store
	conns     ConnectionSource
	publisher Publisher
	logger    *slog.Logger
	clock     clock.Clock
	typingTTL time.Duration
}

type Option func(*Resolver)

func WithPublisher(p Publisher) Option {
	return func(r *Resolver) { r.publisher = p }
}

func WithClock(clk clock.Clock) Option {
	return func(r *Resolver) {
		if clk != nil {
			r.clock = clk
		}
	}
}

// WithTypingTTL sets how long a typing signal stays valid without renewal.
func WithTypingTTL(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.typingTTL = d
		}
	}
}

func NewResolver(s store.Store, conns ConnectionSource, logger *slog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		store:     s,
		conns:     conns,
		logger:    logger,
		clock:     clock.WallClock,
		typingTTL: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect marks the user online. Adding an already active user is a no-op.
func (r *Resolver) Connect(ctx context.Context, userID string) error {
	if err := r.store.SAdd(ctx, keyActiveUsers, userID); err != nil {
		return errors.Annotatef(err, "activate %s", userID)
	}
	return r.transition(ctx, userID, model.PresenceOnline)
}

// Disconnect flips the user offline only when no live connection remains and
// reports whether it did. The check and the flip are not atomic with a
// concurrent connect; Reconcile repairs the outcome.
func (r *Resolver) Disconnect(ctx context.Context, userID string) (bool, error) {
	conns, err := r.conns.ConnectionsForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if len(conns) > 0 {
		return false, nil
	}
	if err := r.store.SRem(ctx, keyActiveUsers, userID); err != nil {
		return false, errors.Annotatef(err, "deactivate %s", userID)
	}
	return true, r.transition(ctx, userID, model.PresenceOffline)
}

func (r *Resolver) IsOnline(ctx context.Context, userID string) (bool, error) {
	conns, err := r.conns.ConnectionsForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return len(conns) > 0, nil
}

// Status reports the derived state together with the last stored transition.
func (r *Resolver) Status(ctx context.Context, userID string) (*model.Presence, error) {
	conns, err := r.conns.ConnectionsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	p, err := r.stored(ctx, userID)
	if err != nil {
		return nil, err
	}
	p.Connections = len(conns)
	if p.Connections > 0 {
		p.Status = model.PresenceOnline
	} else {
		p.Status = model.PresenceOffline
	}
	return p, nil
}

func (r *Resolver) Active(ctx context.Context) ([]string, error) {
	users, err := r.store.SMembers(ctx, keyActiveUsers)
	if err != nil {
		return nil, errors.Annotate(err, "active users")
	}
	return users, nil
}

// Reconcile re-derives presence for every active user and returns those
// flipped offline. It resolves disconnects whose owner was unknown and the
// connect/disconnect race.
func (r *Resolver) Reconcile(ctx context.Context) ([]string, error) {
	users, err := r.Active(ctx)
	if err != nil {
		return nil, err
	}
	var flipped []string
	for _, uid := range users {
		if err := ctx.Err(); err != nil {
			return flipped, err
		}
		offline, err := r.Disconnect(ctx, uid)
		if err != nil {
			r.logger.Warn("[PRESENCE] reconcile failed", "user_id", uid, "err", err)
			continue
		}
		if offline {
			flipped = append(flipped, uid)
		}
	}
	return flipped, nil
}

func (r *Resolver) stored(ctx context.Context, userID string) (*model.Presence, error) {
	p := &model.Presence{UserID: userID, Status: model.PresenceOffline}
	raw, err := r.store.Get(ctx, keyStatus(userID))
	if err != nil {
		if errors.Is(err, errors.NotFound) {
			return p, nil
		}
		return nil, errors.Annotatef(err, "presence of %s", userID)
	}
	if err := json.Unmarshal([]byte(raw), p); err != nil {
		r.logger.Warn("[PRESENCE] corrupt status record", "user_id", userID, "err", err)
		return &model.Presence{UserID: userID, Status: model.PresenceOffline}, nil
	}
	return p, nil
}

// transition stores the new status and publishes a change when it flipped.
func (r *Resolver) transition(ctx context.Context, userID string, next model.PresenceStatus) error {
	prev, err := r.stored(ctx, userID)
	if err != nil {
		return err
	}

	now := r.clock.Now().UnixMilli()
	rec := model.Presence{
		UserID:    userID,
		Status:    next,
		LastSeen:  prev.LastSeen,
		UpdatedAt: now,
	}
	if next == model.PresenceOffline {
		rec.LastSeen = now
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Trace(err)
	}
	if err := r.store.Set(ctx, keyStatus(userID), string(data), 0); err != nil {
		return errors.Annotatef(err, "store presence of %s", userID)
	}

	if prev.Status == next || r.publisher == nil {
		return nil
	}
	change := model.PresenceChange{
		UserID:    userID,
		OldStatus: prev.Status,
		NewStatus: next,
		Timestamp: now,
	}
	if err := r.publisher.Publish(ctx, model.NewPresenceChangedEvent(change)); err != nil {
		r.logger.Warn("[PRESENCE] publish transition failed", "user_id", userID, "status", next, "err", err)
	}
	return nil
}
