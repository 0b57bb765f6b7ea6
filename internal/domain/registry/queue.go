package registry

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/juju/errors"

	"github.com/webitel/im-forum-delivery/infra/store"
	"github.com/webitel/im-forum-delivery/internal/domain/event"
)

// Queuer defines the per-connection outbox.
type Queuer interface {
	Enqueue(ctx context.Context, connID string, ev event.Eventer) error
	DrainAll(ctx context.Context, connID string) ([]*event.Envelope, error)
	Subscribe(connID string) (<-chan struct{}, func())
}

var _ Queuer = (*Queue)(nil)

// Queue appends encoded frames to conn:{id}:queue and lets the owning session
// drain them in order.
type Queue struct {
	store    store.Store
	notifier *Notifier
	logger   *slog.Logger
	config   config
}

func NewQueue(s store.Store, n *Notifier, logger *slog.Logger, opts ...Option) *Queue {
	if n == nil {
		n = NewNotifier()
	}
	return &Queue{
		store:    s,
		notifier: n,
		logger:   logger,
		config:   apply(opts),
	}
}

// Enqueue appends ev to the tail of the outbox and refreshes the outbox TTL.
// The event is encoded once and the encoding is reused for every connection.
func (q *Queue) Enqueue(ctx context.Context, connID string, ev event.Eventer) error {
	frame, err := event.Encode(ev)
	if err != nil {
		return err
	}
	key := keyQueue(connID)
	if err := q.store.RPush(ctx, key, string(frame)); err != nil {
		return errors.Annotatef(err, "enqueue %s for %s", ev.GetKind(), connID)
	}
	if err := q.store.Expire(ctx, key, q.config.queueTTL); err != nil {
		return errors.Annotatef(err, "expire queue of %s", connID)
	}
	if _, err := q.store.Incr(ctx, keyEnqueuedCounter); err != nil {
		q.logger.Debug("[QUEUE] counter update failed", "err", err)
	}

	q.notifier.Notify(connID)
	return nil
}

// DrainAll returns every pending frame in enqueue order and trims exactly the
// frames it read. Producers only append at the tail, so a frame pushed between
// the read and the trim stays queued for the next cycle. If the trim fails the
// frames are returned anyway and will be delivered again.
func (q *Queue) DrainAll(ctx context.Context, connID string) ([]*event.Envelope, error) {
	key := keyQueue(connID)
	raw, err := q.store.LRange(ctx, key, 0, -1)
	if err != nil {
		return nil, errors.Annotatef(err, "drain %s", connID)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	if err := q.store.LTrim(ctx, key, int64(len(raw)), -1); err != nil {
		q.logger.Warn("[QUEUE] trim failed, frames will be redelivered",
			"conn_id", connID,
			"frames", len(raw),
			"err", err,
		)
	}

	frames := make([]*event.Envelope, 0, len(raw))
	for _, item := range raw {
		env, err := event.ParseEnvelope([]byte(item))
		if err != nil {
			q.logger.Warn("[QUEUE] dropping malformed frame", "conn_id", connID, "err", err)
			continue
		}
		frames = append(frames, env)
	}
	return frames, nil
}

// Len reports the backlog of connID.
func (q *Queue) Len(ctx context.Context, connID string) (int64, error) {
	return q.store.LLen(ctx, keyQueue(connID))
}

// Subscribe exposes the local wake channel for connID.
func (q *Queue) Subscribe(connID string) (<-chan struct{}, func()) {
	return q.notifier.Subscribe(connID)
}

// Enqueued returns the cluster-wide count of frames ever enqueued.
func (q *Queue) Enqueued(ctx context.Context) (int64, error) {
	raw, err := q.store.Get(ctx, keyEnqueuedCounter)
	if err != nil {
		if errors.Is(err, errors.NotFound) {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.NewNotValid(err, "enqueued counter")
	}
	return n, nil
}
