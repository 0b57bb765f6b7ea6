package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/webitel/im-forum-delivery/internal/domain/event"
	"github.com/webitel/im-forum-delivery/internal/domain/presence"
	"github.com/webitel/im-forum-delivery/internal/domain/registry"
)

const tracerName = "github.com/webitel/im-forum-delivery/internal/service"

// Broadcaster fans a domain event out into connection queues.
type Broadcaster interface {
	BroadcastToAll(ctx context.Context, ev event.Eventer) (*Report, error)
	BroadcastToRoom(ctx context.Context, roomID string, ev event.Eventer) (*Report, error)
	BroadcastToUser(ctx context.Context, userID string, ev event.Eventer) (*Report, error)
}

// Report is the all-settled outcome of one broadcast. Per-connection failures
// are counted here and logged, never returned as an error.
type Report struct {
	Targets   int `json:"targets"`
	Delivered int `json:"delivered"`
	Healed    int `json:"healed"`
	Failed    int `json:"failed"`
}

// target is a connection id with its owner when the resolution path knows it.
type target struct {
	connID string
	owner  string
}

var _ Broadcaster = (*FanOut)(nil)

type FanOut struct {
	registry  registry.Registrar
	queue     registry.Queuer
	directory Directorer
	presence  presence.Presencer
	metrics   *Collector
	logger    *slog.Logger
	tracer    trace.Tracer
	// parallelism bounds concurrent enqueues of a single broadcast.
	parallelism int
}

func NewFanOut(
	reg registry.Registrar,
	queue registry.Queuer,
	dir Directorer,
	pres presence.Presencer,
	metrics *Collector,
	logger *slog.Logger,
) *FanOut {
	return &FanOut{
		registry:    reg,
		queue:       queue,
		directory:   dir,
		presence:    pres,
		metrics:     metrics,
		logger:      logger,
		tracer:      otel.Tracer(tracerName),
		parallelism: 16,
	}
}

// BroadcastToAll snapshots the live set; connections registered afterwards do
// not receive ev.
func (b *FanOut) BroadcastToAll(ctx context.Context, ev event.Eventer) (*Report, error) {
	return b.broadcast(ctx, "all", ev, func(ctx context.Context) ([]target, error) {
		ids, err := b.registry.Live(ctx)
		if err != nil {
			return nil, err
		}
		targets := make([]target, len(ids))
		for i, id := range ids {
			targets[i] = target{connID: id}
		}
		return targets, nil
	})
}

// BroadcastToRoom delivers only to connections of the room's participants.
// A connection is targeted once even if it is reachable twice.
func (b *FanOut) BroadcastToRoom(ctx context.Context, roomID string, ev event.Eventer) (*Report, error) {
	if roomID == "" {
		return nil, errors.NotValidf("room broadcast without roomId")
	}
	return b.broadcast(ctx, "room", ev, func(ctx context.Context) ([]target, error) {
		participants, err := b.directory.Participants(ctx, roomID)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]struct{})
		var targets []target
		for _, uid := range participants {
			conns, err := b.registry.ConnectionsForUser(ctx, uid)
			if err != nil {
				// all-settled: one unreadable participant must not hide the rest
				b.logger.Warn("[FANOUT] participant resolution failed",
					"room_id", roomID,
					"user_id", uid,
					"err", err,
				)
				continue
			}
			for _, c := range conns {
				if _, dup := seen[c.ID]; dup {
					continue
				}
				seen[c.ID] = struct{}{}
				targets = append(targets, target{connID: c.ID, owner: uid})
			}
		}
		return targets, nil
	})
}

func (b *FanOut) BroadcastToUser(ctx context.Context, userID string, ev event.Eventer) (*Report, error) {
	if userID == "" {
		return nil, errors.NotValidf("user broadcast without userId")
	}
	return b.broadcast(ctx, "user", ev, func(ctx context.Context) ([]target, error) {
		conns, err := b.registry.ConnectionsForUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		targets := make([]target, len(conns))
		for i, c := range conns {
			targets[i] = target{connID: c.ID, owner: userID}
		}
		return targets, nil
	})
}

func (b *FanOut) broadcast(
	ctx context.Context,
	scope string,
	ev event.Eventer,
	resolve func(context.Context) ([]target, error),
) (*Report, error) {
	ctx, span := b.tracer.Start(ctx, "broadcast."+scope, trace.WithAttributes(
		attribute.String("event.id", ev.GetID()),
		attribute.String("event.type", ev.GetKind().String()),
		attribute.String("event.room_id", ev.GetRoomID()),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		b.metrics.broadcastDuration.WithLabelValues(scope).Observe(time.Since(start).Seconds())
	}()

	// Encode once up front so a broken event fails the whole call instead of
	// every connection.
	if _, err := event.Encode(ev); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode")
		return nil, err
	}

	targets, err := resolve(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve targets")
		return nil, errors.Annotatef(err, "resolve %s targets", scope)
	}

	report := b.deliver(ctx, scope, targets, ev)

	span.SetAttributes(
		attribute.Int("fanout.targets", report.Targets),
		attribute.Int("fanout.delivered", report.Delivered),
		attribute.Int("fanout.healed", report.Healed),
		attribute.Int("fanout.failed", report.Failed),
	)
	b.logger.Debug("[FANOUT] broadcast settled",
		"scope", scope,
		"event_id", ev.GetID(),
		"type", ev.GetKind(),
		"targets", report.Targets,
		"delivered", report.Delivered,
		"healed", report.Healed,
		"failed", report.Failed,
	)
	return report, nil
}

// deliver pushes ev to every target and waits for all of them. A target whose
// record vanished is deregistered instead of enqueued.
func (b *FanOut) deliver(ctx context.Context, scope string, targets []target, ev event.Eventer) *Report {
	var delivered, healed, failed atomic.Int64

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(b.parallelism)
	for _, t := range targets {
		g.Go(func() error {
			switch err := b.deliverOne(gCtx, t, ev); {
			case err == nil:
				delivered.Add(1)
			case errors.Is(err, errors.NotFound):
				healed.Add(1)
			default:
				failed.Add(1)
				b.metrics.deliveryFailures.WithLabelValues(scope).Inc()
				b.logger.Warn("[FANOUT] delivery failed",
					"conn_id", t.connID,
					"event_id", ev.GetID(),
					"err", err,
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	b.metrics.framesEnqueued.WithLabelValues(ev.GetKind().String()).Add(float64(delivered.Load()))
	return &Report{
		Targets:   len(targets),
		Delivered: int(delivered.Load()),
		Healed:    int(healed.Load()),
		Failed:    int(failed.Load()),
	}
}

// deliverOne returns a NotFound error when it healed the target.
func (b *FanOut) deliverOne(ctx context.Context, t target, ev event.Eventer) error {
	alive, err := b.registry.Alive(ctx, t.connID)
	if err != nil {
		return err
	}
	if alive {
		return b.queue.Enqueue(ctx, t.connID, ev)
	}

	owner, err := b.registry.Deregister(ctx, t.connID, t.owner)
	if err != nil {
		return errors.Annotatef(err, "heal %s", t.connID)
	}
	b.metrics.connectionsHealed.Inc()
	b.logger.Info("[FANOUT] stale connection deregistered", "conn_id", t.connID, "user_id", owner)

	if owner != "" {
		if _, err := b.presence.Disconnect(ctx, owner); err != nil {
			b.logger.Warn("[FANOUT] presence recompute failed", "user_id", owner, "err", err)
		}
	}
	return errors.NotFoundf("connection %s", t.connID)
}
