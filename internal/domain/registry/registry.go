/*
Package registry tracks live client connections and their pending outboxes in
the shared store.

Key Architectural Concepts:
  - Shared State: every fact lives in the store as a key or key family, so
    several delivery processes can serve the same users.
  - Reciprocal Records: an id in the live set always has a metadata record;
    both are written on Register and removed together on Deregister.
  - Secondary Index: user -> connection ids, verified against metadata on read
    so a stale id never leaks into a fan-out.
  - Self-Healing: Sweep removes live ids whose metadata has expired.
*/
package registry

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/juju/errors"

	"github.com/webitel/im-forum-delivery/infra/store"
	"github.com/webitel/im-forum-delivery/internal/domain/model"
)

// Registrar defines the connection bookkeeping used by sessions, the
// broadcaster and presence.
type Registrar interface {
	Register(ctx context.Context, conn *model.Connection) error
	Deregister(ctx context.Context, connID, ownerHint string) (string, error)
	Touch(ctx context.Context, conn *model.Connection) error
	Lookup(ctx context.Context, connID string) (*model.Connection, error)
	Alive(ctx context.Context, connID string) (bool, error)
	ConnectionsForUser(ctx context.Context, userID string) ([]*model.Connection, error)
	Live(ctx context.Context) ([]string, error)
	Sweep(ctx context.Context) (*SweepReport, error)
}

var _ Registrar = (*Registry)(nil)

// SweepReport summarises one self-heal pass.
type SweepReport struct {
	Checked int
	Removed []string
	// Repaired counts live ids that were missing from their owner index.
	Repaired int
}

type Registry struct {
	store  store.Store
	logger *slog.Logger
	config config
}

func NewRegistry(s store.Store, logger *slog.Logger, opts ...Option) *Registry {
	return &Registry{
		store:  s,
		logger: logger,
		config: apply(opts),
	}
}

// Register adds the connection to the live set, writes its metadata with a
// bounded TTL and indexes it under its owner. A store failure is returned so
// the session can abort before streaming.
func (r *Registry) Register(ctx context.Context, conn *model.Connection) error {
	if conn == nil || conn.ID == "" || conn.UserID == "" {
		return errors.NotValidf("connection without id/userId")
	}
	if err := r.writeMetadata(ctx, conn); err != nil {
		return err
	}
	if err := r.store.SAdd(ctx, keyLiveConnections, conn.ID); err != nil {
		return errors.Annotatef(err, "register %s", conn.ID)
	}
	if err := r.store.SAdd(ctx, keyUserConnections(conn.UserID), conn.ID); err != nil {
		return errors.Annotatef(err, "index %s under user %s", conn.ID, conn.UserID)
	}
	return nil
}

// Deregister removes every trace of connID and returns its owner. The owner is
// taken from the metadata when it still exists, otherwise from ownerHint.
// Removing an absent connection is a no-op.
func (r *Registry) Deregister(ctx context.Context, connID, ownerHint string) (string, error) {
	owner := ownerHint
	conn, err := r.Lookup(ctx, connID)
	switch {
	case err == nil:
		owner = conn.UserID
	case errors.Is(err, errors.NotFound), errors.Is(err, errors.NotValid):
		// unreadable metadata is removed below like an expired one
	default:
		return ownerHint, err
	}

	if err := r.store.SRem(ctx, keyLiveConnections, connID); err != nil {
		return owner, errors.Annotatef(err, "deregister %s", connID)
	}
	if err := r.store.Delete(ctx, keyConnection(connID), keyQueue(connID)); err != nil {
		return owner, errors.Annotatef(err, "delete records of %s", connID)
	}
	if owner != "" {
		if err := r.store.SRem(ctx, keyUserConnections(owner), connID); err != nil {
			return owner, errors.Annotatef(err, "unindex %s from user %s", connID, owner)
		}
	}
	return owner, nil
}

// Touch refreshes the heartbeat timestamp and the metadata TTL. A record that
// already expired is reported as NotFound and is not resurrected.
func (r *Registry) Touch(ctx context.Context, conn *model.Connection) error {
	ok, err := r.store.Exists(ctx, keyConnection(conn.ID))
	if err != nil {
		return errors.Annotatef(err, "touch %s", conn.ID)
	}
	if !ok {
		return errors.NotFoundf("connection %s", conn.ID)
	}
	conn.LastHeartbeat = r.config.clock.Now().UnixMilli()
	return r.writeMetadata(ctx, conn)
}

func (r *Registry) Lookup(ctx context.Context, connID string) (*model.Connection, error) {
	raw, err := r.store.Get(ctx, keyConnection(connID))
	if err != nil {
		if errors.Is(err, errors.NotFound) {
			return nil, errors.NotFoundf("connection %s", connID)
		}
		return nil, errors.Annotatef(err, "lookup %s", connID)
	}
	conn := &model.Connection{}
	if err := json.Unmarshal([]byte(raw), conn); err != nil {
		return nil, errors.NewNotValid(err, "connection record "+connID)
	}
	return conn, nil
}

// Alive reports whether the metadata record of connID still exists.
func (r *Registry) Alive(ctx context.Context, connID string) (bool, error) {
	ok, err := r.store.Exists(ctx, keyConnection(connID))
	if err != nil {
		return false, errors.Annotatef(err, "check %s", connID)
	}
	return ok, nil
}

// ConnectionsForUser resolves the owner index and verifies every id against
// its metadata. Ids whose record is gone are pruned from the index. An empty
// index falls back to ScanConnectionsForUser and re-indexes what it finds.
func (r *Registry) ConnectionsForUser(ctx context.Context, userID string) ([]*model.Connection, error) {
	ids, err := r.store.SMembers(ctx, keyUserConnections(userID))
	if err != nil {
		return nil, errors.Annotatef(err, "connections of user %s", userID)
	}
	if len(ids) == 0 {
		return r.reindexFromScan(ctx, userID)
	}

	conns := make([]*model.Connection, 0, len(ids))
	var stale []string
	for _, id := range ids {
		conn, err := r.Lookup(ctx, id)
		switch {
		case err == nil && conn.UserID == userID:
			conns = append(conns, conn)
		case err == nil, errors.Is(err, errors.NotFound), errors.Is(err, errors.NotValid):
			stale = append(stale, id)
		default:
			return nil, err
		}
	}

	if len(stale) > 0 {
		if err := r.store.SRem(ctx, keyUserConnections(userID), stale...); err != nil {
			r.logger.Warn("[REGISTRY] prune user index failed", "user_id", userID, "err", err)
		}
	}
	return conns, nil
}

// ScanConnectionsForUser is the linear reference lookup over every live
// connection. It does not rely on the owner index.
func (r *Registry) ScanConnectionsForUser(ctx context.Context, userID string) ([]*model.Connection, error) {
	ids, err := r.Live(ctx)
	if err != nil {
		return nil, err
	}
	var conns []*model.Connection
	for _, id := range ids {
		conn, err := r.Lookup(ctx, id)
		if err != nil {
			if errors.Is(err, errors.NotFound) || errors.Is(err, errors.NotValid) {
				continue
			}
			return nil, err
		}
		if conn.UserID == userID {
			conns = append(conns, conn)
		}
	}
	return conns, nil
}

func (r *Registry) reindexFromScan(ctx context.Context, userID string) ([]*model.Connection, error) {
	conns, err := r.ScanConnectionsForUser(ctx, userID)
	if err != nil || len(conns) == 0 {
		return conns, err
	}
	found := make([]string, len(conns))
	for i, c := range conns {
		found[i] = c.ID
	}
	if err := r.store.SAdd(ctx, keyUserConnections(userID), found...); err != nil {
		r.logger.Warn("[REGISTRY] reindex from scan failed", "user_id", userID, "err", err)
	} else {
		r.logger.Debug("[REGISTRY] USER_INDEX_REBUILT", "user_id", userID, "count", len(found))
	}
	return conns, nil
}

func (r *Registry) Live(ctx context.Context) ([]string, error) {
	ids, err := r.store.SMembers(ctx, keyLiveConnections)
	if err != nil {
		return nil, errors.Annotate(err, "live connections")
	}
	return ids, nil
}

// Sweep is the self-heal pass: live ids without metadata are deregistered and
// live connections missing from their owner index are re-indexed.
func (r *Registry) Sweep(ctx context.Context) (*SweepReport, error) {
	ids, err := r.Live(ctx)
	if err != nil {
		return nil, err
	}

	report := &SweepReport{Checked: len(ids)}
	indexed := make(map[string]map[string]struct{})
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		conn, err := r.Lookup(ctx, id)
		switch {
		case err == nil:
			members, err := r.userIndex(ctx, indexed, conn.UserID)
			if err != nil {
				r.logger.Warn("[REGISTRY] read user index failed", "user_id", conn.UserID, "err", err)
				continue
			}
			if _, ok := members[id]; ok {
				continue
			}
			if err := r.store.SAdd(ctx, keyUserConnections(conn.UserID), id); err != nil {
				r.logger.Warn("[REGISTRY] reindex failed", "conn_id", id, "err", err)
				continue
			}
			members[id] = struct{}{}
			report.Repaired++
		case errors.Is(err, errors.NotFound), errors.Is(err, errors.NotValid):
			if _, err := r.Deregister(ctx, id, ""); err != nil {
				r.logger.Warn("[REGISTRY] heal failed", "conn_id", id, "err", err)
				continue
			}
			report.Removed = append(report.Removed, id)
		default:
			r.logger.Warn("[REGISTRY] sweep lookup failed", "conn_id", id, "err", err)
		}
	}
	return report, nil
}

// userIndex loads the owner index of userID once per sweep.
func (r *Registry) userIndex(ctx context.Context, cache map[string]map[string]struct{}, userID string) (map[string]struct{}, error) {
	if members, ok := cache[userID]; ok {
		return members, nil
	}
	ids, err := r.store.SMembers(ctx, keyUserConnections(userID))
	if err != nil {
		return nil, err
	}
	members := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		members[id] = struct{}{}
	}
	cache[userID] = members
	return members, nil
}

func (r *Registry) writeMetadata(ctx context.Context, conn *model.Connection) error {
	data, err := json.Marshal(conn)
	if err != nil {
		return errors.Annotatef(err, "encode connection %s", conn.ID)
	}
	if err := r.store.Set(ctx, keyConnection(conn.ID), string(data), r.config.metadataTTL); err != nil {
		return errors.Annotatef(err, "write connection %s", conn.ID)
	}
	return nil
}
