package service

import (
	"context"

	"github.com/juju/errors"

	"github.com/webitel/im-forum-delivery/internal/domain/model"
	"github.com/webitel/im-forum-delivery/internal/domain/presence"
	"github.com/webitel/im-forum-delivery/internal/domain/registry"
)

// EnqueueCounter reads the cluster-wide enqueued frame counter.
type EnqueueCounter interface {
	Enqueued(ctx context.Context) (int64, error)
}

// SessionCounter reports sessions running in this process.
type SessionCounter interface {
	Sessions() int
}

// StatsService assembles the point-in-time view served by /api/stats and
// rendered by the monitor command.
type StatsService struct {
	registry *registry.Registry
	counter  EnqueueCounter
	presence presence.Presencer
	local    SessionCounter
}

// NewStatsService accepts a nil local counter for processes that run no sessions.
func NewStatsService(reg *registry.Registry, counter EnqueueCounter, pres presence.Presencer, local SessionCounter) *StatsService {
	return &StatsService{registry: reg, counter: counter, presence: pres, local: local}
}

func (s *StatsService) Stats(ctx context.Context) (*model.Stats, error) {
	live, err := s.registry.Live(ctx)
	if err != nil {
		return nil, err
	}
	perUser := make(map[string]int)
	for _, id := range live {
		conn, err := s.registry.Lookup(ctx, id)
		if err != nil {
			if errors.Is(err, errors.NotFound) || errors.Is(err, errors.NotValid) {
				continue
			}
			return nil, err
		}
		perUser[conn.UserID]++
	}

	active, err := s.presence.Active(ctx)
	if err != nil {
		return nil, err
	}
	enqueued, err := s.counter.Enqueued(ctx)
	if err != nil {
		return nil, err
	}

	st := &model.Stats{
		LiveConnections:    len(live),
		ActiveUsers:        len(active),
		EnqueuedTotal:      enqueued,
		ConnectionsPerUser: perUser,
	}
	if s.local != nil {
		st.LocalSessions = s.local.Sessions()
	}
	return st, nil
}
