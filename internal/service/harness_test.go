package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock"
	"github.com/stretchr/testify/require"

	"github.com/webitel/im-forum-delivery/infra/store"
	"github.com/webitel/im-forum-delivery/infra/store/memstore"
	"github.com/webitel/im-forum-delivery/internal/domain/event"
	"github.com/webitel/im-forum-delivery/internal/domain/model"
	"github.com/webitel/im-forum-delivery/internal/domain/presence"
	"github.com/webitel/im-forum-delivery/internal/domain/registry"
)

type harness struct {
	store    *memstore.Store
	registry *registry.Registry
	queue    *registry.Queue
	presence *presence.Resolver
	dir      *Directory
	history  *History
	fanout   *FanOut
	emitter  *EventEmitter
	delivery *DeliveryService
	janitor  *Janitor
}

func testSessionConfig() SessionConfig {
	return SessionConfig{
		HeartbeatInterval: 20 * time.Millisecond,
		DrainInterval:     5 * time.Millisecond,
		MaxLifetime:       time.Minute,
		CloseTimeout:      time.Second,
	}
}

func newHarness(t *testing.T, cfg SessionConfig) *harness {
	t.Helper()
	return newHarnessOver(t, cfg, func(m *memstore.Store) store.Store { return m })
}

// newHarnessOver wires the services over wrap(mem) while seeding helpers keep
// writing to mem directly.
func newHarnessOver(t *testing.T, cfg SessionConfig, wrap func(*memstore.Store) store.Store) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := memstore.New(clock.WallClock)
	s := wrap(mem)
	metrics := NewMetricsCollector()

	h := &harness{store: mem}
	h.registry = registry.NewRegistry(s, logger)
	h.queue = registry.NewQueue(s, registry.NewNotifier(), logger)
	h.presence = presence.NewResolver(s, h.registry, logger)
	h.dir = NewDirectory(s, 100, time.Minute)
	h.history = NewHistory(s, 3)
	h.fanout = NewFanOut(h.registry, h.queue, h.dir, h.presence, metrics, logger)
	h.emitter = NewEventEmitter(h.fanout, h.presence, h.history, h.dir, logger)
	h.delivery = NewDeliveryService(h.registry, h.queue, h.presence, h.dir, metrics, logger, cfg)
	h.janitor = NewJanitor(h.registry, h.presence, metrics, logger, time.Minute)
	return h
}

func (h *harness) seedUser(t *testing.T, id, name string) {
	t.Helper()
	data, err := json.Marshal(model.User{ID: id, Name: name})
	require.NoError(t, err)
	require.NoError(t, h.store.Set(context.Background(), "user:"+id, string(data), 0))
}

func (h *harness) seedForum(t *testing.T, id string, participants ...string) {
	t.Helper()
	ctx := context.Background()
	data, err := json.Marshal(model.Forum{ID: id, Name: id, Participants: participants})
	require.NoError(t, err)
	require.NoError(t, h.store.Set(ctx, "forum:"+id, string(data), 0))
	require.NoError(t, h.store.SAdd(ctx, "forum:"+id+":participants", participants...))
	for _, uid := range participants {
		require.NoError(t, h.store.SAdd(ctx, "user:"+uid+":forums", id))
	}
}

// connect registers a bare connection without a running session.
func (h *harness) connect(t *testing.T, userID string) *model.Connection {
	t.Helper()
	ctx := context.Background()
	c := model.NewConnection(userID, model.ConnectMetadata{Transport: model.TransportSSE})
	require.NoError(t, h.registry.Register(ctx, c))
	require.NoError(t, h.presence.Connect(ctx, userID))
	return c
}

func (h *harness) queued(t *testing.T, connID string) []*event.Envelope {
	t.Helper()
	frames, err := h.queue.DrainAll(context.Background(), connID)
	require.NoError(t, err)
	return frames
}

// recordingSink captures frames written by a session.
type recordingSink struct {
	mu         sync.Mutex
	frames     []map[string]any
	keepAlives int
	fail       error
}

func (s *recordingSink) WriteEvent(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	s.frames = append(s.frames, obj)
	return nil
}

func (s *recordingSink) WriteKeepAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.keepAlives++
	return nil
}

func (s *recordingSink) snapshot() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.frames...)
}

func (s *recordingSink) find(kind event.Kind) []map[string]any {
	var res []map[string]any
	for _, f := range s.snapshot() {
		if f["type"] == string(kind) {
			res = append(res, f)
		}
	}
	return res
}

func (s *recordingSink) pings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keepAlives
}

// failingSetStore fails SAdd on one key and delegates everything else.
type failingSetStore struct {
	*memstore.Store
	key string
}

func (s *failingSetStore) SAdd(ctx context.Context, key string, members ...string) error {
	if key == s.key {
		return store.ErrUnavailable
	}
	return s.Store.SAdd(ctx, key, members...)
}
