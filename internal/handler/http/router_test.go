package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/im-forum-delivery/infra/store/memstore"
	"github.com/webitel/im-forum-delivery/internal/domain/model"
	"github.com/webitel/im-forum-delivery/internal/domain/presence"
	"github.com/webitel/im-forum-delivery/internal/domain/registry"
	"github.com/webitel/im-forum-delivery/internal/handler/sse"
	"github.com/webitel/im-forum-delivery/internal/handler/ws"
	"github.com/webitel/im-forum-delivery/internal/service"
)

type testEnv struct {
	server   *httptest.Server
	store    *memstore.Store
	presence *presence.Resolver
	history  *service.History
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := memstore.New(clock.WallClock)

	reg := registry.NewRegistry(s, logger)
	queue := registry.NewQueue(s, registry.NewNotifier(), logger)
	pres := presence.NewResolver(s, reg, logger)
	dir := service.NewDirectory(s, 100, time.Minute)
	hist := service.NewHistory(s, 50)

	promReg := prometheus.NewRegistry()
	metrics := service.NewMetricsCollector()
	require.NoError(t, promReg.Register(metrics))

	fanout := service.NewFanOut(reg, queue, dir, pres, metrics, logger)
	emitter := service.NewEventEmitter(fanout, pres, hist, dir, logger)
	delivery := service.NewDeliveryService(reg, queue, pres, dir, metrics, logger, service.SessionConfig{
		HeartbeatInterval: time.Second,
		DrainInterval:     10 * time.Millisecond,
		MaxLifetime:       time.Minute,
		CloseTimeout:      time.Second,
	})

	handler := NewRouter(Deps{
		Logger:   logger,
		Emitter:  emitter,
		History:  hist,
		Presence: pres,
		Stats:    service.NewStatsService(reg, queue, pres, delivery),
		Store:    s,
		Gatherer: promReg,
		SSE:      sse.NewStreamHandler(logger, delivery),
		WS:       ws.NewWSHandler(logger, delivery),
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		_ = delivery.Shutdown(context.Background())
		srv.Close()
	})

	env := &testEnv{server: srv, store: s, presence: pres, history: hist}
	env.seed(t)
	return env
}

func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for _, u := range []model.User{{ID: "alice", Name: "Alice"}, {ID: "bob", Name: "Bob"}} {
		data, _ := json.Marshal(u)
		require.NoError(t, e.store.Set(ctx, "user:"+u.ID, string(data), 0))
		require.NoError(t, e.store.SAdd(ctx, "user:"+u.ID+":forums", "r1"))
	}
	data, _ := json.Marshal(model.Forum{ID: "r1", Name: "general", Participants: []string{"alice", "bob"}})
	require.NoError(t, e.store.Set(ctx, "forum:r1", string(data), 0))
	require.NoError(t, e.store.SAdd(ctx, "forum:r1:participants", "alice", "bob"))
}

func (e *testEnv) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(e.server.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error.Code
}

// readFrame returns the next SSE data payload, skipping keep-alive comments.
func readFrame(t *testing.T, r *bufio.Reader) map[string]any {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var obj map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &obj))
		return obj
	}
}

func TestStreamRejectsCaller(t *testing.T) {
	env := setupTestServer(t)

	resp := env.get(t, "/api/stream")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid", errorCode(t, resp))

	resp = env.get(t, "/api/stream?userId=ghost")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", errorCode(t, resp))
}

func TestStreamDeliversRoomMessage(t *testing.T) {
	env := setupTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.server.URL+"/api/stream?userId=alice", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	first := readFrame(t, reader)
	assert.Equal(t, "connected", first["type"])
	assert.NotEmpty(t, first["connectionId"])

	emit := env.post(t, "/api/events", `{"event":{"type":"message","roomId":"r1",
		"message":{"id":"m1","forumId":"r1","userId":"bob","userName":"Bob","text":"hello"}}}`)
	require.Equal(t, http.StatusAccepted, emit.StatusCode)

	next := readFrame(t, reader)
	assert.Equal(t, "message", next["type"])
	assert.Equal(t, "r1", next["roomId"])
}

func TestWebSocketStream(t *testing.T) {
	env := setupTestServer(t)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/ws?userId=bob"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var first map[string]any
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "connected", first["type"])

	env.post(t, "/api/events", `{"target":{"userId":"bob"},"event":{"type":"user_joined","roomId":"r1","userId":"bob","userName":"Bob","participants":["alice","bob"]}}`)

	var next map[string]any
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, "user_joined", next["type"])
}

func TestWebSocketRejectsUnknownUser(t *testing.T) {
	env := setupTestServer(t)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/api/ws?userId=ghost"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEmitValidation(t *testing.T) {
	env := setupTestServer(t)

	cases := []string{
		`not json`,
		`{}`,
		`{"event":{"type":"connected","connectionId":"c1"}}`,
		`{"event":{"type":"message","roomId":"r1"}}`,
	}
	for _, body := range cases {
		resp := env.post(t, "/api/events", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestTypingAndPresenceEndpoints(t *testing.T) {
	env := setupTestServer(t)

	resp := env.post(t, "/api/forums/r1/typing", `{"userId":"alice","isTyping":true}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	typing, err := env.presence.Typing(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"alice": "Alice"}, typing)

	resp = env.post(t, "/api/forums/nope/typing", `{"userId":"alice","isTyping":true}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.get(t, "/api/presence/alice")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var p model.Presence
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	assert.Equal(t, model.PresenceOffline, p.Status)
}

func TestMessagesEndpoint(t *testing.T) {
	env := setupTestServer(t)
	require.NoError(t, env.history.Append(context.Background(), model.Message{ID: "m1", ForumID: "r1", Text: "a"}))
	require.NoError(t, env.history.Append(context.Background(), model.Message{ID: "m2", ForumID: "r1", Text: "b"}))

	resp := env.get(t, "/api/forums/r1/messages?limit=1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Messages []model.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Messages, 1)
	assert.Equal(t, "m2", body.Messages[0].ID)

	resp = env.get(t, "/api/forums/r1/messages?limit=-2")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOperationalEndpoints(t *testing.T) {
	env := setupTestServer(t)

	resp := env.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.get(t, "/api/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st model.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Zero(t, st.LiveConnections)

	resp = env.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "im_forum_delivery_local_sessions")
}
