package amqp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/im-forum-delivery/infra/store"
	"github.com/webitel/im-forum-delivery/internal/adapter/pubsub"
	"github.com/webitel/im-forum-delivery/internal/domain/event"
	"github.com/webitel/im-forum-delivery/internal/service"
)

type emitCall struct {
	target string
	ev     event.Eventer
}

type fakeEmitter struct {
	mu    sync.Mutex
	calls []emitCall
	err   error
	// failures is the number of leading calls that fail as unavailable.
	failures int
	seen     chan struct{}
}

func newFakeEmitter() *fakeEmitter {
	return &fakeEmitter{seen: make(chan struct{}, 16)}
}

func (f *fakeEmitter) record(target string, ev event.Eventer) (*service.Report, error) {
	f.mu.Lock()
	f.calls = append(f.calls, emitCall{target: target, ev: ev})
	err := f.err
	if f.failures > 0 {
		f.failures--
		err = store.ErrUnavailable
	}
	f.mu.Unlock()
	f.seen <- struct{}{}
	return &service.Report{}, err
}

func (f *fakeEmitter) Emit(_ context.Context, ev event.Eventer) (*service.Report, error) {
	return f.record("", ev)
}

func (f *fakeEmitter) EmitToUser(_ context.Context, userID string, ev event.Eventer) (*service.Report, error) {
	return f.record(userID, ev)
}

func (f *fakeEmitter) Typing(context.Context, string, string, bool) (*service.Report, error) {
	return nil, errors.NotSupportedf("typing")
}

func (f *fakeEmitter) wait(t *testing.T) {
	t.Helper()
	select {
	case <-f.seen:
	case <-time.After(3 * time.Second):
		t.Fatal("event was not handled")
	}
}

func setupPipeline(t *testing.T, emitter service.Emitter) message.Publisher {
	t.Helper()
	return setupLoggedPipeline(t, emitter, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func setupLoggedPipeline(t *testing.T, emitter service.Emitter, logger *slog.Logger) message.Publisher {
	t.Helper()
	wlog := watermill.NopLogger{}

	factory := pubsub.NewChannelFactory(wlog)
	router, err := NewWatermillRouter(wlog)
	require.NoError(t, err)

	h := NewMessageHandler(emitter, logger, wlog)
	require.NoError(t, h.RegisterHandlers(router, pubsub.NewSubscriberProvider(factory), pubsub.NewPublisherProvider(factory)))

	go func() { _ = router.Run(context.Background()) }()
	<-router.Running()
	t.Cleanup(func() {
		_ = router.Close()
		_ = factory.Close()
	})

	pub, err := factory.BuildPublisher(ForumEventsExchange)
	require.NoError(t, err)
	return pub
}

func TestForumEventIsEmittedToRoom(t *testing.T) {
	emitter := newFakeEmitter()
	pub := setupPipeline(t, emitter)

	payload := []byte(`{"type":"message","roomId":"r1","message":{"id":"m1","userId":"alice","text":"hi"}}`)
	require.NoError(t, pub.Publish("im_forum.r1.message.v1", message.NewMessage(watermill.NewUUID(), payload)))
	emitter.wait(t)

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	require.Len(t, emitter.calls, 1)
	assert.Empty(t, emitter.calls[0].target)
	assert.Equal(t, event.MessageCreated, emitter.calls[0].ev.GetKind())
	assert.Equal(t, "r1", emitter.calls[0].ev.GetRoomID())
}

func TestTargetHeaderNarrowsDelivery(t *testing.T) {
	emitter := newFakeEmitter()
	pub := setupPipeline(t, emitter)

	msg := message.NewMessage(watermill.NewUUID(),
		[]byte(`{"type":"user_joined","roomId":"r1","userId":"bob","userName":"Bob"}`))
	msg.Metadata.Set(TargetUserHeader, "bob")
	require.NoError(t, pub.Publish("im_forum.r1.user_joined.v1", msg))
	emitter.wait(t)

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	require.Len(t, emitter.calls, 1)
	assert.Equal(t, "bob", emitter.calls[0].target)
}

func TestUndecodableEventIsAcked(t *testing.T) {
	emitter := newFakeEmitter()
	pub := setupPipeline(t, emitter)

	require.NoError(t, pub.Publish("im_forum.r1.bogus.v1",
		message.NewMessage(watermill.NewUUID(), []byte(`{"type":"bogus"}`))))
	require.NoError(t, pub.Publish("im_forum.r1.message.v1",
		message.NewMessage(watermill.NewUUID(), []byte(`{"type":"message_deleted","roomId":"r1","messageId":"m1"}`))))
	emitter.wait(t)

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	require.Len(t, emitter.calls, 1, "the bad event never reached the emitter")
	assert.Equal(t, event.MessageDeleted, emitter.calls[0].ev.GetKind())
}

func TestBindAcksRejectedEvents(t *testing.T) {
	h := NewMessageHandler(newFakeEmitter(), slog.New(slog.NewTextHandler(io.Discard, nil)), watermill.NopLogger{})
	payload := []byte(`{"type":"message_deleted","roomId":"r1","messageId":"m1"}`)

	rejected := Bind(h, func(context.Context, string, event.Eventer) error {
		return errors.NotFoundf("forum r1")
	})
	assert.NoError(t, rejected(message.NewMessage("1", payload)))

	transient := Bind(h, func(context.Context, string, event.Eventer) error {
		return errors.New("store down")
	})
	assert.Error(t, transient(message.NewMessage("2", payload)))

	panicky := Bind(h, func(context.Context, string, event.Eventer) error {
		panic("boom")
	})
	assert.Error(t, panicky(message.NewMessage("3", payload)))
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) records(msg string) []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	var res []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for sc.Scan() {
		var rec map[string]any
		if json.Unmarshal(sc.Bytes(), &rec) == nil && rec["msg"] == msg {
			res = append(res, rec)
		}
	}
	return res
}

func TestUnavailableStoreIsRetriedAndLogged(t *testing.T) {
	emitter := newFakeEmitter()
	emitter.failures = 1
	out := &lockedBuffer{}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	pub := setupLoggedPipeline(t, emitter, logger)

	msg := message.NewMessage(watermill.NewUUID(),
		[]byte(`{"type":"user_joined","roomId":"r1","userId":"bob","userName":"Bob"}`))
	msg.Metadata.Set(TargetUserHeader, "bob")
	require.NoError(t, pub.Publish("im_forum.r1.user_joined.v1", msg))
	emitter.wait(t)
	emitter.wait(t)

	var rec map[string]any
	require.Eventually(t, func() bool {
		recs := out.records("FORUM_EVENT_HANDLED")
		if len(recs) == 0 {
			return false
		}
		rec = recs[0]
		return true
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, "ON_FORUM_EVENT", rec["handler"])
	assert.Equal(t, "im_forum.r1.user_joined.v1", rec["routing_key"])
	assert.Equal(t, "bob", rec["target_user"])
	assert.EqualValues(t, 2, rec["attempts"])
	assert.Equal(t, "DEBUG", rec["level"])
}

func TestRetryPolicySkipsTerminalErrors(t *testing.T) {
	retry := NewRetryMiddleware(watermill.NopLogger{})
	require.NotNil(t, retry.ShouldRetry)

	assert.True(t, retry.ShouldRetry(middleware.RetryParams{Err: store.ErrUnavailable, RetryNum: 1}))
	assert.False(t, retry.ShouldRetry(middleware.RetryParams{Err: errors.NotValidf("event"), RetryNum: 1}))
	assert.False(t, retry.ShouldRetry(middleware.RetryParams{Err: errors.NotFoundf("forum r1"), RetryNum: 1}))
	assert.False(t, retry.ShouldRetry(middleware.RetryParams{Err: context.Canceled, RetryNum: 1}))
	assert.LessOrEqual(t, retry.MaxElapsedTime, 30*time.Second)
}
