package registry

import (
	"context"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/im-forum-delivery/infra/store/memstore"
	"github.com/webitel/im-forum-delivery/internal/domain/event"
)

func setupQueue(t *testing.T) (*Queue, *memstore.Store, *testclock.Clock) {
	t.Helper()
	clk := testclock.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := memstore.New(clk)
	return NewQueue(s, NewNotifier(), discardLogger(), WithQueueTTL(time.Minute)), s, clk
}

func TestDrainPreservesOrder(t *testing.T) {
	ctx := context.Background()
	q, _, _ := setupQueue(t)

	var sent []string
	for _, text := range []string{"one", "two", "three"} {
		ev := event.NewTypingEvent("r1", "alice", text, true)
		sent = append(sent, ev.ID)
		require.NoError(t, q.Enqueue(ctx, "c1", ev))
	}

	frames, err := q.DrainAll(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, frames, 3)
	for i, f := range frames {
		assert.Equal(t, sent[i], f.ID)
		assert.Equal(t, event.Typing, f.Type)
		assert.Equal(t, "r1", f.RoomID)
	}

	frames, err = q.DrainAll(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, frames)

	total, err := q.Enqueued(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestDrainKeepsFramesPushedAfterRead(t *testing.T) {
	ctx := context.Background()
	q, s, _ := setupQueue(t)

	require.NoError(t, q.Enqueue(ctx, "c1", event.NewConnectedEvent("c1")))

	// A frame pushed between the read and the trim must survive the trim.
	raw, err := s.LRange(ctx, keyQueue("c1"), 0, -1)
	require.NoError(t, err)
	late := event.NewMessageDeletedEvent("r1", "m1")
	require.NoError(t, q.Enqueue(ctx, "c1", late))
	require.NoError(t, s.LTrim(ctx, keyQueue("c1"), int64(len(raw)), -1))

	frames, err := q.DrainAll(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, late.ID, frames[0].ID)
}

func TestQueueExpiresWhenAbandoned(t *testing.T) {
	ctx := context.Background()
	q, _, clk := setupQueue(t)

	require.NoError(t, q.Enqueue(ctx, "c1", event.NewConnectedEvent("c1")))
	clk.Advance(2 * time.Minute)

	n, err := q.Len(ctx, "c1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEnqueueWakesSubscriber(t *testing.T) {
	ctx := context.Background()
	q, _, _ := setupQueue(t)

	wake, cancel := q.Subscribe("c1")
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, "c1", event.NewConnectedEvent("c1")))
	require.NoError(t, q.Enqueue(ctx, "c1", event.NewConnectedEvent("c1")))

	select {
	case <-wake:
	default:
		t.Fatal("expected a pending wake")
	}
	select {
	case <-wake:
		t.Fatal("wakes must coalesce")
	default:
	}
}

func TestNotifierCancelReleasesOnlyOwnChannel(t *testing.T) {
	n := NewNotifier()

	_, cancelOld := n.Subscribe("c1")
	wake, cancel := n.Subscribe("c1")
	cancelOld()
	assert.Equal(t, 1, n.Len())

	n.Notify("c1")
	select {
	case <-wake:
	default:
		t.Fatal("replacement subscription lost")
	}

	cancel()
	assert.Zero(t, n.Len())
	n.Notify("c1")
}
