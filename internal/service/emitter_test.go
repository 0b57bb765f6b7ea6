package service

import (
	"context"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/im-forum-delivery/internal/domain/event"
	"github.com/webitel/im-forum-delivery/internal/domain/model"
)

func TestEmitMessageUpdatesHistoryAndTyping(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testSessionConfig())
	h.seedForum(t, "r1", "alice", "bob")
	c := h.connect(t, "alice")

	require.NoError(t, h.presence.SetTyping(ctx, "r1", "bob", "Bob"))

	msg := model.Message{ID: "m1", ForumID: "r1", UserID: "bob", UserName: "Bob", Text: "hi"}
	report, err := h.emitter.Emit(ctx, event.NewMessageEvent(msg))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Delivered)

	typing, err := h.presence.Typing(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, typing, "sending a message stops typing")

	recent, err := h.history.Recent(ctx, "r1", 0)
	require.NoError(t, err)
	assert.Equal(t, []model.Message{msg}, recent)

	msg.Text = "hi, edited"
	_, err = h.emitter.Emit(ctx, event.NewMessageEditedEvent(msg))
	require.NoError(t, err)
	recent, err = h.history.Recent(ctx, "r1", 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "hi, edited", recent[0].Text)
	assert.True(t, recent[0].Edited)

	_, err = h.emitter.Emit(ctx, event.NewMessageDeletedEvent("r1", "m1"))
	require.NoError(t, err)
	recent, err = h.history.Recent(ctx, "r1", 0)
	require.NoError(t, err)
	assert.Empty(t, recent)

	frames := h.queued(t, c.ID)
	require.Len(t, frames, 3)
	assert.Equal(t, event.MessageCreated, frames[0].Type)
	assert.Equal(t, event.MessageEdited, frames[1].Type)
	assert.Equal(t, event.MessageDeleted, frames[2].Type)
}

func TestEmitForumCreatedReachesEveryone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testSessionConfig())
	a := h.connect(t, "alice")
	b := h.connect(t, "bob")

	_, err := h.emitter.Emit(ctx, event.NewForumCreatedEvent(model.Forum{ID: "r9", Name: "new"}))
	require.NoError(t, err)
	assert.Len(t, h.queued(t, a.ID), 1)
	assert.Len(t, h.queued(t, b.ID), 1)
}

func TestEmitRejectsServerKinds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testSessionConfig())

	_, err := h.emitter.Emit(ctx, event.NewConnectedEvent("c1"))
	assert.True(t, errors.Is(err, errors.NotValid))

	_, err = h.emitter.EmitToUser(ctx, "alice", event.NewTypingUpdateEvent("r1", nil))
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestEmitToUser(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testSessionConfig())
	a := h.connect(t, "alice")
	b := h.connect(t, "bob")

	_, err := h.emitter.EmitToUser(ctx, "bob", event.NewUserJoinedEvent("r1", "bob", "Bob", []string{"bob"}))
	require.NoError(t, err)
	assert.Empty(t, h.queued(t, a.ID))
	assert.Len(t, h.queued(t, b.ID), 1)
}

func TestTypingValidatesCollaborators(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testSessionConfig())
	h.seedUser(t, "alice", "Alice")
	h.seedForum(t, "r1", "alice")

	_, err := h.emitter.Typing(ctx, "nope", "alice", true)
	assert.True(t, errors.Is(err, errors.NotFound))

	_, err = h.emitter.Typing(ctx, "r1", "ghost", true)
	assert.True(t, errors.Is(err, errors.NotFound))

	_, err = h.emitter.Typing(ctx, "r1", "alice", true)
	require.NoError(t, err)
	typing, err := h.presence.Typing(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"alice": "Alice"}, typing)

	_, err = h.emitter.Typing(ctx, "r1", "alice", false)
	require.NoError(t, err)
	typing, err = h.presence.Typing(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, typing)
}
