package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/im-forum-delivery/internal/domain/model"
)

func TestHistoryWindowIsBounded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testSessionConfig())

	for i := 1; i <= 5; i++ {
		require.NoError(t, h.history.Append(ctx, model.Message{ID: fmt.Sprintf("m%d", i), ForumID: "r1"}))
	}

	recent, err := h.history.Recent(ctx, "r1", 0)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "m3", recent[0].ID)
	assert.Equal(t, "m5", recent[2].ID)

	last, err := h.history.Recent(ctx, "r1", 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "m5", last[0].ID)
}

func TestHistoryIgnoresMessagesOutsideWindow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testSessionConfig())

	require.NoError(t, h.history.Append(ctx, model.Message{ID: "m1", ForumID: "r1"}))
	assert.NoError(t, h.history.Edit(ctx, model.Message{ID: "gone", ForumID: "r1"}))
	assert.NoError(t, h.history.Remove(ctx, "r1", "gone"))

	recent, err := h.history.Recent(ctx, "r1", 0)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestDirectoryCachesProfiles(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testSessionConfig())
	h.seedUser(t, "alice", "Alice")

	u, err := h.dir.User(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.DisplayName())

	h.seedUser(t, "alice", "Alice Cooper")
	u, err = h.dir.User(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.Name, "served from cache")

	h.dir.InvalidateUser("alice")
	users, err := h.dir.Users(ctx, "alice", "ghost")
	require.NoError(t, err)
	assert.Equal(t, map[string]model.User{"alice": {ID: "alice", Name: "Alice Cooper"}}, users)
}
