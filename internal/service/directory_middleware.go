package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/juju/errors"

	"github.com/webitel/im-forum-delivery/internal/domain/model"
)

// DirectoryMiddleware implements [DECORATOR_PATTERN] to add observability
// to directory lookups without touching the lookup logic.
type DirectoryMiddleware struct {
	Next   Directorer
	Logger *slog.Logger
}

// NewDirectoryMiddleware creates a new logging decorator for the Directorer.
func NewDirectoryMiddleware(next Directorer, logger *slog.Logger) Directorer {
	return &DirectoryMiddleware{
		Next:   next,
		Logger: logger,
	}
}

func (m *DirectoryMiddleware) User(ctx context.Context, userID string) (model.User, error) {
	start := time.Now()

	u, err := m.Next.User(ctx, userID)
	if err != nil && !errors.Is(err, errors.NotFound) {
		m.Logger.Warn("USER_LOOKUP_FAILED",
			"user_id", userID,
			"err", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return u, err
}

// Users wraps the concurrent lookup with execution timing and outcome logging.
func (m *DirectoryMiddleware) Users(ctx context.Context, userIDs ...string) (map[string]model.User, error) {
	start := time.Now()

	res, err := m.Next.Users(ctx, userIDs...)

	duration := time.Since(start)
	if err != nil {
		m.Logger.Error("USER_LOOKUP_BATCH_FAILED",
			"err", err,
			"requested", len(userIDs),
			"duration_ms", duration.Milliseconds(),
		)
	} else {
		m.Logger.Debug("USER_LOOKUP_BATCH_COMPLETED",
			"requested", len(userIDs),
			"resolved", len(res),
			"duration_ms", duration.Milliseconds(),
		)
	}
	return res, err
}

func (m *DirectoryMiddleware) Forum(ctx context.Context, forumID string) (model.Forum, error) {
	f, err := m.Next.Forum(ctx, forumID)
	if err != nil && !errors.Is(err, errors.NotFound) {
		m.Logger.Warn("FORUM_LOOKUP_FAILED", "forum_id", forumID, "err", err)
	}
	return f, err
}

func (m *DirectoryMiddleware) Participants(ctx context.Context, forumID string) ([]string, error) {
	ids, err := m.Next.Participants(ctx, forumID)
	if err != nil {
		m.Logger.Warn("PARTICIPANTS_LOOKUP_FAILED", "forum_id", forumID, "err", err)
	}
	return ids, err
}

func (m *DirectoryMiddleware) UserForums(ctx context.Context, userID string) ([]string, error) {
	ids, err := m.Next.UserForums(ctx, userID)
	if err != nil {
		m.Logger.Warn("USER_FORUMS_LOOKUP_FAILED", "user_id", userID, "err", err)
	}
	return ids, err
}

func (m *DirectoryMiddleware) InvalidateUser(userID string) {
	m.Next.InvalidateUser(userID)
	m.Logger.Debug("USER_PROFILE_INVALIDATED", "user_id", userID)
}
