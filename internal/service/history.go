package service

import (
	"context"
	"encoding/json"

	"github.com/juju/errors"

	"github.com/webitel/im-forum-delivery/infra/store"
	"github.com/webitel/im-forum-delivery/internal/domain/model"
)

// Historian keeps the bounded recent-message window of every forum so a
// client that missed a frame can refetch current state.
type Historian interface {
	Append(ctx context.Context, msg model.Message) error
	Edit(ctx context.Context, msg model.Message) error
	Remove(ctx context.Context, forumID, messageID string) error
	Recent(ctx context.Context, forumID string, limit int64) ([]model.Message, error)
}

var _ Historian = (*History)(nil)

type History struct {
	store store.Store
	limit int64
}

func NewHistory(s store.Store, limit int64) *History {
	if limit <= 0 {
		limit = 100
	}
	return &History{store: s, limit: limit}
}

func keyHistory(forumID string) string { return "forum:" + forumID + ":history" }

// Append pushes msg and trims the window to the newest limit entries.
func (h *History) Append(ctx context.Context, msg model.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Trace(err)
	}
	key := keyHistory(msg.ForumID)
	if err := h.store.RPush(ctx, key, string(data)); err != nil {
		return errors.Annotatef(err, "append to %s", msg.ForumID)
	}
	if err := h.store.LTrim(ctx, key, -h.limit, -1); err != nil {
		return errors.Annotatef(err, "trim %s", msg.ForumID)
	}
	return nil
}

// Edit replaces the stored copy of msg. Messages that already fell out of the
// window are ignored.
func (h *History) Edit(ctx context.Context, msg model.Message) error {
	idx, _, err := h.find(ctx, msg.ForumID, msg.ID)
	if err != nil || idx < 0 {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Trace(err)
	}
	if err := h.store.LSet(ctx, keyHistory(msg.ForumID), idx, string(data)); err != nil {
		if errors.Is(err, errors.NotFound) || errors.Is(err, errors.NotValid) {
			return nil // trimmed concurrently
		}
		return errors.Annotatef(err, "edit %s in %s", msg.ID, msg.ForumID)
	}
	return nil
}

func (h *History) Remove(ctx context.Context, forumID, messageID string) error {
	idx, raw, err := h.find(ctx, forumID, messageID)
	if err != nil || idx < 0 {
		return err
	}
	if err := h.store.LRem(ctx, keyHistory(forumID), 1, raw); err != nil {
		return errors.Annotatef(err, "remove %s from %s", messageID, forumID)
	}
	return nil
}

// Recent returns up to limit newest messages, oldest first. A non-positive
// limit returns the whole window.
func (h *History) Recent(ctx context.Context, forumID string, limit int64) ([]model.Message, error) {
	start := int64(0)
	if limit > 0 {
		start = -limit
	}
	raw, err := h.store.LRange(ctx, keyHistory(forumID), start, -1)
	if err != nil {
		return nil, errors.Annotatef(err, "history of %s", forumID)
	}
	msgs := make([]model.Message, 0, len(raw))
	for _, item := range raw {
		var m model.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (h *History) find(ctx context.Context, forumID, messageID string) (int64, string, error) {
	raw, err := h.store.LRange(ctx, keyHistory(forumID), 0, -1)
	if err != nil {
		return -1, "", errors.Annotatef(err, "history of %s", forumID)
	}
	for i := len(raw) - 1; i >= 0; i-- {
		var m model.Message
		if err := json.Unmarshal([]byte(raw[i]), &m); err == nil && m.ID == messageID {
			return int64(i), raw[i], nil
		}
	}
	return -1, "", nil
}
