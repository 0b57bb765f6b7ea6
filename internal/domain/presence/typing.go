package presence

import (
	"context"

	"github.com/juju/errors"
)

func keyTypingSet(forumID string) string { return "typing:" + forumID }

func keyTyping(forumID, userID string) string { return "typing:" + forumID + ":" + userID }

// SetTyping renews the indicator of userID in forumID for the typing TTL.
func (r *Resolver) SetTyping(ctx context.Context, forumID, userID, userName string) error {
	if forumID == "" || userID == "" {
		return errors.NotValidf("typing without forumId/userId")
	}
	if err := r.store.Set(ctx, keyTyping(forumID, userID), userName, r.typingTTL); err != nil {
		return errors.Annotatef(err, "set typing %s/%s", forumID, userID)
	}
	if err := r.store.SAdd(ctx, keyTypingSet(forumID), userID); err != nil {
		return errors.Annotatef(err, "index typing %s/%s", forumID, userID)
	}
	return nil
}

func (r *Resolver) ClearTyping(ctx context.Context, forumID, userID string) error {
	if err := r.store.Delete(ctx, keyTyping(forumID, userID)); err != nil {
		return errors.Annotatef(err, "clear typing %s/%s", forumID, userID)
	}
	if err := r.store.SRem(ctx, keyTypingSet(forumID), userID); err != nil {
		return errors.Annotatef(err, "unindex typing %s/%s", forumID, userID)
	}
	return nil
}

// Typing returns who is typing in forumID, keyed by user id. Members whose
// indicator already expired are pruned from the set.
func (r *Resolver) Typing(ctx context.Context, forumID string) (map[string]string, error) {
	members, err := r.store.SMembers(ctx, keyTypingSet(forumID))
	if err != nil {
		return nil, errors.Annotatef(err, "typing in %s", forumID)
	}

	res := make(map[string]string, len(members))
	var expired []string
	for _, uid := range members {
		name, err := r.store.Get(ctx, keyTyping(forumID, uid))
		if err != nil {
			if errors.Is(err, errors.NotFound) {
				expired = append(expired, uid)
				continue
			}
			return nil, errors.Annotatef(err, "typing %s/%s", forumID, uid)
		}
		res[uid] = name
	}

	if len(expired) > 0 {
		if err := r.store.SRem(ctx, keyTypingSet(forumID), expired...); err != nil {
			r.logger.Debug("[PRESENCE] prune typing failed", "forum_id", forumID, "err", err)
		}
	}
	return res, nil
}
