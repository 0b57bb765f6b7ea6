package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/juju/errors"
	"golang.org/x/sync/errgroup"

	"github.com/webitel/im-forum-delivery/infra/store"
	"github.com/webitel/im-forum-delivery/internal/domain/model"
)

// Directorer defines read access to the users and forums written by the
// CRUD layer. Delivery never mutates them.
type Directorer interface {
	// User returns the profile of userID or a NotFound error.
	User(ctx context.Context, userID string) (model.User, error)
	// Users resolves several profiles concurrently; unknown ids are skipped.
	Users(ctx context.Context, userIDs ...string) (map[string]model.User, error)
	Forum(ctx context.Context, forumID string) (model.Forum, error)
	Participants(ctx context.Context, forumID string) ([]string, error)
	UserForums(ctx context.Context, userID string) ([]string, error)
	// InvalidateUser drops the cached profile after a membership change.
	InvalidateUser(userID string)
}

var _ Directorer = (*Directory)(nil)

type Directory struct {
	store store.Store
	cache *expirable.LRU[string, model.User]
}

// NewDirectory provides a thread-safe directory with an expirable LRU cache
// of "hot" user profiles.
func NewDirectory(s store.Store, size int, ttl time.Duration) *Directory {
	if size <= 0 {
		size = 10000
	}
	return &Directory{
		store: s,
		cache: expirable.NewLRU[string, model.User](size, nil, ttl),
	}
}

// User orchestrates the cache-aside lookup.
func (d *Directory) User(ctx context.Context, userID string) (model.User, error) {
	if userID == "" {
		return model.User{}, errors.NotValidf("empty user id")
	}
	if cached, ok := d.cache.Get(userID); ok {
		return cached, nil
	}

	var u model.User
	if err := d.readJSON(ctx, "user:"+userID, &u); err != nil {
		if errors.Is(err, errors.NotFound) {
			return model.User{}, errors.NotFoundf("user %s", userID)
		}
		return model.User{}, err
	}
	if u.ID == "" {
		u.ID = userID
	}
	d.cache.Add(userID, u)
	return u, nil
}

// Users executes the lookups in parallel; the first transient failure wins.
func (d *Directory) Users(ctx context.Context, userIDs ...string) (map[string]model.User, error) {
	resolved := make([]model.User, len(userIDs))
	found := make([]bool, len(userIDs))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, id := range userIDs {
		g.Go(func() error {
			u, err := d.User(gCtx, id)
			if err != nil {
				if errors.Is(err, errors.NotFound) || errors.Is(err, errors.NotValid) {
					return nil
				}
				return err
			}
			resolved[i], found[i] = u, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Annotate(err, "resolve users")
	}

	res := make(map[string]model.User, len(userIDs))
	for i, u := range resolved {
		if found[i] {
			res[u.ID] = u
		}
	}
	return res, nil
}

func (d *Directory) Forum(ctx context.Context, forumID string) (model.Forum, error) {
	var f model.Forum
	if err := d.readJSON(ctx, "forum:"+forumID, &f); err != nil {
		if errors.Is(err, errors.NotFound) {
			return model.Forum{}, errors.NotFoundf("forum %s", forumID)
		}
		return model.Forum{}, err
	}
	return f, nil
}

func (d *Directory) Participants(ctx context.Context, forumID string) ([]string, error) {
	ids, err := d.store.SMembers(ctx, "forum:"+forumID+":participants")
	if err != nil {
		return nil, errors.Annotatef(err, "participants of %s", forumID)
	}
	return ids, nil
}

func (d *Directory) UserForums(ctx context.Context, userID string) ([]string, error) {
	ids, err := d.store.SMembers(ctx, "user:"+userID+":forums")
	if err != nil {
		return nil, errors.Annotatef(err, "forums of %s", userID)
	}
	return ids, nil
}

func (d *Directory) InvalidateUser(userID string) {
	d.cache.Remove(userID)
}

func (d *Directory) readJSON(ctx context.Context, key string, dst any) error {
	raw, err := d.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return errors.NewNotValid(err, key)
	}
	return nil
}
