// Package redisstore implements store.Store on top of Redis.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"

	"github.com/webitel/im-forum-delivery/infra/store"
)

var _ store.Store = (*Store)(nil)

// Options configures the redis client used by New.
type Options struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewClient builds a pooled client; the connection is checked lazily.
func NewClient(o Options) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         o.Addr,
		Password:     o.Password,
		DB:           o.DB,
		PoolSize:     o.PoolSize,
		MinIdleConns: 5,
		DialTimeout:  o.DialTimeout,
		ReadTimeout:  o.ReadTimeout,
		WriteTimeout: o.WriteTimeout,
	})
}

// Store prefixes every key so several deployments can share one database.
type Store struct {
	client redis.UniversalClient
	prefix string
}

func New(client redis.UniversalClient, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(k string) string { return s.prefix + k }

func (s *Store) keys(ks []string) []string {
	res := make([]string, len(ks))
	for i, k := range ks {
		res[i] = s.key(k)
	}
	return res
}

// wrap classifies redis failures: redis.Nil is handled by callers, WRONGTYPE
// style replies are caller mistakes, everything else is treated as transient.
func wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var rerr redis.Error
	if errors.As(err, &rerr) {
		return errors.NewNotValid(err, fmt.Sprintf("%s %s", op, key))
	}
	return fmt.Errorf("%w: %s %s: %w", store.ErrUnavailable, op, key, err)
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", errors.NotFoundf("key %q", key)
	}
	return v, wrap("get", key, err)
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return wrap("set", key, s.client.Set(ctx, s.key(key), value, ttl).Err())
}

func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return wrap("expire", key, s.client.Expire(ctx, s.key(key), ttl).Err())
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	return n > 0, wrap("exists", key, err)
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return wrap("del", keys[0], s.client.Del(ctx, s.keys(keys)...).Err())
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, s.key(key)).Result()
	return n, wrap("incr", key, err)
}

func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	return wrap("sadd", key, s.client.SAdd(ctx, s.key(key), toAny(members)...).Err())
}

func (s *Store) SRem(ctx context.Context, key string, members ...string) error {
	return wrap("srem", key, s.client.SRem(ctx, s.key(key), toAny(members)...).Err())
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	res, err := s.client.SMembers(ctx, s.key(key)).Result()
	return res, wrap("smembers", key, err)
}

func (s *Store) RPush(ctx context.Context, key string, values ...string) error {
	return wrap("rpush", key, s.client.RPush(ctx, s.key(key), toAny(values)...).Err())
}

func (s *Store) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	res, err := s.client.LRange(ctx, s.key(key), start, stop).Result()
	return res, wrap("lrange", key, err)
}

func (s *Store) LTrim(ctx context.Context, key string, start, stop int64) error {
	return wrap("ltrim", key, s.client.LTrim(ctx, s.key(key), start, stop).Err())
}

func (s *Store) LRem(ctx context.Context, key string, count int64, value string) error {
	return wrap("lrem", key, s.client.LRem(ctx, s.key(key), count, value).Err())
}

func (s *Store) LSet(ctx context.Context, key string, index int64, value string) error {
	err := s.client.LSet(ctx, s.key(key), index, value).Err()
	if err != nil && err.Error() == "ERR no such key" {
		return errors.NotFoundf("key %q", key)
	}
	return wrap("lset", key, err)
}

func (s *Store) LLen(ctx context.Context, key string) (int64, error) {
	n, err := s.client.LLen(ctx, s.key(key)).Result()
	return n, wrap("llen", key, err)
}

func (s *Store) Ping(ctx context.Context) error {
	return wrap("ping", "", s.client.Ping(ctx).Err())
}

func toAny(ss []string) []any {
	res := make([]any, len(ss))
	for i, s := range ss {
		res[i] = s
	}
	return res
}
