// Package store defines the shared state substrate of the delivery service.
//
// Every piece of cross-session state (live connections, queues, presence,
// typing indicators) is a key or key family behind this interface. There is
// no cross-key transaction: callers compose single-key atomic primitives and
// treat partial application as recoverable.
package store

import (
	"context"
	"time"

	"github.com/juju/errors"
)

// ErrUnavailable marks transient failures of the backing store (timeouts,
// dropped connections, open circuit). Callers may retry.
const ErrUnavailable = errors.ConstError("store unavailable")

// Store is the set of primitives the fan-out core relies on.
//
// Missing keys are reported by Get as errors.NotFound; every other read of a
// missing key returns the zero value. A ttl of zero means no expiry.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	RPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRem(ctx context.Context, key string, count int64, value string) error
	LSet(ctx context.Context, key string, index int64, value string) error
	LLen(ctx context.Context, key string) (int64, error)

	Ping(ctx context.Context) error
}

// IsUnavailable reports whether err is a transient store failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
