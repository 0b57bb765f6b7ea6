package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/juju/errors"
	"github.com/sony/gobreaker"
)

var _ Store = (*Breaker)(nil)

// BreakerSettings configures the circuit in front of the store.
type BreakerSettings struct {
	Name                string
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// Breaker decorates a Store with a circuit breaker. Only transient failures
// count against the circuit; missing keys and caller mistakes do not.
// While the circuit is open calls fail fast with ErrUnavailable.
type Breaker struct {
	next Store
	cb   *gobreaker.CircuitBreaker
}

func NewBreaker(next Store, s BreakerSettings, logger *slog.Logger) *Breaker {
	threshold := s.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	return &Breaker{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        s.Name,
			MaxRequests: s.MaxRequests,
			Interval:    s.Interval,
			Timeout:     s.Timeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !IsUnavailable(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				if logger != nil {
					logger.Warn("STORE_BREAKER_STATE_CHANGED",
						"breaker", name,
						"from", from.String(),
						"to", to.String(),
					)
				}
			},
		}),
	}
}

// State exposes the circuit state for health reporting.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

func call[T any](b *Breaker, fn func() (T, error)) (T, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return zero, err
	}
	return res.(T), nil
}

func exec(b *Breaker, fn func() error) error {
	_, err := call(b, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

func (b *Breaker) Get(ctx context.Context, key string) (string, error) {
	return call(b, func() (string, error) { return b.next.Get(ctx, key) })
}

func (b *Breaker) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return exec(b, func() error { return b.next.Set(ctx, key, value, ttl) })
}

func (b *Breaker) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return exec(b, func() error { return b.next.Expire(ctx, key, ttl) })
}

func (b *Breaker) Exists(ctx context.Context, key string) (bool, error) {
	return call(b, func() (bool, error) { return b.next.Exists(ctx, key) })
}

func (b *Breaker) Delete(ctx context.Context, keys ...string) error {
	return exec(b, func() error { return b.next.Delete(ctx, keys...) })
}

func (b *Breaker) Incr(ctx context.Context, key string) (int64, error) {
	return call(b, func() (int64, error) { return b.next.Incr(ctx, key) })
}

func (b *Breaker) SAdd(ctx context.Context, key string, members ...string) error {
	return exec(b, func() error { return b.next.SAdd(ctx, key, members...) })
}

func (b *Breaker) SRem(ctx context.Context, key string, members ...string) error {
	return exec(b, func() error { return b.next.SRem(ctx, key, members...) })
}

func (b *Breaker) SMembers(ctx context.Context, key string) ([]string, error) {
	return call(b, func() ([]string, error) { return b.next.SMembers(ctx, key) })
}

func (b *Breaker) RPush(ctx context.Context, key string, values ...string) error {
	return exec(b, func() error { return b.next.RPush(ctx, key, values...) })
}

func (b *Breaker) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return call(b, func() ([]string, error) { return b.next.LRange(ctx, key, start, stop) })
}

func (b *Breaker) LTrim(ctx context.Context, key string, start, stop int64) error {
	return exec(b, func() error { return b.next.LTrim(ctx, key, start, stop) })
}

func (b *Breaker) LRem(ctx context.Context, key string, count int64, value string) error {
	return exec(b, func() error { return b.next.LRem(ctx, key, count, value) })
}

func (b *Breaker) LSet(ctx context.Context, key string, index int64, value string) error {
	return exec(b, func() error { return b.next.LSet(ctx, key, index, value) })
}

func (b *Breaker) LLen(ctx context.Context, key string) (int64, error) {
	return call(b, func() (int64, error) { return b.next.LLen(ctx, key) })
}

func (b *Breaker) Ping(ctx context.Context) error {
	return exec(b, func() error { return b.next.Ping(ctx) })
}
