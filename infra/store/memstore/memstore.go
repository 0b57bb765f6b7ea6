// Package memstore is an in-process implementation of store.Store with the
// same observable semantics as the redis driver, used by tests and by
// single-node deployments (store.driver=memory).
package memstore

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/webitel/im-forum-delivery/infra/store"
)

var _ store.Store = (*Store)(nil)

type kind int8

const (
	kindString kind = iota + 1
	kindSet
	kindList
)

type entry struct {
	kind      kind
	str       string
	set       map[string]struct{}
	list      []string
	expiresAt time.Time
}

// Store keeps all keys in a single map guarded by one mutex. Expiry is lazy:
// an expired key is dropped on the next access.
type Store struct {
	clock clock.Clock

	mu   sync.Mutex
	data map[string]*entry
}

func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Store{
		clock: clk,
		data:  make(map[string]*entry),
	}
}

// lookup returns the live entry for key; caller holds s.mu.
func (s *Store) lookup(key string) *entry {
	e, ok := s.data[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && !s.clock.Now().Before(e.expiresAt) {
		delete(s.data, key)
		return nil
	}
	return e
}

func (s *Store) typed(key string, k kind) (*entry, error) {
	e := s.lookup(key)
	if e == nil {
		return nil, nil
	}
	if e.kind != k {
		return nil, errors.NotValidf("operation against key %q holding the wrong kind of value", key)
	}
	return e, nil
}

func (s *Store) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.clock.Now().Add(ttl)
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.typed(key, kindString)
	if err != nil {
		return "", err
	}
	if e == nil {
		return "", errors.NotFoundf("key %q", key)
	}
	return e.str, nil
}

func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = &entry{kind: kindString, str: value, expiresAt: s.deadline(ttl)}
	return nil
}

func (s *Store) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.lookup(key); e != nil {
		e.expiresAt = s.deadline(ttl)
	}
	return nil
}

func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(key) != nil, nil
}

func (s *Store) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

func (s *Store) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.typed(key, kindString)
	if err != nil {
		return 0, err
	}
	if e == nil {
		e = &entry{kind: kindString, str: "0"}
		s.data[key] = e
	}
	n, err := strconv.ParseInt(e.str, 10, 64)
	if err != nil {
		return 0, errors.NotValidf("value of %q is not an integer", key)
	}
	n++
	e.str = strconv.FormatInt(n, 10)
	return n, nil
}

func (s *Store) SAdd(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.typed(key, kindSet)
	if err != nil {
		return err
	}
	if e == nil {
		e = &entry{kind: kindSet, set: make(map[string]struct{})}
		s.data[key] = e
	}
	for _, m := range members {
		e.set[m] = struct{}{}
	}
	return nil
}

func (s *Store) SRem(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.typed(key, kindSet)
	if err != nil || e == nil {
		return err
	}
	for _, m := range members {
		delete(e.set, m)
	}
	if len(e.set) == 0 {
		delete(s.data, key)
	}
	return nil
}

func (s *Store) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.typed(key, kindSet)
	if err != nil || e == nil {
		return nil, err
	}
	res := make([]string, 0, len(e.set))
	for m := range e.set {
		res = append(res, m)
	}
	return res, nil
}

func (s *Store) RPush(_ context.Context, key string, values ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.typed(key, kindList)
	if err != nil {
		return err
	}
	if e == nil {
		e = &entry{kind: kindList}
		s.data[key] = e
	}
	e.list = append(e.list, values...)
	return nil
}

// bounds converts redis-style inclusive indexes (negative counts from the
// tail) into a half-open slice range. ok is false for an empty range.
func bounds(start, stop int64, n int) (lo, hi int, ok bool) {
	size := int64(n)
	if start < 0 {
		start += size
	}
	if stop < 0 {
		stop += size
	}
	if start < 0 {
		start = 0
	}
	if stop >= size {
		stop = size - 1
	}
	if start > stop || start >= size {
		return 0, 0, false
	}
	return int(start), int(stop) + 1, true
}

func (s *Store) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.typed(key, kindList)
	if err != nil || e == nil {
		return nil, err
	}
	lo, hi, ok := bounds(start, stop, len(e.list))
	if !ok {
		return nil, nil
	}
	res := make([]string, hi-lo)
	copy(res, e.list[lo:hi])
	return res, nil
}

func (s *Store) LTrim(_ context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.typed(key, kindList)
	if err != nil || e == nil {
		return err
	}
	lo, hi, ok := bounds(start, stop, len(e.list))
	if !ok {
		delete(s.data, key)
		return nil
	}
	e.list = append([]string(nil), e.list[lo:hi]...)
	return nil
}

func (s *Store) LRem(_ context.Context, key string, count int64, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.typed(key, kindList)
	if err != nil || e == nil {
		return err
	}

	limit := count
	if limit < 0 {
		limit = -limit
	}
	removed := int64(0)
	keep := make([]bool, len(e.list))
	for i := range keep {
		keep[i] = true
	}

	visit := func(i int) {
		if (limit == 0 || removed < limit) && e.list[i] == value {
			keep[i] = false
			removed++
		}
	}
	if count < 0 {
		for i := len(e.list) - 1; i >= 0; i-- {
			visit(i)
		}
	} else {
		for i := range e.list {
			visit(i)
		}
	}

	next := e.list[:0:0]
	for i, v := range e.list {
		if keep[i] {
			next = append(next, v)
		}
	}
	e.list = next
	if len(e.list) == 0 {
		delete(s.data, key)
	}
	return nil
}

func (s *Store) LSet(_ context.Context, key string, index int64, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.typed(key, kindList)
	if err != nil {
		return err
	}
	if e == nil {
		return errors.NotFoundf("key %q", key)
	}
	if index < 0 {
		index += int64(len(e.list))
	}
	if index < 0 || index >= int64(len(e.list)) {
		return errors.NotValidf("index %d out of range for %q", index, key)
	}
	e.list[index] = value
	return nil
}

func (s *Store) LLen(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.typed(key, kindList)
	if err != nil || e == nil {
		return 0, err
	}
	return int64(len(e.list)), nil
}

func (s *Store) Ping(context.Context) error { return nil }
