// Package memory is an in-process statestore.Store, used in tests and local
// single-instance runs where no Redis is available.
package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/arrakis-platform/gateway-proxy/pkg/errors"
)

type item struct {
	value     []byte
	expiresAt time.Time
}

func (i item) expired() bool {
	return !i.expiresAt.IsZero() && time.Now().After(i.expiresAt)
}

type subscriber struct {
	ch chan string
}

// Store is a mutex-guarded map implementation of statestore.Store.
type Store struct {
	mu    sync.Mutex
	items map[string]item
	subs  map[string][]*subscriber
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		items: make(map[string]item),
		subs:  make(map[string][]*subscriber),
	}
}

func (s *Store) Get(ctx context.Context, key string, dest interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[key]
	if !ok || it.expired() {
		return errors.NotFound("key not found: "+key, nil)
	}

	return json.Unmarshal(it.value, dest)
}

func (s *Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Internal("failed to marshal value", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = item{value: data, expiresAt: expiryFor(ttl)}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

func (s *Store) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, errors.Internal("failed to marshal value", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if it, ok := s.items[key]; ok && !it.expired() {
		return false, nil
	}

	s.items[key] = item{value: data, expiresAt: expiryFor(ttl)}
	return true, nil
}

func (s *Store) IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[key]
	var count int64
	if ok && !it.expired() {
		_ = json.Unmarshal(it.value, &count)
	} else {
		ok = false
	}
	count++

	data, err := json.Marshal(count)
	if err != nil {
		return 0, errors.Internal("failed to marshal counter", err)
	}

	expiresAt := it.expiresAt
	if !ok {
		expiresAt = expiryFor(ttl)
	}

	s.items[key] = item{value: data, expiresAt: expiresAt}
	return count, nil
}

func (s *Store) Publish(ctx context.Context, channel string, message string) error {
	s.mu.Lock()
	subs := append([]*subscriber(nil), s.subs[channel]...)
	s.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- message:
		default:
		}
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, channel string) (<-chan string, func() error, error) {
	sub := &subscriber{ch: make(chan string, 16)}

	s.mu.Lock()
	s.subs[channel] = append(s.subs[channel], sub)
	s.mu.Unlock()

	closeFn := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		subs := s.subs[channel]
		for i, existing := range subs {
			if existing == sub {
				s.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(sub.ch)
		return nil
	}

	return sub.ch, closeFn, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, subs := range s.subs {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	s.items = make(map[string]item)
	s.subs = make(map[string][]*subscriber)
	return nil
}

func expiryFor(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}
