// Package redis adapts github.com/redis/go-redis/v9 to statestore.Store.
package redis

import (
	"context"
	"encoding/json"

	"time"

	"github.com/arrakis-platform/gateway-proxy/pkg/errors"
	"github.com/arrakis-platform/gateway-proxy/pkg/statestore"
	"github.com/redis/go-redis/v9"
)

// Store is a Redis-backed statestore.Store.
type Store struct {
	client *redis.Client
}

// New dials Redis from a URL (redis://[:password@]host:port/db).
func New(cfg statestore.Config) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.InvalidArgument("invalid REDIS_URL", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, errors.Unavailable("failed to connect to redis", err)
	}

	return &Store{client: client}, nil
}

func (s *Store) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return errors.NotFound("key not found: "+key, nil)
	}
	if err != nil {
		return errors.Unavailable("state store get failed", err)
	}

	return json.Unmarshal(val, dest)
}

func (s *Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Internal("failed to marshal value", err)
	}

	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return errors.Unavailable("state store set failed", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return errors.Unavailable("state store delete failed", err)
	}
	return nil
}

func (s *Store) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, errors.Internal("failed to marshal value", err)
	}

	created, err := s.client.SetNX(ctx, key, data, ttl).Result()
	if err != nil {
		return false, errors.Unavailable("state store setnx failed", err)
	}
	return created, nil
}

// incrWindowScript atomically increments key and sets its TTL only on the
// increment that creates it, so a window's expiry is fixed at its first use.
var incrWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

func (s *Store) IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	result, err := incrWindowScript.Run(ctx, s.client, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, errors.Unavailable("state store incr failed", err)
	}
	return result, nil
}

func (s *Store) Publish(ctx context.Context, channel string, message string) error {
	if err := s.client.Publish(ctx, channel, message).Err(); err != nil {
		return errors.Unavailable("state store publish failed", err)
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, channel string) (<-chan string, func() error, error) {
	pubsub := s.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, nil, errors.Unavailable("state store subscribe failed", err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- msg.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, pubsub.Close, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
