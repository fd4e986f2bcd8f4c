// Package statestore defines the distributed key-value store that Tenant
// Manager, Rate Limiter and the Consumer's idempotency check all share:
// cooldowns, interaction sessions, rate buckets, tenant config and
// idempotency markers live here, plus the tenant:reload invalidation
// channel. Core interfaces are dependency-free; adapters live in their own
// sub-packages (pkg/statestore/adapters/{driver}), matching the adapter
// pattern used throughout this module.
package statestore

import (
	"context"
	"time"
)

// Store is the atomic, TTL-aware key-value store backing all cross-event
// state (§3: Tenant Configuration, Interaction Session, Cooldown, Rate
// Bucket, Idempotency Marker).
type Store interface {
	// Get retrieves a value by key and unmarshals into dest.
	// Returns a errors.CodeNotFound error if the key does not exist.
	Get(ctx context.Context, key string, dest interface{}) error

	// Set stores a value with a TTL. A TTL of 0 means no expiration.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a key. Returns nil if the key does not exist.
	Delete(ctx context.Context, key string) error

	// SetNX stores value only if key is absent, returning whether this call
	// created it. Used for atomic tenant-default creation and idempotency
	// markers.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	// IncrWindow atomically increments key and, only on the increment that
	// creates the key (the first increment of a window), sets its TTL. This
	// is the fixed-window rate-bucket primitive of §4.6.
	IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Publish broadcasts message on channel (used for tenant:reload).
	Publish(ctx context.Context, channel string, message string) error

	// Subscribe returns a channel of messages published to channel, plus a
	// close function to stop the subscription. The returned channel is
	// closed once the subscription is torn down.
	Subscribe(ctx context.Context, channel string) (<-chan string, func() error, error)

	// Close releases all resources.
	Close() error
}

// Config holds configuration shared across Store adapters.
type Config struct {
	// Driver selects the backend: "memory" or "redis".
	Driver string `env:"STATESTORE_DRIVER" env-default:"memory"`

	// URL is the backend connection string (e.g. redis://host:6379/0).
	URL string `env:"REDIS_URL"`
}
