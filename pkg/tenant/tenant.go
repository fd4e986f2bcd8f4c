// Package tenant implements the Tenant Manager: a two-layer cache in
// front of per-guild configuration, with singleflight-guarded miss
// handling, atomic default creation and pub/sub-driven invalidation.
package tenant

import (
	"context"
	"time"
)

// Tier is a subscription level; it gates rate limits and feature flags.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// RateLimit describes one action's fixed-window budget. Max of -1 means
// unlimited.
type RateLimit struct {
	WindowMS int64 `json:"window_ms"`
	Max      int64 `json:"max"`
}

// Config is one guild's tenant configuration, persisted at
// tenant:config:<guild_id> and cached in both Tenant Manager layers.
type Config struct {
	GuildID     string               `json:"guild_id"`
	Tier        Tier                 `json:"tier"`
	RateLimits  map[string]RateLimit `json:"rate_limits"`
	Features    map[string]bool      `json:"features"`
	// Disabled suspends the guild: interactions get a user-visible error
	// instead of being dispatched, and non-interaction events are dropped.
	Disabled  bool      `json:"disabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// tierDefaults is the authoritative tier table.
var tierDefaults = map[Tier]Config{
	TierFree: {
		Tier: TierFree,
		RateLimits: map[string]RateLimit{
			"command":           {WindowMS: time.Minute.Milliseconds(), Max: 10},
			"eligibility_check": {WindowMS: time.Hour.Milliseconds(), Max: 100},
		},
		Features: map[string]bool{"advancedAnalytics": false, "unlimitedCommands": false},
	},
	TierPro: {
		Tier: TierPro,
		RateLimits: map[string]RateLimit{
			"command":           {WindowMS: time.Minute.Milliseconds(), Max: 100},
			"eligibility_check": {WindowMS: time.Hour.Milliseconds(), Max: 1000},
		},
		Features: map[string]bool{"advancedAnalytics": true, "unlimitedCommands": false},
	},
	TierEnterprise: {
		Tier: TierEnterprise,
		RateLimits: map[string]RateLimit{
			"command":           {WindowMS: time.Minute.Milliseconds(), Max: -1},
			"eligibility_check": {WindowMS: time.Hour.Milliseconds(), Max: -1},
		},
		Features: map[string]bool{"advancedAnalytics": true, "unlimitedCommands": true},
	},
}

// DefaultConfig builds the free-tier default created on first sight of a
// guild (§6 "Tenant default").
func DefaultConfig(guildID string) Config {
	cfg := tierDefaults[TierFree]
	cfg.GuildID = guildID
	cfg.CreatedAt = time.Now()
	cfg.UpdatedAt = time.Now()
	return cfg
}

// TierConfig returns the rate-limit/feature table for tier with GuildID set
// to guildID and UpdatedAt stamped now; CreatedAt is left zero.
func TierConfig(guildID string, tier Tier) Config {
	cfg, ok := tierDefaults[tier]
	if !ok {
		cfg = tierDefaults[TierFree]
	}
	cfg.GuildID = guildID
	cfg.UpdatedAt = time.Now()
	return cfg
}

// Context is the resolved tenant context a Dispatcher attaches to a
// handler invocation.
type Context struct {
	GuildID  string
	UserID   string
	Tier     Tier
	Disabled bool
	Config   Config
}

// Manager resolves, caches and invalidates tenant configuration.
type Manager interface {
	// GetContext resolves the tenant config for guildID, creating a free
	// default on first sight (atomically, at most once under concurrent
	// misses).
	GetContext(ctx context.Context, guildID, userID string) (Context, error)

	// UpgradeTier atomically updates a guild's tier at L2 and publishes a
	// tenant:reload invalidation for that guild.
	UpgradeTier(ctx context.Context, guildID string, tier Tier) error

	// Close stops the invalidation subscriber and releases resources.
	Close() error
}
