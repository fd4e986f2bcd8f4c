package tenant

import (
	"context"
	"time"

	"github.com/arrakis-platform/gateway-proxy/pkg/concurrency"
	"github.com/arrakis-platform/gateway-proxy/pkg/concurrency/distlock"
	"github.com/arrakis-platform/gateway-proxy/pkg/datastructures/lru"
	"github.com/arrakis-platform/gateway-proxy/pkg/errors"
	"github.com/arrakis-platform/gateway-proxy/pkg/logger"
	"github.com/arrakis-platform/gateway-proxy/pkg/statestore"
	"golang.org/x/sync/singleflight"
)

const upgradeLockTTL = 5 * time.Second

const reloadChannel = "tenant:reload"
const reloadGlobal = "*"

// ManagerConfig controls L1 sizing and TTL.
type ManagerConfig struct {
	L1Capacity int           `env:"TENANT_L1_CAPACITY" env-default:"10000"`
	L1TTL      time.Duration `env:"TENANT_L1_TTL" env-default:"60s"`
}

type l1Entry struct {
	config    Config
	expiresAt time.Time
}

// CacheManager is the default Manager: an LRU+TTL L1 in front of a State
// Store L2, with singleflight-collapsed misses and pub/sub invalidation.
type CacheManager struct {
	cfg   ManagerConfig
	store statestore.Store

	l1   *lru.Cache[string, l1Entry]
	mu   *concurrency.SmartRWMutex
	sf   singleflight.Group

	locker distlock.Locker

	unsubscribe func() error
	cancel      context.CancelFunc
}

// WithLocker arms UpgradeTier with cross-process mutual exclusion: two
// control-plane replicas upgrading the same guild concurrently will
// serialize instead of racing the L2 write and the invalidation publish.
func (m *CacheManager) WithLocker(locker distlock.Locker) *CacheManager {
	m.locker = locker
	return m
}

// NewManager builds a Manager and starts its tenant:reload subscriber.
func NewManager(ctx context.Context, cfg ManagerConfig, store statestore.Store) (*CacheManager, error) {
	if cfg.L1Capacity <= 0 {
		cfg.L1Capacity = 10000
	}
	if cfg.L1TTL <= 0 {
		cfg.L1TTL = 60 * time.Second
	}

	subCtx, cancel := context.WithCancel(ctx)

	m := &CacheManager{
		cfg:    cfg,
		store:  store,
		l1:     lru.New[string, l1Entry](cfg.L1Capacity),
		mu:     concurrency.NewSmartRWMutex(concurrency.MutexConfig{Name: "tenant-l1"}),
		cancel: cancel,
	}

	msgs, closeFn, err := store.Subscribe(subCtx, reloadChannel)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "subscribe to tenant:reload")
	}
	m.unsubscribe = closeFn

	go m.watchInvalidations(subCtx, msgs)

	return m, nil
}

// watchInvalidations runs on its own goroutine so invalidation never blocks
// a caller of GetContext.
func (m *CacheManager) watchInvalidations(ctx context.Context, msgs <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case guildID, ok := <-msgs:
			if !ok {
				return
			}
			if guildID == reloadGlobal {
				m.l1.Clear()
				continue
			}
			m.evictL1(guildID)
		}
	}
}

func l1Key(guildID string) string { return "tenant:config:" + guildID }

func (m *CacheManager) evictL1(guildID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// lru.Cache has no Delete; overwrite with an already-expired entry so
	// the next Get treats it as a miss.
	m.l1.Set(l1Key(guildID), l1Entry{expiresAt: time.Time{}.Add(-time.Second)})
}

func (m *CacheManager) GetContext(ctx context.Context, guildID, userID string) (Context, error) {
	if cfg, ok := m.getL1(guildID); ok {
		return Context{GuildID: guildID, UserID: userID, Tier: cfg.Tier, Disabled: cfg.Disabled, Config: cfg}, nil
	}

	cfg, err := m.loadOrCreate(ctx, guildID)
	if err != nil {
		return Context{}, err
	}

	return Context{GuildID: guildID, UserID: userID, Tier: cfg.Tier, Disabled: cfg.Disabled, Config: cfg}, nil
}

func (m *CacheManager) getL1(guildID string) (Config, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.l1.Get(l1Key(guildID))
	if !ok || time.Now().After(entry.expiresAt) {
		return Config{}, false
	}
	return entry.config, true
}

func (m *CacheManager) setL1(guildID string, cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.l1.Set(l1Key(guildID), l1Entry{config: cfg, expiresAt: time.Now().Add(m.cfg.L1TTL)})
}

// loadOrCreate reads L2, creating the free-tier default atomically on miss.
// Concurrent misses for the same guild collapse into one create via
// singleflight, satisfying §4.5's "at most one create" invariant.
func (m *CacheManager) loadOrCreate(ctx context.Context, guildID string) (Config, error) {
	result, err, _ := m.sf.Do(guildID, func() (interface{}, error) {
		var cfg Config
		key := l1Key(guildID)

		err := m.store.Get(ctx, key, &cfg)
		if err == nil {
			return cfg, nil
		}

		var appErr *errors.AppError
		if !errors.As(err, &appErr) || appErr.Code != errors.CodeNotFound {
			return Config{}, err
		}

		defaultCfg := DefaultConfig(guildID)
		created, setErr := m.store.SetNX(ctx, key, defaultCfg, 0)
		if setErr != nil {
			return Config{}, setErr
		}
		if created {
			return defaultCfg, nil
		}

		// Lost the race to another process; re-read the winner's value.
		if err := m.store.Get(ctx, key, &cfg); err != nil {
			return Config{}, err
		}
		return cfg, nil
	})
	if err != nil {
		return Config{}, err
	}

	cfg := result.(Config)
	m.setL1(guildID, cfg)
	return cfg, nil
}

// UpgradeTier is atomic at L2 (a full Set of the recomputed config) and
// publishes tenant:reload so every process's L1 drops its stale entry.
func (m *CacheManager) UpgradeTier(ctx context.Context, guildID string, tier Tier) error {
	if m.locker != nil {
		lock := m.locker.NewLock("tenant:upgrade:"+guildID, upgradeLockTTL)
		acquired, err := lock.Acquire(ctx)
		if err != nil {
			return errors.Wrap(err, "acquire tenant upgrade lock")
		}
		if !acquired {
			return errors.Conflict("tenant upgrade already in progress for "+guildID, nil)
		}
		defer lock.Release(ctx)
	}

	cfg := TierConfig(guildID, tier)

	if err := m.store.Set(ctx, l1Key(guildID), cfg, 0); err != nil {
		return errors.Wrap(err, "upgrade tenant tier")
	}

	if err := m.store.Publish(ctx, reloadChannel, guildID); err != nil {
		logger.L().ErrorContext(ctx, "failed to publish tenant:reload", "guild_id", guildID, "error", err)
	}

	return nil
}

func (m *CacheManager) Close() error {
	m.cancel()
	if m.unsubscribe != nil {
		return m.unsubscribe()
	}
	return nil
}

// ParseTier parses a tier string, defaulting to free on an unknown value.
func ParseTier(s string) Tier {
	switch Tier(s) {
	case TierPro:
		return TierPro
	case TierEnterprise:
		return TierEnterprise
	default:
		return TierFree
	}
}

