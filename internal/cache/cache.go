package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// New builds the cache for cfg.Type. "redis" with EnableTwoPhase puts the
// local LRU in front of Redis.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize, cfg.LocalTTL), nil
	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

type getter interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

func getExplanation(ctx context.Context, c getter, key string) (string, bool, error) {
	val, err := c.Get(ctx, key)
	if err != nil || val == nil {
		return "", false, err
	}
	return string(val), true, nil
}

// TwoPhaseCache reads the local LRU before Redis. For explanations a Redis
// failure counts as a miss, so enrichment carries on with L1 alone.
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache connects to Redis and fronts it with a local LRU.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, err
	}
	return newTwoPhase(NewLRUCache(cfg.LocalMaxSize, cfg.LocalTTL), remote, cfg.LocalTTL), nil
}

func newTwoPhase(local *LRUCache, remote *RedisCache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}
	return &TwoPhaseCache{local: local, remote: remote, l1TTL: l1TTL}
}

// Get checks L1, then L2, copying an L2 hit into L1.
func (c *TwoPhaseCache) Get(ctx context.Context, key string) ([]byte, error) {
	if val, _ := c.local.Get(ctx, key); val != nil {
		return val, nil
	}

	val, err := c.remote.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, key, val, c.l1TTL)
	}
	return val, nil
}

// Set writes L1 with at most the local TTL and L2 with the full ttl.
func (c *TwoPhaseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_ = c.local.Set(ctx, key, value, min(ttl, c.l1TTL))
	return c.remote.Set(ctx, key, value, ttl)
}

// GetExplanation treats an unreachable Redis as a miss.
func (c *TwoPhaseCache) GetExplanation(ctx context.Context, key string) (string, bool, error) {
	val, err := c.Get(ctx, key)
	if err != nil {
		slog.Warn("explanation cache L2 unavailable", "error", err)
		return "", false, nil
	}
	if val == nil {
		return "", false, nil
	}
	return string(val), true, nil
}

// SetExplanation keeps the L1 copy even when Redis rejects the write.
func (c *TwoPhaseCache) SetExplanation(ctx context.Context, key string, text string, ttl time.Duration) error {
	if err := c.Set(ctx, key, []byte(text), ttl); err != nil {
		slog.Warn("explanation cache L2 write failed", "error", err)
	}
	return nil
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

var (
	_ domain.Cache = (*LRUCache)(nil)
	_ domain.Cache = (*RedisCache)(nil)
	_ domain.Cache = (*TwoPhaseCache)(nil)
)
