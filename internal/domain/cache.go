package domain

import (
	"context"
	"time"
)

// Cache stores generated issue explanations. The community tier keeps them
// in a local LRU; the pro tier adds Redis so every node reuses them.
type Cache interface {
	// GetExplanation returns "", false on a miss.
	GetExplanation(ctx context.Context, key string) (string, bool, error)
	SetExplanation(ctx context.Context, key string, text string, ttl time.Duration) error

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig selects and sizes the cache.
type CacheConfig struct {
	Type string // "memory" or "redis"

	LocalMaxSize int
	LocalTTL     time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// EnableTwoPhase fronts Redis with the local LRU.
	EnableTwoPhase bool
}
