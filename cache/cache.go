package cache

import (
	"context"
	"fmt"
	"time"

	"listing_alerts/config"
)

// Cache is a byte-oriented key/value cache with per-entry TTLs.
type Cache interface {
	// Get returns ErrCacheMiss when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// GetOrSet computes and stores the value with fn on a miss.
	GetOrSet(ctx context.Context, key string, ttl time.Duration, fn func() ([]byte, error)) ([]byte, error)
	// Clear drops every entry this cache owns.
	Clear(ctx context.Context) error
	Close() error
}

type CacheError string

func (e CacheError) Error() string { return string(e) }

const ErrCacheMiss CacheError = "cache miss"

// New builds the cache selected by cfg.Type.
func New(cfg config.CacheConfig) (Cache, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryCache(), nil
	case "redis":
		return NewRedisCache(RedisConfig{
			Addr:      cfg.RedisAddress(),
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: "listing_alerts",
		})
	default:
		return nil, fmt.Errorf("unknown cache type %q", cfg.Type)
	}
}
