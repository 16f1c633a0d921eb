package services

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheService stores rendered JSON bodies in Redis.
type CacheService struct {
	client     *redis.Client
	defaultTTL time.Duration
}

func NewCacheService(client *redis.Client, defaultTTL time.Duration) *CacheService {
	return &CacheService{
		client:     client,
		defaultTTL: defaultTTL,
	}
}

// Get returns the cached body, or nil on a miss.
func (cs *CacheService) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := cs.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get from cache: %w", err)
	}
	return data, nil
}

func (cs *CacheService) Set(ctx context.Context, key string, body []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = cs.defaultTTL
	}

	if err := cs.client.Set(ctx, key, body, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// GenerateCacheKey hashes the parts into a fixed-length key under the
// namespace prefix.
func (cs *CacheService) GenerateCacheKey(namespace string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("cache:%s:%x", namespace, h.Sum(nil)[:16])
}

// Delete removes a single entry; a missing key is not an error.
func (cs *CacheService) Delete(ctx context.Context, key string) error {
	return cs.client.Del(ctx, key).Err()
}

// Clear removes every key under the namespace.
func (cs *CacheService) Clear(ctx context.Context, namespace string) error {
	iter := cs.client.Scan(ctx, 0, "cache:"+namespace+":*", 0).Iterator()
	for iter.Next(ctx) {
		if err := cs.Delete(ctx, iter.Val()); err != nil {
			return err
		}
	}
	return iter.Err()
}
