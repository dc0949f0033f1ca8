package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gearmarket/escrow-service/internal/ports"
)

// Connect initializes a Redis client from URL or host:port input.
func Connect(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") {
		opt, parseErr := redis.ParseURL(redisURL)
		if parseErr != nil {
			return nil, fmt.Errorf("parse redis url: %w", parseErr)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// RedisDedupCache is the advisory fast path in front of the ledger's
// processed-event record: it cheaply short-circuits webhook redeliveries
// without a database round trip. A cache miss is harmless; the ledger
// transaction remains authoritative.
type RedisDedupCache struct {
	client *redis.Client
}

func NewRedisDedupCache(client *redis.Client) *RedisDedupCache {
	return &RedisDedupCache{client: client}
}

func (c *RedisDedupCache) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := c.client.Exists(ctx, dedupKey(eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *RedisDedupCache) Mark(ctx context.Context, eventID string, ttl time.Duration) error {
	return c.client.Set(ctx, dedupKey(eventID), 1, ttl).Err()
}

func dedupKey(eventID string) string {
	return "escrow:event:" + eventID
}

var _ ports.DedupCache = (*RedisDedupCache)(nil)
