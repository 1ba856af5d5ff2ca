package authz

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a short-TTL decision cache keyed per publisher, so a role or
// scope change is visible to every cached check within one TTL window
// without needing a targeted invalidation message.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

func NewCache(client *redis.Client, ttl time.Duration, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{client: client, ttl: ttl, log: log}
}

func (c *Cache) key(userID string, perm Permission, res Resource) string {
	return fmt.Sprintf("authz:%s:%s:%s:%d", res.PublisherID, res.ModpackID, userID, perm)
}

// Get reports a cached decision. A Redis error is treated as a cache miss
// so an unavailable cache degrades to recomputing from Store, never to a
// wrong decision.
func (c *Cache) Get(ctx context.Context, userID string, perm Permission, res Resource) (bool, bool) {
	val, err := c.client.Get(ctx, c.key(userID, perm, res)).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("authz cache get failed", "error", err)
		}
		return false, false
	}
	return val == "1", true
}

func (c *Cache) Set(ctx context.Context, userID string, perm Permission, res Resource, allowed bool) {
	val := "0"
	if allowed {
		val = "1"
	}
	if err := c.client.Set(ctx, c.key(userID, perm, res), val, c.ttl).Err(); err != nil {
		c.log.Warn("authz cache set failed", "error", err)
	}
}

// InvalidatePublisher drops every cached decision for a publisher so a
// role or scope write takes effect immediately instead of waiting out
// the TTL. No code path in this module calls it: SQLStore.SetRole and
// DeleteMembership do not invalidate, so a cached decision stands until
// its TTL expires.
func (c *Cache) InvalidatePublisher(ctx context.Context, publisherID string) error {
	iter := c.client.Scan(ctx, 0, fmt.Sprintf("authz:%s:*", publisherID), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
