package access

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

func (r *Resolver) readCache(ctx context.Context, key string) (Decision, bool) {
	if r.cache == nil {
		return Decision{}, false
	}
	raw, err := r.cache.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			r.log.Warn("access cache get failed", "error", err)
		}
		return Decision{}, false
	}
	var d Decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		r.log.Warn("access cache value corrupt", "error", err)
		return Decision{}, false
	}
	return d, true
}

func (r *Resolver) writeCache(ctx context.Context, key string, d Decision) {
	if r.cache == nil {
		return
	}
	raw, err := json.Marshal(d)
	if err != nil {
		r.log.Warn("access cache marshal failed", "error", err)
		return
	}
	if err := r.cache.Set(ctx, key, raw, cacheTTL).Err(); err != nil {
		r.log.Warn("access cache set failed", "error", err)
	}
}

// InvalidateModpack drops every cached decision for a modpack. cacheKey
// embeds the modpack id verbatim, so one SCAN over access:*:<id>:*
// finds every user's entry whatever its pricing hash. No code path in
// this module calls it; an acquisition grant does not invalidate, so a
// cached decision stands until cacheTTL expires.
func (r *Resolver) InvalidateModpack(ctx context.Context, modpackID string) error {
	if r.cache == nil {
		return nil
	}
	iter := r.cache.Scan(ctx, 0, fmt.Sprintf("access:*:%s:*", modpackID), 100).Iterator()
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
	return r.cache.Del(ctx, keys...).Err()
}
