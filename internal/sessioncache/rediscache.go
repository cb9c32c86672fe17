package sessioncache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/conarylabs/mira/internal/miraerr"
)

// RedisCache is a read-through/write-through Store decorator, grounded on
// the teacher's internal/workspaces/redis_cache.go RedisGenerationCache,
// generalized from generation counters to full SessionCacheState blobs
// stored under one key per session with plain Set/Del calls.
type RedisCache struct {
	client redis.UniversalClient
	under  Store
	ttl    time.Duration
}

func NewRedisCache(client redis.UniversalClient, under Store, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisCache{client: client, under: under, ttl: ttl}
}

func (c *RedisCache) key(sessionID string) string {
	return "mira:sessioncache:" + sessionID
}

// Get reads through Redis first; on a miss it loads from the underlying
// store and populates the cache before returning.
func (c *RedisCache) Get(ctx context.Context, sessionID string) (*State, error) {
	const op = "sessioncache.RedisCache.Get"
	raw, err := c.client.Get(ctx, c.key(sessionID)).Bytes()
	if err == nil {
		var st State
		if jerr := json.Unmarshal(raw, &st); jerr == nil {
			return &st, nil
		}
	} else if err != redis.Nil {
		return nil, miraerr.New(op, miraerr.ProviderUnavailable, err)
	}

	st, err := c.under.Get(ctx, sessionID)
	if err != nil || st == nil {
		return st, err
	}
	c.populate(ctx, *st)
	return st, nil
}

// Upsert writes through to the underlying store then refreshes the cache.
func (c *RedisCache) Upsert(ctx context.Context, state State) error {
	if err := c.under.Upsert(ctx, state); err != nil {
		return err
	}
	c.populate(ctx, state)
	return nil
}

func (c *RedisCache) populate(ctx context.Context, state State) {
	data, err := json.Marshal(state)
	if err != nil {
		return
	}
	c.client.Set(ctx, c.key(state.SessionID), data, c.ttl)
}

// Invalidate implements I-6: the parent key and every child file-hash
// record must disappear atomically. Deleting the durable row cascades to
// session_file_hashes at the database level (see store.go's ON DELETE
// CASCADE), so the Redis side only drops its own blob afterwards, as a
// best-effort mirror whose error is ignored.
func (c *RedisCache) Invalidate(ctx context.Context, sessionID string) error {
	const op = "sessioncache.RedisCache.Invalidate"
	if err := c.under.Invalidate(ctx, sessionID); err != nil {
		return miraerr.New(op, miraerr.KindOf(err), err)
	}
	c.client.Del(ctx, c.key(sessionID))
	return nil
}

func (c *RedisCache) CleanupOldStates(ctx context.Context, maxAgeHours int64) (int64, error) {
	return c.under.CleanupOldStates(ctx, maxAgeHours)
}

func (c *RedisCache) AggregateStats(ctx context.Context) (AggregateStats, error) {
	return c.under.AggregateStats(ctx)
}
