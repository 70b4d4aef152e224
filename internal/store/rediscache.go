package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"
)

// RedisCache fronts another Store with a Redis snapshot cache. Cache errors
// are logged and swallowed; the inner store stays authoritative.
type RedisCache struct {
	inner Store
	rdb   *redis.Client
	ttl   time.Duration
}

func NewRedisCache(inner Store, rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{inner: inner, rdb: rdb, ttl: ttl}
}

func cacheKey(documentID string) string {
	return "collab:doc:" + documentID
}

func (c *RedisCache) Fetch(ctx context.Context, documentID string) (Snapshot, error) {
	raw, err := c.rdb.Get(ctx, cacheKey(documentID)).Bytes()
	if err == nil {
		var snap Snapshot
		if err := json.Unmarshal(raw, &snap); err == nil {
			return snap, nil
		}
		glog.Warningf("corrupt cache entry for document %s, falling through", documentID)
	} else if !errors.Is(err, redis.Nil) {
		glog.Warningf("redis fetch for document %s: %v", documentID, err)
	}

	snap, err := c.inner.Fetch(ctx, documentID)
	if err != nil {
		return Snapshot{}, err
	}
	if raw, err := json.Marshal(snap); err == nil {
		if err := c.rdb.Set(ctx, cacheKey(documentID), raw, c.ttl).Err(); err != nil {
			glog.Warningf("redis set for document %s: %v", documentID, err)
		}
	}
	return snap, nil
}

func (c *RedisCache) Persist(ctx context.Context, documentID string, content string) error {
	if err := c.inner.Persist(ctx, documentID, content); err != nil {
		return err
	}
	// The inner store owns the version counter, so invalidate rather than
	// rewrite the cached snapshot.
	if err := c.rdb.Del(ctx, cacheKey(documentID)).Err(); err != nil {
		glog.Warningf("redis invalidate for document %s: %v", documentID, err)
	}
	return nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return err
	}
	return c.inner.Ping(ctx)
}

func (c *RedisCache) Close() error {
	if err := c.rdb.Close(); err != nil {
		c.inner.Close()
		return err
	}
	return c.inner.Close()
}
