package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	cacheVersionKey        = "rbac:version"
	cacheSubjectVersionKey = "rbac:version:subject:"
	cacheDecisionPrefix    = "rbac:decision"
)

// Cache stores evaluation results in Redis under versioned keys. A global version
// covers definition and hierarchy changes; a per-subject version covers grants and
// revokes. Bumping a version orphans every key built with the previous value.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

// Enabled reports whether a Redis client is configured.
func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil
}

// Key composes a decision key carrying the current global and subject versions.
func (c *Cache) Key(ctx context.Context, subject string, parts ...string) (string, error) {
	if !c.Enabled() {
		return "", errors.New("rbac: cache disabled")
	}
	vals, err := c.client.MGet(ctx, cacheVersionKey, cacheSubjectVersionKey+subject).Result()
	if err != nil {
		return "", err
	}
	global := versionOf(vals[0])
	own := versionOf(vals[1])
	return fmt.Sprintf("%s:%s:%s:%s:%s", cacheDecisionPrefix, global, own, subject, strings.Join(parts, ":")), nil
}

// Bump invalidates every cached decision.
func (c *Cache) Bump(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

// BumpSubjects invalidates the cached decisions of the given subjects.
func (c *Cache) BumpSubjects(ctx context.Context, subjects ...string) error {
	if !c.Enabled() || len(subjects) == 0 {
		return nil
	}
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, subject := range subjects {
			pipe.Incr(ctx, cacheSubjectVersionKey+subject)
		}
		return nil
	})
	return err
}

func (c *Cache) warn(msg string, err error) {
	if c.logger != nil {
		c.logger.Warn(msg, slog.Any("error", err))
	}
}

// cached loads a value through the cache. Cache failures degrade to calling loader.
// The boolean reports a cache hit.
func cached[T any](ctx context.Context, c *Cache, subject string, parts []string, loader func(context.Context) (T, error)) (T, bool, error) {
	if !c.Enabled() {
		v, err := loader(ctx)
		return v, false, err
	}
	key, err := c.Key(ctx, subject, parts...)
	if err != nil {
		c.warn("rbac cache key", err)
		v, err := loader(ctx)
		return v, false, err
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var v T
		if err := json.Unmarshal(payload, &v); err == nil {
			return v, true, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.warn("rbac cache get", err)
	}
	res, err, _ := c.group.Do(key, func() (any, error) {
		v, err := loader(ctx)
		if err != nil {
			return v, err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return v, nil
		}
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.warn("rbac cache set", err)
		}
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return res.(T), false, nil
}

func versionOf(v any) string {
	s, ok := v.(string)
	if !ok || s == "" {
		return "0"
	}
	return s
}
