package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/notewise/notewise/pkg/async"
	"github.com/notewise/notewise/pkg/observability"
)

const statusCacheKeyPrefix = "notewise:subscription:"

// StatusCacheConfig configures a StatusCache
type StatusCacheConfig struct {
	Size int
	TTL  time.Duration
}

// StatusCache is a read-through cache for subscription status display. It
// holds an in-process LRU in front of an optional Redis tier. Entitlement
// decisions never read from it.
type StatusCache struct {
	local  *expirable.LRU[string, Subscription]
	redis  *redis.Client
	ttl    time.Duration
	runner *async.Runner

	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewStatusCache creates a StatusCache. redisClient and runner may be nil,
// in which case only the local tier is used.
func NewStatusCache(cfg StatusCacheConfig, redisClient *redis.Client, runner *async.Runner, logger *observability.Logger, metrics *observability.Metrics) *StatusCache {
	if cfg.Size <= 0 {
		cfg.Size = 10000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	return &StatusCache{
		local:   expirable.NewLRU[string, Subscription](cfg.Size, nil, cfg.TTL),
		redis:   redisClient,
		ttl:     cfg.TTL,
		runner:  runner,
		logger:  logger,
		metrics: metrics,
	}
}

func statusCacheKey(userID string) string {
	return statusCacheKeyPrefix + userID
}

// Get returns a cached subscription. A remote hit refills the local tier.
func (c *StatusCache) Get(ctx context.Context, userID string) (*Subscription, bool) {
	if sub, ok := c.local.Get(userID); ok {
		c.metrics.StatusCacheLookupsTotal.WithLabelValues("local", "hit").Inc()
		return sub.Clone(), true
	}
	c.metrics.StatusCacheLookupsTotal.WithLabelValues("local", "miss").Inc()

	if c.redis == nil {
		return nil, false
	}

	key := statusCacheKey(userID)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.metrics.StatusCacheLookupsTotal.WithLabelValues("redis", "miss").Inc()
		return nil, false
	} else if err != nil {
		c.metrics.StatusCacheLookupsTotal.WithLabelValues("redis", "error").Inc()
		c.logger.WithError(err).Debug("Status cache read failed")
		return nil, false
	}

	var sub Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		// Corrupt entry
		c.redis.Del(ctx, key)
		c.metrics.StatusCacheLookupsTotal.WithLabelValues("redis", "error").Inc()
		return nil, false
	}

	c.metrics.StatusCacheLookupsTotal.WithLabelValues("redis", "hit").Inc()
	c.local.Add(userID, sub)
	return sub.Clone(), true
}

// Set stores sub in the local tier and fills the remote tier in the
// background.
func (c *StatusCache) Set(ctx context.Context, sub *Subscription) {
	if sub == nil {
		return
	}
	c.local.Add(sub.UserID, *sub.Clone())

	if c.redis == nil {
		return
	}

	data, err := json.Marshal(sub)
	if err != nil {
		return
	}
	key := statusCacheKey(sub.UserID)
	write := func(ctx context.Context) error {
		if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
			return fmt.Errorf("status cache fill: %w", err)
		}
		return nil
	}

	if c.runner == nil {
		_ = write(ctx)
		return
	}
	c.runner.Go(ctx, 2*time.Second, "status cache fill", write)
}

// Invalidate drops the user's entry from both tiers
func (c *StatusCache) Invalidate(ctx context.Context, userID string) {
	c.local.Remove(userID)
	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, statusCacheKey(userID)).Err(); err != nil {
		c.logger.WithError(err).WithField("user_id", userID).Warn("Status cache invalidation failed")
	}
}

// Len returns the number of local entries
func (c *StatusCache) Len() int {
	return c.local.Len()
}
