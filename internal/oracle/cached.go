package oracle

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/backend-booking/internal/obs"
)

const (
	cachePrefix        = "oracle:quote:"
	defaultCallTimeout = 10 * time.Second
)

// CachedClient stores successful quotes in Redis and coalesces identical
// concurrent requests into one upstream call. Failures are never cached.
type CachedClient struct {
	next   Client
	cache  *jsonCache
	group   singleflight.Group
	timeout time.Duration
	logger  zerolog.Logger
}

// NewCachedClient decorates next. A nil Redis client only enables coalescing.
func NewCachedClient(next Client, rdb *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedClient {
	return &CachedClient{
		next:    next,
		cache:   &jsonCache{client: rdb, ttl: ttl},
		timeout: defaultCallTimeout,
		logger:  logger.With().Str("component", "oracle_cache").Logger(),
	}
}

// Quote implements Client.
func (c *CachedClient) Quote(ctx context.Context, req Request) (Quote, error) {
	key := cachePrefix + req.Digest()
	var cached Quote
	found, err := c.cache.get(ctx, key, &cached)
	if err != nil {
		c.logger.Warn().Err(err).Msg("oracle_cache_get_failed")
	}
	if found {
		obs.CountOracleCache("hit")
		return cached, nil
	}
	obs.CountOracleCache("miss")

	ch := c.group.DoChan(key, func() (any, error) {
		// shared by every waiter, so it must not die with the first caller,
		// but it keeps a deadline of its own
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.callTimeout(ctx))
		defer cancel()
		quote, err := c.next.Quote(callCtx, req)
		if err != nil {
			return Quote{}, err
		}
		if err := c.cache.set(callCtx, key, quote); err != nil {
			c.logger.Warn().Err(err).Msg("oracle_cache_set_failed")
		}
		return quote, nil
	})
	select {
	case <-ctx.Done():
		return Quote{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Quote{}, res.Err
		}
		return res.Val.(Quote), nil
	}
}

// WithCallTimeout bounds the shared upstream call. Non-positive values keep
// the default.
func (c *CachedClient) WithCallTimeout(d time.Duration) *CachedClient {
	if d > 0 {
		c.timeout = d
	}
	return c
}

// callTimeout is the configured bound, shortened to the caller's own
// deadline when that comes first.
func (c *CachedClient) callTimeout(ctx context.Context) time.Duration {
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left > 0 && left < timeout {
			timeout = left
		}
	}
	return timeout
}
