package prices

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// KV is the subset of a Redis client the cache uses. *redis.Client satisfies it.
type KV interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisCache serves quotes from Redis and asks next for the misses. Redis
// failures are logged and bypassed; they never fail a price read.
type RedisCache struct {
	kv     KV
	next   Source
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// NewRedisCache wraps next with a Redis cache keyed "<prefix><SYMBOL>".
func NewRedisCache(kv KV, next Source, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{
		kv:     kv,
		next:   next,
		ttl:    ttl,
		prefix: "chainwatch:price:",
		logger: logger.With("component", "prices.redis"),
	}
}

// NewRedisClient connects to a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func (c *RedisCache) GetPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	symbols = dedupe(symbols)
	out := make(map[string]decimal.Decimal, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	keys := make([]string, len(symbols))
	for i, sym := range symbols {
		keys[i] = c.prefix + sym
	}

	misses := symbols
	vals, err := c.kv.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("price cache read failed", "error", err)
	} else {
		misses = misses[:0:0]
		for i, v := range vals {
			if p, ok := cachedPrice(v); ok {
				out[symbols[i]] = p
				continue
			}
			misses = append(misses, symbols[i])
		}
	}
	if len(misses) == 0 {
		return out, nil
	}

	fresh, err := c.next.GetPrices(ctx, misses)
	for sym, p := range fresh {
		out[sym] = p
		if serr := c.kv.Set(ctx, c.prefix+sym, p.String(), c.ttl).Err(); serr != nil {
			c.logger.Warn("price cache write failed", "symbol", sym, "error", serr)
		}
	}
	return out, err
}

func cachedPrice(v interface{}) (decimal.Decimal, bool) {
	s, ok := v.(string)
	if !ok {
		return decimal.Decimal{}, false
	}
	p, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return p, true
}
