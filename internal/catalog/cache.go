package catalog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const materialKeyPrefix = "catalog:v1:material:"

// CachedRates fronts a MaterialRates source with a Redis read-through cache.
// Cache errors fall back to the source.
type CachedRates struct {
	next   MaterialRates
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedRates wraps next with a Redis cache holding each rate for ttl.
func NewCachedRates(next MaterialRates, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedRates {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedRates{next: next, client: client, ttl: ttl, logger: logger}
}

func (c *CachedRates) MaterialRate(ctx context.Context, kind string) (decimal.Decimal, error) {
	key := materialKeyPrefix + kind
	raw, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if rate, perr := decimal.NewFromString(raw); perr == nil {
			return rate, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("material rate cache read failed", slog.String("kind", kind), slog.Any("error", err))
	}

	rate, err := c.next.MaterialRate(ctx, kind)
	if err != nil {
		return decimal.Zero, err
	}
	if err := c.client.Set(ctx, key, rate.String(), c.ttl).Err(); err != nil {
		c.logger.Warn("material rate cache write failed", slog.String("kind", kind), slog.Any("error", err))
	}
	return rate, nil
}

func (c *CachedRates) Materials(ctx context.Context) ([]Material, error) {
	return c.next.Materials(ctx)
}

// Invalidate drops cached rates for the given kinds.
func (c *CachedRates) Invalidate(ctx context.Context, kinds ...string) error {
	if len(kinds) == 0 {
		return nil
	}
	keys := make([]string, len(kinds))
	for i, kind := range kinds {
		keys[i] = materialKeyPrefix + kind
	}
	return c.client.Del(ctx, keys...).Err()
}
