package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const depositRatePrefix = "rl:deposit:"

// DepositRateLimit caps deposits per wallet per minute using a Redis counter.
// It fails open without Redis or on cache errors.
func DepositRateLimit(cache *redis.Client, maxPerMin int, logger *slog.Logger) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 30
	}
	return func(c *fiber.Ctx) error {
		walletID := c.Params("walletId")
		if cache == nil || walletID == "" {
			return c.Next()
		}
		key := depositRatePrefix + walletID

		ctx := c.UserContext()
		cnt, err := cache.Incr(ctx, key).Result()
		if err != nil {
			logger.Warn("deposit rate limit unavailable", slog.String("wallet_id", walletID), slog.Any("error", err))
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(ctx, key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			if ttl, err := cache.TTL(ctx, key).Result(); err == nil && ttl > 0 {
				c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(ttl.Seconds())+1))
			}
			return fiber.NewError(http.StatusTooManyRequests, "too many deposits for this wallet, try again later")
		}
		return c.Next()
	}
}
