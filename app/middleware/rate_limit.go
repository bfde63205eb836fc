package middleware

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

type RateLimiterConfig struct {
	Redis     redis.Cmdable
	Limit     int
	Window    time.Duration
	KeyPrefix string
	Extractor func(c *fiber.Ctx) string
}

// NewRateLimiter counts requests per client in fixed Redis windows. When Redis
// is unreachable requests pass through unlimited.
func NewRateLimiter(cfg RateLimiterConfig) fiber.Handler {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rl:"
	}
	if cfg.Extractor == nil {
		cfg.Extractor = clientID
	}

	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		id := cfg.Extractor(c)
		if id == "" {
			id = "anonymous"
		}
		key := cfg.KeyPrefix + id

		count, err := cfg.Redis.Incr(ctx, key).Result()
		if err != nil {
			return c.Next()
		}
		if count == 1 {
			cfg.Redis.Expire(ctx, key, cfg.Window)
		}

		ttl, _ := cfg.Redis.TTL(ctx, key).Result()
		reset := max(int(ttl.Seconds()), 0)
		c.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
		c.Set("X-RateLimit-Reset", strconv.Itoa(reset))

		if count > int64(cfg.Limit) {
			c.Set("X-RateLimit-Remaining", "0")
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":             "rate limit exceeded",
				"rate_limit":        cfg.Limit,
				"rate_limit_window": cfg.Window.String(),
				"retry_after_sec":   reset,
			})
		}

		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", int64(cfg.Limit)-count))
		return c.Next()
	}
}

func clientID(c *fiber.Ctx) string {
	if xff := c.Get(fiber.HeaderXForwardedFor); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	return c.IP()
}
