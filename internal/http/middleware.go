package http

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// rateLimitMiddleware enforces a per-minute fixed-window limit per
// client IP using Redis. It is only mounted on mutation routes.
func rateLimitMiddleware(limit int, rdb redis.UniversalClient, now func() time.Time) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if limit <= 0 {
			return c.Next()
		}

		key := rateLimitKey(c.IP(), now())

		ctx := c.Context()
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
				Success: false,
				Code:    "INTERNAL_ERROR",
				Error:   fmt.Sprintf("rate limit increment failed: %v", err),
			})
		}
		if count == 1 {
			// First hit in this window; set TTL
			_ = rdb.Expire(ctx, key, time.Minute)
		}

		if count > int64(limit) {
			return c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{
				Success: false,
				Code:    "RATE_LIMIT_EXCEEDED",
				Error:   "Rate limit exceeded, try again later",
			})
		}

		return c.Next()
	}
}

func rateLimitKey(ip string, t time.Time) string {
	window := t.UTC().Format("200601021504") // YYYYMMDDHHMM minute window
	return fmt.Sprintf("soulcrush:rl:%s:%s", ip, window)
}
