package security

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultWebhookLimit = 120
	DefaultStatusLimit  = 30
)

type RateLimiter struct {
	redis *redis.Client
	// window is the fixed counting window shared by every limit.
	window time.Duration
}

func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{redis: redisClient, window: time.Minute}
}

// WebhookRateLimit bounds gateway notifications per source address.
func (r *RateLimiter) WebhookRateLimit(limit int64) echo.MiddlewareFunc {
	if limit <= 0 {
		limit = DefaultWebhookLimit
	}
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: &redisStore{redis: r.redis, prefix: "ratelimit:hooks", limit: limit, window: r.window},
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, map[string]string{
				"error": "unable to identify caller",
			})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Rate limit exceeded. Please try again later.",
			})
		},
	})
}

// AntiBotMiddleware guards the status and reconcile routes, which trigger
// gateway traffic on every call.
func (r *RateLimiter) AntiBotMiddleware(limit int64) echo.MiddlewareFunc {
	if limit <= 0 {
		limit = DefaultStatusLimit
	}
	store := &redisStore{redis: r.redis, prefix: "antibot", limit: limit, window: r.window}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if r.isSuspiciousUserAgent(c.Request().Header.Get("User-Agent")) {
				return c.JSON(http.StatusForbidden, map[string]string{
					"error": "Access denied",
				})
			}

			// fail open when redis is unavailable
			allowed, err := store.Allow(c.RealIP())
			if err == nil && !allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"error": "Too many requests",
				})
			}

			return next(c)
		}
	}
}

func (r *RateLimiter) isSuspiciousUserAgent(ua string) bool {
	suspicious := []string{"bot", "crawler", "spider", "scraper"}
	for _, pattern := range suspicious {
		if strings.Contains(strings.ToLower(ua), pattern) {
			return true
		}
	}
	return false
}

// redisStore is a fixed-window counter shared by every replica.
type redisStore struct {
	redis  *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

func (s *redisStore) Allow(identifier string) (bool, error) {
	ctx := context.Background()
	key := fmt.Sprintf("%s:%s", s.prefix, identifier)

	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := s.redis.Expire(ctx, key, s.window).Err(); err != nil {
			return false, err
		}
	}
	return count <= s.limit, nil
}
