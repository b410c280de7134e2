package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/maxzhirnov/otp-auth/internal/logging"
	"github.com/maxzhirnov/otp-auth/internal/ratelimit"
)

// RateLimit applies l to every request, keyed by client IP. Runs before any
// auth or routing logic.
func RateLimit(l *ratelimit.Limiter) echo.MiddlewareFunc {
	return limitWith(l, func(c echo.Context) string {
		return clientKey(c)
	})
}

// RateLimitRoute applies l to one route, keyed by (route, client IP) so the
// counter is independent of the global limiter.
func RateLimitRoute(l *ratelimit.Limiter, route string) echo.MiddlewareFunc {
	return limitWith(l, func(c echo.Context) string {
		return ratelimit.ComposeKey(route, clientKey(c))
	})
}

func limitWith(l *ratelimit.Limiter, key func(echo.Context) string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			res := l.Check(key(c))
			if res.Allowed {
				return next(c)
			}

			log := logging.FromContext(c.Request().Context())
			log.Warn("rate_limited", "status", 429, "ip", clientKey(c), "path", c.Request().URL.Path)

			seconds := int(math.Ceil(res.RetryAfter.Seconds()))
			minutes := int(math.Ceil(res.RetryAfter.Minutes()))
			c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"success": false,
				"message": fmt.Sprintf("Too many requests. Try again in %d minutes.", minutes),
			})
		}
	}
}

func clientKey(c echo.Context) string {
	if ip := c.RealIP(); ip != "" {
		return ip
	}
	return ratelimit.UnknownClient
}
