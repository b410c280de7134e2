package httpserver

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	mw "github.com/maxzhirnov/otp-auth/internal/middleware"
	"github.com/maxzhirnov/otp-auth/internal/ratelimit"
)

type Deps struct {
	Auth  *AuthHTTP
	Admin *AdminHTTP

	GlobalLimiter *ratelimit.Limiter
	OTPLimiter    *ratelimit.Limiter
	Protector     *mw.Protector
}

// Register wires the middleware chain and routes. Order matters: the global
// limiter runs before the route protector, which runs before any handler.
func Register(e *echo.Echo, d *Deps) {
	e.HTTPErrorHandler = errorHandler

	e.Use(mw.RateLimit(d.GlobalLimiter))
	e.Use(d.Protector.Middleware())

	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	auth := e.Group("/api/auth")
	auth.POST("/send-otp", d.Auth.SendOTP, mw.RateLimitRoute(d.OTPLimiter, "send-otp"))
	auth.POST("/sign-in", d.Auth.SignIn)
	auth.POST("/refresh-tokens", d.Auth.Refresh)
	auth.POST("/sign-out", d.Auth.SignOut)

	e.GET("/api/user/profile", d.Auth.Profile)
	e.GET("/api/admin/audit", d.Admin.AuditLog)
}

// errorHandler keeps the response shape uniform for errors that escape the
// handlers, without leaking internals.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error."

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if msg, ok := he.Message.(string); ok {
			message = msg
		} else {
			message = http.StatusText(status)
		}
	}

	_ = c.JSON(status, echo.Map{
		"success": false,
		"message": message,
	})
}
