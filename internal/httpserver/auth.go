package httpserver

import (
	"errors"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"

	"github.com/maxzhirnov/otp-auth/internal/audit"
	"github.com/maxzhirnov/otp-auth/internal/events"
	"github.com/maxzhirnov/otp-auth/internal/logging"
	"github.com/maxzhirnov/otp-auth/internal/middleware"
	"github.com/maxzhirnov/otp-auth/internal/service"
	"github.com/maxzhirnov/otp-auth/internal/tokens"
)

var (
	emailRx = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	otpRx   = regexp.MustCompile(`^\d{6}$`)
)

type AuthHTTP struct {
	Svc    *service.AuthService
	Tokens *tokens.Manager
	Events events.Publisher
	Audit  *audit.Recorder

	// Secure marks the refresh cookie Secure; true in production.
	Secure bool
}

func (h *AuthHTTP) SendOTP(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_send_otp")

	var req struct {
		Email string `json:"email"`
	}
	if err := c.Bind(&req); err != nil {
		l.Warn("send_otp_failed", "status", 400, "error", err)
		return respond(c, http.StatusBadRequest, false, "Invalid request body.")
	}
	if req.Email == "" {
		return respond(c, http.StatusBadRequest, false, "Email is required")
	}
	if !emailRx.MatchString(req.Email) {
		return respond(c, http.StatusBadRequest, false, "Invalid email address")
	}

	if err := h.Svc.SendOTP(ctx, req.Email); err != nil {
		l.Error("send_otp_failed", "status", 500, "error", err)
		return respond(c, http.StatusInternalServerError, false, "An error ocurred while sending OTP.")
	}

	h.record(c, events.TypeOTPSent, req.Email, "")
	return respond(c, http.StatusOK, true, "OTP sent successfully")
}

func (h *AuthHTTP) SignIn(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_sign_in")

	var req struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}
	if err := c.Bind(&req); err != nil {
		l.Warn("sign_in_failed", "status", 400, "error", err)
		return respond(c, http.StatusBadRequest, false, "Invalid request body.")
	}
	if !emailRx.MatchString(req.Email) {
		return respond(c, http.StatusBadRequest, false, "Invalid email address")
	}
	if !otpRx.MatchString(req.OTP) {
		return respond(c, http.StatusBadRequest, false, "OTP must have 6 digits.")
	}

	pair, err := h.Svc.SignIn(ctx, req.Email, req.OTP)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			return respond(c, http.StatusConflict, false, "User does not exist.")
		case errors.Is(err, service.ErrInvalidOTP):
			return respond(c, http.StatusUnauthorized, false, "OTP is incorrect.")
		case errors.Is(err, service.ErrOTPExpired):
			return respond(c, http.StatusUnauthorized, false, "OTP has expired.")
		default:
			l.Error("sign_in_failed", "status", 500, "error", err)
			return respond(c, http.StatusInternalServerError, false, "An unknown error has occured.")
		}
	}

	c.SetCookie(tokens.RefreshCookie(pair.RefreshToken, h.Tokens.RefreshTTL, h.Secure))
	h.record(c, events.TypeUserSignedIn, pair.Email, pair.UserID.String())

	return c.JSON(http.StatusOK, echo.Map{
		"success":     true,
		"message":     "Signed in successfully.",
		"accessToken": pair.AccessToken,
	})
}

func (h *AuthHTTP) Refresh(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_refresh")

	cookie, err := c.Cookie(tokens.RefreshCookieName)
	if err != nil || cookie.Value == "" {
		return respond(c, http.StatusUnauthorized, false, "No refresh token provided.")
	}

	pair, err := h.Svc.Refresh(ctx, cookie.Value)
	if err != nil {
		// Whatever went wrong, the caller must not keep a credential the
		// server no longer honors.
		c.SetCookie(tokens.DeleteRefreshCookie(h.Secure))
		switch {
		case errors.Is(err, service.ErrTokenInvalid):
			return respond(c, http.StatusUnauthorized, false, "Invalid refresh token.")
		case errors.Is(err, service.ErrUserNotFound):
			return respond(c, http.StatusUnauthorized, false, "User not found.")
		case errors.Is(err, service.ErrNoSession):
			return respond(c, http.StatusUnauthorized, false, "No active session.")
		case errors.Is(err, service.ErrTokenReuse):
			h.record(c, events.TypeTokenReuseDetected, "", "")
			return respond(c, http.StatusUnauthorized, false, "Refresh token mismatch.")
		default:
			l.Error("refresh_failed", "status", 500, "error", err)
			return respond(c, http.StatusInternalServerError, false, "An unknown error has occured.")
		}
	}

	c.SetCookie(tokens.RefreshCookie(pair.RefreshToken, h.Tokens.RefreshTTL, h.Secure))
	h.record(c, events.TypeTokensRefreshed, pair.Email, pair.UserID.String())

	return c.JSON(http.StatusOK, echo.Map{
		"success":     true,
		"message":     "Tokens refreshed successfully.",
		"accessToken": pair.AccessToken,
	})
}

func (h *AuthHTTP) SignOut(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_sign_out")

	cookie, err := c.Cookie(tokens.RefreshCookieName)
	if err != nil || cookie.Value == "" {
		return respond(c, http.StatusUnauthorized, false, "No refresh token provided.")
	}

	// The cookie is cleared on every outcome below.
	c.SetCookie(tokens.DeleteRefreshCookie(h.Secure))

	res, err := h.Svc.SignOut(ctx, cookie.Value)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoSession):
			return respond(c, http.StatusOK, true, "No active session.")
		case errors.Is(err, service.ErrTokenInvalid):
			return respond(c, http.StatusUnauthorized, false, "Invalid refresh token.")
		case errors.Is(err, service.ErrUserNotFound):
			return respond(c, http.StatusUnauthorized, false, "User not found.")
		case errors.Is(err, service.ErrTokenReuse):
			h.record(c, events.TypeTokenReuseDetected, "", "")
			return respond(c, http.StatusUnauthorized, false, "Refresh token mismatch.")
		default:
			l.Error("sign_out_failed", "status", 500, "error", err)
			return respond(c, http.StatusInternalServerError, false, "Error signing out.")
		}
	}

	h.record(c, events.TypeUserSignedOut, res.Email, res.UserID.String())
	return respond(c, http.StatusOK, true, "Logged out successfully.")
}

// Profile is the login-protected sample endpoint; identity comes from the
// route protector.
func (h *AuthHTTP) Profile(c echo.Context) error {
	userID, _ := c.Get(middleware.CtxUserID).(string)
	role, _ := c.Get(middleware.CtxRole).(string)

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"message": "Profile fetched successfully.",
		"user":    echo.Map{"id": userID, "role": role},
	})
}

// record publishes the event to Kafka and indexes it for audit search.
// Both are best-effort side channels.
func (h *AuthHTTP) record(c echo.Context, eventType, email, userID string) {
	ctx := c.Request().Context()
	ip := c.RealIP()

	if h.Events != nil {
		ev := events.AuthEvent{Type: eventType, Email: email, UserID: userID, ClientIP: ip}
		if err := h.Events.Publish(ctx, ev); err != nil {
			logging.FromContext(ctx).Warn("event_publish_failed", "type", eventType, "error", err)
		}
	}
	if h.Audit != nil {
		h.Audit.Record(ctx, audit.Entry{Type: eventType, Email: email, UserID: userID, ClientIP: ip})
	}
}

func respond(c echo.Context, status int, success bool, message string) error {
	return c.JSON(status, echo.Map{
		"success": success,
		"message": message,
	})
}
