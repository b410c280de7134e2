package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/maxzhirnov/otp-auth/internal/models"
	"github.com/maxzhirnov/otp-auth/internal/tokens"
)

const (
	CtxUserID = "user_id"
	CtxRole   = "role"
)

const (
	loginRedirect   = "/auth/login"
	profileRedirect = "/user/profile"
)

// Protector classifies requests by path prefix and enforces the matching
// access policy. API paths get JSON errors; interactive paths get redirects.
type Protector struct {
	Tokens *tokens.Manager

	LoginProtected []string
	AdminProtected []string
	PublicOnly     []string
}

func NewProtector(m *tokens.Manager) *Protector {
	return &Protector{
		Tokens:         m,
		LoginProtected: []string{"/user", "/api/user"},
		AdminProtected: []string{"/admin", "/api/admin"},
		PublicOnly:     []string{"/login", "/api/auth/send-otp", "/api/auth/sign-in"},
	}
}

func (p *Protector) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Best-effort identity: a bad or expired bearer token just leaves
			// the request unauthenticated, it never fails here.
			authed := false
			role := ""
			if raw := bearerToken(c); raw != "" {
				if claims, err := p.Tokens.ParseAccess(raw); err == nil {
					c.Set(CtxUserID, claims.Subject)
					c.Set(CtxRole, claims.Role)
					authed = true
					role = claims.Role
				}
			}

			path := c.Request().URL.Path
			isAPI := strings.HasPrefix(path, "/api")

			if hasPrefixIn(path, p.PublicOnly) && authed {
				if isAPI {
					return apiError(c, http.StatusForbidden, "Only logged-out users allowed.")
				}
				return c.Redirect(http.StatusSeeOther, profileRedirect)
			}
			if hasPrefixIn(path, p.LoginProtected) && !authed {
				if isAPI {
					return apiError(c, http.StatusUnauthorized, "Only logged-in users allowed.")
				}
				return c.Redirect(http.StatusSeeOther, loginRedirect)
			}
			if hasPrefixIn(path, p.AdminProtected) && role != models.RoleAdmin {
				if isAPI {
					return apiError(c, http.StatusForbidden, "Only admins allowed.")
				}
				return c.Redirect(http.StatusSeeOther, profileRedirect)
			}

			return next(c)
		}
	}
}

func bearerToken(c echo.Context) string {
	scheme, token, found := strings.Cut(c.Request().Header.Get(echo.HeaderAuthorization), " ")
	if !found || scheme != "Bearer" {
		return ""
	}
	return token
}

func hasPrefixIn(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func apiError(c echo.Context, status int, message string) error {
	return c.JSON(status, echo.Map{
		"success": false,
		"message": message,
	})
}
