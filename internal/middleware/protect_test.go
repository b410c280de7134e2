package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxzhirnov/otp-auth/internal/models"
	"github.com/maxzhirnov/otp-auth/internal/tokens"
)

func newTestProtector() *Protector {
	return NewProtector(&tokens.Manager{
		AccessSecret:  []byte("test-access-secret"),
		RefreshSecret: []byte("test-refresh-secret"),
		AccessTTL:     5 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	})
}

func doProtected(t *testing.T, p *Protector, path, bearer string) (*httptest.ResponseRecorder, echo.Context) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := p.Middleware()(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	require.NoError(t, handler(c))
	return rec, c
}

func accessToken(t *testing.T, p *Protector, role string) string {
	t.Helper()
	token, _, err := p.Tokens.SignAccess(uuid.NewString(), role, time.Now())
	require.NoError(t, err)
	return token
}

func TestProtector_LoginProtectedAPI_Unauthenticated(t *testing.T) {
	t.Parallel()

	p := newTestProtector()
	rec, _ := doProtected(t, p, "/api/user/profile", "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Only logged-in users allowed.")
}

func TestProtector_LoginProtectedInteractive_Redirects(t *testing.T) {
	t.Parallel()

	p := newTestProtector()
	rec, _ := doProtected(t, p, "/user/profile", "")

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/auth/login", rec.Header().Get(echo.HeaderLocation))
}

func TestProtector_GarbageTokenTreatedAsUnauthenticated(t *testing.T) {
	t.Parallel()

	p := newTestProtector()
	rec, _ := doProtected(t, p, "/api/user/profile", "garbage.token.here")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtector_ExpiredTokenTreatedAsUnauthenticated(t *testing.T) {
	t.Parallel()

	p := newTestProtector()
	expired, _, err := p.Tokens.SignAccess(uuid.NewString(), models.RoleUser, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	rec, _ := doProtected(t, p, "/api/user/profile", expired)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtector_ValidTokenPassesAndSetsIdentity(t *testing.T) {
	t.Parallel()

	p := newTestProtector()
	rec, c := doProtected(t, p, "/api/user/profile", accessToken(t, p, models.RoleUser))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, c.Get(CtxUserID))
	assert.Equal(t, models.RoleUser, c.Get(CtxRole))
}

func TestProtector_AdminRoute(t *testing.T) {
	t.Parallel()

	p := newTestProtector()

	rec, _ := doProtected(t, p, "/api/admin/audit", accessToken(t, p, models.RoleUser))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "Only admins allowed.")

	rec, _ = doProtected(t, p, "/api/admin/audit", accessToken(t, p, models.RoleAdmin))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Unauthenticated interactive admin path redirects instead.
	rec, _ = doProtected(t, p, "/admin/dashboard", "")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/user/profile", rec.Header().Get(echo.HeaderLocation))
}

func TestProtector_PublicOnlyRoute(t *testing.T) {
	t.Parallel()

	p := newTestProtector()

	rec, _ := doProtected(t, p, "/api/auth/sign-in", accessToken(t, p, models.RoleUser))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "Only logged-out users allowed.")

	rec, _ = doProtected(t, p, "/login", accessToken(t, p, models.RoleUser))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/user/profile", rec.Header().Get(echo.HeaderLocation))

	rec, _ = doProtected(t, p, "/api/auth/sign-in", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProtector_UnclassifiedRoutePasses(t *testing.T) {
	t.Parallel()

	p := newTestProtector()
	rec, _ := doProtected(t, p, "/health/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
