package httpserver

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/maxzhirnov/otp-auth/internal/audit"
	"github.com/maxzhirnov/otp-auth/internal/logging"
)

type AdminHTTP struct {
	Audit *audit.Recorder
}

// AuditLog searches the auth audit trail. Admin-only via the route protector.
func (h *AdminHTTP) AuditLog(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin_audit")

	if h.Audit == nil {
		return respond(c, http.StatusServiceUnavailable, false, "Audit store is not configured.")
	}

	email := c.QueryParam("email")
	from, _ := strconv.Atoi(c.QueryParam("from"))
	size, _ := strconv.Atoi(c.QueryParam("size"))
	if size <= 0 || size > 100 {
		size = 20
	}
	if from < 0 {
		from = 0
	}

	total, entries, err := h.Audit.Search(ctx, email, from, size)
	if err != nil {
		l.Error("audit_search_failed", "status", 500, "error", err)
		return respond(c, http.StatusInternalServerError, false, "An unknown error has occured.")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"message": "Audit events fetched successfully.",
		"total":   total,
		"events":  entries,
	})
}
