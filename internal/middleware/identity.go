package middleware

// identity.go holds the accessors for the identity JWTAuth stores in the
// Echo context.  Handlers and the rate limiter read the caller through
// these instead of touching context keys directly.

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// UserID returns the authenticated user, if any.
func UserID(c echo.Context) (uint64, bool) {
	id, ok := c.Get(ContextUserID).(uint64)
	return id, ok && id != 0
}

// Role returns the role claim of the authenticated user, or "".
func Role(c echo.Context) string {
	r, _ := c.Get(ContextRole).(string)
	return r
}

// IsAdmin reports whether the caller carries the ADMIN role.
func IsAdmin(c echo.Context) bool {
	return Role(c) == RoleAdmin
}

// currentUserID renders the caller for rate-limit keys; "anon" when the
// request is not authenticated.
func currentUserID(c echo.Context) string {
	if id, ok := UserID(c); ok {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
