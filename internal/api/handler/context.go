package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fitcoach/coach-system/internal/core/domain"
)

// Context keys written by the auth middleware.
const (
	ctxKeyUserID = "user_id"
	ctxKeyEmail  = "email"
	ctxKeyRole   = "role"
)

// ctxIdentity extracts the identity injected by the Auth middleware and
// fails fast with 401 when it is missing (the middleware did not run).
func ctxIdentity(c echo.Context) (domain.Identity, error) {
	id, _ := c.Get(ctxKeyUserID).(string)
	if id == "" {
		return domain.Identity{}, echo.NewHTTPError(http.StatusUnauthorized, "missing authentication claims")
	}
	email, _ := c.Get(ctxKeyEmail).(string)
	return domain.Identity{ID: id, Email: email}, nil
}
