package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fitcoach/coach-system/internal/core/domain"
	"github.com/fitcoach/coach-system/internal/core/ports"
)

type ProfileHandler struct {
	service ports.ProfileService
}

func NewProfileHandler(service ports.ProfileService) *ProfileHandler {
	return &ProfileHandler{service: service}
}

// Get returns a profile. Users may read their own; admins may read any.
//
// @Summary      Get a profile
// @Tags         profiles
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "User ID"
// @Success      200  {object}  profileResponse
// @Failure      403  {object}  errorResponse
// @Failure      404  {object}  errorResponse
// @Router       /rest/v1/profiles/{id} [get]
func (h *ProfileHandler) Get(c echo.Context) error {
	identity, err := ctxIdentity(c)
	if err != nil {
		return err
	}

	id := c.Param("id")
	role, _ := c.Get(ctxKeyRole).(string)
	if id != identity.ID && role != string(domain.RoleAdmin) {
		return domain.ErrForbidden
	}

	profile, err := h.service.GetProfile(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toProfileResponse(profile))
}

// SetRole changes the role on a profile. Admin only.
//
// @Summary      Change a profile role
// @Tags         profiles
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      string          true  "User ID"
// @Param        body  body      setRoleRequest  true  "New role"
// @Success      200   {object}  profileResponse
// @Failure      403   {object}  errorResponse
// @Failure      404   {object}  errorResponse
// @Failure      422   {object}  errorResponse
// @Router       /rest/v1/profiles/{id}/role [put]
func (h *ProfileHandler) SetRole(c echo.Context) error {
	identity, err := ctxIdentity(c)
	if err != nil {
		return err
	}

	var req setRoleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	profile, err := h.service.SetRole(c.Request().Context(), c.Param("id"), domain.Role(req.Role), identity.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toProfileResponse(profile))
}
