package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fitcoach/coach-system/internal/core/ports"
)

const (
	grantPassword     = "password"
	grantRefreshToken = "refresh_token"
)

type AuthHandler struct {
	authService ports.AuthService
}

func NewAuthHandler(authService ports.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Signup creates a new account with the default role.
//
// @Summary      Sign up
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      signupRequest  true  "Account details"
// @Success      201   {object}  userResponse
// @Failure      400   {object}  errorResponse
// @Failure      409   {object}  errorResponse
// @Failure      422   {object}  errorResponse
// @Router       /auth/v1/signup [post]
func (h *AuthHandler) Signup(c echo.Context) error {
	var req signupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	user, err := h.authService.Register(c.Request().Context(), ports.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, toUserResponse(user))
}

// Token issues a session for the password or refresh_token grant.
//
// @Summary      Issue tokens
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        grant_type  query     string                true  "password or refresh_token"
// @Param        body        body      passwordGrantRequest  true  "Credentials or refresh token"
// @Success      200         {object}  tokenResponse
// @Failure      400         {object}  errorResponse
// @Failure      401         {object}  errorResponse
// @Router       /auth/v1/token [post]
func (h *AuthHandler) Token(c echo.Context) error {
	ctx := c.Request().Context()

	switch c.QueryParam("grant_type") {
	case grantPassword:
		var req passwordGrantRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
		}
		if err := c.Validate(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		session, err := h.authService.Login(ctx, req.Email, req.Password)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, toTokenResponse(session, time.Now()))

	case grantRefreshToken:
		var req refreshGrantRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
		}
		if err := c.Validate(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		session, err := h.authService.Refresh(ctx, req.RefreshToken)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, toTokenResponse(session, time.Now()))

	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unsupported grant_type")
	}
}

// Logout ends the caller's session.
//
// @Summary      Log out
// @Tags         auth
// @Accept       json
// @Security     BearerAuth
// @Param        body  body  logoutRequest  false  "Refresh token to revoke"
// @Success      204
// @Failure      401   {object}  errorResponse
// @Router       /auth/v1/logout [post]
func (h *AuthHandler) Logout(c echo.Context) error {
	identity, err := ctxIdentity(c)
	if err != nil {
		return err
	}

	var req logoutRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
		}
	}

	if err := h.authService.Logout(c.Request().Context(), identity.ID, req.RefreshToken); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// User returns the identity behind the bearer token.
//
// @Summary      Current user
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  userResponse
// @Failure      401  {object}  errorResponse
// @Router       /auth/v1/user [get]
func (h *AuthHandler) User(c echo.Context) error {
	identity, err := ctxIdentity(c)
	if err != nil {
		return err
	}

	user, err := h.authService.GetUser(c.Request().Context(), identity.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toUserResponse(user))
}
