package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/fitcoach/coach-system/internal/core/domain"
	"github.com/fitcoach/coach-system/internal/core/service"
)

// Auth validates the bearer access token and injects user_id and email
// into the context.
func Auth(jwtSecret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header")
			}

			identity, err := service.ParseAccessToken(parts[1], jwtSecret)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.Set("user_id", identity.ID)
			c.Set("email", identity.Email)

			return next(c)
		}
	}
}

// RoleSource returns the profile role of a user.
type RoleSource interface {
	GetProfile(ctx context.Context, id string) (*domain.Profile, error)
}

// LoadRole reads the caller's profile role into the context under "role".
// A missing profile leaves the caller with the default role.
func LoadRole(profiles RoleSource) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, _ := c.Get("user_id").(string)
			if userID == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication claims")
			}

			role := domain.FallbackRole
			profile, err := profiles.GetProfile(c.Request().Context(), userID)
			switch {
			case err == nil:
				if parsed, perr := domain.ParseRole(string(profile.Role)); perr == nil {
					role = parsed
				}
			case !errors.Is(err, domain.ErrProfileNotFound):
				return err
			}

			c.Set("role", string(role))
			return next(c)
		}
	}
}
