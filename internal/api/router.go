package api

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"

	"github.com/fitcoach/coach-system/internal/api/handler"
	"github.com/fitcoach/coach-system/internal/api/middleware"
	"github.com/fitcoach/coach-system/internal/core/domain"
	"github.com/fitcoach/coach-system/internal/core/ports"

	_ "github.com/fitcoach/coach-system/docs"
)

// Dependencies are the services and probes the router wires into handlers.
type Dependencies struct {
	AuthService    ports.AuthService
	ProfileService ports.ProfileService
	JWTSecret      string
	Readiness      map[string]handler.Pinger
	Logger         zerolog.Logger
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(deps Dependencies) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(deps.Logger)

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(echomiddleware.Logger())
	e.Use(echoprometheus.NewMiddleware("fitcoach_http"))

	authHandler := handler.NewAuthHandler(deps.AuthService)
	profileHandler := handler.NewProfileHandler(deps.ProfileService)
	authMiddleware := middleware.Auth(deps.JWTSecret)
	roleMiddleware := middleware.LoadRole(deps.ProfileService)

	// --- Auth routes ---
	auth := e.Group("/auth/v1")
	auth.POST("/signup", authHandler.Signup)
	auth.POST("/token", authHandler.Token)
	auth.POST("/logout", authHandler.Logout, authMiddleware)
	auth.GET("/user", authHandler.User, authMiddleware)

	// --- Profile routes ---
	rest := e.Group("/rest/v1", authMiddleware, roleMiddleware)
	rest.GET("/profiles/:id", profileHandler.Get)
	rest.PUT("/profiles/:id/role", profileHandler.SetRole, middleware.RBAC(domain.RoleAdmin))

	// --- Health probes (no auth required) ---
	healthHandler := handler.NewHealthHandler()
	readinessHandler := handler.NewReadinessHandler(deps.Readiness)

	e.GET("/health", healthHandler.Liveness)           // liveness  – is the process alive?
	e.GET("/health/ready", readinessHandler.Readiness) // readiness – are dependencies up?

	e.GET("/metrics", echoprometheus.NewHandler())
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	return e
}
