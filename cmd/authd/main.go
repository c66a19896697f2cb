// Command authd serves the fitcoach auth backend: sign-up, token issuing,
// logout and profile roles.
//
// @title                       fitcoach auth API
// @version                     1.0
// @description                 Identity, session and profile-role backend for fitcoach clients.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fitcoach/coach-system/internal/api"
	"github.com/fitcoach/coach-system/internal/api/handler"
	"github.com/fitcoach/coach-system/internal/core/service"
	"github.com/fitcoach/coach-system/internal/infrastructure/config"
	mongodb "github.com/fitcoach/coach-system/internal/infrastructure/db/mongo"
	redisdb "github.com/fitcoach/coach-system/internal/infrastructure/db/redis"
	"github.com/fitcoach/coach-system/internal/infrastructure/queue"
	"github.com/fitcoach/coach-system/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		panic(err)
	}

	log := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  cfg.IsDevelopment(),
		Service: "authd",
	})

	mongoClient, db, err := mongodb.Connect(ctx, mongodb.Config{
		URI:      cfg.Mongo.URI,
		Database: cfg.Mongo.Database,
		AppName:  "authd",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("mongo unavailable")
	}
	defer func() { _ = mongoClient.Disconnect(context.Background()) }()

	rdb, err := redisdb.Connect(ctx, redisdb.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("redis unavailable")
	}
	defer func() { _ = rdb.Close() }()

	auditService := service.NewAuditService(mongodb.NewAuditRepository(db), logger.Component("audit"))
	dispatcher := queue.NewDispatcher(cfg.AuditWorkers, auditService, logger.Component("audit"))
	dispatcher.Start(ctx)

	events := redisdb.NewEventBus(rdb, logger.Component("events"))
	profiles := mongodb.NewProfileRepository(db)

	authService := service.NewAuthService(
		mongodb.NewUserRepository(db),
		profiles,
		redisdb.NewTokenStore(rdb),
		events,
		dispatcher,
		service.TokenConfig{
			Secret:     cfg.Auth.JWTSecret,
			AccessTTL:  cfg.Auth.AccessTokenTTL,
			RefreshTTL: cfg.Auth.RefreshTokenTTL,
		},
		logger.Component("auth"),
	)
	profileService := service.NewProfileService(profiles, events, dispatcher, logger.Component("profiles"))

	e := api.NewRouter(api.Dependencies{
		AuthService:    authService,
		ProfileService: profileService,
		JWTSecret:      cfg.Auth.JWTSecret,
		Logger:         log,
		Readiness: map[string]handler.Pinger{
			"mongodb": handler.PingFunc(func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) }),
			"redis":   handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		},
	})

	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("authd listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
