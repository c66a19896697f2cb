// Command coachctl signs in to the fitcoach backend and follows the session
// state the way a client app does: it prints every published state and the
// route the user would be redirected to.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fitcoach/coach-system/internal/core/domain"
	"github.com/fitcoach/coach-system/internal/core/service"
	"github.com/fitcoach/coach-system/internal/infrastructure/backend"
	"github.com/fitcoach/coach-system/internal/infrastructure/config"
	redisdb "github.com/fitcoach/coach-system/internal/infrastructure/db/redis"
	"github.com/fitcoach/coach-system/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	email := flag.String("email", os.Getenv("COACH_EMAIL"), "account email")
	password := flag.String("password", os.Getenv("COACH_PASSWORD"), "account password")
	pretty := flag.Bool("pretty", true, "human-readable logs")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadClient(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logger.Init(logger.Options{Level: cfg.LogLevel, Pretty: *pretty, Service: "coachctl"})

	opts := []backend.Option{backend.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout})}
	if cfg.RedisAddr != "" {
		rdb, err := redisdb.Connect(ctx, redisdb.Config{Addr: cfg.RedisAddr})
		if err != nil {
			log.Warn().Err(err).Msg("remote auth events disabled")
		} else {
			defer func() { _ = rdb.Close() }()
			opts = append(opts, backend.WithEventFeed(redisdb.NewEventBus(rdb, logger.Component("events"))))
		}
	}

	client := backend.NewClient(cfg.BackendURL, logger.Component("backend"), opts...)
	resolver := service.NewRoleResolver(client, service.RoleResolverOptions{
		BaseDelay:  cfg.RoleRetryBase,
		MaxRetries: cfg.RoleMaxRetries,
	}, logger.Component("roles"))
	manager := service.NewSessionManager(client, resolver, logger.Component("session"))

	unsubscribe := manager.Subscribe(func(s domain.SessionState) {
		printState(s)
	})
	defer unsubscribe()

	manager.Start(ctx)
	defer manager.Stop()

	if !manager.State().Authenticated() && *email != "" {
		signInCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
		_, err := client.SignInWithPassword(signInCtx, *email, *password)
		cancel()
		if err != nil {
			log.Error().Err(err).Msg("sign in failed")
		}
	}

	go client.StartAutoRefresh(ctx, 30*time.Second, 2*time.Minute)

	<-ctx.Done()
	manager.Wait()

	signOutCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()
	if err := client.SignOut(signOutCtx); err != nil {
		log.Warn().Err(err).Msg("sign out failed")
	}
}

func printState(s domain.SessionState) {
	who := "anonymous"
	if s.Identity != nil {
		who = s.Identity.Email
		if who == "" {
			who = s.Identity.ID
		}
	}
	route := domain.LandingRoute(s)
	if route == "" {
		route = "(loading)"
	}
	fmt.Printf("session: user=%s role=%s loading=%t route=%s\n", who, s.Role, s.Loading, route)
}
