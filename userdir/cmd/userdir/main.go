package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bugtracker/history-stack/common/docstore"
	"github.com/bugtracker/history-stack/common/logging"
	"github.com/bugtracker/history-stack/common/middleware"
	"github.com/bugtracker/history-stack/common/tokens"
	"github.com/bugtracker/history-stack/userdir/internal/cache"
	"github.com/bugtracker/history-stack/userdir/internal/config"
	"github.com/bugtracker/history-stack/userdir/internal/handlers"
	"github.com/bugtracker/history-stack/userdir/internal/repository"
	"github.com/bugtracker/history-stack/userdir/internal/server"
	"github.com/bugtracker/history-stack/userdir/internal/service"

	natsclient "github.com/bugtracker/history-stack/common/messaging/nats"
	usernats "github.com/bugtracker/history-stack/userdir/internal/nats"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("userdir"))
	logging.SetDefault(logger)

	slog.Info("Starting User Directory service",
		slog.Int("port", cfg.Server.Port),
		slog.Bool("redis_enabled", cfg.Redis.Enabled),
		slog.Duration("cache_ttl", cfg.Users.CacheTTL),
	)
	if cfg.Auth.JWTSecret == "" {
		fatal("auth.jwt_secret must be set", nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := docstore.Open(ctx, cfg.Database)
	if err != nil {
		fatal("Failed to open document store", err)
	}
	defer store.Close()

	// Redis is optional; without it every lookup reads the store
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("Redis unavailable, user cache disabled", logging.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	js, err := natsclient.NewJetStreamClient(natsclient.ConfigFrom(cfg.NATS, "userdir"))
	if err != nil {
		fatal("Failed to connect to NATS", err)
	}
	defer js.Close()

	dir := service.NewDirectory(
		repository.NewUserStore(store, cfg.Users.Collection),
		cache.NewUserCache(redisClient, cfg.Users.CacheTTL),
	)

	lookupConsumer := usernats.NewConsumer(js, js, dir, cfg.Consumer)
	consumerDone := make(chan error, 1)
	go func() { consumerDone <- lookupConsumer.Run(ctx) }()

	auth := middleware.NewAuth(tokens.NewSigner(cfg.Auth.JWTSecret, cfg.Auth.Issuer))
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.NewRouter(handlers.NewHandler(dir).WithBroker(js), auth, logger.Logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("User Directory listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("Server error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", logging.Error(err))
	}

	select {
	case err := <-consumerDone:
		if err != nil {
			slog.Error("Lookup consumer stopped with error", logging.Error(err))
		}
	case <-time.After(10 * time.Second):
		slog.Warn("Lookup consumer did not stop in time")
	}

	if err := js.Drain(); err != nil {
		slog.Warn("Failed to drain NATS connection", logging.Error(err))
	}
	slog.Info("Server stopped")
}

func fatal(msg string, err error) {
	slog.Error(msg, logging.Error(err))
	os.Exit(1)
}
