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

	"github.com/bugtracker/history-stack/common/audit"
	"github.com/bugtracker/history-stack/common/docstore"
	"github.com/bugtracker/history-stack/common/logging"
	"github.com/bugtracker/history-stack/common/middleware"
	"github.com/bugtracker/history-stack/common/tokens"
	"github.com/bugtracker/history-stack/logger/internal/config"
	"github.com/bugtracker/history-stack/logger/internal/dlq"
	"github.com/bugtracker/history-stack/logger/internal/handlers"
	"github.com/bugtracker/history-stack/logger/internal/repository"
	"github.com/bugtracker/history-stack/logger/internal/server"
	"github.com/bugtracker/history-stack/logger/internal/service"

	natsclient "github.com/bugtracker/history-stack/common/messaging/nats"
	lognats "github.com/bugtracker/history-stack/logger/internal/nats"
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
	).With(logging.Service("logger"))
	logging.SetDefault(logger)

	slog.Info("Starting Logger service",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Logging.Level),
		slog.String("database_driver", cfg.Database.Driver),
		slog.Int("max_attempts", cfg.Logs.MaxAttempts),
	)
	if cfg.Auth.JWTSecret == "" {
		fatal("auth.jwt_secret must be set", nil)
	}
	if cfg.Audit.SigningSecret == "" {
		slog.Warn("audit.signing_secret is empty, log entries are accepted unsigned")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := docstore.Open(ctx, cfg.Database)
	if err != nil {
		fatal("Failed to open document store", err)
	}
	defer store.Close()

	js, err := natsclient.NewJetStreamClient(natsclient.ConfigFrom(cfg.NATS, "logger"))
	if err != nil {
		fatal("Failed to connect to NATS", err)
	}
	defer js.Close()

	deadLetters, err := dlq.NewQueue(ctx, js)
	if err != nil {
		fatal("Failed to initialize DLQ", err)
	}

	logs := repository.NewLogStore(store, cfg.Logs.Collection)
	svc := service.NewService(logs, audit.NewSigner(cfg.Audit.SigningSecret))

	logConsumer := lognats.NewConsumer(js, lognats.NewEventHandler(svc), deadLetters.Park, cfg.Consumer, cfg.Logs.MaxAttempts)
	consumerDone := make(chan error, 1)
	go func() { consumerDone <- logConsumer.Run(ctx) }()

	handler := handlers.NewHandler(svc, deadLetters).WithBroker(js)
	auth := middleware.NewAuth(tokens.NewSigner(cfg.Auth.JWTSecret, cfg.Auth.Issuer))
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.NewRouter(handler, auth, logger.Logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Logger service listening", slog.String("addr", srv.Addr))
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
			slog.Error("Log consumer stopped with error", logging.Error(err))
		}
	case <-time.After(10 * time.Second):
		slog.Warn("Log consumer did not stop in time")
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
