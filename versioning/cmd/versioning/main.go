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
	"github.com/bugtracker/history-stack/common/events"
	"github.com/bugtracker/history-stack/common/logging"
	"github.com/bugtracker/history-stack/common/middleware"
	"github.com/bugtracker/history-stack/common/tokens"
	"github.com/bugtracker/history-stack/versioning/internal/config"
	"github.com/bugtracker/history-stack/versioning/internal/handlers"
	"github.com/bugtracker/history-stack/versioning/internal/repository"
	"github.com/bugtracker/history-stack/versioning/internal/server"
	"github.com/bugtracker/history-stack/versioning/internal/service"

	natsclient "github.com/bugtracker/history-stack/common/messaging/nats"
	versionnats "github.com/bugtracker/history-stack/versioning/internal/nats"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("versioning"))
	logging.SetDefault(logger)

	slog.Info("Starting Versioning service",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Logging.Level),
		slog.String("database_driver", cfg.Database.Driver),
	)
	if cfg.Auth.JWTSecret == "" {
		fatal("auth.jwt_secret must be set", nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Document store
	store, err := docstore.Open(ctx, cfg.Database)
	if err != nil {
		fatal("Failed to open document store", err)
	}
	defer store.Close()

	// Broker connection, owned here and shared by the consumer and the log publisher
	js, err := natsclient.NewJetStreamClient(natsclient.ConfigFrom(cfg.NATS, "versioning"))
	if err != nil {
		fatal("Failed to connect to NATS", err)
	}
	defer js.Close()
	if err := js.EnsureStream(ctx, natsclient.LogEventsStream); err != nil {
		fatal("Failed to declare log stream", err)
	}

	versions := repository.NewVersionStore(store, cfg.Versioning.ItemTypes)
	svc := service.NewService(versions)
	logs := events.NewLogPublisher(js, "versioning", audit.NewSigner(cfg.Audit.SigningSecret))

	// Version writer
	eventConsumer := versionnats.NewConsumer(js, versionnats.NewEventHandler(svc), cfg.Consumer)
	consumerDone := make(chan error, 1)
	go func() { consumerDone <- eventConsumer.Run(ctx) }()

	// HTTP facade
	handler := handlers.NewHandler(svc, logs).WithBroker(js)
	auth := middleware.NewAuth(tokens.NewSigner(cfg.Auth.JWTSecret, cfg.Auth.Issuer))
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.NewRouter(handler, auth, logger.Logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Versioning service listening", slog.String("addr", srv.Addr))
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
			slog.Error("Version consumer stopped with error", logging.Error(err))
		}
	case <-time.After(10 * time.Second):
		slog.Warn("Version consumer did not stop in time")
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
