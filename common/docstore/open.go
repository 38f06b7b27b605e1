package docstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bugtracker/history-stack/common/config"
)

// Open returns the store selected by cfg.Driver. The postgres driver migrates the schema first.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		slog.Warn("Using in-memory document store; data is lost on restart")
		return NewMemoryStore(), nil
	case "postgres", "":
		connString := cfg.Postgres.ConnString()
		slog.Info("Running database migrations", slog.String("host", cfg.Postgres.Host), slog.String("database", cfg.Postgres.Database))
		if err := Migrate(connString); err != nil {
			return nil, err
		}
		return NewPostgresStore(ctx, connString)
	default:
		return nil, fmt.Errorf("unknown database driver %q (supported: postgres, memory)", cfg.Driver)
	}
}
