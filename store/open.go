package store

import (
	"context"
	"fmt"
	"log/slog"

	jobs "github.com/MickLesk/syncspace-sub002"
	"github.com/MickLesk/syncspace-sub002/store/memory"
	"github.com/MickLesk/syncspace-sub002/store/mongo"
	"github.com/MickLesk/syncspace-sub002/store/postgres"
	redisstore "github.com/MickLesk/syncspace-sub002/store/redis"
	"github.com/MickLesk/syncspace-sub002/store/sqlite"
)

// Open connects the backend named by cfg.Driver. The returned store owns
// its connection and releases it on Close. Migrate is not called.
func Open(ctx context.Context, cfg jobs.StoreConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Driver {
	case "", "memory":
		return memory.New(), nil
	case "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = ":memory:"
		}
		return sqlite.New(dsn, sqlite.WithLogger(logger))
	case "postgres":
		return postgres.New(ctx, cfg.DSN, postgres.WithLogger(logger))
	case "redis":
		return redisstore.Open(cfg.DSN, redisstore.WithLogger(logger))
	case "mongo":
		db := cfg.Database
		if db == "" {
			db = "jobs"
		}
		return mongo.Open(ctx, cfg.DSN, db, mongo.WithLogger(logger))
	default:
		return nil, &jobs.ValidationError{Field: "store.driver", Reason: fmt.Sprintf("unknown driver %q", cfg.Driver)}
	}
}
