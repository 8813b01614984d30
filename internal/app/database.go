package app

import (
	"context"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/repository"
)

// database holds the connections behind a SQL task store.
type database struct {
	drv  *entsql.Driver
	pool *pgxpool.Pool
}

// openStore returns the configured task store. The memory driver needs no
// connection and returns a zero database.
func openStore(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (repository.TaskStore, database, error) {
	if cfg.Driver == "" || cfg.Driver == repository.DriverMemory {
		logger.Info("using in-memory task store")
		return repository.NewMemoryStore(), database{}, nil
	}

	drv, pool, err := repository.Open(ctx, repository.Config{
		Driver:           cfg.Driver,
		DSN:              cfg.DSN,
		MaxConns:         cfg.MaxConns,
		MinConns:         cfg.MinConns,
		MaxConnLifetime:  cfg.MaxConnLifetime,
		MaxConnIdleTime:  cfg.MaxConnIdleTime,
		DialTimeout:      cfg.DialTimeout,
		StatementTimeout: cfg.StatementTimeout,
	}, logger)
	if err != nil {
		return nil, database{}, common.NewAppError("DB_OPEN", "failed to open database", err)
	}
	db := database{drv: drv, pool: pool}

	if err := db.ping(ctx, cfg.DialTimeout, logger); err != nil {
		db.close(logger)
		return nil, database{}, common.NewAppError("DB_PING", "database is not reachable", err)
	}

	store, err := repository.NewSQLStore(ctx, drv, logger)
	if err != nil {
		db.close(logger)
		return nil, database{}, err
	}
	return store, db, nil
}

func (d database) ping(ctx context.Context, timeout time.Duration, logger *slog.Logger) error {
	if d.drv == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return repository.HealthCheck(ctx, d.drv, d.pool, timeout, logger)
}

func (d database) close(logger *slog.Logger) {
	if d.drv == nil && d.pool == nil {
		return
	}
	repository.Close(d.drv, d.pool, logger)
}
