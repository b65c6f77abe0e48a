package db

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kjannette/stockpulse-backend/internal/config"
	"github.com/kjannette/stockpulse-backend/internal/repository"
)

// Open connects to the configured driver, applies the schema and returns the
// store handle with its close func.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (repository.DB, func(), error) {
	switch cfg.DBDriver {
	case config.DriverSQLite:
		conn, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := MigrateSQLite(ctx, conn); err != nil {
			conn.Close()
			return nil, nil, err
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("sqlite store ready")
		return repository.NewSQLite(conn), func() { conn.Close() }, nil

	case config.DriverPostgres:
		pool, err := Connect(cfg.DSN())
		if err != nil {
			return nil, nil, err
		}
		if err := TestConnection(pool, log); err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := MigratePostgres(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Info().Str("host", cfg.DBHost).Str("name", cfg.DBName).Msg("postgres store ready")
		return repository.NewPostgres(pool), pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown database driver %q", cfg.DBDriver)
}
