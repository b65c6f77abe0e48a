package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS stocks (
		id             BIGSERIAL PRIMARY KEY,
		symbol         VARCHAR(16) NOT NULL UNIQUE,
		name           TEXT NOT NULL,
		sector         TEXT,
		industry       TEXT,
		market_cap     DOUBLE PRECISION,
		pe_ratio       DOUBLE PRECISION,
		dividend_yield DOUBLE PRECISION,
		last_updated   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS stock_prices (
		id         BIGSERIAL PRIMARY KEY,
		stock_id   BIGINT NOT NULL REFERENCES stocks(id) ON DELETE CASCADE,
		bar_date   TEXT NOT NULL,
		open       DOUBLE PRECISION NOT NULL,
		high       DOUBLE PRECISION NOT NULL,
		low        DOUBLE PRECISION NOT NULL,
		close      DOUBLE PRECISION NOT NULL,
		volume     BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (stock_id, bar_date)
	)`,
	`CREATE TABLE IF NOT EXISTS api_cache (
		id         BIGSERIAL PRIMARY KEY,
		key        TEXT NOT NULL UNIQUE,
		data       TEXT NOT NULL,
		expires_at BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_cache_expires ON api_cache(expires_at)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS stocks (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol         TEXT NOT NULL UNIQUE,
		name           TEXT NOT NULL,
		sector         TEXT,
		industry       TEXT,
		market_cap     REAL,
		pe_ratio       REAL,
		dividend_yield REAL,
		last_updated   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS stock_prices (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		stock_id   INTEGER NOT NULL REFERENCES stocks(id) ON DELETE CASCADE,
		bar_date   TEXT NOT NULL,
		open       REAL NOT NULL,
		high       REAL NOT NULL,
		low        REAL NOT NULL,
		close      REAL NOT NULL,
		volume     INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (stock_id, bar_date)
	)`,
	`CREATE TABLE IF NOT EXISTS api_cache (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		key        TEXT NOT NULL UNIQUE,
		data       TEXT NOT NULL,
		expires_at INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_cache_expires ON api_cache(expires_at)`,
}

// MigratePostgres creates the schema if it does not exist.
func MigratePostgres(ctx context.Context, p *pgxpool.Pool) error {
	for i, stmt := range postgresSchema {
		if _, err := p.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}

// MigrateSQLite creates the schema if it does not exist.
func MigrateSQLite(ctx context.Context, db *sql.DB) error {
	for i, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
