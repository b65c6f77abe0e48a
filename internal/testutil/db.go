package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/kjannette/stockpulse-backend/internal/db"
)

// SetupPool creates a migrated pgxpool.Pool for integration tests.
// Connection details come from env vars or sensible defaults; the test is
// skipped when no server answers.
func SetupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	_ = godotenv.Load("../../.env")

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		host := EnvOr("DB_HOST", "localhost")
		port := EnvOr("DB_PORT", "5432")
		name := EnvOr("DB_NAME", "stockpulse_test")
		user := EnvOr("DB_USER", "postgres")
		pass := EnvOr("DB_PASSWORD", "")
		dsn = "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=disable"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("postgres not configured: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("postgres not reachable: %v", err)
	}
	if err := db.MigratePostgres(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

// SetupSQLite opens a fresh migrated in-memory database.
func SetupSQLite(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.OpenSQLite(db.MemoryPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.MigrateSQLite(context.Background(), conn); err != nil {
		conn.Close()
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func EnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
