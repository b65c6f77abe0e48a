package repository

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the query surface shared by the Postgres and SQLite backends.
// Queries are written with ? placeholders; the Postgres adapter rebinds them.
type DB interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	QueryRow(ctx context.Context, query string, args ...any) Row
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	// InTx runs fn inside a transaction, committing on nil and rolling back
	// otherwise. Nested calls reuse the outer transaction.
	InTx(ctx context.Context, fn func(DB) error) error
	Ping(ctx context.Context) error
}

type Row interface {
	Scan(dest ...any) error
}

type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

// --- postgres ---

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type pgDB struct {
	pool *pgxpool.Pool
	q    pgQuerier
	inTx bool
}

// NewPostgres adapts a pgx pool to DB.
func NewPostgres(pool *pgxpool.Pool) DB {
	return &pgDB{pool: pool, q: pool}
}

func (d *pgDB) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := d.q.Exec(ctx, rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (d *pgDB) QueryRow(ctx context.Context, query string, args ...any) Row {
	return d.q.QueryRow(ctx, rebind(query), args...)
}

func (d *pgDB) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	return d.q.Query(ctx, rebind(query), args...)
}

func (d *pgDB) InTx(ctx context.Context, fn func(DB) error) error {
	if d.inTx {
		return fn(d)
	}
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgDB{pool: d.pool, q: tx, inTx: true}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (d *pgDB) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

// rebind turns ? placeholders into $1, $2, ...
func rebind(query string) string {
	if !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// --- sqlite (database/sql) ---

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type sqlDB struct {
	db   *sql.DB
	q    sqlQuerier
	inTx bool
}

// NewSQLite adapts a database/sql handle opened on the sqlite driver to DB.
func NewSQLite(db *sql.DB) DB {
	return &sqlDB{db: db, q: db}
}

func (d *sqlDB) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := d.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *sqlDB) QueryRow(ctx context.Context, query string, args ...any) Row {
	return d.q.QueryRowContext(ctx, query, args...)
}

func (d *sqlDB) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := d.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRows{rows}, nil
}

func (d *sqlDB) InTx(ctx context.Context, fn func(DB) error) error {
	if d.inTx {
		return fn(d)
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(&sqlDB{db: d.db, q: tx, inTx: true}); err != nil {
		return err
	}
	return tx.Commit()
}

func (d *sqlDB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

type sqlRows struct {
	*sql.Rows
}

func (r sqlRows) Close() {
	_ = r.Rows.Close()
}
