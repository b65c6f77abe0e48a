package repository

import (
	"context"
	"time"

	"github.com/kjannette/stockpulse-backend/internal/models"
)

// CacheRepo stores opaque payloads with an absolute expiry. Expiry is kept as
// unix milliseconds so both backends compare it the same way.
type CacheRepo struct {
	db  DB
	now func() time.Time
}

func NewCacheRepo(db DB) *CacheRepo {
	return &CacheRepo{db: db, now: time.Now}
}

// WithClock replaces the clock used for expiry checks.
func (r *CacheRepo) WithClock(now func() time.Time) *CacheRepo {
	r.now = now
	return r
}

// Get returns the payload for key. An entry whose expiry is at or before now
// is reported as missing.
func (r *CacheRepo) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var data string
	err := r.db.QueryRow(ctx,
		`SELECT data FROM api_cache WHERE key = ? AND expires_at > ?`,
		key, r.now().UnixMilli(),
	).Scan(&data)
	if err != nil {
		if isNoRows(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return []byte(data), true, nil
}

// Entry returns the raw row for key regardless of expiry, or nil.
func (r *CacheRepo) Entry(ctx context.Context, key string) (*models.CacheEntry, error) {
	var (
		e         models.CacheEntry
		data      string
		expiresMs int64
	)
	err := r.db.QueryRow(ctx,
		`SELECT key, data, expires_at FROM api_cache WHERE key = ?`, key,
	).Scan(&e.Key, &data, &expiresMs)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	e.Data = []byte(data)
	e.ExpiresAt = time.UnixMilli(expiresMs)
	return &e, nil
}

// Set writes data under key, replacing any existing row in a single statement.
func (r *CacheRepo) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	expires := r.now().Add(ttl).UnixMilli()
	_, err := r.db.Exec(ctx,
		`INSERT INTO api_cache (key, data, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at`,
		key, string(data), expires,
	)
	return err
}

// Invalidate removes key. Missing keys are not an error.
func (r *CacheRepo) Invalidate(ctx context.Context, key string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM api_cache WHERE key = ?`, key)
	return err
}

// EvictExpired deletes every entry whose expiry is at or before now.
func (r *CacheRepo) EvictExpired(ctx context.Context) (int64, error) {
	return r.db.Exec(ctx, `DELETE FROM api_cache WHERE expires_at <= ?`, r.now().UnixMilli())
}

// Clear deletes every entry.
func (r *CacheRepo) Clear(ctx context.Context) (int64, error) {
	return r.db.Exec(ctx, `DELETE FROM api_cache`)
}
