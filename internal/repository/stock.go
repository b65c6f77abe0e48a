package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kjannette/stockpulse-backend/internal/models"
)

const stockColumns = `id, symbol, name, sector, industry, market_cap, pe_ratio, dividend_yield, last_updated`

type StockRepo struct {
	db  DB
	now func() time.Time
}

func NewStockRepo(db DB) *StockRepo {
	return &StockRepo{db: db, now: time.Now}
}

// GetBySymbol returns the stored row, or nil when the symbol is unknown.
func (r *StockRepo) GetBySymbol(ctx context.Context, symbol string) (*models.Stock, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+stockColumns+` FROM stocks WHERE symbol = ?`, symbol)
	s, err := scanStock(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// UpsertOverview inserts or updates the stock row for ov.Symbol and returns
// its id. Null descriptive fields never overwrite values already stored.
func (r *StockRepo) UpsertOverview(ctx context.Context, ov *models.Overview) (int64, error) {
	return upsertStock(ctx, r.db, ov, r.now())
}

// SaveSeries upserts the stock row and every bar in one transaction.
func (r *StockRepo) SaveSeries(ctx context.Context, ov *models.Overview, bars []models.PriceBar) (int64, error) {
	var stockID int64
	err := r.db.InTx(ctx, func(tx DB) error {
		id, err := upsertStock(ctx, tx, ov, r.now())
		if err != nil {
			return fmt.Errorf("upsert stock: %w", err)
		}
		stockID = id
		for _, b := range bars {
			if _, err := tx.Exec(ctx,
				`INSERT INTO stock_prices (stock_id, bar_date, open, high, low, close, volume)
				 VALUES (?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT (stock_id, bar_date) DO UPDATE SET
				   open = excluded.open, high = excluded.high, low = excluded.low,
				   close = excluded.close, volume = excluded.volume`,
				id, b.Date, b.Open, b.High, b.Low, b.Close, b.Volume,
			); err != nil {
				return fmt.Errorf("upsert bar %s: %w", b.Date, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return stockID, nil
}

// BarsSince returns bars dated on or after since (YYYY-MM-DD), newest first.
func (r *StockRepo) BarsSince(ctx context.Context, stockID int64, since string) ([]models.PriceBar, error) {
	rows, err := r.db.Query(ctx,
		`SELECT bar_date, open, high, low, close, volume FROM stock_prices
		 WHERE stock_id = ? AND bar_date >= ?
		 ORDER BY bar_date DESC`,
		stockID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBars(rows)
}

// LatestQuotes returns the newest close for each stored symbol in symbols.
func (r *StockRepo) LatestQuotes(ctx context.Context, symbols []string) ([]models.PopularQuote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	args := make([]any, len(symbols))
	for i, s := range symbols {
		args[i] = s
	}
	rows, err := r.db.Query(ctx,
		`SELECT s.symbol, s.name, p.close, p.bar_date
		 FROM stocks s
		 JOIN stock_prices p ON p.stock_id = s.id
		 WHERE s.symbol IN (`+placeholders(len(symbols))+`)
		   AND p.bar_date = (SELECT MAX(bar_date) FROM stock_prices WHERE stock_id = s.id)
		 ORDER BY s.symbol`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PopularQuote
	for rows.Next() {
		var q models.PopularQuote
		if err := rows.Scan(&q.Symbol, &q.Name, &q.LatestPrice, &q.LastUpdated); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// Search matches query as a case-insensitive substring of symbol or name.
func (r *StockRepo) Search(ctx context.Context, query string, limit int) ([]models.Stock, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	rows, err := r.db.Query(ctx,
		`SELECT `+stockColumns+` FROM stocks
		 WHERE LOWER(symbol) LIKE ? ESCAPE '\' OR LOWER(name) LIKE ? ESCAPE '\'
		 ORDER BY symbol
		 LIMIT ?`,
		pattern, pattern, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectStocks(rows)
}

// Symbols lists every stored symbol.
func (r *StockRepo) Symbols(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT symbol FROM stocks ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// List returns every stored stock row.
func (r *StockRepo) List(ctx context.Context) ([]models.Stock, error) {
	rows, err := r.db.Query(ctx, `SELECT `+stockColumns+` FROM stocks ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectStocks(rows)
}

type StoreStats struct {
	Stocks int64 `json:"stocks"`
	Prices int64 `json:"prices"`
	Cache  int64 `json:"cache"`
}

func (r *StockRepo) Stats(ctx context.Context) (*StoreStats, error) {
	var st StoreStats
	err := r.db.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM stocks),
		        (SELECT COUNT(*) FROM stock_prices),
		        (SELECT COUNT(*) FROM api_cache)`,
	).Scan(&st.Stocks, &st.Prices, &st.Cache)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func upsertStock(ctx context.Context, db DB, ov *models.Overview, now time.Time) (int64, error) {
	var id int64
	err := db.QueryRow(ctx,
		`INSERT INTO stocks (symbol, name, sector, industry, market_cap, pe_ratio, dividend_yield, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (symbol) DO UPDATE SET
		   name = excluded.name,
		   sector = COALESCE(excluded.sector, stocks.sector),
		   industry = COALESCE(excluded.industry, stocks.industry),
		   market_cap = COALESCE(excluded.market_cap, stocks.market_cap),
		   pe_ratio = COALESCE(excluded.pe_ratio, stocks.pe_ratio),
		   dividend_yield = COALESCE(excluded.dividend_yield, stocks.dividend_yield),
		   last_updated = excluded.last_updated
		 RETURNING id`,
		ov.Symbol, ov.Name, ov.Sector, ov.Industry,
		ov.MarketCap, ov.PERatio, ov.DividendYield, now.UTC(),
	).Scan(&id)
	return id, err
}

// --- scan helpers ---

func scanStock(row Row) (*models.Stock, error) {
	var s models.Stock
	err := row.Scan(&s.ID, &s.Symbol, &s.Name, &s.Sector, &s.Industry,
		&s.MarketCap, &s.PERatio, &s.DividendYield, &s.LastUpdated)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func collectStocks(rows Rows) ([]models.Stock, error) {
	var out []models.Stock
	for rows.Next() {
		s, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func collectBars(rows Rows) ([]models.PriceBar, error) {
	var out []models.PriceBar
	for rows.Next() {
		var b models.PriceBar
		if err := rows.Scan(&b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
