package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kjannette/stockpulse-backend/internal/external"
	"github.com/kjannette/stockpulse-backend/internal/logging"
	"github.com/kjannette/stockpulse-backend/internal/models"
	"github.com/kjannette/stockpulse-backend/internal/payload"
	"github.com/kjannette/stockpulse-backend/internal/synthetic"
)

const (
	searchStoreLimit = 10
	searchMinResults = 5

	defaultResultType   = "Common Stock"
	defaultResultRegion = "United States"
)

// Popular returns the latest close of every popular symbol, in list order.
func (s *Service) Popular(ctx context.Context) ([]models.PopularQuote, error) {
	symbols := synthetic.Symbols()

	stored, err := s.store.LatestQuotes(ctx, symbols)
	if err != nil {
		s.log.Warn().Err(err).Msg("latest quotes lookup failed")
	}
	bySymbol := make(map[string]models.PopularQuote, len(symbols))
	for _, q := range stored {
		bySymbol[q.Symbol] = q
	}

	for _, sym := range symbols {
		if _, ok := bySymbol[sym]; ok {
			continue
		}
		ps, err := s.PriceSeries(ctx, sym)
		if err != nil {
			log := logging.WithSymbol(s.log, sym)
			log.Warn().Err(err).Msg("popular symbol unresolved")
			continue
		}
		if q, ok := quoteFrom(ps); ok {
			bySymbol[sym] = q
		}
	}

	if len(bySymbol) == 0 {
		s.log.Warn().Msg("no popular quotes resolved, using synthetic quotes")
		for _, sym := range symbols {
			if q, ok := quoteFrom(s.gen.PriceSeries(sym)); ok {
				bySymbol[sym] = q
			}
		}
	}

	out := make([]models.PopularQuote, 0, len(bySymbol))
	for _, sym := range symbols {
		if q, ok := bySymbol[sym]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

func quoteFrom(ps *models.PriceSeries) (models.PopularQuote, bool) {
	latest := ps.Latest()
	if latest == nil {
		return models.PopularQuote{}, false
	}
	return models.PopularQuote{
		Symbol:      ps.Symbol,
		Name:        ps.Name,
		LatestPrice: latest.Close,
		LastUpdated: latest.Date,
	}, true
}

// Search matches query against stored symbols and names first and tops up
// thin results from the cache, the mock table or the upstream search.
func (s *Service) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, fmt.Errorf("%w: empty search query", ErrInvalid)
	}
	log := s.log.With().Str("query", q).Logger()

	stocks, err := s.store.Search(ctx, q, searchStoreLimit)
	if err != nil {
		log.Warn().Err(err).Msg("store search failed")
	}
	results := make([]models.SearchResult, 0, len(stocks))
	for _, st := range stocks {
		results = append(results, models.SearchResult{
			Symbol: st.Symbol,
			Name:   st.Name,
			Type:   defaultResultType,
			Region: defaultResultRegion,
		})
	}
	if len(results) >= searchMinResults {
		return results, nil
	}

	extra, err := s.searchFallback(ctx, q)
	if err != nil {
		log.Warn().Err(err).Msg("search fallback failed, returning stored matches only")
		return results, nil
	}
	return mergeResults(results, extra), nil
}

func (s *Service) searchFallback(ctx context.Context, q string) ([]models.SearchResult, error) {
	key := SearchKey(q)
	log := s.log.With().Str("query", q).Logger()

	if b, ok := s.cacheGet(ctx, log, key); ok {
		rs, err := payload.DecodeSearchResults(b)
		if err == nil {
			return rs, nil
		}
		log.Debug().Err(err).Msg("ignoring unreadable cached search")
	}

	var rs []models.SearchResult
	if s.opts.DemoMode {
		rs = mockSearch(q)
	} else {
		found, err := s.upstream.SymbolSearch(ctx, q)
		switch {
		case err == nil:
			rs = found
		case errors.Is(err, external.ErrRateLimited):
			log.Warn().Err(err).Msg("upstream notice, using mock search")
			rs = mockSearch(q)
		default:
			return nil, err
		}
	}

	if b, err := payload.EncodeSearchResults(rs); err == nil {
		s.cacheSet(ctx, log, key, b, s.opts.SearchTTL)
	}
	return rs, nil
}

func mockSearch(q string) []models.SearchResult {
	upper, lower := strings.ToUpper(q), strings.ToLower(q)
	out := []models.SearchResult{}
	for _, c := range synthetic.Companies() {
		if strings.Contains(c.Symbol, upper) || strings.Contains(strings.ToLower(c.Name), lower) {
			out = append(out, models.SearchResult{
				Symbol: c.Symbol,
				Name:   c.Name,
				Type:   defaultResultType,
				Region: defaultResultRegion,
			})
		}
	}
	return out
}

// mergeResults keeps primary first and drops extra entries whose symbol is
// already present.
func mergeResults(primary, extra []models.SearchResult) []models.SearchResult {
	seen := make(map[string]bool, len(primary)+len(extra))
	out := make([]models.SearchResult, 0, len(primary)+len(extra))
	for _, group := range [][]models.SearchResult{primary, extra} {
		for _, r := range group {
			if seen[r.Symbol] {
				continue
			}
			seen[r.Symbol] = true
			out = append(out, r)
		}
	}
	return out
}

// CompanyName resolves a display name for symbol. It falls back to the
// symbol itself when no source knows it.
func (s *Service) CompanyName(ctx context.Context, symbol string) (string, error) {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return "", err
	}
	log := logging.WithSymbol(s.log, sym)
	key := CompanyNameKey(sym)

	if b, ok := s.cacheGet(ctx, log, key); ok {
		if name, err := payload.DecodeCompanyName(b); err == nil {
			return name, nil
		}
	}

	remember := func(name string) string {
		if b, err := payload.EncodeCompanyName(name); err == nil {
			s.cacheSet(ctx, log, key, b, s.opts.NameTTL)
		}
		return name
	}

	stock, err := s.store.GetBySymbol(ctx, sym)
	if err != nil {
		log.Warn().Err(err).Msg("store lookup failed")
	} else if stock != nil && stock.Name != "" {
		return remember(stock.Name), nil
	}

	mock, _ := synthetic.Lookup(sym)
	if s.opts.DemoMode {
		return remember(mock.Name), nil
	}

	matches, err := s.upstream.SymbolSearch(ctx, sym)
	switch {
	case err == nil:
		for _, m := range matches {
			if strings.EqualFold(m.Symbol, sym) && m.Name != "" {
				return remember(m.Name), nil
			}
		}
	case errors.Is(err, external.ErrRateLimited):
		log.Warn().Err(err).Msg("upstream notice, using mock company name")
		return mock.Name, nil
	default:
		log.Warn().Err(err).Msg("company name lookup failed")
	}
	return sym, nil
}

// InvalidatePriceSeries drops the cached series so the next lookup goes
// past the cache.
func (s *Service) InvalidatePriceSeries(ctx context.Context, symbol string) error {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return err
	}
	if err := s.cache.Invalidate(ctx, PriceSeriesKey(sym)); err != nil {
		return fmt.Errorf("invalidate %s: %w", sym, err)
	}
	return nil
}

// EvictExpired deletes every expired cache row and returns how many went.
func (s *Service) EvictExpired(ctx context.Context) (int64, error) {
	n, err := s.cache.EvictExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("evict expired cache: %w", err)
	}
	return n, nil
}

func (s *Service) StoredSymbols(ctx context.Context) ([]string, error) {
	syms, err := s.store.Symbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stored symbols: %w", err)
	}
	return syms, nil
}
