// Package resolver answers symbol lookups through the fallback chain:
// cache, then store, then the upstream API, then synthetic data.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kjannette/stockpulse-backend/internal/external"
	"github.com/kjannette/stockpulse-backend/internal/logging"
	"github.com/kjannette/stockpulse-backend/internal/models"
	"github.com/kjannette/stockpulse-backend/internal/payload"
	"github.com/kjannette/stockpulse-backend/internal/repository"
)

const (
	DefaultPriceTTL    = time.Hour
	DefaultOverviewTTL = 24 * time.Hour
	DefaultSearchTTL   = time.Hour
	DefaultNameTTL     = 24 * time.Hour
	DefaultRecencyDays = 5
)

type Store interface {
	GetBySymbol(ctx context.Context, symbol string) (*models.Stock, error)
	UpsertOverview(ctx context.Context, ov *models.Overview) (int64, error)
	SaveSeries(ctx context.Context, ov *models.Overview, bars []models.PriceBar) (int64, error)
	BarsSince(ctx context.Context, stockID int64, since string) ([]models.PriceBar, error)
	LatestQuotes(ctx context.Context, symbols []string) ([]models.PopularQuote, error)
	Search(ctx context.Context, query string, limit int) ([]models.Stock, error)
	Symbols(ctx context.Context) ([]string, error)
}

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
	EvictExpired(ctx context.Context) (int64, error)
}

type Upstream interface {
	DailySeries(ctx context.Context, symbol string) (*external.DailySeries, error)
	Overview(ctx context.Context, symbol string) (*models.Overview, error)
	SymbolSearch(ctx context.Context, keywords string) ([]models.SearchResult, error)
}

type Generator interface {
	PriceSeries(symbol string) *models.PriceSeries
	Overview(symbol string) *models.Overview
}

type Options struct {
	// DemoMode skips the upstream source entirely.
	DemoMode bool

	PriceTTL    time.Duration
	OverviewTTL time.Duration
	SearchTTL   time.Duration
	NameTTL     time.Duration
	// RecencyDays is how old the newest stored bar may be and still be served.
	RecencyDays int

	// DisableSynthetic turns the synthetic fallback off per kind; those
	// lookups end in ErrNotFound instead.
	DisableSynthetic map[Kind]bool

	Now    func() time.Time
	Logger zerolog.Logger
}

func (o *Options) withDefaults() {
	if o.PriceTTL <= 0 {
		o.PriceTTL = DefaultPriceTTL
	}
	if o.OverviewTTL <= 0 {
		o.OverviewTTL = DefaultOverviewTTL
	}
	if o.SearchTTL <= 0 {
		o.SearchTTL = DefaultSearchTTL
	}
	if o.NameTTL <= 0 {
		o.NameTTL = DefaultNameTTL
	}
	if o.RecencyDays <= 0 {
		o.RecencyDays = DefaultRecencyDays
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type Service struct {
	store    Store
	cache    Cache
	upstream Upstream
	gen      Generator
	opts     Options
	log      zerolog.Logger
}

// New wires a Service. The store and cache handles are owned by the caller.
func New(store Store, cache Cache, upstream Upstream, gen Generator, opts Options) *Service {
	opts.withDefaults()
	return &Service{
		store:    store,
		cache:    cache,
		upstream: upstream,
		gen:      gen,
		opts:     opts,
		log:      logging.Component(opts.Logger, "resolver"),
	}
}

func (s *Service) DemoMode() bool { return s.opts.DemoMode }

// PriceSeries resolves the daily bars for symbol, newest first.
func (s *Service) PriceSeries(ctx context.Context, symbol string) (*models.PriceSeries, error) {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	log := logging.WithSymbol(s.log, sym)
	key := PriceSeriesKey(sym)

	if b, ok := s.cacheGet(ctx, log, key); ok {
		ps, err := payload.DecodePriceSeries(b)
		if err == nil {
			log.Debug().Msg("price series cache hit")
			return ps, nil
		}
		log.Debug().Err(err).Msg("ignoring unreadable cached price series")
	}

	if ps := s.storedSeries(ctx, log, sym); ps != nil {
		s.cacheSeries(ctx, log, key, ps)
		return ps, nil
	}

	if !s.opts.DemoMode {
		ps, err := s.fetchSeries(ctx, log, sym)
		switch {
		case err == nil:
			s.cacheSeries(ctx, log, key, ps)
			return ps, nil
		case errors.Is(err, external.ErrRateLimited):
			log.Warn().Err(err).Msg("upstream notice, using synthetic price series")
		default:
			log.Error().Err(err).Msg("price series fetch failed")
			return nil, fmt.Errorf("%w: price series %s: %v", ErrUnavailable, sym, err)
		}
	}

	if s.opts.DisableSynthetic[KindPriceSeries] {
		return nil, fmt.Errorf("%w: price series %s", ErrNotFound, sym)
	}
	ps := s.gen.PriceSeries(sym)
	ov := s.gen.Overview(sym)
	ov.Name = ps.Name
	if _, err := s.store.SaveSeries(ctx, ov, ps.Prices); err != nil {
		log.Error().Err(err).Msg("failed to store synthetic price series")
	}
	s.cacheSeries(ctx, log, key, ps)
	log.Info().Int("bars", len(ps.Prices)).Msg("served synthetic price series")
	return ps, nil
}

// Overview resolves the company profile for symbol.
func (s *Service) Overview(ctx context.Context, symbol string) (*models.Overview, error) {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	log := logging.WithSymbol(s.log, sym)
	key := OverviewKey(sym)

	if b, ok := s.cacheGet(ctx, log, key); ok {
		ov, err := payload.DecodeOverview(b)
		if err == nil {
			log.Debug().Msg("overview cache hit")
			return ov, nil
		}
		log.Debug().Err(err).Msg("ignoring unreadable cached overview")
	}

	stock, err := s.store.GetBySymbol(ctx, sym)
	if err != nil {
		log.Warn().Err(err).Msg("store lookup failed")
	} else if stock != nil {
		if ov := stock.Overview(); ov.Complete() {
			s.cacheOverview(ctx, log, key, ov)
			return ov, nil
		}
	}

	if !s.opts.DemoMode {
		ov, err := s.upstream.Overview(ctx, sym)
		switch {
		case err == nil:
			if _, err := s.store.UpsertOverview(ctx, ov); err != nil {
				log.Error().Err(err).Msg("failed to store overview")
			}
			s.cacheOverview(ctx, log, key, ov)
			return ov, nil
		case errors.Is(err, external.ErrRateLimited):
			log.Warn().Err(err).Msg("upstream notice, using synthetic overview")
		default:
			log.Error().Err(err).Msg("overview fetch failed")
			return nil, fmt.Errorf("%w: overview %s: %v", ErrUnavailable, sym, err)
		}
	}

	if s.opts.DisableSynthetic[KindOverview] {
		return nil, fmt.Errorf("%w: overview %s", ErrNotFound, sym)
	}
	ov := s.gen.Overview(sym)
	if _, err := s.store.UpsertOverview(ctx, ov); err != nil {
		log.Error().Err(err).Msg("failed to store synthetic overview")
	}
	s.cacheOverview(ctx, log, key, ov)
	return ov, nil
}

// storedSeries returns the recent stored bars, or nil when there are none.
func (s *Service) storedSeries(ctx context.Context, log zerolog.Logger, sym string) *models.PriceSeries {
	stock, err := s.store.GetBySymbol(ctx, sym)
	if err != nil {
		log.Warn().Err(err).Msg("store lookup failed")
		return nil
	}
	if stock == nil {
		return nil
	}
	since := repository.RecencyCutoff(s.opts.Now(), s.opts.RecencyDays)
	bars, err := s.store.BarsSince(ctx, stock.ID, since)
	if err != nil {
		log.Warn().Err(err).Msg("stored bars lookup failed")
		return nil
	}
	if len(bars) == 0 {
		return nil
	}
	return &models.PriceSeries{
		Symbol:      stock.Symbol,
		Name:        stock.Name,
		Prices:      bars,
		LastUpdated: stock.LastUpdated,
	}
}

// fetchSeries pulls bars from upstream and stores them with the best
// profile available.
func (s *Service) fetchSeries(ctx context.Context, log zerolog.Logger, sym string) (*models.PriceSeries, error) {
	daily, err := s.upstream.DailySeries(ctx, sym)
	if err != nil {
		return nil, err
	}
	if len(daily.Bars) == 0 {
		return nil, fmt.Errorf("%w: no usable bars for %s", external.ErrMalformed, sym)
	}
	if daily.Skipped > 0 {
		log.Warn().Int("skipped", daily.Skipped).Msg("dropped malformed bars")
	}

	name, _ := s.CompanyName(ctx, sym)
	if name == "" {
		name = sym
	}

	ov, err := s.Overview(ctx, sym)
	if err != nil {
		log.Warn().Err(err).Msg("overview unavailable, storing basic record")
		ov = &models.Overview{Symbol: sym, Name: name}
	}

	if _, err := s.store.SaveSeries(ctx, ov, daily.Bars); err != nil {
		log.Error().Err(err).Msg("failed to store price series")
	}

	return &models.PriceSeries{
		Symbol:      sym,
		Name:        name,
		Prices:      daily.Bars,
		LastUpdated: s.opts.Now(),
	}, nil
}

func (s *Service) cacheGet(ctx context.Context, log zerolog.Logger, key string) ([]byte, bool) {
	b, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache read failed")
		return nil, false
	}
	return b, ok
}

func (s *Service) cacheSet(ctx context.Context, log zerolog.Logger, key string, b []byte, ttl time.Duration) {
	if err := s.cache.Set(ctx, key, b, ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

func (s *Service) cacheSeries(ctx context.Context, log zerolog.Logger, key string, ps *models.PriceSeries) {
	b, err := payload.EncodePriceSeries(ps)
	if err != nil {
		log.Warn().Err(err).Msg("encode price series")
		return
	}
	s.cacheSet(ctx, log, key, b, s.opts.PriceTTL)
}

func (s *Service) cacheOverview(ctx context.Context, log zerolog.Logger, key string, ov *models.Overview) {
	b, err := payload.EncodeOverview(ov)
	if err != nil {
		log.Warn().Err(err).Msg("encode overview")
		return
	}
	s.cacheSet(ctx, log, key, b, s.opts.OverviewTTL)
}
