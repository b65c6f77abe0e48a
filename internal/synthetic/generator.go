// Package synthetic produces plausible stand-in market data for symbols the
// upstream source cannot serve. Values are random; only their shape is fixed.
package synthetic

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"

	"github.com/kjannette/stockpulse-backend/internal/models"
	"github.com/kjannette/stockpulse-backend/internal/repository"
)

const (
	defaultBasePrice = 100.0
	volatilityPct    = 0.02
	windowDays       = 30
	minPrice         = 0.01
	minVolume        = 5_000_000
	maxVolume        = 50_000_000

	minMarketCap     = 1e8
	maxMarketCap     = 2e12
	minPERatio       = 10.0
	maxPERatio       = 30.0
	maxDividendYield = 0.03

	defaultSector   = "Technology"
	defaultIndustry = "Software"
)

// Company is a row of the mock company table.
type Company struct {
	Symbol   string
	Name     string
	Sector   string
	Industry string
}

// popular is ordered; it doubles as the popular-symbol list.
var popular = []Company{
	{"AAPL", "Apple Inc.", "Technology", "Consumer Electronics"},
	{"MSFT", "Microsoft Corporation", "Technology", "Software"},
	{"GOOGL", "Alphabet Inc.", "Technology", "Internet Content & Information"},
	{"AMZN", "Amazon.com Inc.", "Consumer Cyclical", "Internet Retail"},
	{"TSLA", "Tesla Inc.", "Consumer Cyclical", "Auto Manufacturers"},
	{"META", "Meta Platforms Inc.", "Technology", "Internet Content & Information"},
	{"NVDA", "NVIDIA Corporation", "Technology", "Semiconductors"},
	{"JPM", "JPMorgan Chase & Co.", "Financial Services", "Banks"},
	{"V", "Visa Inc.", "Financial Services", "Credit Services"},
	{"WMT", "Walmart Inc.", "Consumer Defensive", "Discount Stores"},
}

var basePrices = map[string]float64{
	"AAPL":  175.0,
	"MSFT":  390.0,
	"GOOGL": 147.0,
	"AMZN":  182.0,
	"TSLA":  172.0,
	"META":  485.0,
	"NVDA":  880.0,
	"JPM":   196.0,
	"V":     275.0,
	"WMT":   60.0,
}

var companyIndex = func() map[string]Company {
	m := make(map[string]Company, len(popular))
	for _, c := range popular {
		m[c.Symbol] = c
	}
	return m
}()

// Companies returns a copy of the mock company table in popular order.
func Companies() []Company {
	out := make([]Company, len(popular))
	copy(out, popular)
	return out
}

// Symbols returns the popular-symbol list.
func Symbols() []string {
	out := make([]string, len(popular))
	for i, c := range popular {
		out[i] = c.Symbol
	}
	return out
}

// Lookup returns the mock company for symbol, or the default profile.
func Lookup(symbol string) (Company, bool) {
	if c, ok := companyIndex[symbol]; ok {
		return c, true
	}
	return Company{
		Symbol:   symbol,
		Name:     fmt.Sprintf("%s Inc.", symbol),
		Sector:   defaultSector,
		Industry: defaultIndustry,
	}, false
}

// BasePrice is the walk's starting price for symbol.
func BasePrice(symbol string) float64 {
	if p, ok := basePrices[symbol]; ok {
		return p
	}
	return defaultBasePrice
}

// Generator is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// New returns an unseeded generator on the wall clock.
func New() *Generator {
	return NewWithSource(rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())), time.Now)
}

// NewWithSource fixes randomness and time, for tests.
func NewWithSource(rng *rand.Rand, now func() time.Time) *Generator {
	return &Generator{rng: rng, now: now}
}

func (g *Generator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

// PriceSeries walks a random path over the trailing window, weekdays only,
// and returns it newest first.
func (g *Generator) PriceSeries(symbol string) *models.PriceSeries {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	today := now.In(repository.MarketLocation())
	start := today.AddDate(0, 0, -windowDays)

	base := BasePrice(symbol)
	vol := base * volatilityPct
	price := base

	bars := make([]models.PriceBar, 0, windowDays)
	for d := start; !d.After(today); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		open := price
		closePrice := open + g.uniform(-vol, vol)
		high := max(open, closePrice) + g.uniform(0, vol/2)
		low := min(open, closePrice) - g.uniform(0, vol/2)

		bars = append(bars, models.PriceBar{
			Date:   d.Format(repository.DateLayout),
			Open:   round2(open),
			High:   round2(high),
			Low:    round2(low),
			Close:  round2(closePrice),
			Volume: minVolume + g.rng.Int64N(maxVolume-minVolume+1),
		})
		price = max(closePrice, minPrice)
	}

	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}

	company, _ := Lookup(symbol)
	return &models.PriceSeries{
		Symbol:      symbol,
		Name:        company.Name,
		Prices:      bars,
		LastUpdated: now,
	}
}

// Overview pairs the mock profile with random valuation figures.
func (g *Generator) Overview(symbol string) *models.Overview {
	g.mu.Lock()
	defer g.mu.Unlock()

	company, _ := Lookup(symbol)
	return &models.Overview{
		Symbol:        symbol,
		Name:          company.Name,
		Sector:        null.StringFrom(company.Sector),
		Industry:      null.StringFrom(company.Industry),
		MarketCap:     null.FloatFrom(g.uniform(minMarketCap, maxMarketCap)),
		PERatio:       null.FloatFrom(g.uniform(minPERatio, maxPERatio)),
		DividendYield: null.FloatFrom(g.uniform(0, maxDividendYield)),
	}
}

// round2 rounds to cents and never returns less than one cent.
func round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return max(f, minPrice)
}
