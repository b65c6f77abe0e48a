package models

import (
	"time"

	"github.com/guregu/null/v6"
)

// Stock is a row in the stocks table. Descriptive fields stay null until an
// overview has been resolved for the symbol.
type Stock struct {
	ID            int64       `json:"id"`
	Symbol        string      `json:"symbol"`
	Name          string      `json:"name"`
	Sector        null.String `json:"sector"`
	Industry      null.String `json:"industry"`
	MarketCap     null.Float  `json:"marketCap"`
	PERatio       null.Float  `json:"peRatio"`
	DividendYield null.Float  `json:"dividendYield"`
	LastUpdated   time.Time   `json:"lastUpdated"`
}

// Overview returns the descriptive view of the stored row.
func (s *Stock) Overview() *Overview {
	return &Overview{
		Symbol:        s.Symbol,
		Name:          s.Name,
		Sector:        s.Sector,
		Industry:      s.Industry,
		MarketCap:     s.MarketCap,
		PERatio:       s.PERatio,
		DividendYield: s.DividendYield,
	}
}

// Overview is the company profile for a symbol.
type Overview struct {
	Symbol        string      `json:"symbol"`
	Name          string      `json:"name"`
	Sector        null.String `json:"sector"`
	Industry      null.String `json:"industry"`
	MarketCap     null.Float  `json:"market_cap"`
	PERatio       null.Float  `json:"pe_ratio"`
	DividendYield null.Float  `json:"dividend_yield"`
}

// Complete reports whether the overview carries enough to skip a refetch.
func (o *Overview) Complete() bool {
	return o.Sector.Valid && o.Sector.String != "" &&
		o.Industry.Valid && o.Industry.String != "" &&
		o.MarketCap.Valid
}

// PriceBar is one daily OHLCV bar. Date is YYYY-MM-DD.
type PriceBar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// PriceSeries is a symbol's daily bars, newest first.
type PriceSeries struct {
	Symbol      string     `json:"symbol"`
	Name        string     `json:"name"`
	Prices      []PriceBar `json:"prices"`
	LastUpdated time.Time  `json:"last_updated"`
}

// Latest returns the newest bar, or nil for an empty series.
func (s *PriceSeries) Latest() *PriceBar {
	if len(s.Prices) == 0 {
		return nil
	}
	return &s.Prices[0]
}

type SearchResult struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Region string `json:"region"`
}

type PopularQuote struct {
	Symbol      string  `json:"symbol"`
	Name        string  `json:"name"`
	LatestPrice float64 `json:"latest_price"`
	LastUpdated string  `json:"last_updated"`
}

// PriceUpdate is the message pushed to live subscribers.
type PriceUpdate struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
	Timestamp     string  `json:"timestamp"`
}

// CacheEntry is a row in api_cache.
type CacheEntry struct {
	Key       string    `json:"key"`
	Data      []byte    `json:"data"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// Expired reports whether the entry must be treated as absent at now.
func (c *CacheEntry) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}
