// Package payload defines the cache serialization schema. Every cached value
// is wrapped in a versioned envelope tagged with its resource kind, so rows
// written by an older schema decode as a miss instead of a bad value.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kjannette/stockpulse-backend/internal/models"
)

// Version is bumped whenever the shape of any payload changes.
const Version = 1

type Kind string

const (
	KindPriceSeries   Kind = "price_series"
	KindOverview      Kind = "overview"
	KindSearchResults Kind = "search_results"
	KindCompanyName   Kind = "company_name"
)

var (
	ErrSchemaMismatch = errors.New("cache payload schema mismatch")
	ErrCorrupt        = errors.New("cache payload corrupt")
)

type envelope struct {
	V    int             `json:"v"`
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func encode(kind Kind, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind, err)
	}
	return json.Marshal(envelope{V: Version, Kind: kind, Data: data})
}

func decode[T any](kind Kind, b []byte) (*T, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if env.V != Version || env.Kind != kind {
		return nil, fmt.Errorf("%w: got v%d/%s, want v%d/%s", ErrSchemaMismatch, env.V, env.Kind, Version, kind)
	}
	var out T
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &out, nil
}

func EncodePriceSeries(s *models.PriceSeries) ([]byte, error) {
	return encode(KindPriceSeries, s)
}

func DecodePriceSeries(b []byte) (*models.PriceSeries, error) {
	return decode[models.PriceSeries](KindPriceSeries, b)
}

func EncodeOverview(o *models.Overview) ([]byte, error) {
	return encode(KindOverview, o)
}

func DecodeOverview(b []byte) (*models.Overview, error) {
	return decode[models.Overview](KindOverview, b)
}

func EncodeSearchResults(rs []models.SearchResult) ([]byte, error) {
	if rs == nil {
		rs = []models.SearchResult{}
	}
	return encode(KindSearchResults, rs)
}

func DecodeSearchResults(b []byte) ([]models.SearchResult, error) {
	rs, err := decode[[]models.SearchResult](KindSearchResults, b)
	if err != nil {
		return nil, err
	}
	return *rs, nil
}

func EncodeCompanyName(name string) ([]byte, error) {
	return encode(KindCompanyName, name)
}

func DecodeCompanyName(b []byte) (string, error) {
	name, err := decode[string](KindCompanyName, b)
	if err != nil {
		return "", err
	}
	return *name, nil
}
