package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/rs/zerolog"

	"github.com/kjannette/stockpulse-backend/internal/httputil"
	"github.com/kjannette/stockpulse-backend/internal/models"
)

const alphaVantageURL = "https://www.alphavantage.co/query"

var (
	// ErrRateLimited marks an Information/Note notice. Callers should fall
	// back rather than fail.
	ErrRateLimited = errors.New("alpha vantage notice")
	// ErrUpstream marks an explicit "Error Message" response.
	ErrUpstream = errors.New("alpha vantage error")
	// ErrMalformed marks a response missing its expected section.
	ErrMalformed = errors.New("alpha vantage response malformed")
)

type AlphaVantageOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	Retry      *httputil.RetryConfig
	Logger     zerolog.Logger
}

type AlphaVantageClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retry      httputil.RetryConfig
	log        zerolog.Logger
}

func NewAlphaVantageClient(apiKey string, opts AlphaVantageOptions) *AlphaVantageClient {
	c := &AlphaVantageClient{
		baseURL:    opts.BaseURL,
		apiKey:     apiKey,
		httpClient: opts.HTTPClient,
		log:        opts.Logger,
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
			MaxDelay:    10 * time.Second,
		},
	}
	if c.baseURL == "" {
		c.baseURL = alphaVantageURL
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Retry != nil {
		c.retry = *opts.Retry
	}
	if c.retry.Logger == nil {
		c.retry.Logger = &c.log
	}
	return c
}

// DailySeries is a parsed TIME_SERIES_DAILY response, newest bar first.
type DailySeries struct {
	Symbol  string
	Bars    []models.PriceBar
	Skipped int
}

func (c *AlphaVantageClient) DailySeries(ctx context.Context, symbol string) (*DailySeries, error) {
	raw, err := c.query(ctx, url.Values{
		"function":   {"TIME_SERIES_DAILY"},
		"symbol":     {symbol},
		"outputsize": {"compact"},
	})
	if err != nil {
		return nil, err
	}

	section, ok := raw["Time Series (Daily)"]
	if !ok {
		return nil, fmt.Errorf("%w: no \"Time Series (Daily)\" for %s", ErrMalformed, symbol)
	}
	var days map[string]json.RawMessage
	if err := json.Unmarshal(section, &days); err != nil {
		return nil, fmt.Errorf("%w: time series: %v", ErrMalformed, err)
	}

	out := &DailySeries{Symbol: symbol, Bars: make([]models.PriceBar, 0, len(days))}
	for date, point := range days {
		bar, err := parseBar(date, point)
		if err != nil {
			out.Skipped++
			c.log.Warn().Str("symbol", symbol).Str("date", date).Err(err).Msg("skipping malformed data point")
			continue
		}
		out.Bars = append(out.Bars, bar)
	}
	if len(out.Bars) == 0 {
		return nil, fmt.Errorf("%w: no usable bars for %s (%d skipped)", ErrMalformed, symbol, out.Skipped)
	}
	sort.Slice(out.Bars, func(i, j int) bool { return out.Bars[i].Date > out.Bars[j].Date })
	return out, nil
}

func (c *AlphaVantageClient) Overview(ctx context.Context, symbol string) (*models.Overview, error) {
	raw, err := c.query(ctx, url.Values{
		"function": {"OVERVIEW"},
		"symbol":   {symbol},
	})
	if err != nil {
		return nil, err
	}

	data := stringFields(raw)
	if data["Symbol"] == "" {
		return nil, fmt.Errorf("%w: overview for %s has no Symbol", ErrMalformed, symbol)
	}

	name := data["Name"]
	if name == "" {
		name = symbol
	}
	return &models.Overview{
		Symbol:        strings.ToUpper(data["Symbol"]),
		Name:          name,
		Sector:        optString(data["Sector"]),
		Industry:      optString(data["Industry"]),
		MarketCap:     optFloat(data["MarketCapitalization"]),
		PERatio:       optFloat(data["PERatio"]),
		DividendYield: optFloat(data["DividendYield"]),
	}, nil
}

func (c *AlphaVantageClient) SymbolSearch(ctx context.Context, keywords string) ([]models.SearchResult, error) {
	raw, err := c.query(ctx, url.Values{
		"function": {"SYMBOL_SEARCH"},
		"keywords": {keywords},
	})
	if err != nil {
		return nil, err
	}

	section, ok := raw["bestMatches"]
	if !ok {
		return []models.SearchResult{}, nil
	}
	var matches []map[string]string
	if err := json.Unmarshal(section, &matches); err != nil {
		return nil, fmt.Errorf("%w: bestMatches: %v", ErrMalformed, err)
	}

	out := make([]models.SearchResult, 0, len(matches))
	for _, m := range matches {
		if m["1. symbol"] == "" {
			continue
		}
		out = append(out, models.SearchResult{
			Symbol: m["1. symbol"],
			Name:   m["2. name"],
			Type:   m["3. type"],
			Region: m["4. region"],
		})
	}
	return out, nil
}

// query performs one GET and classifies notice and error bodies.
func (c *AlphaVantageClient) query(ctx context.Context, params url.Values) (map[string]json.RawMessage, error) {
	params.Set("apikey", c.apiKey)
	endpoint := c.baseURL + "?" + params.Encode()
	fn := params.Get("function")

	resp, err := httputil.Do(ctx, c.httpClient, c.retry, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("alpha vantage %s: %w", fn, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alpha vantage %s returned status %d", fn, resp.StatusCode)
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrMalformed, fn, err)
	}

	for _, k := range []string{"Information", "Note"} {
		if msg, ok := raw[k]; ok {
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, unquote(msg))
		}
	}
	if msg, ok := raw["Error Message"]; ok {
		return nil, fmt.Errorf("%w: %s", ErrUpstream, unquote(msg))
	}
	return raw, nil
}

func parseBar(date string, point json.RawMessage) (models.PriceBar, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return models.PriceBar{}, fmt.Errorf("bad date: %w", err)
	}
	var f map[string]string
	if err := json.Unmarshal(point, &f); err != nil {
		return models.PriceBar{}, fmt.Errorf("bad data point: %w", err)
	}
	var (
		bar = models.PriceBar{Date: date}
		err error
	)
	if bar.Open, err = parseField(f, "1. open"); err != nil {
		return bar, err
	}
	if bar.High, err = parseField(f, "2. high"); err != nil {
		return bar, err
	}
	if bar.Low, err = parseField(f, "3. low"); err != nil {
		return bar, err
	}
	if bar.Close, err = parseField(f, "4. close"); err != nil {
		return bar, err
	}
	v, ok := f["5. volume"]
	if !ok {
		return bar, errors.New("missing 5. volume")
	}
	if bar.Volume, err = strconv.ParseInt(v, 10, 64); err != nil {
		return bar, fmt.Errorf("5. volume: %w", err)
	}
	if bar.Volume < 0 {
		return bar, fmt.Errorf("5. volume negative: %d", bar.Volume)
	}
	return bar, nil
}

func parseField(f map[string]string, key string) (float64, error) {
	v, ok := f[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s not positive: %v", key, n)
	}
	return n, nil
}

func isAbsent(s string) bool {
	switch strings.TrimSpace(s) {
	case "", "None", "-", "null":
		return true
	}
	return false
}

func optString(s string) null.String {
	if isAbsent(s) {
		return null.String{}
	}
	return null.StringFrom(s)
}

func optFloat(s string) null.Float {
	if isAbsent(s) {
		return null.Float{}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return null.Float{}
	}
	return null.FloatFrom(f)
}

// stringFields keeps the string-valued members of a decoded object.
func stringFields(raw map[string]json.RawMessage) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		var s string
		if json.Unmarshal(v, &s) == nil {
			out[k] = s
		}
	}
	return out
}

func unquote(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return string(raw)
	}
	return s
}
