package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/kjannette/stockpulse-backend/internal/broadcast"
	"github.com/kjannette/stockpulse-backend/internal/logging"
	"github.com/kjannette/stockpulse-backend/internal/models"
	"github.com/kjannette/stockpulse-backend/internal/resolver"
)

// StockService is the query surface the routes expose.
type StockService interface {
	PriceSeries(ctx context.Context, symbol string) (*models.PriceSeries, error)
	Overview(ctx context.Context, symbol string) (*models.Overview, error)
	CompanyName(ctx context.Context, symbol string) (string, error)
	Popular(ctx context.Context) ([]models.PopularQuote, error)
	Search(ctx context.Context, query string) ([]models.SearchResult, error)
	DemoMode() bool
}

// Pinger reports store reachability for the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Stocks StockService
	Hub    *broadcast.Manager
	Store  Pinger
	Logger zerolog.Logger
}

type Server struct {
	stocks     StockService
	hub        *broadcast.Manager
	store      Pinger
	log        zerolog.Logger
	handler    http.Handler
	httpServer *http.Server
}

func NewServer(deps Deps, port int, corsOrigin string) *Server {
	s := &Server{
		stocks: deps.Stocks,
		hub:    deps.Hub,
		store:  deps.Store,
		log:    logging.Component(deps.Logger, "api"),
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/{$}", s.handleInfo)

	// Stock routes
	mux.HandleFunc("GET /v1/stocks/popular", s.handlePopular)
	mux.HandleFunc("GET /v1/stocks/search", s.handleSearch)
	mux.HandleFunc("GET /v1/stocks/{symbol}", s.handlePriceSeries)
	mux.HandleFunc("GET /v1/stocks/{symbol}/overview", s.handleOverview)
	mux.HandleFunc("GET /v1/stocks/{symbol}/name", s.handleCompanyName)

	// Live updates
	mux.HandleFunc("GET /ws/stocks", s.handleWSAll)
	mux.HandleFunc("GET /ws/stocks/{symbol}", s.handleWSSymbol)

	mux.HandleFunc("GET /health", s.handleHealth)

	s.handler = s.logMiddleware(corsMiddleware(mux, corsOrigin))
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s
}

// Handler exposes the routed handler, for tests.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("REST API server started")
	if s.stocks.DemoMode() {
		s.log.Warn().Msg("demo mode: upstream API disabled, serving synthetic data")
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- middleware ---

func corsMiddleware(next http.Handler, allowOrigin string) http.Handler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeResolveError maps resolver errors to status codes.
func (s *Server) writeResolveError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, resolver.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, resolver.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, resolver.ErrUnavailable):
		writeError(w, http.StatusBadGateway, "upstream data source unavailable")
	default:
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
