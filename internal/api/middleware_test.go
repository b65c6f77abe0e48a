package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/kjannette/stockpulse-backend/internal/resolver"
)

func TestCorsMiddleware_Headers(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := corsMiddleware(inner, "https://myapp.example.com")

	req := httptest.NewRequest(http.MethodGet, "/v1/stocks/popular", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	origin := rr.Header().Get("Access-Control-Allow-Origin")
	if origin != "https://myapp.example.com" {
		t.Fatalf("expected custom origin, got %q", origin)
	}
	if rr.Header().Get("Access-Control-Allow-Methods") != "GET, OPTIONS" {
		t.Fatalf("unexpected methods header: %q", rr.Header().Get("Access-Control-Allow-Methods"))
	}
}

func TestCorsMiddleware_DefaultOrigin(t *testing.T) {
	handler := corsMiddleware(http.NotFoundHandler(), "")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected wildcard origin, got %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestCorsMiddleware_Preflight(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("inner handler should not be called for OPTIONS")
	})
	handler := corsMiddleware(inner, "*")

	req := httptest.NewRequest(http.MethodOptions, "/v1/stocks/AAPL", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for preflight, got %d", rr.Code)
	}
}

func TestWriteResolveError(t *testing.T) {
	s := &Server{log: zerolog.Nop()}
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: empty symbol", resolver.ErrInvalid), http.StatusBadRequest},
		{fmt.Errorf("%w: price series ZZZZ", resolver.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: overview IBM: boom", resolver.ErrUnavailable), http.StatusBadGateway},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		s.writeResolveError(rr, httptest.NewRequest(http.MethodGet, "/v1/stocks/X", nil), tc.err)
		if rr.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, rr.Code)
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Fatalf("error responses should be JSON")
		}
	}
}
