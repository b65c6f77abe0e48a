package api

import (
	"net/http"
	"strings"

	"github.com/kjannette/stockpulse-backend/internal/resolver"
)

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":      "StockPulse API",
		"version":   "1",
		"demo_mode": s.stocks.DemoMode(),
	})
}

func (s *Server) handlePriceSeries(w http.ResponseWriter, r *http.Request) {
	ps, err := s.stocks.PriceSeries(r.Context(), r.PathValue("symbol"))
	if err != nil {
		s.writeResolveError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	ov, err := s.stocks.Overview(r.Context(), r.PathValue("symbol"))
	if err != nil {
		s.writeResolveError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

func (s *Server) handleCompanyName(w http.ResponseWriter, r *http.Request) {
	name, err := s.stocks.CompanyName(r.Context(), r.PathValue("symbol"))
	if err != nil {
		s.writeResolveError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"symbol": strings.ToUpper(strings.TrimSpace(r.PathValue("symbol"))),
		"name":   name,
	})
}

func (s *Server) handlePopular(w http.ResponseWriter, r *http.Request) {
	quotes, err := s.stocks.Popular(r.Context())
	if err != nil {
		s.writeResolveError(w, r, err)
		return
	}
	if len(quotes) == 0 {
		writeError(w, http.StatusNotFound, "failed to fetch popular stocks")
		return
	}
	writeJSON(w, http.StatusOK, quotes)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	results, err := s.stocks.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeResolveError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleWSAll(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r, "")
}

func (s *Server) handleWSSymbol(w http.ResponseWriter, r *http.Request) {
	sym, err := resolver.NormalizeSymbol(r.PathValue("symbol"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.hub.ServeWS(w, r, sym)
}
