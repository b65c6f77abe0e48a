package api

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	DemoMode  bool           `json:"demo_mode"`
	Services  healthServices `json:"services"`
}

type healthServices struct {
	Database    string `json:"database"`
	Subscribers int    `json:"subscribers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "connected"
	if err := s.store.Ping(r.Context()); err != nil {
		dbStatus = "disconnected"
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		DemoMode:  s.stocks.DemoMode(),
		Services: healthServices{
			Database:    dbStatus,
			Subscribers: s.hub.GlobalCount(),
		},
	})
}
