package gateway

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
)

// RegisterRoutes registers the websocket routes with an HTTP mux
func (m *Manager) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", m.HandleConnection)
	mux.HandleFunc("/ws/stats", m.handleStats)
	log.Info().Msg("gateway routes registered")
}

func (m *Manager) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"total_connections":%d}`, m.ConnectionCount())
}
