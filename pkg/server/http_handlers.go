package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// HTTPHandler routes the side port: /health, /metrics and /ws
func (s *Server) HTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.HealthHandler)
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/ws", s.HandleWebSocket)
	return mux
}

// HealthHandler serves health check status
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":          "healthy",
		"uptime_seconds":  int64(time.Since(s.startTime).Seconds()),
		"active_sessions": s.sessions.Count(),
		"queue_length":    s.queue.Len(),
		"active_games":    s.games.Len(),
	}

	select {
	case <-s.shutdown:
		health["status"] = "shutting_down"
	default:
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.log.Warnw("Error encoding health JSON", "error", err)
	}
}
