package api

import (
	"encoding/json"
	"net/http"
)

func (s *Server) handleChunkingStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		jsonError(w, "chunking stats unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"chunking":    s.stats.Snapshot(),
		"queue_depth": s.orchestrator.QueueDepth(),
		"storage":     s.orchestrator.Store() != nil,
	})
}
