package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleGetContext returns the agent's identity block for session injection.
func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	block, err := s.engine.Context(r.Context(), agentID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"agent_id": agentID,
		"context":  block,
	})
}
