package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/tiermem/internal/engine"
	"github.com/lazypower/tiermem/internal/model"
	"github.com/lazypower/tiermem/internal/promotion"
	"github.com/lazypower/tiermem/internal/store"
)

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var cand model.Candidate
	if err := json.NewDecoder(r.Body).Decode(&cand); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	dec, err := s.engine.Process(r.Context(), cand)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if dec.Record != nil {
		status = http.StatusCreated
	}
	writeJSON(w, status, dec)
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.Get(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Decision  string `json:"decision"`
		Initiator string `json:"initiator"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	d, err := promotion.ParseDecision(req.Decision)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	switch req.Initiator {
	case "", promotion.ByUser, promotion.ByAgent:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("initiator must be %q or %q", promotion.ByUser, promotion.ByAgent))
		return
	}

	rec, ev, err := s.engine.Resolve(r.Context(), chi.URLParam(r, "key"), d, req.Initiator)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"decision": d.String(),
		"promoted": ev != nil,
		"event":    ev,
		"record":   rec,
	})
}

func (s *Server) handlePrompts(w http.ResponseWriter, r *http.Request) {
	prompts, err := s.engine.Prompts(chi.URLParam(r, "agentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	type promptJSON struct {
		promotion.Prompt
		Text string `json:"text"`
	}
	out := make([]promptJSON, len(prompts))
	for i, p := range prompts {
		out[i] = promptJSON{Prompt: p, Text: p.Text()}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "prompts": out})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Stats(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleWorking(w http.ResponseWriter, r *http.Request) {
	recs, err := s.engine.Working(chi.URLParam(r, "agentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(recs), "records": recs})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RecordActivity(r.Context(), chi.URLParam(r, "agentID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	trigger := r.URL.Query().Get("trigger")
	if trigger != engine.TriggerSnapshot {
		trigger = engine.TriggerManual
	}
	n, err := s.engine.Flush(r.Context(), chi.URLParam(r, "agentID"), trigger)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flushed": n, "trigger": trigger})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))
	rep, err := s.engine.Sweep(r.Context(), engine.SweepOptions{
		AgentID: r.URL.Query().Get("agent"),
		DryRun:  dryRun,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handleSearch filters stored records, or runs a similarity query over an
// agent's indexed records when mode=semantic.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 20
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	if q.Get("mode") == "semantic" {
		if q.Get("q") == "" {
			writeError(w, http.StatusBadRequest, "q parameter required")
			return
		}
		hits, err := s.engine.Recall(r.Context(), q.Get("agent"), q.Get("q"), limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"query": q.Get("q"), "mode": "semantic", "count": len(hits), "results": hits})
		return
	}

	since, err := parseTime(q.Get("since"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid since: "+err.Error())
		return
	}
	until, err := parseTime(q.Get("until"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid until: "+err.Error())
		return
	}

	recs, err := s.engine.Search(r.Context(), store.Query{
		AgentID:  q.Get("agent"),
		Keyword:  q.Get("q"),
		Category: q.Get("category"),
		Since:    since,
		Until:    until,
		Limit:    limit,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": q.Get("q"), "mode": "keyword", "count": len(recs), "results": recs})
}

// parseTime accepts RFC 3339 timestamps or plain dates. Empty is the zero
// time.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
