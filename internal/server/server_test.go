package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lazypower/tiermem/internal/engine"
	"github.com/lazypower/tiermem/internal/metrics"
	"github.com/lazypower/tiermem/internal/store"
)

func testServer(t *testing.T) (*Server, *engine.Orchestrator) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := metrics.New()
	eng := engine.New(db, engine.Options{Metrics: m})
	if _, err := eng.Init(t.Context()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(eng.Stop)
	return New(db, eng, "test-version", WithMetrics(m)), eng
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv, "GET", "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	body := decode(t, w)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["version"] != "test-version" {
		t.Errorf("version = %v, want test-version", body["version"])
	}
	if body["db"] != true {
		t.Errorf("db = %v, want true", body["db"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	do(t, srv, "POST", "/api/memories", `{"agent_id":"a","text":"working on the navbar layout"}`)
	w := do(t, srv, "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `tiermem_decisions_total{route="working_memory",tier="3"} 1`) {
		t.Errorf("decision counter missing from:\n%s", w.Body.String())
	}
}
