package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	contractx "github.com/orthotrace/opsagent/agent/contract"
	graphx "github.com/orthotrace/opsagent/agent/graph"
	orchestratorx "github.com/orthotrace/opsagent/agent/orchestrator"
	toolx "github.com/orthotrace/opsagent/agent/tool"
	storex "github.com/orthotrace/opsagent/store"
)

type stubPlanner struct {
	decision contractx.Decision
}

func (p *stubPlanner) Decide(ctx context.Context, req contractx.DecisionRequest) (contractx.Decision, error) {
	return p.decision, nil
}

func (p *stubPlanner) Summarize(ctx context.Context, req contractx.SummaryRequest) (contractx.AgentResponse, error) {
	return contractx.AgentResponse{
		Action:     contractx.ActionRespond,
		Data:       map[string]any{"message": "summarized"},
		Confidence: 0.9,
	}, nil
}

func newTestServer(t *testing.T, p contractx.Planner) *Server {
	t.Helper()
	rt, err := toolx.NewRuntime(storex.NewMemory(), storex.NewMemoryLedger())
	if err != nil {
		t.Fatalf("NewRuntime() error = %v", err)
	}
	engine, err := graphx.New(p, rt)
	if err != nil {
		t.Fatalf("graph.New() error = %v", err)
	}
	orch, err := orchestratorx.New(engine)
	if err != nil {
		t.Fatalf("orchestrator.New() error = %v", err)
	}
	srv, err := New(orch, Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func postTask(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/agent/task", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &stubPlanner{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestTaskSuccess(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &stubPlanner{decision: contractx.Decision{
		Action:     contractx.ActionRespond,
		Data:       map[string]any{"message": "3 surgeries scheduled"},
		Confidence: 0.8,
	}})

	rec := postTask(t, srv, `{"task":"how many surgeries?","empresa_id":"t1","user_id":"u1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Success    bool           `json:"success"`
		Action     string         `json:"action"`
		Data       map[string]any `json:"data"`
		Confidence float64        `json:"confidence"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !body.Success || body.Action != "respond" || body.Confidence != 0.8 {
		t.Fatalf("body = %+v", body)
	}
	if body.Data["message"] != "3 surgeries scheduled" {
		t.Fatalf("data = %v", body.Data)
	}
}

func TestTaskMalformedBody(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &stubPlanner{})
	rec := postTask(t, srv, `{"task": `)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestTaskValidationFailureListsFields(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &stubPlanner{})
	rec := postTask(t, srv, `{"task":"list surgeries"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var body struct {
		Success bool              `json:"success"`
		Error   string            `json:"error"`
		Fields  map[string]string `json:"fields"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body.Success {
		t.Fatal("success must be false on validation failure")
	}
	for _, field := range []string{"empresa_id", "user_id"} {
		if _, ok := body.Fields[field]; !ok {
			t.Fatalf("missing field %q in %v", field, body.Fields)
		}
	}
}

func TestTaskInternalFailureStaysInBody(t *testing.T) {
	t.Parallel()

	// Planner picks a tool that will fail on an empty store; the HTTP layer
	// must still answer 200 with the failure in the body.
	srv := newTestServer(t, &stubPlanner{decision: contractx.Decision{
		Action: contractx.ActionExecuteTool,
		Tool:   "atualizar_status_cirurgia",
		Params: map[string]any{"cirurgia_id": "ghost", "status": "confirmed"},
	}})

	rec := postTask(t, srv, `{"task":"confirm the surgery","empresa_id":"t1","user_id":"u1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &stubPlanner{})
	req := httptest.NewRequest(http.MethodOptions, "/api/agent/task", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow-origin = %q, want *", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "POST") {
		t.Fatalf("allow-methods = %q", got)
	}
}
