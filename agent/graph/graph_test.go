package graph

import (
	"context"
	"errors"
	"testing"

	contractx "github.com/orthotrace/opsagent/agent/contract"
	toolx "github.com/orthotrace/opsagent/agent/tool"
)

type fakePlanner struct {
	decision      contractx.Decision
	decideErr     error
	summary       contractx.AgentResponse
	summarizeErr  error
	decideCalls   int
	summarizeReqs []contractx.SummaryRequest
}

func (f *fakePlanner) Decide(ctx context.Context, req contractx.DecisionRequest) (contractx.Decision, error) {
	f.decideCalls++
	return f.decision, f.decideErr
}

func (f *fakePlanner) Summarize(ctx context.Context, req contractx.SummaryRequest) (contractx.AgentResponse, error) {
	f.summarizeReqs = append(f.summarizeReqs, req)
	return f.summary, f.summarizeErr
}

type fakeDispatcher struct {
	result contractx.ToolResult
	calls  []contractx.ToolCall
	scopes []toolx.Scope
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, call contractx.ToolCall, scope toolx.Scope) contractx.ToolResult {
	f.calls = append(f.calls, call)
	f.scopes = append(f.scopes, scope)
	out := f.result
	out.Tool = call.Tool
	return out
}

func newState() *contractx.AgentState {
	return &contractx.AgentState{
		Task:     "how many surgeries tomorrow?",
		TenantID: "t1",
		UserID:   "u1",
	}
}

func TestRunDirectRespond(t *testing.T) {
	t.Parallel()

	p := &fakePlanner{decision: contractx.Decision{
		Action:     contractx.ActionRespond,
		Data:       map[string]any{"message": "nothing to do"},
		Confidence: 0.8,
	}}
	d := &fakeDispatcher{}
	e, err := New(p, d)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	resp, err := e.Run(context.Background(), newState())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if resp.Data["message"] != "nothing to do" || resp.Confidence != 0.8 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(d.calls) != 0 {
		t.Fatalf("direct respond must not dispatch tools, got %d calls", len(d.calls))
	}
	if len(p.summarizeReqs) != 0 {
		t.Fatal("direct respond must not reach analyze")
	}
}

func TestRunToolPathReachesSummarize(t *testing.T) {
	t.Parallel()

	p := &fakePlanner{
		decision: contractx.Decision{
			Action: contractx.ActionExecuteTool,
			Tool:   "listar_cirurgias",
			Params: map[string]any{"status": "scheduled"},
		},
		summary: contractx.AgentResponse{
			Action:     contractx.ActionRespond,
			Data:       map[string]any{"message": "2 surgeries scheduled"},
			Confidence: 0.9,
		},
	}
	d := &fakeDispatcher{result: contractx.ToolResult{Success: true, Data: map[string]any{"total": 2}}}
	e, _ := New(p, d)

	state := newState()
	resp, err := e.Run(context.Background(), state)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(d.calls) != 1 || d.calls[0].Tool != "listar_cirurgias" {
		t.Fatalf("dispatched calls = %+v", d.calls)
	}
	if d.scopes[0].TenantID != "t1" || d.scopes[0].UserID != "u1" {
		t.Fatalf("scope = %+v", d.scopes[0])
	}
	if len(p.summarizeReqs) != 1 || len(p.summarizeReqs[0].ToolResults) != 1 {
		t.Fatalf("summarize requests = %+v", p.summarizeReqs)
	}
	if resp.Data["message"] != "2 surgeries scheduled" {
		t.Fatalf("response = %+v", resp)
	}
	if len(state.ToolResults) != 1 || !state.ToolResults[0].Success {
		t.Fatalf("state results = %+v", state.ToolResults)
	}
}

func TestRunToolFailureIsDataNotAbort(t *testing.T) {
	t.Parallel()

	p := &fakePlanner{
		decision: contractx.Decision{Action: contractx.ActionExecuteTool, Tool: "reservar_material"},
		summary: contractx.AgentResponse{
			Action:     contractx.ActionRespond,
			Data:       map[string]any{"message": "only 1 unit available, reservation not placed"},
			Confidence: 0.85,
		},
	}
	d := &fakeDispatcher{result: contractx.ToolResult{Success: false, Error: "insufficient available quantity"}}
	e, _ := New(p, d)

	resp, err := e.Run(context.Background(), newState())
	if err != nil {
		t.Fatalf("tool failure must not abort the run: %v", err)
	}
	if len(p.summarizeReqs) != 1 {
		t.Fatal("failed results must still reach analyze")
	}
	got := p.summarizeReqs[0].ToolResults[0]
	if got.Success || got.Error == "" {
		t.Fatalf("failure must be carried into the summary request: %+v", got)
	}
	if resp == nil {
		t.Fatal("expected a response")
	}
}

func TestRunPlannerErrorPropagates(t *testing.T) {
	t.Parallel()

	boom := errors.New("model timeout")
	p := &fakePlanner{decideErr: boom}
	e, _ := New(p, &fakeDispatcher{})

	if _, err := e.Run(context.Background(), newState()); !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want %v", err, boom)
	}
}

func TestRunSummarizeErrorPropagates(t *testing.T) {
	t.Parallel()

	boom := errors.New("model timeout")
	p := &fakePlanner{
		decision:     contractx.Decision{Action: contractx.ActionExecuteTool, Tool: "listar_lotes"},
		summarizeErr: boom,
	}
	e, _ := New(p, &fakeDispatcher{result: contractx.ToolResult{Success: true}})

	if _, err := e.Run(context.Background(), newState()); !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want %v", err, boom)
	}
}

func TestRunNilState(t *testing.T) {
	t.Parallel()

	e, _ := New(&fakePlanner{}, &fakeDispatcher{})
	if _, err := e.Run(context.Background(), nil); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("Run(nil) error = %v, want ErrValidation", err)
	}
}

func TestAnalyzeWithoutResultsDefaults(t *testing.T) {
	t.Parallel()

	e, _ := New(&fakePlanner{}, &fakeDispatcher{})
	state := newState()
	next, err := e.analyze(context.Background(), state)
	if err != nil {
		t.Fatalf("analyze() error = %v", err)
	}
	if next != NodeRespond {
		t.Fatalf("next = %s, want respond", next)
	}
	if state.Response == nil || state.Response.Confidence != noActionConfidence {
		t.Fatalf("response = %+v, want default confidence %v", state.Response, noActionConfidence)
	}
}

func TestNodeString(t *testing.T) {
	t.Parallel()

	want := map[Node]string{NodePlan: "plan", NodeExecute: "execute", NodeAnalyze: "analyze", NodeRespond: "respond"}
	for node, name := range want {
		if node.String() != name {
			t.Fatalf("%d.String() = %q, want %q", int(node), node.String(), name)
		}
	}
}
