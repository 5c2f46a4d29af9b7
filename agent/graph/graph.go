// Package graph drives one agent task through a fixed four-node automaton:
// Plan -> Execute -> Analyze -> Respond, with a single branch at Plan when
// the planner answers directly.
package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/orthotrace/opsagent/agent/contract"
	toolx "github.com/orthotrace/opsagent/agent/tool"
)

type Node int

const (
	NodePlan Node = iota
	NodeExecute
	NodeAnalyze
	NodeRespond
)

func (n Node) String() string {
	switch n {
	case NodePlan:
		return "plan"
	case NodeExecute:
		return "execute"
	case NodeAnalyze:
		return "analyze"
	case NodeRespond:
		return "respond"
	}
	return fmt.Sprintf("node(%d)", int(n))
}

// Confidence of the default response emitted when a run produced no tool
// results and no direct answer.
const noActionConfidence = 0.3

// Dispatcher executes one validated tool call. Satisfied by *tool.Runtime.
type Dispatcher interface {
	Dispatch(ctx context.Context, call contractx.ToolCall, scope toolx.Scope) contractx.ToolResult
}

// Engine interprets the automaton. It holds no per-task state; AgentState
// is owned by the caller and passed through one Run.
type Engine struct {
	planner contractx.Planner
	tools   Dispatcher
	now     func() time.Time
}

func New(planner contractx.Planner, tools Dispatcher) (*Engine, error) {
	if planner == nil {
		return nil, errors.New("planner is required")
	}
	if tools == nil {
		return nil, errors.New("tool dispatcher is required")
	}
	return &Engine{planner: planner, tools: tools, now: time.Now}, nil
}

// Run executes exactly one pass. Every path terminates at Respond with a
// non-nil response; tool failure is data for Analyze, never an abort.
func (e *Engine) Run(ctx context.Context, state *contractx.AgentState) (*contractx.AgentResponse, error) {
	if state == nil {
		return nil, fmt.Errorf("%w: agent state is nil", contractx.ErrValidation)
	}

	node := NodePlan
	for node != NodeRespond {
		next, err := e.step(ctx, node, state)
		if err != nil {
			return nil, err
		}
		node = next
	}

	if state.Response == nil {
		// Terminal without a response would be a silent completion; refuse.
		return nil, fmt.Errorf("%w: reached respond without a response", contractx.ErrValidation)
	}
	return state.Response, nil
}

func (e *Engine) step(ctx context.Context, node Node, state *contractx.AgentState) (Node, error) {
	switch node {
	case NodePlan:
		return e.plan(ctx, state)
	case NodeExecute:
		return e.execute(ctx, state)
	case NodeAnalyze:
		return e.analyze(ctx, state)
	default:
		return NodeRespond, fmt.Errorf("%w: no transition from %s", contractx.ErrValidation, node)
	}
}

func (e *Engine) plan(ctx context.Context, state *contractx.AgentState) (Node, error) {
	decision, err := e.planner.Decide(ctx, contractx.DecisionRequest{
		Task:    state.Task,
		Context: state.Context,
		Now:     e.now().UTC(),
	})
	if err != nil {
		return NodeRespond, err
	}

	if decision.Action == contractx.ActionRespond {
		state.Response = &contractx.AgentResponse{
			Action:     contractx.ActionRespond,
			Data:       decision.Data,
			Confidence: decision.Confidence,
		}
		return NodeRespond, nil
	}

	state.ToolCalls = append(state.ToolCalls, contractx.ToolCall{
		Tool:   decision.Tool,
		Params: decision.Params,
		Reason: decision.Reason,
	})
	return NodeExecute, nil
}

func (e *Engine) execute(ctx context.Context, state *contractx.AgentState) (Node, error) {
	scope := toolx.Scope{TenantID: state.TenantID, UserID: state.UserID}
	for i := len(state.ToolResults); i < len(state.ToolCalls); i++ {
		call := state.ToolCalls[i]
		result := e.tools.Dispatch(ctx, call, scope)
		if !result.Success {
			log.Debug().Str("tool", call.Tool).Str("error", result.Error).Msg("tool call failed")
		}
		state.ToolResults = append(state.ToolResults, result)
	}
	return NodeAnalyze, nil
}

func (e *Engine) analyze(ctx context.Context, state *contractx.AgentState) (Node, error) {
	if len(state.ToolResults) == 0 {
		state.Response = &contractx.AgentResponse{
			Action:     contractx.ActionRespond,
			Data:       map[string]any{"message": "no action needed"},
			Confidence: noActionConfidence,
		}
		return NodeRespond, nil
	}

	resp, err := e.planner.Summarize(ctx, contractx.SummaryRequest{
		Task:        state.Task,
		ToolResults: state.ToolResults,
	})
	if err != nil {
		return NodeRespond, err
	}
	state.Response = &resp
	return NodeRespond, nil
}
