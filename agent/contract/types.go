package contract

import "time"

// Action values a planner decision or agent response may carry.
const (
	ActionExecuteTool = "execute_tool"
	ActionRespond     = "respond"
)

// AgentTask is one inbound operational request. It is immutable and scoped
// to a single execution.
type AgentTask struct {
	Task     string         `json:"task" validate:"required"`
	Context  map[string]any `json:"context"`
	TenantID string         `json:"empresa_id" validate:"required"`
	UserID   string         `json:"user_id" validate:"required"`
}

// AgentState is owned by exactly one graph run and never shared across
// tasks.
type AgentState struct {
	Task     string
	Context  map[string]any
	TenantID string
	UserID   string

	ToolCalls   []ToolCall
	ToolResults []ToolResult
	Response    *AgentResponse
}

// ToolCall is a planner-produced intent. It is untrusted until its params
// pass the tool's schema.
type ToolCall struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params,omitempty"`
	Reason string         `json:"reason,omitempty"`
}

type ToolResult struct {
	Tool    string `json:"tool"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type AgentResponse struct {
	Action     string         `json:"action"`
	Data       map[string]any `json:"data"`
	Confidence float64        `json:"confidence"`
}

// Decision is the parsed output of one planner call: either a tool request
// or a final response.
type Decision struct {
	Action     string         `json:"action"`
	Tool       string         `json:"tool,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
}

type DecisionRequest struct {
	Task    string
	Context map[string]any
	Now     time.Time
}

type SummaryRequest struct {
	Task        string
	ToolResults []ToolResult
}
