package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/rs/zerolog/log"

	contractx "github.com/orthotrace/opsagent/agent/contract"
	promptx "github.com/orthotrace/opsagent/agent/prompt"
	openrouterx "github.com/orthotrace/opsagent/pkg/openrouter"
)

// Confidence assigned when model output matches neither expected shape and
// the raw text is passed through instead.
const (
	fallbackDecideConfidence    = 0.5
	fallbackSummarizeConfidence = 0.65
)

// Adapter wraps the external reasoning service. It is the only component
// that talks to the model; everything it returns is treated as untrusted
// until validated downstream.
type Adapter struct {
	client      *openaisdk.Client
	model       string
	temperature float64
	maxTokens   int64
	prompts     promptx.PromptSet
}

var _ contractx.Planner = (*Adapter)(nil)

func New(client *openaisdk.Client, cfg openrouterx.Config) (*Adapter, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: openrouter client is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("%w: model name is required", contractx.ErrValidation)
	}
	return &Adapter{
		client:      client,
		model:       strings.TrimSpace(cfg.Model),
		temperature: cfg.Temperature,
		maxTokens:   int64(cfg.MaxCompletionToken),
		prompts:     promptx.LoadPromptSet(),
	}, nil
}

func (a *Adapter) Decide(ctx context.Context, req contractx.DecisionRequest) (contractx.Decision, error) {
	payload := map[string]any{
		"task":    req.Task,
		"context": req.Context,
		"now":     req.Now.UTC(),
	}
	raw, err := a.complete(ctx, a.prompts.Planner, payload)
	if err != nil {
		return contractx.Decision{}, err
	}

	decision, err := ParseDecision(raw)
	if err != nil {
		// Non-conforming output is a pass-through, not a crash.
		log.Debug().Str("raw", raw).Msg("planner output did not parse; passing through")
		return contractx.Decision{
			Action:     contractx.ActionRespond,
			Data:       map[string]any{"message": raw},
			Confidence: fallbackDecideConfidence,
		}, nil
	}
	return decision, nil
}

func (a *Adapter) Summarize(ctx context.Context, req contractx.SummaryRequest) (contractx.AgentResponse, error) {
	payload := map[string]any{
		"task":         req.Task,
		"tool_results": req.ToolResults,
	}
	raw, err := a.complete(ctx, a.prompts.Analyze, payload)
	if err != nil {
		return contractx.AgentResponse{}, err
	}

	decision, err := ParseDecision(raw)
	if err != nil || decision.Action != contractx.ActionRespond {
		return contractx.AgentResponse{
			Action:     contractx.ActionRespond,
			Data:       map[string]any{"message": raw},
			Confidence: fallbackSummarizeConfidence,
		}, nil
	}

	return contractx.AgentResponse{
		Action:     contractx.ActionRespond,
		Data:       decision.Data,
		Confidence: clamp01(decision.Confidence),
	}, nil
}

func (a *Adapter) complete(ctx context.Context, systemPrompt string, payload map[string]any) (string, error) {
	input, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: marshal planner payload: %v", contractx.ErrValidation, err)
	}

	resp, err := a.client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(a.model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(systemPrompt),
			openaisdk.UserMessage(string(input)),
		},
		MaxTokens:   openaisdk.Int(a.maxTokens),
		Temperature: openaisdk.Float(a.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("%w: planner invoke: %v", contractx.ErrModelInvoke, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: planner returned no choices", contractx.ErrModelInvoke)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// ParseDecision extracts one of the two expected decision shapes from raw
// model text, tolerating fenced code blocks and surrounding prose.
func ParseDecision(raw string) (contractx.Decision, error) {
	body := extractJSON(raw)
	if body == "" {
		return contractx.Decision{}, fmt.Errorf("%w: no JSON object in output", contractx.ErrSchemaViolation)
	}

	var d contractx.Decision
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		return contractx.Decision{}, fmt.Errorf("%w: %v", contractx.ErrSchemaViolation, err)
	}

	switch d.Action {
	case contractx.ActionExecuteTool:
		if strings.TrimSpace(d.Tool) == "" {
			return contractx.Decision{}, fmt.Errorf("%w: execute_tool without tool name", contractx.ErrSchemaViolation)
		}
		if d.Params == nil {
			d.Params = map[string]any{}
		}
	case contractx.ActionRespond:
		if d.Data == nil {
			d.Data = map[string]any{}
		}
		d.Confidence = clamp01(d.Confidence)
	default:
		return contractx.Decision{}, fmt.Errorf("%w: unknown action %q", contractx.ErrSchemaViolation, d.Action)
	}
	return d, nil
}

func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
