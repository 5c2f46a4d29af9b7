package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	contractx "github.com/orthotrace/opsagent/agent/contract"
	graphx "github.com/orthotrace/opsagent/agent/graph"
)

// ValidationError reports the inbound request's shape failures field by
// field. It is the only error HandleTask returns; everything downstream is
// folded into the response body.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "invalid task: " + strings.Join(parts, "; ")
}

// Orchestrator validates each inbound task and drives exactly one pass of
// the execution graph. It keeps no per-task state.
type Orchestrator struct {
	engine   *graphx.Engine
	validate *validator.Validate
}

func New(engine *graphx.Engine) (*Orchestrator, error) {
	if engine == nil {
		return nil, errors.New("graph engine is required")
	}
	return &Orchestrator{
		engine:   engine,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// HandleTask runs one task to completion. Request-shape failures surface as
// *ValidationError with no partial execution; every in-task failure comes
// back inside the response so the caller always receives a structured
// result.
func (o *Orchestrator) HandleTask(ctx context.Context, task contractx.AgentTask) (contractx.AgentResponse, error) {
	task.Task = strings.TrimSpace(task.Task)
	task.TenantID = strings.TrimSpace(task.TenantID)
	task.UserID = strings.TrimSpace(task.UserID)

	if err := o.validateTask(task); err != nil {
		return contractx.AgentResponse{}, err
	}

	if task.Context == nil {
		task.Context = map[string]any{}
	}
	state := &contractx.AgentState{
		Task:     task.Task,
		Context:  task.Context,
		TenantID: task.TenantID,
		UserID:   task.UserID,
	}

	resp, err := o.engine.Run(ctx, state)
	if err != nil {
		// Collaborator failure inside the run. The caller still gets a
		// structured response; the failure is data.
		log.Error().Str("tenant", task.TenantID).Err(err).Msg("agent run failed")
		return contractx.AgentResponse{
			Action:     contractx.ActionRespond,
			Data:       map[string]any{"error": err.Error()},
			Confidence: 0,
		}, nil
	}

	out := *resp
	if out.Data == nil {
		out.Data = map[string]any{}
	}
	if out.Confidence < 0 {
		out.Confidence = 0
	}
	if out.Confidence > 1 {
		out.Confidence = 1
	}
	return out, nil
}

func (o *Orchestrator) validateTask(task contractx.AgentTask) error {
	err := o.validate.Struct(&task)
	if err == nil {
		return nil
	}

	fields := map[string]string{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			fields[wireField(fe.StructField())] = fmt.Sprintf("failed %q", fe.Tag())
		}
	} else {
		fields["task"] = err.Error()
	}
	return &ValidationError{Fields: fields}
}

func wireField(structField string) string {
	switch structField {
	case "Task":
		return "task"
	case "TenantID":
		return "empresa_id"
	case "UserID":
		return "user_id"
	case "Context":
		return "context"
	}
	return strings.ToLower(structField)
}
