package contract

import "context"

// Planner wraps the external natural-language reasoning service. Both calls
// must be cancellable; non-conforming model output is recovered locally as a
// low-confidence pass-through, never an error.
type Planner interface {
	Decide(ctx context.Context, req DecisionRequest) (Decision, error)
	Summarize(ctx context.Context, req SummaryRequest) (AgentResponse, error)
}
