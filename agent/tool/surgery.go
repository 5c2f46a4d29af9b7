package tool

import (
	"context"
	"fmt"
	"strings"

	storex "github.com/orthotrace/opsagent/store"
)

type UpdateSurgeryStatusParams struct {
	CirurgiaID string `json:"cirurgia_id" validate:"required"`
	Status     string `json:"status" validate:"required,oneof=scheduled confirmed in_preparation material_pending in_progress completed cancelled postponed"`
	Observacao string `json:"observacao,omitempty"`
}

type SurgeryStatusOutput struct {
	SurgeryID      string `json:"surgery_id"`
	PreviousStatus string `json:"previous_status"`
	Status         string `json:"status"`
	Note           string `json:"note"`
}

// runUpdateSurgeryStatus moves a surgery to a new status, appending a
// timestamped note instead of overwriting the history. Transitions are
// permissive: only enum membership is checked.
func runUpdateSurgeryStatus(ctx context.Context, r *Runtime, raw map[string]any, scope Scope) (any, error) {
	params, err := decodeParams[UpdateSurgeryStatusParams](raw)
	if err != nil {
		return nil, err
	}

	sg, err := r.store.GetSurgery(ctx, scope.TenantID, params.CirurgiaID)
	if err != nil {
		return nil, fmt.Errorf("surgery %s: %w", params.CirurgiaID, err)
	}

	now := r.now().UTC()
	previous := string(sg.Status)
	note := fmt.Sprintf("[%s] %s: status %s -> %s", now.Format("2006-01-02 15:04"), scope.UserID, previous, params.Status)
	if obs := strings.TrimSpace(params.Observacao); obs != "" {
		note += " | " + obs
	}

	sg.Status = storex.SurgeryStatus(params.Status)
	if sg.Notes != "" {
		sg.Notes += "\n"
	}
	sg.Notes += note
	sg.UpdatedAt = now
	sg.UpdatedBy = scope.UserID

	if err := r.store.UpdateSurgery(ctx, sg); err != nil {
		return nil, fmt.Errorf("update surgery: %w", err)
	}

	return SurgeryStatusOutput{
		SurgeryID:      sg.ID,
		PreviousStatus: previous,
		Status:         params.Status,
		Note:           note,
	}, nil
}
