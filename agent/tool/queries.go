package tool

import (
	"context"
	"fmt"
	"time"

	storex "github.com/orthotrace/opsagent/store"
)

const dateLayout = "2006-01-02"

type ListSurgeriesParams struct {
	DataInicio string `json:"data_inicio,omitempty" validate:"omitempty,datetime=2006-01-02"`
	DataFim    string `json:"data_fim,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Status     string `json:"status,omitempty" validate:"omitempty,oneof=scheduled confirmed in_preparation material_pending in_progress completed cancelled postponed"`
	HospitalID string `json:"hospital_id,omitempty"`
}

type SurgeryListOutput struct {
	Items        []storex.Surgery `json:"items"`
	Total        int              `json:"total"`
	StatusCounts map[string]int   `json:"status_counts"`
}

func runListSurgeries(ctx context.Context, r *Runtime, raw map[string]any, scope Scope) (any, error) {
	params, err := decodeParams[ListSurgeriesParams](raw)
	if err != nil {
		return nil, err
	}

	var filter storex.SurgeryFilter
	filter.Status = params.Status
	filter.Hospital = params.HospitalID
	if params.DataInicio != "" {
		from, _ := time.Parse(dateLayout, params.DataInicio)
		filter.From = &from
	}
	if params.DataFim != "" {
		// Inclusive upper bound: end of day.
		to, _ := time.Parse(dateLayout, params.DataFim)
		to = to.Add(24*time.Hour - time.Nanosecond)
		filter.To = &to
	}

	items, err := r.store.ListSurgeries(ctx, scope.TenantID, filter)
	if err != nil {
		return nil, fmt.Errorf("list surgeries: %w", err)
	}

	counts := make(map[string]int)
	for _, s := range items {
		counts[string(s.Status)]++
	}
	return SurgeryListOutput{Items: items, Total: len(items), StatusCounts: counts}, nil
}

type ListInventoryParams struct {
	Categoria      string `json:"categoria,omitempty"`
	Busca          string `json:"busca,omitempty"`
	ApenasCriticos bool   `json:"apenas_criticos,omitempty"`
}

// Stock severity, derived from available quantity vs. the product's
// minimum stock.
const (
	SeverityOK       = "ok"
	SeverityLow      = "low"
	SeverityCritical = "critical"
)

type InventoryLine struct {
	storex.InventoryItem
	Severity string `json:"severity"`
}

type InventoryOutput struct {
	Items          []InventoryLine `json:"items"`
	Total          int             `json:"total"`
	SeverityCounts map[string]int  `json:"severity_counts"`
}

func severityFor(item storex.InventoryItem) string {
	switch {
	case item.Available <= 0:
		return SeverityCritical
	case item.Available <= item.Product.MinStock:
		return SeverityLow
	default:
		return SeverityOK
	}
}

func runListInventory(ctx context.Context, r *Runtime, raw map[string]any, scope Scope) (any, error) {
	params, err := decodeParams[ListInventoryParams](raw)
	if err != nil {
		return nil, err
	}

	items, err := r.store.ListInventory(ctx, scope.TenantID, storex.ProductFilter{
		Category: params.Categoria,
		Query:    params.Busca,
	})
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}

	lines := make([]InventoryLine, 0, len(items))
	counts := make(map[string]int)
	for _, item := range items {
		sev := severityFor(item)
		if params.ApenasCriticos && sev == SeverityOK {
			continue
		}
		lines = append(lines, InventoryLine{InventoryItem: item, Severity: sev})
		counts[sev]++
	}
	return InventoryOutput{Items: lines, Total: len(lines), SeverityCounts: counts}, nil
}

type ListLotsParams struct {
	ProdutoID  string `json:"produto_id,omitempty"`
	Status     string `json:"status,omitempty" validate:"omitempty,oneof=available reserved consumed blocked expired quarantine"`
	NumeroLote string `json:"numero_lote,omitempty"`
}

type LotListOutput struct {
	Items        []storex.Lot   `json:"items"`
	Total        int            `json:"total"`
	StatusCounts map[string]int `json:"status_counts"`
}

func runListLots(ctx context.Context, r *Runtime, raw map[string]any, scope Scope) (any, error) {
	params, err := decodeParams[ListLotsParams](raw)
	if err != nil {
		return nil, err
	}

	items, err := r.store.ListLots(ctx, scope.TenantID, storex.LotFilter{
		ProductID: params.ProdutoID,
		Status:    params.Status,
		LotNumber: params.NumeroLote,
	})
	if err != nil {
		return nil, fmt.Errorf("list lots: %w", err)
	}

	counts := make(map[string]int)
	for _, l := range items {
		counts[string(l.Status)]++
	}
	return LotListOutput{Items: items, Total: len(items), StatusCounts: counts}, nil
}
