package tool

import (
	"context"
	"strings"
	"testing"

	storex "github.com/orthotrace/opsagent/store"
)

func TestDispatchUnknownTool(t *testing.T) {
	t.Parallel()

	st := storex.NewMemory()
	r := newTestRuntime(t, st)

	result := r.Dispatch(context.Background(), toolCall("drop_database", nil), testScope)
	if result.Success {
		t.Fatal("expected failure for unknown tool")
	}
	if !strings.Contains(result.Error, "unknown tool") {
		t.Fatalf("unexpected error: %s", result.Error)
	}
}

func TestDispatchSchemaRejectionBeforeAnyWrite(t *testing.T) {
	t.Parallel()

	st := storex.NewMemory()
	seedLot(st, 10, 0)
	r := newTestRuntime(t, st)

	cases := []struct {
		name   string
		params map[string]any
		want   string
	}{
		{"missing required fields", map[string]any{"quantidade": 2}, "lote_id"},
		{"wrong type", map[string]any{"lote_id": "L1", "cirurgia_id": "S1", "quantidade": "two"}, "invalid tool params"},
		{"non-positive quantity", map[string]any{"lote_id": "L1", "cirurgia_id": "S1", "quantidade": 0}, "quantidade"},
		{"unknown field", map[string]any{"lote_id": "L1", "cirurgia_id": "S1", "quantidade": 1, "force": true}, "invalid tool params"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := r.Dispatch(context.Background(), toolCall(ToolReserveMaterial, tc.params), testScope)
			if result.Success {
				t.Fatalf("expected rejection, got success with %+v", result.Data)
			}
			if !strings.Contains(result.Error, tc.want) {
				t.Fatalf("error %q does not mention %q", result.Error, tc.want)
			}
		})
	}

	// A rejected call must leave no trace in the store.
	if got := len(st.Reservations("t1")); got != 0 {
		t.Fatalf("expected zero writes after rejected calls, got %d reservations", got)
	}
	lot, _ := st.GetLot(context.Background(), "t1", "L1")
	if lot.QuantityReserved != 0 {
		t.Fatalf("lot mutated by rejected call: reserved = %d", lot.QuantityReserved)
	}
}

func TestDispatchEnumeratesAllFailingFields(t *testing.T) {
	t.Parallel()

	st := storex.NewMemory()
	r := newTestRuntime(t, st)

	result := r.Dispatch(context.Background(), toolCall(ToolRegisterConsumption, map[string]any{
		"tipo": "explode",
	}), testScope)
	if result.Success {
		t.Fatal("expected rejection")
	}
	for _, field := range []string{"cirurgia_id", "lote_id", "quantidade", "tipo"} {
		if !strings.Contains(result.Error, field) {
			t.Fatalf("error %q missing field %q", result.Error, field)
		}
	}
}

func TestLookupCoversClosedSet(t *testing.T) {
	t.Parallel()

	names := []string{
		ToolListSurgeries, ToolListInventory, ToolListLots,
		ToolReserveMaterial, ToolRegisterConsumption,
		ToolUpdateSurgeryStatus, ToolRegisterTrace, ToolGenerateStockAlert,
	}
	for _, name := range names {
		if _, ok := lookup(name); !ok {
			t.Fatalf("tool %s missing from dispatch table", name)
		}
	}
	if _, ok := lookup(""); ok {
		t.Fatal("empty name must not resolve")
	}
}
