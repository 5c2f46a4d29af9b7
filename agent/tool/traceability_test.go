package tool

import (
	"context"
	"errors"
	"testing"
	"time"

	storex "github.com/orthotrace/opsagent/store"
)

func seedTraceFixtures(st *storex.MemoryStore) {
	st.Seed(
		[]storex.Product{
			{ID: "P1", TenantID: "t1", Code: "HS-01", Name: "Hip Stem", RegistrationNumber: "REG-123"},
		},
		[]storex.Lot{
			{ID: "L1", TenantID: "t1", ProductID: "P1", LotNumber: "LN-1", QuantityOnHand: 5, Status: storex.LotAvailable},
		},
		[]storex.Surgery{
			{ID: "S1", TenantID: "t1", Status: storex.SurgeryCompleted, DoctorID: "D1", HospitalID: "H1",
				ScheduledDate: time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)},
		},
	)
}

func TestRegisterTraceabilityWritesRecordAndLedger(t *testing.T) {
	t.Parallel()

	st := storex.NewMemory()
	seedTraceFixtures(st)
	r := newTestRuntime(t, st)

	result := r.Dispatch(context.Background(), toolCall(ToolRegisterTrace, map[string]any{
		"cirurgia_id":       "S1",
		"lote_id":           "L1",
		"local_implante":    "left hip",
		"iniciais_paciente": "JMS",
		"data_implante":     "2026-03-10",
	}), testScope)
	if !result.Success {
		t.Fatalf("expected success, got %s", result.Error)
	}

	rec := result.Data.(*storex.TraceabilityRecord)
	if rec.LotNumber != "LN-1" || rec.RegistrationNumber != "REG-123" {
		t.Fatalf("product/lot details not denormalized: %+v", rec)
	}
	if rec.DoctorID != "D1" || rec.HospitalID != "H1" {
		t.Fatalf("surgery context not carried over: %+v", rec)
	}
	if !rec.ImplantDate.Equal(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("implant date = %v", rec.ImplantDate)
	}

	stored := st.TraceabilityRecords("t1")
	if len(stored) != 1 {
		t.Fatalf("stored records = %d, want 1", len(stored))
	}

	entries, err := r.ledger.Entries(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.TableName != "traceability_records" || e.Action != storex.AuditInsert || e.RecordID != rec.ID {
		t.Fatalf("unexpected ledger entry: %+v", e)
	}
	if e.Snapshot["lot_number"] != "LN-1" {
		t.Fatalf("snapshot = %v", e.Snapshot)
	}
	if err := storex.VerifyChain(entries); err != nil {
		t.Fatalf("VerifyChain() error = %v", err)
	}
}

func TestRegisterTraceabilityDefaultsImplantDate(t *testing.T) {
	t.Parallel()

	st := storex.NewMemory()
	seedTraceFixtures(st)
	r := newTestRuntime(t, st)

	result := r.Dispatch(context.Background(), toolCall(ToolRegisterTrace, map[string]any{
		"cirurgia_id": "S1",
		"lote_id":     "L1",
	}), testScope)
	if !result.Success {
		t.Fatalf("expected success, got %s", result.Error)
	}
	rec := result.Data.(*storex.TraceabilityRecord)
	if !rec.ImplantDate.Equal(time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("implant date should fall back to the scheduled date, got %v", rec.ImplantDate)
	}
}

type failingLedger struct{}

func (failingLedger) Append(context.Context, storex.AuditEntry) (*storex.AuditEntry, error) {
	return nil, errors.New("ledger unavailable")
}

func (failingLedger) Entries(context.Context, string) ([]storex.AuditEntry, error) {
	return nil, nil
}

func TestRegisterTraceabilitySurvivesLedgerFailure(t *testing.T) {
	t.Parallel()

	st := storex.NewMemory()
	seedTraceFixtures(st)
	r, err := NewRuntime(st, failingLedger{})
	if err != nil {
		t.Fatalf("NewRuntime() error = %v", err)
	}

	result := r.Dispatch(context.Background(), toolCall(ToolRegisterTrace, map[string]any{
		"cirurgia_id": "S1",
		"lote_id":     "L1",
	}), testScope)
	if !result.Success {
		t.Fatalf("traceability insert must stand even when the ledger fails, got %s", result.Error)
	}
	if got := len(st.TraceabilityRecords("t1")); got != 1 {
		t.Fatalf("stored records = %d, want 1", got)
	}
}

func TestRegisterTraceabilityUnknownLot(t *testing.T) {
	t.Parallel()

	st := storex.NewMemory()
	seedTraceFixtures(st)
	r := newTestRuntime(t, st)

	result := r.Dispatch(context.Background(), toolCall(ToolRegisterTrace, map[string]any{
		"cirurgia_id": "S1",
		"lote_id":     "ghost",
	}), testScope)
	if result.Success {
		t.Fatal("expected failure for unknown lot")
	}
	if got := len(st.TraceabilityRecords("t1")); got != 0 {
		t.Fatalf("stored records = %d, want 0", got)
	}
}
