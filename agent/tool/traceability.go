package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	storex "github.com/orthotrace/opsagent/store"
)

type RegisterTraceabilityParams struct {
	CirurgiaID       string `json:"cirurgia_id" validate:"required"`
	LoteID           string `json:"lote_id" validate:"required"`
	LocalImplante    string `json:"local_implante,omitempty"`
	IniciaisPaciente string `json:"iniciais_paciente,omitempty" validate:"omitempty,max=5"`
	DataImplante     string `json:"data_implante,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// runRegisterTraceability writes the regulator-facing record linking an
// implanted device's lot to a case. The domain insert and the audit-ledger
// append are deliberately not one transaction: a traceability record must
// never be rolled back once written, so a failed ledger append stands as a
// reconciliation gap, not a failure.
func runRegisterTraceability(ctx context.Context, r *Runtime, raw map[string]any, scope Scope) (any, error) {
	params, err := decodeParams[RegisterTraceabilityParams](raw)
	if err != nil {
		return nil, err
	}

	sg, err := r.store.GetSurgery(ctx, scope.TenantID, params.CirurgiaID)
	if err != nil {
		return nil, fmt.Errorf("surgery %s: %w", params.CirurgiaID, err)
	}
	lot, err := r.store.GetLot(ctx, scope.TenantID, params.LoteID)
	if err != nil {
		return nil, fmt.Errorf("lot %s: %w", params.LoteID, err)
	}
	product, err := r.store.GetProduct(ctx, scope.TenantID, lot.ProductID)
	if err != nil {
		return nil, fmt.Errorf("product %s: %w", lot.ProductID, err)
	}

	now := r.now().UTC()
	implantDate := sg.ScheduledDate
	if params.DataImplante != "" {
		implantDate, _ = time.Parse(dateLayout, params.DataImplante)
	}

	rec := &storex.TraceabilityRecord{
		ID:                 r.newID(),
		TenantID:           scope.TenantID,
		SurgeryID:          sg.ID,
		ProductID:          product.ID,
		LotID:              lot.ID,
		LotNumber:          lot.LotNumber,
		RegistrationNumber: product.RegistrationNumber,
		ImplantDate:        implantDate,
		ImplantSite:        params.LocalImplante,
		PatientInitials:    params.IniciaisPaciente,
		DoctorID:           sg.DoctorID,
		HospitalID:         sg.HospitalID,
		CreatedAt:          now,
		CreatedBy:          scope.UserID,
	}
	if err := r.store.InsertTraceability(ctx, rec); err != nil {
		return nil, fmt.Errorf("insert traceability record: %w", err)
	}

	if _, err := r.ledger.Append(ctx, storex.AuditEntry{
		TenantID:  scope.TenantID,
		Actor:     scope.UserID,
		TableName: "traceability_records",
		RecordID:  rec.ID,
		Action:    storex.AuditInsert,
		Snapshot:  traceSnapshot(rec),
		CreatedAt: now,
	}); err != nil {
		log.Warn().Str("record_id", rec.ID).Err(err).
			Msg("audit ledger append failed after traceability insert; needs reconciliation")
	}

	return rec, nil
}

func traceSnapshot(rec *storex.TraceabilityRecord) map[string]any {
	return map[string]any{
		"surgery_id":          rec.SurgeryID,
		"product_id":          rec.ProductID,
		"lot_id":              rec.LotID,
		"lot_number":          rec.LotNumber,
		"registration_number": rec.RegistrationNumber,
		"implant_date":        rec.ImplantDate.UTC().Format(time.RFC3339),
		"implant_site":        rec.ImplantSite,
		"patient_initials":    rec.PatientInitials,
		"doctor_id":           rec.DoctorID,
		"hospital_id":         rec.HospitalID,
	}
}
