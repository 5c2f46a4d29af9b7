package store

import (
	"time"

	"github.com/uptrace/bun"
)

type SurgeryStatus string

const (
	SurgeryScheduled       SurgeryStatus = "scheduled"
	SurgeryConfirmed       SurgeryStatus = "confirmed"
	SurgeryInPreparation   SurgeryStatus = "in_preparation"
	SurgeryMaterialPending SurgeryStatus = "material_pending"
	SurgeryInProgress      SurgeryStatus = "in_progress"
	SurgeryCompleted       SurgeryStatus = "completed"
	SurgeryCancelled       SurgeryStatus = "cancelled"
	SurgeryPostponed       SurgeryStatus = "postponed"
)

// ValidSurgeryStatus reports enum membership. Transitions are deliberately
// permissive: any status may follow any other.
func ValidSurgeryStatus(s string) bool {
	switch SurgeryStatus(s) {
	case SurgeryScheduled, SurgeryConfirmed, SurgeryInPreparation,
		SurgeryMaterialPending, SurgeryInProgress, SurgeryCompleted,
		SurgeryCancelled, SurgeryPostponed:
		return true
	}
	return false
}

type LotStatus string

const (
	LotAvailable  LotStatus = "available"
	LotReserved   LotStatus = "reserved"
	LotConsumed   LotStatus = "consumed"
	LotBlocked    LotStatus = "blocked"
	LotExpired    LotStatus = "expired"
	LotQuarantine LotStatus = "quarantine"
)

type ConsumptionKind string

const (
	KindConsumption ConsumptionKind = "consumption"
	KindReturn      ConsumptionKind = "return"
	KindLoss        ConsumptionKind = "loss"
)

func ValidConsumptionKind(k string) bool {
	switch ConsumptionKind(k) {
	case KindConsumption, KindReturn, KindLoss:
		return true
	}
	return false
}

type Product struct {
	bun.BaseModel `bun:"table:products"`

	ID                 string `bun:"id,pk" json:"id"`
	TenantID           string `bun:"tenant_id,notnull" json:"tenant_id"`
	Code               string `bun:"code" json:"code"`
	Name               string `bun:"name,notnull" json:"name"`
	Category           string `bun:"category" json:"category"`
	RegistrationNumber string `bun:"registration_number" json:"registration_number"`
	MinStock           int    `bun:"min_stock" json:"min_stock"`
}

// Lot is a tracked batch of one product. Invariant:
// 0 <= QuantityReserved <= QuantityOnHand, mutated only through the
// reservation and consumption paths, which run under WithTx + LotForUpdate.
type Lot struct {
	bun.BaseModel `bun:"table:lots"`

	ID               string    `bun:"id,pk" json:"id"`
	TenantID         string    `bun:"tenant_id,notnull" json:"tenant_id"`
	ProductID        string    `bun:"product_id,notnull" json:"product_id"`
	LotNumber        string    `bun:"lot_number,notnull" json:"lot_number"`
	SerialNumber     string    `bun:"serial_number" json:"serial_number,omitempty"`
	QuantityOnHand   int       `bun:"quantity_on_hand,notnull" json:"quantity_on_hand"`
	QuantityReserved int       `bun:"quantity_reserved,notnull" json:"quantity_reserved"`
	ExpiryDate       time.Time `bun:"expiry_date" json:"expiry_date"`
	Status           LotStatus `bun:"status,notnull" json:"status"`
	UpdatedAt        time.Time `bun:"updated_at" json:"updated_at"`
}

// Available is the quantity still open for reservation.
func (l *Lot) Available() int {
	return l.QuantityOnHand - l.QuantityReserved
}

type Surgery struct {
	bun.BaseModel `bun:"table:surgeries"`

	ID            string        `bun:"id,pk" json:"id"`
	TenantID      string        `bun:"tenant_id,notnull" json:"tenant_id"`
	Status        SurgeryStatus `bun:"status,notnull" json:"status"`
	HospitalID    string        `bun:"hospital_id" json:"hospital_id"`
	DoctorID      string        `bun:"doctor_id" json:"doctor_id"`
	ScheduledDate time.Time     `bun:"scheduled_date" json:"scheduled_date"`
	Notes         string        `bun:"notes" json:"notes,omitempty"`
	UpdatedAt     time.Time     `bun:"updated_at" json:"updated_at"`
	UpdatedBy     string        `bun:"updated_by" json:"updated_by,omitempty"`
}

// ReservationTTL is the fixed expiry horizon of a soft hold. Enforcement of
// expired holds is a reconciliation concern, not done inline.
const ReservationTTL = 7 * 24 * time.Hour

type Reservation struct {
	bun.BaseModel `bun:"table:reservations"`

	ID        string    `bun:"id,pk" json:"id"`
	TenantID  string    `bun:"tenant_id,notnull" json:"tenant_id"`
	LotID     string    `bun:"lot_id,notnull" json:"lot_id"`
	SurgeryID string    `bun:"surgery_id,notnull" json:"surgery_id"`
	Quantity  int       `bun:"quantity,notnull" json:"quantity"`
	ExpiresAt time.Time `bun:"expires_at,notnull" json:"expires_at"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
	CreatedBy string    `bun:"created_by" json:"created_by,omitempty"`
}

type ConsumptionRecord struct {
	bun.BaseModel `bun:"table:consumption_records"`

	ID        string          `bun:"id,pk" json:"id"`
	TenantID  string          `bun:"tenant_id,notnull" json:"tenant_id"`
	SurgeryID string          `bun:"surgery_id,notnull" json:"surgery_id"`
	LotID     string          `bun:"lot_id,notnull" json:"lot_id"`
	Quantity  int             `bun:"quantity,notnull" json:"quantity"`
	Kind      ConsumptionKind `bun:"kind,notnull" json:"kind"`
	CreatedAt time.Time       `bun:"created_at,notnull" json:"created_at"`
	CreatedBy string          `bun:"created_by" json:"created_by,omitempty"`
}

// StockMovement is the inventory ledger entry paired 1:1 with each quantity
// mutation.
type StockMovement struct {
	bun.BaseModel `bun:"table:stock_movements"`

	ID             string          `bun:"id,pk" json:"id"`
	TenantID       string          `bun:"tenant_id,notnull" json:"tenant_id"`
	LotID          string          `bun:"lot_id,notnull" json:"lot_id"`
	Kind           ConsumptionKind `bun:"kind,notnull" json:"kind"`
	Quantity       int             `bun:"quantity,notnull" json:"quantity"`
	QuantityBefore int             `bun:"quantity_before,notnull" json:"quantity_before"`
	QuantityAfter  int             `bun:"quantity_after,notnull" json:"quantity_after"`
	ReferenceID    string          `bun:"reference_id" json:"reference_id,omitempty"`
	CreatedAt      time.Time       `bun:"created_at,notnull" json:"created_at"`
	CreatedBy      string          `bun:"created_by" json:"created_by,omitempty"`
}

// TraceabilityRecord is the regulator-facing, write-once link between an
// implanted device's lot and a patient case. The store exposes no update or
// delete path for it.
type TraceabilityRecord struct {
	bun.BaseModel `bun:"table:traceability_records"`

	ID                 string    `bun:"id,pk" json:"id"`
	TenantID           string    `bun:"tenant_id,notnull" json:"tenant_id"`
	SurgeryID          string    `bun:"surgery_id,notnull" json:"surgery_id"`
	ProductID          string    `bun:"product_id,notnull" json:"product_id"`
	LotID              string    `bun:"lot_id,notnull" json:"lot_id"`
	LotNumber          string    `bun:"lot_number" json:"lot_number"`
	RegistrationNumber string    `bun:"registration_number" json:"registration_number"`
	ImplantDate        time.Time `bun:"implant_date" json:"implant_date"`
	ImplantSite        string    `bun:"implant_site" json:"implant_site"`
	PatientInitials    string    `bun:"patient_initials" json:"patient_initials"`
	DoctorID           string    `bun:"doctor_id" json:"doctor_id"`
	HospitalID         string    `bun:"hospital_id" json:"hospital_id"`
	CreatedAt          time.Time `bun:"created_at,notnull" json:"created_at"`
	CreatedBy          string    `bun:"created_by" json:"created_by,omitempty"`
}

// InventoryItem is one product's aggregated stock position.
type InventoryItem struct {
	Product          Product `json:"product"`
	QuantityOnHand   int     `json:"quantity_on_hand"`
	QuantityReserved int     `json:"quantity_reserved"`
	Available        int     `json:"available"`
}

type SurgeryFilter struct {
	From     *time.Time
	To       *time.Time
	Status   string
	Hospital string
}

type LotFilter struct {
	ProductID string
	Status    string
	LotNumber string
}

type ProductFilter struct {
	Category string
	Query    string
}
