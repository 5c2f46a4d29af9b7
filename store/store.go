package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrTxRequired guards row-locked loads outside a transaction.
	ErrTxRequired = errors.New("operation requires a transaction")
)

// Store is the tenant-scoped persistence contract shared by the tool
// executors. WithTx runs fn against a transaction-bound Store; LotForUpdate
// is only legal inside one and holds the row lock until the transaction
// ends, which is what serializes concurrent reservations on the same lot.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Store) error) error

	GetProduct(ctx context.Context, tenantID, productID string) (*Product, error)
	FindProduct(ctx context.Context, tenantID, ref string) (*Product, error)
	GetLot(ctx context.Context, tenantID, lotID string) (*Lot, error)
	LotForUpdate(ctx context.Context, tenantID, lotID string) (*Lot, error)
	UpdateLotQuantities(ctx context.Context, lot *Lot) error
	GetSurgery(ctx context.Context, tenantID, surgeryID string) (*Surgery, error)
	UpdateSurgery(ctx context.Context, s *Surgery) error

	InsertReservation(ctx context.Context, r *Reservation) error
	InsertConsumption(ctx context.Context, c *ConsumptionRecord) error
	InsertMovement(ctx context.Context, m *StockMovement) error
	InsertTraceability(ctx context.Context, t *TraceabilityRecord) error

	ListSurgeries(ctx context.Context, tenantID string, f SurgeryFilter) ([]Surgery, error)
	ListLots(ctx context.Context, tenantID string, f LotFilter) ([]Lot, error)
	ListInventory(ctx context.Context, tenantID string, f ProductFilter) ([]InventoryItem, error)
	ExpiredReservations(ctx context.Context, tenantID string, asOf time.Time) ([]Reservation, error)
}
