package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-memory Store used by tests and the
// no-DSN dev mode. WithTx holds the store lock for the whole closure, so
// concurrent reservations on one lot serialize the same way the Postgres
// row lock does; on error the pre-transaction snapshot is restored.
type MemoryStore struct {
	mu   sync.Mutex
	data *memData
	inTx bool
}

type memData struct {
	products     map[string]Product
	lots         map[string]Lot
	surgeries    map[string]Surgery
	reservations map[string]Reservation
	consumptions map[string]ConsumptionRecord
	movements    map[string]StockMovement
	traceability map[string]TraceabilityRecord
}

func NewMemory() *MemoryStore {
	return &MemoryStore{data: newMemData()}
}

func newMemData() *memData {
	return &memData{
		products:     map[string]Product{},
		lots:         map[string]Lot{},
		surgeries:    map[string]Surgery{},
		reservations: map[string]Reservation{},
		consumptions: map[string]ConsumptionRecord{},
		movements:    map[string]StockMovement{},
		traceability: map[string]TraceabilityRecord{},
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.products {
		c.products[k] = v
	}
	for k, v := range d.lots {
		c.lots[k] = v
	}
	for k, v := range d.surgeries {
		c.surgeries[k] = v
	}
	for k, v := range d.reservations {
		c.reservations[k] = v
	}
	for k, v := range d.consumptions {
		c.consumptions[k] = v
	}
	for k, v := range d.movements {
		c.movements[k] = v
	}
	for k, v := range d.traceability {
		c.traceability[k] = v
	}
	return c
}

func (s *MemoryStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	tx := &MemoryStore{data: s.data, inTx: true}
	if err := fn(tx); err != nil {
		*s.data = *snapshot
		return err
	}
	return nil
}

func (s *MemoryStore) GetProduct(ctx context.Context, tenantID, productID string) (*Product, error) {
	defer s.lock()()
	p, ok := s.data.products[productID]
	if !ok || p.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) FindProduct(ctx context.Context, tenantID, ref string) (*Product, error) {
	defer s.lock()()
	var matches []Product
	for _, p := range s.data.products {
		if p.TenantID != tenantID {
			continue
		}
		if p.ID == ref || p.Code == ref ||
			strings.Contains(strings.ToLower(p.Name), strings.ToLower(ref)) {
			matches = append(matches, p)
		}
	}
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	return &matches[0], nil
}

func (s *MemoryStore) GetLot(ctx context.Context, tenantID, lotID string) (*Lot, error) {
	defer s.lock()()
	l, ok := s.data.lots[lotID]
	if !ok || l.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return &l, nil
}

func (s *MemoryStore) LotForUpdate(ctx context.Context, tenantID, lotID string) (*Lot, error) {
	if !s.inTx {
		return nil, ErrTxRequired
	}
	return s.GetLot(ctx, tenantID, lotID)
}

func (s *MemoryStore) UpdateLotQuantities(ctx context.Context, lot *Lot) error {
	defer s.lock()()
	cur, ok := s.data.lots[lot.ID]
	if !ok || cur.TenantID != lot.TenantID {
		return ErrNotFound
	}
	cur.QuantityOnHand = lot.QuantityOnHand
	cur.QuantityReserved = lot.QuantityReserved
	cur.UpdatedAt = time.Now().UTC()
	s.data.lots[lot.ID] = cur
	return nil
}

func (s *MemoryStore) GetSurgery(ctx context.Context, tenantID, surgeryID string) (*Surgery, error) {
	defer s.lock()()
	sg, ok := s.data.surgeries[surgeryID]
	if !ok || sg.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return &sg, nil
}

func (s *MemoryStore) UpdateSurgery(ctx context.Context, sg *Surgery) error {
	defer s.lock()()
	cur, ok := s.data.surgeries[sg.ID]
	if !ok || cur.TenantID != sg.TenantID {
		return ErrNotFound
	}
	cur.Status = sg.Status
	cur.Notes = sg.Notes
	cur.UpdatedAt = sg.UpdatedAt
	cur.UpdatedBy = sg.UpdatedBy
	s.data.surgeries[sg.ID] = cur
	return nil
}

func (s *MemoryStore) InsertReservation(ctx context.Context, r *Reservation) error {
	defer s.lock()()
	if _, exists := s.data.reservations[r.ID]; exists {
		return fmt.Errorf("reservation %s already exists", r.ID)
	}
	s.data.reservations[r.ID] = *r
	return nil
}

func (s *MemoryStore) InsertConsumption(ctx context.Context, c *ConsumptionRecord) error {
	defer s.lock()()
	if _, exists := s.data.consumptions[c.ID]; exists {
		return fmt.Errorf("consumption record %s already exists", c.ID)
	}
	s.data.consumptions[c.ID] = *c
	return nil
}

func (s *MemoryStore) InsertMovement(ctx context.Context, m *StockMovement) error {
	defer s.lock()()
	if _, exists := s.data.movements[m.ID]; exists {
		return fmt.Errorf("stock movement %s already exists", m.ID)
	}
	s.data.movements[m.ID] = *m
	return nil
}

func (s *MemoryStore) InsertTraceability(ctx context.Context, t *TraceabilityRecord) error {
	defer s.lock()()
	if _, exists := s.data.traceability[t.ID]; exists {
		return fmt.Errorf("traceability record %s already exists", t.ID)
	}
	s.data.traceability[t.ID] = *t
	return nil
}

func (s *MemoryStore) ListSurgeries(ctx context.Context, tenantID string, f SurgeryFilter) ([]Surgery, error) {
	defer s.lock()()
	items := make([]Surgery, 0)
	for _, sg := range s.data.surgeries {
		if sg.TenantID != tenantID {
			continue
		}
		if f.Status != "" && string(sg.Status) != f.Status {
			continue
		}
		if f.Hospital != "" && sg.HospitalID != f.Hospital {
			continue
		}
		if f.From != nil && sg.ScheduledDate.Before(*f.From) {
			continue
		}
		if f.To != nil && sg.ScheduledDate.After(*f.To) {
			continue
		}
		items = append(items, sg)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].ScheduledDate.Equal(items[j].ScheduledDate) {
			return items[i].ScheduledDate.Before(items[j].ScheduledDate)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (s *MemoryStore) ListLots(ctx context.Context, tenantID string, f LotFilter) ([]Lot, error) {
	defer s.lock()()
	items := make([]Lot, 0)
	for _, l := range s.data.lots {
		if l.TenantID != tenantID {
			continue
		}
		if f.ProductID != "" && l.ProductID != f.ProductID {
			continue
		}
		if f.Status != "" && string(l.Status) != f.Status {
			continue
		}
		if f.LotNumber != "" && l.LotNumber != f.LotNumber {
			continue
		}
		items = append(items, l)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].ExpiryDate.Equal(items[j].ExpiryDate) {
			return items[i].ExpiryDate.Before(items[j].ExpiryDate)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (s *MemoryStore) ListInventory(ctx context.Context, tenantID string, f ProductFilter) ([]InventoryItem, error) {
	defer s.lock()()
	items := make([]InventoryItem, 0)
	for _, p := range s.data.products {
		if p.TenantID != tenantID {
			continue
		}
		if f.Category != "" && p.Category != f.Category {
			continue
		}
		if f.Query != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(f.Query)) {
			continue
		}
		item := InventoryItem{Product: p}
		for _, l := range s.data.lots {
			if l.TenantID == tenantID && l.ProductID == p.ID {
				item.QuantityOnHand += l.QuantityOnHand
				item.QuantityReserved += l.QuantityReserved
			}
		}
		item.Available = item.QuantityOnHand - item.QuantityReserved
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Product.ID < items[j].Product.ID })
	return items, nil
}

func (s *MemoryStore) ExpiredReservations(ctx context.Context, tenantID string, asOf time.Time) ([]Reservation, error) {
	defer s.lock()()
	items := make([]Reservation, 0)
	for _, r := range s.data.reservations {
		if r.TenantID == tenantID && r.ExpiresAt.Before(asOf) {
			items = append(items, r)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].ExpiresAt.Equal(items[j].ExpiresAt) {
			return items[i].ExpiresAt.Before(items[j].ExpiresAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

// Seed loads fixtures. Test and dev-mode helper; last write wins.
func (s *MemoryStore) Seed(products []Product, lots []Lot, surgeries []Surgery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range products {
		s.data.products[p.ID] = p
	}
	for _, l := range lots {
		s.data.lots[l.ID] = l
	}
	for _, sg := range surgeries {
		s.data.surgeries[sg.ID] = sg
	}
}

// Reservations returns the tenant's reservations ordered by creation.
func (s *MemoryStore) Reservations(tenantID string) []Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Reservation, 0)
	for _, r := range s.data.reservations {
		if r.TenantID == tenantID {
			items = append(items, r)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items
}

// Consumptions returns the tenant's consumption records.
func (s *MemoryStore) Consumptions(tenantID string) []ConsumptionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]ConsumptionRecord, 0)
	for _, c := range s.data.consumptions {
		if c.TenantID == tenantID {
			items = append(items, c)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

// Movements returns the tenant's stock movements.
func (s *MemoryStore) Movements(tenantID string) []StockMovement {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]StockMovement, 0)
	for _, m := range s.data.movements {
		if m.TenantID == tenantID {
			items = append(items, m)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

// TraceabilityRecords returns the tenant's traceability records.
func (s *MemoryStore) TraceabilityRecords(tenantID string) []TraceabilityRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]TraceabilityRecord, 0)
	for _, t := range s.data.traceability {
		if t.TenantID == tenantID {
			items = append(items, t)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

// MemoryLedger is the in-memory audit ledger counterpart to MemoryStore.
type MemoryLedger struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

func (l *MemoryLedger) Append(ctx context.Context, e AuditEntry) (*AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := ""
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].TenantID == e.TenantID {
			prev = l.entries[i].Hash
			break
		}
	}

	e.ID = int64(len(l.entries) + 1)
	e.PrevHash = prev
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	hash, err := chainHash(prev, e)
	if err != nil {
		return nil, err
	}
	e.Hash = hash
	l.entries = append(l.entries, e)
	out := e
	return &out, nil
}

func (l *MemoryLedger) Entries(ctx context.Context, tenantID string) ([]AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := make([]AuditEntry, 0)
	for _, e := range l.entries {
		if e.TenantID == tenantID {
			items = append(items, e)
		}
	}
	return items, nil
}
