package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// PostgresStore implements Store on bun. The zero receiver wraps *bun.DB;
// WithTx rebinds it to a bun.Tx so every method inside the closure runs on
// the same transaction.
type PostgresStore struct {
	db   bun.IDB
	inTx bool
}

func NewPostgres(dsn string) (*PostgresStore, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Init creates missing tables. Dev convenience; production schemas are
// managed externally.
func (s *PostgresStore) Init(ctx context.Context) error {
	models := []any{
		(*Product)(nil), (*Lot)(nil), (*Surgery)(nil),
		(*Reservation)(nil), (*ConsumptionRecord)(nil),
		(*StockMovement)(nil), (*TraceabilityRecord)(nil),
		(*AuditEntry)(nil),
	}
	for _, m := range models {
		if _, err := s.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", m, err)
		}
	}
	return nil
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	db, ok := s.db.(*bun.DB)
	if !ok {
		return errors.New("postgres store misconfigured: not a *bun.DB")
	}
	return db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(&PostgresStore{db: tx, inTx: true})
	})
}

func mapNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *PostgresStore) GetProduct(ctx context.Context, tenantID, productID string) (*Product, error) {
	p := new(Product)
	err := s.db.NewSelect().Model(p).
		Where("id = ?", productID).
		Where("tenant_id = ?", tenantID).
		Scan(ctx)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return p, nil
}

// FindProduct resolves a loose product reference: exact id or code first,
// then a name match.
func (s *PostgresStore) FindProduct(ctx context.Context, tenantID, ref string) (*Product, error) {
	p := new(Product)
	err := s.db.NewSelect().Model(p).
		Where("tenant_id = ?", tenantID).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("id = ?", ref).
				WhereOr("code = ?", ref).
				WhereOr("name ILIKE ?", "%"+ref+"%")
		}).
		Order("id ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return p, nil
}

func (s *PostgresStore) GetLot(ctx context.Context, tenantID, lotID string) (*Lot, error) {
	l := new(Lot)
	err := s.db.NewSelect().Model(l).
		Where("id = ?", lotID).
		Where("tenant_id = ?", tenantID).
		Scan(ctx)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return l, nil
}

func (s *PostgresStore) LotForUpdate(ctx context.Context, tenantID, lotID string) (*Lot, error) {
	if !s.inTx {
		return nil, ErrTxRequired
	}
	l := new(Lot)
	err := s.db.NewSelect().Model(l).
		Where("id = ?", lotID).
		Where("tenant_id = ?", tenantID).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return l, nil
}

func (s *PostgresStore) UpdateLotQuantities(ctx context.Context, lot *Lot) error {
	lot.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().Model(lot).
		Column("quantity_on_hand", "quantity_reserved", "updated_at").
		Where("id = ?", lot.ID).
		Where("tenant_id = ?", lot.TenantID).
		Exec(ctx)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (s *PostgresStore) GetSurgery(ctx context.Context, tenantID, surgeryID string) (*Surgery, error) {
	sg := new(Surgery)
	err := s.db.NewSelect().Model(sg).
		Where("id = ?", surgeryID).
		Where("tenant_id = ?", tenantID).
		Scan(ctx)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return sg, nil
}

func (s *PostgresStore) UpdateSurgery(ctx context.Context, sg *Surgery) error {
	res, err := s.db.NewUpdate().Model(sg).
		Column("status", "notes", "updated_at", "updated_by").
		Where("id = ?", sg.ID).
		Where("tenant_id = ?", sg.TenantID).
		Exec(ctx)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (s *PostgresStore) InsertReservation(ctx context.Context, r *Reservation) error {
	_, err := s.db.NewInsert().Model(r).Exec(ctx)
	return err
}

func (s *PostgresStore) InsertConsumption(ctx context.Context, c *ConsumptionRecord) error {
	_, err := s.db.NewInsert().Model(c).Exec(ctx)
	return err
}

func (s *PostgresStore) InsertMovement(ctx context.Context, m *StockMovement) error {
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	return err
}

func (s *PostgresStore) InsertTraceability(ctx context.Context, t *TraceabilityRecord) error {
	_, err := s.db.NewInsert().Model(t).Exec(ctx)
	return err
}

func (s *PostgresStore) ListSurgeries(ctx context.Context, tenantID string, f SurgeryFilter) ([]Surgery, error) {
	items := make([]Surgery, 0)
	q := s.db.NewSelect().Model(&items).
		Where("tenant_id = ?", tenantID)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Hospital != "" {
		q = q.Where("hospital_id = ?", f.Hospital)
	}
	if f.From != nil {
		q = q.Where("scheduled_date >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("scheduled_date <= ?", f.To.UTC())
	}
	if err := q.Order("scheduled_date ASC", "id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *PostgresStore) ListLots(ctx context.Context, tenantID string, f LotFilter) ([]Lot, error) {
	items := make([]Lot, 0)
	q := s.db.NewSelect().Model(&items).
		Where("tenant_id = ?", tenantID)
	if f.ProductID != "" {
		q = q.Where("product_id = ?", f.ProductID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.LotNumber != "" {
		q = q.Where("lot_number = ?", f.LotNumber)
	}
	if err := q.Order("expiry_date ASC", "id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *PostgresStore) ListInventory(ctx context.Context, tenantID string, f ProductFilter) ([]InventoryItem, error) {
	products := make([]Product, 0)
	q := s.db.NewSelect().Model(&products).
		Where("tenant_id = ?", tenantID)
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.Query != "" {
		q = q.Where("name ILIKE ?", "%"+f.Query+"%")
	}
	if err := q.Order("id ASC").Scan(ctx); err != nil {
		return nil, err
	}

	type stockRow struct {
		ProductID string `bun:"product_id"`
		OnHand    int    `bun:"on_hand"`
		Reserved  int    `bun:"reserved"`
	}
	rows := make([]stockRow, 0)
	err := s.db.NewSelect().Model((*Lot)(nil)).
		ColumnExpr("product_id").
		ColumnExpr("COALESCE(SUM(quantity_on_hand), 0) AS on_hand").
		ColumnExpr("COALESCE(SUM(quantity_reserved), 0) AS reserved").
		Where("tenant_id = ?", tenantID).
		GroupExpr("product_id").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	stock := make(map[string]stockRow, len(rows))
	for _, r := range rows {
		stock[r.ProductID] = r
	}

	items := make([]InventoryItem, 0, len(products))
	for _, p := range products {
		st := stock[p.ID]
		items = append(items, InventoryItem{
			Product:          p,
			QuantityOnHand:   st.OnHand,
			QuantityReserved: st.Reserved,
			Available:        st.OnHand - st.Reserved,
		})
	}
	return items, nil
}

func (s *PostgresStore) ExpiredReservations(ctx context.Context, tenantID string, asOf time.Time) ([]Reservation, error) {
	items := make([]Reservation, 0)
	err := s.db.NewSelect().Model(&items).
		Where("tenant_id = ?", tenantID).
		Where("expires_at < ?", asOf.UTC()).
		Order("expires_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return items, nil
}

// PostgresLedger is the bun-backed audit ledger. Append chains the new
// entry to the tenant's latest hash inside one transaction.
type PostgresLedger struct {
	db *bun.DB
}

func NewPostgresLedger(db *bun.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) Append(ctx context.Context, e AuditEntry) (*AuditEntry, error) {
	err := l.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		// Appends for one tenant must serialize, or two writers chain to
		// the same head and fork the ledger. A row lock on the head is not
		// enough: under read committed a waiter re-checks only the row it
		// blocked on, and an empty chain has no row to lock. The advisory
		// lock is held until the transaction ends.
		if _, err := tx.ExecContext(ctx,
			"SELECT pg_advisory_xact_lock(hashtext(?))", e.TenantID); err != nil {
			return err
		}

		var last AuditEntry
		err := tx.NewSelect().Model(&last).
			Where("tenant_id = ?", e.TenantID).
			Order("id DESC").
			Limit(1).
			Scan(ctx)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		e.PrevHash = last.Hash
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		hash, err := chainHash(e.PrevHash, e)
		if err != nil {
			return err
		}
		e.Hash = hash

		_, err = tx.NewInsert().Model(&e).Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (l *PostgresLedger) Entries(ctx context.Context, tenantID string) ([]AuditEntry, error) {
	items := make([]AuditEntry, 0)
	err := l.db.NewSelect().Model(&items).
		Where("tenant_id = ?", tenantID).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return items, nil
}

// DB exposes the underlying bun handle for ledger construction at boot.
func (s *PostgresStore) DB() *bun.DB {
	db, _ := s.db.(*bun.DB)
	return db
}
