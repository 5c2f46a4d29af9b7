package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// AuditAction values recorded in the ledger.
const (
	AuditInsert = "INSERT"
	AuditUpdate = "UPDATE"
)

// AuditEntry is one link of the append-only, hash-chained audit ledger.
// Hash covers the previous entry's hash plus this entry's content, so any
// retroactive edit breaks verification of every later link.
type AuditEntry struct {
	bun.BaseModel `bun:"table:audit_ledger"`

	ID        int64          `bun:"id,pk,autoincrement" json:"id"`
	TenantID  string         `bun:"tenant_id,notnull" json:"tenant_id"`
	Actor     string         `bun:"actor,notnull" json:"actor"`
	TableName string         `bun:"table_name,notnull" json:"table_name"`
	RecordID  string         `bun:"record_id,notnull" json:"record_id"`
	Action    string         `bun:"action,notnull" json:"action"`
	Snapshot  map[string]any `bun:"snapshot,type:jsonb" json:"snapshot"`
	PrevHash  string         `bun:"prev_hash" json:"prev_hash"`
	Hash      string         `bun:"hash,notnull" json:"hash"`
	CreatedAt time.Time      `bun:"created_at,notnull" json:"created_at"`
}

// AuditLedger appends tamper-evident entries. Implementations must never
// update or delete existing entries.
type AuditLedger interface {
	Append(ctx context.Context, e AuditEntry) (*AuditEntry, error)
	Entries(ctx context.Context, tenantID string) ([]AuditEntry, error)
}

// chainHash computes the integrity hash of an entry given its predecessor's
// hash. Snapshot marshalling relies on encoding/json's sorted map keys for
// a canonical byte form.
func chainHash(prevHash string, e AuditEntry) (string, error) {
	snap, err := json.Marshal(e.Snapshot)
	if err != nil {
		return "", fmt.Errorf("marshal audit snapshot: %w", err)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s|%s|%s",
		prevHash, e.TenantID, e.Actor, e.TableName, e.RecordID, e.Action,
		snap, e.CreatedAt.UTC().Format(time.RFC3339Nano))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyChain recomputes every hash in order and reports the first broken
// link. Used by tests and reconciliation tooling.
func VerifyChain(entries []AuditEntry) error {
	prev := ""
	for i, e := range entries {
		if e.PrevHash != prev {
			return fmt.Errorf("audit chain broken at index %d: prev_hash mismatch", i)
		}
		want, err := chainHash(prev, e)
		if err != nil {
			return err
		}
		if e.Hash != want {
			return fmt.Errorf("audit chain broken at index %d: hash mismatch", i)
		}
		prev = e.Hash
	}
	return nil
}
