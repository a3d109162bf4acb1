// internal/adapters/out/db/outbox_repository_pg.go
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	dbcommon "whatsdish/internal/adapters/out/db/common"
	cartdom "whatsdish/internal/domain/cart"
)

// OutboxSchemaPG creates the table used by OutboxRepositoryPG.
const OutboxSchemaPG = `
CREATE TABLE IF NOT EXISTS cart_sync_outbox (
  operation_id  TEXT PRIMARY KEY,
  session_id    TEXT NOT NULL,
  restaurant_id TEXT NOT NULL,
  signature     TEXT NOT NULL,
  seq           BIGINT NOT NULL,
  mode          TEXT NOT NULL,
  count         INTEGER NOT NULL,
  item_id       TEXT NOT NULL,
  status        TEXT NOT NULL,
  attempts      INTEGER NOT NULL DEFAULT 0,
  last_error    TEXT,
  created_at    TIMESTAMPTZ NOT NULL,
  updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS cart_sync_outbox_lookup
  ON cart_sync_outbox (session_id, restaurant_id, status, seq);
`

type OutboxRepositoryPG struct {
	DB *sql.DB
}

func NewOutboxRepositoryPG(db *sql.DB) *OutboxRepositoryPG {
	return &OutboxRepositoryPG{DB: db}
}

// Migrate applies OutboxSchemaPG.
func (r *OutboxRepositoryPG) Migrate(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, OutboxSchemaPG)
	return err
}

// Save upserts by operation_id. Identity columns are never rewritten.
func (r *OutboxRepositoryPG) Save(ctx context.Context, e cartdom.OutboxEntry) error {
	if strings.TrimSpace(e.OperationID) == "" {
		return errors.New("outbox_repository_pg: operationID is empty")
	}
	run := dbcommon.GetRunner(ctx, r.DB)
	const q = `
INSERT INTO cart_sync_outbox (
  operation_id, session_id, restaurant_id, signature, seq, mode, count, item_id,
  status, attempts, last_error, created_at, updated_at
) VALUES (
  $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
)
ON CONFLICT (operation_id) DO UPDATE SET
  status     = EXCLUDED.status,
  attempts   = EXCLUDED.attempts,
  last_error = EXCLUDED.last_error,
  updated_at = EXCLUDED.updated_at`
	_, err := run.ExecContext(ctx, q,
		e.OperationID,
		e.SessionID,
		e.RestaurantID,
		e.Signature,
		e.Seq,
		string(e.Mode),
		e.Count,
		e.ItemID,
		string(e.Status),
		e.Attempts,
		dbcommon.NullableOrEmpty(e.LastError),
		e.CreatedAt.UTC(),
		e.UpdatedAt.UTC(),
	)
	return err
}

func (r *OutboxRepositoryPG) ListByStatus(ctx context.Context, sessionID, restaurantID string, status cartdom.SyncStatus) ([]cartdom.OutboxEntry, error) {
	run := dbcommon.GetRunner(ctx, r.DB)
	const q = `
SELECT
  operation_id, session_id, restaurant_id, signature, seq, mode, count, item_id,
  status, attempts, last_error, created_at, updated_at
FROM cart_sync_outbox
WHERE session_id = $1 AND restaurant_id = $2 AND status = $3
ORDER BY seq ASC`
	rows, err := run.QueryContext(ctx, q, strings.TrimSpace(sessionID), strings.TrimSpace(restaurantID), string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []cartdom.OutboxEntry{}
	for rows.Next() {
		e, err := scanOutboxEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *OutboxRepositoryPG) PurgeDelivered(ctx context.Context, before time.Time) (int, error) {
	run := dbcommon.GetRunner(ctx, r.DB)
	const q = `
DELETE FROM cart_sync_outbox
WHERE status IN ('delivered', 'skipped', 'cancelled', 'reconciled') AND updated_at < $1`
	res, err := run.ExecContext(ctx, q, before.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func scanOutboxEntry(s dbcommon.RowScanner) (cartdom.OutboxEntry, error) {
	var (
		e         cartdom.OutboxEntry
		mode      string
		status    string
		lastError sql.NullString
	)
	if err := s.Scan(
		&e.OperationID,
		&e.SessionID,
		&e.RestaurantID,
		&e.Signature,
		&e.Seq,
		&mode,
		&e.Count,
		&e.ItemID,
		&status,
		&e.Attempts,
		&lastError,
		&e.CreatedAt,
		&e.UpdatedAt,
	); err != nil {
		return cartdom.OutboxEntry{}, err
	}
	m, ok := cartdom.ParseMode(mode)
	if !ok {
		return cartdom.OutboxEntry{}, fmt.Errorf("outbox_repository_pg: unknown mode %q for op %s", mode, e.OperationID)
	}
	e.Mode = m
	e.Status = cartdom.SyncStatus(status)
	e.LastError = dbcommon.FromNullString(lastError)
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, nil
}
