// internal/adapters/out/sqlite/outbox_repository_sqlite.go
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	cartdom "whatsdish/internal/domain/cart"
)

// OutboxRepositorySQLite is a single-node cart.OutboxRepository.
// Timestamps are stored as unix nanoseconds.
type OutboxRepositorySQLite struct {
	db *sql.DB
}

// Open opens (or creates) the database at path. ":memory:" is accepted.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer keeps SQLITE_BUSY away
	db.SetMaxOpenConns(1)
	return db, nil
}

func NewOutboxRepositorySQLite(db *sql.DB) (*OutboxRepositorySQLite, error) {
	r := &OutboxRepositorySQLite{db: db}
	if err := r.migrate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *OutboxRepositorySQLite) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS cart_sync_outbox (
		operation_id  TEXT PRIMARY KEY,
		session_id    TEXT NOT NULL,
		restaurant_id TEXT NOT NULL,
		signature     TEXT NOT NULL,
		seq           INTEGER NOT NULL,
		mode          TEXT NOT NULL,
		count         INTEGER NOT NULL,
		item_id       TEXT NOT NULL,
		status        TEXT NOT NULL,
		attempts      INTEGER NOT NULL DEFAULT 0,
		last_error    TEXT NOT NULL DEFAULT '',
		created_at    INTEGER NOT NULL,
		updated_at    INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS cart_sync_outbox_lookup
		ON cart_sync_outbox (session_id, restaurant_id, status, seq);`
	_, err := r.db.ExecContext(context.Background(), query)
	return err
}

func (r *OutboxRepositorySQLite) Save(ctx context.Context, e cartdom.OutboxEntry) error {
	if strings.TrimSpace(e.OperationID) == "" {
		return errors.New("outbox_repository_sqlite: operationID is empty")
	}
	query := `
	INSERT INTO cart_sync_outbox (
		operation_id, session_id, restaurant_id, signature, seq, mode, count, item_id,
		status, attempts, last_error, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(operation_id) DO UPDATE SET
		status     = excluded.status,
		attempts   = excluded.attempts,
		last_error = excluded.last_error,
		updated_at = excluded.updated_at`
	_, err := r.db.ExecContext(ctx, query,
		e.OperationID, e.SessionID, e.RestaurantID, e.Signature, e.Seq,
		string(e.Mode), e.Count, e.ItemID, string(e.Status), e.Attempts, e.LastError,
		e.CreatedAt.UnixNano(), e.UpdatedAt.UnixNano(),
	)
	return err
}

func (r *OutboxRepositorySQLite) ListByStatus(ctx context.Context, sessionID, restaurantID string, status cartdom.SyncStatus) ([]cartdom.OutboxEntry, error) {
	query := `
	SELECT operation_id, session_id, restaurant_id, signature, seq, mode, count, item_id,
	       status, attempts, last_error, created_at, updated_at
	FROM cart_sync_outbox
	WHERE session_id = ? AND restaurant_id = ? AND status = ?
	ORDER BY seq ASC`
	rows, err := r.db.QueryContext(ctx, query, strings.TrimSpace(sessionID), strings.TrimSpace(restaurantID), string(status))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []cartdom.OutboxEntry{}
	for rows.Next() {
		var (
			e                  cartdom.OutboxEntry
			mode, st           string
			created, updatedNs int64
		)
		if err := rows.Scan(&e.OperationID, &e.SessionID, &e.RestaurantID, &e.Signature, &e.Seq,
			&mode, &e.Count, &e.ItemID, &st, &e.Attempts, &e.LastError, &created, &updatedNs); err != nil {
			return nil, err
		}
		m, ok := cartdom.ParseMode(mode)
		if !ok {
			return nil, fmt.Errorf("outbox_repository_sqlite: unknown mode %q for op %s", mode, e.OperationID)
		}
		e.Mode = m
		e.Status = cartdom.SyncStatus(st)
		e.CreatedAt = time.Unix(0, created).UTC()
		e.UpdatedAt = time.Unix(0, updatedNs).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *OutboxRepositorySQLite) PurgeDelivered(ctx context.Context, before time.Time) (int, error) {
	query := `
	DELETE FROM cart_sync_outbox
	WHERE status IN ('delivered', 'skipped', 'cancelled', 'reconciled') AND updated_at < ?`
	res, err := r.db.ExecContext(ctx, query, before.UnixNano())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
