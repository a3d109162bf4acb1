// internal/adapters/out/db/common/sqlutil.go
package common

import (
	"context"
	"database/sql"
)

// RowScanner covers *sql.Row and *sql.Rows.
type RowScanner interface {
	Scan(dest ...any) error
}

// Runner is what *sql.DB and *sql.Tx have in common.
type Runner interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// TxKey is the context key holding a *sql.Tx.
type TxKey struct{}

func CtxWithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, TxKey{}, tx)
}

// TxFromCtx returns the transaction stored in ctx, or nil.
func TxFromCtx(ctx context.Context) *sql.Tx {
	if v := ctx.Value(TxKey{}); v != nil {
		if tx, ok := v.(*sql.Tx); ok {
			return tx
		}
	}
	return nil
}

// GetRunner returns the Tx in ctx if any, otherwise db.
func GetRunner(ctx context.Context, db *sql.DB) Runner {
	if tx := TxFromCtx(ctx); tx != nil {
		return tx
	}
	return db
}

// FromNullString maps NULL to "".
func FromNullString(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}

// NullableOrEmpty stores "" as NULL.
func NullableOrEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
