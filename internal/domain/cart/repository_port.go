// internal/domain/cart/repository_port.go
package cart

import (
	"context"
	"time"
)

// SessionReader is the secure key-value read of order_id / accountId.
// A missing key is not an error: return empty fields and let the caller decide.
type SessionReader interface {
	ReadCredentials(ctx context.Context) (Credentials, error)
}

// SessionStore resolves a SessionReader per shopper session and lets the
// checkout layer bind credentials to it.
type SessionStore interface {
	Reader(sessionID string) SessionReader
	Bind(ctx context.Context, sessionID string, creds Credentials) error
}

// OrderAggregate is the remote order aggregate (consumed, not owned).
type OrderAggregate interface {
	// ApplyDelta sends one ADD/SUBTRACT. Transport errors wrap ErrNetworkFailure,
	// non-success answers wrap ErrRemoteRejected.
	ApplyDelta(ctx context.Context, req DeltaRequest) error
	// FetchCart returns the authoritative cart snapshot for orderID.
	FetchCart(ctx context.Context, orderID string) (Snapshot, error)
}

// Repository persists local (possibly unsynced) cart state so it survives restarts.
//
// Storage (Firestore):
//   - collection: carts
//   - docId: <sessionId>__<restaurantId>
//
// Not-found policy: Get returns (nil, nil).
type Repository interface {
	Get(ctx context.Context, sessionID, restaurantID string) (*RestaurantCart, error)
	ListBySession(ctx context.Context, sessionID string) ([]RestaurantCart, error)
	Upsert(ctx context.Context, sessionID string, c RestaurantCart) error
	Delete(ctx context.Context, sessionID, restaurantID string) error
}

// OutboxRepository records every emitted SyncOperation and its outcome.
type OutboxRepository interface {
	// Save creates or replaces the entry keyed by OperationID.
	Save(ctx context.Context, e OutboxEntry) error
	// ListByStatus returns entries of one session/restaurant in Seq order.
	ListByStatus(ctx context.Context, sessionID, restaurantID string, status SyncStatus) ([]OutboxEntry, error)
	// PurgeDelivered removes settled entries (see SyncStatus.Settled) last updated before t.
	PurgeDelivered(ctx context.Context, before time.Time) (int, error)
}

// CheckoutArchiver keeps the final cart of a completed checkout.
type CheckoutArchiver interface {
	Archive(ctx context.Context, sessionID string, c RestaurantCart, at time.Time) error
}

// DivergenceNotifier is told when local state had to be reset to the remote truth.
type DivergenceNotifier interface {
	NotifyDivergence(ctx context.Context, sessionID, restaurantID string, failed []OutboxEntry) error
}
