// internal/domain/cart/sync.go
package cart

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrPreconditionMissing: no orderId/accountId at dispatch time. Local mutation stands.
	ErrPreconditionMissing = errors.New("cart: precondition missing (orderId/accountId)")
	// ErrNetworkFailure: transport error talking to the order aggregate.
	ErrNetworkFailure = errors.New("cart: network failure")
	// ErrRemoteRejected: the order aggregate answered without success.
	ErrRemoteRejected = errors.New("cart: remote rejected")
)

// Mode is the only mutation shape the remote order aggregate accepts.
type Mode string

const (
	ModeAdd      Mode = "ADD"
	ModeSubtract Mode = "SUBTRACT"
)

func (m Mode) String() string { return string(m) }

// Valid reports whether m is ADD or SUBTRACT.
func (m Mode) Valid() bool {
	return m == ModeAdd || m == ModeSubtract
}

// ParseMode accepts "add"/"ADD"/"subtract"/"SUBTRACT".
func ParseMode(s string) (Mode, bool) {
	m := Mode(strings.ToUpper(strings.TrimSpace(s)))
	return m, m.Valid()
}

// Inverse returns the mode that undoes m.
func (m Mode) Inverse() Mode {
	if m == ModeAdd {
		return ModeSubtract
	}
	return ModeAdd
}

// SyncOperation is one relative mutation emitted by a state-changing store call.
// ID doubles as the idempotency key sent to the remote side.
type SyncOperation struct {
	ID           string
	SessionID    string
	RestaurantID string
	Seq          int64
	Mode         Mode
	Count        int
	// Line is the line as it was when the delta was computed.
	Line      CartLine
	CreatedAt time.Time
}

// Signature is the per-signature ordering key.
func (op SyncOperation) Signature() string {
	return op.Line.Signature
}

// Modifications projects the line's modifiers onto the wire shape.
func (op SyncOperation) Modifications() []Modification {
	out := make([]Modification, 0, len(op.Line.SelectedModifiers))
	for _, m := range op.Line.SelectedModifiers {
		out = append(out, Modification{
			ModifierID:      m.ModifierID,
			ModifierGroupID: m.ModifierGroupID,
			Count:           m.Count,
		})
	}
	return out
}

// Modification is the modifier part of a delta request.
type Modification struct {
	ModifierID      string `json:"mod_id"`
	ModifierGroupID string `json:"mod_group_id"`
	Count           int    `json:"count"`
}

// SyncStatus is the lifecycle of an outbox entry.
type SyncStatus string

const (
	SyncPending    SyncStatus = "pending"
	SyncDelivered  SyncStatus = "delivered"
	SyncFailed     SyncStatus = "failed"
	// SyncSkipped: nothing to sync to yet (no order/account). The local
	// mutation stands and the entry is not a divergence.
	SyncSkipped    SyncStatus = "skipped"
	SyncCancelled  SyncStatus = "cancelled"
	SyncReconciled SyncStatus = "reconciled"
)

// Settled reports statuses that need no further work and may be purged.
func (s SyncStatus) Settled() bool {
	switch s {
	case SyncDelivered, SyncSkipped, SyncCancelled, SyncReconciled:
		return true
	}
	return false
}

// SyncResult is delivered once per enqueued operation.
type SyncResult struct {
	OperationID string
	Status      SyncStatus
	Attempts    int
	Err         error
}

// OK reports a delivered operation.
func (r SyncResult) OK() bool {
	return r.Status == SyncDelivered && r.Err == nil
}

// OutboxEntry is the persisted form of an operation in the outbox.
type OutboxEntry struct {
	OperationID  string     `json:"operationId"`
	SessionID    string     `json:"sessionId"`
	RestaurantID string     `json:"restaurantId"`
	Signature    string     `json:"signature"`
	Seq          int64      `json:"seq"`
	Mode         Mode       `json:"mode"`
	Count        int        `json:"count"`
	ItemID       string     `json:"itemId"`
	Status       SyncStatus `json:"status"`
	Attempts     int        `json:"attempts"`
	LastError    string     `json:"lastError,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// NewOutboxEntry builds a pending entry for op.
func NewOutboxEntry(op SyncOperation, now time.Time) OutboxEntry {
	return OutboxEntry{
		OperationID:  op.ID,
		SessionID:    op.SessionID,
		RestaurantID: op.RestaurantID,
		Signature:    op.Signature(),
		Seq:          op.Seq,
		Mode:         op.Mode,
		Count:        op.Count,
		ItemID:       op.Line.ItemID,
		Status:       SyncPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
