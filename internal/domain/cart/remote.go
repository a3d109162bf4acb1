// internal/domain/cart/remote.go
package cart

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Credentials are read from the session collaborator right before each dispatch.
type Credentials struct {
	OrderID   string
	AccountID string
}

// Complete reports whether both ids are present.
func (c Credentials) Complete() bool {
	return strings.TrimSpace(c.OrderID) != "" && strings.TrimSpace(c.AccountID) != ""
}

// DeltaRequest is the logical shape of one call to the delta endpoint.
type DeltaRequest struct {
	Mode              Mode
	ItemID            string
	RestaurantItemRef string
	OrderID           string
	AccountID         string
	Count             int
	Note              string
	Modifications     []Modification
	IdempotencyKey    string
}

// RemoteLine is one line of the order aggregate's cart snapshot.
type RemoteLine struct {
	ItemID            string
	RestaurantItemRef string
	Name              string
	UnitPrice         decimal.Decimal
	Quantity          int
	Modifications     []Modifier
	Note              string
}

// Snapshot is what the snapshot endpoint returns.
// Version is 0 when the remote side does not version its snapshots.
type Snapshot struct {
	OrderID   string
	Version   int64
	Lines     []RemoteLine
	FetchedAt time.Time
}
