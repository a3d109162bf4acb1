// internal/adapters/out/memory/outbox_repository.go
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	cartdom "whatsdish/internal/domain/cart"
)

// OutboxRepository is an in-memory cart.OutboxRepository.
type OutboxRepository struct {
	mu      sync.Mutex
	entries map[string]cartdom.OutboxEntry
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{entries: map[string]cartdom.OutboxEntry{}}
}

func (r *OutboxRepository) Save(_ context.Context, e cartdom.OutboxEntry) error {
	id := strings.TrimSpace(e.OperationID)
	if id == "" {
		return errors.New("memory outbox: operationID is empty")
	}
	r.mu.Lock()
	r.entries[id] = e
	r.mu.Unlock()
	return nil
}

func (r *OutboxRepository) ListByStatus(_ context.Context, sessionID, restaurantID string, status cartdom.SyncStatus) ([]cartdom.OutboxEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []cartdom.OutboxEntry{}
	for _, e := range r.entries {
		if e.SessionID == sessionID && e.RestaurantID == restaurantID && e.Status == status {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (r *OutboxRepository) PurgeDelivered(_ context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, e := range r.entries {
		if e.Status.Settled() && e.UpdatedAt.Before(before) {
			delete(r.entries, id)
			n++
		}
	}
	return n, nil
}

// Get returns one entry (tests).
func (r *OutboxRepository) Get(operationID string) (cartdom.OutboxEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[operationID]
	return e, ok
}
