// internal/adapters/out/memory/cart_repository.go
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	cartdom "whatsdish/internal/domain/cart"
)

// CartRepository is an in-memory cart.Repository.
type CartRepository struct {
	mu    sync.RWMutex
	carts map[string]map[string]cartdom.RestaurantCart
}

func NewCartRepository() *CartRepository {
	return &CartRepository{carts: map[string]map[string]cartdom.RestaurantCart{}}
}

// Get returns (nil, nil) if not found.
func (r *CartRepository) Get(_ context.Context, sessionID, restaurantID string) (*cartdom.RestaurantCart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.carts[strings.TrimSpace(sessionID)][strings.TrimSpace(restaurantID)]
	if !ok {
		return nil, nil
	}
	cp := c.Clone()
	return &cp, nil
}

func (r *CartRepository) ListBySession(_ context.Context, sessionID string) ([]cartdom.RestaurantCart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m := r.carts[strings.TrimSpace(sessionID)]
	out := make([]cartdom.RestaurantCart, 0, len(m))
	for _, c := range m {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RestaurantID < out[j].RestaurantID })
	return out, nil
}

func (r *CartRepository) Upsert(_ context.Context, sessionID string, c cartdom.RestaurantCart) error {
	sid := strings.TrimSpace(sessionID)
	if sid == "" {
		return errEmptySessionID
	}
	if strings.TrimSpace(c.RestaurantID) == "" {
		return cartdom.ErrMissingRestaurantID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.carts[sid]
	if !ok {
		m = map[string]cartdom.RestaurantCart{}
		r.carts[sid] = m
	}
	m[c.RestaurantID] = c.Clone()
	return nil
}

func (r *CartRepository) Delete(_ context.Context, sessionID, restaurantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sid := strings.TrimSpace(sessionID)
	if m, ok := r.carts[sid]; ok {
		delete(m, strings.TrimSpace(restaurantID))
		if len(m) == 0 {
			delete(r.carts, sid)
		}
	}
	return nil
}
