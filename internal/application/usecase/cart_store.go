// internal/application/usecase/cart_store.go
package usecase

import (
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	cartdom "whatsdish/internal/domain/cart"
)

// Clock provides current time (for testability).
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Emitter hands one SyncOperation to the sync layer and returns immediately.
// The channel yields exactly one result.
type Emitter interface {
	Enqueue(op cartdom.SyncOperation) <-chan cartdom.SyncResult
}

// discardEmitter is used when a store has no sync layer (local-only).
type discardEmitter struct{}

func (discardEmitter) Enqueue(op cartdom.SyncOperation) <-chan cartdom.SyncResult {
	ch := make(chan cartdom.SyncResult, 1)
	ch <- cartdom.SyncResult{OperationID: op.ID, Status: cartdom.SyncCancelled}
	close(ch)
	return ch
}

// CartObserver receives a copy of a restaurant cart after every change.
// An empty Lines slice means the cart is gone. It runs under the store lock,
// so copies arrive in the order the changes were applied; it must not block
// or call back into the store.
type CartObserver func(c cartdom.RestaurantCart)

// CartStore owns the in-memory carts of one shopper session.
//
// Every state-changing call updates memory and emits exactly one
// SyncOperation (the net local delta) while holding the lock, so two
// mutations on one signature are always emitted in the order applied.
// Hydrate, Clear and Restore are local-only and emit nothing.
type CartStore struct {
	mu sync.Mutex

	sessionID string
	carts     map[string]*cartdom.RestaurantCart
	seq       int64
	emitted   map[string]int64

	emitter          Emitter
	clock            Clock
	newDisambiguator func() string
	newOperationID   func() string
	rollback         bool
	observer         CartObserver
}

// CartStoreOption customizes a CartStore.
type CartStoreOption func(*CartStore)

// WithStoreClock is useful for tests.
func WithStoreClock(c Clock) CartStoreOption {
	return func(s *CartStore) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithDisambiguator replaces the random local line-id disambiguator.
func WithDisambiguator(fn func() string) CartStoreOption {
	return func(s *CartStore) {
		if fn != nil {
			s.newDisambiguator = fn
		}
	}
}

// WithOperationIDs replaces the idempotency key generator.
func WithOperationIDs(fn func() string) CartStoreOption {
	return func(s *CartStore) {
		if fn != nil {
			s.newOperationID = fn
		}
	}
}

// WithRollbackOnFailure reverts the local effect of operations that fail to sync.
func WithRollbackOnFailure(enabled bool) CartStoreOption {
	return func(s *CartStore) { s.rollback = enabled }
}

// WithObserver registers a change observer.
func WithObserver(fn CartObserver) CartStoreOption {
	return func(s *CartStore) { s.observer = fn }
}

func NewCartStore(sessionID string, emitter Emitter, opts ...CartStoreOption) *CartStore {
	if emitter == nil {
		emitter = discardEmitter{}
	}
	s := &CartStore{
		sessionID:        strings.TrimSpace(sessionID),
		carts:            map[string]*cartdom.RestaurantCart{},
		emitted:          map[string]int64{},
		emitter:          emitter,
		clock:            systemClock{},
		newDisambiguator: uuid.NewString,
		newOperationID:   uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// pendingEmit is what a mutation leaves to do after unlocking.
type pendingEmit struct {
	op     cartdom.SyncOperation
	result <-chan cartdom.SyncResult
}

// AddLine merges candidate into the active line with the same signature
// (quantity += quantityDelta, modifier details replaced) or appends a new
// line, then emits ADD(quantityDelta).
func (s *CartStore) AddLine(restaurantID string, c cartdom.Candidate, quantityDelta int) (cartdom.CartLine, error) {
	rid := strings.TrimSpace(restaurantID)
	if rid == "" {
		return cartdom.CartLine{}, cartdom.ErrMissingRestaurantID
	}
	itemID := strings.TrimSpace(c.ItemID)
	if itemID == "" {
		return cartdom.CartLine{}, cartdom.ErrMissingItemID
	}
	if quantityDelta <= 0 {
		return cartdom.CartLine{}, cartdom.ErrInvalidQuantity
	}
	if c.UnitPrice.IsNegative() {
		return cartdom.CartLine{}, cartdom.ErrInvalidPrice
	}
	for _, m := range c.Modifiers {
		if m.Price.IsNegative() {
			return cartdom.CartLine{}, cartdom.ErrInvalidPrice
		}
	}

	s.mu.Lock()
	now := s.clock.Now()
	rc := s.cartLocked(rid)

	sig := cartdom.Signature(itemID, cartdom.RefsOf(c.Modifiers))
	var line cartdom.CartLine
	if idx := rc.IndexBySignature(sig); idx >= 0 {
		l := &rc.Lines[idx]
		l.Quantity += quantityDelta
		l.SelectedModifiers = cartdom.CloneModifiers(c.Modifiers)
		if note := strings.TrimSpace(c.Note); note != "" {
			l.Note = note
		}
		if ref := strings.TrimSpace(c.RestaurantItemRef); ref != "" {
			l.RestaurantItemRef = ref
		}
		if name := strings.TrimSpace(c.Name); name != "" {
			l.Name = name
		}
		line = l.Clone()
	} else {
		line = cartdom.CartLine{
			LineID:            cartdom.NewLineID(rid, itemID, sig, s.newDisambiguator()),
			ItemID:            itemID,
			RestaurantItemRef: strings.TrimSpace(c.RestaurantItemRef),
			Name:              strings.TrimSpace(c.Name),
			Signature:         sig,
			UnitPrice:         c.UnitPrice,
			Quantity:          quantityDelta,
			SelectedModifiers: cartdom.CloneModifiers(c.Modifiers),
			Note:              strings.TrimSpace(c.Note),
			CreatedAt:         now,
		}
		rc.Lines = append(rc.Lines, line.Clone())
	}
	rc.UpdatedAt = now

	p := s.emitLocked(rc, cartdom.ModeAdd, quantityDelta, line, now)
	s.mu.Unlock()

	s.after(p)
	return line, nil
}

// SetQuantity sets an absolute quantity and emits the net delta.
// newQuantity <= 0 behaves exactly like RemoveLine. Unknown lines are a no-op.
func (s *CartStore) SetQuantity(restaurantID, lineID string, newQuantity int) error {
	rid := strings.TrimSpace(restaurantID)
	if rid == "" {
		return cartdom.ErrMissingRestaurantID
	}
	if newQuantity <= 0 {
		return s.RemoveLine(rid, lineID)
	}

	s.mu.Lock()
	rc, ok := s.carts[rid]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	idx := rc.IndexByLineID(lineID)
	if idx < 0 {
		s.mu.Unlock()
		return nil
	}

	cur := rc.Lines[idx].Quantity
	delta := newQuantity - cur
	if delta == 0 {
		s.mu.Unlock()
		return nil
	}

	now := s.clock.Now()
	rc.Lines[idx].Quantity = newQuantity
	rc.UpdatedAt = now

	mode, count := cartdom.ModeAdd, delta
	if delta < 0 {
		mode, count = cartdom.ModeSubtract, -delta
	}
	p := s.emitLocked(rc, mode, count, rc.Lines[idx].Clone(), now)
	s.mu.Unlock()

	s.after(p)
	return nil
}

// RemoveLine emits SUBTRACT(current quantity) and deletes the line.
// Deletion does not wait for (or depend on) the dispatch outcome.
func (s *CartStore) RemoveLine(restaurantID, lineID string) error {
	rid := strings.TrimSpace(restaurantID)
	if rid == "" {
		return cartdom.ErrMissingRestaurantID
	}

	s.mu.Lock()
	rc, ok := s.carts[rid]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	idx := rc.IndexByLineID(lineID)
	if idx < 0 {
		s.mu.Unlock()
		return nil
	}

	now := s.clock.Now()
	removed := rc.Lines[idx].Clone()
	rc.Lines = cartdom.RemoveIndex(rc.Lines, idx)
	rc.UpdatedAt = now

	p := s.emitLocked(rc, cartdom.ModeSubtract, removed.Quantity, removed, now)
	s.mu.Unlock()

	s.after(p)
	return nil
}

// Hydrate replaces the restaurant's lines with remoteLines (no merge with
// local state). Remote lines sharing a signature are folded into one line.
func (s *CartStore) Hydrate(restaurantID string, remoteLines []cartdom.RemoteLine) error {
	return s.HydrateVersioned(restaurantID, 0, remoteLines)
}

// HydrateVersioned is Hydrate with a snapshot version. A version older than
// the last applied one is rejected with ErrStaleSnapshot; version 0 is
// always applied.
func (s *CartStore) HydrateVersioned(restaurantID string, version int64, remoteLines []cartdom.RemoteLine) error {
	return s.hydrate(restaurantID, version, remoteLines, nil)
}

// MutationMark returns a counter that changes whenever restaurantID emits.
func (s *CartStore) MutationMark(restaurantID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitted[strings.TrimSpace(restaurantID)]
}

// hydrate replaces the lines if guard (run under the store lock) allows it.
func (s *CartStore) hydrate(restaurantID string, version int64, remoteLines []cartdom.RemoteLine, guard func(emitted int64) error) error {
	rid := strings.TrimSpace(restaurantID)
	if rid == "" {
		return cartdom.ErrMissingRestaurantID
	}

	s.mu.Lock()
	if guard != nil {
		if err := guard(s.emitted[rid]); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	prev, exists := s.carts[rid]
	if exists && version > 0 && prev.Version > version {
		s.mu.Unlock()
		log.Printf("[cart_store] hydrate rejected stale snapshot restaurantId=%q have=%d got=%d", rid, prev.Version, version)
		return cartdom.ErrStaleSnapshot
	}

	now := s.clock.Now()
	lines := make([]cartdom.CartLine, 0, len(remoteLines))
	for _, rl := range remoteLines {
		itemID := strings.TrimSpace(rl.ItemID)
		if itemID == "" || rl.Quantity <= 0 {
			continue
		}
		sig, lineID := cartdom.ResolveHydrated(rid, rl)

		folded := false
		for i := range lines {
			if lines[i].Signature == sig {
				lines[i].Quantity += rl.Quantity
				folded = true
				break
			}
		}
		if folded {
			continue
		}

		unit := rl.UnitPrice
		if unit.IsNegative() {
			unit = decimal.Zero
		}
		lines = append(lines, cartdom.CartLine{
			LineID:            lineID,
			ItemID:            itemID,
			RestaurantItemRef: strings.TrimSpace(rl.RestaurantItemRef),
			Name:              strings.TrimSpace(rl.Name),
			Signature:         sig,
			UnitPrice:         unit,
			Quantity:          rl.Quantity,
			SelectedModifiers: cartdom.CloneModifiers(rl.Modifications),
			Note:              strings.TrimSpace(rl.Note),
			Hydrated:          true,
			CreatedAt:         now,
		})
	}

	rc := &cartdom.RestaurantCart{
		RestaurantID: rid,
		Lines:        lines,
		UpdatedAt:    now,
	}
	if exists {
		rc.Version = prev.Version
	}
	if version > 0 {
		rc.Version = version
	}
	s.carts[rid] = rc
	s.notifyLocked(rc)
	s.mu.Unlock()
	return nil
}

// Clear drops the whole restaurant cart (checkout success or abandonment).
// Nothing is emitted: the remote order is consumed by checkout itself.
func (s *CartStore) Clear(restaurantID string) {
	rid := strings.TrimSpace(restaurantID)
	if rid == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.carts[rid]; !ok {
		return
	}
	delete(s.carts, rid)
	s.notifyLocked(&cartdom.RestaurantCart{RestaurantID: rid, Lines: []cartdom.CartLine{}, UpdatedAt: s.clock.Now()})
}

// Restore loads persisted local state without emitting anything.
func (s *CartStore) Restore(c cartdom.RestaurantCart) error {
	c.RestaurantID = strings.TrimSpace(c.RestaurantID)
	if err := c.Validate(); err != nil {
		return err
	}
	cp := c.Clone()

	s.mu.Lock()
	s.carts[cp.RestaurantID] = &cp
	s.mu.Unlock()
	return nil
}

// GetLines returns a copy of the restaurant's lines in insertion order.
func (s *CartStore) GetLines(restaurantID string) []cartdom.CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()

	rc, ok := s.carts[strings.TrimSpace(restaurantID)]
	if !ok {
		return []cartdom.CartLine{}
	}
	return rc.Clone().Lines
}

// GetTotalItems returns Σ quantity.
func (s *CartStore) GetTotalItems(restaurantID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	rc, ok := s.carts[strings.TrimSpace(restaurantID)]
	if !ok {
		return 0
	}
	return rc.TotalItems()
}

// GetTotalPrice returns Σ quantity × (unitPrice + Σ modifier price).
func (s *CartStore) GetTotalPrice(restaurantID string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	rc, ok := s.carts[strings.TrimSpace(restaurantID)]
	if !ok {
		return decimal.Zero
	}
	return rc.TotalPrice()
}

// Cart returns a copy of one restaurant cart.
func (s *CartStore) Cart(restaurantID string) (cartdom.RestaurantCart, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rc, ok := s.carts[strings.TrimSpace(restaurantID)]
	if !ok {
		return cartdom.RestaurantCart{}, false
	}
	return rc.Clone(), true
}

// Restaurants lists restaurant ids that currently have a cart.
func (s *CartStore) Restaurants() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.carts))
	for id := range s.carts {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ----------------------------
// internals
// ----------------------------

func (s *CartStore) cartLocked(rid string) *cartdom.RestaurantCart {
	rc, ok := s.carts[rid]
	if !ok {
		rc = &cartdom.RestaurantCart{RestaurantID: rid, Lines: []cartdom.CartLine{}}
		s.carts[rid] = rc
	}
	return rc
}

func (s *CartStore) emitLocked(rc *cartdom.RestaurantCart, mode cartdom.Mode, count int, line cartdom.CartLine, now time.Time) pendingEmit {
	s.seq++
	s.emitted[rc.RestaurantID]++
	op := cartdom.SyncOperation{
		ID:           s.newOperationID(),
		SessionID:    s.sessionID,
		RestaurantID: rc.RestaurantID,
		Seq:          s.seq,
		Mode:         mode,
		Count:        count,
		Line:         line,
		CreatedAt:    now,
	}
	p := pendingEmit{op: op, result: s.emitter.Enqueue(op)}
	s.notifyLocked(rc)
	return p
}

// after watches the dispatch outcome when rollback is enabled.
func (s *CartStore) after(p pendingEmit) {
	if !s.rollback || p.result == nil {
		return
	}
	go func() {
		res, ok := <-p.result
		// skipped (no order yet) is not a failure: the mutation stands
		if !ok || res.Status != cartdom.SyncFailed || isPrecondition(res.Err) {
			return
		}
		s.revert(p.op)
	}()
}

func (s *CartStore) notifyLocked(rc *cartdom.RestaurantCart) {
	if s.observer != nil {
		s.observer(rc.Clone())
	}
}

// revert applies the inverse of a failed operation locally without emitting.
// A SUBTRACT whose line is gone re-creates it as a fresh line.
func (s *CartStore) revert(op cartdom.SyncOperation) {
	s.mu.Lock()
	now := s.clock.Now()
	rc := s.cartLocked(op.RestaurantID)
	idx := rc.IndexBySignature(op.Signature())

	switch op.Mode.Inverse() {
	case cartdom.ModeSubtract:
		if idx < 0 {
			s.mu.Unlock()
			return
		}
		q := rc.Lines[idx].Quantity - op.Count
		if q <= 0 {
			rc.Lines = cartdom.RemoveIndex(rc.Lines, idx)
		} else {
			rc.Lines[idx].Quantity = q
		}
	case cartdom.ModeAdd:
		if idx >= 0 {
			rc.Lines[idx].Quantity += op.Count
		} else {
			l := op.Line.Clone()
			l.LineID = cartdom.NewLineID(op.RestaurantID, l.ItemID, l.Signature, s.newDisambiguator())
			l.Quantity = op.Count
			l.Hydrated = false
			l.CreatedAt = now
			rc.Lines = append(rc.Lines, l)
		}
	}
	rc.UpdatedAt = now
	s.notifyLocked(rc)
	if len(rc.Lines) == 0 {
		delete(s.carts, op.RestaurantID)
	}
	s.mu.Unlock()

	log.Printf("[cart_store] reverted failed op=%s mode=%s count=%d restaurantId=%q signature=%q",
		op.ID, op.Mode, op.Count, op.RestaurantID, op.Signature())
}
