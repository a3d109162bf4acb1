// internal/application/usecase/cart_session.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	cartdom "whatsdish/internal/domain/cart"
)

var (
	// ErrSyncInFlight is returned by Activate when the restaurant still has
	// unsent or unacknowledged deltas, so a snapshot could be older than
	// local state.
	ErrSyncInFlight = errors.New("cart_session: sync in flight")

	ErrSessionNotConfigured = errors.New("cart_session: not configured")
	ErrMissingSessionID     = errors.New("cart_session: sessionID is empty")
	ErrRegistryClosed       = errors.New("cart_session: registry closed")
)

// CartSessionDeps are the collaborators of one shopper session.
// Carts, Archiver, Notifier and Limiter are optional.
type CartSessionDeps struct {
	Session  cartdom.SessionReader
	Remote   cartdom.OrderAggregate
	Outbox   cartdom.OutboxRepository
	Carts    cartdom.Repository
	Archiver cartdom.CheckoutArchiver
	Notifier cartdom.DivergenceNotifier
	Limiter  *rate.Limiter
	Policy   SyncPolicy
	Clock    Clock
}

// CartSession wires CartStore → SyncOutbox → SyncDispatcher for one session
// and owns hydration, reconciliation and checkout completion.
type CartSession struct {
	id string

	store      *CartStore
	outbox     *SyncOutbox
	dispatcher *SyncDispatcher
	persister  *cartPersister

	session  cartdom.SessionReader
	remote   cartdom.OrderAggregate
	archiver cartdom.CheckoutArchiver
	notifier cartdom.DivergenceNotifier

	policy SyncPolicy
	clock  Clock

	closeOnce sync.Once
}

// SyncStatusView summarizes the sync state of one restaurant cart.
type SyncStatusView struct {
	RestaurantID string                `json:"restaurantId"`
	InFlight     int                   `json:"inFlight"`
	Failed       []cartdom.OutboxEntry `json:"failed"`
}

// NewCartSession builds the session and restores any persisted carts.
func NewCartSession(ctx context.Context, sessionID string, deps CartSessionDeps, storeOpts ...CartStoreOption) (*CartSession, error) {
	sid := strings.TrimSpace(sessionID)
	if sid == "" {
		return nil, ErrMissingSessionID
	}
	if deps.Session == nil || deps.Remote == nil {
		return nil, ErrSessionNotConfigured
	}
	clock := deps.Clock
	if clock == nil {
		clock = systemClock{}
	}

	var dopts []DispatcherOption
	if deps.Limiter != nil {
		dopts = append(dopts, WithLimiter(deps.Limiter))
	}
	dispatcher := NewSyncDispatcher(deps.Session, deps.Remote, dopts...)
	outbox := NewSyncOutbox(sid, dispatcher, deps.Outbox, deps.Policy, WithOutboxClock(clock))

	s := &CartSession{
		id:         sid,
		outbox:     outbox,
		dispatcher: dispatcher,
		session:    deps.Session,
		remote:     deps.Remote,
		archiver:   deps.Archiver,
		notifier:   deps.Notifier,
		policy:     deps.Policy,
		clock:      clock,
	}

	opts := []CartStoreOption{
		WithStoreClock(clock),
		WithRollbackOnFailure(deps.Policy.RollbackOnFailure),
	}
	if deps.Carts != nil {
		s.persister = newCartPersister(sid, deps.Carts)
		opts = append(opts, WithObserver(s.persister.Offer))
	}
	opts = append(opts, storeOpts...)
	s.store = NewCartStore(sid, outbox, opts...)

	if deps.Carts != nil {
		if err := s.restore(ctx, deps.Carts); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *CartSession) ID() string { return s.id }

// Store exposes the session's CartStore for local mutations and queries.
func (s *CartSession) Store() *CartStore { return s.store }

// Activate hydrates restaurantID from the remote order.
//
// It first waits (bounded by the policy's hydrate wait) for in-flight
// deltas to finish. If a local mutation lands while the snapshot is being
// fetched, the snapshot is discarded and ErrSyncInFlight is returned.
func (s *CartSession) Activate(ctx context.Context, restaurantID string) (cartdom.Snapshot, error) {
	rid := strings.TrimSpace(restaurantID)
	if rid == "" {
		return cartdom.Snapshot{}, cartdom.ErrMissingRestaurantID
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.policy.hydrateWait())
	err := s.outbox.WaitIdle(waitCtx, rid)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return cartdom.Snapshot{}, ctx.Err()
		}
		log.Printf("[cart_session] activate deferred, sync in flight sessionId=%q restaurantId=%q inFlight=%d",
			s.id, rid, s.outbox.InFlight(rid))
		return cartdom.Snapshot{}, ErrSyncInFlight
	}

	creds, err := s.session.ReadCredentials(ctx)
	if err != nil {
		return cartdom.Snapshot{}, fmt.Errorf("%w: session read failed: %v", cartdom.ErrPreconditionMissing, err)
	}
	orderID := strings.TrimSpace(creds.OrderID)
	if orderID == "" {
		return cartdom.Snapshot{}, cartdom.ErrPreconditionMissing
	}

	mark := s.store.MutationMark(rid)
	snap, err := s.remote.FetchCart(ctx, orderID)
	if err != nil {
		return cartdom.Snapshot{}, err
	}

	err = s.store.hydrate(rid, snap.Version, snap.Lines, func(emitted int64) error {
		if emitted != mark || s.outbox.InFlight(rid) > 0 {
			return ErrSyncInFlight
		}
		return nil
	})
	if err != nil {
		return cartdom.Snapshot{}, err
	}

	log.Printf("[cart_session] hydrated sessionId=%q restaurantId=%q orderId=%q version=%d lines=%d",
		s.id, rid, orderID, snap.Version, len(snap.Lines))
	return snap, nil
}

// Reconcile re-hydrates restaurantID when it has failed deltas, then marks
// them reconciled. It reports whether a re-hydration happened.
func (s *CartSession) Reconcile(ctx context.Context, restaurantID string) (bool, error) {
	rid := strings.TrimSpace(restaurantID)
	if rid == "" {
		return false, cartdom.ErrMissingRestaurantID
	}

	failed, err := s.outbox.Failed(ctx, rid)
	if err != nil {
		return false, err
	}
	if len(failed) == 0 {
		return false, nil
	}

	if _, err := s.Activate(ctx, rid); err != nil {
		return false, err
	}
	s.outbox.MarkReconciled(ctx, failed)

	log.Printf("[cart_session] reconciled sessionId=%q restaurantId=%q failed=%d", s.id, rid, len(failed))

	if s.notifier != nil {
		if err := s.notifier.NotifyDivergence(ctx, s.id, rid, failed); err != nil {
			log.Printf("[cart_session] divergence notify failed sessionId=%q restaurantId=%q err=%v", s.id, rid, err)
		}
	}
	return true, nil
}

// ReconcileAll runs Reconcile for every restaurant with a local cart.
// It returns how many restaurants were re-hydrated.
func (s *CartSession) ReconcileAll(ctx context.Context) int {
	n := 0
	for _, rid := range s.store.Restaurants() {
		ok, err := s.Reconcile(ctx, rid)
		if err != nil {
			if !errors.Is(err, ErrSyncInFlight) && !isPrecondition(err) {
				log.Printf("[cart_session] reconcile failed sessionId=%q restaurantId=%q err=%v", s.id, rid, err)
			}
			continue
		}
		if ok {
			n++
		}
	}
	return n
}

// CompleteCheckout archives the cart, ends its sync scope and clears it.
// An archive failure is logged and does not block the clear.
func (s *CartSession) CompleteCheckout(ctx context.Context, restaurantID string) error {
	rid := strings.TrimSpace(restaurantID)
	if rid == "" {
		return cartdom.ErrMissingRestaurantID
	}

	if c, ok := s.store.Cart(rid); ok && s.archiver != nil && len(c.Lines) > 0 {
		if err := s.archiver.Archive(ctx, s.id, c, s.clock.Now()); err != nil {
			log.Printf("[cart_session] checkout archive failed sessionId=%q restaurantId=%q err=%v", s.id, rid, err)
		}
	}

	s.outbox.CancelRestaurant(rid)
	s.store.Clear(rid)
	log.Printf("[cart_session] checkout complete sessionId=%q restaurantId=%q", s.id, rid)
	return nil
}

// Abandon drops the restaurant cart and cancels its pending deltas.
func (s *CartSession) Abandon(restaurantID string) error {
	rid := strings.TrimSpace(restaurantID)
	if rid == "" {
		return cartdom.ErrMissingRestaurantID
	}
	s.outbox.CancelRestaurant(rid)
	s.store.Clear(rid)
	return nil
}

func (s *CartSession) SyncStatus(ctx context.Context, restaurantID string) (SyncStatusView, error) {
	rid := strings.TrimSpace(restaurantID)
	if rid == "" {
		return SyncStatusView{}, cartdom.ErrMissingRestaurantID
	}
	failed, err := s.outbox.Failed(ctx, rid)
	if err != nil {
		return SyncStatusView{}, err
	}
	if failed == nil {
		failed = []cartdom.OutboxEntry{}
	}
	return SyncStatusView{
		RestaurantID: rid,
		InFlight:     s.outbox.InFlight(rid),
		Failed:       failed,
	}, nil
}

// Close stops the outbox (cancelling pending deltas) and flushes saves.
func (s *CartSession) Close() {
	s.closeOnce.Do(func() {
		s.outbox.Close()
		if s.persister != nil {
			s.persister.Close()
		}
	})
}

func (s *CartSession) restore(ctx context.Context, repo cartdom.Repository) error {
	carts, err := repo.ListBySession(ctx, s.id)
	if err != nil {
		return fmt.Errorf("cart_session: restore: %w", err)
	}
	for _, c := range carts {
		if err := s.store.Restore(c); err != nil {
			log.Printf("[cart_session] WARN: skipping persisted cart sessionId=%q restaurantId=%q err=%v",
				s.id, c.RestaurantID, err)
		}
	}
	if len(carts) > 0 {
		log.Printf("[cart_session] restored sessionId=%q carts=%d", s.id, len(carts))
	}
	return nil
}

// ============================================================
// SessionRegistry
// ============================================================

// SessionFactory builds a CartSession for a session id.
type SessionFactory func(ctx context.Context, sessionID string) (*CartSession, error)

// SessionRegistry keeps one CartSession per session id.
//
// Sessions are built outside the registry lock; concurrent Gets for one id
// share a single build. EvictIdle closes sessions nobody used for a while.
type SessionRegistry struct {
	factory SessionFactory
	clock   Clock

	mu      sync.Mutex
	entries map[string]*registryEntry
	closed  bool
}

type registryEntry struct {
	ready    chan struct{} // closed once the build finished
	session  *CartSession
	err      error
	lastUsed time.Time

	evicting bool
	gone     chan struct{} // closed once an evicted session is fully closed
}

func (e *registryEntry) built() bool {
	select {
	case <-e.ready:
		return e.err == nil
	default:
		return false
	}
}

// RegistryOption customizes a SessionRegistry.
type RegistryOption func(*SessionRegistry)

// WithRegistryClock is useful for tests.
func WithRegistryClock(c Clock) RegistryOption {
	return func(r *SessionRegistry) {
		if c != nil {
			r.clock = c
		}
	}
}

func NewSessionRegistry(factory SessionFactory, opts ...RegistryOption) *SessionRegistry {
	r := &SessionRegistry{
		factory: factory,
		clock:   systemClock{},
		entries: map[string]*registryEntry{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Get returns the session, creating it on first use.
func (r *SessionRegistry) Get(ctx context.Context, sessionID string) (*CartSession, error) {
	sid := strings.TrimSpace(sessionID)
	if sid == "" {
		return nil, ErrMissingSessionID
	}
	if r == nil || r.factory == nil {
		return nil, ErrSessionNotConfigured
	}

	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrRegistryClosed
		}
		e, ok := r.entries[sid]
		if ok && e.evicting {
			// the old session must flush its carts before a new one restores them
			gone := e.gone
			r.mu.Unlock()
			select {
			case <-gone:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		building := !ok
		if building {
			e = &registryEntry{ready: make(chan struct{})}
			r.entries[sid] = e
		}
		e.lastUsed = r.clock.Now()
		r.mu.Unlock()

		if building {
			r.build(ctx, sid, e)
		}
		select {
		case <-e.ready:
			return e.session, e.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (r *SessionRegistry) build(ctx context.Context, sid string, e *registryEntry) {
	s, err := r.factory(ctx, sid)

	r.mu.Lock()
	e.session, e.err = s, err
	if err != nil && r.entries[sid] == e {
		delete(r.entries, sid)
	}
	orphan := err == nil && r.closed
	r.mu.Unlock()
	close(e.ready)

	if orphan {
		s.Close()
	}
}

// Sessions returns a snapshot of the open sessions.
func (r *SessionRegistry) Sessions() []*CartSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*CartSession, 0, len(r.entries))
	for _, e := range r.entries {
		if !e.evicting && e.built() {
			out = append(out, e.session)
		}
	}
	return out
}

// EvictIdle closes sessions unused for at least maxIdle that have nothing
// in flight. Their carts stay in the cart repository and come back on the
// next Get. It returns how many sessions were closed.
func (r *SessionRegistry) EvictIdle(maxIdle time.Duration) int {
	if r == nil || maxIdle <= 0 {
		return 0
	}
	cutoff := r.clock.Now().Add(-maxIdle)

	r.mu.Lock()
	var victims []*registryEntry
	var ids []string
	for sid, e := range r.entries {
		if e.evicting || !e.built() || e.lastUsed.After(cutoff) || e.session.outbox.Busy() {
			continue
		}
		e.evicting = true
		e.gone = make(chan struct{})
		victims = append(victims, e)
		ids = append(ids, sid)
	}
	r.mu.Unlock()

	for i, e := range victims {
		e.session.Close()

		r.mu.Lock()
		if r.entries[ids[i]] == e {
			delete(r.entries, ids[i])
		}
		r.mu.Unlock()
		close(e.gone)
		log.Printf("[cart_session] evicted idle sessionId=%q", ids[i])
	}
	return len(victims)
}

// RunEvictor calls EvictIdle every interval until ctx ends.
// A non-positive interval or maxIdle returns immediately.
func (r *SessionRegistry) RunEvictor(ctx context.Context, interval, maxIdle time.Duration) {
	if interval <= 0 || maxIdle <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.EvictIdle(maxIdle)
		}
	}
}

// RunReconciler reconciles every open session each interval until ctx ends.
// An interval <= 0 returns immediately.
func (r *SessionRegistry) RunReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	log.Printf("[cart_session] reconciler started interval=%s", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, s := range r.Sessions() {
				if n := s.ReconcileAll(ctx); n > 0 {
					log.Printf("[cart_session] reconciler pass sessionId=%q rehydrated=%d", s.ID(), n)
				}
			}
		}
	}
}

// Close closes every session; later Gets fail with ErrRegistryClosed.
func (r *SessionRegistry) Close() {
	r.mu.Lock()
	r.closed = true
	entries := r.entries
	r.entries = map[string]*registryEntry{}
	r.mu.Unlock()

	for _, e := range entries {
		if !e.evicting && e.built() {
			e.session.Close()
		}
	}
}
