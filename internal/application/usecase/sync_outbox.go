// internal/application/usecase/sync_outbox.go
package usecase

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	cartdom "whatsdish/internal/domain/cart"
)

var ErrOutboxClosed = errors.New("sync_outbox: closed")

// Dispatcher sends one operation once.
type Dispatcher interface {
	Dispatch(ctx context.Context, op cartdom.SyncOperation) error
}

// SyncOutbox is the asynchronous side of the store → remote path.
//
//   - each restaurant has its own cancellable scope; CancelRestaurant ends every
//     pending or in-flight delivery created under it
//   - each signature has one serial queue, so deltas for a signature are sent
//     in emission order (never coalesced)
//   - every operation is recorded in the OutboxRepository with its outcome
type SyncOutbox struct {
	sessionID  string
	dispatcher Dispatcher
	repo       cartdom.OutboxRepository
	policy     SyncPolicy
	clock      Clock
	sleep      func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	scopes map[string]*restaurantScope
	closed bool
	wg     sync.WaitGroup
}

type restaurantScope struct {
	ctx    context.Context
	cancel context.CancelFunc

	queues   map[string]*signatureQueue
	inFlight int
	idle     chan struct{} // closed when inFlight drops to 0
}

type signatureQueue struct {
	pending []*outboxItem
}

type outboxItem struct {
	op    cartdom.SyncOperation
	entry cartdom.OutboxEntry
	done  chan cartdom.SyncResult
}

// OutboxOption customizes a SyncOutbox.
type OutboxOption func(*SyncOutbox)

// WithOutboxClock is useful for tests.
func WithOutboxClock(c Clock) OutboxOption {
	return func(o *SyncOutbox) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithOutboxSleep replaces the retry backoff sleeper (tests).
func WithOutboxSleep(fn func(ctx context.Context, d time.Duration) error) OutboxOption {
	return func(o *SyncOutbox) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

func NewSyncOutbox(sessionID string, dispatcher Dispatcher, repo cartdom.OutboxRepository, policy SyncPolicy, opts ...OutboxOption) *SyncOutbox {
	o := &SyncOutbox{
		sessionID:  strings.TrimSpace(sessionID),
		dispatcher: dispatcher,
		repo:       repo,
		policy:     policy,
		clock:      systemClock{},
		sleep:      sleepCtx,
		scopes:     map[string]*restaurantScope{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Enqueue implements Emitter. It never blocks on I/O.
func (o *SyncOutbox) Enqueue(op cartdom.SyncOperation) <-chan cartdom.SyncResult {
	done := make(chan cartdom.SyncResult, 1)
	now := o.clock.Now()
	if op.SessionID == "" {
		op.SessionID = o.sessionID
	}
	entry := cartdom.NewOutboxEntry(op, now)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		done <- cartdom.SyncResult{OperationID: op.ID, Status: cartdom.SyncCancelled, Err: ErrOutboxClosed}
		close(done)
		return done
	}

	sc := o.scopeLocked(op.RestaurantID)
	key := op.Signature()
	q, running := sc.queues[key]
	if !running {
		q = &signatureQueue{}
		sc.queues[key] = q
	}
	q.pending = append(q.pending, &outboxItem{op: op, entry: entry, done: done})
	if sc.inFlight == 0 {
		sc.idle = make(chan struct{})
	}
	sc.inFlight++
	if !running {
		o.wg.Add(1)
		go o.drain(sc, key, q)
	}
	o.mu.Unlock()
	return done
}

// InFlight counts operations of restaurantID not yet finished.
func (o *SyncOutbox) InFlight(restaurantID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if sc, ok := o.scopes[strings.TrimSpace(restaurantID)]; ok {
		return sc.inFlight
	}
	return 0
}

// Busy reports whether any restaurant has operations in flight.
func (o *SyncOutbox) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, sc := range o.scopes {
		if sc.inFlight > 0 {
			return true
		}
	}
	return false
}

// WaitIdle blocks until restaurantID has nothing in flight or ctx ends.
func (o *SyncOutbox) WaitIdle(ctx context.Context, restaurantID string) error {
	o.mu.Lock()
	sc, ok := o.scopes[strings.TrimSpace(restaurantID)]
	if !ok || sc.inFlight == 0 {
		o.mu.Unlock()
		return nil
	}
	idle := sc.idle
	o.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelRestaurant ends the restaurant's sync scope. Operations not yet sent
// finish as cancelled; later Enqueue calls start a fresh scope.
func (o *SyncOutbox) CancelRestaurant(restaurantID string) {
	rid := strings.TrimSpace(restaurantID)
	o.mu.Lock()
	sc, ok := o.scopes[rid]
	if ok {
		delete(o.scopes, rid)
	}
	o.mu.Unlock()

	if ok {
		sc.cancel()
		log.Printf("[sync_outbox] scope cancelled sessionId=%q restaurantId=%q", o.sessionID, rid)
	}
}

// Failed lists dead-lettered operations of restaurantID.
func (o *SyncOutbox) Failed(ctx context.Context, restaurantID string) ([]cartdom.OutboxEntry, error) {
	if o.repo == nil {
		return nil, nil
	}
	return o.repo.ListByStatus(ctx, o.sessionID, strings.TrimSpace(restaurantID), cartdom.SyncFailed)
}

// MarkReconciled flags failed entries as settled by a re-hydration.
func (o *SyncOutbox) MarkReconciled(ctx context.Context, entries []cartdom.OutboxEntry) {
	if o.repo == nil {
		return
	}
	now := o.clock.Now()
	for _, e := range entries {
		e.Status = cartdom.SyncReconciled
		e.UpdatedAt = now
		if err := o.repo.Save(ctx, e); err != nil {
			log.Printf("[sync_outbox] mark reconciled failed op=%s err=%v", e.OperationID, err)
		}
	}
}

// Close cancels every scope and waits for drains to finish.
func (o *SyncOutbox) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	scopes := o.scopes
	o.scopes = map[string]*restaurantScope{}
	o.mu.Unlock()

	for _, sc := range scopes {
		sc.cancel()
	}
	o.wg.Wait()
}

// ----------------------------
// internals
// ----------------------------

func (o *SyncOutbox) scopeLocked(rid string) *restaurantScope {
	sc, ok := o.scopes[rid]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		sc = &restaurantScope{
			ctx:    ctx,
			cancel: cancel,
			queues: map[string]*signatureQueue{},
			idle:   make(chan struct{}),
		}
		close(sc.idle)
		o.scopes[rid] = sc
	}
	return sc
}

func (o *SyncOutbox) drain(sc *restaurantScope, key string, q *signatureQueue) {
	defer o.wg.Done()

	for {
		o.mu.Lock()
		if len(q.pending) == 0 {
			delete(sc.queues, key)
			o.mu.Unlock()
			return
		}
		it := q.pending[0]
		q.pending = q.pending[1:]
		o.mu.Unlock()

		res := o.deliver(sc.ctx, it)

		o.mu.Lock()
		sc.inFlight--
		if sc.inFlight == 0 {
			close(sc.idle)
		}
		o.mu.Unlock()

		it.done <- res
		close(it.done)
	}
}

func (o *SyncOutbox) deliver(ctx context.Context, it *outboxItem) cartdom.SyncResult {
	op := it.op
	maxAttempts := o.policy.attempts()
	o.save(it.entry)

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return o.finish(it, cartdom.SyncCancelled, attempt-1, ctx.Err())
		}
		if attempt > 1 {
			if serr := o.sleep(ctx, o.policy.backoff(attempt)); serr != nil {
				return o.finish(it, cartdom.SyncCancelled, attempt-1, serr)
			}
		}

		err = o.dispatcher.Dispatch(ctx, op)
		switch {
		case err == nil:
			return o.finish(it, cartdom.SyncDelivered, attempt, nil)
		case isPrecondition(err):
			log.Printf("[sync_outbox] WARN: dispatch skipped (no order/account) sessionId=%q restaurantId=%q op=%s mode=%s count=%d",
				o.sessionID, op.RestaurantID, op.ID, op.Mode, op.Count)
			return o.finish(it, cartdom.SyncSkipped, attempt, err)
		case ctx.Err() != nil:
			return o.finish(it, cartdom.SyncCancelled, attempt, err)
		}
		log.Printf("[sync_outbox] dispatch failed sessionId=%q restaurantId=%q op=%s mode=%s count=%d attempt=%d/%d err=%v",
			o.sessionID, op.RestaurantID, op.ID, op.Mode, op.Count, attempt, maxAttempts, err)
	}
	return o.finish(it, cartdom.SyncFailed, maxAttempts, err)
}

func (o *SyncOutbox) finish(it *outboxItem, status cartdom.SyncStatus, attempts int, err error) cartdom.SyncResult {
	e := it.entry
	e.Status = status
	e.Attempts = attempts
	e.LastError = ""
	if err != nil {
		e.LastError = err.Error()
	}
	e.UpdatedAt = o.clock.Now()
	o.save(e)
	return cartdom.SyncResult{OperationID: it.op.ID, Status: status, Attempts: attempts, Err: err}
}

func (o *SyncOutbox) save(e cartdom.OutboxEntry) {
	if o.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.repo.Save(ctx, e); err != nil {
		log.Printf("[sync_outbox] outbox save failed op=%s status=%s err=%v", e.OperationID, e.Status, err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
