package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	cartdom "whatsdish/internal/domain/cart"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// recordingEmitter records every operation and answers with result(op).
type recordingEmitter struct {
	mu     sync.Mutex
	ops    []cartdom.SyncOperation
	result func(op cartdom.SyncOperation) cartdom.SyncResult
}

func (e *recordingEmitter) Enqueue(op cartdom.SyncOperation) <-chan cartdom.SyncResult {
	e.mu.Lock()
	e.ops = append(e.ops, op)
	e.mu.Unlock()

	ch := make(chan cartdom.SyncResult, 1)
	res := cartdom.SyncResult{OperationID: op.ID, Status: cartdom.SyncDelivered}
	if e.result != nil {
		res = e.result(op)
	}
	ch <- res
	close(ch)
	return ch
}

func (e *recordingEmitter) Ops() []cartdom.SyncOperation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]cartdom.SyncOperation(nil), e.ops...)
}

type delta struct {
	Mode  cartdom.Mode
	Count int
}

func deltas(ops []cartdom.SyncOperation) []delta {
	out := make([]delta, 0, len(ops))
	for _, op := range ops {
		out = append(out, delta{op.Mode, op.Count})
	}
	return out
}

func seqIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestStore(em Emitter, opts ...CartStoreOption) *CartStore {
	base := []CartStoreOption{
		WithStoreClock(fixedClock{testNow}),
		WithDisambiguator(seqIDs()),
		WithOperationIDs(seqIDs()),
	}
	return NewCartStore("sess-1", em, append(base, opts...)...)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func burger(mods ...cartdom.Modifier) cartdom.Candidate {
	return cartdom.Candidate{ItemID: "burger", RestaurantItemRef: "g-burger", Name: "Burger", UnitPrice: dec("8.00"), Modifiers: mods}
}

var cheese = cartdom.Modifier{ModifierID: "cheese", ModifierGroupID: "toppings", Name: "Cheese", Price: dec("1.50"), Count: 1}

// fakeSession is a SessionReader with fixed credentials.
type fakeSession struct {
	mu    sync.Mutex
	creds cartdom.Credentials
	err   error
}

func (s *fakeSession) ReadCredentials(context.Context) (cartdom.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds, s.err
}

func completeSession() *fakeSession {
	return &fakeSession{creds: cartdom.Credentials{OrderID: "ord-1", AccountID: "acct-1"}}
}

// fakeRemote is an OrderAggregate that records deltas.
type fakeRemote struct {
	mu       sync.Mutex
	requests []cartdom.DeltaRequest
	applyErr func(req cartdom.DeltaRequest) error
	block    chan struct{} // when set, ApplyDelta waits on it (or ctx)
	snapshot cartdom.Snapshot
	fetchErr error
	fetches  int
}

func (r *fakeRemote) ApplyDelta(ctx context.Context, req cartdom.DeltaRequest) error {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	if r.applyErr != nil {
		return r.applyErr(req)
	}
	return nil
}

func (r *fakeRemote) FetchCart(_ context.Context, orderID string) (cartdom.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetches++
	s := r.snapshot
	s.OrderID = orderID
	return s, r.fetchErr
}

func (r *fakeRemote) Requests() []cartdom.DeltaRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cartdom.DeltaRequest(nil), r.requests...)
}

func (r *fakeRemote) setSnapshot(s cartdom.Snapshot) {
	r.mu.Lock()
	r.snapshot = s
	r.mu.Unlock()
}
