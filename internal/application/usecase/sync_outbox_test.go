package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsdish/internal/adapters/out/memory"
	cartdom "whatsdish/internal/domain/cart"
)

// scriptedDispatcher answers from a per-call script and records calls.
type scriptedDispatcher struct {
	mu    sync.Mutex
	calls []cartdom.SyncOperation
	fn    func(ctx context.Context, op cartdom.SyncOperation, attempt int) error
	seen  map[string]int
}

func (d *scriptedDispatcher) Dispatch(ctx context.Context, op cartdom.SyncOperation) error {
	d.mu.Lock()
	if d.seen == nil {
		d.seen = map[string]int{}
	}
	d.seen[op.ID]++
	attempt := d.seen[op.ID]
	d.calls = append(d.calls, op)
	d.mu.Unlock()
	if d.fn == nil {
		return nil
	}
	return d.fn(ctx, op, attempt)
}

func (d *scriptedDispatcher) Calls() []cartdom.SyncOperation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]cartdom.SyncOperation(nil), d.calls...)
}

func noSleep(context.Context, time.Duration) error { return nil }

func op(id string, seq int64, sig string, mode cartdom.Mode, count int) cartdom.SyncOperation {
	return cartdom.SyncOperation{
		ID: id, RestaurantID: "r1", Seq: seq, Mode: mode, Count: count,
		Line: cartdom.CartLine{ItemID: "burger", Signature: sig},
	}
}

func await(t *testing.T, ch <-chan cartdom.SyncResult) cartdom.SyncResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sync result")
		return cartdom.SyncResult{}
	}
}

func TestSyncOutbox_DeliversInOrderPerSignature(t *testing.T) {
	release := make(chan struct{})
	disp := &scriptedDispatcher{fn: func(ctx context.Context, op cartdom.SyncOperation, _ int) error {
		if op.ID == "a1" {
			<-release
		}
		return nil
	}}
	repo := memory.NewOutboxRepository()
	o := NewSyncOutbox("s1", disp, repo, DefaultSyncPolicy(), WithOutboxClock(fixedClock{testNow}))
	t.Cleanup(o.Close)

	r1 := o.Enqueue(op("a1", 1, "burger|∅", cartdom.ModeAdd, 1))
	r2 := o.Enqueue(op("a2", 2, "burger|∅", cartdom.ModeAdd, 2))
	assert.Equal(t, 2, o.InFlight("r1"))

	close(release)
	assert.True(t, await(t, r1).OK())
	assert.True(t, await(t, r2).OK())

	calls := disp.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "a1", calls[0].ID)
	assert.Equal(t, "a2", calls[1].ID)

	e, ok := repo.Get("a2")
	require.True(t, ok)
	assert.Equal(t, cartdom.SyncDelivered, e.Status)
	assert.Equal(t, "s1", e.SessionID)
	assert.Equal(t, 1, e.Attempts)
}

func TestSyncOutbox_SignaturesDoNotBlockEachOther(t *testing.T) {
	block := make(chan struct{})
	disp := &scriptedDispatcher{fn: func(ctx context.Context, op cartdom.SyncOperation, _ int) error {
		if op.Line.Signature == "slow|∅" {
			select {
			case <-block:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}}
	o := NewSyncOutbox("s1", disp, nil, DefaultSyncPolicy())
	t.Cleanup(func() { close(block); o.Close() })

	_ = o.Enqueue(op("s", 1, "slow|∅", cartdom.ModeAdd, 1))
	fast := o.Enqueue(op("f", 2, "fast|∅", cartdom.ModeAdd, 1))
	assert.True(t, await(t, fast).OK())
}

func TestSyncOutbox_NoRetryByDefault(t *testing.T) {
	disp := &scriptedDispatcher{fn: func(context.Context, cartdom.SyncOperation, int) error {
		return cartdom.ErrNetworkFailure
	}}
	repo := memory.NewOutboxRepository()
	o := NewSyncOutbox("s1", disp, repo, DefaultSyncPolicy(), WithOutboxSleep(noSleep))
	t.Cleanup(o.Close)

	res := await(t, o.Enqueue(op("a", 1, "x|∅", cartdom.ModeAdd, 1)))
	assert.Equal(t, cartdom.SyncFailed, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.Len(t, disp.Calls(), 1)

	failed, err := o.Failed(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].LastError, "network")
}

func TestSyncOutbox_RetryUntilSuccessKeepsIdempotencyKey(t *testing.T) {
	var delays []time.Duration
	var mu sync.Mutex
	sleep := func(_ context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return nil
	}
	disp := &scriptedDispatcher{fn: func(_ context.Context, _ cartdom.SyncOperation, attempt int) error {
		if attempt < 3 {
			return cartdom.ErrNetworkFailure
		}
		return nil
	}}
	policy := SyncPolicy{RetryEnabled: true, MaxAttempts: 4, RetryBaseDelay: 10 * time.Millisecond}
	o := NewSyncOutbox("s1", disp, nil, policy, WithOutboxSleep(sleep))
	t.Cleanup(o.Close)

	res := await(t, o.Enqueue(op("a", 1, "x|∅", cartdom.ModeAdd, 1)))
	assert.True(t, res.OK())
	assert.Equal(t, 3, res.Attempts)

	for _, c := range disp.Calls() {
		assert.Equal(t, "a", c.ID)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, delays)
}

func TestSyncOutbox_PreconditionIsNotRetried(t *testing.T) {
	disp := &scriptedDispatcher{fn: func(context.Context, cartdom.SyncOperation, int) error {
		return cartdom.ErrPreconditionMissing
	}}
	repo := memory.NewOutboxRepository()
	o := NewSyncOutbox("s1", disp, repo, SyncPolicy{RetryEnabled: true, MaxAttempts: 5}, WithOutboxSleep(noSleep))
	t.Cleanup(o.Close)

	res := await(t, o.Enqueue(op("a", 1, "x|∅", cartdom.ModeAdd, 1)))
	assert.Equal(t, cartdom.SyncSkipped, res.Status)
	assert.ErrorIs(t, res.Err, cartdom.ErrPreconditionMissing)
	assert.Len(t, disp.Calls(), 1)

	// a skip is not a dead letter
	failed, err := o.Failed(context.Background(), "r1")
	require.NoError(t, err)
	assert.Empty(t, failed)
	e, ok := repo.Get("a")
	require.True(t, ok)
	assert.Equal(t, cartdom.SyncSkipped, e.Status)
}

func TestSyncOutbox_CancelRestaurantCancelsPending(t *testing.T) {
	var hold atomic.Bool
	hold.Store(true)
	disp := &scriptedDispatcher{fn: func(ctx context.Context, _ cartdom.SyncOperation, _ int) error {
		if hold.Load() {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}}
	repo := memory.NewOutboxRepository()
	o := NewSyncOutbox("s1", disp, repo, DefaultSyncPolicy())
	t.Cleanup(o.Close)

	r1 := o.Enqueue(op("a", 1, "x|∅", cartdom.ModeAdd, 1))
	r2 := o.Enqueue(op("b", 2, "x|∅", cartdom.ModeAdd, 1))

	o.CancelRestaurant("r1")
	assert.Equal(t, cartdom.SyncCancelled, await(t, r1).Status)
	assert.Equal(t, cartdom.SyncCancelled, await(t, r2).Status)
	assert.Equal(t, 0, o.InFlight("r1"))

	e, ok := repo.Get("b")
	require.True(t, ok)
	assert.Equal(t, cartdom.SyncCancelled, e.Status)

	// a new scope starts fresh
	hold.Store(false)
	assert.True(t, await(t, o.Enqueue(op("c", 3, "x|∅", cartdom.ModeAdd, 1))).OK())
}

func TestSyncOutbox_WaitIdle(t *testing.T) {
	release := make(chan struct{})
	disp := &scriptedDispatcher{fn: func(context.Context, cartdom.SyncOperation, int) error {
		<-release
		return nil
	}}
	o := NewSyncOutbox("s1", disp, nil, DefaultSyncPolicy())
	t.Cleanup(o.Close)

	require.NoError(t, o.WaitIdle(context.Background(), "r1"))

	_ = o.Enqueue(op("a", 1, "x|∅", cartdom.ModeAdd, 1))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, o.WaitIdle(ctx, "r1"), context.DeadlineExceeded)

	close(release)
	require.NoError(t, o.WaitIdle(context.Background(), "r1"))
}

func TestSyncOutbox_ClosedRejectsEnqueue(t *testing.T) {
	o := NewSyncOutbox("s1", &scriptedDispatcher{}, nil, DefaultSyncPolicy())
	o.Close()
	o.Close()

	res := await(t, o.Enqueue(op("a", 1, "x|∅", cartdom.ModeAdd, 1)))
	assert.Equal(t, cartdom.SyncCancelled, res.Status)
	assert.ErrorIs(t, res.Err, ErrOutboxClosed)
}

func TestSyncOutbox_MarkReconciled(t *testing.T) {
	disp := &scriptedDispatcher{fn: func(context.Context, cartdom.SyncOperation, int) error {
		return cartdom.ErrRemoteRejected
	}}
	repo := memory.NewOutboxRepository()
	o := NewSyncOutbox("s1", disp, repo, DefaultSyncPolicy())
	t.Cleanup(o.Close)

	_ = await(t, o.Enqueue(op("a", 1, "x|∅", cartdom.ModeAdd, 1)))
	failed, err := o.Failed(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, failed, 1)

	o.MarkReconciled(context.Background(), failed)
	failed, err = o.Failed(context.Background(), "r1")
	require.NoError(t, err)
	assert.Empty(t, failed)

	e, _ := repo.Get("a")
	assert.Equal(t, cartdom.SyncReconciled, e.Status)
}

func TestSyncPolicy_Backoff(t *testing.T) {
	p := SyncPolicy{RetryBaseDelay: time.Second}
	assert.Equal(t, time.Second, p.backoff(2))
	assert.Equal(t, 2*time.Second, p.backoff(3))
	assert.Equal(t, 8*time.Second, p.backoff(5))
	assert.Equal(t, maxRetryDelay, p.backoff(10))

	assert.Equal(t, 1, SyncPolicy{MaxAttempts: 9}.attempts())
	assert.Equal(t, defaultMaxAttempts, SyncPolicy{RetryEnabled: true}.attempts())
}
