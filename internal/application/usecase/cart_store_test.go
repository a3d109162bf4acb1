package usecase

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cartdom "whatsdish/internal/domain/cart"
)

func TestCartStore_AddLineMergesBySignature(t *testing.T) {
	em := &recordingEmitter{}
	s := newTestStore(em)

	first, err := s.AddLine("r1", cartdom.Candidate{ItemID: "A", UnitPrice: dec("2")}, 1)
	require.NoError(t, err)
	second, err := s.AddLine("r1", cartdom.Candidate{ItemID: "A", UnitPrice: dec("2")}, 2)
	require.NoError(t, err)

	lines := s.GetLines("r1")
	require.Len(t, lines, 1)
	assert.Equal(t, "A|"+cartdom.NoModifiers, lines[0].Signature)
	assert.Equal(t, 3, lines[0].Quantity)
	assert.Equal(t, first.LineID, second.LineID)

	// one delta per call, never coalesced
	assert.Equal(t, []delta{{cartdom.ModeAdd, 1}, {cartdom.ModeAdd, 2}}, deltas(em.Ops()))
}

func TestCartStore_DifferentModifiersMakeDifferentLines(t *testing.T) {
	s := newTestStore(&recordingEmitter{})

	_, err := s.AddLine("r1", burger(), 1)
	require.NoError(t, err)
	_, err = s.AddLine("r1", burger(cheese), 1)
	require.NoError(t, err)

	assert.Len(t, s.GetLines("r1"), 2)
	assert.Equal(t, 2, s.GetTotalItems("r1"))
}

func TestCartStore_MergeReplacesModifierDetails(t *testing.T) {
	s := newTestStore(&recordingEmitter{})

	_, err := s.AddLine("r1", burger(cheese), 1)
	require.NoError(t, err)
	pricier := cheese
	pricier.Price = dec("2.00")
	_, err = s.AddLine("r1", burger(pricier), 1)
	require.NoError(t, err)

	lines := s.GetLines("r1")
	require.Len(t, lines, 1)
	assert.True(t, dec("2.00").Equal(lines[0].SelectedModifiers[0].Price))
	assert.True(t, dec("20.00").Equal(s.GetTotalPrice("r1")), s.GetTotalPrice("r1").String())
}

func TestCartStore_BurgerWalkthrough(t *testing.T) {
	em := &recordingEmitter{}
	s := newTestStore(em)

	l, err := s.AddLine("r1", burger(cheese), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, s.GetTotalItems("r1"))
	assert.True(t, dec("9.50").Equal(s.GetTotalPrice("r1")))

	require.NoError(t, s.SetQuantity("r1", l.LineID, 3))
	assert.Equal(t, 3, s.GetTotalItems("r1"))

	require.NoError(t, s.RemoveLine("r1", l.LineID))
	assert.Empty(t, s.GetLines("r1"))
	assert.Equal(t, 0, s.GetTotalItems("r1"))
	assert.True(t, s.GetTotalPrice("r1").IsZero())

	assert.Equal(t, []delta{
		{cartdom.ModeAdd, 1},
		{cartdom.ModeAdd, 2},
		{cartdom.ModeSubtract, 3},
	}, deltas(em.Ops()))
}

func TestCartStore_SetQuantityZeroRemoves(t *testing.T) {
	em := &recordingEmitter{}
	s := newTestStore(em)

	l, err := s.AddLine("r1", burger(), 3)
	require.NoError(t, err)
	require.NoError(t, s.SetQuantity("r1", l.LineID, 0))

	assert.Empty(t, s.GetLines("r1"))
	ops := em.Ops()
	require.Len(t, ops, 2)
	assert.Equal(t, delta{cartdom.ModeSubtract, 3}, deltas(ops)[1])
	assert.Equal(t, 3, ops[1].Line.Quantity)
}

func TestCartStore_SetQuantityDecreaseAndNoop(t *testing.T) {
	em := &recordingEmitter{}
	s := newTestStore(em)

	l, _ := s.AddLine("r1", burger(), 5)
	require.NoError(t, s.SetQuantity("r1", l.LineID, 2))
	require.NoError(t, s.SetQuantity("r1", l.LineID, 2))
	require.NoError(t, s.SetQuantity("r1", "missing", 4))
	require.NoError(t, s.SetQuantity("other", l.LineID, 4))

	assert.Equal(t, []delta{{cartdom.ModeAdd, 5}, {cartdom.ModeSubtract, 3}}, deltas(em.Ops()))
	assert.Equal(t, 2, s.GetTotalItems("r1"))
}

func TestCartStore_RemoveUnknownLineIsNoop(t *testing.T) {
	em := &recordingEmitter{}
	s := newTestStore(em)

	assert.NoError(t, s.RemoveLine("r1", "nope"))
	_, _ = s.AddLine("r1", burger(), 1)
	assert.NoError(t, s.RemoveLine("r1", "nope"))
	assert.Len(t, em.Ops(), 1)
}

func TestCartStore_ReAddAfterRemoveCreatesFreshLine(t *testing.T) {
	s := newTestStore(&recordingEmitter{})

	l1, _ := s.AddLine("r1", burger(), 1)
	require.NoError(t, s.RemoveLine("r1", l1.LineID))
	l2, _ := s.AddLine("r1", burger(), 1)

	assert.NotEqual(t, l1.LineID, l2.LineID)
	assert.Equal(t, l1.Signature, l2.Signature)
}

func TestCartStore_AddLineValidation(t *testing.T) {
	em := &recordingEmitter{}
	s := newTestStore(em)

	_, err := s.AddLine("", burger(), 1)
	assert.ErrorIs(t, err, cartdom.ErrMissingRestaurantID)
	_, err = s.AddLine("r1", cartdom.Candidate{ItemID: " "}, 1)
	assert.ErrorIs(t, err, cartdom.ErrMissingItemID)
	_, err = s.AddLine("r1", burger(), 0)
	assert.ErrorIs(t, err, cartdom.ErrInvalidQuantity)
	_, err = s.AddLine("r1", cartdom.Candidate{ItemID: "x", UnitPrice: dec("-1")}, 1)
	assert.ErrorIs(t, err, cartdom.ErrInvalidPrice)
	neg := cheese
	neg.Price = dec("-0.5")
	_, err = s.AddLine("r1", burger(neg), 1)
	assert.ErrorIs(t, err, cartdom.ErrInvalidPrice)

	assert.Empty(t, em.Ops())
}

func TestCartStore_HydrateReplacesLocalState(t *testing.T) {
	em := &recordingEmitter{}
	s := newTestStore(em)
	_, _ = s.AddLine("r1", cartdom.Candidate{ItemID: "X", UnitPrice: dec("1")}, 2)

	require.NoError(t, s.Hydrate("r1", []cartdom.RemoteLine{
		{ItemID: "Y", UnitPrice: dec("4"), Quantity: 1},
	}))

	lines := s.GetLines("r1")
	require.Len(t, lines, 1)
	assert.Equal(t, "Y", lines[0].ItemID)
	assert.True(t, lines[0].Hydrated)
	assert.Equal(t, cartdom.HydratedLineID("r1", "Y", lines[0].Signature), lines[0].LineID)
	// hydration emits nothing
	assert.Len(t, em.Ops(), 1)
}

func TestCartStore_HydrateFoldsDuplicatesAndSkipsEmpty(t *testing.T) {
	s := newTestStore(&recordingEmitter{})

	require.NoError(t, s.Hydrate("r1", []cartdom.RemoteLine{
		{ItemID: "fries", Quantity: 1, Modifications: []cartdom.Modifier{{ModifierID: "salt", Count: 1}}},
		{ItemID: "fries", Quantity: 2, Modifications: []cartdom.Modifier{{ModifierID: "salt", Count: 1}}},
		{ItemID: "shake", Quantity: 0},
		{ItemID: "", Quantity: 4},
		{ItemID: "soda", Quantity: 1, UnitPrice: dec("-3")},
	}))

	lines := s.GetLines("r1")
	require.Len(t, lines, 2)
	assert.Equal(t, 3, lines[0].Quantity)
	assert.True(t, lines[1].UnitPrice.IsZero())
	require.NoError(t, cartdom.RestaurantCart{RestaurantID: "r1", Lines: lines}.Validate())
}

func TestCartStore_HydrateIsIdempotent(t *testing.T) {
	s := newTestStore(&recordingEmitter{})
	snap := []cartdom.RemoteLine{{ItemID: "fries", Quantity: 2}}

	require.NoError(t, s.Hydrate("r1", snap))
	first := s.GetLines("r1")
	require.NoError(t, s.Hydrate("r1", snap))
	assert.Equal(t, first[0].LineID, s.GetLines("r1")[0].LineID)
}

func TestCartStore_HydrateThenAddMergesIntoHydratedLine(t *testing.T) {
	em := &recordingEmitter{}
	s := newTestStore(em)
	require.NoError(t, s.Hydrate("r1", []cartdom.RemoteLine{{ItemID: "burger", Quantity: 1, UnitPrice: dec("8.00")}}))

	_, err := s.AddLine("r1", burger(), 1)
	require.NoError(t, err)

	lines := s.GetLines("r1")
	require.Len(t, lines, 1)
	assert.Equal(t, 2, lines[0].Quantity)
	assert.Equal(t, []delta{{cartdom.ModeAdd, 1}}, deltas(em.Ops()))
}

func TestCartStore_HydrateVersionedRejectsStale(t *testing.T) {
	s := newTestStore(&recordingEmitter{})

	require.NoError(t, s.HydrateVersioned("r1", 5, []cartdom.RemoteLine{{ItemID: "a", Quantity: 1}}))
	err := s.HydrateVersioned("r1", 4, []cartdom.RemoteLine{{ItemID: "b", Quantity: 1}})
	assert.ErrorIs(t, err, cartdom.ErrStaleSnapshot)
	assert.Equal(t, "a", s.GetLines("r1")[0].ItemID)

	// unversioned snapshots keep the last version
	require.NoError(t, s.Hydrate("r1", []cartdom.RemoteLine{{ItemID: "c", Quantity: 1}}))
	c, ok := s.Cart("r1")
	require.True(t, ok)
	assert.Equal(t, int64(5), c.Version)
}

func TestCartStore_MutationMarkChangesOnEmit(t *testing.T) {
	s := newTestStore(&recordingEmitter{})
	m0 := s.MutationMark("r1")
	_, _ = s.AddLine("r1", burger(), 1)
	assert.NotEqual(t, m0, s.MutationMark("r1"))

	m1 := s.MutationMark("r1")
	require.NoError(t, s.Hydrate("r1", nil))
	assert.Equal(t, m1, s.MutationMark("r1"))
}

func TestCartStore_ClearAndRestoreEmitNothing(t *testing.T) {
	em := &recordingEmitter{}
	var seen []cartdom.RestaurantCart
	var mu sync.Mutex
	s := newTestStore(em, WithObserver(func(c cartdom.RestaurantCart) {
		mu.Lock()
		seen = append(seen, c)
		mu.Unlock()
	}))

	_, _ = s.AddLine("r1", burger(), 1)
	s.Clear("r1")
	assert.Empty(t, s.GetLines("r1"))
	assert.Empty(t, s.Restaurants())

	require.NoError(t, s.Restore(cartdom.RestaurantCart{
		RestaurantID: "r2",
		Lines:        []cartdom.CartLine{{LineID: "l1", ItemID: "fries", Signature: "fries|∅", Quantity: 2}},
	}))
	assert.Equal(t, []string{"r2"}, s.Restaurants())
	assert.Len(t, em.Ops(), 1)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Empty(t, seen[1].Lines, "clear notifies an empty cart")
}

func TestCartStore_RestoreRejectsInvalid(t *testing.T) {
	s := newTestStore(&recordingEmitter{})
	err := s.Restore(cartdom.RestaurantCart{
		RestaurantID: "r1",
		Lines: []cartdom.CartLine{
			{LineID: "a", ItemID: "x", Signature: "x|∅", Quantity: 1},
			{LineID: "b", ItemID: "x", Signature: "x|∅", Quantity: 1},
		},
	})
	assert.ErrorIs(t, err, cartdom.ErrSignatureCollision)
}

func TestCartStore_RollbackOnFailure(t *testing.T) {
	em := &recordingEmitter{result: func(op cartdom.SyncOperation) cartdom.SyncResult {
		if op.Count == 2 {
			return cartdom.SyncResult{OperationID: op.ID, Status: cartdom.SyncFailed, Err: cartdom.ErrRemoteRejected}
		}
		return cartdom.SyncResult{OperationID: op.ID, Status: cartdom.SyncDelivered}
	}}
	s := newTestStore(em, WithRollbackOnFailure(true))

	_, _ = s.AddLine("r1", burger(), 1)
	_, _ = s.AddLine("r1", burger(), 2)

	require.Eventually(t, func() bool { return s.GetTotalItems("r1") == 1 }, time.Second, 5*time.Millisecond)
	// a revert is local only
	assert.Len(t, em.Ops(), 2)
}

func TestCartStore_RollbackRecreatesRemovedLine(t *testing.T) {
	em := &recordingEmitter{result: func(op cartdom.SyncOperation) cartdom.SyncResult {
		if op.Mode == cartdom.ModeSubtract {
			return cartdom.SyncResult{OperationID: op.ID, Status: cartdom.SyncFailed, Err: cartdom.ErrNetworkFailure}
		}
		return cartdom.SyncResult{OperationID: op.ID, Status: cartdom.SyncDelivered}
	}}
	s := newTestStore(em, WithRollbackOnFailure(true))

	l, _ := s.AddLine("r1", burger(cheese), 2)
	require.NoError(t, s.RemoveLine("r1", l.LineID))

	require.Eventually(t, func() bool { return s.GetTotalItems("r1") == 2 }, time.Second, 5*time.Millisecond)
	lines := s.GetLines("r1")
	require.Len(t, lines, 1)
	assert.Equal(t, l.Signature, lines[0].Signature)
	assert.NotEqual(t, l.LineID, lines[0].LineID)
}

func TestCartStore_NoRollbackByDefaultOrOnPrecondition(t *testing.T) {
	failing := func(err error) *recordingEmitter {
		return &recordingEmitter{result: func(op cartdom.SyncOperation) cartdom.SyncResult {
			return cartdom.SyncResult{OperationID: op.ID, Status: cartdom.SyncFailed, Err: err}
		}}
	}

	def := newTestStore(failing(cartdom.ErrNetworkFailure))
	_, _ = def.AddLine("r1", burger(), 2)

	pre := newTestStore(failing(cartdom.ErrPreconditionMissing), WithRollbackOnFailure(true))
	_, _ = pre.AddLine("r1", burger(), 2)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, def.GetTotalItems("r1"))
	assert.Equal(t, 2, pre.GetTotalItems("r1"))
}

func TestCartStore_ConcurrentAddsOnOneSignature(t *testing.T) {
	em := &recordingEmitter{}
	s := newTestStore(em)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.AddLine("r1", burger(), 1)
		}()
	}
	wg.Wait()

	lines := s.GetLines("r1")
	require.Len(t, lines, 1)
	assert.Equal(t, 50, lines[0].Quantity)

	ops := em.Ops()
	require.Len(t, ops, 50)
	for i := 1; i < len(ops); i++ {
		assert.Less(t, ops[i-1].Seq, ops[i].Seq, "ops reach the emitter in seq order")
	}
}
