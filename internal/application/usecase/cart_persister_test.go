package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsdish/internal/adapters/out/memory"
	cartdom "whatsdish/internal/domain/cart"
)

type countingRepo struct {
	mu      sync.Mutex
	upserts []cartdom.RestaurantCart
	deletes []string
	failing bool
}

func (r *countingRepo) Get(context.Context, string, string) (*cartdom.RestaurantCart, error) {
	return nil, nil
}

func (r *countingRepo) ListBySession(context.Context, string) ([]cartdom.RestaurantCart, error) {
	return nil, nil
}

func (r *countingRepo) Upsert(_ context.Context, _ string, c cartdom.RestaurantCart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts = append(r.upserts, c)
	if r.failing {
		return errors.New("unavailable")
	}
	return nil
}

func (r *countingRepo) Delete(_ context.Context, _ string, rid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes = append(r.deletes, rid)
	return nil
}

func TestCartPersister_LatestWinsAndEmptyDeletes(t *testing.T) {
	repo := &countingRepo{}
	p := newCartPersister("s1", repo)

	for q := 1; q <= 20; q++ {
		p.Offer(cartdom.RestaurantCart{RestaurantID: "r1", Lines: []cartdom.CartLine{{LineID: "l", ItemID: "x", Quantity: q}}})
	}
	p.Offer(cartdom.RestaurantCart{RestaurantID: "r2", Lines: []cartdom.CartLine{}})
	p.Close()

	repo.mu.Lock()
	defer repo.mu.Unlock()
	require.NotEmpty(t, repo.upserts)
	assert.LessOrEqual(t, len(repo.upserts), 20)
	assert.Equal(t, 20, repo.upserts[len(repo.upserts)-1].TotalItems())
	assert.Equal(t, []string{"r2"}, repo.deletes)
}

func TestCartPersister_SaveErrorIsLoggedOnly(t *testing.T) {
	repo := &countingRepo{failing: true}
	p := newCartPersister("s1", repo)
	p.Offer(cartdom.RestaurantCart{RestaurantID: "r1", Lines: []cartdom.CartLine{{LineID: "l", ItemID: "x", Quantity: 1}}})
	p.Close()
	p.Close()

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Len(t, repo.upserts, 1)
}

func TestCartPersister_ConcurrentMutationsSaveNewestCart(t *testing.T) {
	ctx := context.Background()
	for round := 0; round < 30; round++ {
		repo := memory.NewCartRepository()
		p := newCartPersister("s1", repo)
		s := newTestStore(&recordingEmitter{}, WithObserver(func(c cartdom.RestaurantCart) {
			// uneven observer latency must not reorder saved copies
			if c.TotalItems()%2 == 1 {
				time.Sleep(200 * time.Microsecond)
			}
			p.Offer(c)
		}))

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = s.AddLine("r1", burger(), 1)
			}()
		}
		wg.Wait()
		p.Close()

		got, err := repo.Get(ctx, "s1", "r1")
		require.NoError(t, err)
		require.NotNil(t, got, "round %d", round)
		assert.Equal(t, s.GetTotalItems("r1"), got.TotalItems(), "round %d", round)
		assert.Equal(t, 8, got.TotalItems(), "round %d", round)
	}
}
