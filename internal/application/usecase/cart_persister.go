// internal/application/usecase/cart_persister.go
package usecase

import (
	"context"
	"log"
	"sync"
	"time"

	cartdom "whatsdish/internal/domain/cart"
)

// cartPersister saves local carts off the request path.
// Only the latest snapshot per restaurant is kept; writes for one session
// are serialized by a single worker.
type cartPersister struct {
	sessionID string
	repo      cartdom.Repository

	mu      sync.Mutex
	latest  map[string]cartdom.RestaurantCart
	order   []string
	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
}

func newCartPersister(sessionID string, repo cartdom.Repository) *cartPersister {
	p := &cartPersister{
		sessionID: sessionID,
		repo:      repo,
		latest:    map[string]cartdom.RestaurantCart{},
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Offer queues c for saving, replacing any unsaved older copy.
func (p *cartPersister) Offer(c cartdom.RestaurantCart) {
	p.mu.Lock()
	if _, queued := p.latest[c.RestaurantID]; !queued {
		p.order = append(p.order, c.RestaurantID)
	}
	p.latest[c.RestaurantID] = c
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Close flushes what is queued and stops the worker.
func (p *cartPersister) Close() {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
	<-p.stopped
}

func (p *cartPersister) run() {
	defer close(p.stopped)
	for {
		select {
		case <-p.wake:
			p.flush()
		case <-p.stop:
			p.flush()
			return
		}
	}
}

func (p *cartPersister) flush() {
	for {
		p.mu.Lock()
		if len(p.order) == 0 {
			p.mu.Unlock()
			return
		}
		rid := p.order[0]
		p.order = p.order[1:]
		c := p.latest[rid]
		delete(p.latest, rid)
		p.mu.Unlock()

		p.write(c)
	}
}

func (p *cartPersister) write(c cartdom.RestaurantCart) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	if len(c.Lines) == 0 {
		err = p.repo.Delete(ctx, p.sessionID, c.RestaurantID)
	} else {
		err = p.repo.Upsert(ctx, p.sessionID, c)
	}
	if err != nil {
		log.Printf("[cart_persister] save failed sessionId=%q restaurantId=%q lines=%d err=%v",
			p.sessionID, c.RestaurantID, len(c.Lines), err)
	}
}
