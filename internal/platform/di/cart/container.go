// internal/platform/di/cart/container.go
package cart

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	httpout "whatsdish/internal/adapters/out/http"
	usecase "whatsdish/internal/application/usecase"
	cartdom "whatsdish/internal/domain/cart"
	shared "whatsdish/internal/platform/di/shared"
)

const (
	// outbox rows that settled longer ago than this are purged
	outboxRetention     = 7 * 24 * time.Hour
	outboxPurgeInterval = time.Hour

	sessionEvictInterval = time.Minute
)

// Container is the cart DI container.
// Pure DI: build deps only. No routing branching.
type Container struct {
	Infra *shared.Infra

	Policy usecase.SyncPolicy

	// Adapters (selected by runtime settings)
	SessionStore cartdom.SessionStore
	Outbox       cartdom.OutboxRepository
	Carts        cartdom.Repository
	Remote       cartdom.OrderAggregate
	Archiver     cartdom.CheckoutArchiver   // nil when disabled
	Notifier     cartdom.DivergenceNotifier // nil when disabled

	Registry *usecase.SessionRegistry

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

func NewContainer(ctx context.Context, infra *shared.Infra) (*Container, error) {
	if infra == nil {
		return nil, errors.New("di.cart: shared infra is nil")
	}
	if infra.Config == nil {
		return nil, errors.New("di.cart: shared infra config is nil")
	}
	cfg := infra.Config

	sessions, err := buildSessionStore(infra)
	if err != nil {
		return nil, err
	}
	outbox, err := buildOutboxRepository(ctx, infra)
	if err != nil {
		return nil, err
	}
	carts, err := buildCartRepository(infra)
	if err != nil {
		return nil, err
	}

	c := &Container{
		Infra:        infra,
		Policy:       syncPolicyFromConfig(cfg),
		SessionStore: sessions,
		Outbox:       outbox,
		Carts:        carts,
		Remote:       httpout.NewOrderAggregateClient(cfg.OrderAPIBaseURL, cfg.OrderAPITimeout, buildTokenSource(infra)),
		Archiver:     buildArchiver(infra),
		Notifier:     buildNotifier(cfg),
	}

	// one limiter for the whole process; the order API sees all sessions
	limiter := buildLimiter(cfg)

	c.Registry = usecase.NewSessionRegistry(func(ctx context.Context, sessionID string) (*usecase.CartSession, error) {
		return usecase.NewCartSession(ctx, sessionID, usecase.CartSessionDeps{
			Session:  c.SessionStore.Reader(sessionID),
			Remote:   c.Remote,
			Outbox:   c.Outbox,
			Carts:    c.Carts,
			Archiver: c.Archiver,
			Notifier: c.Notifier,
			Limiter:  limiter,
			Policy:   c.Policy,
		})
	})

	log.Printf("[di.cart] container ready session=%s outbox=%s carts=%s archive=%t alerts=%t retry=%t rollback=%t",
		infra.Settings.SessionBackend, infra.Settings.OutboxBackend, infra.Settings.CartRepository,
		c.Archiver != nil, c.Notifier != nil, c.Policy.RetryEnabled, c.Policy.RollbackOnFailure)
	return c, nil
}

// Start runs the reconciler, idle session eviction and the outbox
// housekeeping until Close.
func (c *Container) Start(ctx context.Context) {
	if c == nil || c.bgCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.bgCancel = cancel

	c.bgWG.Add(3)
	go func() {
		defer c.bgWG.Done()
		c.Registry.RunReconciler(ctx, c.Policy.ReconcileInterval)
	}()
	go func() {
		defer c.bgWG.Done()
		c.Registry.RunEvictor(ctx, sessionEvictInterval, c.Infra.Config.SessionIdleTimeout)
	}()
	go func() {
		defer c.bgWG.Done()
		c.runOutboxPurge(ctx, outboxPurgeInterval)
	}()
}

func (c *Container) runOutboxPurge(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := c.Outbox.PurgeDelivered(ctx, time.Now().UTC().Add(-outboxRetention))
			if err != nil {
				log.Printf("[di.cart] outbox purge failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[di.cart] outbox purged rows=%d", n)
			}
		}
	}
}

// Close stops background loops and closes every session.
// Infra is owned by the caller.
func (c *Container) Close() error {
	if c == nil {
		return nil
	}
	if c.bgCancel != nil {
		c.bgCancel()
		c.bgWG.Wait()
	}
	if c.Registry != nil {
		c.Registry.Close()
	}
	return nil
}
