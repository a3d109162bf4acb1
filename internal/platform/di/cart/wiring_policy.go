// internal/platform/di/cart/wiring_policy.go
package cart

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"golang.org/x/time/rate"

	dbout "whatsdish/internal/adapters/out/db"
	fs "whatsdish/internal/adapters/out/firestore"
	gcso "whatsdish/internal/adapters/out/gcs"
	httpout "whatsdish/internal/adapters/out/http"
	mailout "whatsdish/internal/adapters/out/mail"
	memout "whatsdish/internal/adapters/out/memory"
	redisout "whatsdish/internal/adapters/out/redis"
	sqliteout "whatsdish/internal/adapters/out/sqlite"
	usecase "whatsdish/internal/application/usecase"
	cartdom "whatsdish/internal/domain/cart"
	appcfg "whatsdish/internal/infra/config"
	shared "whatsdish/internal/platform/di/shared"
)

// wiring_policy.go picks adapters from the runtime settings.
// Optional features return a nil interface when disabled, never a typed nil.

var errWiringNilInfra = errors.New("di.cart: wiring policy infra is nil")

func buildSessionStore(infra *shared.Infra) (cartdom.SessionStore, error) {
	if infra == nil {
		return nil, errWiringNilInfra
	}
	switch infra.Settings.SessionBackend {
	case shared.BackendRedis:
		if infra.Redis == nil {
			return nil, errors.New("di.cart: SESSION_BACKEND=redis but redis client is nil")
		}
		return redisout.NewSessionStoreWithClient(infra.Redis, infra.Config.SessionTTL), nil
	case shared.BackendFirestore:
		if infra.Firestore == nil {
			return nil, errors.New("di.cart: SESSION_BACKEND=firestore but firestore client is nil")
		}
		return fs.NewSessionStoreFS(infra.Firestore), nil
	default:
		return memout.NewSessionStore(), nil
	}
}

func buildOutboxRepository(ctx context.Context, infra *shared.Infra) (cartdom.OutboxRepository, error) {
	if infra == nil {
		return nil, errWiringNilInfra
	}
	switch infra.Settings.OutboxBackend {
	case shared.BackendPostgres:
		if infra.SQL == nil {
			return nil, errors.New("di.cart: OUTBOX_BACKEND=postgres but sql pool is nil")
		}
		repo := dbout.NewOutboxRepositoryPG(infra.SQL)
		if err := repo.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("di.cart: outbox migrate: %w", err)
		}
		return repo, nil
	case shared.BackendSQLite:
		if infra.SQL == nil {
			return nil, errors.New("di.cart: OUTBOX_BACKEND=sqlite but sql pool is nil")
		}
		return sqliteout.NewOutboxRepositorySQLite(infra.SQL)
	default:
		return memout.NewOutboxRepository(), nil
	}
}

func buildCartRepository(infra *shared.Infra) (cartdom.Repository, error) {
	if infra == nil {
		return nil, errWiringNilInfra
	}
	if infra.Settings.CartRepository == shared.BackendFirestore {
		if infra.Firestore == nil {
			return nil, errors.New("di.cart: CART_REPOSITORY=firestore but firestore client is nil")
		}
		return fs.NewCartRepositoryFS(infra.Firestore), nil
	}
	return memout.NewCartRepository(), nil
}

// buildArchiver returns nil when no bucket or GCS client is configured.
func buildArchiver(infra *shared.Infra) cartdom.CheckoutArchiver {
	if infra == nil || infra.GCS == nil || infra.Settings.CheckoutArchiveBucket == "" {
		return nil
	}
	return gcso.NewCheckoutArchiveGCS(infra.GCS, infra.Settings.CheckoutArchiveBucket)
}

// buildNotifier returns nil unless SendGrid and both addresses are set.
func buildNotifier(cfg *appcfg.Config) cartdom.DivergenceNotifier {
	if cfg == nil {
		return nil
	}
	m := mailout.NewDivergenceMailerWithSendGrid(cfg.SendGridAPIKey, cfg.AlertMailFrom, cfg.AlertMailTo)
	if m == nil {
		return nil
	}
	return m
}

// buildTokenSource prefers Secret Manager, then the static env token.
func buildTokenSource(infra *shared.Infra) httpout.TokenSource {
	if infra == nil || infra.Config == nil {
		return httpout.StaticToken("")
	}
	cfg := infra.Config
	if strings.TrimSpace(cfg.OrderAPITokenSecret) != "" && infra.SecretManager != nil {
		log.Printf("[di.cart] order API token from Secret Manager secret=%s", cfg.OrderAPITokenSecret)
		return newOrderTokenProviderSM(infra.SecretManager, infra.ProjectID, cfg.OrderAPITokenSecret)
	}
	return httpout.StaticToken(cfg.OrderAPIToken)
}

// buildLimiter returns nil (unlimited) when DISPATCH_RPS <= 0.
func buildLimiter(cfg *appcfg.Config) *rate.Limiter {
	if cfg == nil || cfg.DispatchRPS <= 0 {
		return nil
	}
	burst := cfg.DispatchBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.DispatchRPS), burst)
}

func syncPolicyFromConfig(cfg *appcfg.Config) usecase.SyncPolicy {
	p := usecase.DefaultSyncPolicy()
	if cfg == nil {
		return p
	}
	s := cfg.Sync
	p.RetryEnabled = s.RetryEnabled
	p.RollbackOnFailure = s.RollbackOnFailure
	if s.MaxAttempts > 0 {
		p.MaxAttempts = s.MaxAttempts
	}
	if s.RetryBaseDelay > 0 {
		p.RetryBaseDelay = s.RetryBaseDelay
	}
	if s.HydrateWaitTimeout > 0 {
		p.HydrateWaitTimeout = s.HydrateWaitTimeout
	}
	p.ReconcileInterval = s.ReconcileInterval
	return p
}
