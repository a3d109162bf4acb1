// internal/platform/di/shared/infra.go
package shared

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	sqliteout "whatsdish/internal/adapters/out/sqlite"
	appcfg "whatsdish/internal/infra/config"
	"whatsdish/internal/infra/database"
	firestoreinfra "whatsdish/internal/infra/firestore"
	"whatsdish/internal/infra/telemetry"
)

// Infra is shared runtime infrastructure for DI.
// - owns external clients, created only for the backends the settings select
// - owns the telemetry provider
//
// Infra must NOT depend on routers or handlers.
type Infra struct {
	Config    *appcfg.Config
	Settings  RuntimeSettings
	ProjectID string

	// Clients (owned; Close-managed). Nil when not selected.
	Firestore     *firestore.Client
	GCS           *storage.Client
	FirebaseApp   *firebase.App
	FirebaseAuth  *firebaseauth.Client
	SecretManager *secretmanager.Client
	Redis         *redis.Client
	SQL           *sql.DB

	Telemetry *telemetry.Provider
}

// NewInfra initializes shared infra from cfg.
// Selected storage backends are strict (return error).
// Firebase/Auth, SecretManager, GCS and telemetry are best-effort (warn + continue).
func NewInfra(ctx context.Context, cfg *appcfg.Config) (*Infra, error) {
	if cfg == nil {
		return nil, errors.New("shared.infra: config is nil")
	}

	settings, warns, err := ResolveRuntimeSettings(cfg)
	if err != nil {
		return nil, err
	}
	for _, w := range warns {
		log.Printf("[shared.infra] WARN: %s", w)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	inf := &Infra{
		Config:    cfg,
		Settings:  settings,
		ProjectID: resolveProjectID(cfg),
	}

	// Credentials file (optional; mainly for local dev)
	credFile := strings.TrimSpace(cfg.FirestoreCredentialsFile)
	if credFile == "" {
		credFile = strings.TrimSpace(cfg.GCPCreds) // GOOGLE_APPLICATION_CREDENTIALS
	}
	var clientOpts []option.ClientOption
	if credFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(credFile))
		log.Printf("[shared.infra] Using credentials file for GCP clients: %s", redactPath(credFile))
	}

	// 1) Telemetry (best-effort)
	{
		tp, err := telemetry.New(ctx, telemetry.Config{
			ServiceName: "cartd",
			Endpoint:    cfg.OTLPEndpoint,
			Insecure:    true,
		})
		if err != nil {
			log.Printf("[shared.infra] WARN: telemetry init failed: %v", err)
		}
		inf.Telemetry = tp
	}

	// 2) Firestore (strict when a backend needs it)
	if settings.NeedsFirestore() {
		if inf.ProjectID == "" {
			_ = inf.Close()
			return nil, errors.New("shared.infra: projectID is empty (set FIRESTORE_PROJECT_ID or GCP_PROJECT_ID)")
		}
		cw, err := firestoreinfra.NewClient(ctx, inf.ProjectID, credFile)
		if err != nil {
			_ = inf.Close()
			return nil, fmt.Errorf("shared.infra: firestore (project=%s): %w", inf.ProjectID, err)
		}
		inf.Firestore = cw.Client
	}

	// 3) Redis (strict when selected)
	if settings.SessionBackend == BackendRedis {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			_ = inf.Close()
			return nil, fmt.Errorf("shared.infra: redis ping failed addr=%s: %w", cfg.RedisAddr, err)
		}
		inf.Redis = rdb
		log.Printf("[shared.infra] Redis connected addr=%s db=%d", cfg.RedisAddr, cfg.RedisDB)
	}

	// 4) SQL outbox (strict when selected)
	switch settings.OutboxBackend {
	case BackendPostgres:
		db, err := database.NewConnection(ctx, settings.DatabaseURL)
		if err != nil {
			_ = inf.Close()
			return nil, fmt.Errorf("shared.infra: postgres: %w", err)
		}
		inf.SQL = db.Client
	case BackendSQLite:
		db, err := sqliteout.Open(settings.SQLitePath)
		if err != nil {
			_ = inf.Close()
			return nil, fmt.Errorf("shared.infra: sqlite path=%s: %w", settings.SQLitePath, err)
		}
		inf.SQL = db
		log.Printf("[shared.infra] SQLite outbox opened path=%s", settings.SQLitePath)
	}

	// 5) GCS (best-effort; archive only)
	if settings.CheckoutArchiveBucket != "" {
		gcs, err := storage.NewClient(ctx, clientOpts...)
		if err != nil {
			log.Printf("[shared.infra] WARN: storage.NewClient failed: %v (checkout archive disabled)", err)
		} else {
			inf.GCS = gcs
			log.Printf("[shared.infra] GCS storage client initialized bucket=%s", settings.CheckoutArchiveBucket)
		}
	}

	// 6) Secret Manager (best-effort; order API token)
	if strings.TrimSpace(cfg.OrderAPITokenSecret) != "" {
		sm, err := secretmanager.NewClient(ctx, clientOpts...)
		if err != nil {
			log.Printf("[shared.infra] WARN: secretmanager.NewClient failed: %v (falling back to ORDER_API_TOKEN)", err)
		} else {
			inf.SecretManager = sm
		}
	}

	// 7) Firebase App/Auth (best-effort; protected routes fail closed)
	if settings.AuthMode == AuthModeFirebase {
		fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: inf.ProjectID}, clientOpts...)
		if err != nil {
			log.Printf("[shared.infra] WARN: firebase app init failed: %v", err)
		} else {
			inf.FirebaseApp = fbApp
			authClient, err := fbApp.Auth(ctx)
			if err != nil {
				log.Printf("[shared.infra] WARN: firebase auth init failed: %v", err)
			} else {
				inf.FirebaseAuth = authClient
				log.Printf("[shared.infra] Firebase Auth initialized")
			}
		}
	}

	return inf, nil
}

func (i *Infra) Close() error {
	if i == nil {
		return nil
	}
	var errs []error
	if i.Firestore != nil {
		errs = append(errs, i.Firestore.Close())
	}
	if i.GCS != nil {
		errs = append(errs, i.GCS.Close())
	}
	if i.SecretManager != nil {
		errs = append(errs, i.SecretManager.Close())
	}
	if i.Redis != nil {
		errs = append(errs, i.Redis.Close())
	}
	if i.SQL != nil {
		errs = append(errs, i.SQL.Close())
	}
	if i.Telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, i.Telemetry.Shutdown(ctx))
		cancel()
	}
	return errors.Join(errs...)
}

func resolveProjectID(cfg *appcfg.Config) string {
	// Priority:
	// 1) cfg.FirestoreProjectID (resolved by config.Load)
	// 2) GCP_PROJECT_ID / GOOGLE_CLOUD_PROJECT / FIREBASE_PROJECT_ID
	if cfg != nil {
		if v := strings.TrimSpace(cfg.FirestoreProjectID); v != "" {
			return v
		}
		if v := strings.TrimSpace(cfg.GCPProjectID); v != "" {
			return v
		}
	}
	for _, k := range []string{
		"GCP_PROJECT_ID",
		"GOOGLE_CLOUD_PROJECT",
		"FIREBASE_PROJECT_ID",
	} {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func redactPath(p string) string {
	// Keep only the last segment
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if p == "" {
		return ""
	}
	parts := strings.Split(p, "/")
	last := parts[len(parts)-1]
	if last == "" {
		return "***"
	}
	return "***/" + last
}
