// internal/infra/config/config.go
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the environment settings of cartd.
type Config struct {
	Port string

	// remote order aggregate
	OrderAPIBaseURL     string
	OrderAPIToken       string
	OrderAPITokenSecret string // Secret Manager secret id; wins over OrderAPIToken
	OrderAPITimeout     time.Duration
	DispatchRPS         float64 // 0 = unlimited
	DispatchBurst       int

	Sync SyncSettings

	// SESSION_BACKEND: memory | redis | firestore
	SessionBackend string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	SessionTTL     time.Duration

	// idle cart sessions are closed after this long; 0 keeps them forever
	SessionIdleTimeout time.Duration

	// OUTBOX_BACKEND: memory | postgres | sqlite
	OutboxBackend string
	DatabaseURL   string
	SQLitePath    string

	// CART_REPOSITORY: memory | firestore
	CartRepository string

	GCPProjectID             string
	FirestoreProjectID       string
	FirestoreCredentialsFile string
	GCPCreds                 string
	CheckoutArchiveBucket    string

	// AUTH_MODE: firebase | header
	AuthMode string

	SendGridAPIKey string
	AlertMailFrom  string
	AlertMailTo    string

	OTLPEndpoint       string
	CORSAllowedOrigins []string
}

// SyncSettings mirrors usecase.SyncPolicy so config stays free of app imports.
type SyncSettings struct {
	RetryEnabled       bool          `yaml:"retryEnabled"`
	MaxAttempts        int           `yaml:"maxAttempts"`
	RetryBaseDelay     time.Duration `yaml:"retryBaseDelay"`
	RollbackOnFailure  bool          `yaml:"rollbackOnFailure"`
	HydrateWaitTimeout time.Duration `yaml:"hydrateWaitTimeout"`
	ReconcileInterval  time.Duration `yaml:"reconcileInterval"`
}

// syncFile is the CART_SYNC_CONFIG_FILE shape; only keys present override env.
type syncFile struct {
	Sync struct {
		RetryEnabled       *bool          `yaml:"retryEnabled"`
		MaxAttempts        *int           `yaml:"maxAttempts"`
		RetryBaseDelay     *time.Duration `yaml:"retryBaseDelay"`
		RollbackOnFailure  *bool          `yaml:"rollbackOnFailure"`
		HydrateWaitTimeout *time.Duration `yaml:"hydrateWaitTimeout"`
		ReconcileInterval  *time.Duration `yaml:"reconcileInterval"`
	} `yaml:"sync"`
}

// Load reads the environment and returns Config.
// A broken CART_SYNC_CONFIG_FILE is logged and ignored.
func Load() *Config {
	defaultProject := getenvDefault("GCP_PROJECT_ID", "whatsdish-dev")

	cfg := &Config{
		Port: getenvDefault("PORT", "8080"),

		OrderAPIBaseURL:     os.Getenv("ORDER_API_BASE_URL"),
		OrderAPIToken:       os.Getenv("ORDER_API_TOKEN"),
		OrderAPITokenSecret: os.Getenv("ORDER_API_TOKEN_SECRET"),
		OrderAPITimeout:     getenvDuration("ORDER_API_TIMEOUT", 5*time.Second),
		DispatchRPS:         getenvFloat("DISPATCH_RPS", 0),
		DispatchBurst:       getenvInt("DISPATCH_BURST", 10),

		Sync: SyncSettings{
			RetryEnabled:       getenvBool("SYNC_RETRY_ENABLED", false),
			MaxAttempts:        getenvInt("SYNC_MAX_ATTEMPTS", 3),
			RetryBaseDelay:     getenvDuration("SYNC_RETRY_BASE_DELAY", 200*time.Millisecond),
			RollbackOnFailure:  getenvBool("SYNC_ROLLBACK_ON_FAILURE", false),
			HydrateWaitTimeout: getenvDuration("HYDRATE_WAIT_TIMEOUT", 3*time.Second),
			ReconcileInterval:  getenvDuration("RECONCILE_INTERVAL", 0),
		},

		SessionBackend: strings.ToLower(getenvDefault("SESSION_BACKEND", "memory")),
		RedisAddr:      getenvDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        getenvInt("REDIS_DB", 0),
		SessionTTL:     getenvDuration("SESSION_TTL", 24*time.Hour),

		SessionIdleTimeout: getenvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),

		OutboxBackend: strings.ToLower(getenvDefault("OUTBOX_BACKEND", "memory")),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		SQLitePath:    getenvDefault("SQLITE_PATH", "cart_outbox.db"),

		CartRepository: strings.ToLower(getenvDefault("CART_REPOSITORY", "memory")),

		GCPProjectID:             defaultProject,
		FirestoreProjectID:       getenvDefault("FIRESTORE_PROJECT_ID", defaultProject),
		FirestoreCredentialsFile: os.Getenv("FIRESTORE_CREDENTIALS_FILE"),
		GCPCreds:                 os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		CheckoutArchiveBucket:    os.Getenv("CHECKOUT_ARCHIVE_BUCKET"),

		AuthMode: strings.ToLower(getenvDefault("AUTH_MODE", "firebase")),

		SendGridAPIKey: os.Getenv("SENDGRID_API_KEY"),
		AlertMailFrom:  os.Getenv("ALERT_MAIL_FROM"),
		AlertMailTo:    os.Getenv("ALERT_MAIL_TO"),

		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		CORSAllowedOrigins: splitCSV(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}

	if path := strings.TrimSpace(os.Getenv("CART_SYNC_CONFIG_FILE")); path != "" {
		if err := cfg.applySyncFile(path); err != nil {
			log.Printf("[config] WARN: sync config file ignored path=%q err=%v", path, err)
		}
	}
	return cfg
}

func (c *Config) applySyncFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return c.applySyncYAML(b)
}

func (c *Config) applySyncYAML(b []byte) error {
	var f syncFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	s := f.Sync
	if s.RetryEnabled != nil {
		c.Sync.RetryEnabled = *s.RetryEnabled
	}
	if s.MaxAttempts != nil {
		c.Sync.MaxAttempts = *s.MaxAttempts
	}
	if s.RetryBaseDelay != nil {
		c.Sync.RetryBaseDelay = *s.RetryBaseDelay
	}
	if s.RollbackOnFailure != nil {
		c.Sync.RollbackOnFailure = *s.RollbackOnFailure
	}
	if s.HydrateWaitTimeout != nil {
		c.Sync.HydrateWaitTimeout = *s.HydrateWaitTimeout
	}
	if s.ReconcileInterval != nil {
		c.Sync.ReconcileInterval = *s.ReconcileInterval
	}
	return nil
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] WARN: %s=%q is not an int, using %d", key, v, def)
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] WARN: %s=%q is not a number, using %v", key, v, def)
		return def
	}
	return f
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] WARN: %s=%q is not a bool, using %t", key, v, def)
		return def
	}
	return b
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] WARN: %s=%q is not a duration, using %s", key, v, def)
		return def
	}
	return d
}

func splitCSV(s string) []string {
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
