// internal/platform/di/shared/runtime_settings.go
package shared

import (
	"errors"
	"strings"

	appcfg "whatsdish/internal/infra/config"
)

const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
	BackendSQLite    = "sqlite"

	AuthModeFirebase = "firebase"
	AuthModeHeader   = "header"
)

// RuntimeSettings is the normalized, client-free view of Config used by DI.
// Hard checks live in runtime_settings_validate.go.
type RuntimeSettings struct {
	OrderAPIBaseURL string

	SessionBackend string
	OutboxBackend  string
	CartRepository string
	AuthMode       string

	DatabaseURL string
	SQLitePath  string

	CheckoutArchiveBucket string
	AlertsEnabled         bool
}

// NeedsFirestore reports whether any backend is Firestore.
func (s RuntimeSettings) NeedsFirestore() bool {
	return s.SessionBackend == BackendFirestore || s.CartRepository == BackendFirestore
}

// ResolveRuntimeSettings normalizes cfg. It does not log; warnings are
// returned so the caller decides how to surface them.
func ResolveRuntimeSettings(cfg *appcfg.Config) (RuntimeSettings, []string, error) {
	if cfg == nil {
		return RuntimeSettings{}, nil, errors.New("shared.runtime_settings: cfg is nil")
	}

	var warns []string
	s := RuntimeSettings{
		OrderAPIBaseURL:       normalizeBaseURL(cfg.OrderAPIBaseURL),
		SessionBackend:        lowerOr(cfg.SessionBackend, BackendMemory),
		OutboxBackend:         lowerOr(cfg.OutboxBackend, BackendMemory),
		CartRepository:        lowerOr(cfg.CartRepository, BackendMemory),
		AuthMode:              lowerOr(cfg.AuthMode, AuthModeFirebase),
		DatabaseURL:           strings.TrimSpace(cfg.DatabaseURL),
		SQLitePath:            strings.TrimSpace(cfg.SQLitePath),
		CheckoutArchiveBucket: strings.TrimSpace(cfg.CheckoutArchiveBucket),
	}

	if s.OrderAPIBaseURL == "" {
		warns = append(warns, "ORDER_API_BASE_URL is empty (deltas will fail as network errors)")
	}
	if s.CheckoutArchiveBucket == "" {
		warns = append(warns, "CHECKOUT_ARCHIVE_BUCKET is empty (checkout archive disabled)")
	}

	s.AlertsEnabled = strings.TrimSpace(cfg.SendGridAPIKey) != "" &&
		strings.TrimSpace(cfg.AlertMailFrom) != "" &&
		strings.TrimSpace(cfg.AlertMailTo) != ""
	if !s.AlertsEnabled {
		warns = append(warns, "SENDGRID_API_KEY/ALERT_MAIL_FROM/ALERT_MAIL_TO incomplete (divergence mail disabled)")
	}
	if s.AuthMode == AuthModeHeader {
		warns = append(warns, "AUTH_MODE=header trusts X-Session-Id (local dev only)")
	}
	return s, warns, nil
}

func normalizeBaseURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}

func lowerOr(v, def string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return def
	}
	return v
}
