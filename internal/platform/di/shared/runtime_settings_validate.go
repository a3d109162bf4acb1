// internal/platform/di/shared/runtime_settings_validate.go
package shared

import (
	"fmt"
	"strings"
)

// Validate fails fast on settings that would leave the service half-wired.
// Optional features stay disabled when their settings are empty.
func (s RuntimeSettings) Validate() error {
	if err := oneOf("SESSION_BACKEND", s.SessionBackend, BackendMemory, BackendRedis, BackendFirestore); err != nil {
		return err
	}
	if err := oneOf("OUTBOX_BACKEND", s.OutboxBackend, BackendMemory, BackendPostgres, BackendSQLite); err != nil {
		return err
	}
	if err := oneOf("CART_REPOSITORY", s.CartRepository, BackendMemory, BackendFirestore); err != nil {
		return err
	}
	if err := oneOf("AUTH_MODE", s.AuthMode, AuthModeFirebase, AuthModeHeader); err != nil {
		return err
	}

	if s.OutboxBackend == BackendPostgres && s.DatabaseURL == "" {
		return fmt.Errorf("shared.runtime_settings: OUTBOX_BACKEND=postgres requires DATABASE_URL")
	}
	if s.OutboxBackend == BackendSQLite && s.SQLitePath == "" {
		return fmt.Errorf("shared.runtime_settings: OUTBOX_BACKEND=sqlite requires SQLITE_PATH")
	}

	if u := s.OrderAPIBaseURL; u != "" {
		if !(strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")) {
			return fmt.Errorf("shared.runtime_settings: ORDER_API_BASE_URL must start with http:// or https:// (got %q)", u)
		}
	}

	// GCS bucket names cannot contain spaces.
	if strings.ContainsAny(s.CheckoutArchiveBucket, " \t\r\n") {
		return fmt.Errorf("shared.runtime_settings: CHECKOUT_ARCHIVE_BUCKET contains whitespace (got %q)", s.CheckoutArchiveBucket)
	}
	return nil
}

func oneOf(name, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("shared.runtime_settings: %s must be one of %s (got %q)", name, strings.Join(allowed, "|"), v)
}
