// internal/adapters/in/http/middleware/session.go
package middleware

import (
	"context"
	"net/http"
	"strings"

	fbauth "firebase.google.com/go/v4/auth"
)

// FirebaseAuthClient is the firebase auth client type used by RouterDeps.
type FirebaseAuthClient = fbauth.Client

// context keys use a private type to avoid collisions (SA1029)
type ctxKey struct{ name string }

var (
	ctxKeySessionID = ctxKey{name: "sessionId"}
	ctxKeyEmail     = ctxKey{name: "email"}
)

// HeaderSessionID carries the session id in AUTH_MODE=header.
const HeaderSessionID = "X-Session-Id"

// WithSessionID stores the shopper session id in ctx.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	sessionID = strings.TrimSpace(sessionID)
	if slot, ok := ctx.Value(ctxKeyPanicSlot).(*panicSlot); ok {
		slot.sessionID = sessionID
	}
	return context.WithValue(ctx, ctxKeySessionID, sessionID)
}

// SessionID returns the session id put in the request context by an auth middleware.
func SessionID(r *http.Request) (string, bool) {
	v, ok := r.Context().Value(ctxKeySessionID).(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

// CurrentEmail returns the verified email if the token carried one.
func CurrentEmail(r *http.Request) string {
	v, _ := r.Context().Value(ctxKeyEmail).(string)
	return strings.TrimSpace(v)
}

// HeaderSession trusts X-Session-Id as the session id (local dev only).
func HeaderSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid := strings.TrimSpace(r.Header.Get(HeaderSessionID))
		if sid == "" {
			writeAuthErr(w, http.StatusUnauthorized, "unauthorized: missing "+HeaderSessionID)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSessionID(r.Context(), sid)))
	})
}

func writeAuthErr(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + strings.ReplaceAll(msg, `"`, `'`) + `"}`))
}
