// internal/adapters/in/http/middleware/user_auth.go
package middleware

import (
	"context"
	"log"
	"net/http"
	"strings"

	fbauth "firebase.google.com/go/v4/auth"
)

// TokenVerifier is the part of *FirebaseAuthClient the middleware needs.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// UserAuthMiddleware verifies the Firebase ID token of the shopper and uses
// its uid as the cart session id.
type UserAuthMiddleware struct {
	FirebaseAuth TokenVerifier
}

func (m *UserAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil || m.FirebaseAuth == nil {
			writeAuthErr(w, http.StatusServiceUnavailable, "user auth middleware not initialized")
			return
		}

		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeAuthErr(w, http.StatusUnauthorized, "unauthorized: missing bearer token")
			return
		}

		idToken := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if idToken == "" {
			writeAuthErr(w, http.StatusUnauthorized, "unauthorized: empty bearer token")
			return
		}

		token, err := m.FirebaseAuth.VerifyIDToken(r.Context(), idToken)
		if err != nil {
			log.Printf("[user_auth] token rejected (len=%d) err=%v", len(idToken), err)
			writeAuthErr(w, http.StatusUnauthorized, "invalid token")
			return
		}

		uid := strings.TrimSpace(token.UID)
		if uid == "" {
			writeAuthErr(w, http.StatusUnauthorized, "invalid uid in token")
			return
		}

		ctx := WithSessionID(r.Context(), uid)

		// email (optional)
		if emailRaw, ok := token.Claims["email"]; ok {
			if e, ok2 := emailRaw.(string); ok2 && strings.TrimSpace(e) != "" {
				ctx = context.WithValue(ctx, ctxKeyEmail, strings.TrimSpace(e))
			}
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
