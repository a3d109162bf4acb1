// internal/platform/di/cart/register.go
package cart

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	carthttp "whatsdish/internal/adapters/in/http/cart"
	cartHandler "whatsdish/internal/adapters/in/http/cart/handler"
	"whatsdish/internal/adapters/in/http/middleware"
	shared "whatsdish/internal/platform/di/shared"
)

// authUnavailable answers 503 so a missing Firebase client is obvious.
func authUnavailable(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "user_auth_not_initialized"})
	})
}

// buildAuth picks the session middleware for AUTH_MODE (fail-closed).
func buildAuth(cont *Container) func(http.Handler) http.Handler {
	if cont.Infra.Settings.AuthMode == shared.AuthModeHeader {
		return middleware.HeaderSession
	}
	if cont.Infra.FirebaseAuth == nil {
		log.Printf("[cart.register] ERROR: FirebaseAuth is nil (cart endpoints will return 503)")
		return authUnavailable
	}
	mw := &middleware.UserAuthMiddleware{FirebaseAuth: cont.Infra.FirebaseAuth}
	return mw.Handler
}

// Register registers cart routes onto r.
func Register(r chi.Router, cont *Container) {
	if r == nil || cont == nil || cont.Infra == nil {
		return
	}

	h := cartHandler.NewCartHandler(cont.Registry, cont.SessionStore)
	carthttp.Register(r, carthttp.Deps{
		Cart: h,
		Auth: buildAuth(cont),
	})
	log.Printf("[boot] cart routes registered auth=%s", cont.Infra.Settings.AuthMode)
}

// NewRouter builds the full HTTP handler: recover, CORS, healthz and cart routes.
func NewRouter(cont *Container) http.Handler {
	r := chi.NewRouter()
	if cont != nil && cont.Infra != nil && cont.Infra.Config != nil {
		r.Use(middleware.CORS(cont.Infra.Config.CORSAllowedOrigins))
	}
	r.Use(middleware.Recover)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	Register(r, cont)
	return r
}
