// internal/adapters/in/http/cart/router.go
package cart

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	cartHandler "whatsdish/internal/adapters/in/http/cart/handler"
)

// Deps is the shopper-facing cart handler set.
type Deps struct {
	Cart *cartHandler.CartHandler

	// Auth puts the session id into the request context.
	Auth func(http.Handler) http.Handler
}

// Register registers cart routes onto r.
func Register(r chi.Router, deps Deps) {
	if r == nil || deps.Cart == nil {
		return
	}
	h := deps.Cart

	r.Group(func(r chi.Router) {
		if deps.Auth != nil {
			r.Use(deps.Auth)
		}

		r.Put("/session", h.BindSession)

		r.Route("/carts/{restaurantId}", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Delete("/", h.Abandon)

			r.Post("/lines", h.AddLine)
			r.Put("/lines/{lineId}", h.SetQuantity)
			r.Delete("/lines/{lineId}", h.RemoveLine)

			r.Post("/activate", h.Activate)
			r.Post("/reconcile", h.Reconcile)
			r.Post("/checkout/complete", h.CompleteCheckout)
			r.Get("/sync", h.SyncStatus)
		})
	})
}
