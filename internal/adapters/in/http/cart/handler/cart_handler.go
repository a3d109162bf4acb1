// internal/adapters/in/http/cart/handler/cart_handler.go
package cartHandler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"whatsdish/internal/adapters/in/http/middleware"
	usecase "whatsdish/internal/application/usecase"
	cartdom "whatsdish/internal/domain/cart"
)

// SessionProvider returns the CartSession of a shopper session.
type SessionProvider interface {
	Get(ctx context.Context, sessionID string) (*usecase.CartSession, error)
}

// CartHandler serves the cart endpoints. The session id always comes from
// the auth middleware, never from the path or body.
type CartHandler struct {
	sessions SessionProvider
	binder   cartdom.SessionStore
}

func NewCartHandler(sessions SessionProvider, binder cartdom.SessionStore) *CartHandler {
	return &CartHandler{sessions: sessions, binder: binder}
}

// -------------------------
// DTOs
// -------------------------

type cartResponse struct {
	RestaurantID string             `json:"restaurantId"`
	Version      int64              `json:"version"`
	Lines        []cartdom.CartLine `json:"lines"`
	TotalItems   int                `json:"totalItems"`
	TotalPrice   decimal.Decimal    `json:"totalPrice"`
}

type addLineRequest struct {
	cartdom.Candidate
	Quantity int `json:"quantity"`
}

type setQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

type bindSessionRequest struct {
	OrderID   string `json:"orderId"`
	AccountID string `json:"accountId"`
}

// -------------------------
// handlers
// -------------------------

// BindSession handles PUT /session.
func (h *CartHandler) BindSession(w http.ResponseWriter, r *http.Request) {
	sid, ok := middleware.SessionID(r)
	if !ok {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if h.binder == nil {
		writeErr(w, http.StatusInternalServerError, "session store is not configured")
		return
	}

	var req bindSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	creds := cartdom.Credentials{
		OrderID:   strings.TrimSpace(req.OrderID),
		AccountID: strings.TrimSpace(req.AccountID),
	}
	if err := h.binder.Bind(r.Context(), sid, creds); err != nil {
		log.Printf("[cart_handler] bind session failed sessionId=%q err=%v", sid, err)
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Printf("[cart_handler] session bound sessionId=%q orderId=%q complete=%t", sid, creds.OrderID, creds.Complete())
	w.WriteHeader(http.StatusNoContent)
}

// GetCart handles GET /carts/{restaurantId}.
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	s, rid, ok := h.resolve(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, cartView(s.Store(), rid))
}

// AddLine handles POST /carts/{restaurantId}/lines.
func (h *CartHandler) AddLine(w http.ResponseWriter, r *http.Request) {
	s, rid, ok := h.resolve(w, r)
	if !ok {
		return
	}

	var req addLineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	line, err := s.Store().AddLine(rid, req.Candidate, req.Quantity)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"line": line,
		"cart": cartView(s.Store(), rid),
	})
}

// SetQuantity handles PUT /carts/{restaurantId}/lines/{lineId}.
func (h *CartHandler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	s, rid, ok := h.resolve(w, r)
	if !ok {
		return
	}
	lineID := strings.TrimSpace(chi.URLParam(r, "lineId"))

	var req setQuantityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Quantity == nil {
		writeErr(w, http.StatusBadRequest, "quantity is required")
		return
	}

	if err := s.Store().SetQuantity(rid, lineID, *req.Quantity); err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cartView(s.Store(), rid))
}

// RemoveLine handles DELETE /carts/{restaurantId}/lines/{lineId}.
func (h *CartHandler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	s, rid, ok := h.resolve(w, r)
	if !ok {
		return
	}
	if err := s.Store().RemoveLine(rid, strings.TrimSpace(chi.URLParam(r, "lineId"))); err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cartView(s.Store(), rid))
}

// Activate handles POST /carts/{restaurantId}/activate.
func (h *CartHandler) Activate(w http.ResponseWriter, r *http.Request) {
	s, rid, ok := h.resolve(w, r)
	if !ok {
		return
	}
	if _, err := s.Activate(r.Context(), rid); err != nil {
		log.Printf("[cart_handler] activate failed sessionId=%q restaurantId=%q err=%v", s.ID(), rid, err)
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cartView(s.Store(), rid))
}

// Reconcile handles POST /carts/{restaurantId}/reconcile.
func (h *CartHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	s, rid, ok := h.resolve(w, r)
	if !ok {
		return
	}
	rehydrated, err := s.Reconcile(r.Context(), rid)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rehydrated": rehydrated,
		"cart":       cartView(s.Store(), rid),
	})
}

// Abandon handles DELETE /carts/{restaurantId}.
func (h *CartHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	s, rid, ok := h.resolve(w, r)
	if !ok {
		return
	}
	if err := s.Abandon(rid); err != nil {
		writeDomainErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CompleteCheckout handles POST /carts/{restaurantId}/checkout/complete.
func (h *CartHandler) CompleteCheckout(w http.ResponseWriter, r *http.Request) {
	s, rid, ok := h.resolve(w, r)
	if !ok {
		return
	}
	if err := s.CompleteCheckout(r.Context(), rid); err != nil {
		writeDomainErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SyncStatus handles GET /carts/{restaurantId}/sync.
func (h *CartHandler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	s, rid, ok := h.resolve(w, r)
	if !ok {
		return
	}
	v, err := s.SyncStatus(r.Context(), rid)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// -------------------------
// helpers
// -------------------------

func (h *CartHandler) resolve(w http.ResponseWriter, r *http.Request) (*usecase.CartSession, string, bool) {
	sid, ok := middleware.SessionID(r)
	if !ok {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return nil, "", false
	}
	if h.sessions == nil {
		writeErr(w, http.StatusInternalServerError, "cart handler is not configured")
		return nil, "", false
	}
	rid := strings.TrimSpace(chi.URLParam(r, "restaurantId"))
	if rid == "" {
		writeErr(w, http.StatusBadRequest, "restaurantId is required")
		return nil, "", false
	}

	s, err := h.sessions.Get(r.Context(), sid)
	if err != nil {
		log.Printf("[cart_handler] session open failed sessionId=%q err=%v", sid, err)
		writeDomainErr(w, err)
		return nil, "", false
	}
	return s, rid, true
}

// cartView renders one copy of the cart so totals always match lines.
func cartView(store *usecase.CartStore, rid string) cartResponse {
	c, _ := store.Cart(rid)
	lines := c.Lines
	if lines == nil {
		lines = []cartdom.CartLine{}
	}
	return cartResponse{
		RestaurantID: rid,
		Version:      c.Version,
		Lines:        lines,
		TotalItems:   c.TotalItems(),
		TotalPrice:   c.TotalPrice(),
	}
}

func writeDomainErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cartdom.ErrMissingItemID),
		errors.Is(err, cartdom.ErrMissingRestaurantID),
		errors.Is(err, cartdom.ErrInvalidQuantity),
		errors.Is(err, cartdom.ErrInvalidPrice),
		errors.Is(err, cartdom.ErrInvalidCart):
		writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, usecase.ErrMissingSessionID):
		writeErr(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, usecase.ErrSyncInFlight),
		errors.Is(err, cartdom.ErrStaleSnapshot):
		writeErr(w, http.StatusConflict, err.Error())
	case errors.Is(err, cartdom.ErrPreconditionMissing):
		writeErr(w, http.StatusPreconditionFailed, err.Error())
	case errors.Is(err, cartdom.ErrRemoteRejected):
		writeErr(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, cartdom.ErrNetworkFailure),
		errors.Is(err, usecase.ErrRegistryClosed):
		writeErr(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeErr(w, http.StatusGatewayTimeout, err.Error())
	default:
		writeErr(w, http.StatusInternalServerError, err.Error())
	}
}
