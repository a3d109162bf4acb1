// internal/adapters/out/http/order_aggregate_client.go
package httpout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	cartdom "whatsdish/internal/domain/cart"
)

// TokenSource yields the bearer token for the order API (may be empty).
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource for a fixed token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return strings.TrimSpace(string(t)), nil }

// OrderAggregateClient implements cart.OrderAggregate over the remote order API.
type OrderAggregateClient struct {
	baseURL string
	client  *http.Client
	tokens  TokenSource
	now     func() time.Time
}

// baseURL example:
// - Cloud Run: https://orders-xxxxx.asia-northeast1.run.app
// - local: http://localhost:8081
func NewOrderAggregateClient(baseURL string, timeout time.Duration, tokens TokenSource) *OrderAggregateClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &OrderAggregateClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		tokens:  tokens,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ----------------------------
// wire DTOs
// ----------------------------

type deltaModificationWire struct {
	ModID      string `json:"mod_id"`
	ModGroupID string `json:"mod_group_id"`
	Count      int    `json:"count"`
}

type deltaBodyWire struct {
	ItemID        string                  `json:"item_id"`
	GID           string                  `json:"gid"`
	OrderID       string                  `json:"order_id"`
	Sub           string                  `json:"sub"`
	Count         int                     `json:"count"`
	Note          string                  `json:"note"`
	Modifications []deltaModificationWire `json:"modifications"`
}

type deltaResponseWire struct {
	Success *bool  `json:"success"`
	Message string `json:"message,omitempty"`
}

type remoteModifierWire struct {
	ModID      string          `json:"mod_id"`
	ModGroupID string          `json:"mod_group_id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Count      int             `json:"count"`
}

type remoteLineWire struct {
	ItemID        string               `json:"item_id"`
	GID           string               `json:"gid"`
	Name          string               `json:"name"`
	Price         decimal.Decimal      `json:"price"`
	Quantity      int                  `json:"quantity"`
	Count         int                  `json:"count"`
	Note          string               `json:"note"`
	Modifications []remoteModifierWire `json:"modifications"`
}

type snapshotWire struct {
	Version int64            `json:"version"`
	Items   []remoteLineWire `json:"items"`
}

// ApplyDelta posts one relative change to /orders/{orderId}/items/set.
func (c *OrderAggregateClient) ApplyDelta(ctx context.Context, req cartdom.DeltaRequest) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("%w: order aggregate client baseURL is empty", cartdom.ErrNetworkFailure)
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return cartdom.ErrPreconditionMissing
	}

	body := deltaBodyWire{
		ItemID:        strings.TrimSpace(req.ItemID),
		GID:           strings.TrimSpace(req.RestaurantItemRef),
		OrderID:       orderID,
		Sub:           strings.TrimSpace(req.AccountID),
		Count:         req.Count,
		Note:          req.Note,
		Modifications: make([]deltaModificationWire, 0, len(req.Modifications)),
	}
	for _, m := range req.Modifications {
		body.Modifications = append(body.Modifications, deltaModificationWire{
			ModID:      m.ModifierID,
			ModGroupID: m.ModifierGroupID,
			Count:      m.Count,
		})
	}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}

	u := c.baseURL + "/orders/" + url.PathEscape(orderID) + "/items/set?mode=" + url.QueryEscape(req.Mode.String())
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	hreq.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		hreq.Header.Set("Idempotency-Key", key)
	}
	if err := c.authorize(ctx, hreq); err != nil {
		return err
	}

	res, err := c.client.Do(hreq)
	if err != nil {
		return fmt.Errorf("%w: %v", cartdom.ErrNetworkFailure, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", cartdom.ErrNetworkFailure, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("%w: status=%d body=%s", cartdom.ErrRemoteRejected, res.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out deltaResponseWire
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("%w: invalid response: %v", cartdom.ErrRemoteRejected, err)
		}
	}
	if out.Success == nil || !*out.Success {
		return fmt.Errorf("%w: success=false message=%q", cartdom.ErrRemoteRejected, out.Message)
	}
	return nil
}

// FetchCart reads /orders/{orderId}/cart/items. The body may be a bare
// list or {"version": n, "items": [...]}.
func (c *OrderAggregateClient) FetchCart(ctx context.Context, orderID string) (cartdom.Snapshot, error) {
	if c == nil || c.baseURL == "" {
		return cartdom.Snapshot{}, fmt.Errorf("%w: order aggregate client baseURL is empty", cartdom.ErrNetworkFailure)
	}
	oid := strings.TrimSpace(orderID)
	if oid == "" {
		return cartdom.Snapshot{}, cartdom.ErrPreconditionMissing
	}

	u := c.baseURL + "/orders/" + url.PathEscape(oid) + "/cart/items"
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return cartdom.Snapshot{}, err
	}
	hreq.Header.Set("Accept", "application/json")
	if err := c.authorize(ctx, hreq); err != nil {
		return cartdom.Snapshot{}, err
	}

	res, err := c.client.Do(hreq)
	if err != nil {
		return cartdom.Snapshot{}, fmt.Errorf("%w: %v", cartdom.ErrNetworkFailure, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return cartdom.Snapshot{}, fmt.Errorf("%w: read body: %v", cartdom.ErrNetworkFailure, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return cartdom.Snapshot{}, fmt.Errorf("%w: status=%d body=%s", cartdom.ErrRemoteRejected, res.StatusCode, strings.TrimSpace(string(raw)))
	}

	snap, err := decodeSnapshot(raw)
	if err != nil {
		return cartdom.Snapshot{}, fmt.Errorf("%w: invalid snapshot: %v", cartdom.ErrRemoteRejected, err)
	}
	snap.OrderID = oid
	snap.FetchedAt = c.now()
	return snap, nil
}

func (c *OrderAggregateClient) authorize(ctx context.Context, r *http.Request) error {
	if c.tokens == nil {
		return nil
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: token: %v", cartdom.ErrNetworkFailure, err)
	}
	if tok = strings.TrimSpace(tok); tok != "" {
		r.Header.Set("Authorization", "Bearer "+tok)
	}
	return nil
}

func decodeSnapshot(raw []byte) (cartdom.Snapshot, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return cartdom.Snapshot{Lines: []cartdom.RemoteLine{}}, nil
	}

	var items []remoteLineWire
	var version int64
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &items); err != nil {
			return cartdom.Snapshot{}, err
		}
	case '{':
		var w snapshotWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return cartdom.Snapshot{}, err
		}
		items, version = w.Items, w.Version
	default:
		return cartdom.Snapshot{}, errors.New("unexpected json")
	}

	lines := make([]cartdom.RemoteLine, 0, len(items))
	for _, it := range items {
		qty := it.Quantity
		if qty == 0 {
			qty = it.Count
		}
		mods := make([]cartdom.Modifier, 0, len(it.Modifications))
		for _, m := range it.Modifications {
			mods = append(mods, cartdom.Modifier{
				ModifierID:      strings.TrimSpace(m.ModID),
				ModifierGroupID: strings.TrimSpace(m.ModGroupID),
				Name:            strings.TrimSpace(m.Name),
				Price:           m.Price,
				Count:           m.Count,
			})
		}
		lines = append(lines, cartdom.RemoteLine{
			ItemID:            strings.TrimSpace(it.ItemID),
			RestaurantItemRef: strings.TrimSpace(it.GID),
			Name:              strings.TrimSpace(it.Name),
			UnitPrice:         it.Price,
			Quantity:          qty,
			Modifications:     mods,
			Note:              it.Note,
		})
	}
	return cartdom.Snapshot{Version: version, Lines: lines}, nil
}
