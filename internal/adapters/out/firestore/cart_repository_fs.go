// internal/adapters/out/firestore/cart_repository_fs.go
package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	cartdom "whatsdish/internal/domain/cart"
)

const cartTTL = 30 * 24 * time.Hour

// CartRepositoryFS implements cart.Repository using Firestore.
//
// Collection design:
// - collection: carts
// - docId: <sessionId>__<restaurantId>
// - fields: sessionId, restaurantId, version, lines(array), updatedAt, expiresAt
//
// TTL:
// - Configure Firestore TTL on "expiresAt".
type CartRepositoryFS struct {
	Client *firestore.Client
}

func NewCartRepositoryFS(client *firestore.Client) *CartRepositoryFS {
	return &CartRepositoryFS{Client: client}
}

func (r *CartRepositoryFS) col() *firestore.CollectionRef {
	return r.Client.Collection("carts")
}

func cartDocID(sessionID, restaurantID string) string {
	return strings.TrimSpace(sessionID) + "__" + strings.TrimSpace(restaurantID)
}

// Get returns (nil, nil) if not found (nil policy).
func (r *CartRepositoryFS) Get(ctx context.Context, sessionID, restaurantID string) (*cartdom.RestaurantCart, error) {
	if r == nil || r.Client == nil {
		return nil, errors.New("cart_repository_fs: firestore client is nil")
	}
	sid, rid := strings.TrimSpace(sessionID), strings.TrimSpace(restaurantID)
	if sid == "" || rid == "" {
		return nil, errors.New("cart_repository_fs: sessionID/restaurantID is empty")
	}

	snap, err := r.col().Doc(cartDocID(sid, rid)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, err
	}
	c := cartFromData(snap.Data())
	// docId is the source of truth
	c.RestaurantID = rid
	return &c, nil
}

func (r *CartRepositoryFS) ListBySession(ctx context.Context, sessionID string) ([]cartdom.RestaurantCart, error) {
	if r == nil || r.Client == nil {
		return nil, errors.New("cart_repository_fs: firestore client is nil")
	}
	sid := strings.TrimSpace(sessionID)
	if sid == "" {
		return nil, errors.New("cart_repository_fs: sessionID is empty")
	}

	it := r.col().Where("sessionId", "==", sid).Documents(ctx)
	defer it.Stop()

	out := []cartdom.RestaurantCart{}
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		c := cartFromData(snap.Data())
		if c.RestaurantID == "" || len(c.Lines) == 0 {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// Upsert overwrites the full doc (simple & predictable).
func (r *CartRepositoryFS) Upsert(ctx context.Context, sessionID string, c cartdom.RestaurantCart) error {
	if r == nil || r.Client == nil {
		return errors.New("cart_repository_fs: firestore client is nil")
	}
	sid, rid := strings.TrimSpace(sessionID), strings.TrimSpace(c.RestaurantID)
	if sid == "" || rid == "" {
		return errors.New("cart_repository_fs: Upsert requires sessionID and restaurantID")
	}

	_, err := r.col().Doc(cartDocID(sid, rid)).Set(ctx, cartDataFromDomain(sid, c))
	return err
}

func (r *CartRepositoryFS) Delete(ctx context.Context, sessionID, restaurantID string) error {
	if r == nil || r.Client == nil {
		return errors.New("cart_repository_fs: firestore client is nil")
	}
	sid, rid := strings.TrimSpace(sessionID), strings.TrimSpace(restaurantID)
	if sid == "" || rid == "" {
		return errors.New("cart_repository_fs: sessionID/restaurantID is empty")
	}

	_, err := r.col().Doc(cartDocID(sid, rid)).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

// -----------------------------------------
// Firestore mapping
// -----------------------------------------

// Prices are stored as decimal strings so totals never drift through float64.
func cartDataFromDomain(sessionID string, c cartdom.RestaurantCart) map[string]any {
	lines := make([]any, 0, len(c.Lines))
	for _, l := range c.Lines {
		mods := make([]any, 0, len(l.SelectedModifiers))
		for _, m := range l.SelectedModifiers {
			mods = append(mods, map[string]any{
				"modifierId":      m.ModifierID,
				"modifierGroupId": m.ModifierGroupID,
				"name":            m.Name,
				"price":           m.Price.String(),
				"count":           m.Count,
			})
		}
		lines = append(lines, map[string]any{
			"lineId":            l.LineID,
			"itemId":            l.ItemID,
			"restaurantItemRef": l.RestaurantItemRef,
			"name":              l.Name,
			"signature":         l.Signature,
			"unitPrice":         l.UnitPrice.String(),
			"quantity":          l.Quantity,
			"modifiers":         mods,
			"note":              l.Note,
			"hydrated":          l.Hydrated,
			"createdAt":         l.CreatedAt,
		})
	}

	updated := c.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	return map[string]any{
		"sessionId":    sessionID,
		"restaurantId": strings.TrimSpace(c.RestaurantID),
		"version":      c.Version,
		"lines":        lines,
		"updatedAt":    updated,
		"expiresAt":    updated.Add(cartTTL),
	}
}

// cartFromData parses document data leniently; malformed lines are skipped.
func cartFromData(raw map[string]any) cartdom.RestaurantCart {
	c := cartdom.RestaurantCart{Lines: []cartdom.CartLine{}}
	if raw == nil {
		return c
	}
	c.RestaurantID = strings.TrimSpace(asString(raw["restaurantId"]))
	c.Version = asInt64(raw["version"])
	if t, ok := asTime(raw["updatedAt"]); ok {
		c.UpdatedAt = t
	}

	arr, _ := raw["lines"].([]any)
	for _, v := range arr {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		l := cartdom.CartLine{
			LineID:            strings.TrimSpace(asString(m["lineId"])),
			ItemID:            strings.TrimSpace(asString(m["itemId"])),
			RestaurantItemRef: strings.TrimSpace(asString(m["restaurantItemRef"])),
			Name:              asString(m["name"]),
			Signature:         asString(m["signature"]),
			UnitPrice:         asDecimal(m["unitPrice"]),
			Quantity:          asInt(m["quantity"]),
			Note:              asString(m["note"]),
			Hydrated:          asBool(m["hydrated"]),
			SelectedModifiers: []cartdom.Modifier{},
		}
		if t, ok := asTime(m["createdAt"]); ok {
			l.CreatedAt = t
		}
		if l.LineID == "" || l.ItemID == "" || l.Quantity <= 0 {
			continue
		}
		mods, _ := m["modifiers"].([]any)
		for _, mv := range mods {
			mm, ok := mv.(map[string]any)
			if !ok {
				continue
			}
			l.SelectedModifiers = append(l.SelectedModifiers, cartdom.Modifier{
				ModifierID:      strings.TrimSpace(asString(mm["modifierId"])),
				ModifierGroupID: strings.TrimSpace(asString(mm["modifierGroupId"])),
				Name:            asString(mm["name"]),
				Price:           asDecimal(mm["price"]),
				Count:           asInt(mm["count"]),
			})
		}
		if l.Signature == "" {
			l.Signature = cartdom.Signature(l.ItemID, cartdom.RefsOf(l.SelectedModifiers))
		}
		c.Lines = append(c.Lines, l)
	}
	return c
}
