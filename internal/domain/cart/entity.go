// internal/domain/cart/entity.go
package cart

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidCart         = errors.New("cart: invalid")
	ErrMissingItemID       = errors.New("cart: itemId is required")
	ErrMissingRestaurantID = errors.New("cart: restaurantId is required")
	ErrInvalidQuantity     = errors.New("cart: quantity must be >= 1")
	ErrSignatureCollision  = errors.New("cart: two active lines share a signature")
	ErrStaleSnapshot       = errors.New("cart: snapshot is older than the applied one")
	ErrInvalidPrice        = errors.New("cart: price must not be negative")
)

// Modifier is one selected option on a line (e.g. "extra cheese").
// Price is the extended price for Count, added once per unit of the line.
type Modifier struct {
	ModifierID      string          `json:"modifierId"`
	ModifierGroupID string          `json:"modifierGroupId"`
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	Count           int             `json:"count"`
}

// Candidate is what the shopper picked before it becomes (or merges into) a line.
type Candidate struct {
	ItemID            string          `json:"itemId"`
	RestaurantItemRef string          `json:"gid"`
	Name              string          `json:"name"`
	UnitPrice         decimal.Decimal `json:"unitPrice"`
	Modifiers         []Modifier      `json:"modifiers"`
	Note              string          `json:"note"`
}

// CartLine represents one line of a restaurant cart.
//   - LineID is unique within one restaurant cart
//   - Signature = itemId + canonical modifier multiset (see signature.go)
//   - Quantity > 0 while the line exists
type CartLine struct {
	LineID            string          `json:"lineId"`
	ItemID            string          `json:"itemId"`
	RestaurantItemRef string          `json:"gid"`
	Name              string          `json:"name"`
	Signature         string          `json:"signature"`
	UnitPrice         decimal.Decimal `json:"unitPrice"`
	Quantity          int             `json:"quantity"`
	SelectedModifiers []Modifier      `json:"selectedModifiers"`
	Note              string          `json:"note"`
	Hydrated          bool            `json:"hydrated"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// UnitTotal = unitPrice + Σ modifier price.
func (l CartLine) UnitTotal() decimal.Decimal {
	total := l.UnitPrice
	for _, m := range l.SelectedModifiers {
		total = total.Add(m.Price)
	}
	return total
}

// LineTotal = quantity × UnitTotal.
func (l CartLine) LineTotal() decimal.Decimal {
	return l.UnitTotal().Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Clone returns a deep copy (modifier slice is not shared).
func (l CartLine) Clone() CartLine {
	cp := l
	cp.SelectedModifiers = cloneModifiers(l.SelectedModifiers)
	return cp
}

// RestaurantCart is the ordered line list of one restaurant.
// Version is the version of the last applied remote snapshot (0 = never versioned).
type RestaurantCart struct {
	RestaurantID string     `json:"restaurantId"`
	Lines        []CartLine `json:"lines"`
	Version      int64      `json:"version"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Clone returns a deep copy.
func (c RestaurantCart) Clone() RestaurantCart {
	cp := c
	cp.Lines = make([]CartLine, 0, len(c.Lines))
	for _, l := range c.Lines {
		cp.Lines = append(cp.Lines, l.Clone())
	}
	return cp
}

// TotalItems = Σ quantity.
func (c RestaurantCart) TotalItems() int {
	n := 0
	for _, l := range c.Lines {
		n += l.Quantity
	}
	return n
}

// TotalPrice = Σ quantity × (unitPrice + Σ modifier price).
func (c RestaurantCart) TotalPrice() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Lines {
		total = total.Add(l.LineTotal())
	}
	return total
}

// IndexBySignature returns the index of the active line with sig, or -1.
func (c RestaurantCart) IndexBySignature(sig string) int {
	for i := range c.Lines {
		if c.Lines[i].Signature == sig && c.Lines[i].Quantity > 0 {
			return i
		}
	}
	return -1
}

// IndexByLineID returns the index of lineID, or -1.
func (c RestaurantCart) IndexByLineID(lineID string) int {
	id := strings.TrimSpace(lineID)
	for i := range c.Lines {
		if c.Lines[i].LineID == id {
			return i
		}
	}
	return -1
}

// Validate checks the cart invariants.
// ErrSignatureCollision means the store let two active lines share a signature.
func (c RestaurantCart) Validate() error {
	if strings.TrimSpace(c.RestaurantID) == "" {
		return ErrMissingRestaurantID
	}
	seenSig := make(map[string]struct{}, len(c.Lines))
	seenID := make(map[string]struct{}, len(c.Lines))
	for _, l := range c.Lines {
		if l.Quantity <= 0 || strings.TrimSpace(l.ItemID) == "" || l.LineID == "" {
			return ErrInvalidCart
		}
		if _, dup := seenSig[l.Signature]; dup {
			return ErrSignatureCollision
		}
		if _, dup := seenID[l.LineID]; dup {
			return ErrInvalidCart
		}
		seenSig[l.Signature] = struct{}{}
		seenID[l.LineID] = struct{}{}
	}
	return nil
}

func cloneModifiers(src []Modifier) []Modifier {
	if len(src) == 0 {
		return []Modifier{}
	}
	cp := make([]Modifier, len(src))
	copy(cp, src)
	return cp
}

// CloneModifiers copies a modifier slice for callers outside the package.
func CloneModifiers(src []Modifier) []Modifier {
	return cloneModifiers(src)
}

// RemoveIndex removes idx preserving order.
func RemoveIndex(lines []CartLine, idx int) []CartLine {
	if idx < 0 || idx >= len(lines) {
		return lines
	}
	out := make([]CartLine, 0, len(lines)-1)
	out = append(out, lines[:idx]...)
	return append(out, lines[idx+1:]...)
}
