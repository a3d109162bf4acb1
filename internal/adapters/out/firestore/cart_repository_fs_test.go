package firestore

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cartdom "whatsdish/internal/domain/cart"
)

func TestCartData_KeepsDecimalPrecision(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	in := cartdom.RestaurantCart{
		RestaurantID: "r1",
		Version:      4,
		UpdatedAt:    now,
		Lines: []cartdom.CartLine{{
			LineID:    "ln_1",
			ItemID:    "burger",
			Signature: "burger|cheese:1",
			UnitPrice: decimal.RequireFromString("0.10"),
			Quantity:  3,
			SelectedModifiers: []cartdom.Modifier{
				{ModifierID: "cheese", ModifierGroupID: "extras", Price: decimal.RequireFromString("0.20"), Count: 1},
			},
			CreatedAt: now,
		}},
	}

	data := cartDataFromDomain("s1", in)
	assert.Equal(t, "s1", data["sessionId"])
	assert.Equal(t, now.Add(cartTTL), data["expiresAt"])

	// Firestore hands integers back as int64
	lines := data["lines"].([]any)
	lines[0].(map[string]any)["quantity"] = int64(3)

	out := cartFromData(data)
	require.Len(t, out.Lines, 1)
	assert.Equal(t, "r1", out.RestaurantID)
	assert.Equal(t, int64(4), out.Version)
	assert.Equal(t, 3, out.Lines[0].Quantity)
	assert.True(t, in.TotalPrice().Equal(out.TotalPrice()), "want %s got %s", in.TotalPrice(), out.TotalPrice())
}

func TestCartFromData_SkipsMalformedLines(t *testing.T) {
	raw := map[string]any{
		"restaurantId": "r1",
		"lines": []any{
			"garbage",
			map[string]any{"lineId": "ln_a", "itemId": "fries", "quantity": int64(0)},
			map[string]any{"lineId": "", "itemId": "fries", "quantity": int64(1)},
			map[string]any{"lineId": "ln_b", "itemId": "fries", "quantity": int64(2), "unitPrice": float64(2.5)},
		},
	}
	c := cartFromData(raw)
	require.Len(t, c.Lines, 1)
	assert.Equal(t, "ln_b", c.Lines[0].LineID)
	assert.Equal(t, "fries|∅", c.Lines[0].Signature)
	assert.True(t, decimal.RequireFromString("2.5").Equal(c.Lines[0].UnitPrice))
}

func TestCartDocID(t *testing.T) {
	assert.Equal(t, "s1__r1", cartDocID(" s1 ", "r1 "))
}
