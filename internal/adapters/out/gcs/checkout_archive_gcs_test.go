package gcs

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cartdom "whatsdish/internal/domain/cart"
)

func TestArchiveObjectPath(t *testing.T) {
	at := time.Date(2026, 7, 4, 18, 30, 0, 0, time.UTC)

	p, err := archiveObjectPath("uid/1", " r1 ", at, "abc")
	require.NoError(t, err)
	assert.Equal(t, "checkouts/2026/07/04/uid_1/r1/1783189800000_abc.json", p)

	_, err = archiveObjectPath("", "r1", at, "abc")
	assert.Error(t, err)

	_, err = archiveObjectPath(" .. ", "r1", at, "abc")
	assert.Error(t, err, "dots alone must not become a path level")

	p, err = archiveObjectPath("../s1", "r1", at.In(time.FixedZone("JST", 9*3600)), "")
	require.NoError(t, err)
	assert.Equal(t, "checkouts/2026/07/04/_s1/r1/1783189800000_0.json", p)
}

func TestNewArchiveID(t *testing.T) {
	a, b := newArchiveID(), newArchiveID()
	assert.Len(t, a, 16)
	assert.NotEqual(t, a, b)
}

func TestArchiveBody_CarriesTotals(t *testing.T) {
	c := cartdom.RestaurantCart{
		RestaurantID: "r1",
		Lines: []cartdom.CartLine{
			{LineID: "ln_1", ItemID: "burger", Signature: "burger|∅", UnitPrice: decimal.RequireFromString("8.50"), Quantity: 2},
		},
	}
	b, err := archiveBody("s1", c, time.Unix(0, 0))
	require.NoError(t, err)

	var got struct {
		TotalItems int    `json:"totalItems"`
		TotalPrice string `json:"totalPrice"`
	}
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, 2, got.TotalItems)
	assert.Equal(t, "17", got.TotalPrice)
}
