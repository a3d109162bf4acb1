// internal/adapters/out/gcs/checkout_archive_gcs.go
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/shopspring/decimal"

	cartdom "whatsdish/internal/domain/cart"
)

// CheckoutArchiveGCS stores the final cart of each completed checkout as JSON.
//
// Object path:
//
//	checkouts/<yyyy>/<mm>/<dd>/<sessionId>/<restaurantId>/<unixMillis>_<rand>.json
type CheckoutArchiveGCS struct {
	Client *storage.Client
	Bucket string

	newID func() string
}

func NewCheckoutArchiveGCS(client *storage.Client, bucket string) *CheckoutArchiveGCS {
	return &CheckoutArchiveGCS{
		Client: client,
		Bucket: strings.TrimSpace(bucket),
		newID:  newArchiveID,
	}
}

type archivedCart struct {
	SessionID    string             `json:"sessionId"`
	RestaurantID string             `json:"restaurantId"`
	Version      int64              `json:"version"`
	Lines        []cartdom.CartLine `json:"lines"`
	TotalItems   int                `json:"totalItems"`
	TotalPrice   decimal.Decimal    `json:"totalPrice"`
	CompletedAt  time.Time          `json:"completedAt"`
}

func (r *CheckoutArchiveGCS) Archive(ctx context.Context, sessionID string, c cartdom.RestaurantCart, at time.Time) error {
	if r == nil || r.Client == nil {
		return errors.New("checkout_archive_gcs: nil storage client")
	}
	if r.Bucket == "" {
		return errors.New("checkout_archive_gcs: bucket is empty")
	}

	obj, err := archiveObjectPath(sessionID, c.RestaurantID, at, r.newID())
	if err != nil {
		return err
	}
	body, err := archiveBody(sessionID, c, at)
	if err != nil {
		return err
	}

	w := r.Client.Bucket(r.Bucket).Object(obj).NewWriter(ctx)
	w.ContentType = "application/json"
	w.Metadata = map[string]string{
		"sessionId":    strings.TrimSpace(sessionID),
		"restaurantId": strings.TrimSpace(c.RestaurantID),
	}
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return fmt.Errorf("checkout_archive_gcs: write gs://%s/%s: %w", r.Bucket, obj, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("checkout_archive_gcs: close gs://%s/%s: %w", r.Bucket, obj, err)
	}
	return nil
}

func archiveBody(sessionID string, c cartdom.RestaurantCart, at time.Time) ([]byte, error) {
	return json.Marshal(archivedCart{
		SessionID:    strings.TrimSpace(sessionID),
		RestaurantID: strings.TrimSpace(c.RestaurantID),
		Version:      c.Version,
		Lines:        c.Lines,
		TotalItems:   c.TotalItems(),
		TotalPrice:   c.TotalPrice(),
		CompletedAt:  at.UTC(),
	})
}
