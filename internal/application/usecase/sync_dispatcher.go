// internal/application/usecase/sync_dispatcher.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	cartdom "whatsdish/internal/domain/cart"
)

var ErrDispatcherNotConfigured = errors.New("sync_dispatcher: not configured")

const instrumentationName = "whatsdish/cart-sync"

// SyncDispatcher turns one operation into one delta request against the
// remote order aggregate. It never touches CartStore state.
type SyncDispatcher struct {
	session cartdom.SessionReader
	remote  cartdom.OrderAggregate
	limiter *rate.Limiter

	dispatched metric.Int64Counter
	failed     metric.Int64Counter
}

// DispatcherOption customizes a SyncDispatcher.
type DispatcherOption func(*SyncDispatcher)

// WithLimiter throttles outbound delta requests.
func WithLimiter(l *rate.Limiter) DispatcherOption {
	return func(d *SyncDispatcher) { d.limiter = l }
}

func NewSyncDispatcher(session cartdom.SessionReader, remote cartdom.OrderAggregate, opts ...DispatcherOption) *SyncDispatcher {
	d := &SyncDispatcher{
		session: session,
		remote:  remote,
	}
	for _, o := range opts {
		o(d)
	}

	meter := otel.Meter(instrumentationName)
	var err error
	if d.dispatched, err = meter.Int64Counter("cart.sync.dispatched",
		metric.WithDescription("delta requests sent to the order aggregate")); err != nil {
		log.Printf("[sync_dispatcher] WARN: counter init failed: %v", err)
	}
	if d.failed, err = meter.Int64Counter("cart.sync.failed",
		metric.WithDescription("delta requests that did not succeed")); err != nil {
		log.Printf("[sync_dispatcher] WARN: counter init failed: %v", err)
	}
	return d
}

// Dispatch sends op once. Credentials are read right before sending; if
// either id is missing it fails fast with ErrPreconditionMissing and makes
// no network call.
func (d *SyncDispatcher) Dispatch(ctx context.Context, op cartdom.SyncOperation) (err error) {
	if d == nil || d.session == nil || d.remote == nil {
		return ErrDispatcherNotConfigured
	}
	if !op.Mode.Valid() || op.Count <= 0 {
		return fmt.Errorf("sync_dispatcher: invalid operation mode=%q count=%d", op.Mode, op.Count)
	}

	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "cart.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("cart.mode", op.Mode.String()),
		attribute.Int("cart.count", op.Count),
		attribute.String("cart.restaurant_id", op.RestaurantID),
		attribute.String("cart.item_id", op.Line.ItemID),
	)
	defer func() {
		attrs := metric.WithAttributes(attribute.String("mode", op.Mode.String()))
		if d.dispatched != nil {
			d.dispatched.Add(ctx, 1, attrs)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if d.failed != nil {
				d.failed.Add(ctx, 1, attrs)
			}
		}
	}()

	creds, err := d.session.ReadCredentials(ctx)
	if err != nil {
		return fmt.Errorf("%w: session read failed: %v", cartdom.ErrPreconditionMissing, err)
	}
	if !creds.Complete() {
		return cartdom.ErrPreconditionMissing
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", cartdom.ErrNetworkFailure, err)
		}
	}

	req := cartdom.DeltaRequest{
		Mode:              op.Mode,
		ItemID:            strings.TrimSpace(op.Line.ItemID),
		RestaurantItemRef: strings.TrimSpace(op.Line.RestaurantItemRef),
		OrderID:           strings.TrimSpace(creds.OrderID),
		AccountID:         strings.TrimSpace(creds.AccountID),
		Count:             op.Count,
		Note:              op.Line.Note,
		Modifications:     op.Modifications(),
		IdempotencyKey:    op.ID,
	}

	if err := d.remote.ApplyDelta(ctx, req); err != nil {
		if errors.Is(err, cartdom.ErrNetworkFailure) || errors.Is(err, cartdom.ErrRemoteRejected) {
			return err
		}
		return fmt.Errorf("%w: %v", cartdom.ErrNetworkFailure, err)
	}
	return nil
}

func isPrecondition(err error) bool {
	return errors.Is(err, cartdom.ErrPreconditionMissing)
}
