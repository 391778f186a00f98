// Package worker applies stock releases that the order engine could not
// apply inline.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/salesflow/internal/domain"
	"github.com/joao-fontenele/salesflow/internal/messaging"
	"github.com/joao-fontenele/salesflow/internal/store"
)

var meter = otel.Meter("worker/reconciler")

type ReleaseApplier interface {
	ApplyRelease(ctx context.Context, rel domain.StockRelease) (bool, error)
}

type Option func(*Reconciler)

// WithBackOff sets the retry schedule for releases that hit a transient
// store failure.
func WithBackOff(b backoff.BackOff, maxTries uint) Option {
	return func(r *Reconciler) {
		r.backoff = b
		r.maxTries = maxTries
	}
}

type Reconciler struct {
	applier  ReleaseApplier
	logger   *slog.Logger
	backoff  backoff.BackOff
	maxTries uint
	applied  metric.Int64Counter
	skipped  metric.Int64Counter
}

func NewReconciler(applier ReleaseApplier, logger *slog.Logger, opts ...Option) (*Reconciler, error) {
	applied, err := meter.Int64Counter("salesflow.stock.releases.applied",
		metric.WithDescription("Deferred stock releases applied by the reconciler"))
	if err != nil {
		return nil, fmt.Errorf("create reconciler metrics: %w", err)
	}
	skipped, err := meter.Int64Counter("salesflow.stock.releases.duplicate",
		metric.WithDescription("Deferred stock releases already applied"))
	if err != nil {
		return nil, fmt.Errorf("create reconciler metrics: %w", err)
	}

	r := &Reconciler{
		applier:  applier,
		logger:   logger,
		backoff:  backoff.NewExponentialBackOff(),
		maxTries: 8,
		applied:  applied,
		skipped:  skipped,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Handle applies one release message. Malformed messages are discarded;
// transient store failures are retried and, once retries run out, returned
// so the message is redelivered.
func (r *Reconciler) Handle(ctx context.Context, payload []byte) error {
	var rel domain.StockRelease
	if err := json.Unmarshal(payload, &rel); err != nil {
		return fmt.Errorf("%w: unmarshal stock release: %v", messaging.ErrDiscard, err)
	}
	if !store.ValidID(rel.ID) || !store.ValidID(rel.ProductID) || rel.Quantity <= 0 {
		return fmt.Errorf("%w: malformed stock release %q", messaging.ErrDiscard, rel.ID)
	}

	r.backoff.Reset()
	applied, err := backoff.Retry(ctx, func() (bool, error) {
		ok, err := r.applier.ApplyRelease(ctx, rel)
		if err != nil && !errors.Is(err, domain.ErrStoreUnavailable) {
			return false, backoff.Permanent(err)
		}
		if err != nil {
			r.logger.Warn("stock release failed, retrying", "error", err, "release_id", rel.ID)
		}
		return ok, err
	}, backoff.WithBackOff(r.backoff), backoff.WithMaxTries(r.maxTries), backoff.WithMaxElapsedTime(time.Minute))
	if err != nil {
		r.logger.Error("failed to apply stock release", "error", err, "release_id", rel.ID, "product_id", rel.ProductID)
		return fmt.Errorf("apply stock release %s: %w", rel.ID, err)
	}

	if !applied {
		r.skipped.Add(ctx, 1)
		r.logger.Info("stock release already applied", "release_id", rel.ID)
		return nil
	}

	r.applied.Add(ctx, 1)
	r.logger.Info("stock release applied",
		"release_id", rel.ID,
		"product_id", rel.ProductID,
		"quantity", rel.Quantity,
		"order_id", rel.OrderID,
		"reason", rel.Reason,
	)
	return nil
}
