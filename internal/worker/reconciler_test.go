package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v5"

	"github.com/joao-fontenele/salesflow/internal/domain"
	"github.com/joao-fontenele/salesflow/internal/messaging"
)

// ledgerApplier mimics the idempotent release ledger.
type ledgerApplier struct {
	mu       sync.Mutex
	seen     map[string]bool
	stock    map[string]int
	failures int
	failWith error
	calls    int
}

func newLedger() *ledgerApplier {
	return &ledgerApplier{seen: map[string]bool{}, stock: map[string]int{}}
}

func (l *ledgerApplier) ApplyRelease(ctx context.Context, rel domain.StockRelease) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.failures > 0 {
		l.failures--
		return false, l.failWith
	}
	if l.seen[rel.ID] {
		return false, nil
	}
	l.seen[rel.ID] = true
	l.stock[rel.ProductID] += rel.Quantity
	return true, nil
}

const (
	releaseID = "7d9f1a52-3c1e-4f0e-9a4b-2b1d6e8f0c11"
	productID = "0b7e4c8a-91d2-4c57-8f3e-6a2d9b1c5e70"
)

func newTestReconciler(t *testing.T, applier ReleaseApplier) *Reconciler {
	t.Helper()
	r, err := NewReconciler(applier, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithBackOff(&backoff.ZeroBackOff{}, 3))
	if err != nil {
		t.Fatalf("NewReconciler() error = %v", err)
	}
	return r
}

func payload(t *testing.T, rel domain.StockRelease) []byte {
	t.Helper()
	data, err := json.Marshal(rel)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestHandle_AppliesOnceEvenWhenRedelivered(t *testing.T) {
	ledger := newLedger()
	r := newTestReconciler(t, ledger)
	msg := payload(t, domain.StockRelease{ID: releaseID, ProductID: productID, Quantity: 4})

	for i := 0; i < 3; i++ {
		if err := r.Handle(context.Background(), msg); err != nil {
			t.Fatalf("Handle() delivery %d error = %v", i+1, err)
		}
	}

	if got := ledger.stock[productID]; got != 4 {
		t.Errorf("expected stock restored by 4 exactly once, got %d", got)
	}
}

func TestHandle_RetriesTransientFailures(t *testing.T) {
	ledger := newLedger()
	ledger.failures = 2
	ledger.failWith = fmt.Errorf("%w: connection refused", domain.ErrStoreUnavailable)
	r := newTestReconciler(t, ledger)

	if err := r.Handle(context.Background(), payload(t, domain.StockRelease{ID: releaseID, ProductID: productID, Quantity: 1})); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if ledger.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", ledger.calls)
	}
	if ledger.stock[productID] != 1 {
		t.Errorf("expected stock 1, got %d", ledger.stock[productID])
	}
}

func TestHandle_GivesUpAfterMaxTries(t *testing.T) {
	ledger := newLedger()
	ledger.failures = 10
	ledger.failWith = fmt.Errorf("%w: connection refused", domain.ErrStoreUnavailable)
	r := newTestReconciler(t, ledger)

	err := r.Handle(context.Background(), payload(t, domain.StockRelease{ID: releaseID, ProductID: productID, Quantity: 1}))
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if errors.Is(err, messaging.ErrDiscard) {
		t.Error("transient failures must not be discarded")
	}
}

func TestHandle_PermanentErrorIsNotRetried(t *testing.T) {
	ledger := newLedger()
	ledger.failures = 1
	ledger.failWith = errors.New("constraint violation")
	r := newTestReconciler(t, ledger)

	err := r.Handle(context.Background(), payload(t, domain.StockRelease{ID: releaseID, ProductID: productID, Quantity: 1}))
	if err == nil {
		t.Fatal("expected error")
	}
	if ledger.calls != 1 {
		t.Errorf("expected a single attempt, got %d", ledger.calls)
	}
}

func TestHandle_DiscardsMalformed(t *testing.T) {
	ledger := newLedger()
	r := newTestReconciler(t, ledger)

	tests := map[string][]byte{
		"not json":       []byte("{"),
		"bad release id": payload(t, domain.StockRelease{ID: "x", ProductID: productID, Quantity: 1}),
		"bad product id": payload(t, domain.StockRelease{ID: releaseID, ProductID: "nope", Quantity: 1}),
		"zero quantity":  payload(t, domain.StockRelease{ID: releaseID, ProductID: productID}),
	}

	for name, msg := range tests {
		t.Run(name, func(t *testing.T) {
			if err := r.Handle(context.Background(), msg); !errors.Is(err, messaging.ErrDiscard) {
				t.Errorf("expected ErrDiscard, got %v", err)
			}
		})
	}
	if ledger.calls != 0 {
		t.Errorf("expected no store calls, got %d", ledger.calls)
	}
}
