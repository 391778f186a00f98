package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"not found", NewNotFound("client", "c-1"), ErrNotFound},
		{"insufficient stock", &InsufficientStockError{ProductID: "p-1"}, ErrInsufficientStock},
		{"invalid input", Invalid("quantity", "must be positive"), ErrInvalidInput},
		{"wrapped not found", fmt.Errorf("get order: %w", NewNotFound("order", "o-1")), ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.target) {
				t.Errorf("expected %v to match %v", tt.err, tt.target)
			}
		})
	}
}

func TestInsufficientStockCarriesProduct(t *testing.T) {
	err := fmt.Errorf("reserve: %w", &InsufficientStockError{ProductID: "widget"})

	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatal("expected InsufficientStockError")
	}
	if stockErr.ProductID != "widget" {
		t.Errorf("expected product widget, got %s", stockErr.ProductID)
	}
}

func TestOrderStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderStatusPending, OrderStatusCompleted, true},
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusPending, OrderStatusPending, false},
		{OrderStatusCompleted, OrderStatusCancelled, false},
		{OrderStatusCompleted, OrderStatusPending, false},
		{OrderStatusCancelled, OrderStatusCompleted, false},
		{OrderStatusCancelled, OrderStatusPending, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.want, got)
		}
	}
}

func TestQuantitiesMergesDuplicateProducts(t *testing.T) {
	got := Quantities([]OrderItem{
		{ProductID: "a", Quantity: 2},
		{ProductID: "b", Quantity: 1},
		{ProductID: "a", Quantity: 3},
	})

	if got["a"] != 5 || got["b"] != 1 || len(got) != 2 {
		t.Errorf("unexpected quantities: %v", got)
	}
}
