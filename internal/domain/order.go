package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition may leave s.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// CanTransition reports whether an order in status s may move to next.
// Only PENDING orders move, and only to a terminal status.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	return s == OrderStatusPending && next.Terminal()
}

// HoldsStock reports whether an order in status s still has stock reserved
// against the catalog.
func (s OrderStatus) HoldsStock() bool {
	return s != OrderStatusCancelled
}

type OrderItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
}

type Order struct {
	ID        string      `json:"id"`
	ClientID  string      `json:"client_id"`
	SellerID  string      `json:"seller_id"`
	Items     []OrderItem `json:"items"`
	Total     int64       `json:"total"`
	Status    OrderStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	// Version increments on every stored mutation and guards concurrent
	// writers against acting on stale line items.
	Version int `json:"-"`
}

// LineItem is a requested (product, quantity) pair before pricing.
type LineItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Quantities sums item quantities per product.
func Quantities(items []OrderItem) map[string]int {
	out := make(map[string]int, len(items))
	for _, it := range items {
		out[it.ProductID] += it.Quantity
	}
	return out
}
