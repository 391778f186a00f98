package domain

import "time"

type OrderEventType string

const (
	OrderCreated       OrderEventType = "order.created"
	OrderUpdated       OrderEventType = "order.updated"
	OrderStatusChanged OrderEventType = "order.status_changed"
	OrderDeleted       OrderEventType = "order.deleted"
)

type OrderEvent struct {
	Type      OrderEventType `json:"type"`
	OrderID   string         `json:"order_id"`
	ClientID  string         `json:"client_id"`
	SellerID  string         `json:"seller_id"`
	Status    OrderStatus    `json:"status"`
	Items     []OrderItem    `json:"items"`
	Total     int64          `json:"total"`
	Timestamp time.Time      `json:"timestamp"`
}

// StockRelease is a compensation that could not be applied inline and is
// handed to the reconciler. ID makes applying it idempotent.
type StockRelease struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	OrderID   string    `json:"order_id,omitempty"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}
