package domain

import "time"

// Client is a customer record. SellerID is set once on creation and never
// rewritten.
type Client struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Surname   string    `json:"surname"`
	Email     string    `json:"email"`
	Phone     *string   `json:"phone,omitempty"`
	Company   string    `json:"company"`
	SellerID  string    `json:"seller_id"`
	CreatedAt time.Time `json:"created_at"`
}
