package domain

import "time"

type Product struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Stock     int       `json:"stock"`
	Price     int64     `json:"price"`
	CreatedAt time.Time `json:"created_at"`
}
