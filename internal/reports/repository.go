package reports

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/joao-fontenele/salesflow/internal/domain"
	"github.com/joao-fontenele/salesflow/internal/store"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// TopClients ranks clients by the summed total of their COMPLETED orders.
func (r *Repository) TopClients(ctx context.Context, limit int) ([]domain.ClientSpend, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.surname, c.email, c.phone, c.company, c.seller_id, c.created_at,
		       spend.total
		FROM (
			SELECT client_id, SUM(total) AS total
			FROM orders
			WHERE status = 'COMPLETED'
			GROUP BY client_id
		) spend
		JOIN clients c ON c.id = spend.client_id
		ORDER BY spend.total DESC, c.id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, store.Classify(err)
	}
	defer func() { _ = rows.Close() }()

	out := []domain.ClientSpend{}
	for rows.Next() {
		var s domain.ClientSpend
		c := &s.Client
		if err := rows.Scan(&c.ID, &c.Name, &c.Surname, &c.Email, &c.Phone, &c.Company, &c.SellerID, &c.CreatedAt, &s.TotalSpend); err != nil {
			return nil, fmt.Errorf("scan client spend: %w", err)
		}
		out = append(out, s)
	}

	if err := rows.Err(); err != nil {
		return nil, store.Classify(err)
	}

	return out, nil
}

// TopSellers ranks sellers by the summed total of their COMPLETED orders.
func (r *Repository) TopSellers(ctx context.Context, limit int) ([]domain.SellerSpend, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.name, s.surname, s.email, s.created_at, spend.total
		FROM (
			SELECT seller_id, SUM(total) AS total
			FROM orders
			WHERE status = 'COMPLETED'
			GROUP BY seller_id
		) spend
		JOIN sellers s ON s.id = spend.seller_id
		ORDER BY spend.total DESC, s.id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, store.Classify(err)
	}
	defer func() { _ = rows.Close() }()

	out := []domain.SellerSpend{}
	for rows.Next() {
		var s domain.SellerSpend
		if err := rows.Scan(&s.Seller.ID, &s.Seller.Name, &s.Seller.Surname, &s.Seller.Email, &s.Seller.CreatedAt, &s.TotalSpend); err != nil {
			return nil, fmt.Errorf("scan seller spend: %w", err)
		}
		out = append(out, s)
	}

	if err := rows.Err(); err != nil {
		return nil, store.Classify(err)
	}

	return out, nil
}
