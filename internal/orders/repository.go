package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/joao-fontenele/salesflow/internal/domain"
	"github.com/joao-fontenele/salesflow/internal/store"
)

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	order.ID = store.NewID()
	order.Version = 0

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, client_id, seller_id, status, total, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $6)
	`, order.ID, order.ClientID, order.SellerID, order.Status, order.Total, order.CreatedAt)
	if err != nil {
		return store.Classify(err)
	}

	if err := insertItems(ctx, tx, order); err != nil {
		return err
	}

	return store.Classify(tx.Commit())
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	if !store.ValidID(id) {
		return nil, nil
	}

	order := &domain.Order{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, client_id, seller_id, status, total, version, created_at
		FROM orders
		WHERE id = $1
	`, id).Scan(&order.ID, &order.ClientID, &order.SellerID, &order.Status, &order.Total, &order.Version, &order.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, store.Classify(err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, quantity, price
		FROM order_items
		WHERE order_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, store.Classify(err)
	}
	defer func() { _ = rows.Close() }()

	order.Items = []domain.OrderItem{}
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.Price); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, store.Classify(err)
	}

	return order, nil
}

func (r *OrderRepository) List(ctx context.Context) ([]domain.Order, error) {
	return r.list(ctx, `
		SELECT id, client_id, seller_id, status, total, version, created_at
		FROM orders
		ORDER BY created_at DESC, id
	`)
}

// ListBySeller returns the seller's orders, optionally restricted to one
// status. An empty status matches all.
func (r *OrderRepository) ListBySeller(ctx context.Context, sellerID string, status domain.OrderStatus) ([]domain.Order, error) {
	if !store.ValidID(sellerID) {
		return []domain.Order{}, nil
	}
	return r.list(ctx, `
		SELECT id, client_id, seller_id, status, total, version, created_at
		FROM orders
		WHERE seller_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id
	`, sellerID, string(status))
}

func (r *OrderRepository) list(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.Classify(err)
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(&order.ID, &order.ClientID, &order.SellerID, &order.Status, &order.Total, &order.Version, &order.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		order.Items = []domain.OrderItem{}
		orderMap[order.ID] = &order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, store.Classify(err)
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	itemRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, quantity, price
		FROM order_items
		WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, position
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, store.Classify(err)
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := itemRows.Scan(&orderID, &item.ProductID, &item.Quantity, &item.Price); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		order := orderMap[orderID]
		order.Items = append(order.Items, item)
	}

	if err := itemRows.Err(); err != nil {
		return nil, store.Classify(err)
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}

// ReplaceItems stores new client, items and total for a PENDING order whose
// version still matches. It returns false when another writer got there first.
func (r *OrderRepository) ReplaceItems(ctx context.Context, order *domain.Order) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, store.Classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET client_id = $3, total = $4, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2 AND status = 'PENDING'
	`, order.ID, order.Version, order.ClientID, order.Total)
	if err != nil {
		return false, store.Classify(err)
	}
	if ok, err := affected(result); err != nil || !ok {
		return false, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, order.ID); err != nil {
		return false, store.Classify(err)
	}
	if err := insertItems(ctx, tx, order); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, store.Classify(err)
	}
	order.Version++
	return true, nil
}

// SetStatus moves the order from its current status to next if neither
// status nor version changed since it was read.
func (r *OrderRepository) SetStatus(ctx context.Context, order *domain.Order, next domain.OrderStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders SET status = $4, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2 AND status = $3
	`, order.ID, order.Version, order.Status, next)
	if err != nil {
		return false, store.Classify(err)
	}
	ok, err := affected(result)
	if ok {
		order.Status = next
		order.Version++
	}
	return ok, err
}

// Delete removes the order if its version still matches.
func (r *OrderRepository) Delete(ctx context.Context, order *domain.Order) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM orders WHERE id = $1 AND version = $2
	`, order.ID, order.Version)
	if err != nil {
		return false, store.Classify(err)
	}
	return affected(result)
}

func insertItems(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	for i, item := range order.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, position, product_id, quantity, price)
			VALUES ($1, $2, $3, $4, $5)
		`, order.ID, i, item.ProductID, item.Quantity, item.Price)
		if err != nil {
			return store.Classify(err)
		}
	}
	return nil
}

func affected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, store.Classify(err)
	}
	return n > 0, nil
}
