package catalog

import (
	"context"
	"database/sql"
	"errors"
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

func (r *Repository) List(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, stock, price, created_at
		FROM products
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, store.Classify(err)
	}
	return scanProducts(rows)
}

func (r *Repository) Get(ctx context.Context, id string) (*domain.Product, error) {
	if !store.ValidID(id) {
		return nil, nil
	}

	p := &domain.Product{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, stock, price, created_at
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Stock, &p.Price, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, store.Classify(err)
	}

	return p, nil
}

func (r *Repository) Create(ctx context.Context, p *domain.Product) error {
	p.ID = store.NewID()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (id, name, stock, price, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, p.ID, p.Name, p.Stock, p.Price, p.CreatedAt)
	return store.Classify(err)
}

// Update overwrites name, stock and price. It returns false when the product
// does not exist.
func (r *Repository) Update(ctx context.Context, p *domain.Product) (bool, error) {
	if !store.ValidID(p.ID) {
		return false, nil
	}
	err := r.db.QueryRowContext(ctx, `
		UPDATE products SET name = $2, stock = $3, price = $4
		WHERE id = $1
		RETURNING created_at
	`, p.ID, p.Name, p.Stock, p.Price).Scan(&p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, store.Classify(err)
	}
	return true, nil
}

func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	if !store.ValidID(id) {
		return false, nil
	}
	result, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return false, store.Classify(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, store.Classify(err)
	}
	return n > 0, nil
}

// Search ranks products whose name matches text.
func (r *Repository) Search(ctx context.Context, text string, limit int) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, stock, price, created_at
		FROM products, websearch_to_tsquery('simple', $1) AS q
		WHERE search @@ q
		ORDER BY ts_rank(search, q) DESC, name
		LIMIT $2
	`, text, limit)
	if err != nil {
		return nil, store.Classify(err)
	}
	return scanProducts(rows)
}

// Reserve decrements stock by quantity only if enough is available. The
// check and the write are one statement, so concurrent reservations of the
// last units cannot both succeed. It returns false when stock is short.
func (r *Repository) Reserve(ctx context.Context, productID string, quantity int) (bool, error) {
	if !store.ValidID(productID) {
		return false, domain.NewNotFound("product", productID)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - $2
		WHERE id = $1 AND stock >= $2
	`, productID, quantity)
	if err != nil {
		return false, store.Classify(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, store.Classify(err)
	}

	if rowsAffected == 0 {
		exists, err := r.exists(ctx, productID)
		if err != nil {
			return false, err
		}
		if !exists {
			return false, domain.NewNotFound("product", productID)
		}
		return false, nil
	}

	return true, nil
}

// Release returns quantity units to the product's stock.
func (r *Repository) Release(ctx context.Context, productID string, quantity int) error {
	if !store.ValidID(productID) {
		return domain.NewNotFound("product", productID)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE products SET stock = stock + $2
		WHERE id = $1
	`, productID, quantity)
	if err != nil {
		return store.Classify(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return store.Classify(err)
	}

	if rowsAffected == 0 {
		return domain.NewNotFound("product", productID)
	}

	return nil
}

// ApplyRelease performs a deferred release at most once, keyed by its ID.
// It returns false when the release had already been applied.
func (r *Repository) ApplyRelease(ctx context.Context, rel domain.StockRelease) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, store.Classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO stock_releases (id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, rel.ID, rel.ProductID, rel.Quantity)
	if err != nil {
		return false, store.Classify(err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return false, store.Classify(err)
	}
	if inserted == 0 {
		return false, nil
	}

	// A product deleted in the meantime leaves nothing to restore; the
	// ledger row still records the release as handled.
	if _, err := tx.ExecContext(ctx, `
		UPDATE products SET stock = stock + $2
		WHERE id = $1
	`, rel.ProductID, rel.Quantity); err != nil {
		return false, store.Classify(err)
	}

	if err := tx.Commit(); err != nil {
		return false, store.Classify(err)
	}
	return true, nil
}

func (r *Repository) exists(ctx context.Context, productID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)
	`, productID).Scan(&exists)
	if err != nil {
		return false, store.Classify(err)
	}
	return exists, nil
}

func scanProducts(rows *sql.Rows) ([]domain.Product, error) {
	defer func() { _ = rows.Close() }()

	products := []domain.Product{}
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Stock, &p.Price, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, store.Classify(err)
	}

	return products, nil
}
