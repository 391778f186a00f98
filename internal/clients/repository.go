package clients

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/joao-fontenele/salesflow/internal/domain"
	"github.com/joao-fontenele/salesflow/internal/store"
)

const clientColumns = `id, name, surname, email, phone, company, seller_id, created_at`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, c *domain.Client) error {
	c.ID = store.NewID()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO clients (id, name, surname, email, phone, company, seller_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.ID, c.Name, c.Surname, c.Email, c.Phone, c.Company, c.SellerID, c.CreatedAt)
	return uniqueAsExists(err)
}

func (r *Repository) Get(ctx context.Context, id string) (*domain.Client, error) {
	if !store.ValidID(id) {
		return nil, nil
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id)
	c, err := scanClient(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, store.Classify(err)
	}
	return c, nil
}

func (r *Repository) EmailTaken(ctx context.Context, email, exceptID string) (bool, error) {
	var taken bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM clients WHERE email = $1 AND id::text <> $2)
	`, email, exceptID).Scan(&taken)
	if err != nil {
		return false, store.Classify(err)
	}
	return taken, nil
}

func (r *Repository) ListAll(ctx context.Context) ([]domain.Client, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY created_at, id`)
	if err != nil {
		return nil, store.Classify(err)
	}
	return scanClients(rows)
}

func (r *Repository) ListBySeller(ctx context.Context, sellerID string) ([]domain.Client, error) {
	if !store.ValidID(sellerID) {
		return []domain.Client{}, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+clientColumns+` FROM clients
		WHERE seller_id = $1
		ORDER BY created_at, id
	`, sellerID)
	if err != nil {
		return nil, store.Classify(err)
	}
	return scanClients(rows)
}

// Update rewrites the mutable fields. seller_id is deliberately absent from
// the statement.
func (r *Repository) Update(ctx context.Context, c *domain.Client) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE clients SET name = $2, surname = $3, email = $4, phone = $5, company = $6
		WHERE id = $1
	`, c.ID, c.Name, c.Surname, c.Email, c.Phone, c.Company)
	return uniqueAsExists(err)
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM clients WHERE id = $1`, id)
	if store.ForeignKeyViolation(err) {
		return domain.Invalid("client", "still referenced by orders")
	}
	return store.Classify(err)
}

func uniqueAsExists(err error) error {
	if constraint, dup := store.UniqueViolation(err); dup {
		return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, constraint)
	}
	return store.Classify(err)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanClient(row scanner) (*domain.Client, error) {
	c := &domain.Client{}
	var phone sql.NullString
	if err := row.Scan(&c.ID, &c.Name, &c.Surname, &c.Email, &phone, &c.Company, &c.SellerID, &c.CreatedAt); err != nil {
		return nil, err
	}
	if phone.Valid {
		c.Phone = &phone.String
	}
	return c, nil
}

func scanClients(rows *sql.Rows) ([]domain.Client, error) {
	defer func() { _ = rows.Close() }()

	clients := []domain.Client{}
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, store.Classify(err)
	}
	return clients, nil
}
