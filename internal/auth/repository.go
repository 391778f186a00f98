package auth

import (
	"context"
	"database/sql"
	"errors"

	"github.com/joao-fontenele/salesflow/internal/domain"
	"github.com/joao-fontenele/salesflow/internal/store"
)

type SellerRepository struct {
	db *sql.DB
}

func NewSellerRepository(db *sql.DB) *SellerRepository {
	return &SellerRepository{db: db}
}

func (r *SellerRepository) Create(ctx context.Context, s *domain.Seller) error {
	s.ID = store.NewID()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sellers (id, name, surname, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.ID, s.Name, s.Surname, s.Email, s.PasswordHash, s.CreatedAt)
	if _, dup := store.UniqueViolation(err); dup {
		return domain.ErrDuplicateEmail
	}
	return store.Classify(err)
}

func (r *SellerRepository) GetByEmail(ctx context.Context, email string) (*domain.Seller, error) {
	return r.getOne(ctx, `
		SELECT id, name, surname, email, password_hash, created_at
		FROM sellers
		WHERE email = $1
	`, email)
}

func (r *SellerRepository) GetByID(ctx context.Context, id string) (*domain.Seller, error) {
	if !store.ValidID(id) {
		return nil, nil
	}
	return r.getOne(ctx, `
		SELECT id, name, surname, email, password_hash, created_at
		FROM sellers
		WHERE id = $1
	`, id)
}

func (r *SellerRepository) getOne(ctx context.Context, query string, arg string) (*domain.Seller, error) {
	s := &domain.Seller{}
	err := r.db.QueryRowContext(ctx, query, arg).
		Scan(&s.ID, &s.Name, &s.Surname, &s.Email, &s.PasswordHash, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, store.Classify(err)
	}
	return s, nil
}
