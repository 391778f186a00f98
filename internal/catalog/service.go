package catalog

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/joao-fontenele/salesflow/internal/domain"
)

// Store is the persistence the catalog needs. *Repository implements it.
type Store interface {
	List(ctx context.Context) ([]domain.Product, error)
	Get(ctx context.Context, id string) (*domain.Product, error)
	Create(ctx context.Context, p *domain.Product) error
	Update(ctx context.Context, p *domain.Product) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
}

type ProductInput struct {
	Name  string `json:"name"`
	Stock int    `json:"stock"`
	Price int64  `json:"price"`
}

func (in ProductInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return domain.Invalid("name", "required")
	}
	if in.Stock < 0 {
		return domain.Invalid("stock", "must not be negative")
	}
	if in.Price < 0 {
		return domain.Invalid("price", "must not be negative")
	}
	return nil
}

// Service is the administrative face of the catalog. Direct stock edits made
// here bypass order reservations and are meant for corrections only.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

func (s *Service) List(ctx context.Context) ([]domain.Product, error) {
	return s.store.List(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Product, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.NewNotFound("product", id)
	}
	return p, nil
}

func (s *Service) Create(ctx context.Context, in ProductInput) (*domain.Product, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	p := &domain.Product{
		Name:      strings.TrimSpace(in.Name),
		Stock:     in.Stock,
		Price:     in.Price,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("product created", "product_id", p.ID, "stock", p.Stock)
	return p, nil
}

func (s *Service) Update(ctx context.Context, id string, in ProductInput) (*domain.Product, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	p := &domain.Product{ID: id, Name: strings.TrimSpace(in.Name), Stock: in.Stock, Price: in.Price}
	ok, err := s.store.Update(ctx, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.NewNotFound("product", id)
	}

	s.logger.Warn("product overwritten", "product_id", id, "stock", p.Stock, "price", p.Price)
	return p, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	ok, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return domain.NewNotFound("product", id)
	}

	s.logger.Info("product deleted", "product_id", id)
	return nil
}
