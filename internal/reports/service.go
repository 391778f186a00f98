// Package reports answers ranked aggregate queries over committed orders
// and product search.
package reports

import (
	"context"
	"strconv"
	"strings"

	"github.com/joao-fontenele/salesflow/internal/domain"
)

const (
	DefaultTopClients = 10
	DefaultTopSellers = 3
	DefaultSearch     = 10

	maxLimit = 100
)

type Store interface {
	TopClients(ctx context.Context, limit int) ([]domain.ClientSpend, error)
	TopSellers(ctx context.Context, limit int) ([]domain.SellerSpend, error)
}

type ProductSearcher interface {
	Search(ctx context.Context, text string, limit int) ([]domain.Product, error)
}

type Service struct {
	store    Store
	products ProductSearcher
	cache    *Cache
}

// NewService builds the reporting engine. cache may be nil.
func NewService(store Store, products ProductSearcher, cache *Cache) *Service {
	return &Service{store: store, products: products, cache: cache}
}

func (s *Service) TopClients(ctx context.Context, limit int) ([]domain.ClientSpend, error) {
	limit, err := normalizeLimit(limit, DefaultTopClients)
	if err != nil {
		return nil, err
	}
	return cached(ctx, s.cache, "top-clients:"+strconv.Itoa(limit), func(ctx context.Context) ([]domain.ClientSpend, error) {
		return s.store.TopClients(ctx, limit)
	})
}

func (s *Service) TopSellers(ctx context.Context, limit int) ([]domain.SellerSpend, error) {
	limit, err := normalizeLimit(limit, DefaultTopSellers)
	if err != nil {
		return nil, err
	}
	return cached(ctx, s.cache, "top-sellers:"+strconv.Itoa(limit), func(ctx context.Context) ([]domain.SellerSpend, error) {
		return s.store.TopSellers(ctx, limit)
	})
}

// SearchProducts is not cached; it reflects stock as of the query.
func (s *Service) SearchProducts(ctx context.Context, text string, limit int) ([]domain.Product, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.Invalid("q", "search text is required")
	}
	limit, err := normalizeLimit(limit, DefaultSearch)
	if err != nil {
		return nil, err
	}
	return s.products.Search(ctx, text, limit)
}

// normalizeLimit maps 0 to def and rejects negative or oversized limits.
func normalizeLimit(limit, def int) (int, error) {
	switch {
	case limit == 0:
		return def, nil
	case limit < 0:
		return 0, domain.Invalid("limit", "must be positive")
	case limit > maxLimit:
		return 0, domain.Invalid("limit", "must not exceed "+strconv.Itoa(maxLimit))
	}
	return limit, nil
}
