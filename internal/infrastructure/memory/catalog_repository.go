package memory

import (
	"context"
	"fmt"

	"github.com/warutora/stockroom/internal/domain/catalog"
)

// Catalog CRUD over the shared product table. These reads observe only
// committed state; stock mutation stays exclusive to the purchase
// transaction.

func (s *Store) Insert(ctx context.Context, product *catalog.Product) error {
	_ = ctx
	if product == nil || product.ID == "" {
		return fmt.Errorf("catalog repository: id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ID]; exists {
		return fmt.Errorf("catalog repository: duplicate product id %s", product.ID)
	}
	if _, exists := s.lotCodes[product.LotCode]; exists {
		return catalog.ErrLotCodeTaken
	}

	s.products[product.ID] = product.Clone()
	s.lotCodes[product.LotCode] = product.ID
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*catalog.Product, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	prod, ok := s.products[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return prod.Clone(), nil
}

func (s *Store) ListActive(ctx context.Context) ([]*catalog.Product, error) {
	_ = ctx

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*catalog.Product, 0, len(s.products))
	for _, prod := range s.products {
		if !prod.Active {
			continue
		}
		out = append(out, prod.Clone())
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, product *catalog.Product) error {
	_ = ctx
	if product == nil || product.ID == "" {
		return fmt.Errorf("catalog repository: id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return catalog.ErrNotFound
	}
	if existing.LotCode != product.LotCode {
		// Lot codes are immutable after creation.
		return catalog.ErrLotCodeTaken
	}

	// Quantity is never written here: the caller's copy may predate a
	// purchase commit. Stock changes go through AdjustQuantity or the
	// purchase transaction.
	next := product.Clone()
	next.Quantity = existing.Quantity
	s.products[product.ID] = next
	return nil
}

// AdjustQuantity applies a relative stock change under the product's row
// lock, so a restock can never overwrite an in-flight purchase decrement.
func (s *Store) AdjustQuantity(ctx context.Context, id string, delta int) (*catalog.Product, error) {
	if id == "" {
		return nil, catalog.ErrNotFound
	}

	if err := s.acquire(ctx, id); err != nil {
		return nil, err
	}
	defer s.release(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	prod, ok := s.products[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	if !prod.Active {
		return nil, catalog.ErrProductInactive
	}
	if err := prod.Restock(delta); err != nil {
		return nil, err
	}
	return prod.Clone(), nil
}
