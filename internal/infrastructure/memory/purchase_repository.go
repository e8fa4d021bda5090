package memory

import (
	"context"
	"sort"
	"time"

	"github.com/warutora/stockroom/internal/domain/purchase"
)

// PurchaseRepository is the read side of the purchase record store.
// Results are ordered newest first.
type PurchaseRepository struct {
	s *Store
}

// Purchases exposes the read-side view over the store's purchase records.
func (s *Store) Purchases() *PurchaseRepository {
	return &PurchaseRepository{s: s}
}

func (r *PurchaseRepository) FindByID(ctx context.Context, id string) (*purchase.Purchase, error) {
	_ = ctx

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.purchases[id]
	if !ok {
		return nil, purchase.ErrNotFound
	}
	return p.Clone(), nil
}

func (r *PurchaseRepository) ListByPurchaser(ctx context.Context, purchaserID string) ([]*purchase.Purchase, error) {
	_ = ctx

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*purchase.Purchase
	for _, p := range r.s.purchases {
		if p.PurchaserID == purchaserID {
			out = append(out, p.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *PurchaseRepository) ListBetween(ctx context.Context, from, to time.Time) ([]*purchase.Purchase, error) {
	_ = ctx

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*purchase.Purchase
	for _, p := range r.s.purchases {
		if p.CreatedAt.Before(from) || p.CreatedAt.After(to) {
			continue
		}
		out = append(out, p.Clone())
	}
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(ps []*purchase.Purchase) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].ID < ps[j].ID
		}
		return ps[i].CreatedAt.After(ps[j].CreatedAt)
	})
}
