package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/warutora/stockroom/internal/domain/purchase"
)

// PurchaseRepository is the read side of the purchase record store.
type PurchaseRepository struct {
	s *Store
}

func (s *Store) Purchases() *PurchaseRepository {
	return &PurchaseRepository{s: s}
}

func (r *PurchaseRepository) FindByID(ctx context.Context, id string) (*purchase.Purchase, error) {
	var p purchase.Purchase
	err := r.s.pool.QueryRow(ctx, `
		SELECT id, purchaser_id, invoice_number, total_cents, status, created_at
		FROM purchases
		WHERE id = $1
	`, id).Scan(&p.ID, &p.PurchaserID, &p.InvoiceNumber, &p.TotalCents, &p.Status, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, purchase.ErrNotFound
		}
		return nil, errors.Wrap(err, "find purchase")
	}

	lines, err := r.linesFor(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.Lines = lines
	return &p, nil
}

func (r *PurchaseRepository) ListByPurchaser(ctx context.Context, purchaserID string) ([]*purchase.Purchase, error) {
	return r.list(ctx, `
		SELECT id, purchaser_id, invoice_number, total_cents, status, created_at
		FROM purchases
		WHERE purchaser_id = $1
		ORDER BY created_at DESC, id
	`, purchaserID)
}

func (r *PurchaseRepository) ListBetween(ctx context.Context, from, to time.Time) ([]*purchase.Purchase, error) {
	return r.list(ctx, `
		SELECT id, purchaser_id, invoice_number, total_cents, status, created_at
		FROM purchases
		WHERE created_at BETWEEN $1 AND $2
		ORDER BY created_at DESC, id
	`, from, to)
}

func (r *PurchaseRepository) list(ctx context.Context, query string, args ...any) ([]*purchase.Purchase, error) {
	rows, err := r.s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list purchases")
	}
	defer rows.Close()

	var out []*purchase.Purchase
	for rows.Next() {
		var p purchase.Purchase
		if err := rows.Scan(&p.ID, &p.PurchaserID, &p.InvoiceNumber, &p.TotalCents, &p.Status, &p.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan purchase")
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate purchases")
	}

	for _, p := range out {
		lines, err := r.linesFor(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		p.Lines = lines
	}
	return out, nil
}

func (r *PurchaseRepository) linesFor(ctx context.Context, purchaseID string) ([]purchase.Line, error) {
	rows, err := r.s.pool.Query(ctx, `
		SELECT id, purchase_id, product_id, quantity, unit_price_cents, subtotal_cents
		FROM purchase_lines
		WHERE purchase_id = $1
		ORDER BY id
	`, purchaseID)
	if err != nil {
		return nil, errors.Wrap(err, "list purchase lines")
	}
	defer rows.Close()

	var lines []purchase.Line
	for rows.Next() {
		var l purchase.Line
		if err := rows.Scan(&l.ID, &l.PurchaseID, &l.ProductID, &l.Quantity, &l.UnitPriceCents, &l.SubtotalCents); err != nil {
			return nil, errors.Wrap(err, "scan purchase line")
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate purchase lines")
	}
	return lines, nil
}
