package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"github.com/warutora/stockroom/internal/domain/catalog"
)

// CatalogRepository is the CRUD surface over products. It never decrements
// stock; that path is exclusive to the purchase transaction.
type CatalogRepository struct {
	s *Store
}

func (s *Store) Catalog() *CatalogRepository {
	return &CatalogRepository{s: s}
}

func (r *CatalogRepository) Insert(ctx context.Context, product *catalog.Product) error {
	_, err := r.s.pool.Exec(ctx, `
		INSERT INTO products (id, lot_code, name, unit_price_cents, quantity, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, product.ID, product.LotCode, product.Name, product.UnitPriceCents, product.Quantity, product.Active, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation && pgErr.ConstraintName == "products_lot_code_key" {
			return catalog.ErrLotCodeTaken
		}
		return errors.Wrap(err, "insert product")
	}
	return nil
}

func (r *CatalogRepository) FindByID(ctx context.Context, id string) (*catalog.Product, error) {
	var p catalog.Product
	err := r.s.pool.QueryRow(ctx, `
		SELECT id, lot_code, name, unit_price_cents, quantity, active, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.LotCode, &p.Name, &p.UnitPriceCents, &p.Quantity, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, errors.Wrap(err, "find product")
	}
	return &p, nil
}

func (r *CatalogRepository) ListActive(ctx context.Context) ([]*catalog.Product, error) {
	rows, err := r.s.pool.Query(ctx, `
		SELECT id, lot_code, name, unit_price_cents, quantity, active, created_at, updated_at
		FROM products
		WHERE active
		ORDER BY lot_code
	`)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	defer rows.Close()

	var out []*catalog.Product
	for rows.Next() {
		var p catalog.Product
		if err := rows.Scan(&p.ID, &p.LotCode, &p.Name, &p.UnitPriceCents, &p.Quantity, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan product")
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate products")
	}
	return out, nil
}

// Update rewrites descriptive fields and the active flag. Lot codes are
// immutable, so the update is keyed on both id and lot_code; a mismatch
// updates nothing. Quantity is never written here: the caller's copy may
// predate a purchase commit.
func (r *CatalogRepository) Update(ctx context.Context, product *catalog.Product) error {
	tag, err := r.s.pool.Exec(ctx, `
		UPDATE products
		SET name = $3, unit_price_cents = $4, active = $5, updated_at = $6
		WHERE id = $1 AND lot_code = $2
	`, product.ID, product.LotCode, product.Name, product.UnitPriceCents, product.Active, product.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "update product")
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// AdjustQuantity applies a relative stock change in a single statement, so
// it serializes against FOR UPDATE row locks held by in-flight purchase
// transactions instead of overwriting their committed decrements.
func (r *CatalogRepository) AdjustQuantity(ctx context.Context, id string, delta int) (*catalog.Product, error) {
	if delta <= 0 {
		return nil, catalog.ErrInvalidQuantity
	}

	var p catalog.Product
	err := r.s.pool.QueryRow(ctx, `
		UPDATE products
		SET quantity = quantity + $2, updated_at = now()
		WHERE id = $1 AND active
		RETURNING id, lot_code, name, unit_price_cents, quantity, active, created_at, updated_at
	`, id, delta).Scan(&p.ID, &p.LotCode, &p.Name, &p.UnitPriceCents, &p.Quantity, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Distinguish a missing product from a retired one.
			if _, ferr := r.FindByID(ctx, id); ferr != nil {
				return nil, ferr
			}
			return nil, catalog.ErrProductInactive
		}
		return nil, mapError(errors.Wrap(err, "adjust quantity"))
	}
	return &p, nil
}
