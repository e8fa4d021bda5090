package catalog

import "context"

type Repository interface {
	Insert(ctx context.Context, product *Product) error
	FindByID(ctx context.Context, id string) (*Product, error)
	ListActive(ctx context.Context) ([]*Product, error)

	// Update rewrites descriptive fields and the active flag. It never
	// touches quantity: stock moves only through AdjustQuantity or the
	// purchase transaction, both of which respect the per-product lock.
	Update(ctx context.Context, product *Product) error

	// AdjustQuantity applies a relative stock change atomically against
	// current committed state and returns the updated product. delta must
	// be positive; only the purchase transaction may reduce stock.
	AdjustQuantity(ctx context.Context, id string, delta int) (*Product, error)
}
