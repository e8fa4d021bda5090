package purchase

import (
	"context"
	"time"

	"github.com/warutora/stockroom/internal/domain/catalog"
)

// Store opens the single unit of work the purchase transaction runs in.
// When fn returns an error the unit is rolled back and nothing it staged
// (stock decrements, inserted rows) is ever visible to other transactions.
type Store interface {
	ExecTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the transaction-scoped write surface: the stock ledger plus the
// purchase record writes. Implementations map lock-wait timeouts and
// deadlocks to ErrTransientStore.
type Tx interface {
	// LockProducts takes an exclusive lock on every listed product row for
	// the remainder of the transaction, acquiring locks in ascending id
	// order. Absent or inactive products are omitted from the result; the
	// caller derives the missing set.
	LockProducts(ctx context.Context, ids []string) (map[string]*catalog.Product, error)

	// DecrementStock reduces a product's available quantity, returning the
	// new quantity. Must only be called on a product locked by LockProducts
	// in this same transaction. Fails with InsufficientStockError when the
	// amount exceeds the current quantity.
	DecrementStock(ctx context.Context, productID string, quantity int) (int, error)

	// InvoiceExists reports whether an invoice number is already committed
	// or staged by this transaction.
	InvoiceExists(ctx context.Context, invoiceNumber string) (bool, error)

	// InsertPurchase stages the purchase header and all of its lines.
	InsertPurchase(ctx context.Context, p *Purchase) error
}

// Repository is the read side of the purchase record store.
type Repository interface {
	FindByID(ctx context.Context, id string) (*Purchase, error)
	ListByPurchaser(ctx context.Context, purchaserID string) ([]*Purchase, error)
	ListBetween(ctx context.Context, from, to time.Time) ([]*Purchase, error)
}
