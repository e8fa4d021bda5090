package purchase

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound                = errors.New("purchase: not found")
	ErrInvoiceConflict         = errors.New("purchase: invoice number already exists")
	ErrInvalidStatusTransition = errors.New("purchase: invalid status transition")

	// ErrSequencingExhausted means invoice candidate generation collided on
	// every allowed attempt. Fatal for that purchase attempt; the caller may
	// resubmit the cart.
	ErrSequencingExhausted = errors.New("purchase: invoice sequencing exhausted")

	// ErrTransientStore covers lock-wait timeouts and deadlocks. The whole
	// operation was rolled back and is safe to retry.
	ErrTransientStore = errors.New("purchase: transient storage failure")

	// ErrFatalStore covers unexpected storage errors; not retried automatically.
	ErrFatalStore = errors.New("purchase: storage failure")
)

// ValidationError reports a malformed cart. It is raised before any
// transaction is opened.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "purchase: invalid request: " + e.Reason
}

// ProductsNotFoundError reports cart references to absent or inactive
// products. The transaction was rolled back with no locks retained.
type ProductsNotFoundError struct {
	MissingIDs []string
}

func (e *ProductsNotFoundError) Error() string {
	return fmt.Sprintf("purchase: products not found or inactive: %s", strings.Join(e.MissingIDs, ", "))
}

// InsufficientStockError reports the first cart line whose requested
// quantity exceeds the locked product's available quantity. The cart is
// never partially fulfilled.
type InsufficientStockError struct {
	ProductID string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("purchase: insufficient stock for product %s: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}
