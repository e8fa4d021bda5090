package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warutora/stockroom/internal/domain/catalog"
	"github.com/warutora/stockroom/internal/domain/purchase"
)

const defaultLockWait = 3 * time.Second

// Store keeps products and purchase records in process memory while
// honouring the same transactional contract as the SQL-backed store:
// per-product row locks with a bounded wait, staged writes that become
// visible only on commit, and nothing left behind on rollback.
type Store struct {
	mu        sync.RWMutex
	products  map[string]*catalog.Product
	purchases map[string]*purchase.Purchase
	invoices  map[string]string // invoice number -> purchase id
	lotCodes  map[string]string // lot code -> product id

	lockMu   sync.Mutex
	locks    map[string]chan struct{}
	lockWait time.Duration
}

func NewStore() *Store {
	return NewStoreWithLockWait(defaultLockWait)
}

func NewStoreWithLockWait(lockWait time.Duration) *Store {
	if lockWait <= 0 {
		lockWait = defaultLockWait
	}
	return &Store{
		products:  make(map[string]*catalog.Product),
		purchases: make(map[string]*purchase.Purchase),
		invoices:  make(map[string]string),
		lotCodes:  make(map[string]string),
		locks:     make(map[string]chan struct{}),
		lockWait:  lockWait,
	}
}

// ExecTx runs fn inside one unit of work. Row locks taken by the
// transaction are held until the staged writes are applied (commit) or
// discarded (rollback), so a concurrent transaction can never observe a
// half-applied purchase.
func (s *Store) ExecTx(ctx context.Context, fn func(ctx context.Context, tx purchase.Tx) error) error {
	t := &storeTx{
		store:     s,
		locked:    make(map[string]bool),
		stagedQty: make(map[string]int),
	}
	defer t.releaseLocks()

	if err := fn(ctx, t); err != nil {
		return err
	}
	return s.commit(t)
}

func (s *Store) commit(t *storeTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p := t.stagedPurchase; p != nil {
		if _, exists := s.invoices[p.InvoiceNumber]; exists {
			return fmt.Errorf("%w: %s", purchase.ErrInvoiceConflict, p.InvoiceNumber)
		}
		if _, exists := s.purchases[p.ID]; exists {
			return fmt.Errorf("%w: duplicate purchase id %s", purchase.ErrFatalStore, p.ID)
		}
	}

	now := time.Now().UTC()
	for id, qty := range t.stagedQty {
		prod, ok := s.products[id]
		if !ok {
			return fmt.Errorf("%w: product %s vanished before commit", purchase.ErrFatalStore, id)
		}
		prod.Quantity = qty
		prod.UpdatedAt = now
	}

	if p := t.stagedPurchase; p != nil {
		s.purchases[p.ID] = p.Clone()
		s.invoices[p.InvoiceNumber] = p.ID
	}
	return nil
}

// lockFor returns the lock channel for a product id, creating it on demand.
func (s *Store) lockFor(id string) chan struct{} {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	l, ok := s.locks[id]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[id] = l
	}
	return l
}

// acquire takes the row lock for one product, waiting at most lockWait.
// Timing out maps to the transient failure kind so callers know the whole
// operation is safe to retry.
func (s *Store) acquire(ctx context.Context, id string) error {
	timer := time.NewTimer(s.lockWait)
	defer timer.Stop()

	select {
	case s.lockFor(id) <- struct{}{}:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: lock wait timeout on product %s", purchase.ErrTransientStore, id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) release(id string) {
	select {
	case <-s.lockFor(id):
	default:
	}
}

type storeTx struct {
	store          *Store
	locked         map[string]bool
	lockedOrder    []string
	stagedQty      map[string]int // product id -> new quantity
	stagedPurchase *purchase.Purchase
}

func (t *storeTx) releaseLocks() {
	for i := len(t.lockedOrder) - 1; i >= 0; i-- {
		t.store.release(t.lockedOrder[i])
	}
	t.lockedOrder = nil
	t.locked = make(map[string]bool)
}

// LockProducts acquires row locks in ascending id order so two
// transactions over overlapping product sets can never deadlock.
func (t *storeTx) LockProducts(ctx context.Context, ids []string) (map[string]*catalog.Product, error) {
	distinct := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		distinct = append(distinct, id)
	}
	sort.Strings(distinct)

	for _, id := range distinct {
		if t.locked[id] {
			continue
		}
		if err := t.store.acquire(ctx, id); err != nil {
			return nil, err
		}
		t.locked[id] = true
		t.lockedOrder = append(t.lockedOrder, id)
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	found := make(map[string]*catalog.Product, len(distinct))
	for _, id := range distinct {
		prod, ok := t.store.products[id]
		if !ok || !prod.Active {
			continue
		}
		found[id] = prod.Clone()
	}
	return found, nil
}

func (t *storeTx) DecrementStock(ctx context.Context, productID string, quantity int) (int, error) {
	_ = ctx
	if !t.locked[productID] {
		return 0, fmt.Errorf("%w: decrement on unlocked product %s", purchase.ErrFatalStore, productID)
	}

	current, ok := t.stagedQty[productID]
	if !ok {
		t.store.mu.RLock()
		prod, exists := t.store.products[productID]
		if !exists {
			t.store.mu.RUnlock()
			return 0, catalog.ErrNotFound
		}
		current = prod.Quantity
		t.store.mu.RUnlock()
	}

	if quantity > current {
		return 0, &purchase.InsufficientStockError{
			ProductID: productID,
			Available: current,
			Requested: quantity,
		}
	}

	next := current - quantity
	t.stagedQty[productID] = next
	return next, nil
}

func (t *storeTx) InvoiceExists(ctx context.Context, invoiceNumber string) (bool, error) {
	_ = ctx
	if p := t.stagedPurchase; p != nil && p.InvoiceNumber == invoiceNumber {
		return true, nil
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	_, exists := t.store.invoices[invoiceNumber]
	return exists, nil
}

func (t *storeTx) InsertPurchase(ctx context.Context, p *purchase.Purchase) error {
	_ = ctx
	if p == nil || p.ID == "" {
		return fmt.Errorf("%w: purchase id is required", purchase.ErrFatalStore)
	}
	if t.stagedPurchase != nil {
		return fmt.Errorf("%w: transaction already carries purchase %s", purchase.ErrFatalStore, t.stagedPurchase.ID)
	}
	t.stagedPurchase = p.Clone()
	return nil
}
