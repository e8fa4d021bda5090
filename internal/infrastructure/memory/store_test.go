package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/warutora/stockroom/internal/domain/catalog"
	"github.com/warutora/stockroom/internal/domain/purchase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustSeed(t *testing.T, s *Store, id, lotCode string, priceCents int64, quantity int) {
	t.Helper()
	p, err := catalog.New(id, lotCode, "Product "+id, priceCents, quantity)
	require.NoError(t, err)
	require.NoError(t, s.Insert(context.Background(), p))
}

func mustPurchase(t *testing.T, id, invoiceNumber string) *purchase.Purchase {
	t.Helper()
	p, err := purchase.New(id, "buyer-1", invoiceNumber, []purchase.Line{
		{ID: id + "-l1", ProductID: "prod-a", Quantity: 1, UnitPriceCents: 100},
	})
	require.NoError(t, err)
	return p
}

func TestExecTxCommitAppliesStagedWrites(t *testing.T) {
	s := NewStore()
	mustSeed(t, s, "prod-a", "LOT-A", 100, 5)

	err := s.ExecTx(context.Background(), func(ctx context.Context, tx purchase.Tx) error {
		locked, err := tx.LockProducts(ctx, []string{"prod-a"})
		if err != nil {
			return err
		}
		require.Len(t, locked, 1)

		left, err := tx.DecrementStock(ctx, "prod-a", 2)
		if err != nil {
			return err
		}
		assert.Equal(t, 3, left)

		return tx.InsertPurchase(ctx, mustPurchase(t, "pur-1", "INV-1"))
	})
	require.NoError(t, err)

	prod, err := s.FindByID(context.Background(), "prod-a")
	require.NoError(t, err)
	assert.Equal(t, 3, prod.Quantity)

	stored, err := s.Purchases().FindByID(context.Background(), "pur-1")
	require.NoError(t, err)
	assert.Equal(t, "INV-1", stored.InvoiceNumber)
}

func TestExecTxRollbackDiscardsStagedWrites(t *testing.T) {
	s := NewStore()
	mustSeed(t, s, "prod-a", "LOT-A", 100, 5)

	boom := errors.New("boom")
	err := s.ExecTx(context.Background(), func(ctx context.Context, tx purchase.Tx) error {
		if _, err := tx.LockProducts(ctx, []string{"prod-a"}); err != nil {
			return err
		}
		if _, err := tx.DecrementStock(ctx, "prod-a", 2); err != nil {
			return err
		}
		if err := tx.InsertPurchase(ctx, mustPurchase(t, "pur-1", "INV-1")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	prod, err := s.FindByID(context.Background(), "prod-a")
	require.NoError(t, err)
	assert.Equal(t, 5, prod.Quantity)

	_, err = s.Purchases().FindByID(context.Background(), "pur-1")
	require.ErrorIs(t, err, purchase.ErrNotFound)
}

func TestLockWaitTimeoutIsTransient(t *testing.T) {
	s := NewStoreWithLockWait(50 * time.Millisecond)
	mustSeed(t, s, "prod-a", "LOT-A", 100, 5)

	holding := make(chan struct{})
	releaseHolder := make(chan struct{})
	holderDone := make(chan error, 1)

	go func() {
		holderDone <- s.ExecTx(context.Background(), func(ctx context.Context, tx purchase.Tx) error {
			if _, err := tx.LockProducts(ctx, []string{"prod-a"}); err != nil {
				return err
			}
			close(holding)
			<-releaseHolder
			return nil
		})
	}()

	<-holding

	err := s.ExecTx(context.Background(), func(ctx context.Context, tx purchase.Tx) error {
		_, err := tx.LockProducts(ctx, []string{"prod-a"})
		return err
	})
	require.ErrorIs(t, err, purchase.ErrTransientStore)

	close(releaseHolder)
	require.NoError(t, <-holderDone)
}

func TestLockProductsSkipsMissingAndInactive(t *testing.T) {
	s := NewStore()
	mustSeed(t, s, "prod-a", "LOT-A", 100, 5)
	mustSeed(t, s, "prod-b", "LOT-B", 100, 5)

	dead, err := s.FindByID(context.Background(), "prod-b")
	require.NoError(t, err)
	dead.Deactivate()
	require.NoError(t, s.Update(context.Background(), dead))

	err = s.ExecTx(context.Background(), func(ctx context.Context, tx purchase.Tx) error {
		locked, err := tx.LockProducts(ctx, []string{"prod-a", "prod-b", "prod-ghost", "prod-a", ""})
		if err != nil {
			return err
		}
		assert.Len(t, locked, 1)
		assert.Contains(t, locked, "prod-a")
		return nil
	})
	require.NoError(t, err)
}

func TestDecrementStockRequiresLock(t *testing.T) {
	s := NewStore()
	mustSeed(t, s, "prod-a", "LOT-A", 100, 5)

	err := s.ExecTx(context.Background(), func(ctx context.Context, tx purchase.Tx) error {
		_, err := tx.DecrementStock(ctx, "prod-a", 1)
		return err
	})
	require.ErrorIs(t, err, purchase.ErrFatalStore)
}

func TestDecrementStockInsufficient(t *testing.T) {
	s := NewStore()
	mustSeed(t, s, "prod-a", "LOT-A", 100, 3)

	err := s.ExecTx(context.Background(), func(ctx context.Context, tx purchase.Tx) error {
		if _, err := tx.LockProducts(ctx, []string{"prod-a"}); err != nil {
			return err
		}
		_, err := tx.DecrementStock(ctx, "prod-a", 4)
		return err
	})

	var insufficient *purchase.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 3, insufficient.Available)
	assert.Equal(t, 4, insufficient.Requested)
}

func TestCommitRejectsDuplicateInvoice(t *testing.T) {
	s := NewStore()
	mustSeed(t, s, "prod-a", "LOT-A", 100, 5)

	insert := func(purchaseID string) error {
		return s.ExecTx(context.Background(), func(ctx context.Context, tx purchase.Tx) error {
			return tx.InsertPurchase(ctx, mustPurchase(t, purchaseID, "INV-SAME"))
		})
	}

	require.NoError(t, insert("pur-1"))
	require.ErrorIs(t, insert("pur-2"), purchase.ErrInvoiceConflict)
}

func TestInvoiceExistsSeesStagedAndCommitted(t *testing.T) {
	s := NewStore()

	err := s.ExecTx(context.Background(), func(ctx context.Context, tx purchase.Tx) error {
		exists, err := tx.InvoiceExists(ctx, "INV-1")
		require.NoError(t, err)
		assert.False(t, exists)

		require.NoError(t, tx.InsertPurchase(ctx, mustPurchase(t, "pur-1", "INV-1")))

		exists, err = tx.InvoiceExists(ctx, "INV-1")
		require.NoError(t, err)
		assert.True(t, exists)
		return nil
	})
	require.NoError(t, err)

	err = s.ExecTx(context.Background(), func(ctx context.Context, tx purchase.Tx) error {
		exists, err := tx.InvoiceExists(ctx, "INV-1")
		require.NoError(t, err)
		assert.True(t, exists)
		return nil
	})
	require.NoError(t, err)
}

func TestAdjustQuantityWaitsForPurchaseLock(t *testing.T) {
	s := NewStore()
	mustSeed(t, s, "prod-a", "LOT-A", 100, 5)

	locked := make(chan struct{})
	finish := make(chan struct{})
	txDone := make(chan error, 1)

	go func() {
		txDone <- s.ExecTx(context.Background(), func(ctx context.Context, tx purchase.Tx) error {
			if _, err := tx.LockProducts(ctx, []string{"prod-a"}); err != nil {
				return err
			}
			if _, err := tx.DecrementStock(ctx, "prod-a", 1); err != nil {
				return err
			}
			close(locked)
			<-finish
			return nil
		})
	}()

	<-locked

	restocked := make(chan error, 1)
	go func() {
		_, err := s.AdjustQuantity(context.Background(), "prod-a", 10)
		restocked <- err
	}()

	close(finish)
	require.NoError(t, <-txDone)
	require.NoError(t, <-restocked)

	// Decrement and restock both land: 5 - 1 + 10.
	prod, err := s.FindByID(context.Background(), "prod-a")
	require.NoError(t, err)
	assert.Equal(t, 14, prod.Quantity)
}

func TestAdjustQuantity(t *testing.T) {
	s := NewStore()
	mustSeed(t, s, "prod-a", "LOT-A", 100, 5)
	ctx := context.Background()

	t.Run("adds to committed stock", func(t *testing.T) {
		p, err := s.AdjustQuantity(ctx, "prod-a", 3)
		require.NoError(t, err)
		assert.Equal(t, 8, p.Quantity)
	})

	t.Run("missing product", func(t *testing.T) {
		_, err := s.AdjustQuantity(ctx, "prod-ghost", 1)
		require.ErrorIs(t, err, catalog.ErrNotFound)
	})

	t.Run("inactive product", func(t *testing.T) {
		p, err := s.FindByID(ctx, "prod-a")
		require.NoError(t, err)
		p.Deactivate()
		require.NoError(t, s.Update(ctx, p))

		_, err = s.AdjustQuantity(ctx, "prod-a", 1)
		require.ErrorIs(t, err, catalog.ErrProductInactive)
	})
}

func TestUpdatePreservesCommittedQuantity(t *testing.T) {
	s := NewStore()
	mustSeed(t, s, "prod-a", "LOT-A", 100, 5)
	ctx := context.Background()

	// Read a copy, then let a purchase decrement commit behind it.
	stale, err := s.FindByID(ctx, "prod-a")
	require.NoError(t, err)

	err = s.ExecTx(ctx, func(ctx context.Context, tx purchase.Tx) error {
		if _, err := tx.LockProducts(ctx, []string{"prod-a"}); err != nil {
			return err
		}
		_, err := tx.DecrementStock(ctx, "prod-a", 2)
		return err
	})
	require.NoError(t, err)

	stale.Name = "Renamed"
	require.NoError(t, s.Update(ctx, stale))

	prod, err := s.FindByID(ctx, "prod-a")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", prod.Name)
	assert.Equal(t, 3, prod.Quantity)
}

func TestCatalogRepository(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	t.Run("insert and find", func(t *testing.T) {
		mustSeed(t, s, "prod-a", "LOT-A", 100, 5)
		p, err := s.FindByID(ctx, "prod-a")
		require.NoError(t, err)
		assert.Equal(t, "LOT-A", p.LotCode)
	})

	t.Run("lot code unique", func(t *testing.T) {
		dup, err := catalog.New("prod-x", "LOT-A", "Dup", 100, 1)
		require.NoError(t, err)
		require.ErrorIs(t, s.Insert(ctx, dup), catalog.ErrLotCodeTaken)
	})

	t.Run("list active excludes deactivated", func(t *testing.T) {
		mustSeed(t, s, "prod-b", "LOT-B", 100, 5)

		p, err := s.FindByID(ctx, "prod-b")
		require.NoError(t, err)
		p.Deactivate()
		require.NoError(t, s.Update(ctx, p))

		active, err := s.ListActive(ctx)
		require.NoError(t, err)
		for _, a := range active {
			assert.NotEqual(t, "prod-b", a.ID)
		}
	})

	t.Run("find missing", func(t *testing.T) {
		_, err := s.FindByID(ctx, "prod-ghost")
		require.ErrorIs(t, err, catalog.ErrNotFound)
	})
}

func TestPurchaseRepositoryListing(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	store := func(id, invoice, buyer string) {
		err := s.ExecTx(ctx, func(ctx context.Context, tx purchase.Tx) error {
			p, err := purchase.New(id, buyer, invoice, []purchase.Line{
				{ID: id + "-l1", ProductID: "prod-a", Quantity: 1, UnitPriceCents: 100},
			})
			if err != nil {
				return err
			}
			return tx.InsertPurchase(ctx, p)
		})
		require.NoError(t, err)
	}

	store("pur-1", "INV-1", "buyer-1")
	store("pur-2", "INV-2", "buyer-1")
	store("pur-3", "INV-3", "buyer-2")

	byBuyer, err := s.Purchases().ListByPurchaser(ctx, "buyer-1")
	require.NoError(t, err)
	require.Len(t, byBuyer, 2)

	all, err := s.Purchases().ListBetween(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := s.Purchases().ListBetween(ctx, time.Now().Add(time.Hour), time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)
}
