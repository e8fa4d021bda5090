package purchase

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/warutora/stockroom/internal/domain/catalog"
	domain "github.com/warutora/stockroom/internal/domain/purchase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	exists  func(invoiceNumber string) bool
	lookups int
}

func (f *fakeTx) LockProducts(ctx context.Context, ids []string) (map[string]*catalog.Product, error) {
	return nil, nil
}

func (f *fakeTx) DecrementStock(ctx context.Context, productID string, quantity int) (int, error) {
	return 0, nil
}

func (f *fakeTx) InvoiceExists(ctx context.Context, invoiceNumber string) (bool, error) {
	f.lookups++
	if f.exists == nil {
		return false, nil
	}
	return f.exists(invoiceNumber), nil
}

func (f *fakeTx) InsertPurchase(ctx context.Context, p *domain.Purchase) error {
	return nil
}

var invoicePattern = regexp.MustCompile(`^INV-\d{14}-[0-9A-F]{8}$`)

func TestSequencerNext(t *testing.T) {
	s := NewSequencer(nil)
	s.now = func() time.Time {
		return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	}

	tx := &fakeTx{}
	got, err := s.Next(context.Background(), tx)
	require.NoError(t, err)

	assert.Regexp(t, invoicePattern, got)
	assert.Contains(t, got, "INV-20260102030405-")
	assert.Equal(t, 1, tx.lookups)
}

func TestSequencerRetriesOnCollision(t *testing.T) {
	s := NewSequencer(nil)

	collisions := 0
	tx := &fakeTx{exists: func(string) bool {
		if collisions < 2 {
			collisions++
			return true
		}
		return false
	}}

	got, err := s.Next(context.Background(), tx)
	require.NoError(t, err)
	assert.Regexp(t, invoicePattern, got)
	assert.Equal(t, 3, tx.lookups)
}

func TestSequencerExhaustsAfterBoundedAttempts(t *testing.T) {
	s := NewSequencer(nil)

	tx := &fakeTx{exists: func(string) bool { return true }}
	_, err := s.Next(context.Background(), tx)

	require.ErrorIs(t, err, domain.ErrSequencingExhausted)
	assert.Equal(t, maxInvoiceAttempts, tx.lookups)
}
