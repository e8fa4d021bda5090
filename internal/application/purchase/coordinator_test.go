package purchase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/warutora/stockroom/internal/domain/catalog"
	domoutbox "github.com/warutora/stockroom/internal/domain/outbox"
	domain "github.com/warutora/stockroom/internal/domain/purchase"
	"github.com/warutora/stockroom/internal/infrastructure/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seqIDGenerator struct{ n atomic.Int64 }

func (g *seqIDGenerator) NewID() string {
	return fmt.Sprintf("id-%04d", g.n.Add(1))
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []domoutbox.Event
}

func (p *capturingPublisher) Publish(ctx context.Context, e domoutbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *capturingPublisher) published() []domoutbox.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domoutbox.Event, len(p.events))
	copy(out, p.events)
	return out
}

func seedProduct(t *testing.T, store *memory.Store, id, lotCode string, priceCents int64, quantity int) {
	t.Helper()
	p, err := catalog.New(id, lotCode, "Product "+id, priceCents, quantity)
	require.NoError(t, err)
	require.NoError(t, store.Insert(context.Background(), p))
}

func productQuantity(t *testing.T, store *memory.Store, id string) int {
	t.Helper()
	p, err := store.FindByID(context.Background(), id)
	require.NoError(t, err)
	return p.Quantity
}

func newTestCoordinator(store *memory.Store, publisher domoutbox.Publisher) *Coordinator {
	return NewCoordinator(store, &seqIDGenerator{}, nil, publisher, nil)
}

func TestExecuteCommitsPurchase(t *testing.T) {
	store := memory.NewStore()
	seedProduct(t, store, "prod-a", "LOT-A", 1000, 5)
	seedProduct(t, store, "prod-b", "LOT-B", 500, 5)

	pub := &capturingPublisher{}
	c := newTestCoordinator(store, pub)

	res, err := c.Execute(context.Background(), Input{
		PurchaserID: "buyer-1",
		Cart: []CartLine{
			{ProductID: "prod-a", Quantity: 2},
			{ProductID: "prod-b", Quantity: 1},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Purchase)

	p := res.Purchase
	assert.Equal(t, domain.StatusCompleted, p.Status)
	assert.Equal(t, int64(2500), p.TotalCents)
	assert.Regexp(t, invoicePattern, p.InvoiceNumber)
	require.Len(t, p.Lines, 2)
	assert.Equal(t, int64(2000), p.Lines[0].SubtotalCents)
	assert.Equal(t, int64(500), p.Lines[1].SubtotalCents)

	assert.Equal(t, 3, productQuantity(t, store, "prod-a"))
	assert.Equal(t, 4, productQuantity(t, store, "prod-b"))

	stored, err := store.Purchases().FindByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.InvoiceNumber, stored.InvoiceNumber)
	assert.Equal(t, p.TotalCents, stored.TotalCents)
	require.Len(t, stored.Lines, 2)

	events := pub.published()
	require.Len(t, events, 1)
	evt, ok := events[0].(domain.CompletedEvent)
	require.True(t, ok)
	assert.Equal(t, p.ID, evt.PurchaseID)
	assert.ElementsMatch(t, []domain.RemainingStock{
		{ProductID: "prod-a", Quantity: 3},
		{ProductID: "prod-b", Quantity: 4},
	}, evt.Remaining)
}

func TestExecutePriceSnapshotIgnoresLaterCatalogEdits(t *testing.T) {
	store := memory.NewStore()
	seedProduct(t, store, "prod-a", "LOT-A", 750, 10)

	c := newTestCoordinator(store, nil)

	res, err := c.Execute(context.Background(), Input{
		PurchaserID: "buyer-1",
		Cart:        []CartLine{{ProductID: "prod-a", Quantity: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(750), res.Purchase.Lines[0].UnitPriceCents)
	assert.Equal(t, int64(1500), res.Purchase.TotalCents)

	// Edit the catalog price afterwards; the stored record keeps the snapshot.
	prod, err := store.FindByID(context.Background(), "prod-a")
	require.NoError(t, err)
	prod.UnitPriceCents = 9999
	require.NoError(t, store.Update(context.Background(), prod))

	stored, err := store.Purchases().FindByID(context.Background(), res.Purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(750), stored.Lines[0].UnitPriceCents)
}

func TestExecuteInsufficientStock(t *testing.T) {
	store := memory.NewStore()
	seedProduct(t, store, "prod-a", "LOT-A", 1000, 3)

	c := newTestCoordinator(store, nil)

	_, err := c.Execute(context.Background(), Input{
		PurchaserID: "buyer-1",
		Cart:        []CartLine{{ProductID: "prod-a", Quantity: 10}},
	})

	var insufficient *domain.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "prod-a", insufficient.ProductID)
	assert.Equal(t, 3, insufficient.Available)
	assert.Equal(t, 10, insufficient.Requested)

	assert.Equal(t, 3, productQuantity(t, store, "prod-a"))
}

func TestExecuteRollsBackWholeCart(t *testing.T) {
	store := memory.NewStore()
	seedProduct(t, store, "prod-a", "LOT-A", 1000, 5)
	seedProduct(t, store, "prod-b", "LOT-B", 500, 1)

	c := newTestCoordinator(store, nil)

	_, err := c.Execute(context.Background(), Input{
		PurchaserID: "buyer-1",
		Cart: []CartLine{
			{ProductID: "prod-a", Quantity: 2},
			{ProductID: "prod-b", Quantity: 4},
		},
	})

	var insufficient *domain.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "prod-b", insufficient.ProductID)

	// Nothing, including the satisfiable line, was applied.
	assert.Equal(t, 5, productQuantity(t, store, "prod-a"))
	assert.Equal(t, 1, productQuantity(t, store, "prod-b"))

	purchases, err := store.Purchases().ListByPurchaser(context.Background(), "buyer-1")
	require.NoError(t, err)
	assert.Empty(t, purchases)
}

func TestExecuteProductsNotFound(t *testing.T) {
	store := memory.NewStore()
	seedProduct(t, store, "prod-a", "LOT-A", 1000, 5)

	inactive, err := catalog.New("prod-dead", "LOT-D", "Retired", 100, 5)
	require.NoError(t, err)
	require.NoError(t, store.Insert(context.Background(), inactive))
	require.NoError(t, func() error {
		p, err := store.FindByID(context.Background(), "prod-dead")
		if err != nil {
			return err
		}
		p.Deactivate()
		return store.Update(context.Background(), p)
	}())

	c := newTestCoordinator(store, nil)

	_, err = c.Execute(context.Background(), Input{
		PurchaserID: "buyer-1",
		Cart: []CartLine{
			{ProductID: "prod-a", Quantity: 1},
			{ProductID: "prod-ghost", Quantity: 1},
			{ProductID: "prod-dead", Quantity: 1},
		},
	})

	var notFound *domain.ProductsNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.ElementsMatch(t, []string{"prod-ghost", "prod-dead"}, notFound.MissingIDs)

	assert.Equal(t, 5, productQuantity(t, store, "prod-a"))
}

func TestExecuteValidation(t *testing.T) {
	store := memory.NewStore()
	c := newTestCoordinator(store, nil)

	cases := []struct {
		name  string
		input Input
	}{
		{"missing purchaser", Input{Cart: []CartLine{{ProductID: "p", Quantity: 1}}}},
		{"empty cart", Input{PurchaserID: "buyer-1"}},
		{"blank product id", Input{PurchaserID: "buyer-1", Cart: []CartLine{{Quantity: 1}}}},
		{"zero quantity", Input{PurchaserID: "buyer-1", Cart: []CartLine{{ProductID: "p", Quantity: 0}}}},
		{"negative quantity", Input{PurchaserID: "buyer-1", Cart: []CartLine{{ProductID: "p", Quantity: -1}}}},
		{"duplicate product", Input{PurchaserID: "buyer-1", Cart: []CartLine{
			{ProductID: "p", Quantity: 1},
			{ProductID: "p", Quantity: 2},
		}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Execute(context.Background(), tc.input)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

func TestExecuteConcurrentPurchasesNeverOversell(t *testing.T) {
	const stock = 5
	const attempts = 20

	store := memory.NewStore()
	seedProduct(t, store, "prod-a", "LOT-A", 1000, stock)

	c := newTestCoordinator(store, nil)

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	results := make([]*Result, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Execute(context.Background(), Input{
				PurchaserID: fmt.Sprintf("buyer-%d", i),
				Cart:        []CartLine{{ProductID: "prod-a", Quantity: 1}},
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	invoices := make(map[string]bool)
	for i := 0; i < attempts; i++ {
		if errs[i] == nil {
			succeeded++
			inv := results[i].Purchase.InvoiceNumber
			assert.False(t, invoices[inv], "invoice %s issued twice", inv)
			invoices[inv] = true
			continue
		}
		var insufficient *domain.InsufficientStockError
		require.ErrorAs(t, errs[i], &insufficient)
	}

	assert.Equal(t, stock, succeeded)
	assert.Equal(t, 0, productQuantity(t, store, "prod-a"))
}
