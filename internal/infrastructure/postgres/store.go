package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/warutora/stockroom/internal/domain/catalog"
	"github.com/warutora/stockroom/internal/domain/purchase"
	"github.com/warutora/stockroom/internal/observability"
)

const defaultLockWait = 3 * time.Second

// Store implements the purchase store over PostgreSQL. Row locks come from
// SELECT ... FOR UPDATE; a per-transaction lock_timeout bounds the wait so
// contention surfaces as the transient failure kind instead of hanging.
type Store struct {
	pool     *pgxpool.Pool
	lockWait time.Duration
	log      observability.Logger
}

func NewStore(pool *pgxpool.Pool, lockWait time.Duration, logger observability.Logger) *Store {
	if lockWait <= 0 {
		lockWait = defaultLockWait
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Store{
		pool:     pool,
		lockWait: lockWait,
		log:      logger.With(observability.F("component", "postgres_store")),
	}
}

// ExecTx runs fn inside one read-committed transaction. Row locks taken by
// fn are held until commit or rollback.
func (s *Store) ExecTx(ctx context.Context, fn func(ctx context.Context, tx purchase.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return mapError(errors.Wrap(err, "begin transaction"))
	}
	defer func() {
		// No-op when already committed.
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockWait.Milliseconds())); err != nil {
		return mapError(errors.Wrap(err, "set lock timeout"))
	}

	if err := fn(ctx, &storeTx{tx: tx, locked: make(map[string]bool)}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapError(errors.Wrap(err, "commit transaction"))
	}
	return nil
}

type storeTx struct {
	tx     pgx.Tx
	locked map[string]bool
}

// LockProducts locks matching rows with FOR UPDATE, ordered by id so
// transactions over overlapping product sets acquire locks in the same
// sequence and cannot deadlock each other.
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

	rows, err := t.tx.Query(ctx, `
		SELECT id, lot_code, name, unit_price_cents, quantity, active, created_at, updated_at
		FROM products
		WHERE id = ANY($1) AND active
		ORDER BY id
		FOR UPDATE
	`, distinct)
	if err != nil {
		return nil, mapError(errors.Wrap(err, "lock products"))
	}
	defer rows.Close()

	found := make(map[string]*catalog.Product, len(distinct))
	for rows.Next() {
		var p catalog.Product
		if err := rows.Scan(&p.ID, &p.LotCode, &p.Name, &p.UnitPriceCents, &p.Quantity, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, mapError(errors.Wrap(err, "scan locked product"))
		}
		found[p.ID] = &p
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(errors.Wrap(err, "iterate locked products"))
	}

	for id := range found {
		t.locked[id] = true
	}
	return found, nil
}

func (t *storeTx) DecrementStock(ctx context.Context, productID string, quantity int) (int, error) {
	if !t.locked[productID] {
		return 0, fmt.Errorf("%w: decrement on unlocked product %s", purchase.ErrFatalStore, productID)
	}

	var remaining int
	err := t.tx.QueryRow(ctx, `
		UPDATE products
		SET quantity = quantity - $2, updated_at = now()
		WHERE id = $1 AND quantity >= $2
		RETURNING quantity
	`, productID, quantity).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, mapError(errors.Wrap(err, "decrement stock"))
	}

	// Guard did not match; the row is still locked so this read is stable.
	var available int
	if err := t.tx.QueryRow(ctx, `SELECT quantity FROM products WHERE id = $1`, productID).Scan(&available); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, catalog.ErrNotFound
		}
		return 0, mapError(errors.Wrap(err, "read available stock"))
	}
	return 0, &purchase.InsufficientStockError{
		ProductID: productID,
		Available: available,
		Requested: quantity,
	}
}

func (t *storeTx) InvoiceExists(ctx context.Context, invoiceNumber string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM purchases WHERE invoice_number = $1)`,
		invoiceNumber,
	).Scan(&exists)
	if err != nil {
		return false, mapError(errors.Wrap(err, "invoice lookup"))
	}
	return exists, nil
}

func (t *storeTx) InsertPurchase(ctx context.Context, p *purchase.Purchase) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("%w: purchase id is required", purchase.ErrFatalStore)
	}

	_, err := t.tx.Exec(ctx, `
		INSERT INTO purchases (id, purchaser_id, invoice_number, total_cents, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.PurchaserID, p.InvoiceNumber, p.TotalCents, p.Status, p.CreatedAt)
	if err != nil {
		return mapError(errors.Wrap(err, "insert purchase"))
	}

	batch := &pgx.Batch{}
	for _, line := range p.Lines {
		batch.Queue(`
			INSERT INTO purchase_lines (id, purchase_id, product_id, quantity, unit_price_cents, subtotal_cents)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, line.ID, line.PurchaseID, line.ProductID, line.Quantity, line.UnitPriceCents, line.SubtotalCents)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return mapError(errors.Wrap(err, "insert purchase lines"))
	}
	return nil
}

// Postgres error codes that roll up into the failure taxonomy.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
)

func mapError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure:
			return fmt.Errorf("%w: %v", purchase.ErrTransientStore, err)
		case codeUniqueViolation:
			if pgErr.ConstraintName == "purchases_invoice_number_key" {
				return fmt.Errorf("%w: %v", purchase.ErrInvoiceConflict, err)
			}
		}
	}
	return err
}
