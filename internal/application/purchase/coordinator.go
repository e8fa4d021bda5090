package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	domoutbox "github.com/warutora/stockroom/internal/domain/outbox"
	domain "github.com/warutora/stockroom/internal/domain/purchase"
	"github.com/warutora/stockroom/internal/observability"
	"github.com/warutora/stockroom/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	purchaseService = "purchase-service"
	useCaseExecute  = "purchase.execute"
	spanPrefix      = "UC."
	publishPeer     = "outbox"
	publishEndpoint = "purchase.completed"
	publishTimeout  = 300 * time.Millisecond
)

// CartLine is one requested product/quantity pair. It is transient input,
// never persisted on its own.
type CartLine struct {
	ProductID string
	Quantity  int
}

type Input struct {
	PurchaserID string
	Cart        []CartLine
}

type Result struct {
	Purchase *domain.Purchase
}

// Coordinator turns a cart into a committed purchase or a clean, typed
// failure with no side effects. Locking products, validating quantities,
// snapshotting prices, sequencing the invoice, writing the header and
// lines, and decrementing stock all happen inside one unit of work; any
// failure rolls everything back.
type Coordinator struct {
	store       domain.Store
	idGenerator IDGenerator
	sequencer   *Sequencer
	publisher   domoutbox.Publisher
	tel         observability.Telemetry

	log          observability.Logger
	reqCounter   observability.Counter
	durHistogram observability.Histogram
	lineCounter  observability.Counter
}

func NewCoordinator(
	store domain.Store,
	idGen IDGenerator,
	sequencer *Sequencer,
	publisher domoutbox.Publisher,
	tel observability.Telemetry,
) *Coordinator {
	if tel == nil {
		tel = observability.NopTelemetry()
	}
	if sequencer == nil {
		sequencer = NewSequencer(tel)
	}

	return &Coordinator{
		store:        store,
		idGenerator:  idGen,
		sequencer:    sequencer,
		publisher:    publisher,
		tel:          tel,
		log:          tel.Logger().With(observability.F("service", purchaseService)),
		reqCounter:   tel.Counter(observability.MUsecaseRequests),
		durHistogram: tel.Histogram(observability.MUsecaseDuration),
		lineCounter:  tel.Counter(observability.MPurchaseLinesCommitted),
	}
}

// Execute runs the purchase transaction.
func (c *Coordinator) Execute(ctx context.Context, input Input) (_ *Result, err error) {
	logger := logctx.FromOr(ctx, c.log).With(observability.F("use_case", useCaseExecute))

	ctx, span := c.tel.Tracer().Start(ctx, spanPrefix+"ExecutePurchase",
		attribute.String("use_case", useCaseExecute),
		attribute.String("purchase.purchaser_id", input.PurchaserID),
		attribute.Int("purchase.cart_size", len(input.Cart)),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"

	var committed *domain.Purchase

	defer func() {
		lat := time.Since(start).Seconds()

		if span != nil {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, statusText)
			} else {
				span.SetStatus(codes.Ok, statusText)
			}
			span.End()
		}

		c.reqCounter.Add(1,
			observability.L("use_case", useCaseExecute),
			observability.L("outcome", outcome),
		)
		c.durHistogram.Observe(lat,
			observability.L("use_case", useCaseExecute),
		)

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if committed != nil {
			fields = append(fields,
				observability.F("purchase_id", committed.ID),
				observability.F("invoice_number", committed.InvoiceNumber),
			)
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}

		logger.Info("use_case_done", fields...)
	}()

	if verr := validateInput(input); verr != nil {
		outcome, statusText = "error", "CART_INVALID"
		return nil, verr
	}
	if err := ctx.Err(); err != nil {
		outcome, statusText = "error", "CONTEXT_CANCELED"
		return nil, err
	}

	var remaining []domain.RemainingStock

	txErr := c.store.ExecTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		ids := make([]string, 0, len(input.Cart))
		for _, line := range input.Cart {
			ids = append(ids, line.ProductID)
		}

		locked, err := tx.LockProducts(ctx, ids)
		if err != nil {
			return err
		}

		var missing []string
		for _, line := range input.Cart {
			if _, ok := locked[line.ProductID]; !ok {
				missing = append(missing, line.ProductID)
			}
		}
		if len(missing) > 0 {
			return &domain.ProductsNotFoundError{MissingIDs: missing}
		}

		for _, line := range input.Cart {
			prod := locked[line.ProductID]
			if line.Quantity > prod.Quantity {
				return &domain.InsufficientStockError{
					ProductID: line.ProductID,
					Available: prod.Quantity,
					Requested: line.Quantity,
				}
			}
		}

		lines := make([]domain.Line, 0, len(input.Cart))
		for _, line := range input.Cart {
			prod := locked[line.ProductID]
			lines = append(lines, domain.Line{
				ID:             c.idGenerator.NewID(),
				ProductID:      line.ProductID,
				Quantity:       line.Quantity,
				UnitPriceCents: prod.UnitPriceCents,
			})
		}

		invoiceNumber, err := c.sequencer.Next(ctx, tx)
		if err != nil {
			return err
		}

		entity, err := domain.New(c.idGenerator.NewID(), input.PurchaserID, invoiceNumber, lines)
		if err != nil {
			return err
		}

		if err := tx.InsertPurchase(ctx, entity); err != nil {
			return err
		}

		remaining = remaining[:0]
		for _, line := range input.Cart {
			left, err := tx.DecrementStock(ctx, line.ProductID, line.Quantity)
			if err != nil {
				return err
			}
			remaining = append(remaining, domain.RemainingStock{
				ProductID: line.ProductID,
				Quantity:  left,
			})
		}

		committed = entity
		return nil
	})
	if txErr != nil {
		committed = nil
		outcome, statusText = "error", statusFor(txErr)
		return nil, classifyError(txErr)
	}

	c.lineCounter.Add(float64(len(committed.Lines)),
		observability.L("use_case", useCaseExecute),
	)
	span.SetAttributes(
		attribute.String("purchase.id", committed.ID),
		attribute.String("purchase.invoice_number", committed.InvoiceNumber),
		attribute.Int64("purchase.total_cents", committed.TotalCents),
	)
	span.AddEvent("purchase.committed",
		trace.WithAttributes(attribute.String("purchase.id", committed.ID)),
	)

	c.publishCompleted(ctx, logger, committed, remaining)

	return &Result{Purchase: committed}, nil
}

// publishCompleted emits the post-commit event. Publish failures never fail
// the purchase: the record is already committed.
func (c *Coordinator) publishCompleted(ctx context.Context, logger observability.Logger, p *domain.Purchase, remaining []domain.RemainingStock) {
	if c.publisher == nil {
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := c.publisher.Publish(pubCtx, domain.NewCompletedEvent(p, remaining)); err != nil {
		logger.Warn("event_publish_failed",
			observability.F("peer", publishPeer),
			observability.F("endpoint", publishEndpoint),
			observability.F("purchase_id", p.ID),
			observability.F("error", err.Error()),
		)
	}
}

func validateInput(input Input) error {
	if input.PurchaserID == "" {
		return &domain.ValidationError{Reason: "purchaser id is required"}
	}
	if len(input.Cart) == 0 {
		return &domain.ValidationError{Reason: "cart must contain at least one line"}
	}

	seen := make(map[string]bool, len(input.Cart))
	for _, line := range input.Cart {
		if line.ProductID == "" {
			return &domain.ValidationError{Reason: "cart line product id is required"}
		}
		if line.Quantity <= 0 {
			return &domain.ValidationError{Reason: fmt.Sprintf("quantity for product %s must be greater than zero", line.ProductID)}
		}
		if seen[line.ProductID] {
			return &domain.ValidationError{Reason: fmt.Sprintf("duplicate product %s in cart", line.ProductID)}
		}
		seen[line.ProductID] = true
	}
	return nil
}

// classifyError keeps taxonomy errors intact and folds everything else into
// the transient/fatal store kinds so no transaction internals leak upward.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var (
		validation   *domain.ValidationError
		notFound     *domain.ProductsNotFoundError
		insufficient *domain.InsufficientStockError
	)
	switch {
	case errors.As(err, &validation),
		errors.As(err, &notFound),
		errors.As(err, &insufficient):
		return err
	case errors.Is(err, domain.ErrSequencingExhausted),
		errors.Is(err, domain.ErrTransientStore),
		errors.Is(err, domain.ErrFatalStore):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, domain.ErrInvoiceConflict):
		// Lost a commit-time invoice race; the whole operation is retryable.
		return fmt.Errorf("%w: %v", domain.ErrTransientStore, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrFatalStore, err)
	}
}

func statusFor(err error) string {
	var (
		validation   *domain.ValidationError
		notFound     *domain.ProductsNotFoundError
		insufficient *domain.InsufficientStockError
	)
	switch {
	case errors.As(err, &notFound):
		return "PRODUCTS_NOT_FOUND"
	case errors.As(err, &insufficient):
		return "INSUFFICIENT_STOCK"
	case errors.As(err, &validation):
		return "CART_INVALID"
	case errors.Is(err, domain.ErrSequencingExhausted):
		return "SEQUENCING_EXHAUSTED"
	case errors.Is(err, domain.ErrTransientStore), errors.Is(err, domain.ErrInvoiceConflict):
		return "STORE_TRANSIENT"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "CONTEXT_CANCELED"
	default:
		return "STORE_FAILED"
	}
}
