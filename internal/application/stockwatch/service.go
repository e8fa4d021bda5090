package stockwatch

import (
	"context"

	dompurchase "github.com/warutora/stockroom/internal/domain/purchase"
	"github.com/warutora/stockroom/internal/observability"
	"github.com/warutora/stockroom/internal/observability/logctx"
)

const componentStockWatch = "stockwatch_service"

// Service watches committed purchases and flags products whose remaining
// quantity fell below the configured threshold.
type Service struct {
	threshold int
	log       observability.Logger
	lowStock  observability.Counter
}

func NewService(threshold int, tel observability.Telemetry) *Service {
	if tel == nil {
		tel = observability.NopTelemetry()
	}
	return &Service{
		threshold: threshold,
		log:       tel.Logger().With(observability.F("component", componentStockWatch)),
		lowStock:  tel.Counter(observability.MStockLow),
	}
}

// OnPurchaseCompleted inspects post-commit quantities carried on the event.
func (s *Service) OnPurchaseCompleted(ctx context.Context, e dompurchase.CompletedEvent) error {
	logger := logctx.FromOr(ctx, s.log)

	for _, r := range e.Remaining {
		if r.Quantity >= s.threshold {
			continue
		}
		// Counter stays label-free; product ids are high-cardinality.
		s.lowStock.Add(1)
		logger.Warn("stock_low",
			observability.F("product_id", r.ProductID),
			observability.F("quantity", r.Quantity),
			observability.F("threshold", s.threshold),
			observability.F("purchase_id", e.PurchaseID),
		)
	}
	return nil
}
