package worker

import (
	"context"
	"time"

	appstockwatch "github.com/warutora/stockroom/internal/application/stockwatch"
	"github.com/warutora/stockroom/internal/domain/outbox"
	dompurchase "github.com/warutora/stockroom/internal/domain/purchase"
	"github.com/warutora/stockroom/internal/observability"
	"github.com/warutora/stockroom/internal/observability/logctx"
	workerpresentation "github.com/warutora/stockroom/internal/presentation/worker"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const workerService = "stockwatch_worker"

// Worker subscribes the stock watcher to committed-purchase events.
type Worker struct {
	subscriber outbox.Subscriber
	service    *appstockwatch.Service
	tel        observability.Telemetry

	log          observability.Logger
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
}

func New(
	subscriber outbox.Subscriber,
	service *appstockwatch.Service,
	tel observability.Telemetry,
	logger observability.Logger,
) *Worker {
	baseLogger := logger
	if baseLogger == nil && tel != nil {
		baseLogger = tel.Logger()
	}
	if baseLogger == nil {
		baseLogger = observability.NopLogger()
	}
	if tel == nil {
		tel = observability.NopTelemetry()
	}
	return &Worker{
		subscriber:   subscriber,
		service:      service,
		tel:          tel,
		log:          baseLogger.With(observability.F("service", workerService)),
		reqCounter:   tel.Counter(observability.MUsecaseRequests),
		durHistogram: tel.Histogram(observability.MUsecaseDuration),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.service == nil {
		return
	}
	w.subscriber.Subscribe(dompurchase.CompletedEvent{}.EventName(), w.handlePurchaseCompleted)
}

func (w *Worker) handlePurchaseCompleted(ctx context.Context, e outbox.Event) error {
	const useCase = "stockwatch.worker.purchase_completed"
	evt, ok := e.(dompurchase.CompletedEvent)
	if !ok {
		w.count(useCase, "ignored")
		return nil
	}

	ctx, span := w.tel.Tracer().Start(ctx, "Worker.PurchaseCompleted",
		attribute.String("use_case", useCase),
		attribute.String("event", e.EventName()),
	)
	start := time.Now()
	outcome, status := "success", "OK"

	sc := trace.SpanContextFromContext(ctx)
	ctx = workerpresentation.WithEventContext(ctx, w.log, w.tel, sc.TraceID(), sc.SpanID(), map[string]string{
		"use_case":    useCase,
		"event":       e.EventName(),
		"purchase_id": evt.PurchaseID,
	})
	logger := logctx.FromOr(ctx, w.log)

	defer func() {
		lat := time.Since(start).Seconds()
		w.observe(useCase, outcome, lat)

		logger.Info("use_case_done",
			observability.F("outcome", outcome),
			observability.F("status", status),
			observability.F("latency_seconds", lat),
			observability.F("purchase_id", evt.PurchaseID),
		)

		if outcome == "error" {
			span.SetStatus(codes.Error, status)
		} else {
			span.SetStatus(codes.Ok, status)
		}
		span.End()
	}()

	if err := w.service.OnPurchaseCompleted(ctx, evt); err != nil {
		outcome, status = "error", "STOCKWATCH_FAILED"
		return err
	}
	return nil
}

func (w *Worker) count(useCase, outcome string) {
	if w.reqCounter != nil {
		w.reqCounter.Add(1,
			observability.L("use_case", useCase),
			observability.L("outcome", outcome),
		)
	}
}

func (w *Worker) observe(useCase string, outcome string, latencySeconds float64) {
	w.count(useCase, outcome)
	if w.durHistogram != nil {
		w.durHistogram.Observe(latencySeconds,
			observability.L("use_case", useCase),
		)
	}
}
