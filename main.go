package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	appcatalog "github.com/warutora/stockroom/internal/application/catalog"
	apppurchase "github.com/warutora/stockroom/internal/application/purchase"
	appstockwatch "github.com/warutora/stockroom/internal/application/stockwatch"
	"github.com/warutora/stockroom/internal/config"
	domaincatalog "github.com/warutora/stockroom/internal/domain/catalog"
	domainpurchase "github.com/warutora/stockroom/internal/domain/purchase"
	"github.com/warutora/stockroom/internal/infrastructure/id"
	"github.com/warutora/stockroom/internal/infrastructure/memory"
	"github.com/warutora/stockroom/internal/infrastructure/observability/oteltrace"
	"github.com/warutora/stockroom/internal/infrastructure/observability/prometrics"
	"github.com/warutora/stockroom/internal/infrastructure/observability/telemetry"
	"github.com/warutora/stockroom/internal/infrastructure/observability/zaplogger"
	"github.com/warutora/stockroom/internal/infrastructure/outbox"
	"github.com/warutora/stockroom/internal/infrastructure/postgres"
	stockwatchworker "github.com/warutora/stockroom/internal/infrastructure/stockwatch/worker"
	"github.com/warutora/stockroom/internal/observability"
	"github.com/warutora/stockroom/internal/pkg/logging"
	httppresentation "github.com/warutora/stockroom/internal/presentation/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	baseLogger := logging.MustNewLogger(cfg.ServiceName, cfg.Env)
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)

	systemLogger := logging.WithTrace(baseLogger, logging.SystemTraceID, logging.SystemSpanID)

	appLogger := zaplogger.New(
		observability.F("service", cfg.ServiceName),
		observability.F("env", cfg.Env),
	)
	defer func() {
		if s, ok := appLogger.(interface{ Sync() error }); ok {
			_ = s.Sync()
		}
	}()

	tel := buildTelemetry(cfg.ServiceName, appLogger)

	var (
		store        domainpurchase.Store
		catalogRepo  domaincatalog.Repository
		purchaseRepo domainpurchase.Repository
	)

	if cfg.PostgresDSN != "" {
		if err := postgres.Migrate(cfg.PostgresDSN, cfg.MigrationsDir); err != nil {
			systemLogger.Fatal("migrate_failed", zap.Error(err))
		}
		pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
		if err != nil {
			systemLogger.Fatal("postgres_connect_failed", zap.Error(err))
		}
		defer pool.Close()

		pg := postgres.NewStore(pool, cfg.LockWait, appLogger)
		store = pg
		catalogRepo = pg.Catalog()
		purchaseRepo = pg.Purchases()
		systemLogger.Info("store_selected", zap.String("store", "postgres"))
	} else {
		mem := memory.NewStoreWithLockWait(cfg.LockWait)
		store = mem
		catalogRepo = mem
		purchaseRepo = mem.Purchases()
		systemLogger.Info("store_selected", zap.String("store", "memory"))
	}

	bus := outbox.NewBus(appLogger)
	bus.Start(context.Background())
	defer bus.Stop(context.Background())

	idGenerator := id.NewUUIDGenerator()
	coordinator := apppurchase.NewCoordinator(store, idGenerator, apppurchase.NewSequencer(tel), bus, tel)
	catalogService := appcatalog.NewService(catalogRepo, idGenerator, appLogger)

	stockWatch := appstockwatch.NewService(cfg.LowStockThreshold, tel)
	watcher := stockwatchworker.New(bus, stockWatch, tel, appLogger)
	watcher.Start()

	handler := httppresentation.NewHandler(coordinator, purchaseRepo, catalogService, appLogger, tel)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		systemLogger.Info("http_server_start",
			zap.String("addr", server.Addr),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			systemLogger.Error("http_server_error",
				zap.Error(err),
			)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		systemLogger.Error("http_server_shutdown_error",
			zap.Error(err),
		)
	} else {
		systemLogger.Info("http_server_stopped")
	}
}

func buildTelemetry(serviceName string, logger observability.Logger) observability.Telemetry {
	metrics := prometrics.New("", "")

	counters := map[string]observability.Counter{
		observability.MUsecaseRequests: metrics.Counter(
			observability.MUsecaseRequests,
			"Total number of use case invocations.",
			"use_case", "outcome",
		),
		observability.MHTTPRequests: metrics.Counter(
			observability.MHTTPRequests,
			"Total number of HTTP requests served.",
			"method", "route", "status",
		),
		observability.MStockLow: metrics.Counter(
			observability.MStockLow,
			"Count of purchases that left a product at or below the low-stock threshold.",
		),
		observability.MInvoiceRetries: metrics.Counter(
			observability.MInvoiceRetries,
			"Count of invoice number candidates discarded due to collisions.",
		),
		observability.MPurchaseLinesCommitted: metrics.Counter(
			observability.MPurchaseLinesCommitted,
			"Total number of purchase lines committed.",
			"use_case",
		),
	}

	histograms := map[string]observability.Histogram{
		observability.MUsecaseDuration: metrics.Histogram(
			observability.MUsecaseDuration,
			"Duration of use case execution in seconds.",
			prometheus.DefBuckets,
			"use_case",
		),
		observability.MHTTPRequestDuration: metrics.Histogram(
			observability.MHTTPRequestDuration,
			"Duration of HTTP request handling in seconds.",
			prometheus.DefBuckets,
			"method", "route", "status",
		),
	}

	return telemetry.New(oteltrace.New(serviceName), logger, counters, histograms)
}
