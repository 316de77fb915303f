// Package app собирает сервис оформления заказа из конфигурации и управляет его жизненным циклом.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/cart"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/service/coupon"
	"github.com/vladislavdragonenkov/checkout/internal/service/idempotency"
	"github.com/vladislavdragonenkov/checkout/internal/service/ordering"
	"github.com/vladislavdragonenkov/checkout/internal/service/outbox"
	"github.com/vladislavdragonenkov/checkout/internal/service/payment"
	"github.com/vladislavdragonenkov/checkout/internal/service/pricing"
	"github.com/vladislavdragonenkov/checkout/internal/service/reconcile"
	"github.com/vladislavdragonenkov/checkout/internal/service/reservation"
	"github.com/vladislavdragonenkov/checkout/internal/service/sweeper"
	"github.com/vladislavdragonenkov/checkout/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/checkout/internal/version"
)

// App — собранный сервис: HTTP API, служебный сервер и фоновые воркеры.
type App struct {
	cfg    Config
	logger *log.Entry

	storage  *storageRuntime
	delivery *delivery

	router *gin.Engine
	ops    http.Handler
	health *healthcheck.Handler

	outboxWorker  *outbox.Worker
	sweeper       *sweeper.Sweeper
	cleanupWorker *idempotency.CleanupWorker

	registerer prometheus.Registerer
}

// Option настраивает сборку App.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	logger     *log.Entry
}

// WithRegistry подменяет реестр Prometheus (в тестах свой для каждого App).
func WithRegistry(registry *prometheus.Registry) Option {
	return func(o *options) {
		o.registerer = registry
		o.gatherer = registry
	}
}

// WithLogger задаёт корневой логгер.
func WithLogger(logger *log.Entry) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New собирает все компоненты. Вызывающий обязан вызвать Close.
func New(ctx context.Context, cfg Config, opts ...Option) (*App, error) {
	o := options{
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
		logger:     log.WithField("component", "app"),
	}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	storage, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	sender := buildSender(cfg, logger)
	delivery, err := initDelivery(cfg, sender, logger)
	if err != nil {
		_ = storage.close()
		return nil, err
	}

	m := metrics.NewCheckoutMetricsWithRegisterer(o.registerer)
	gateway := buildGateway(cfg, m, logger)

	engine := pricing.NewEngine(pricing.Config{
		TaxRate:               cfg.TaxRate,
		FreeShippingThreshold: cfg.FreeShippingThreshold,
		FlatShippingFee:       cfg.FlatShippingFee,
	})
	coordinator := payment.NewCoordinator(gateway, storage.txm, cfg.PaymentCurrency, logger.WithField("component", "payment-coordinator"))
	reservations := reservation.NewManager(logger.WithField("component", "reservation"), m)
	orders := ordering.NewService(storage.txm,
		ordering.WithLogger(logger.WithField("component", "ordering")),
		ordering.WithMetrics(m),
	)
	reconciler := reconcile.NewHandler(storage.txm, coordinator, reservations, webhookSecret(cfg, logger),
		reconcile.WithLogger(logger.WithField("component", "reconcile")),
		reconcile.WithMetrics(m),
		reconcile.WithGatewayLookup(cfg.VerifyGatewayLookup),
	)
	checkoutSvc := checkout.NewService(storage.txm, engine, reservations, orders, coordinator,
		checkout.WithLogger(logger.WithField("component", "checkout")),
		checkout.WithMetrics(m),
		checkout.WithIdempotency(storage.idemRepo, cfg.IdempotencyTTL),
	)

	router := httpapi.NewRouter(httpapi.Services{
		Checkout:  checkoutSvc,
		Cart:      cart.NewService(storage.txm, engine, logger.WithField("component", "cart")),
		Orders:    orders,
		Coupons:   coupon.NewService(storage.txm, logger.WithField("component", "coupon")),
		Reconcile: reconciler,
	}, httpapi.Config{
		AdminToken: cfg.AdminToken,
		Mode:       cfg.GinMode,
		Logger:     logger.WithField("component", "http-api"),
	})

	health := healthcheck.NewHandler(version.Get().Version)
	health.RegisterChecker("storage", healthcheck.NewChecker("storage", storage.ping))
	if len(cfg.KafkaBrokers) > 0 {
		brokers := cfg.KafkaBrokers
		health.RegisterChecker("kafka", healthcheck.NewOptionalChecker("kafka", func(ctx context.Context) error {
			return kafka.Ping(ctx, brokers)
		}))
	}

	outboxOpts := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if delivery.dlq != nil {
		outboxOpts = append(outboxOpts, outbox.WithDLQPublisher(delivery.dlq))
	}

	return &App{
		cfg:      cfg,
		logger:   logger,
		storage:  storage,
		delivery: delivery,
		router:   router,
		ops:      newOpsHandler(o.gatherer, health),
		health:   health,

		outboxWorker: outbox.NewWorker(storage.outboxRepo, delivery.publisher, outboxOpts...),
		sweeper: sweeper.New(storage.txm, reconciler,
			sweeper.WithLogger(logger.WithField("component", "sweeper")),
			sweeper.WithInterval(cfg.SweepInterval),
			sweeper.WithHoldTTL(cfg.HoldTTL),
			sweeper.WithBatchSize(cfg.SweepBatchSize),
			sweeper.WithMetrics(m),
		),
		cleanupWorker: idempotency.NewCleanupWorker(storage.idemRepo,
			idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
			idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
			idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		),
		registerer: o.registerer,
	}, nil
}

// Handler возвращает HTTP API.
func (a *App) Handler() http.Handler { return a.router }

// OpsHandler возвращает служебный mux (/metrics, /healthz, /livez, /readyz).
func (a *App) OpsHandler() http.Handler { return a.ops }

// Start запускает фоновые воркеры. Возвращённая функция ждёт их остановки после отмены ctx.
func (a *App) Start(ctx context.Context) (wait func(), err error) {
	var wg sync.WaitGroup
	workers := []func(context.Context){a.outboxWorker.Run, a.sweeper.Run, a.cleanupWorker.Run}
	for _, run := range workers {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(run)
	}

	if a.delivery.consumer != nil {
		if err := a.delivery.consumer.Start(ctx); err != nil {
			return wg.Wait, fmt.Errorf("start kafka consumer: %w", err)
		}
	}
	return wg.Wait, nil
}

// Close освобождает хранилище и Kafka.
func (a *App) Close() {
	a.delivery.close(a.logger)
	if err := a.storage.close(); err != nil {
		a.logger.WithError(err).Warn("failed to close storage")
	}
}

// Run собирает сервис и обслуживает запросы до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	a, err := New(ctx, cfg, WithLogger(logger))
	if err != nil {
		return err
	}
	defer a.Close()

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	waitWorkers, err := a.Start(workerCtx)
	if err != nil {
		stopWorkers()
		waitWorkers()
		return err
	}

	errCh := make(chan error, 3)
	apiSrv := startHTTPServer("api", cfg.HTTPAddr, a.router, logger, errCh)
	opsSrv := startHTTPServer("ops", cfg.MetricsAddr, a.ops, logger, errCh)

	var grpcSrv *grpcHealth
	if cfg.GRPCAddr != "" {
		grpcSrv = newGRPCHealth(a.registerer, logger)
		if err := grpcSrv.serve(cfg.GRPCAddr, logger, errCh); err != nil {
			errCh <- fmt.Errorf("grpc listen: %w", err)
		} else {
			go grpcSrv.followReadiness(workerCtx, a.health)
		}
	}

	logger.WithField("build", version.Get().String()).Info("checkout service started")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		runErr = ctx.Err()
	case err := <-errCh:
		logger.WithError(err).Error("server failed")
		runErr = err
	}

	shutdownHTTP(apiSrv, logger)
	if grpcSrv != nil {
		grpcSrv.stop(logger)
	}
	stopWorkers()
	waitWorkers()
	shutdownHTTP(opsSrv, logger)

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}
