// Package sweeper переводит в failed транзакции, по которым шлюз не ответил
// за время удержания, и тем самым возвращает удержанные остатки.
package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/reconcile"
)

const (
	defaultHoldTTL   = 30 * time.Minute
	defaultInterval  = time.Minute
	defaultBatchSize = 100
)

var sweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "checkout_sweeper_runs_total",
	Help: "Stale hold sweeper runs by result.",
}, []string{"result"})

// Reconciler — часть reconcile.Handler, которой пользуется sweeper.
type Reconciler interface {
	Apply(ctx context.Context, gatewayOrderID string, status domain.TransactionStatus, source, paymentID string) (reconcile.Outcome, error)
}

// Option настраивает Sweeper.
type Option func(*Sweeper)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithInterval задаёт период обхода.
func WithInterval(interval time.Duration) Option {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithHoldTTL задаёт время жизни удержания.
func WithHoldTTL(ttl time.Duration) Option {
	return func(s *Sweeper) {
		if ttl > 0 {
			s.holdTTL = ttl
		}
	}
}

// WithBatchSize задаёт размер порции.
func WithBatchSize(size int) Option {
	return func(s *Sweeper) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// WithClock подменяет часы.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// Sweeper — фоновый воркер истечения удержаний.
type Sweeper struct {
	txm        domain.TxManager
	reconciler Reconciler
	logger     *log.Entry
	metrics    *metrics.CheckoutMetrics
	interval   time.Duration
	holdTTL    time.Duration
	batchSize  int
	now        func() time.Time
}

// New создаёт sweeper.
func New(txm domain.TxManager, reconciler Reconciler, opts ...Option) *Sweeper {
	s := &Sweeper{
		txm:        txm,
		reconciler: reconciler,
		logger:     log.WithField("component", "hold-sweeper"),
		interval:   defaultInterval,
		holdTTL:    defaultHoldTTL,
		batchSize:  defaultBatchSize,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run обходит удержания по таймеру до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := s.SweepOnce(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				sweepRunsTotal.WithLabelValues("error").Inc()
				s.logger.WithError(err).Warn("hold sweep failed")
				continue
			}
			sweepRunsTotal.WithLabelValues("ok").Inc()
			if expired > 0 {
				s.logger.WithField("expired", expired).Info("stale holds released")
			}
		}
	}
}

// SweepOnce переводит в failed все транзакции created старше holdTTL.
// Транзакция, которую успел обработать webhook, пропускается как дубликат.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	before := s.now().Add(-s.holdTTL)
	expired := 0

	for {
		var stale []domain.OrderTransaction
		err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			var err error
			stale, err = tx.Transactions().ListStale(ctx, before, s.batchSize)
			return err
		})
		if err != nil {
			return expired, err
		}

		applied := 0
		for _, txn := range stale {
			if err := ctx.Err(); err != nil {
				return expired, err
			}
			outcome, err := s.reconciler.Apply(ctx, txn.TransactionID, domain.TransactionStatusFailed, reconcile.SourceSweeper, "")
			if err != nil {
				s.logger.WithError(err).WithField("gateway_order_id", txn.TransactionID).Warn("expire hold failed")
				continue
			}
			if outcome == reconcile.OutcomeApplied {
				applied++
				s.metrics.RecordSweptHold()
			}
		}
		expired += applied

		// Неполная порция или порция без продвижения: больше обходить нечего.
		if len(stale) < s.batchSize || applied == 0 {
			return expired, nil
		}
	}
}
