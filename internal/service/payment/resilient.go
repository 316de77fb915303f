package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

// ErrCircuitOpen возвращается, пока circuit breaker не пропускает вызовы.
var ErrCircuitOpen = fmt.Errorf("%w: circuit breaker is open", domain.ErrGatewayUnavailable)

// RetryConfig — параметры повторов вызова шлюза.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
	}
}

// CircuitState — состояние circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker размыкается после maxFailures ошибок подряд и через resetTimeout
// пропускает одну пробную попытку.
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time
	onChange     func(CircuitState)

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	state       CircuitState
	logger      *log.Entry
}

// NewCircuitBreaker создаёт breaker в замкнутом состоянии.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if logger == nil {
		logger = log.WithField("component", "circuit-breaker")
	}
	if maxFailures <= 0 {
		maxFailures = 5
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
		state:        CircuitClosed,
		logger:       logger,
	}
}

// State возвращает текущее состояние.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute выполняет fn, если breaker пропускает вызов. Ошибки, для которых
// counts возвращает false, не считаются отказом.
func (cb *CircuitBreaker) Execute(operation string, fn func() error, counts func(error) bool) error {
	if err := cb.admit(operation); err != nil {
		return err
	}

	err := fn()
	cb.record(operation, err != nil && counts(err))
	return err
}

func (cb *CircuitBreaker) admit(operation string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != CircuitOpen {
		return nil
	}
	if cb.now().Sub(cb.lastFailure) <= cb.resetTimeout {
		return ErrCircuitOpen
	}
	cb.setState(CircuitHalfOpen)
	cb.logger.WithField("operation", operation).Info("circuit breaker half-open")
	return nil
}

func (cb *CircuitBreaker) record(operation string, failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if failed {
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
			if cb.state != CircuitOpen {
				cb.logger.WithFields(log.Fields{
					"operation": operation,
					"failures":  cb.failures,
				}).Warn("circuit breaker opened")
			}
			cb.setState(CircuitOpen)
		}
		return
	}

	if cb.state == CircuitHalfOpen {
		cb.logger.WithField("operation", operation).Info("circuit breaker closed")
	}
	cb.setState(CircuitClosed)
	cb.failures = 0
}

func (cb *CircuitBreaker) setState(state CircuitState) {
	if cb.state == state {
		return
	}
	cb.state = state
	if cb.onChange != nil {
		cb.onChange(state)
	}
}

// ResilientGateway добавляет к шлюзу повторы с экспоненциальной задержкой,
// circuit breaker и метрики задержки.
type ResilientGateway struct {
	next    domain.PaymentGateway
	retry   RetryConfig
	breaker *CircuitBreaker
	metrics *metrics.CheckoutMetrics
	logger  *log.Entry
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewResilientGateway оборачивает next. breaker и m могут быть nil.
func NewResilientGateway(next domain.PaymentGateway, retry RetryConfig, breaker *CircuitBreaker, m *metrics.CheckoutMetrics, logger *log.Entry) *ResilientGateway {
	if logger == nil {
		logger = log.WithField("component", "payment-gateway")
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	if breaker == nil {
		breaker = NewCircuitBreaker(5, 30*time.Second, logger)
	}
	breaker.onChange = func(state CircuitState) { m.SetGatewayCircuitOpen(state == CircuitOpen) }

	return &ResilientGateway{
		next:    next,
		retry:   retry,
		breaker: breaker,
		metrics: m,
		logger:  logger,
		sleep:   sleepContext,
	}
}

// KeyID делегирует обёрнутому шлюзу.
func (g *ResilientGateway) KeyID() string {
	return g.next.KeyID()
}

// CreateOrder создаёт удалённый заказ с повторами.
func (g *ResilientGateway) CreateOrder(ctx context.Context, req domain.GatewayOrderRequest) (domain.GatewayOrder, error) {
	var order domain.GatewayOrder
	err := g.call(ctx, "create_order", req.Receipt, func() error {
		var err error
		order, err = g.next.CreateOrder(ctx, req)
		return err
	})
	return order, err
}

// FetchOrder читает удалённый заказ с повторами.
func (g *ResilientGateway) FetchOrder(ctx context.Context, gatewayOrderID string) (domain.GatewayOrder, error) {
	var order domain.GatewayOrder
	err := g.call(ctx, "fetch_order", gatewayOrderID, func() error {
		var err error
		order, err = g.next.FetchOrder(ctx, gatewayOrderID)
		return err
	})
	return order, err
}

func (g *ResilientGateway) call(ctx context.Context, operation, ref string, fn func() error) error {
	delay := g.retry.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= g.retry.MaxAttempts; attempt++ {
		started := time.Now()
		err := g.breaker.Execute(operation, fn, retryable)
		if !errors.Is(err, ErrCircuitOpen) {
			g.metrics.ObserveGatewayCall(operation, err, time.Since(started))
		}
		if err == nil {
			if attempt > 1 {
				g.logger.WithFields(log.Fields{
					"operation": operation,
					"ref":       ref,
					"attempt":   attempt,
				}).Info("gateway call succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !retryable(err) || errors.Is(err, ErrCircuitOpen) || attempt == g.retry.MaxAttempts {
			break
		}

		g.logger.WithError(err).WithFields(log.Fields{
			"operation": operation,
			"ref":       ref,
			"attempt":   attempt,
			"delay":     delay,
		}).Warn("gateway call failed, retrying")

		if err := g.sleep(ctx, delay); err != nil {
			return err
		}
		delay = time.Duration(float64(delay) * g.retry.BackoffFactor)
		if g.retry.MaxDelay > 0 && delay > g.retry.MaxDelay {
			delay = g.retry.MaxDelay
		}
	}

	g.logger.WithError(lastErr).WithFields(log.Fields{
		"operation": operation,
		"ref":       ref,
	}).Error("gateway call failed")
	return lastErr
}

// retryable: повторяем только недоступность шлюза. Отказ по существу запроса
// и отмена контекста не повторяются.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, domain.ErrGatewayUnavailable)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ domain.PaymentGateway = (*ResilientGateway)(nil)
