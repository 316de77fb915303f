// Package metrics собирает Prometheus-метрики оформления заказа и сверки платежей.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты оформления для метки result.
const (
	CheckoutSucceeded = "succeeded"
	CheckoutRejected  = "rejected"
	CheckoutFailed    = "failed"
	CheckoutReplayed  = "replayed"
)

// CheckoutMetrics — метрики конвейера checkout -> оплата. Nil-получатель допустим:
// все методы в этом случае ничего не делают.
type CheckoutMetrics struct {
	checkouts        *prometheus.CounterVec
	checkoutDuration prometheus.Histogram
	inFlight         prometheus.Gauge

	transitions      *prometheus.CounterVec
	webhookRejected  *prometheus.CounterVec
	holdConflicts    prometheus.Counter
	sweptHolds       prometheus.Counter
	timelineEvents   prometheus.Counter
	gatewayLatency   *prometheus.HistogramVec
	gatewayBreakerOn prometheus.Gauge
}

// NewCheckoutMetrics регистрирует метрики в DefaultRegisterer.
func NewCheckoutMetrics() *CheckoutMetrics {
	return NewCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCheckoutMetricsWithRegisterer регистрирует метрики в registerer. Повторная
// регистрация возвращает уже существующие коллекторы.
func NewCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		checkouts: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_requests_total",
			Help: "Payment request attempts by result",
		}, []string{"result"})),
		checkoutDuration: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "checkout_duration_seconds",
			Help:    "Duration of payment request handling in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		})),
		inFlight: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "checkout_in_flight",
			Help: "Payment requests currently being processed",
		})),
		transitions: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_reconcile_transitions_total",
			Help: "Reconciliation attempts by source and outcome",
		}, []string{"source", "outcome"})),
		webhookRejected: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_webhook_rejected_total",
			Help: "Webhook deliveries rejected before processing",
		}, []string{"reason"})),
		holdConflicts: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "checkout_hold_conflicts_total",
			Help: "Stock or coupon holds rejected by conditional updates",
		})),
		sweptHolds: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "checkout_swept_holds_total",
			Help: "Stale holds released by the sweeper",
		})),
		timelineEvents: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "checkout_timeline_events_total",
			Help: "Order timeline events recorded",
		})),
		gatewayLatency: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "checkout_gateway_request_duration_seconds",
			Help:    "Payment gateway call latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation", "result"})),
		gatewayBreakerOn: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "checkout_gateway_circuit_open",
			Help: "1 when the payment gateway circuit breaker is open",
		})),
	}
}

func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	err := registerer.Register(collector)
	if err == nil {
		return collector
	}

	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		existing, ok := already.ExistingCollector.(T)
		if !ok {
			panic(fmt.Sprintf("collector already registered with unexpected type %T", already.ExistingCollector))
		}
		return existing
	}
	panic(fmt.Sprintf("register collector: %v", err))
}

// CheckoutStarted отмечает начало обработки и возвращает функцию завершения.
func (m *CheckoutMetrics) CheckoutStarted() func(result string) {
	if m == nil {
		return func(string) {}
	}
	started := time.Now()
	m.inFlight.Inc()
	return func(result string) {
		m.inFlight.Dec()
		m.checkouts.WithLabelValues(result).Inc()
		m.checkoutDuration.Observe(time.Since(started).Seconds())
	}
}

// RecordTransition учитывает попытку сверки.
func (m *CheckoutMetrics) RecordTransition(source, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(source, outcome).Inc()
}

// RecordWebhookRejected учитывает отклонённый webhook.
func (m *CheckoutMetrics) RecordWebhookRejected(reason string) {
	if m == nil {
		return
	}
	m.webhookRejected.WithLabelValues(reason).Inc()
}

// RecordHoldConflict учитывает отказ удержания.
func (m *CheckoutMetrics) RecordHoldConflict() {
	if m == nil {
		return
	}
	m.holdConflicts.Inc()
}

// RecordSweptHold учитывает удержание, снятое по таймауту.
func (m *CheckoutMetrics) RecordSweptHold() {
	if m == nil {
		return
	}
	m.sweptHolds.Inc()
}

// RecordTimelineEvent учитывает запись в историю заказа.
func (m *CheckoutMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// ObserveGatewayCall записывает длительность вызова шлюза.
func (m *CheckoutMetrics) ObserveGatewayCall(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.gatewayLatency.WithLabelValues(operation, result).Observe(duration.Seconds())
}

// SetGatewayCircuitOpen отражает состояние circuit breaker шлюза.
func (m *CheckoutMetrics) SetGatewayCircuitOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.gatewayBreakerOn.Set(1)
		return
	}
	m.gatewayBreakerOn.Set(0)
}
