package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/payment"
	"github.com/vladislavdragonenkov/checkout/internal/version"
)

const devWebhookSecret = "dev-webhook-secret"

// buildGateway создаёт клиента шлюза, обёрнутого повторами и circuit breaker.
func buildGateway(cfg Config, m *metrics.CheckoutMetrics, logger *log.Entry) domain.PaymentGateway {
	var gateway domain.PaymentGateway
	switch cfg.Gateway {
	case GatewayRazorpay:
		gateway = payment.NewRazorpayGateway(payment.RazorpayConfig{
			KeyID:     cfg.RazorpayKeyID,
			KeySecret: cfg.RazorpayKeySecret,
			BaseURL:   cfg.RazorpayBaseURL,
			Timeout:   cfg.GatewayTimeout,
			UserAgent: version.Get().UserAgent(),
		})
		logger.Info("razorpay gateway configured")
	default:
		gateway = payment.NewMockGateway()
		logger.Warn("using mock payment gateway")
	}

	retry := payment.DefaultRetryConfig()
	if cfg.GatewayRetryAttempts > 0 {
		retry.MaxAttempts = cfg.GatewayRetryAttempts
	}
	breaker := payment.NewCircuitBreaker(
		cfg.GatewayBreakerFailures,
		cfg.GatewayBreakerReset,
		logger.WithField("component", "gateway-breaker"),
	)
	return payment.NewResilientGateway(gateway, retry, breaker, m, logger.WithField("component", "payment-gateway"))
}

// webhookSecret возвращает секрет подписи; для mock-шлюза допускается dev-значение.
func webhookSecret(cfg Config, logger *log.Entry) string {
	if cfg.RazorpayWebhookSecret != "" {
		return cfg.RazorpayWebhookSecret
	}
	logger.Warn("RAZORPAY_WEBHOOK_SECRET is not set, using development secret")
	return devWebhookSecret
}
