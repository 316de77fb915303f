// Package notification отправляет покупателю письмо-подтверждение заказа.
// Письмо уходит из outbox, отказ доставки не влияет на состояние оплаты.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// DefaultResendURL — адрес API отправки писем Resend.
const DefaultResendURL = "https://api.resend.com/emails"

var confirmationTemplate = template.Must(template.New("confirmation").Parse(`<h3>Thank you for your order</h3>
<p>Your order <strong>#{{.OrderNumber}}</strong> is confirmed.</p>
<table cellpadding="6" style="border-collapse:collapse">
  <tr><th align="left">Item</th><th>Qty</th><th align="right">Price</th></tr>
{{- range .Items}}
  <tr><td>{{.Name}}</td><td align="center">{{.Quantity}}</td><td align="right">{{.TotalPrice.StringFixed 2}}</td></tr>
{{- end}}
</table>
<p>Total paid: <strong>{{.Total.StringFixed 2}} {{.Currency}}</strong></p>`))

// RenderConfirmation строит HTML письма.
func RenderConfirmation(c domain.OrderConfirmation) (string, error) {
	var buf bytes.Buffer
	if err := confirmationTemplate.Execute(&buf, c); err != nil {
		return "", fmt.Errorf("render confirmation: %w", err)
	}
	return buf.String(), nil
}

// ResendConfig — параметры клиента Resend.
type ResendConfig struct {
	APIKey  string
	From    string
	URL     string
	Timeout time.Duration
}

// ResendSender отправляет письма через HTTP API Resend.
type ResendSender struct {
	client *resty.Client
	from   string
	url    string
	logger *log.Entry
}

// NewResendSender создаёт отправителя.
func NewResendSender(cfg ResendConfig, logger *log.Entry) *ResendSender {
	if logger == nil {
		logger = log.WithField("component", "resend-sender")
	}
	url := cfg.URL
	if url == "" {
		url = DefaultResendURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetAuthToken(cfg.APIKey)

	return &ResendSender{client: client, from: cfg.From, url: url, logger: logger}
}

type resendEmail struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// SendOrderConfirmation отправляет письмо-подтверждение.
func (s *ResendSender) SendOrderConfirmation(ctx context.Context, c domain.OrderConfirmation) error {
	if strings.TrimSpace(c.Email) == "" {
		return fmt.Errorf("%w: recipient email is empty", domain.ErrValidation)
	}
	html, err := RenderConfirmation(c)
	if err != nil {
		return err
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeaders(map[string]string{
			"Accept":       "application/json",
			"Content-Type": "application/json",
		}).
		SetBody(resendEmail{
			From:    s.from,
			To:      []string{c.Email},
			Subject: fmt.Sprintf("Order #%s confirmed", c.OrderNumber),
			HTML:    html,
		}).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNotificationFailed, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%w: resend status %d: %s", domain.ErrNotificationFailed, resp.StatusCode(), resp.Body())
	}

	s.logger.WithFields(log.Fields{
		"order_number": c.OrderNumber,
		"order_id":     c.OrderID,
	}).Info("order confirmation sent")
	return nil
}

// LogSender пишет письмо в лог. Используется без RESEND_API_KEY.
type LogSender struct {
	logger *log.Entry
}

// NewLogSender создаёт отправителя-заглушку.
func NewLogSender(logger *log.Entry) *LogSender {
	if logger == nil {
		logger = log.WithField("component", "log-sender")
	}
	return &LogSender{logger: logger}
}

// SendOrderConfirmation логирует подтверждение.
func (s *LogSender) SendOrderConfirmation(_ context.Context, c domain.OrderConfirmation) error {
	s.logger.WithFields(log.Fields{
		"email":        c.Email,
		"order_number": c.OrderNumber,
		"items":        len(c.Items),
		"total":        c.Total.String(),
		"currency":     c.Currency,
	}).Info("order confirmation (email delivery disabled)")
	return nil
}

// OutboxPublisher доставляет события outbox отправителю писем напрямую, без брокера.
type OutboxPublisher struct {
	sender domain.NotificationSender
	logger *log.Entry
}

// NewOutboxPublisher создаёт публикатор.
func NewOutboxPublisher(sender domain.NotificationSender, logger *log.Entry) *OutboxPublisher {
	if logger == nil {
		logger = log.WithField("component", "notification-publisher")
	}
	return &OutboxPublisher{sender: sender, logger: logger}
}

// Publish отправляет письмо для OrderConfirmationRequested; прочие события пропускаются.
func (p *OutboxPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	return Deliver(ctx, p.sender, msg.EventType, msg.Payload)
}

// Deliver декодирует событие и передаёт его отправителю. Общий путь для
// прямой доставки из outbox и для Kafka consumer.
func Deliver(ctx context.Context, sender domain.NotificationSender, eventType string, payload []byte) error {
	if eventType != domain.EventOrderConfirmationRequested {
		return nil
	}
	var confirmation domain.OrderConfirmation
	if err := json.Unmarshal(payload, &confirmation); err != nil {
		return fmt.Errorf("%w: decode confirmation: %v", domain.ErrValidation, err)
	}
	return sender.SendOrderConfirmation(ctx, confirmation)
}

var (
	_ domain.NotificationSender = (*ResendSender)(nil)
	_ domain.NotificationSender = (*LogSender)(nil)
	_ domain.OutboxPublisher    = (*OutboxPublisher)(nil)
)
