// Package reconcile сводит ответы платёжного шлюза (webhook, опрос клиента,
// истечение удержания) с удержанием остатков. Каждая транзакция переходит
// из created в терминальный статус ровно один раз.
package reconcile

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/payment"
	"github.com/vladislavdragonenkov/checkout/internal/service/reservation"
)

// Источники перехода.
const (
	SourceWebhook = "webhook"
	SourceVerify  = "verify"
	SourceAdmin   = "admin"
	SourceSweeper = "sweeper"
)

// События webhook Razorpay.
const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
)

// Outcome — результат Apply.
type Outcome string

const (
	// OutcomeApplied — переход выполнен вместе с побочными эффектами.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate — транзакция уже в терминальном статусе, ничего не изменено.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeConflict — транзакция уже в противоположном терминальном статусе,
	// например оплата пришла после истечения удержания. Требует ручного возврата.
	OutcomeConflict Outcome = "conflict"
	// OutcomeNotFound — транзакция с таким идентификатором шлюза неизвестна.
	OutcomeNotFound Outcome = "not_found"
	// OutcomeIgnored — событие webhook не относится к оплате.
	OutcomeIgnored Outcome = "ignored"
)

// VerifyResult — ответ на опрос клиента.
type VerifyResult string

const (
	VerifyPending   VerifyResult = "pending"
	VerifyConfirmed VerifyResult = "confirmed"
	VerifyRejected  VerifyResult = "rejected"
)

// Handler выполняет переходы транзакции и связанные с ними изменения заказа,
// остатков, корзины, outbox и истории в одной транзакции хранилища.
type Handler struct {
	txm           domain.TxManager
	coordinator   *payment.Coordinator
	reservations  *reservation.Manager
	webhookSecret []byte
	gatewayLookup bool
	logger        *log.Entry
	metrics       *metrics.CheckoutMetrics
	now           func() time.Time
}

// Option настраивает Handler.
type Option func(*Handler)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithClock подменяет часы.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// WithGatewayLookup включает запрос статуса у шлюза при опросе клиента.
func WithGatewayLookup(enabled bool) Option {
	return func(h *Handler) { h.gatewayLookup = enabled }
}

// NewHandler создаёт обработчик. webhookSecret задаёт секрет подписи webhook.
func NewHandler(
	txm domain.TxManager,
	coordinator *payment.Coordinator,
	reservations *reservation.Manager,
	webhookSecret string,
	opts ...Option,
) *Handler {
	h := &Handler{
		txm:           txm,
		coordinator:   coordinator,
		reservations:  reservations,
		webhookSecret: []byte(webhookSecret),
		logger:        log.WithField("component", "reconcile"),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type webhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// VerifySignature сравнивает hex(HMAC-SHA256(secret, body)) с подписью за постоянное время.
func (h *Handler) VerifySignature(body []byte, signature string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return domain.ErrSignatureMissing
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return domain.ErrSignatureMismatch
	}
	mac := hmac.New(sha256.New, h.webhookSecret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), got) {
		return domain.ErrSignatureMismatch
	}
	return nil
}

// HandleWebhook проверяет подпись до разбора тела и применяет событие оплаты.
// Неизвестные события и неизвестные транзакции подтверждаются без изменений.
func (h *Handler) HandleWebhook(ctx context.Context, body []byte, signature string) (Outcome, error) {
	if err := h.VerifySignature(body, signature); err != nil {
		reason := "signature_mismatch"
		if errors.Is(err, domain.ErrSignatureMissing) {
			reason = "signature_missing"
		}
		h.metrics.RecordWebhookRejected(reason)
		h.logger.WithError(err).Warn("webhook rejected")
		return "", err
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.metrics.RecordWebhookRejected("malformed")
		return "", fmt.Errorf("%w: %v", domain.ErrWebhookPayload, err)
	}

	var status domain.TransactionStatus
	switch event.Event {
	case EventPaymentCaptured:
		status = domain.TransactionStatusPaid
	case EventPaymentFailed:
		status = domain.TransactionStatusFailed
	default:
		h.logger.WithField("event", event.Event).Debug("webhook event ignored")
		return OutcomeIgnored, nil
	}

	entity := event.Payload.Payment.Entity
	if entity.OrderID == "" {
		h.metrics.RecordWebhookRejected("malformed")
		return "", fmt.Errorf("%w: order_id is missing", domain.ErrWebhookPayload)
	}

	outcome, err := h.Apply(ctx, entity.OrderID, status, SourceWebhook, entity.ID)
	if err != nil {
		return "", err
	}
	if outcome == OutcomeNotFound {
		h.logger.WithField("gateway_order_id", entity.OrderID).Warn("webhook for unknown transaction acknowledged")
	}
	return outcome, nil
}

// Apply переводит транзакцию gatewayOrderID в status под блокировкой строки.
// paid: заказ оплачен, корзина удалена, в outbox ставится письмо-подтверждение.
// failed: заказ не оплачен, остатки и купон возвращаются по снимку заказа.
func (h *Handler) Apply(ctx context.Context, gatewayOrderID string, status domain.TransactionStatus, source, paymentID string) (Outcome, error) {
	if !status.Settable() {
		return "", domain.ErrTransactionStatus
	}

	outcome := OutcomeApplied
	var order domain.Order
	err := h.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var metadata map[string]string
		if paymentID != "" {
			metadata = map[string]string{"payment_id": paymentID}
		}
		metadata = withSource(metadata, source)

		txn, changed, err := h.coordinator.UpdateTransactionStatus(ctx, tx, gatewayOrderID, status, metadata)
		switch {
		case errors.Is(err, domain.ErrTransactionNotFound):
			outcome = OutcomeNotFound
			return nil
		case err != nil:
			return err
		case !changed && txn.Status != status:
			outcome = OutcomeConflict
			order.ID = txn.OrderID
			return nil
		case !changed:
			outcome = OutcomeDuplicate
			return nil
		}

		order, err = tx.Orders().Get(ctx, txn.OrderID)
		if err != nil {
			return fmt.Errorf("load order %s: %w", txn.OrderID, err)
		}

		if status == domain.TransactionStatusPaid {
			return h.settlePaid(ctx, tx, order, source)
		}
		return h.settleFailed(ctx, tx, order, source)
	})
	if err != nil {
		h.logger.WithError(err).WithFields(log.Fields{
			"gateway_order_id": gatewayOrderID,
			"status":           status,
			"source":           source,
		}).Error("reconcile failed")
		return "", err
	}

	h.metrics.RecordTransition(source, string(outcome))
	entry := h.logger.WithFields(log.Fields{
		"gateway_order_id": gatewayOrderID,
		"status":           status,
		"source":           source,
		"outcome":          outcome,
	})
	switch outcome {
	case OutcomeApplied:
		entry.WithField("order_id", order.ID).Info("transaction settled")
	case OutcomeConflict:
		entry.WithFields(log.Fields{
			"order_id":   order.ID,
			"payment_id": paymentID,
		}).Warn("transaction already settled with the opposite status")
	default:
		entry.Debug("transaction not changed")
	}
	return outcome, nil
}

func (h *Handler) settlePaid(ctx context.Context, tx domain.Tx, order domain.Order, source string) error {
	if err := tx.Orders().UpdateStatus(ctx, order.ID, domain.OrderStatusPaymentPaid); err != nil {
		return fmt.Errorf("mark order paid: %w", err)
	}
	if err := h.reservations.Commit(ctx, tx, order.UserID); err != nil {
		return err
	}

	user, err := tx.Users().Get(ctx, order.UserID)
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		h.logger.WithField("order_id", order.ID).Warn("user missing, order confirmation skipped")
	case err != nil:
		return err
	default:
		payload, err := json.Marshal(domain.NewOrderConfirmation(order, user.Email))
		if err != nil {
			return fmt.Errorf("encode confirmation: %w", err)
		}
		if _, err := tx.Outbox().Enqueue(ctx, domain.OutboxMessage{
			ID:            uuid.NewString(),
			AggregateType: domain.AggregateOrder,
			AggregateID:   order.ID,
			EventType:     domain.EventOrderConfirmationRequested,
			Payload:       payload,
		}); err != nil {
			return fmt.Errorf("enqueue confirmation: %w", err)
		}
	}

	return h.appendTimeline(ctx, tx, order.ID, domain.TimelinePaymentPaid, "payment captured via "+source)
}

func (h *Handler) settleFailed(ctx context.Context, tx domain.Tx, order domain.Order, source string) error {
	if err := tx.Orders().UpdateStatus(ctx, order.ID, domain.OrderStatusPaymentFailed); err != nil {
		return fmt.Errorf("mark order failed: %w", err)
	}
	if err := h.reservations.Restore(ctx, tx, order.StockLines(), order.CouponID); err != nil {
		return err
	}

	eventType, reason := domain.TimelinePaymentFailed, "payment failed via "+source
	if source == SourceSweeper {
		eventType, reason = domain.TimelineHoldExpired, "hold expired, stock released"
	}
	return h.appendTimeline(ctx, tx, order.ID, eventType, reason)
}

func (h *Handler) appendTimeline(ctx context.Context, tx domain.Tx, orderID, eventType, reason string) error {
	if err := tx.Timeline().Append(ctx, domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: h.now(),
	}); err != nil {
		return fmt.Errorf("append timeline: %w", err)
	}
	h.metrics.RecordTimelineEvent()
	return nil
}

// VerifyStatus отвечает на опрос клиента userID. Чужая транзакция неотличима от
// несуществующей. Пока транзакция в created и включён запрос к шлюзу, оплаченный
// в шлюзе заказ применяется тем же путём, что и webhook.
func (h *Handler) VerifyStatus(ctx context.Context, userID, transactionID string) (VerifyResult, error) {
	txn, err := h.coordinator.GetTransaction(ctx, transactionID)
	if err != nil {
		return "", err
	}
	if txn.UserID != userID {
		return "", domain.ErrTransactionNotFound
	}

	if txn.Status == domain.TransactionStatusCreated && h.gatewayLookup {
		remote, err := h.coordinator.FetchRemote(ctx, transactionID)
		switch {
		case err != nil:
			h.logger.WithError(err).WithField("gateway_order_id", transactionID).Warn("gateway lookup failed, reporting pending")
		case remote.Status == domain.GatewayOrderPaid:
			if _, err := h.Apply(ctx, transactionID, domain.TransactionStatusPaid, SourceVerify, ""); err != nil {
				return "", err
			}
			txn, err = h.coordinator.GetTransaction(ctx, transactionID)
			if err != nil {
				return "", err
			}
		}
	}

	switch txn.Status {
	case domain.TransactionStatusPaid:
		return VerifyConfirmed, nil
	case domain.TransactionStatusFailed:
		return VerifyRejected, nil
	default:
		return VerifyPending, nil
	}
}

// SetStatus — внешний перевод транзакции в paid или failed с теми же побочными
// эффектами, что и у webhook. Для неизвестной транзакции возвращает ErrTransactionNotFound.
func (h *Handler) SetStatus(ctx context.Context, transactionID string, status domain.TransactionStatus) (Outcome, error) {
	outcome, err := h.Apply(ctx, transactionID, status, SourceAdmin, "")
	if err != nil {
		return "", err
	}
	if outcome == OutcomeNotFound {
		return "", domain.ErrTransactionNotFound
	}
	return outcome, nil
}

func withSource(metadata map[string]string, source string) map[string]string {
	if metadata == nil {
		metadata = make(map[string]string, 1)
	}
	metadata["settled_by"] = source
	return metadata
}
