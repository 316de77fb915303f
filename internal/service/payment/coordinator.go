// Package payment создаёт заказы в платёжном шлюзе и ведёт платёжные транзакции.
package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// DefaultCurrency — валюта платежей по умолчанию.
const DefaultCurrency = "INR"

// Coordinator связывает заказ с удалённым заказом шлюза через запись транзакции.
type Coordinator struct {
	gateway  domain.PaymentGateway
	txm      domain.TxManager
	currency string
	logger   *log.Entry
	now      func() time.Time
}

// NewCoordinator создаёт координатор. Пустая currency заменяется на DefaultCurrency.
func NewCoordinator(gateway domain.PaymentGateway, txm domain.TxManager, currency string, logger *log.Entry) *Coordinator {
	if logger == nil {
		logger = log.WithField("component", "payment-coordinator")
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	return &Coordinator{
		gateway:  gateway,
		txm:      txm,
		currency: currency,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Currency возвращает валюту платежей.
func (c *Coordinator) Currency() string {
	return c.currency
}

// KeyID — публичный ключ шлюза для клиента.
func (c *Coordinator) KeyID() string {
	return c.gateway.KeyID()
}

// CreateRemoteIntent создаёт заказ в шлюзе на сумму order.Total.
// Вызывается до транзакции БД: при отказе шлюза ничего не сохраняется.
func (c *Coordinator) CreateRemoteIntent(ctx context.Context, order domain.Order) (domain.GatewayOrder, error) {
	req := domain.GatewayOrderRequest{
		AmountMinor: domain.ToMinorUnits(order.Total),
		Currency:    c.currency,
		Receipt:     order.ID,
		Notes:       map[string]string{"user_id": order.UserID},
	}
	if order.OrderNumber != "" {
		req.Notes["order_number"] = order.OrderNumber
	}

	remote, err := c.gateway.CreateOrder(ctx, req)
	if err != nil {
		c.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"amount":   req.AmountMinor,
		}).Error("create gateway order failed")
		if domain.IsExternalService(err) {
			return domain.GatewayOrder{}, err
		}
		return domain.GatewayOrder{}, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}

	c.logger.WithFields(log.Fields{
		"order_id":         order.ID,
		"gateway_order_id": remote.ID,
		"amount":           req.AmountMinor,
		"currency":         req.Currency,
	}).Info("gateway order created")
	return remote, nil
}

// RecordTransaction сохраняет транзакцию в статусе created в рамках tx.
func (c *Coordinator) RecordTransaction(ctx context.Context, tx domain.Tx, order domain.Order, gatewayOrderID string) (domain.OrderTransaction, error) {
	if gatewayOrderID == "" {
		return domain.OrderTransaction{}, fmt.Errorf("%w: gateway order id is required", domain.ErrValidation)
	}
	now := c.now()
	txn := domain.OrderTransaction{
		ID:            uuid.NewString(),
		TransactionID: gatewayOrderID,
		OrderID:       order.ID,
		UserID:        order.UserID,
		Status:        domain.TransactionStatusCreated,
		Amount:        order.Total,
		Currency:      c.currency,
		PaymentMethod: "razorpay",
		Metadata:      map[string]string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.Transactions().Create(ctx, txn); err != nil {
		return domain.OrderTransaction{}, fmt.Errorf("record transaction: %w", err)
	}
	return txn, nil
}

// GetTransaction возвращает транзакцию по идентификатору шлюза.
func (c *Coordinator) GetTransaction(ctx context.Context, transactionID string) (domain.OrderTransaction, error) {
	var txn domain.OrderTransaction
	err := c.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		txn, err = tx.Transactions().GetForUpdate(ctx, transactionID)
		return err
	})
	return txn, err
}

// UpdateTransactionStatus переводит транзакцию из created в paid или failed.
// Повторный перевод из терминального статуса ничего не меняет: changed=false.
// Побочные эффекты (заказ, склад, корзина) выполняет reconcile.Handler.
func (c *Coordinator) UpdateTransactionStatus(
	ctx context.Context,
	tx domain.Tx,
	transactionID string,
	status domain.TransactionStatus,
	metadata map[string]string,
) (domain.OrderTransaction, bool, error) {
	if !status.Settable() {
		return domain.OrderTransaction{}, false, domain.ErrTransactionStatus
	}

	txn, err := tx.Transactions().GetForUpdate(ctx, transactionID)
	if err != nil {
		return domain.OrderTransaction{}, false, err
	}
	if txn.Status != domain.TransactionStatusCreated {
		return txn, false, nil
	}

	if err := tx.Transactions().UpdateStatus(ctx, transactionID, status, metadata); err != nil {
		return domain.OrderTransaction{}, false, fmt.Errorf("update transaction %s: %w", transactionID, err)
	}
	txn.Status = status
	if len(metadata) > 0 {
		if txn.Metadata == nil {
			txn.Metadata = make(map[string]string, len(metadata))
		}
		for k, v := range metadata {
			txn.Metadata[k] = v
		}
	}
	txn.UpdatedAt = c.now()
	return txn, true, nil
}

// FetchRemote запрашивает у шлюза состояние удалённого заказа.
func (c *Coordinator) FetchRemote(ctx context.Context, gatewayOrderID string) (domain.GatewayOrder, error) {
	return c.gateway.FetchOrder(ctx, gatewayOrderID)
}
