// Package ordering превращает корзину в неизменяемый заказ и отвечает на запросы
// по истории заказов.
package ordering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/pricing"
)

// Service — материализация заказов и чтение истории.
type Service struct {
	txm     domain.TxManager
	logger  *log.Entry
	metrics *metrics.CheckoutMetrics
	now     func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock подменяет часы.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService создаёт сервис заказов.
func NewService(txm domain.TxManager, opts ...Option) *Service {
	s := &Service{
		txm:    txm,
		logger: log.WithField("component", "ordering"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Materialize снимает копию корзины в заказ со статусом payment_pending.
// products должен содержать каждый товар корзины; имя и цена берутся оттуда
// и дальше не пересчитываются. Пустой orderID генерируется.
func (s *Service) Materialize(
	ctx context.Context,
	tx domain.Tx,
	orderID string,
	user domain.User,
	cart domain.Cart,
	products map[string]domain.Product,
	totals pricing.Totals,
	currency string,
) (domain.Order, error) {
	if user.Address == nil {
		return domain.Order{}, domain.ErrAddressRequired
	}
	if len(cart.Items) == 0 {
		return domain.Order{}, domain.ErrCartEmpty
	}

	number, err := tx.Orders().NextOrderNumber(ctx)
	if err != nil {
		return domain.Order{}, fmt.Errorf("allocate order number: %w", err)
	}

	if orderID == "" {
		orderID = uuid.NewString()
	}
	now := s.now()
	order := domain.Order{
		ID:              orderID,
		OrderNumber:     number,
		UserID:          user.ID,
		Status:          domain.OrderStatusPaymentPending,
		Subtotal:        totals.Subtotal,
		Tax:             totals.Tax,
		Discount:        totals.Discount,
		Shipping:        totals.Shipping,
		Total:           totals.Total,
		Currency:        currency,
		ShippingAddress: *user.Address,
		Items:           make([]domain.OrderItem, 0, len(cart.Items)),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if cart.CouponID != nil {
		id := *cart.CouponID
		order.CouponID = &id
	}

	for _, item := range cart.Items {
		product, ok := products[item.ProductID]
		if !ok {
			return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrProductNotFound, item.ProductID)
		}
		order.Items = append(order.Items, domain.OrderItem{
			ID:         uuid.NewString(),
			ProductID:  item.ProductID,
			Name:       product.Name,
			Quantity:   item.Quantity,
			UnitPrice:  product.Price,
			TotalPrice: item.Price,
		})
	}

	if err := tx.Orders().Create(ctx, order); err != nil {
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}
	if err := tx.Timeline().Append(ctx, domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     domain.TimelineOrderCreated,
		Reason:   "order " + number,
		Occurred: now,
	}); err != nil {
		return domain.Order{}, fmt.Errorf("append timeline: %w", err)
	}
	s.metrics.RecordTimelineEvent()

	return order, nil
}

// OrderDetails — заказ с платёжной транзакцией и историей.
type OrderDetails struct {
	Order       domain.Order
	Transaction *domain.OrderTransaction
	Timeline    []domain.TimelineEvent
}

// ListOrders возвращает страницу заказов пользователя.
func (s *Service) ListOrders(ctx context.Context, userID string, query domain.OrderQuery) (domain.OrderPage, error) {
	if userID == "" {
		return domain.OrderPage{}, domain.ErrUserRequired
	}
	query.UserID = userID

	var page domain.OrderPage
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		page, err = tx.Orders().List(ctx, query)
		return err
	})
	return page, err
}

// ListAllOrders возвращает страницу заказов всех пользователей (администратор).
func (s *Service) ListAllOrders(ctx context.Context, query domain.OrderQuery) (domain.OrderPage, error) {
	query.UserID = ""

	var page domain.OrderPage
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		page, err = tx.Orders().List(ctx, query)
		return err
	})
	return page, err
}

// GetOrder возвращает заказ пользователя. Чужой заказ неотличим от отсутствующего.
// Пустой userID снимает проверку владельца (администратор).
func (s *Service) GetOrder(ctx context.Context, userID, orderID string) (OrderDetails, error) {
	var details OrderDetails
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.Orders().Get(ctx, orderID)
		if err != nil {
			return err
		}
		if userID != "" && order.UserID != userID {
			return domain.ErrOrderNotFound
		}
		details.Order = order

		txn, err := tx.Transactions().GetByOrder(ctx, orderID)
		switch {
		case err == nil:
			details.Transaction = &txn
		case !errors.Is(err, domain.ErrTransactionNotFound):
			return err
		}

		details.Timeline, err = tx.Timeline().List(ctx, orderID)
		return err
	})
	return details, err
}

// UpdateFulfillment меняет статус исполнения оплаченного заказа и данные доставки.
func (s *Service) UpdateFulfillment(ctx context.Context, orderID string, status domain.OrderStatus, partner, trackingID string) (domain.Order, error) {
	if !status.Valid() {
		return domain.Order{}, domain.ErrFulfillmentStatus
	}

	var updated domain.Order
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.Orders().Get(ctx, orderID)
		if err != nil {
			return err
		}
		if !domain.CanFulfill(order.Status, status) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrFulfillmentStatus, order.Status, status)
		}
		if partner == "" {
			partner = order.DeliveryPartner
		}
		if trackingID == "" {
			trackingID = order.TrackingID
		}
		if err := tx.Orders().UpdateFulfillment(ctx, orderID, status, partner, trackingID); err != nil {
			return err
		}
		if order.Status != status {
			if err := tx.Timeline().Append(ctx, domain.TimelineEvent{
				OrderID:  orderID,
				Type:     domain.TimelineStatusUpdated,
				Reason:   fmt.Sprintf("%s -> %s", order.Status, status),
				Occurred: s.now(),
			}); err != nil {
				return err
			}
		}
		updated, err = tx.Orders().Get(ctx, orderID)
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id": orderID,
		"status":   status,
	}).Info("order fulfillment updated")
	return updated, nil
}

// DeleteOrder удаляет заказ вместе с транзакцией и историей (администратор).
// Пока оплата не завершена, удаление запрещено: удержание остатков ещё не снято.
func (s *Service) DeleteOrder(ctx context.Context, orderID string) error {
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Orders().Get(ctx, orderID); err != nil {
			return err
		}

		txn, err := tx.Transactions().GetByOrder(ctx, orderID)
		switch {
		case errors.Is(err, domain.ErrTransactionNotFound):
		case err != nil:
			return err
		default:
			locked, err := tx.Transactions().GetForUpdate(ctx, txn.TransactionID)
			if err != nil {
				return err
			}
			if locked.Status == domain.TransactionStatusCreated {
				return domain.ErrOrderPaymentPending
			}
		}
		return tx.Orders().Delete(ctx, orderID)
	})
	if err != nil {
		return err
	}

	s.logger.WithField("order_id", orderID).Info("order deleted")
	return nil
}
