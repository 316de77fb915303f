// Package checkout оформляет корзину: проверяет остатки, считает суммы,
// создаёт заказ в шлюзе и в одной транзакции материализует заказ,
// сохраняет платёжную транзакцию и удерживает остатки.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/ordering"
	"github.com/vladislavdragonenkov/checkout/internal/service/payment"
	"github.com/vladislavdragonenkov/checkout/internal/service/pricing"
	"github.com/vladislavdragonenkov/checkout/internal/service/reservation"
)

// VerifiedDetail — ответ успешной предварительной проверки корзины.
const VerifiedDetail = "Verified your cart proceed to checkout page"

const defaultIdempotencyTTL = 24 * time.Hour

// PaymentRequest — данные для открытия checkout-виджета шлюза.
type PaymentRequest struct {
	OrderID        string          `json:"orderId"`
	OrderNumber    string          `json:"orderNumber"`
	GatewayOrderID string          `json:"gatewayOrderId"`
	Amount         int64           `json:"amount"`
	Total          decimal.Decimal `json:"total"`
	Currency       string          `json:"currency"`
	Key            string          `json:"key"`
}

// Service — оформление заказа.
type Service struct {
	txm          domain.TxManager
	engine       *pricing.Engine
	reservations *reservation.Manager
	orders       *ordering.Service
	coordinator  *payment.Coordinator

	idem    domain.IdempotencyRepository
	idemTTL time.Duration
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

// WithIdempotency включает повтор ответа по Idempotency-Key.
func WithIdempotency(repo domain.IdempotencyRepository, ttl time.Duration) Option {
	return func(s *Service) {
		s.idem = repo
		if ttl > 0 {
			s.idemTTL = ttl
		}
	}
}

// NewService собирает сервис оформления.
func NewService(
	txm domain.TxManager,
	engine *pricing.Engine,
	reservations *reservation.Manager,
	orders *ordering.Service,
	coordinator *payment.Coordinator,
	opts ...Option,
) *Service {
	s := &Service{
		txm:          txm,
		engine:       engine,
		reservations: reservations,
		orders:       orders,
		coordinator:  coordinator,
		idemTTL:      defaultIdempotencyTTL,
		logger:       log.WithField("component", "checkout"),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verify проверяет, что корзина не пуста и все товары есть в наличии.
func (s *Service) Verify(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", domain.ErrUserRequired
	}
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		cart, err := loadCart(ctx, tx, userID)
		if err != nil {
			return err
		}
		return s.checkAvailability(ctx, tx, cart)
	})
	if err != nil {
		return "", err
	}
	return VerifiedDetail, nil
}

// CreatePaymentRequest оформляет корзину пользователя. С непустым
// idempotencyKey повторный запрос возвращает сохранённый результат.
func (s *Service) CreatePaymentRequest(ctx context.Context, userID, idempotencyKey string) (PaymentRequest, error) {
	if userID == "" {
		return PaymentRequest{}, domain.ErrUserRequired
	}
	if idempotencyKey == "" || s.idem == nil {
		return s.createPaymentRequest(ctx, userID)
	}
	return s.withIdempotency(ctx, userID, idempotencyKey)
}

// quote — состояние корзины, по которому считались суммы.
type quote struct {
	cart     domain.Cart
	user     domain.User
	products map[string]domain.Product
	totals   pricing.Totals
}

func (s *Service) createPaymentRequest(ctx context.Context, userID string) (resp PaymentRequest, err error) {
	done := s.metrics.CheckoutStarted()
	defer func() {
		switch {
		case err == nil:
			done(metrics.CheckoutSucceeded)
		case domain.IsValidation(err) || domain.IsConflict(err) || domain.IsNotFound(err):
			done(metrics.CheckoutRejected)
		default:
			done(metrics.CheckoutFailed)
		}
	}()

	var q quote
	if err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		q, err = s.prepare(ctx, tx, userID)
		return err
	}); err != nil {
		return PaymentRequest{}, err
	}

	// Заказ в шлюзе создаётся до транзакции: при отказе шлюза в БД ничего не пишется.
	draft := domain.Order{ID: uuid.NewString(), UserID: userID, Total: q.totals.Total}
	remote, err := s.coordinator.CreateRemoteIntent(ctx, draft)
	if err != nil {
		return PaymentRequest{}, err
	}

	var order domain.Order
	err = s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		current, err := s.prepare(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !current.totals.Equal(q.totals) {
			return domain.ErrCartChanged
		}

		order, err = s.orders.Materialize(ctx, tx, draft.ID, current.user, current.cart, current.products, current.totals, s.coordinator.Currency())
		if err != nil {
			return err
		}
		if _, err := s.coordinator.RecordTransaction(ctx, tx, order, remote.ID); err != nil {
			return err
		}
		return s.reservations.Hold(ctx, tx, current.cart.StockLines(), current.cart.CouponID)
	})
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"user_id":          userID,
			"gateway_order_id": remote.ID,
		}).Warn("checkout rolled back, gateway order left to expire")
		return PaymentRequest{}, err
	}

	s.logger.WithFields(log.Fields{
		"user_id":          userID,
		"order_id":         order.ID,
		"order_number":     order.OrderNumber,
		"gateway_order_id": remote.ID,
		"total":            order.Total.String(),
	}).Info("payment requested")

	return PaymentRequest{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		GatewayOrderID: remote.ID,
		Amount:         remote.AmountMinor,
		Total:          order.Total,
		Currency:       s.coordinator.Currency(),
		Key:            s.coordinator.KeyID(),
	}, nil
}

// prepare читает корзину, купон, товары и пользователя и считает суммы.
func (s *Service) prepare(ctx context.Context, tx domain.Tx, userID string) (quote, error) {
	cart, err := loadCart(ctx, tx, userID)
	if err != nil {
		return quote{}, err
	}
	if err := s.checkAvailability(ctx, tx, cart); err != nil {
		return quote{}, err
	}

	products := make(map[string]domain.Product, len(cart.Items))
	for _, item := range cart.Items {
		product, err := tx.Products().Get(ctx, item.ProductID)
		if err != nil {
			return quote{}, err
		}
		products[product.ID] = product
	}

	var coupon *domain.Coupon
	if cart.CouponID != nil {
		c, err := tx.Coupons().Get(ctx, *cart.CouponID)
		if err != nil {
			return quote{}, err
		}
		if err := s.engine.ValidateCoupon(c, s.engine.Subtotal(cart.Items), s.now()); err != nil {
			return quote{}, err
		}
		coupon = &c
	}

	user, err := tx.Users().Get(ctx, userID)
	if err != nil {
		return quote{}, err
	}
	if user.Address == nil {
		return quote{}, domain.ErrAddressRequired
	}

	return quote{
		cart:     cart,
		user:     user,
		products: products,
		totals:   s.engine.Totals(cart.Items, coupon),
	}, nil
}

func (s *Service) checkAvailability(ctx context.Context, tx domain.Tx, cart domain.Cart) error {
	availability, err := s.reservations.VerifyAvailability(ctx, tx, cart.StockLines())
	if err != nil {
		return err
	}
	if !availability.OK {
		s.logger.WithFields(log.Fields{
			"user_id":   cart.UserID,
			"shortages": len(availability.Shortages),
		}).Info("cart has unavailable items")
		return domain.ErrInsufficientStock
	}
	return nil
}

func loadCart(ctx context.Context, tx domain.Tx, userID string) (domain.Cart, error) {
	cart, err := tx.Carts().Get(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrCartNotFound):
		return domain.Cart{}, domain.ErrCartEmpty
	case err != nil:
		return domain.Cart{}, fmt.Errorf("load cart: %w", err)
	case len(cart.Items) == 0:
		return domain.Cart{}, domain.ErrCartEmpty
	}
	return cart, nil
}
