package domain

import (
	"context"
	"time"
)

// TxManager выполняет fn в одной транзакции хранилища. Ошибка fn откатывает
// все изменения, сделанные через tx.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx даёт доступ к репозиториям внутри одной единицы работы.
type Tx interface {
	Products() ProductRepository
	Coupons() CouponRepository
	Carts() CartRepository
	Users() UserRepository
	Orders() OrderRepository
	Transactions() TransactionRepository
	Timeline() TimelineRepository
	Outbox() OutboxWriter
}

// ProductRepository — доступ к товарам и их остаткам.
type ProductRepository interface {
	Get(ctx context.Context, id string) (Product, error)
	Save(ctx context.Context, product Product) error
	// Decrement уменьшает остаток, только если его хватает; иначе ErrInsufficientStock.
	Decrement(ctx context.Context, id string, qty int) error
	Increment(ctx context.Context, id string, qty int) error
}

// CouponRepository — доступ к купонам и счётчику применений.
type CouponRepository interface {
	Get(ctx context.Context, id string) (Coupon, error)
	GetByCode(ctx context.Context, code string) (Coupon, error)
	Save(ctx context.Context, coupon Coupon) error
	// IncrementUsage увеличивает used_count, только пока лимит не исчерпан; иначе ErrCouponExhausted.
	IncrementUsage(ctx context.Context, id string) error
	// DecrementUsage уменьшает used_count, не опускаясь ниже нуля.
	DecrementUsage(ctx context.Context, id string) error
	List(ctx context.Context, query CouponQuery) (CouponPage, error)
	// Delete удаляет купон и отвязывает его от корзин.
	Delete(ctx context.Context, id string) error
}

// CartRepository хранит корзины пользователей.
type CartRepository interface {
	// Get возвращает корзину пользователя с блокировкой строки до конца транзакции.
	Get(ctx context.Context, userID string) (Cart, error)
	Save(ctx context.Context, cart Cart) error
	// Delete удаляет корзину вместе с позициями; отсутствие корзины не ошибка.
	Delete(ctx context.Context, userID string) error
}

// UserRepository — внешний репозиторий пользователей и адресов.
type UserRepository interface {
	Get(ctx context.Context, id string) (User, error)
	Save(ctx context.Context, user User) error
}

// OrderRepository хранит заказы и их позиции.
type OrderRepository interface {
	Create(ctx context.Context, order Order) error
	Get(ctx context.Context, id string) (Order, error)
	List(ctx context.Context, query OrderQuery) (OrderPage, error)
	UpdateStatus(ctx context.Context, id string, status OrderStatus) error
	UpdateFulfillment(ctx context.Context, id string, status OrderStatus, partner, trackingID string) error
	// Delete удаляет заказ вместе с позициями, транзакцией и историей.
	Delete(ctx context.Context, id string) error
	// NextOrderNumber выделяет следующий номер заказа; вызовы сериализуются до конца транзакции.
	NextOrderNumber(ctx context.Context) (string, error)
}

// TransactionRepository хранит платёжные транзакции.
type TransactionRepository interface {
	Create(ctx context.Context, txn OrderTransaction) error
	// GetForUpdate находит транзакцию по идентификатору шлюза и блокирует её строку.
	GetForUpdate(ctx context.Context, transactionID string) (OrderTransaction, error)
	GetByOrder(ctx context.Context, orderID string) (OrderTransaction, error)
	UpdateStatus(ctx context.Context, transactionID string, status TransactionStatus, metadata map[string]string) error
	// ListStale возвращает транзакции в статусе created, созданные раньше before.
	ListStale(ctx context.Context, before time.Time, limit int) ([]OrderTransaction, error)
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// OutboxWriter записывает событие в outbox в рамках текущей транзакции.
type OutboxWriter interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
}

// OutboxRepository используется воркером публикации вне бизнес-транзакций.
type OutboxRepository interface {
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// Статусы заказа на стороне шлюза.
const (
	GatewayOrderCreated   = "created"
	GatewayOrderAttempted = "attempted"
	GatewayOrderPaid      = "paid"
)

// GatewayOrderRequest — параметры создания удалённого заказа в шлюзе.
type GatewayOrderRequest struct {
	AmountMinor int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

// GatewayOrder — заказ на стороне платёжного шлюза.
type GatewayOrder struct {
	ID          string
	AmountMinor int64
	Currency    string
	Receipt     string
	Status      string
}

// PaymentGateway описывает клиента платёжного шлюза.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error)
	FetchOrder(ctx context.Context, gatewayOrderID string) (GatewayOrder, error)
	// KeyID — публичный ключ, который клиент передаёт в checkout-виджет.
	KeyID() string
}

// NotificationSender отправляет письма покупателю.
type NotificationSender interface {
	SendOrderConfirmation(ctx context.Context, confirmation OrderConfirmation) error
}
