package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPaymentPending — заказ создан, оплата ожидается.
	OrderStatusPaymentPending OrderStatus = "payment_pending"
	// OrderStatusPaymentPaid — шлюз подтвердил оплату.
	OrderStatusPaymentPaid OrderStatus = "payment_paid"
	// OrderStatusPaymentFailed — оплата не прошла или удержание истекло.
	OrderStatusPaymentFailed OrderStatus = "payment_failed"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusCancelled — заказ отменён администратором.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Valid проверяет, что статус известен.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPaymentPending, OrderStatusPaymentPaid, OrderStatusPaymentFailed,
		OrderStatusShipped, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// fulfillmentTransitions — переходы, доступные администратору после оплаты.
var fulfillmentTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPaymentPaid: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:     {OrderStatusCancelled},
}

// CanFulfill проверяет, допустим ли переход from -> to при исполнении заказа.
func CanFulfill(from, to OrderStatus) bool {
	if from == to {
		return true
	}
	for _, next := range fulfillmentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OrderItem — неизменяемый снимок позиции корзины.
type OrderItem struct {
	ID         string
	ProductID  string
	Name       string
	Quantity   int
	UnitPrice  decimal.Decimal
	TotalPrice decimal.Decimal
}

// Order — снимок корзины на момент оформления. После создания меняется только статус
// и данные доставки.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	Status          OrderStatus
	Subtotal        decimal.Decimal
	Tax             decimal.Decimal
	Discount        decimal.Decimal
	Shipping        decimal.Decimal
	Total           decimal.Decimal
	Currency        string
	CouponID        *string
	ShippingAddress Address
	Items           []OrderItem
	DeliveryPartner string
	TrackingID      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StockLines возвращает количества по товарам заказа для возврата на склад.
func (o Order) StockLines() []StockLine {
	lines := make([]StockLine, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

// OrderQuery задаёт выборку истории заказов.
type OrderQuery struct {
	UserID   string
	Search   string
	Page     int
	Size     int
	SortDesc bool
}

// Normalize подставляет значения по умолчанию.
func (q OrderQuery) Normalize() OrderQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Size < 1 {
		q.Size = 10
	}
	if q.Size > 100 {
		q.Size = 100
	}
	return q
}

// Offset возвращает смещение для страницы.
func (q OrderQuery) Offset() int {
	return (q.Page - 1) * q.Size
}

// OrderPage — страница истории заказов.
type OrderPage struct {
	Items   []Order
	Page    int
	Size    int
	Total   int
	HasNext bool
	HasPrev bool
}
