package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Типы агрегатов и событий transactional outbox.
const (
	AggregateOrder = "order"

	EventOrderConfirmationRequested = "OrderConfirmationRequested"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// ConfirmationItem — позиция в письме-подтверждении.
type ConfirmationItem struct {
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

// OrderConfirmation — полезная нагрузка события OrderConfirmationRequested.
type OrderConfirmation struct {
	OrderID     string             `json:"order_id"`
	OrderNumber string             `json:"order_number"`
	Email       string             `json:"email"`
	Currency    string             `json:"currency"`
	Total       decimal.Decimal    `json:"total"`
	Items       []ConfirmationItem `json:"items"`
}

// NewOrderConfirmation собирает подтверждение из снимка заказа.
func NewOrderConfirmation(order Order, email string) OrderConfirmation {
	items := make([]ConfirmationItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, ConfirmationItem{
			Name:       item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			TotalPrice: item.TotalPrice,
		})
	}
	return OrderConfirmation{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Email:       email,
		Currency:    order.Currency,
		Total:       order.Total,
		Items:       items,
	}
}
