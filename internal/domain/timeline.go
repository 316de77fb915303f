package domain

import "time"

// Типы событий в истории заказа.
const (
	TimelineOrderCreated  = "order_created"
	TimelinePaymentPaid   = "payment_paid"
	TimelinePaymentFailed = "payment_failed"
	TimelineHoldExpired   = "hold_expired"
	TimelineStatusUpdated = "status_updated"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}
