package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DiscountType задаёт способ расчёта скидки купона.
type DiscountType string

const (
	// DiscountPercent — процент от суммы корзины.
	DiscountPercent DiscountType = "percent"
	// DiscountFixed — фиксированная сумма.
	DiscountFixed DiscountType = "fixed"
)

// Coupon — промокод с ограничениями на минимальную сумму, число применений и срок.
type Coupon struct {
	ID            string
	Code          string
	DiscountType  DiscountType
	DiscountValue decimal.Decimal
	MinOrder      decimal.Decimal
	MaxUses       *int
	UsedCount     int
	ExpiresAt     *time.Time
	Active        bool
	CreatedAt     time.Time
}

// Validate проверяет правила купона перед сохранением из админки.
func (c Coupon) Validate() error {
	switch {
	case strings.TrimSpace(c.Code) == "":
		return ErrCouponCodeRequired
	case c.DiscountType != DiscountPercent && c.DiscountType != DiscountFixed:
		return ErrCouponDiscountType
	case c.DiscountValue.IsNegative() || c.MinOrder.IsNegative():
		return ErrCouponValue
	case c.DiscountType == DiscountPercent && c.DiscountValue.GreaterThan(decimal.NewFromInt(100)):
		return ErrCouponValue
	case c.MaxUses != nil && *c.MaxUses < 0:
		return ErrCouponValue
	}
	return nil
}

// CouponQuery задаёт выборку купонов в админке.
type CouponQuery struct {
	Search string
	Page   int
	Size   int
}

// Normalize подставляет значения по умолчанию.
func (q CouponQuery) Normalize() CouponQuery {
	o := OrderQuery{Page: q.Page, Size: q.Size}.Normalize()
	q.Page, q.Size = o.Page, o.Size
	return q
}

// Offset возвращает смещение для страницы.
func (q CouponQuery) Offset() int {
	return (q.Page - 1) * q.Size
}

// CouponPage — страница списка купонов, новые первыми.
type CouponPage struct {
	Items   []Coupon
	Page    int
	Size    int
	Total   int
	HasNext bool
	HasPrev bool
}

// Exhausted сообщает, исчерпан ли лимит применений.
func (c Coupon) Exhausted() bool {
	return c.MaxUses != nil && c.UsedCount >= *c.MaxUses
}

// Expired сообщает, истёк ли срок действия на момент now.
func (c Coupon) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}
