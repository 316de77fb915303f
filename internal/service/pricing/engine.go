// Package pricing считает суммы корзины: подытог, налог, скидку по купону и доставку.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Config — параметры ценовой политики.
type Config struct {
	// TaxRate — доля налога от подытога (0.18 = 18%).
	TaxRate               decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	FlatShippingFee       decimal.Decimal
}

// DefaultConfig: налог 0, бесплатная доставка от 2000, иначе 200.
func DefaultConfig() Config {
	return Config{
		TaxRate:               decimal.Zero,
		FreeShippingThreshold: decimal.NewFromInt(2000),
		FlatShippingFee:       decimal.NewFromInt(200),
	}
}

// Totals — разбивка суммы заказа.
type Totals struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Discount decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
}

// Payable — сумма без доставки: subtotal + tax - discount.
func (t Totals) Payable() decimal.Decimal {
	return t.Subtotal.Add(t.Tax).Sub(t.Discount)
}

// Equal сравнивает разбивки по значению.
func (t Totals) Equal(other Totals) bool {
	return t.Subtotal.Equal(other.Subtotal) &&
		t.Tax.Equal(other.Tax) &&
		t.Discount.Equal(other.Discount) &&
		t.Shipping.Equal(other.Shipping) &&
		t.Total.Equal(other.Total)
}

// Engine не имеет состояния, кроме конфигурации, и безопасен для конкурентного использования.
type Engine struct {
	cfg Config
}

// NewEngine создаёт движок с заданной политикой.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Subtotal — сумма цен строк корзины.
func (e *Engine) Subtotal(items []domain.CartItem) decimal.Decimal {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.Price)
	}
	return subtotal
}

// Discount считает скидку купона. Скидка не бывает отрицательной и не превышает подытог.
func (e *Engine) Discount(coupon *domain.Coupon, subtotal decimal.Decimal) decimal.Decimal {
	if coupon == nil {
		return decimal.Zero
	}

	var discount decimal.Decimal
	switch coupon.DiscountType {
	case domain.DiscountPercent:
		discount = subtotal.Mul(coupon.DiscountValue).Div(hundred).RoundBank(2)
	case domain.DiscountFixed:
		discount = coupon.DiscountValue
	default:
		return decimal.Zero
	}

	if discount.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(discount, subtotal)
}

// ShippingFee — 0 начиная с порога бесплатной доставки, иначе фиксированная ставка.
func (e *Engine) ShippingFee(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.GreaterThanOrEqual(e.cfg.FreeShippingThreshold) {
		return decimal.Zero
	}
	return e.cfg.FlatShippingFee
}

// Totals считает полную разбивку. Купон не проверяется, для этого есть ValidateCoupon.
func (e *Engine) Totals(items []domain.CartItem, coupon *domain.Coupon) Totals {
	subtotal := e.Subtotal(items)
	t := Totals{
		Subtotal: subtotal,
		Tax:      subtotal.Mul(e.cfg.TaxRate).RoundBank(2),
		Discount: e.Discount(coupon, subtotal),
		Shipping: e.ShippingFee(subtotal),
	}
	t.Total = t.Payable().Add(t.Shipping)
	return t
}

// ValidateCoupon проверяет, можно ли применить купон к корзине с подытогом subtotal.
func (e *Engine) ValidateCoupon(coupon domain.Coupon, subtotal decimal.Decimal, now time.Time) error {
	switch {
	case !coupon.Active:
		return domain.ErrCouponInactive
	case coupon.Expired(now):
		return domain.ErrCouponExpired
	case coupon.Exhausted():
		return domain.ErrCouponExhausted
	case subtotal.LessThan(coupon.MinOrder):
		return domain.ErrCouponMinOrder
	}
	return nil
}
