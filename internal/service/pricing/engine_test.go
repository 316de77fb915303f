package pricing_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/pricing"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestEngine_HappyPathTotals(t *testing.T) {
	engine := pricing.NewEngine(pricing.DefaultConfig())
	items := []domain.CartItem{{ProductID: "p-1", Quantity: 2, Price: dec("1000")}}
	coupon := &domain.Coupon{DiscountType: domain.DiscountPercent, DiscountValue: dec("10"), MinOrder: dec("100"), Active: true}

	totals := engine.Totals(items, coupon)

	assert.True(t, totals.Subtotal.Equal(dec("1000")))
	assert.True(t, totals.Discount.Equal(dec("100")))
	assert.True(t, totals.Tax.IsZero())
	assert.True(t, totals.Shipping.Equal(dec("200")))
	assert.True(t, totals.Total.Equal(dec("1100")), "total %s", totals.Total)
	assert.True(t, totals.Payable().Equal(dec("900")))
}

func TestEngine_DiscountNeverExceedsSubtotal(t *testing.T) {
	engine := pricing.NewEngine(pricing.DefaultConfig())
	subtotal := dec("150")

	fixed := &domain.Coupon{DiscountType: domain.DiscountFixed, DiscountValue: dec("500")}
	assert.True(t, engine.Discount(fixed, subtotal).Equal(subtotal))

	percent := &domain.Coupon{DiscountType: domain.DiscountPercent, DiscountValue: dec("150")}
	assert.True(t, engine.Discount(percent, subtotal).Equal(subtotal))

	negative := &domain.Coupon{DiscountType: domain.DiscountFixed, DiscountValue: dec("-5")}
	assert.True(t, engine.Discount(negative, subtotal).IsZero())

	assert.True(t, engine.Discount(nil, subtotal).IsZero())
}

func TestEngine_ShippingFeeThreshold(t *testing.T) {
	engine := pricing.NewEngine(pricing.DefaultConfig())

	assert.True(t, engine.ShippingFee(dec("1999.99")).Equal(dec("200")))
	assert.True(t, engine.ShippingFee(dec("2000")).IsZero())
	assert.True(t, engine.ShippingFee(dec("5000")).IsZero())
}

func TestEngine_TaxIsConfigurable(t *testing.T) {
	cfg := pricing.DefaultConfig()
	cfg.TaxRate = dec("0.18")
	engine := pricing.NewEngine(cfg)

	totals := engine.Totals([]domain.CartItem{{Price: dec("2500")}}, nil)

	assert.True(t, totals.Tax.Equal(dec("450")))
	assert.True(t, totals.Shipping.IsZero())
	assert.True(t, totals.Total.Equal(dec("2950")))
}

func TestEngine_ValidateCoupon(t *testing.T) {
	engine := pricing.NewEngine(pricing.DefaultConfig())
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	expired := now
	later := now.Add(time.Hour)
	one := 1

	base := domain.Coupon{Code: "SAVE", MinOrder: dec("100"), Active: true, ExpiresAt: &later}

	require.NoError(t, engine.ValidateCoupon(base, dec("100"), now))

	inactive := base
	inactive.Active = false
	assert.ErrorIs(t, engine.ValidateCoupon(inactive, dec("500"), now), domain.ErrCouponInactive)

	atExpiry := base
	atExpiry.ExpiresAt = &expired
	assert.ErrorIs(t, engine.ValidateCoupon(atExpiry, dec("500"), now), domain.ErrCouponExpired)

	exhausted := base
	exhausted.MaxUses = &one
	exhausted.UsedCount = 1
	assert.ErrorIs(t, engine.ValidateCoupon(exhausted, dec("500"), now), domain.ErrCouponExhausted)

	err := engine.ValidateCoupon(base, dec("99.99"), now)
	assert.ErrorIs(t, err, domain.ErrCouponMinOrder)
	assert.True(t, domain.IsConflict(err))
}
