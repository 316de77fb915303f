package coupon_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/coupon"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

func intPtr(v int) *int { return &v }

func newService(t *testing.T) (*coupon.Service, *memory.Store, *time.Time) {
	t.Helper()
	store := memory.NewStore()
	now := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	svc := coupon.NewService(store, nil).WithClock(func() time.Time { return now })
	return svc, store, &now
}

func TestService_CreateValidates(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   coupon.Input
		err  error
	}{
		{"empty code", coupon.Input{Code: " ", DiscountType: domain.DiscountFixed}, domain.ErrCouponCodeRequired},
		{"unknown type", coupon.Input{Code: "X", DiscountType: "bogo"}, domain.ErrCouponDiscountType},
		{"negative value", coupon.Input{Code: "X", DiscountType: domain.DiscountFixed, DiscountValue: decimal.NewFromInt(-1)}, domain.ErrCouponValue},
		{"percent over 100", coupon.Input{Code: "X", DiscountType: domain.DiscountPercent, DiscountValue: decimal.NewFromInt(101)}, domain.ErrCouponValue},
		{"negative max uses", coupon.Input{Code: "X", DiscountType: domain.DiscountFixed, MaxUses: intPtr(-1)}, domain.ErrCouponValue},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.in)
			require.ErrorIs(t, err, tc.err)
			assert.True(t, domain.IsValidation(err))
		})
	}
}

func TestService_CreateAndList(t *testing.T) {
	svc, _, now := newService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, coupon.Input{Code: " SPRING15 ", DiscountType: domain.DiscountPercent, DiscountValue: decimal.NewFromInt(15)})
	require.NoError(t, err)
	assert.Equal(t, "SPRING15", first.Code)
	assert.True(t, first.Active)
	assert.True(t, first.CreatedAt.Equal(*now))

	*now = now.Add(time.Minute)
	_, err = svc.Create(ctx, coupon.Input{Code: "FLAT50", DiscountType: domain.DiscountFixed, DiscountValue: decimal.NewFromInt(50)})
	require.NoError(t, err)

	_, err = svc.Create(ctx, coupon.Input{Code: "spring15", DiscountType: domain.DiscountFixed, DiscountValue: decimal.NewFromInt(5)})
	require.Error(t, err)
	assert.True(t, domain.IsConflict(err))

	page, err := svc.List(ctx, domain.CouponQuery{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "FLAT50", page.Items[0].Code, "newest first")

	page, err = svc.List(ctx, domain.CouponQuery{Search: "spring", Size: 1})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, first.ID, page.Items[0].ID)
	assert.False(t, page.HasNext)

	page, err = svc.List(ctx, domain.CouponQuery{Page: 2, Size: 1})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.True(t, page.HasPrev)
	assert.Equal(t, "SPRING15", page.Items[0].Code)
}

func TestService_Update(t *testing.T) {
	svc, store, now := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, coupon.Input{
		Code:          "LIMITED",
		DiscountType:  domain.DiscountFixed,
		DiscountValue: decimal.NewFromInt(100),
		MaxUses:       intPtr(5),
	})
	require.NoError(t, err)
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		require.NoError(t, tx.Coupons().IncrementUsage(ctx, created.ID))
		return tx.Coupons().IncrementUsage(ctx, created.ID)
	}))

	_, err = svc.Update(ctx, created.ID, coupon.Patch{MaxUses: intPtr(1)})
	require.ErrorIs(t, err, domain.ErrCouponValue, "limit below used count")

	expires := now.Add(24 * time.Hour)
	minOrder := decimal.NewFromInt(500)
	inactive := false
	updated, err := svc.Update(ctx, created.ID, coupon.Patch{
		MinOrder:  &minOrder,
		ExpiresAt: &expires,
		Active:    &inactive,
	})
	require.NoError(t, err)
	assert.True(t, updated.MinOrder.Equal(minOrder))
	require.NotNil(t, updated.ExpiresAt)
	assert.False(t, updated.Active)
	assert.Equal(t, 2, updated.UsedCount)
	assert.Equal(t, 5, *updated.MaxUses)
	assert.True(t, updated.CreatedAt.Equal(created.CreatedAt))

	updated, err = svc.Update(ctx, created.ID, coupon.Patch{ClearMaxUses: true, ClearExpiry: true})
	require.NoError(t, err)
	assert.Nil(t, updated.MaxUses)
	assert.Nil(t, updated.ExpiresAt)

	_, err = svc.Update(ctx, "missing", coupon.Patch{Active: &inactive})
	require.ErrorIs(t, err, domain.ErrCouponNotFound)
}

func TestService_DeleteDetachesCarts(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, coupon.Input{Code: "BYE", DiscountType: domain.DiscountFixed, DiscountValue: decimal.NewFromInt(10)})
	require.NoError(t, err)
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Carts().Save(ctx, domain.Cart{ID: "cart-1", UserID: "u-1", CouponID: &created.ID})
	}))

	require.NoError(t, svc.Delete(ctx, created.ID))

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		cart, err := tx.Carts().Get(ctx, "u-1")
		require.NoError(t, err)
		assert.Nil(t, cart.CouponID)
		_, err = tx.Coupons().Get(ctx, created.ID)
		assert.ErrorIs(t, err, domain.ErrCouponNotFound)
		return nil
	}))

	require.ErrorIs(t, svc.Delete(ctx, created.ID), domain.ErrCouponNotFound)
}
