package reservation_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/reservation"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

type fixture struct {
	store   *memory.Store
	manager *reservation.Manager
}

func newFixture(t *testing.T, stock int, maxUses *int) fixture {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Products().Save(ctx, domain.Product{ID: "p-1", Name: "Widget", Price: decimal.NewFromInt(500), Stock: stock, Active: true}); err != nil {
			return err
		}
		if err := tx.Products().Save(ctx, domain.Product{ID: "p-off", Name: "Retired", Price: decimal.NewFromInt(10), Stock: 50, Active: false}); err != nil {
			return err
		}
		return tx.Coupons().Save(ctx, domain.Coupon{ID: "c-1", Code: "TEN", DiscountType: domain.DiscountPercent, DiscountValue: decimal.NewFromInt(10), MaxUses: maxUses, Active: true})
	}))
	return fixture{store: store, manager: reservation.NewManager(nil, nil)}
}

func (f fixture) snapshot(t *testing.T) (stock, used int) {
	t.Helper()
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		p, err := tx.Products().Get(ctx, "p-1")
		if err != nil {
			return err
		}
		c, err := tx.Coupons().Get(ctx, "c-1")
		stock, used = p.Stock, c.UsedCount
		return err
	}))
	return stock, used
}

func ptr(s string) *string { return &s }

func TestManager_VerifyAvailability(t *testing.T) {
	f := newFixture(t, 3, nil)

	var availability domain.Availability
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		availability, err = f.manager.VerifyAvailability(ctx, tx, []domain.StockLine{
			{ProductID: "p-1", Quantity: 2},
			{ProductID: "p-1", Quantity: 2},
			{ProductID: "p-off", Quantity: 1},
			{ProductID: "p-missing", Quantity: 1},
		})
		return err
	}))

	assert.False(t, availability.OK)
	require.Len(t, availability.Shortages, 3)
	assert.Equal(t, domain.Shortage{ProductID: "p-1", Requested: 4, Available: 3}, availability.Shortages[0])
	assert.Equal(t, 0, availability.Shortages[1].Available)
}

func TestManager_HoldRestoreRoundTrip(t *testing.T) {
	f := newFixture(t, 10, nil)
	lines := []domain.StockLine{{ProductID: "p-1", Quantity: 2}}

	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return f.manager.Hold(ctx, tx, lines, ptr("c-1"))
	}))
	stock, used := f.snapshot(t)
	assert.Equal(t, 8, stock)
	assert.Equal(t, 1, used)

	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return f.manager.Restore(ctx, tx, lines, ptr("c-1"))
	}))
	stock, used = f.snapshot(t)
	assert.Equal(t, 10, stock)
	assert.Equal(t, 0, used)
}

func TestManager_HoldIsAllOrNothing(t *testing.T) {
	f := newFixture(t, 1, nil)

	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return f.manager.Hold(ctx, tx, []domain.StockLine{{ProductID: "p-1", Quantity: 2}}, ptr("c-1"))
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	stock, used := f.snapshot(t)
	assert.Equal(t, 1, stock)
	assert.Equal(t, 0, used)
}

func TestManager_CouponExhaustedRollsBackStock(t *testing.T) {
	zero := 0
	f := newFixture(t, 5, &zero)

	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return f.manager.Hold(ctx, tx, []domain.StockLine{{ProductID: "p-1", Quantity: 1}}, ptr("c-1"))
	})
	require.ErrorIs(t, err, domain.ErrCouponExhausted)

	stock, _ := f.snapshot(t)
	assert.Equal(t, 5, stock)
}

func TestManager_ConcurrentHoldsNeverOversell(t *testing.T) {
	const stock = 5
	f := newFixture(t, stock, nil)

	var (
		wg   sync.WaitGroup
		held atomic.Int64
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
				return f.manager.Hold(ctx, tx, []domain.StockLine{{ProductID: "p-1", Quantity: 1}}, nil)
			})
			if err == nil {
				held.Add(1)
			}
		}()
	}
	wg.Wait()

	remaining, _ := f.snapshot(t)
	assert.Equal(t, int64(stock), held.Load())
	assert.Equal(t, 0, remaining)
}

func TestManager_CommitDeletesCart(t *testing.T) {
	f := newFixture(t, 5, nil)
	ctx := context.Background()

	require.NoError(t, f.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Carts().Save(ctx, domain.Cart{UserID: "u-1", Items: []domain.CartItem{{ProductID: "p-1", Quantity: 1, Price: decimal.NewFromInt(500)}}}); err != nil {
			return err
		}
		return f.manager.Commit(ctx, tx, "u-1")
	}))

	err := f.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Carts().Get(ctx, "u-1")
		return err
	})
	require.ErrorIs(t, err, domain.ErrCartNotFound)
}
