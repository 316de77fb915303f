package app

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Демо-данные для локального запуска без базы.
const (
	DemoUserID     = "demo-user"
	DemoCouponCode = "WELCOME10"
)

func seedDemoCatalog(ctx context.Context, txm domain.TxManager) error {
	products := []domain.Product{
		{ID: "prod-lamp", Name: "Desk Lamp", Price: decimal.NewFromInt(500), Stock: 25, Active: true},
		{ID: "prod-mug", Name: "Ceramic Mug", Price: decimal.RequireFromString("249.50"), Stock: 100, Active: true},
		{ID: "prod-chair", Name: "Office Chair", Price: decimal.NewFromInt(4999), Stock: 5, Active: true},
	}
	maxUses := 1000

	return txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		for _, p := range products {
			if err := tx.Products().Save(ctx, p); err != nil {
				return err
			}
		}
		if err := tx.Coupons().Save(ctx, domain.Coupon{
			ID:            "coupon-welcome",
			Code:          DemoCouponCode,
			DiscountType:  domain.DiscountPercent,
			DiscountValue: decimal.NewFromInt(10),
			MinOrder:      decimal.NewFromInt(500),
			MaxUses:       &maxUses,
			Active:        true,
		}); err != nil {
			return err
		}
		return tx.Users().Save(ctx, domain.User{
			ID:    DemoUserID,
			Email: "demo@example.com",
			Name:  "Demo Buyer",
			Address: &domain.Address{
				FullName:   "Demo Buyer",
				Line1:      "221 MG Road",
				City:       "Bengaluru",
				State:      "KA",
				PostalCode: "560001",
				Country:    "IN",
			},
		})
	})
}
