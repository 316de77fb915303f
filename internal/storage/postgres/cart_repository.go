package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type cartRepository struct {
	q querier
}

// Get блокирует строку корзины: оформление и правки корзины одного пользователя
// не пересекаются.
func (r cartRepository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	var (
		cart     domain.Cart
		couponID sql.NullString
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT id, user_id, coupon_id, created_at, updated_at
		FROM carts
		WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&cart.ID, &cart.UserID, &couponID, &cart.CreatedAt, &cart.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	if err != nil {
		return domain.Cart{}, fmt.Errorf("select cart: %w", err)
	}
	if couponID.Valid {
		cart.CouponID = &couponID.String
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT id, product_id, quantity, price
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY position, id
	`, cart.ID)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("select cart items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Quantity, &item.Price); err != nil {
			return domain.Cart{}, fmt.Errorf("scan cart item: %w", err)
		}
		cart.Items = append(cart.Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.Cart{}, fmt.Errorf("iterate cart items: %w", err)
	}
	return cart, nil
}

// Save перезаписывает корзину целиком: шапку upsert-ом, позиции заново.
func (r cartRepository) Save(ctx context.Context, cart domain.Cart) error {
	if cart.UserID == "" {
		return domain.ErrUserRequired
	}
	now := utcNow()
	if cart.ID == "" {
		cart.ID = uuid.NewString()
	}
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}

	var couponID sql.NullString
	if cart.CouponID != nil {
		couponID = sql.NullString{String: *cart.CouponID, Valid: true}
	}

	err := r.q.QueryRowContext(ctx, `
		INSERT INTO carts (id, user_id, coupon_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET coupon_id = EXCLUDED.coupon_id, updated_at = EXCLUDED.updated_at
		RETURNING id
	`, cart.ID, cart.UserID, couponID, cart.CreatedAt, now).Scan(&cart.ID)
	if err != nil {
		return fmt.Errorf("upsert cart: %w", err)
	}

	if _, err := r.q.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cart.ID); err != nil {
		return fmt.Errorf("clear cart items: %w", err)
	}
	for i, item := range cart.Items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if _, err := r.q.ExecContext(ctx, `
			INSERT INTO cart_items (id, cart_id, product_id, quantity, price, position)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, item.ID, cart.ID, item.ProductID, item.Quantity, item.Price, i); err != nil {
			return fmt.Errorf("insert cart item: %w", err)
		}
	}
	return nil
}

func (r cartRepository) Delete(ctx context.Context, userID string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM carts WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}

var _ domain.CartRepository = cartRepository{}
