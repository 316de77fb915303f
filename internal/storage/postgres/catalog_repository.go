package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type productRepository struct {
	q querier
}

func (r productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	var p domain.Product
	err := r.q.QueryRowContext(ctx, `
		SELECT id, name, price, stock, active
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, domain.ErrProductNotFound
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return p, nil
}

func (r productRepository) Save(ctx context.Context, p domain.Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Stock < 0 {
		return fmt.Errorf("%w: stock must be non-negative", domain.ErrValidation)
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO products (id, name, price, stock, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    price = EXCLUDED.price,
		    stock = EXCLUDED.stock,
		    active = EXCLUDED.active,
		    updated_at = NOW()
	`, p.ID, p.Name, p.Price, p.Stock, p.Active)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

// Decrement списывает остаток одним условным UPDATE: строка меняется, только если
// остатка хватает, поэтому параллельные оформления не уводят stock в минус.
func (r productRepository) Decrement(ctx context.Context, id string, qty int) error {
	if qty <= 0 {
		return domain.ErrQuantityInvalid
	}
	res, err := r.q.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - $2, updated_at = NOW()
		WHERE id = $1 AND stock >= $2
	`, id, qty)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return domain.ErrInsufficientStock
	}
	return nil
}

func (r productRepository) Increment(ctx context.Context, id string, qty int) error {
	if qty <= 0 {
		return domain.ErrQuantityInvalid
	}
	res, err := r.q.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = NOW()
		WHERE id = $1
	`, id, qty)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

type couponRepository struct {
	q querier
}

const couponColumns = `id, code, discount_type, discount_value, min_order, max_uses, used_count, expires_at, active, created_at`

func scanCoupon(row interface{ Scan(...any) error }) (domain.Coupon, error) {
	var (
		c         domain.Coupon
		kind      string
		maxUses   sql.NullInt64
		expiresAt sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.Code, &kind, &c.DiscountValue, &c.MinOrder, &maxUses, &c.UsedCount, &expiresAt, &c.Active, &c.CreatedAt); err != nil {
		return domain.Coupon{}, err
	}
	c.DiscountType = domain.DiscountType(kind)
	if maxUses.Valid {
		v := int(maxUses.Int64)
		c.MaxUses = &v
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		c.ExpiresAt = &t
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

func (r couponRepository) Get(ctx context.Context, id string) (domain.Coupon, error) {
	c, err := scanCoupon(r.q.QueryRowContext(ctx, `SELECT `+couponColumns+` FROM coupons WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}
	if err != nil {
		return domain.Coupon{}, fmt.Errorf("select coupon: %w", err)
	}
	return c, nil
}

func (r couponRepository) GetByCode(ctx context.Context, code string) (domain.Coupon, error) {
	c, err := scanCoupon(r.q.QueryRowContext(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE LOWER(code) = LOWER($1)`, strings.TrimSpace(code)))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}
	if err != nil {
		return domain.Coupon{}, fmt.Errorf("select coupon by code: %w", err)
	}
	return c, nil
}

func (r couponRepository) Save(ctx context.Context, c domain.Coupon) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	var (
		maxUses   sql.NullInt64
		expiresAt sql.NullTime
	)
	if c.MaxUses != nil {
		maxUses = sql.NullInt64{Int64: int64(*c.MaxUses), Valid: true}
	}
	if c.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *c.ExpiresAt, Valid: true}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = utcNow()
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO coupons (`+couponColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE
		SET code = EXCLUDED.code,
		    discount_type = EXCLUDED.discount_type,
		    discount_value = EXCLUDED.discount_value,
		    min_order = EXCLUDED.min_order,
		    max_uses = EXCLUDED.max_uses,
		    used_count = EXCLUDED.used_count,
		    expires_at = EXCLUDED.expires_at,
		    active = EXCLUDED.active
	`, c.ID, c.Code, string(c.DiscountType), c.DiscountValue, c.MinOrder, maxUses, c.UsedCount, expiresAt, c.Active, c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: coupon code %q already exists", domain.ErrConflict, c.Code)
		}
		return fmt.Errorf("upsert coupon: %w", err)
	}
	return nil
}

func (r couponRepository) IncrementUsage(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE coupons
		SET used_count = used_count + 1
		WHERE id = $1 AND (max_uses IS NULL OR used_count < max_uses)
	`, id)
	if err != nil {
		return fmt.Errorf("increment coupon usage: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return domain.ErrCouponExhausted
	}
	return nil
}

func (r couponRepository) DecrementUsage(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE coupons
		SET used_count = GREATEST(used_count - 1, 0)
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("decrement coupon usage: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrCouponNotFound
	}
	return nil
}

func (r couponRepository) List(ctx context.Context, query domain.CouponQuery) (domain.CouponPage, error) {
	query = query.Normalize()

	filter := ""
	var args []any
	if search := strings.TrimSpace(query.Search); search != "" {
		args = append(args, "%"+search+"%")
		filter = " WHERE code ILIKE $1"
	}

	page := domain.CouponPage{Page: query.Page, Size: query.Size, Items: []domain.Coupon{}}
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM coupons`+filter, args...).Scan(&page.Total); err != nil {
		return domain.CouponPage{}, fmt.Errorf("count coupons: %w", err)
	}

	args = append(args, query.Size, query.Offset())
	rows, err := r.q.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM coupons%s ORDER BY created_at DESC, code LIMIT $%d OFFSET $%d`,
		couponColumns, filter, len(args)-1, len(args),
	), args...)
	if err != nil {
		return domain.CouponPage{}, fmt.Errorf("list coupons: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return domain.CouponPage{}, fmt.Errorf("scan coupon: %w", err)
		}
		page.Items = append(page.Items, c)
	}
	if err := rows.Err(); err != nil {
		return domain.CouponPage{}, fmt.Errorf("iterate coupons: %w", err)
	}

	page.HasPrev = query.Page > 1
	page.HasNext = query.Offset()+query.Size < page.Total
	return page, nil
}

// Delete полагается на ON DELETE SET NULL у carts.coupon_id.
func (r couponRepository) Delete(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM coupons WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete coupon: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrCouponNotFound
	}
	return nil
}

type userRepository struct {
	q querier
}

func (r userRepository) Get(ctx context.Context, id string) (domain.User, error) {
	var (
		u       domain.User
		address []byte
	)
	err := r.q.QueryRowContext(ctx, `SELECT id, email, name, address FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.Name, &address)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("select user: %w", err)
	}
	if len(address) > 0 && string(address) != "null" {
		var addr domain.Address
		if err := json.Unmarshal(address, &addr); err != nil {
			return domain.User{}, fmt.Errorf("decode user address: %w", err)
		}
		u.Address = &addr
	}
	return u, nil
}

func (r userRepository) Save(ctx context.Context, u domain.User) error {
	if u.ID == "" {
		return domain.ErrUserRequired
	}
	var address sql.NullString
	if u.Address != nil {
		raw, err := json.Marshal(u.Address)
		if err != nil {
			return fmt.Errorf("encode user address: %w", err)
		}
		address = sql.NullString{String: string(raw), Valid: true}
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO users (id, email, name, address)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email, name = EXCLUDED.name, address = EXCLUDED.address
	`, u.ID, u.Email, u.Name, address)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}

var (
	_ domain.ProductRepository = productRepository{}
	_ domain.CouponRepository  = couponRepository{}
	_ domain.UserRepository    = userRepository{}
)
