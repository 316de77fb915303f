package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type productRepository struct {
	st *state
}

func (r productRepository) Get(_ context.Context, id string) (domain.Product, error) {
	product, ok := r.st.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

func (r productRepository) Save(_ context.Context, product domain.Product) error {
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	if product.Stock < 0 {
		return fmt.Errorf("%w: stock must be non-negative", domain.ErrValidation)
	}
	r.st.products[product.ID] = product
	return nil
}

func (r productRepository) Decrement(_ context.Context, id string, qty int) error {
	product, ok := r.st.products[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	if qty <= 0 {
		return domain.ErrQuantityInvalid
	}
	if product.Stock < qty {
		return domain.ErrInsufficientStock
	}
	product.Stock -= qty
	r.st.products[id] = product
	return nil
}

func (r productRepository) Increment(_ context.Context, id string, qty int) error {
	product, ok := r.st.products[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	if qty <= 0 {
		return domain.ErrQuantityInvalid
	}
	product.Stock += qty
	r.st.products[id] = product
	return nil
}

type couponRepository struct {
	st  *state
	now func() time.Time
}

func (r couponRepository) Get(_ context.Context, id string) (domain.Coupon, error) {
	coupon, ok := r.st.coupons[id]
	if !ok {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}
	return cloneCoupon(coupon), nil
}

func (r couponRepository) GetByCode(_ context.Context, code string) (domain.Coupon, error) {
	for _, coupon := range r.st.coupons {
		if strings.EqualFold(coupon.Code, code) {
			return cloneCoupon(coupon), nil
		}
	}
	return domain.Coupon{}, domain.ErrCouponNotFound
}

func (r couponRepository) Save(_ context.Context, coupon domain.Coupon) error {
	if coupon.ID == "" {
		coupon.ID = uuid.NewString()
	}
	for id, existing := range r.st.coupons {
		if id != coupon.ID && strings.EqualFold(existing.Code, coupon.Code) {
			return fmt.Errorf("%w: coupon code %q already exists", domain.ErrConflict, coupon.Code)
		}
	}
	if existing, ok := r.st.coupons[coupon.ID]; ok {
		coupon.CreatedAt = existing.CreatedAt
	}
	if coupon.CreatedAt.IsZero() {
		coupon.CreatedAt = r.now()
	}
	r.st.coupons[coupon.ID] = cloneCoupon(coupon)
	return nil
}

func (r couponRepository) List(_ context.Context, query domain.CouponQuery) (domain.CouponPage, error) {
	query = query.Normalize()
	search := strings.ToLower(strings.TrimSpace(query.Search))

	matched := make([]domain.Coupon, 0, len(r.st.coupons))
	for _, coupon := range r.st.coupons {
		if search != "" && !strings.Contains(strings.ToLower(coupon.Code), search) {
			continue
		}
		matched = append(matched, coupon)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].Code < matched[j].Code
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page := domain.CouponPage{
		Page:    query.Page,
		Size:    query.Size,
		Total:   len(matched),
		HasPrev: query.Page > 1,
		HasNext: query.Offset()+query.Size < len(matched),
		Items:   []domain.Coupon{},
	}
	if start := query.Offset(); start < len(matched) {
		end := min(start+query.Size, len(matched))
		for _, coupon := range matched[start:end] {
			page.Items = append(page.Items, cloneCoupon(coupon))
		}
	}
	return page, nil
}

func (r couponRepository) Delete(_ context.Context, id string) error {
	if _, ok := r.st.coupons[id]; !ok {
		return domain.ErrCouponNotFound
	}
	delete(r.st.coupons, id)
	for userID, cart := range r.st.carts {
		if cart.CouponID != nil && *cart.CouponID == id {
			cart.CouponID = nil
			r.st.carts[userID] = cart
		}
	}
	return nil
}

func (r couponRepository) IncrementUsage(_ context.Context, id string) error {
	coupon, ok := r.st.coupons[id]
	if !ok {
		return domain.ErrCouponNotFound
	}
	if coupon.Exhausted() {
		return domain.ErrCouponExhausted
	}
	coupon.UsedCount++
	r.st.coupons[id] = coupon
	return nil
}

func (r couponRepository) DecrementUsage(_ context.Context, id string) error {
	coupon, ok := r.st.coupons[id]
	if !ok {
		return domain.ErrCouponNotFound
	}
	if coupon.UsedCount > 0 {
		coupon.UsedCount--
	}
	r.st.coupons[id] = coupon
	return nil
}

type userRepository struct {
	st *state
}

func (r userRepository) Get(_ context.Context, id string) (domain.User, error) {
	user, ok := r.st.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return cloneUser(user), nil
}

func (r userRepository) Save(_ context.Context, user domain.User) error {
	if user.ID == "" {
		return domain.ErrUserRequired
	}
	r.st.users[user.ID] = cloneUser(user)
	return nil
}

var (
	_ domain.ProductRepository = productRepository{}
	_ domain.CouponRepository  = couponRepository{}
	_ domain.UserRepository    = userRepository{}
)
