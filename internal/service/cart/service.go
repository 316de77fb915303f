// Package cart управляет корзиной покупателя: позиции и купон.
package cart

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/pricing"
)

// View — корзина с предварительным расчётом сумм.
type View struct {
	Cart   domain.Cart
	Coupon *domain.Coupon
	Totals pricing.Totals
}

// Service — операции над корзиной.
type Service struct {
	txm    domain.TxManager
	engine *pricing.Engine
	logger *log.Entry
	now    func() time.Time
}

// NewService создаёт сервис корзины.
func NewService(txm domain.TxManager, engine *pricing.Engine, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "cart")
	}
	return &Service{
		txm:    txm,
		engine: engine,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Get возвращает корзину, создавая пустую при первом обращении.
func (s *Service) Get(ctx context.Context, userID string) (View, error) {
	if userID == "" {
		return View{}, domain.ErrUserRequired
	}
	var view View
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		cart, err := getOrCreate(ctx, tx, userID)
		if err != nil {
			return err
		}
		view, err = s.view(ctx, tx, cart)
		return err
	})
	return view, err
}

// AddItem добавляет товар. Для уже лежащего в корзине товара количество
// складывается и ограничивается остатком; цена строки пересчитывается.
func (s *Service) AddItem(ctx context.Context, userID, productID string, qty int) (View, error) {
	if userID == "" {
		return View{}, domain.ErrUserRequired
	}
	if qty <= 0 {
		return View{}, domain.ErrQuantityInvalid
	}

	var view View
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		product, err := tx.Products().Get(ctx, productID)
		if err != nil {
			return err
		}
		if !product.Active {
			return domain.ErrProductNotFound
		}
		if qty > product.Stock {
			return domain.ErrQuantityExceeds
		}

		cart, err := getOrCreate(ctx, tx, userID)
		if err != nil {
			return err
		}

		merged := false
		for i := range cart.Items {
			item := &cart.Items[i]
			if item.ProductID != productID {
				continue
			}
			item.Quantity = min(item.Quantity+qty, product.Stock)
			item.Price = linePrice(product.Price, item.Quantity)
			merged = true
			break
		}
		if !merged {
			cart.Items = append(cart.Items, domain.CartItem{
				ProductID: productID,
				Quantity:  qty,
				Price:     linePrice(product.Price, qty),
			})
		}

		if err := tx.Carts().Save(ctx, cart); err != nil {
			return err
		}
		if cart, err = tx.Carts().Get(ctx, userID); err != nil {
			return err
		}
		view, err = s.view(ctx, tx, cart)
		return err
	})
	return view, err
}

// RemoveItem удаляет позицию и снимает купон: его условия считались от прежней суммы.
func (s *Service) RemoveItem(ctx context.Context, userID, itemID string) (View, error) {
	if userID == "" {
		return View{}, domain.ErrUserRequired
	}
	var view View
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		cart, err := tx.Carts().Get(ctx, userID)
		if errors.Is(err, domain.ErrCartNotFound) {
			return domain.ErrCartItemNotFound
		}
		if err != nil {
			return err
		}

		kept := cart.Items[:0]
		found := false
		for _, item := range cart.Items {
			if item.ID == itemID {
				found = true
				continue
			}
			kept = append(kept, item)
		}
		if !found {
			return domain.ErrCartItemNotFound
		}
		cart.Items = kept
		cart.CouponID = nil

		if err := tx.Carts().Save(ctx, cart); err != nil {
			return err
		}
		view, err = s.view(ctx, tx, cart)
		return err
	})
	return view, err
}

// ApplyCoupon привязывает купон к корзине, если он применим к текущей сумме.
func (s *Service) ApplyCoupon(ctx context.Context, userID, code string) (View, error) {
	if userID == "" {
		return View{}, domain.ErrUserRequired
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return View{}, domain.ErrCouponCodeRequired
	}

	var view View
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		coupon, err := tx.Coupons().GetByCode(ctx, code)
		if err != nil {
			return err
		}
		cart, err := tx.Carts().Get(ctx, userID)
		switch {
		case errors.Is(err, domain.ErrCartNotFound):
			return domain.ErrCartEmpty
		case err != nil:
			return err
		case len(cart.Items) == 0:
			return domain.ErrCartEmpty
		}

		if err := s.engine.ValidateCoupon(coupon, s.engine.Subtotal(cart.Items), s.now()); err != nil {
			return err
		}

		id := coupon.ID
		cart.CouponID = &id
		if err := tx.Carts().Save(ctx, cart); err != nil {
			return err
		}
		view, err = s.view(ctx, tx, cart)
		return err
	})
	if err != nil {
		return View{}, err
	}

	s.logger.WithFields(log.Fields{
		"user_id": userID,
		"coupon":  code,
	}).Info("coupon applied")
	return view, nil
}

func (s *Service) view(ctx context.Context, tx domain.Tx, cart domain.Cart) (View, error) {
	view := View{Cart: cart}
	if cart.CouponID != nil {
		coupon, err := tx.Coupons().Get(ctx, *cart.CouponID)
		switch {
		case errors.Is(err, domain.ErrCouponNotFound):
		case err != nil:
			return View{}, err
		default:
			view.Coupon = &coupon
		}
	}
	view.Totals = s.engine.Totals(cart.Items, view.Coupon)
	return view, nil
}

func getOrCreate(ctx context.Context, tx domain.Tx, userID string) (domain.Cart, error) {
	cart, err := tx.Carts().Get(ctx, userID)
	if !errors.Is(err, domain.ErrCartNotFound) {
		return cart, err
	}
	if err := tx.Carts().Save(ctx, domain.Cart{UserID: userID}); err != nil {
		return domain.Cart{}, err
	}
	return tx.Carts().Get(ctx, userID)
}

func linePrice(unit decimal.Decimal, qty int) decimal.Decimal {
	return unit.Mul(decimal.NewFromInt(int64(qty)))
}
