// Package coupon — администрирование промокодов: создание, список, изменение
// и удаление. Применение купона к корзине живёт в пакете cart.
package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Input — поля нового купона.
type Input struct {
	Code          string
	DiscountType  domain.DiscountType
	DiscountValue decimal.Decimal
	MinOrder      decimal.Decimal
	MaxUses       *int
	ExpiresAt     *time.Time
}

// Patch — частичное изменение купона; nil-поля не меняются.
// ClearMaxUses и ClearExpiry снимают лимит и срок действия.
type Patch struct {
	Code          *string
	DiscountType  *domain.DiscountType
	DiscountValue *decimal.Decimal
	MinOrder      *decimal.Decimal
	MaxUses       *int
	ClearMaxUses  bool
	ExpiresAt     *time.Time
	ClearExpiry   bool
	Active        *bool
}

// Service управляет купонами.
type Service struct {
	txm    domain.TxManager
	logger *log.Entry
	now    func() time.Time
}

// NewService создаёт сервис. logger может быть nil.
func NewService(txm domain.TxManager, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "coupon")
	}
	return &Service{
		txm:    txm,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock подменяет часы.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create сохраняет новый активный купон. Код уникален без учёта регистра.
func (s *Service) Create(ctx context.Context, in Input) (domain.Coupon, error) {
	c := domain.Coupon{
		ID:            uuid.NewString(),
		Code:          strings.TrimSpace(in.Code),
		DiscountType:  in.DiscountType,
		DiscountValue: in.DiscountValue,
		MinOrder:      in.MinOrder,
		MaxUses:       in.MaxUses,
		ExpiresAt:     in.ExpiresAt,
		Active:        true,
		CreatedAt:     s.now(),
	}
	if err := c.Validate(); err != nil {
		return domain.Coupon{}, err
	}

	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Coupons().Save(ctx, c)
	})
	if err != nil {
		return domain.Coupon{}, err
	}
	s.logger.WithFields(log.Fields{"coupon_id": c.ID, "code": c.Code}).Info("coupon created")
	return c, nil
}

// List возвращает страницу купонов, новые первыми.
func (s *Service) List(ctx context.Context, query domain.CouponQuery) (domain.CouponPage, error) {
	var page domain.CouponPage
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		page, err = tx.Coupons().List(ctx, query)
		return err
	})
	return page, err
}

// Update применяет patch под той же проверкой правил, что и Create.
// Лимит применений нельзя опустить ниже уже занятых.
func (s *Service) Update(ctx context.Context, id string, patch Patch) (domain.Coupon, error) {
	var updated domain.Coupon
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		c, err := tx.Coupons().Get(ctx, id)
		if err != nil {
			return err
		}
		patch.apply(&c)
		if err := c.Validate(); err != nil {
			return err
		}
		if c.MaxUses != nil && *c.MaxUses < c.UsedCount {
			return domain.ErrCouponValue
		}
		if err := tx.Coupons().Save(ctx, c); err != nil {
			return err
		}
		updated = c
		return nil
	})
	if err != nil {
		return domain.Coupon{}, err
	}
	s.logger.WithField("coupon_id", id).Info("coupon updated")
	return updated, nil
}

// Delete удаляет купон. Корзины теряют ссылку на него; снимки в заказах остаются.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Coupons().Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.WithField("coupon_id", id).Info("coupon deleted")
	return nil
}

func (p Patch) apply(c *domain.Coupon) {
	if p.Code != nil {
		c.Code = strings.TrimSpace(*p.Code)
	}
	if p.DiscountType != nil {
		c.DiscountType = *p.DiscountType
	}
	if p.DiscountValue != nil {
		c.DiscountValue = *p.DiscountValue
	}
	if p.MinOrder != nil {
		c.MinOrder = *p.MinOrder
	}
	switch {
	case p.ClearMaxUses:
		c.MaxUses = nil
	case p.MaxUses != nil:
		v := *p.MaxUses
		c.MaxUses = &v
	}
	switch {
	case p.ClearExpiry:
		c.ExpiresAt = nil
	case p.ExpiresAt != nil:
		t := p.ExpiresAt.UTC()
		c.ExpiresAt = &t
	}
	if p.Active != nil {
		c.Active = *p.Active
	}
}
