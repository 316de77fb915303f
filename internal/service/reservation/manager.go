// Package reservation удерживает и возвращает остатки товаров и применения купонов.
// Все операции выполняются в транзакции, открытой вызывающим кодом.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

// Manager — удержание остатков и счётчика купона.
type Manager struct {
	logger  *log.Entry
	metrics *metrics.CheckoutMetrics
}

// NewManager создаёт менеджер. logger и m могут быть nil.
func NewManager(logger *log.Entry, m *metrics.CheckoutMetrics) *Manager {
	if logger == nil {
		logger = log.WithField("component", "reservation")
	}
	return &Manager{logger: logger, metrics: m}
}

// VerifyAvailability — предварительная проверка без изменений. Гарантией не является:
// между проверкой и Hold остаток может уйти к другому покупателю.
func (m *Manager) VerifyAvailability(ctx context.Context, tx domain.Tx, lines []domain.StockLine) (domain.Availability, error) {
	result := domain.Availability{OK: true}
	for _, line := range merge(lines) {
		product, err := tx.Products().Get(ctx, line.ProductID)
		switch {
		case errors.Is(err, domain.ErrProductNotFound):
			product = domain.Product{ID: line.ProductID}
		case err != nil:
			return domain.Availability{}, err
		}

		available := product.Stock
		if !product.Active {
			available = 0
		}
		if available < line.Quantity {
			result.OK = false
			result.Shortages = append(result.Shortages, domain.Shortage{
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: available,
			})
		}
	}
	return result, nil
}

// Hold списывает остатки условным декрементом и занимает одно применение купона.
// Любой отказ возвращается как ошибка, и вызывающий откатывает транзакцию целиком.
func (m *Manager) Hold(ctx context.Context, tx domain.Tx, lines []domain.StockLine, couponID *string) error {
	for _, line := range merge(lines) {
		if err := tx.Products().Decrement(ctx, line.ProductID, line.Quantity); err != nil {
			if domain.IsConflict(err) {
				m.metrics.RecordHoldConflict()
				m.logger.WithFields(log.Fields{
					"product_id": line.ProductID,
					"quantity":   line.Quantity,
				}).Info("stock hold rejected")
			}
			return fmt.Errorf("hold product %s: %w", line.ProductID, err)
		}
	}

	if couponID != nil {
		if err := tx.Coupons().IncrementUsage(ctx, *couponID); err != nil {
			if domain.IsConflict(err) {
				m.metrics.RecordHoldConflict()
			}
			return fmt.Errorf("hold coupon %s: %w", *couponID, err)
		}
	}
	return nil
}

// Restore — обратная к Hold операция: возвращает остатки и освобождает применение купона.
func (m *Manager) Restore(ctx context.Context, tx domain.Tx, lines []domain.StockLine, couponID *string) error {
	for _, line := range merge(lines) {
		if err := tx.Products().Increment(ctx, line.ProductID, line.Quantity); err != nil {
			return fmt.Errorf("restore product %s: %w", line.ProductID, err)
		}
	}
	if couponID != nil {
		err := tx.Coupons().DecrementUsage(ctx, *couponID)
		switch {
		case errors.Is(err, domain.ErrCouponNotFound):
			m.logger.WithField("coupon_id", *couponID).Warn("coupon removed before restore, usage not released")
		case err != nil:
			return fmt.Errorf("restore coupon %s: %w", *couponID, err)
		}
	}
	return nil
}

// Commit делает удержание постоянным. Остатки уже списаны, остаётся удалить корзину.
func (m *Manager) Commit(ctx context.Context, tx domain.Tx, userID string) error {
	if err := tx.Carts().Delete(ctx, userID); err != nil {
		return fmt.Errorf("delete cart of %s: %w", userID, err)
	}
	return nil
}

// merge складывает строки одного товара и упорядочивает их по id, чтобы
// конкурирующие транзакции блокировали строки товаров в одном порядке.
func merge(lines []domain.StockLine) []domain.StockLine {
	totals := make(map[string]int, len(lines))
	for _, line := range lines {
		totals[line.ProductID] += line.Quantity
	}
	merged := make([]domain.StockLine, 0, len(totals))
	for id, qty := range totals {
		merged = append(merged, domain.StockLine{ProductID: id, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductID < merged[j].ProductID })
	return merged
}
