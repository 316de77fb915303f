package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartItem — позиция корзины. Price хранит цену строки (цена за единицу * количество)
// на момент последнего изменения и не пересчитывается от текущей цены товара.
type CartItem struct {
	ID        string
	ProductID string
	Quantity  int
	Price     decimal.Decimal
}

// Cart принадлежит ровно одному пользователю.
type Cart struct {
	ID        string
	UserID    string
	Items     []CartItem
	CouponID  *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StockLines возвращает количества по товарам корзины.
func (c Cart) StockLines() []StockLine {
	lines := make([]StockLine, 0, len(c.Items))
	for _, item := range c.Items {
		lines = append(lines, StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

// Clone возвращает копию корзины, не разделяющую срезы и указатели.
func (c Cart) Clone() Cart {
	out := c
	out.Items = append([]CartItem(nil), c.Items...)
	if c.CouponID != nil {
		id := *c.CouponID
		out.CouponID = &id
	}
	return out
}
