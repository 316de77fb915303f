package domain

import "github.com/shopspring/decimal"

// Product — товар каталога. Ядро читает цену и меняет только остаток.
type Product struct {
	ID     string
	Name   string
	Price  decimal.Decimal
	Stock  int
	Active bool
}

// StockLine — количество конкретного товара для удержания или возврата на склад.
type StockLine struct {
	ProductID string
	Quantity  int
}

// Shortage описывает позицию, которой не хватает на складе.
type Shortage struct {
	ProductID string
	Requested int
	Available int
}

// Availability — результат предварительной проверки остатков.
type Availability struct {
	OK        bool
	Shortages []Shortage
}
