package domain

import "github.com/shopspring/decimal"

// minorUnitScale — число минимальных единиц в одной основной (пайсы, центы).
var minorUnitScale = decimal.NewFromInt(100)

// ToMinorUnits переводит сумму в минимальные единицы валюты.
// Округление банковское (half-to-even), не усечение.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(minorUnitScale).RoundBank(0).IntPart()
}

// FromMinorUnits выполняет обратное преобразование.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(minorUnitScale)
}
