package domain

import "github.com/shopspring/decimal"

// Currency is the only currency the storefront charges in.
const Currency = "INR"

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds to two decimal places, half away from zero. Amounts in
// this system are never negative, so this is half-up.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ToMinorUnits converts a rupee amount to paise as the gateway expects.
func ToMinorUnits(d decimal.Decimal) int64 {
	return RoundMoney(d).Mul(hundred).IntPart()
}

// FromMinorUnits converts gateway paise back to rupees.
func FromMinorUnits(paise int64) decimal.Decimal {
	return decimal.NewFromInt(paise).Div(hundred)
}

// Percent returns round(amount * pct / 100, 2).
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return RoundMoney(amount.Mul(pct).Div(hundred))
}
