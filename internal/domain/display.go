package domain

import "github.com/shopspring/decimal"

// DisplayValue converts an integer ledger value in minor units to a decimal
// with the given number of fractional digits (e.g. 1250 with 2 decimals is 12.50).
// Ledger arithmetic never goes through this; it is for presentation only.
func DisplayValue(v int64, decimals int32) decimal.Decimal {
	return decimal.New(v, -decimals)
}
