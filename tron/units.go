package tron

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// NativeSymbol is the symbol of the chain's native currency.
const NativeSymbol = "TRX"

// SunDecimals is the number of fractional digits in one TRX.
const SunDecimals = 6

// SunPerTRX is the number of sun in one TRX.
const SunPerTRX = 1_000_000

// DisplayPlaces is the precision amounts are rounded to for display.
const DisplayPlaces = 2

// FromSun converts an amount in sun to TRX.
func FromSun(sun int64) decimal.Decimal {
	return decimal.New(sun, -SunDecimals)
}

// ToSun converts a TRX amount to sun, truncating anything below one sun.
func ToSun(trx decimal.Decimal) int64 {
	return trx.Shift(SunDecimals).IntPart()
}

// ScaleUnits converts a raw token amount into whole units using the token's decimal place.
func ScaleUnits(raw *big.Int, decimals int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, int32(-decimals))
}

// RoundDisplay rounds half-to-even to two fractional digits.
func RoundDisplay(value decimal.Decimal) decimal.Decimal {
	return value.RoundBank(DisplayPlaces)
}

// NormalizeSymbol upper-cases and trims a currency symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// IsNative reports whether symbol names the native currency.
func IsNative(symbol string) bool {
	return NormalizeSymbol(symbol) == NativeSymbol
}
