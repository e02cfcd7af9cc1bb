package exchange

import (
	"fmt"
	"math"
)

// Precision is the venue's decimal-place limits for one symbol.
type Precision struct {
	Price    int
	Quantity int
}

// symbolPrecision covers the instruments the bot trades. Unknown
// symbols fall back to a conservative default.
var symbolPrecision = map[string]Precision{
	"BTCUSDT": {Price: 1, Quantity: 3},
	"SOLUSDT": {Price: 2, Quantity: 1},
	"ETHUSDT": {Price: 2, Quantity: 3},
}

// minNotional is the venue's minimum order value in USDT.
var minNotional = map[string]float64{
	"BTCUSDT": 105,
	"ETHUSDT": 25,
	"SOLUSDT": 8,
}

const defaultMinNotional = 10

// GetPrecision returns the precision for symbol.
func GetPrecision(symbol string) Precision {
	if p, ok := symbolPrecision[symbol]; ok {
		return p
	}
	return Precision{Price: 2, Quantity: 3}
}

// FormatPrice rounds a price to the symbol's tick precision.
func FormatPrice(symbol string, price float64) float64 {
	return roundTo(price, GetPrecision(symbol).Price)
}

// FormatQuantity rounds a quantity to the symbol's lot precision.
func FormatQuantity(symbol string, quantity float64) float64 {
	return roundTo(quantity, GetPrecision(symbol).Quantity)
}

// MinNotional returns the minimum order value for symbol.
func MinNotional(symbol string) float64 {
	if n, ok := minNotional[symbol]; ok {
		return n
	}
	return defaultMinNotional
}

// SizeOrder converts a desired position value into a venue-legal
// quantity: rounds to lot precision and enforces the notional floor.
func SizeOrder(symbol string, positionValue, price float64) (float64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("%s: non-positive price %.4f", symbol, price)
	}
	qty := FormatQuantity(symbol, positionValue/price)
	if qty <= 0 {
		return 0, fmt.Errorf("%s: value $%.2f rounds to zero quantity at %.4f", symbol, positionValue, price)
	}
	if notional := qty * price; notional < MinNotional(symbol) {
		return 0, fmt.Errorf("%s: notional $%.2f below venue minimum $%.2f", symbol, notional, MinNotional(symbol))
	}
	return qty, nil
}

func roundTo(v float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(v*factor) / factor
}
