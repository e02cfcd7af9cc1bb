package signals

import (
	"time"

	"github.com/duchoang-qt/pa-trading-bot/pkg/types"
)

// Signal is a fully specified entry proposal. Prices are absolute;
// PriceRisk and RiskFraction are fractions of entry price and capital.
type Signal struct {
	Direction    types.Direction
	Entry        float64
	StopLoss     float64
	TakeProfit   float64
	PriceRisk    float64 // |entry - stop| / entry
	RiskFraction float64 // fraction of allocated capital at risk
	HasBOS       bool
	ZoneStrength int
	ZoneFeatures []string
	Time         time.Time
}

// RiskProfile carries the risk fractions the generator assigns to a
// signal, with and without break-of-structure confirmation.
type RiskProfile struct {
	WithoutBOS float64
	WithBOS    float64
}

// Source produces at most one signal from closed bars. A nil signal
// with nil error means no setup on this bar.
type Source interface {
	Generate(klines []types.OHLCV, symbol string, profile RiskProfile, useBOS bool) (*Signal, error)
}

// DynamicRiskProfile is the account-growth risk ladder: base 5% per
// trade, +1% for each +10% of profit over the initial balance, capped
// at 10%. Once profit reaches 50% the 10% level becomes the floor;
// dropping back below 50% unlocks the ladder again. Break-of-structure
// doubles the base, capped at 20%.
func DynamicRiskProfile(balance, initialBalance float64) RiskProfile {
	if initialBalance <= 0 {
		return RiskProfile{WithoutBOS: 0.05, WithBOS: 0.10}
	}
	profitPct := (balance - initialBalance) / initialBalance * 100

	minRisk := 0.05
	if profitPct >= 50 {
		minRisk = 0.10
	}
	base := 0.05 + float64(int(profitPct/10))*0.01
	if profitPct < 0 {
		base = 0.05
	}
	if base > 0.10 {
		base = 0.10
	}
	if base < minRisk {
		base = minRisk
	}

	withBOS := base * 2
	if withBOS > 0.20 {
		withBOS = 0.20
	}
	return RiskProfile{WithoutBOS: base, WithBOS: withBOS}
}
