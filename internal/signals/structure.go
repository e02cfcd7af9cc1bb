package signals

import (
	"math"

	"github.com/duchoang-qt/pa-trading-bot/pkg/types"
)

// Trend is the market structure read from swing sequences.
type Trend string

const (
	TrendUp      Trend = "up"
	TrendDown    Trend = "down"
	TrendNeutral Trend = "neutral"
)

// BOSConfig tunes break-of-structure detection.
type BOSConfig struct {
	Lookback            int
	MinBreakAmount      float64
	RequireCloseConfirm bool
}

const (
	swingFringe   = 3 // bars on each side that must be exceeded
	trendLookback = 40
)

type swingPoint struct {
	index int
	price float64
}

// findPreviousHigh returns the highest swing high in the lookback
// window, where a swing high exceeds the three bars on either side.
func findPreviousHigh(klines []types.OHLCV, lookback int) *swingPoint {
	if len(klines) < lookback {
		return nil
	}
	recent := klines[len(klines)-lookback:]

	best := swingPoint{index: -1, price: math.Inf(-1)}
	for i := swingFringe; i < len(recent)-swingFringe; i++ {
		if isSwingHigh(recent, i) && recent[i].High > best.price {
			best = swingPoint{index: i, price: recent[i].High}
		}
	}
	if best.index == -1 {
		return nil
	}
	return &best
}

func findPreviousLow(klines []types.OHLCV, lookback int) *swingPoint {
	if len(klines) < lookback {
		return nil
	}
	recent := klines[len(klines)-lookback:]

	best := swingPoint{index: -1, price: math.Inf(1)}
	for i := swingFringe; i < len(recent)-swingFringe; i++ {
		if isSwingLow(recent, i) && recent[i].Low < best.price {
			best = swingPoint{index: i, price: recent[i].Low}
		}
	}
	if best.index == -1 {
		return nil
	}
	return &best
}

func isSwingHigh(klines []types.OHLCV, i int) bool {
	for off := 1; off <= swingFringe; off++ {
		if klines[i].High <= klines[i-off].High || klines[i].High <= klines[i+off].High {
			return false
		}
	}
	return true
}

func isSwingLow(klines []types.OHLCV, i int) bool {
	for off := 1; off <= swingFringe; off++ {
		if klines[i].Low >= klines[i-off].Low || klines[i].Low >= klines[i+off].Low {
			return false
		}
	}
	return true
}

// DetectBOS reports whether the latest bar breaks the most recent
// swing point in the trend direction. The break must exceed
// MinBreakAmount; with RequireCloseConfirm the close must also clear
// the broken level, not just the wick.
func DetectBOS(klines []types.OHLCV, trend Trend, cfg BOSConfig) bool {
	if len(klines) == 0 {
		return false
	}
	current := klines[len(klines)-1]

	switch trend {
	case TrendUp:
		prevHigh := findPreviousHigh(klines, cfg.Lookback)
		if prevHigh == nil || current.High <= prevHigh.price {
			return false
		}
		if cfg.RequireCloseConfirm && current.Close <= prevHigh.price {
			return false
		}
		return (current.High-prevHigh.price)/prevHigh.price >= cfg.MinBreakAmount
	case TrendDown:
		prevLow := findPreviousLow(klines, cfg.Lookback)
		if prevLow == nil || current.Low >= prevLow.price {
			return false
		}
		if cfg.RequireCloseConfirm && current.Close >= prevLow.price {
			return false
		}
		return (prevLow.price-current.Low)/prevLow.price >= cfg.MinBreakAmount
	}
	return false
}

// DetectTrend classifies structure from the last three swing highs and
// lows: both sequences rising is an uptrend, both falling a downtrend,
// anything else neutral. Needs at least three of each to commit.
func DetectTrend(klines []types.OHLCV) Trend {
	if len(klines) < trendLookback {
		return TrendNeutral
	}
	recent := klines[len(klines)-trendLookback:]

	var highs, lows []swingPoint
	for i := swingFringe; i < len(recent)-swingFringe; i++ {
		if isSwingHigh(recent, i) {
			highs = append(highs, swingPoint{index: i, price: recent[i].High})
		}
		if isSwingLow(recent, i) {
			lows = append(lows, swingPoint{index: i, price: recent[i].Low})
		}
	}

	if len(highs) < 3 || len(lows) < 3 {
		return TrendNeutral
	}
	lastHighs := highs[len(highs)-3:]
	lastLows := lows[len(lows)-3:]

	lowsRising := lastLows[2].price > lastLows[1].price && lastLows[1].price > lastLows[0].price
	highsRising := lastHighs[2].price > lastHighs[1].price && lastHighs[1].price > lastHighs[0].price
	if lowsRising && highsRising {
		return TrendUp
	}

	lowsFalling := lastLows[2].price < lastLows[1].price && lastLows[1].price < lastLows[0].price
	highsFalling := lastHighs[2].price < lastHighs[1].price && lastHighs[1].price < lastHighs[0].price
	if lowsFalling && highsFalling {
		return TrendDown
	}
	return TrendNeutral
}
