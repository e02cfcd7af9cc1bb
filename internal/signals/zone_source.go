package signals

import (
	"github.com/duchoang-qt/pa-trading-bot/internal/config"
	"github.com/duchoang-qt/pa-trading-bot/pkg/types"
)

const minHistoryBars = 100

// ZoneSource generates entries from consolidation zones in trend
// direction: longs bouncing off support in an uptrend, shorts
// rejecting resistance in a downtrend. Break-of-structure upgrades
// the risk fraction when the instrument opts in.
type ZoneSource struct {
	cfg         config.SignalConfig
	slBuffer    float64
	rewardRatio float64
}

func NewZoneSource(cfg config.SignalConfig, slBuffer, rewardRatio float64) *ZoneSource {
	return &ZoneSource{cfg: cfg, slBuffer: slBuffer, rewardRatio: rewardRatio}
}

// Generate evaluates the latest closed bar. A nil signal means no
// setup; it never returns both a signal and an error.
func (s *ZoneSource) Generate(klines []types.OHLCV, symbol string, profile RiskProfile, useBOS bool) (*Signal, error) {
	if len(klines) < minHistoryBars {
		return nil, nil
	}

	current := klines[len(klines)-1]
	prev := klines[len(klines)-2]
	currentPrice := current.Close

	zoneCfg := ZoneConfig{
		RapidMoveThreshold: s.cfg.RapidMoveThreshold,
		HistoricalLookback: s.cfg.HistoricalLookback,
		TouchTolerance:     s.cfg.TouchTolerance,
	}
	zones := EnhanceZones(klines, FindConsolidationZones(klines), zoneCfg)
	trend := DetectTrend(klines)

	if trend == TrendUp {
		if zone := findSupportZone(currentPrice, zones); zone != nil {
			inZone := current.Low <= zone.High && current.Low >= zone.Low
			bouncing := current.Close > prev.Close
			if inZone && bouncing {
				stopLoss := zone.Low * (1 - s.slBuffer)
				priceRisk := (currentPrice - stopLoss) / currentPrice
				if priceRisk > 0.01 && priceRisk < 0.10 {
					return s.build(klines, types.DirectionLong, current, zone, currentPrice, stopLoss, priceRisk, profile, useBOS), nil
				}
			}
		}
	}

	if trend == TrendDown {
		if zone := findResistanceZone(currentPrice, zones); zone != nil {
			inZone := current.High >= zone.Low && current.High <= zone.High
			falling := current.Close < prev.Close
			if inZone && falling {
				stopLoss := zone.High * (1 + s.slBuffer)
				priceRisk := (stopLoss - currentPrice) / currentPrice
				if priceRisk > 0.01 && priceRisk < 0.10 {
					return s.build(klines, types.DirectionShort, current, zone, currentPrice, stopLoss, priceRisk, profile, useBOS), nil
				}
			}
		}
	}

	return nil, nil
}

func (s *ZoneSource) build(klines []types.OHLCV, direction types.Direction, current types.OHLCV,
	zone *Zone, entry, stopLoss, priceRisk float64, profile RiskProfile, useBOS bool) *Signal {

	hasBOS := false
	riskFraction := profile.WithoutBOS
	if useBOS {
		trend := TrendUp
		if direction == types.DirectionShort {
			trend = TrendDown
		}
		bosCfg := BOSConfig{
			Lookback:            s.cfg.BOSLookback,
			MinBreakAmount:      s.cfg.MinBreakAmount,
			RequireCloseConfirm: s.cfg.RequireCloseConfirm,
		}
		if DetectBOS(klines, trend, bosCfg) {
			hasBOS = true
			riskFraction = profile.WithBOS
		}
	}

	takeProfit := entry + entry*priceRisk*s.rewardRatio
	if direction == types.DirectionShort {
		takeProfit = entry - entry*priceRisk*s.rewardRatio
	}

	return &Signal{
		Direction:    direction,
		Entry:        entry,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
		PriceRisk:    priceRisk,
		RiskFraction: riskFraction,
		HasBOS:       hasBOS,
		ZoneStrength: zone.Strength,
		ZoneFeatures: zone.Features,
		Time:         current.Timestamp,
	}
}
