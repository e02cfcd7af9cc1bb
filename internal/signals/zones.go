package signals

import (
	"fmt"
	"math"

	"github.com/duchoang-qt/pa-trading-bot/pkg/types"
)

// Zone is a consolidation range where price spent enough bars to make
// the level meaningful as support or resistance.
type Zone struct {
	Index    int // bar index at which the zone was detected
	High     float64
	Low      float64
	Mid      float64
	Range    float64 // (high - low) / low
	BarCount int
	Strength int
	Features []string
}

// ZoneConfig tunes detection and enhancement.
type ZoneConfig struct {
	RapidMoveThreshold float64
	HistoricalLookback int
	TouchTolerance     float64
}

const (
	zoneLookback   = 40
	zoneMinBars    = 5
	zoneMaxRange   = 0.05
	mergeDistance  = 0.02
	mergeBarWindow = 20
)

// FindConsolidationZones scans the history with a widening range
// sweep (1% to 5% in 0.5% steps) and keeps the tightest range that
// still holds at least zoneMinBars bars. Nearby detections are merged,
// keeping the denser one.
func FindConsolidationZones(klines []types.OHLCV) []Zone {
	var zones []Zone

	for i := zoneLookback; i < len(klines); i++ {
		slice := klines[i-zoneLookback : i]

		high := math.Inf(-1)
		low := math.Inf(1)
		for _, k := range slice {
			high = math.Max(high, k.High)
			low = math.Min(low, k.Low)
		}
		mid := (high + low) / 2

		for rangePct := 0.01; rangePct <= zoneMaxRange+1e-9; rangePct += 0.005 {
			targetRange := mid * rangePct

			inRange := 0
			rangeHigh := 0.0
			rangeLow := math.Inf(1)
			for _, k := range slice {
				if math.Abs(k.Close-mid) < targetRange || math.Abs(k.Open-mid) < targetRange {
					inRange++
					rangeHigh = math.Max(rangeHigh, k.High)
					rangeLow = math.Min(rangeLow, k.Low)
				}
			}

			if inRange >= zoneMinBars {
				actualRange := (rangeHigh - rangeLow) / rangeLow
				if actualRange < zoneMaxRange {
					zones = append(zones, Zone{
						Index:    i,
						High:     rangeHigh,
						Low:      rangeLow,
						Mid:      (rangeHigh + rangeLow) / 2,
						Range:    actualRange,
						BarCount: inRange,
						Strength: inRange,
					})
					break
				}
			}
		}
	}

	return mergeZones(zones)
}

func mergeZones(zones []Zone) []Zone {
	var merged []Zone
	for _, zone := range zones {
		found := -1
		for i, existing := range merged {
			if math.Abs(existing.Mid-zone.Mid)/existing.Mid < mergeDistance &&
				abs(existing.Index-zone.Index) < mergeBarWindow {
				found = i
				break
			}
		}
		if found == -1 {
			merged = append(merged, zone)
		} else if zone.BarCount > merged[found].BarCount {
			merged[found] = zone
		}
	}
	return merged
}

// EnhanceZones scores zones: a rapid move away marks a supply/demand
// origin (+5), repeated historical respect of the level adds +3, and
// each prior touch adds +1.
func EnhanceZones(klines []types.OHLCV, zones []Zone, cfg ZoneConfig) []Zone {
	enhanced := make([]Zone, 0, len(zones))
	for _, zone := range zones {
		strength := zone.BarCount
		var features []string

		if hasRapidMove(klines, zone, cfg.RapidMoveThreshold) {
			strength += 5
			features = append(features, "supply-demand origin")
		}
		if isHistoricalLevel(klines, zone, cfg) {
			strength += 3
			features = append(features, "historical level")
		}
		touches := countTouches(klines, zone, cfg.HistoricalLookback)
		strength += touches
		if touches >= 3 {
			features = append(features, fmt.Sprintf("%d touches", touches))
		}

		zone.Strength = strength
		zone.Features = features
		enhanced = append(enhanced, zone)
	}
	return enhanced
}

func hasRapidMove(klines []types.OHLCV, zone Zone, threshold float64) bool {
	end := zone.Index + 10
	if end > len(klines) {
		end = len(klines)
	}
	for _, k := range klines[zone.Index:end] {
		if k.Body() >= threshold {
			return true
		}
	}
	return false
}

func isHistoricalLevel(klines []types.OHLCV, zone Zone, cfg ZoneConfig) bool {
	start := zone.Index - cfg.HistoricalLookback
	if start < 0 {
		start = 0
	}
	historical := klines[start:zone.Index]

	lowRespects := 0
	highRespects := 0
	for _, k := range historical {
		if math.Abs(k.Low-zone.Low)/zone.Low < cfg.TouchTolerance {
			lowRespects++
		}
		if math.Abs(k.High-zone.High)/zone.High < cfg.TouchTolerance {
			highRespects++
		}
	}
	return lowRespects >= 2 || highRespects >= 2
}

func countTouches(klines []types.OHLCV, zone Zone, lookback int) int {
	start := zone.Index - lookback
	if start < 0 {
		start = 0
	}
	touches := 0
	for _, k := range klines[start:zone.Index] {
		if k.Low <= zone.High && k.High >= zone.Low {
			touches++
		}
	}
	return touches
}

// findSupportZone picks the best-scoring zone at or just below the
// current price. Score favors proximity, then strength.
func findSupportZone(currentPrice float64, zones []Zone) *Zone {
	var best *Zone
	bestScore := 0.0
	for i := range zones {
		zone := &zones[i]
		if currentPrice >= zone.Low && currentPrice <= zone.High*1.05 {
			distance := math.Abs(currentPrice-zone.Mid) / currentPrice
			score := 100 - distance*1000 + float64(zone.Strength)*2
			if score > bestScore {
				bestScore = score
				best = zone
			}
		}
	}
	return best
}

func findResistanceZone(currentPrice float64, zones []Zone) *Zone {
	var best *Zone
	bestScore := 0.0
	for i := range zones {
		zone := &zones[i]
		if currentPrice <= zone.High && currentPrice >= zone.Low*0.95 {
			distance := math.Abs(currentPrice-zone.Mid) / currentPrice
			score := 100 - distance*1000 + float64(zone.Strength)*2
			if score > bestScore {
				bestScore = score
				best = zone
			}
		}
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
