package journal

import (
	"math"
	"time"
)

// Stats summarizes a set of trades.
type Stats struct {
	Count        int
	Wins         int
	Losses       int
	WinRate      float64
	AvgWin       float64
	AvgLoss      float64 // reported positive
	ProfitFactor float64 // +Inf when there are wins and no losses
	TotalProfit  float64
}

// CalcStats computes summary statistics. A trade with profit <= 0
// counts as a loss; breakeven is not a win.
func CalcStats(trades []TradeRecord) Stats {
	s := Stats{Count: len(trades)}
	if len(trades) == 0 {
		return s
	}

	totalWin := 0.0
	totalLoss := 0.0
	for _, t := range trades {
		s.TotalProfit += t.Profit
		if t.Profit > 0 {
			s.Wins++
			totalWin += t.Profit
		} else {
			s.Losses++
			totalLoss += -t.Profit
		}
	}

	s.WinRate = float64(s.Wins) / float64(s.Count)
	if s.Wins > 0 {
		s.AvgWin = totalWin / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLoss = totalLoss / float64(s.Losses)
	}
	switch {
	case totalLoss > 0:
		s.ProfitFactor = totalWin / totalLoss
	case totalWin > 0:
		s.ProfitFactor = math.Inf(1)
	}
	return s
}

// StatsDays computes stats over the trailing window; days <= 0 means
// the full history.
func (j *Journal) StatsDays(days int) Stats {
	if days <= 0 {
		return CalcStats(j.Trades())
	}
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	return CalcStats(j.TradesSince(cutoff))
}

// RollingComparison is the 7d / 30d / all-time stats triple.
type RollingComparison struct {
	Week  Stats
	Month Stats
	All   Stats
}

func (j *Journal) Rolling() RollingComparison {
	return RollingComparison{
		Week:  j.StatsDays(7),
		Month: j.StatsDays(30),
		All:   j.StatsDays(0),
	}
}

// DrawdownInfo is derived from the balance trail of the trade history.
type DrawdownInfo struct {
	Current     float64
	Max         float64
	PeakBalance float64
}

// Drawdown walks the per-trade balance trail. The balance before the
// first trade seeds the peak.
func (j *Journal) Drawdown() DrawdownInfo {
	trades := j.Trades()
	if len(trades) == 0 {
		return DrawdownInfo{}
	}

	peak := trades[0].Balance - trades[0].Profit
	maxDD := 0.0
	for _, t := range trades {
		if t.Balance > peak {
			peak = t.Balance
		}
		if peak > 0 {
			if dd := (peak - t.Balance) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}

	current := 0.0
	if peak > 0 {
		current = (peak - trades[len(trades)-1].Balance) / peak
	}
	return DrawdownInfo{Current: current, Max: maxDD, PeakBalance: peak}
}

// ConsecutiveLosses counts the losing streak ending at the most
// recent trade.
func (j *Journal) ConsecutiveLosses() int {
	trades := j.Trades()
	count := 0
	for i := len(trades) - 1; i >= 0; i-- {
		if trades[i].Profit > 0 {
			break
		}
		count++
	}
	return count
}
