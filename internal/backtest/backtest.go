// Package backtest replays historical bars through the decision engine
// with the same fee and sizing model the live bot uses.
package backtest

import (
	"fmt"
	"time"

	"github.com/duchoang-qt/pa-trading-bot/internal/config"
	"github.com/duchoang-qt/pa-trading-bot/internal/engine"
	"github.com/duchoang-qt/pa-trading-bot/internal/journal"
	"github.com/duchoang-qt/pa-trading-bot/internal/ledger"
	"github.com/duchoang-qt/pa-trading-bot/internal/signals"
	"github.com/duchoang-qt/pa-trading-bot/pkg/types"
)

// window is how much history each bar evaluation sees, matching the
// live fetch limit.
const window = 200

// Result summarizes one backtest run.
type Result struct {
	Symbol       string
	StartBalance float64
	EndBalance   float64
	TotalReturn  float64 // 0.25 = +25%
	MaxDrawdown  float64 // 0.10 = 10% peak-to-trough
	Wins         int
	Losses       int
	TotalTrades  int
	WinRate      float64
	ProfitFactor float64
	TotalFees    float64
	Trades       []journal.TradeRecord
	Equity       []EquityPoint
	BarsReplayed int
}

// EquityPoint is the balance after each closed trade.
type EquityPoint struct {
	Time    time.Time
	Balance float64
}

// Run replays bars oldest-first. The source decides entries exactly as
// in live trading; fills are assumed at signal prices.
func Run(cfg *config.Config, symbol string, useBOS bool, bars []types.OHLCV, source signals.Source) (*Result, error) {
	if len(bars) < 2 {
		return nil, fmt.Errorf("not enough bars to replay (%d)", len(bars))
	}

	eng := engine.New(engine.Config{
		Leverage:       cfg.Leverage,
		TakerFee:       cfg.TakerFee,
		RewardRatio:    cfg.RewardRatio,
		InitialBalance: cfg.InitialBalance,
	}, source)

	balance := cfg.InitialBalance
	peak := balance
	res := &Result{
		Symbol:       symbol,
		StartBalance: balance,
		Equity:       []EquityPoint{{Time: bars[0].Timestamp, Balance: balance}},
	}

	var position *ledger.Position
	var grossWin, grossLoss float64

	for i := 1; i < len(bars); i++ {
		start := 0
		if i+1 > window {
			start = i + 1 - window
		}
		view := bars[start : i+1]

		remaining := 1.0
		if position != nil {
			remaining = 0
		}
		decision, err := eng.Evaluate(engine.Params{
			Symbol:       symbol,
			Klines:       view,
			Position:     position,
			Balance:      balance,
			Remaining:    remaining,
			UseBOS:       useBOS,
			AllowEntries: true,
		})
		if err != nil {
			return nil, fmt.Errorf("bar %d: %w", i, err)
		}

		switch decision.Verdict {
		case engine.VerdictEnter:
			sig := decision.Signal
			position = &ledger.Position{
				Symbol:       symbol,
				Direction:    sig.Direction,
				Entry:        sig.Entry,
				StopLoss:     sig.StopLoss,
				TakeProfit:   sig.TakeProfit,
				RiskFraction: sig.RiskFraction,
				PriceRisk:    sig.PriceRisk,
				Allocation:   decision.Allocation,
				OpenedAt:     bars[i].Timestamp,
				HasBOS:       sig.HasBOS,
				ZoneStrength: sig.ZoneStrength,
				ZoneFeatures: sig.ZoneFeatures,
			}

		case engine.VerdictExit:
			balance += decision.Profit
			res.TotalTrades++
			res.TotalFees += decision.Fee
			if decision.Profit > 0 {
				res.Wins++
				grossWin += decision.Profit
			} else {
				res.Losses++
				grossLoss += -decision.Profit
			}
			res.Trades = append(res.Trades, journal.TradeRecord{
				Time:       bars[i].Timestamp,
				Symbol:     symbol,
				Direction:  position.Direction,
				Entry:      position.Entry,
				Exit:       decision.ExitPrice,
				PnLPct:     decision.PnL,
				Profit:     decision.Profit,
				Fee:        decision.Fee,
				Balance:    balance,
				HasBOS:     position.HasBOS,
				ExitReason: decision.ExitReason,
				OpenedAt:   position.OpenedAt,
			})
			res.Equity = append(res.Equity, EquityPoint{Time: bars[i].Timestamp, Balance: balance})
			position = nil

			if balance > peak {
				peak = balance
			} else if peak > 0 {
				if dd := (peak - balance) / peak; dd > res.MaxDrawdown {
					res.MaxDrawdown = dd
				}
			}
		}
	}

	res.BarsReplayed = len(bars)
	res.EndBalance = balance
	if res.StartBalance > 0 {
		res.TotalReturn = (balance - res.StartBalance) / res.StartBalance
	}
	if res.TotalTrades > 0 {
		res.WinRate = float64(res.Wins) / float64(res.TotalTrades)
	}
	if grossLoss > 0 {
		res.ProfitFactor = grossWin / grossLoss
	} else if grossWin > 0 {
		res.ProfitFactor = grossWin
	}
	return res, nil
}
