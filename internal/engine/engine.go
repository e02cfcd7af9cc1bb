package engine

import (
	"fmt"

	"github.com/duchoang-qt/pa-trading-bot/internal/ledger"
	"github.com/duchoang-qt/pa-trading-bot/internal/signals"
	"github.com/duchoang-qt/pa-trading-bot/pkg/types"
)

// Verdict is the engine's decision for one instrument on one bar.
type Verdict string

const (
	VerdictNone  Verdict = "none"
	VerdictEnter Verdict = "enter"
	VerdictExit  Verdict = "exit"
)

const minEntryAllocation = 0.01

// Config carries the pure trading parameters.
type Config struct {
	Leverage       float64
	TakerFee       float64
	RewardRatio    float64
	InitialBalance float64
}

// Decision is the full outcome of evaluating one bar. Exit fields are
// set for VerdictExit, entry fields for VerdictEnter. Anomaly carries
// the rejection reason when a generated signal failed sanity checks;
// the verdict is then VerdictNone and the signal is dropped for good.
type Decision struct {
	Verdict Verdict

	ExitPrice  float64
	ExitReason string
	PnL        float64
	Profit     float64
	Fee        float64

	Signal     *signals.Signal
	Allocation float64

	Anomaly string
}

// Engine decides entries and exits. It performs no IO: bars in,
// verdict out. All side effects belong to the caller.
type Engine struct {
	cfg    Config
	source signals.Source
}

func New(cfg Config, source signals.Source) *Engine {
	return &Engine{cfg: cfg, source: source}
}

// Params is one evaluation request. AllowEntries is false while the
// circuit breaker is engaged; no entry verdict is produced then under
// any circumstances.
type Params struct {
	Symbol       string
	Klines       []types.OHLCV
	Position     *ledger.Position
	Balance      float64
	Remaining    float64 // unallocated capital share
	UseBOS       bool
	AllowEntries bool
}

// Evaluate processes one closed bar for one instrument.
func (e *Engine) Evaluate(p Params) (Decision, error) {
	if len(p.Klines) == 0 {
		return Decision{Verdict: VerdictNone}, fmt.Errorf("%s: no bars", p.Symbol)
	}
	bar := p.Klines[len(p.Klines)-1]

	if p.Position != nil {
		if p.Position.ManualOnly || p.Position.PendingClose {
			return Decision{Verdict: VerdictNone}, nil
		}
		if exitPrice, reason, ok := CheckExit(p.Position, bar, e.cfg.RewardRatio); ok {
			pnl, profit, fee := ComputePnL(p.Position, exitPrice, p.Balance, e.cfg.Leverage, e.cfg.TakerFee)
			return Decision{
				Verdict:    VerdictExit,
				ExitPrice:  exitPrice,
				ExitReason: reason,
				PnL:        pnl,
				Profit:     profit,
				Fee:        fee,
			}, nil
		}
		return Decision{Verdict: VerdictNone}, nil
	}

	if !p.AllowEntries {
		return Decision{Verdict: VerdictNone}, nil
	}
	if p.Remaining < minEntryAllocation {
		return Decision{Verdict: VerdictNone}, nil
	}

	profile := signals.DynamicRiskProfile(p.Balance, e.cfg.InitialBalance)
	sig, err := e.source.Generate(p.Klines, p.Symbol, profile, p.UseBOS)
	if err != nil {
		return Decision{Verdict: VerdictNone}, err
	}
	if sig == nil {
		return Decision{Verdict: VerdictNone}, nil
	}

	if reason := ValidateSignal(sig); reason != "" {
		// Dropped, not retried: the next bar produces a fresh signal
		// or none at all.
		return Decision{Verdict: VerdictNone, Anomaly: reason}, nil
	}

	return Decision{
		Verdict:    VerdictEnter,
		Signal:     sig,
		Allocation: p.Remaining, // greedy single-slot: full remainder
	}, nil
}

// CheckExit tests the bar against the position's protective levels.
// The stop is checked first: a bar that touches both stop and target
// resolves to the stop.
func CheckExit(pos *ledger.Position, bar types.OHLCV, rewardRatio float64) (exitPrice float64, reason string, ok bool) {
	if pos.Direction == types.DirectionLong {
		if bar.Low <= pos.StopLoss {
			return pos.StopLoss, "stop loss hit", true
		}
		maxPnL := (bar.High - pos.Entry) / pos.Entry
		if maxPnL >= pos.PriceRisk*rewardRatio {
			return pos.Entry + pos.Entry*pos.PriceRisk*rewardRatio, fmt.Sprintf("%.1fR target hit", rewardRatio), true
		}
		return 0, "", false
	}

	if bar.High >= pos.StopLoss {
		return pos.StopLoss, "stop loss hit", true
	}
	maxPnL := (pos.Entry - bar.Low) / pos.Entry
	if maxPnL >= pos.PriceRisk*rewardRatio {
		return pos.Entry - pos.Entry*pos.PriceRisk*rewardRatio, fmt.Sprintf("%.1fR target hit", rewardRatio), true
	}
	return 0, "", false
}

// ComputePnL realizes a close at exitPrice under the fixed-risk
// position model: position value is balance × allocation ×
// riskFraction / priceRisk, capped at balance × allocation × leverage.
// Taker fee is charged on both sides. Degenerate inputs yield zero
// rather than NaN.
func ComputePnL(pos *ledger.Position, exitPrice, balance, leverage, takerFee float64) (pnl, profit, fee float64) {
	if pos.PriceRisk <= 0 || pos.RiskFraction <= 0 || pos.RiskFraction > 1 ||
		pos.Allocation <= 0 || pos.Allocation > 1 {
		return 0, 0, 0
	}

	if pos.Direction == types.DirectionLong {
		pnl = (exitPrice - pos.Entry) / pos.Entry
	} else {
		pnl = (pos.Entry - exitPrice) / pos.Entry
	}

	positionValue := balance * pos.Allocation * pos.RiskFraction / pos.PriceRisk
	maxValue := balance * pos.Allocation * leverage
	if positionValue > maxValue {
		positionValue = maxValue
	}
	fee = positionValue * takerFee * 2
	profit = positionValue*pnl - fee
	return pnl, profit, fee
}

// ValidateSignal applies the sanity bounds. An empty string means the
// signal is acceptable; otherwise the returned reason describes the
// anomaly.
func ValidateSignal(sig *signals.Signal) string {
	if sig.Entry <= 0 || sig.StopLoss <= 0 {
		return fmt.Sprintf("non-positive prices (entry %.4f, stop %.4f)", sig.Entry, sig.StopLoss)
	}
	if sig.PriceRisk <= 0.01 || sig.PriceRisk >= 0.15 {
		return fmt.Sprintf("price risk %.4f outside (0.01, 0.15)", sig.PriceRisk)
	}
	if sig.RiskFraction <= 0 || sig.RiskFraction > 0.25 {
		return fmt.Sprintf("risk fraction %.4f outside (0, 0.25]", sig.RiskFraction)
	}
	if sig.Direction == types.DirectionLong && sig.StopLoss >= sig.Entry {
		return fmt.Sprintf("long stop %.4f not below entry %.4f", sig.StopLoss, sig.Entry)
	}
	if sig.Direction == types.DirectionShort && sig.StopLoss <= sig.Entry {
		return fmt.Sprintf("short stop %.4f not above entry %.4f", sig.StopLoss, sig.Entry)
	}
	if !sig.Direction.Valid() {
		return fmt.Sprintf("invalid direction %q", sig.Direction)
	}
	return ""
}
