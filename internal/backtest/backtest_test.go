package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duchoang-qt/pa-trading-bot/internal/config"
	"github.com/duchoang-qt/pa-trading-bot/internal/signals"
	"github.com/duchoang-qt/pa-trading-bot/pkg/types"
)

// scriptedSource emits a signal when the newest bar matches a key.
type scriptedSource struct {
	byBar map[time.Time]*signals.Signal
}

func (s *scriptedSource) Generate(klines []types.OHLCV, symbol string, profile signals.RiskProfile, useBOS bool) (*signals.Signal, error) {
	last := klines[len(klines)-1]
	return s.byBar[last.Timestamp], nil
}

func bar(ts time.Time, open, high, low, close float64) types.OHLCV {
	return types.OHLCV{Timestamp: ts, Open: open, High: high, Low: low, Close: close, Volume: 100}
}

func longAt(entry float64) *signals.Signal {
	stop := entry * 0.98
	return &signals.Signal{
		Direction:    types.DirectionLong,
		Entry:        entry,
		StopLoss:     stop,
		TakeProfit:   entry * (1 + 0.02*1.4),
		PriceRisk:    0.02,
		RiskFraction: 0.05,
	}
}

func TestRunReplaysWinAndLoss(t *testing.T) {
	cfg := config.Default()
	cfg.InitialBalance = 1000

	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ts := func(i int) time.Time { return t0.Add(time.Duration(i) * time.Hour) }
	bars := []types.OHLCV{
		bar(ts(0), 50000, 50100, 49900, 50000),
		bar(ts(1), 50000, 50100, 49900, 50000),
		bar(ts(2), 50000, 50100, 49900, 50000), // enter long
		bar(ts(3), 50000, 51500, 50000, 51300), // 1.4R target
		bar(ts(4), 50000, 50100, 49900, 50000), // enter long again
		bar(ts(5), 50000, 50050, 48900, 48950), // stop
	}
	source := &scriptedSource{byBar: map[time.Time]*signals.Signal{
		ts(2): longAt(50000),
		ts(4): longAt(50000),
	}}

	res, err := Run(cfg, "BTCUSDT", true, bars, source)
	require.NoError(t, err)

	assert.Equal(t, 2, res.TotalTrades)
	assert.Equal(t, 1, res.Wins)
	assert.Equal(t, 1, res.Losses)
	assert.Equal(t, 0.5, res.WinRate)

	// Win: value $2500, pnl 2.8%, fee $2.50.
	assert.InDelta(t, 67.5, res.Trades[0].Profit, 1e-9)
	assert.Equal(t, "1.4R target hit", res.Trades[0].ExitReason)
	// Loss: value $2668.75 at the grown balance, pnl -2%, fee $2.67.
	assert.InDelta(t, -56.04375, res.Trades[1].Profit, 1e-9)
	assert.Equal(t, "stop loss hit", res.Trades[1].ExitReason)

	assert.InDelta(t, 1011.45625, res.EndBalance, 1e-9)
	assert.InDelta(t, 0.01145625, res.TotalReturn, 1e-9)
	assert.InDelta(t, 0.0525, res.MaxDrawdown, 1e-9)
	assert.InDelta(t, 67.5/56.04375, res.ProfitFactor, 1e-9)
	assert.InDelta(t, 2.5+2.66875, res.TotalFees, 1e-9)
	require.Len(t, res.Equity, 3, "start point plus one per closed trade")
}

func TestRunNoSignalsMeansNoTrades(t *testing.T) {
	cfg := config.Default()
	t0 := time.Now()
	bars := []types.OHLCV{
		bar(t0, 100, 101, 99, 100),
		bar(t0.Add(time.Hour), 100, 101, 99, 100),
	}

	res, err := Run(cfg, "SOLUSDT", false, bars, &scriptedSource{byBar: map[time.Time]*signals.Signal{}})
	require.NoError(t, err)
	assert.Zero(t, res.TotalTrades)
	assert.Equal(t, res.StartBalance, res.EndBalance)
	assert.Zero(t, res.MaxDrawdown)
}

func TestRunRejectsTooFewBars(t *testing.T) {
	cfg := config.Default()
	_, err := Run(cfg, "BTCUSDT", true, []types.OHLCV{bar(time.Now(), 1, 1, 1, 1)}, &scriptedSource{})
	assert.Error(t, err)
}
