package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duchoang-qt/pa-trading-bot/pkg/types"
)

func trade(profit, balance float64, age time.Duration) TradeRecord {
	return TradeRecord{
		Time:      time.Now().Add(-age),
		Symbol:    "BTCUSDT",
		Direction: types.DirectionLong,
		Entry:     50000,
		Exit:      51500,
		Profit:    profit,
		Balance:   balance,
	}
}

func newJournal(t *testing.T) *Journal {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "trades.jsonl"))
}

func TestAppend_AssignsIDAndPersists(t *testing.T) {
	j := newJournal(t)

	rec, err := j.Append(trade(2.9, 102.9, 0))
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, 1, j.Len())

	reloaded := New(j.path)
	require.NoError(t, reloaded.Load())
	require.Equal(t, 1, reloaded.Len())
	assert.Equal(t, rec.ID, reloaded.Trades()[0].ID)
}

func TestLoad_SkipsMalformedLines(t *testing.T) {
	j := newJournal(t)
	_, err := j.Append(trade(1, 101, 0))
	require.NoError(t, err)

	f, err := os.OpenFile(j.path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{torn line\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	_, err = j.Append(trade(2, 103, 0))
	require.NoError(t, err)

	reloaded := New(j.path)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, 2, reloaded.Len())
}

func TestCalcStats(t *testing.T) {
	s := CalcStats([]TradeRecord{
		trade(10, 110, 0),
		trade(-4, 106, 0),
		trade(6, 112, 0),
		trade(-2, 110, 0),
	})

	assert.Equal(t, 4, s.Count)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 2, s.Losses)
	assert.InDelta(t, 0.5, s.WinRate, 1e-9)
	assert.InDelta(t, 8, s.AvgWin, 1e-9)
	assert.InDelta(t, 3, s.AvgLoss, 1e-9)
	assert.InDelta(t, 16.0/6.0, s.ProfitFactor, 1e-9)
	assert.InDelta(t, 10, s.TotalProfit, 1e-9)
}

func TestCalcStats_BreakevenIsLoss(t *testing.T) {
	s := CalcStats([]TradeRecord{trade(0, 100, 0)})
	assert.Equal(t, 1, s.Losses)
	assert.Equal(t, 0, s.Wins)
}

func TestStatsDays_WindowFilters(t *testing.T) {
	j := newJournal(t)
	_, err := j.Append(trade(5, 105, 10*24*time.Hour))
	require.NoError(t, err)
	_, err = j.Append(trade(-3, 102, 2*24*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 1, j.StatsDays(7).Count)
	assert.Equal(t, 2, j.StatsDays(30).Count)
	assert.Equal(t, 2, j.StatsDays(0).Count)
}

func TestDrawdown(t *testing.T) {
	j := newJournal(t)
	// Start 100, up to 120, down to 96.
	_, err := j.Append(trade(20, 120, 0))
	require.NoError(t, err)
	_, err = j.Append(trade(-12, 108, 0))
	require.NoError(t, err)
	_, err = j.Append(trade(-12, 96, 0))
	require.NoError(t, err)

	dd := j.Drawdown()
	assert.InDelta(t, 120, dd.PeakBalance, 1e-9)
	assert.InDelta(t, 0.2, dd.Current, 1e-9)
	assert.InDelta(t, 0.2, dd.Max, 1e-9)
}

func TestConsecutiveLosses(t *testing.T) {
	j := newJournal(t)
	for _, p := range []float64{5, -1, -2, -3} {
		_, err := j.Append(trade(p, 100, 0))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, j.ConsecutiveLosses())

	_, err := j.Append(trade(4, 104, 0))
	require.NoError(t, err)
	assert.Equal(t, 0, j.ConsecutiveLosses())
}

func TestCheckAlerts_Ladder(t *testing.T) {
	j := newJournal(t)
	status := j.CheckAlerts()
	assert.Equal(t, AlertNormal, status.Level)

	// Three straight losses trip the yellow rung.
	for i := 0; i < 3; i++ {
		_, err := j.Append(trade(-1, 100-float64(i), 0))
		require.NoError(t, err)
	}
	status = j.CheckAlerts()
	assert.Equal(t, AlertYellow, status.Level)
	assert.NotEmpty(t, status.Reasons)

	// Five straight escalate to red.
	for i := 0; i < 2; i++ {
		_, err := j.Append(trade(-1, 96-float64(i), 0))
		require.NoError(t, err)
	}
	assert.Equal(t, AlertRed, j.CheckAlerts().Level)

	// Seven plus a deep drawdown force pause.
	for i := 0; i < 2; i++ {
		_, err := j.Append(trade(-10, 85-10*float64(i), 0))
		require.NoError(t, err)
	}
	assert.Equal(t, AlertPause, j.CheckAlerts().Level)
}

func TestCheckAlerts_WinRateNeedsMinimumSample(t *testing.T) {
	j := newJournal(t)
	// Two losses: win rate 0% but below the 3-trade minimum, and the
	// streak is under the yellow threshold.
	for i := 0; i < 2; i++ {
		_, err := j.Append(trade(-0.1, 100, 0))
		require.NoError(t, err)
	}
	assert.Equal(t, AlertNormal, j.CheckAlerts().Level)
}
