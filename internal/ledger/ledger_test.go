package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duchoang-qt/pa-trading-bot/pkg/types"
)

func testPosition(symbol string, allocation float64) *Position {
	return &Position{
		Symbol:       symbol,
		Direction:    types.DirectionLong,
		Entry:        50000,
		StopLoss:     49000,
		TakeProfit:   51500,
		RiskFraction: 0.02,
		PriceRisk:    0.02,
		Allocation:   allocation,
		OpenedAt:     time.Now(),
	}
}

func TestOpen_OnePositionPerInstrument(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "state.json"), 100)

	require.NoError(t, l.Open(testPosition("BTCUSDT", 0.5)))
	err := l.Open(testPosition("BTCUSDT", 0.5))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already has an open position")
}

func TestOpen_AllocationInvariant(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "state.json"), 100)

	require.NoError(t, l.Open(testPosition("BTCUSDT", 0.7)))
	assert.InDelta(t, 0.3, l.RemainingAllocation(), 1e-9)

	err := l.Open(testPosition("ETHUSDT", 0.4))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceed capital")

	require.NoError(t, l.Open(testPosition("ETHUSDT", 0.3)))
	assert.InDelta(t, 0.0, l.RemainingAllocation(), 1e-9)
}

func TestPositionValidate(t *testing.T) {
	p := testPosition("BTCUSDT", 1)
	require.NoError(t, p.Validate())

	bad := *p
	bad.StopLoss = 51000 // long stop above entry
	assert.Error(t, bad.Validate())

	bad = *p
	bad.RiskFraction = 0.30
	assert.Error(t, bad.Validate())

	bad = *p
	bad.Direction = "sideways"
	assert.Error(t, bad.Validate())

	short := *p
	short.Direction = types.DirectionShort
	short.StopLoss = 51000
	require.NoError(t, short.Validate())
}

func TestClose_UpdatesBalanceAndPeak(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "state.json"), 100)
	require.NoError(t, l.Open(testPosition("BTCUSDT", 1)))

	closed, err := l.Close("BTCUSDT", 2.89)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", closed.Symbol)
	assert.InDelta(t, 102.89, l.Balance(), 1e-9)
	assert.InDelta(t, 102.89, l.PeakBalance(), 1e-9)

	wins, losses, total := l.Stats()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 0, losses)
	assert.Equal(t, 1, total)
}

func TestClose_PeakIsMonotone(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "state.json"), 100)
	require.NoError(t, l.Open(testPosition("BTCUSDT", 1)))
	_, err := l.Close("BTCUSDT", -10)
	require.NoError(t, err)

	assert.InDelta(t, 90, l.Balance(), 1e-9)
	assert.InDelta(t, 100, l.PeakBalance(), 1e-9)

	_, _, total := l.Stats()
	assert.Equal(t, 1, total)
}

func TestClose_NoPosition(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "state.json"), 100)
	_, err := l.Close("BTCUSDT", 1)
	assert.Error(t, err)
}

func TestDrop_DoesNotTouchBalance(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "state.json"), 100)
	require.NoError(t, l.Open(testPosition("BTCUSDT", 1)))

	dropped := l.Drop("BTCUSDT")
	require.NotNil(t, dropped)
	assert.InDelta(t, 100, l.Balance(), 1e-9)
	assert.Nil(t, l.Position("BTCUSDT"))
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	l := New(path, 100)
	require.NoError(t, l.Open(testPosition("BTCUSDT", 0.6)))
	p := testPosition("SOLUSDT", 0.4)
	p.ManualOnly = true
	p.PendingClose = true
	p.CloseRetries = 2
	require.NoError(t, l.Open(p))
	l.SetBalance(123.45)
	require.NoError(t, l.Save())

	restored := New(path, 100)
	require.NoError(t, restored.Load())
	assert.InDelta(t, 123.45, restored.Balance(), 1e-9)
	require.Len(t, restored.Positions(), 2)

	sol := restored.Position("SOLUSDT")
	require.NotNil(t, sol)
	assert.True(t, sol.ManualOnly)
	assert.True(t, sol.PendingClose)
	assert.Equal(t, 2, sol.CloseRetries)
}

func TestUpdate_MutatesUnderLock(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "state.json"), 100)
	require.NoError(t, l.Open(testPosition("BTCUSDT", 1)))

	ok := l.Update("BTCUSDT", func(p *Position) {
		p.PendingClose = true
		p.TotalRetries = 7
	})
	assert.True(t, ok)
	assert.True(t, l.Position("BTCUSDT").PendingClose)
	assert.Equal(t, 7, l.Position("BTCUSDT").TotalRetries)

	assert.False(t, l.Update("ETHUSDT", func(p *Position) {}))
}

func TestProtected(t *testing.T) {
	p := testPosition("BTCUSDT", 1)
	assert.True(t, p.Protected())

	p.NoStopLoss = true
	assert.False(t, p.Protected())

	p.ManualOnly = true
	assert.True(t, p.Protected())
}
