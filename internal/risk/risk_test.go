package risk

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duchoang-qt/pa-trading-bot/internal/config"
)

func testRC() config.RiskControlConfig {
	return config.RiskControlConfig{
		DailyMaxLossPct:     15,
		MaxDrawdownPct:      30,
		MaxSingleLossPct:    8,
		APIFailThreshold:    3,
		BalanceDeviationPct: 5,
		PriceAnomalyPct:     10,
		CooldownMinutes:     60,
	}
}

func newManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(testRC(), filepath.Join(t.TempDir(), "risk_state.json"), 100)
	require.NoError(t, m.Load(100))
	return m
}

func TestCheckEntry_DailyLossEngagesBreaker(t *testing.T) {
	m := newManager(t)

	// 16% down on the day against a 15% limit.
	res := m.CheckEntry("BTCUSDT", 50000, 84)
	require.False(t, res.Pass)
	assert.Equal(t, "dailyLoss", res.Guard)

	engaged, reason, _ := m.Engaged()
	assert.True(t, engaged)
	assert.Contains(t, reason, "daily loss")

	// All subsequent checks short-circuit on the engaged breaker.
	res = m.CheckEntry("BTCUSDT", 50000, 100)
	require.False(t, res.Pass)
	assert.Equal(t, "circuitBreaker", res.Guard)
}

func TestCheckEntry_DailyLossWithinLimitPasses(t *testing.T) {
	m := newManager(t)
	assert.True(t, m.CheckEntry("BTCUSDT", 50000, 90).Pass)
}

func TestCheckEntry_DrawdownPeakUpdatesFirst(t *testing.T) {
	m := newManager(t)

	// New high: cannot be read as drawdown.
	assert.True(t, m.CheckEntry("BTCUSDT", 50000, 200).Pass)

	// 31% off the new 200 peak, but only after resetting the daily
	// baseline so the daily guard does not fire first.
	m2 := NewManager(testRC(), filepath.Join(t.TempDir(), "risk.json"), 200)
	require.NoError(t, m2.Load(200))
	assert.True(t, m2.CheckEntry("BTCUSDT", 50000, 200).Pass)

	m2.mu.Lock()
	m2.st.DailyStartBalance = 138 // keep daily loss under its limit
	m2.mu.Unlock()

	res := m2.CheckEntry("BTCUSDT", 50000, 138)
	require.False(t, res.Pass)
	assert.Equal(t, "maxDrawdown", res.Guard)
}

func TestCheckEntry_PriceAnomalyIsSkipOnly(t *testing.T) {
	m := newManager(t)

	assert.True(t, m.CheckEntry("BTCUSDT", 50000, 100).Pass)

	// 12% jump against a 10% threshold: skip, no breaker.
	res := m.CheckEntry("BTCUSDT", 56000, 100)
	require.False(t, res.Pass)
	assert.Equal(t, "priceAnomaly", res.Guard)
	assert.True(t, res.SkipOnly)

	engaged, _, _ := m.Engaged()
	assert.False(t, engaged)

	// The reference price updated even on the anomalous bar, so the
	// next bar near the new price passes.
	assert.True(t, m.CheckEntry("BTCUSDT", 56500, 100).Pass)
}

func TestCheckEntry_APIHealth(t *testing.T) {
	m := newManager(t)
	for i := 0; i < 3; i++ {
		m.RecordAPIFailure()
	}

	res := m.CheckEntry("BTCUSDT", 50000, 100)
	require.False(t, res.Pass)
	assert.Equal(t, "apiHealth", res.Guard)

	engaged, _, _ := m.Engaged()
	assert.True(t, engaged)
}

func TestRecordAPISuccess_ResetsCounter(t *testing.T) {
	m := newManager(t)
	m.RecordAPIFailure()
	m.RecordAPIFailure()
	m.RecordAPISuccess()
	m.RecordAPIFailure()

	assert.True(t, m.CheckEntry("BTCUSDT", 50000, 100).Pass)
}

func TestCheckBalanceDeviation_AlertOnly(t *testing.T) {
	m := newManager(t)

	res := m.CheckBalanceDeviation(100, 110)
	require.False(t, res.Pass)
	assert.True(t, res.AlertOnly)

	engaged, _, _ := m.Engaged()
	assert.False(t, engaged)

	assert.True(t, m.CheckBalanceDeviation(100, 102).Pass)
	assert.True(t, m.CheckBalanceDeviation(100, 0).Pass)
}

func TestBreaker_AutoResumeOnlyForSelfCheck(t *testing.T) {
	m := newManager(t)
	m.Engage("guard breach", false)

	_, resumed := m.TryAutoResume(time.Now().Add(2 * time.Hour))
	assert.False(t, resumed)

	m2 := newManager(t)
	m2.Engage("placeOrder failed 3 times in a row", true)

	_, resumed = m2.TryAutoResume(time.Now().Add(30 * time.Minute))
	assert.False(t, resumed, "cooldown not elapsed")

	reason, resumed := m2.TryAutoResume(time.Now().Add(61 * time.Minute))
	assert.True(t, resumed)
	assert.Contains(t, reason, "placeOrder")

	engaged, _, _ := m2.Engaged()
	assert.False(t, engaged)
}

func TestBreaker_ManualResumeConsumesResetFile(t *testing.T) {
	m := newManager(t)
	m.Engage("drawdown breach", false)

	resetFile := filepath.Join(t.TempDir(), "reset_circuit_breaker")

	_, resumed := m.TryManualResume(resetFile)
	assert.False(t, resumed, "no reset file yet")

	require.NoError(t, os.WriteFile(resetFile, nil, 0644))
	reason, resumed := m.TryManualResume(resetFile)
	assert.True(t, resumed)
	assert.Contains(t, reason, "drawdown")

	_, statErr := os.Stat(resetFile)
	assert.True(t, os.IsNotExist(statErr), "reset file consumed")
}

func TestBreakerStatePersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "risk_state.json")

	m := NewManager(testRC(), path, 100)
	require.NoError(t, m.Load(100))
	m.Engage("daily loss 16.0% over 15% limit", false)

	restored := NewManager(testRC(), path, 100)
	require.NoError(t, restored.Load(100))
	engaged, reason, _ := restored.Engaged()
	assert.True(t, engaged)
	assert.Contains(t, reason, "daily loss")
}

func TestSingleLossAnomaly(t *testing.T) {
	m := newManager(t)
	assert.Empty(t, m.SingleLossAnomaly(0.05))
	assert.Empty(t, m.SingleLossAnomaly(-0.02))
	assert.Contains(t, m.SingleLossAnomaly(-0.12), "gap")
}
