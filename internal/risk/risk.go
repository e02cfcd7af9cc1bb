package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/duchoang-qt/pa-trading-bot/internal/config"
	"github.com/duchoang-qt/pa-trading-bot/internal/state"
)

// RiskState is the persisted guard-bank state. It survives restarts so
// an engaged breaker stays engaged and daily baselines are not reset
// by a crash loop.
type RiskState struct {
	CurrentDay        string             `json:"current_day"`
	DailyStartBalance float64            `json:"daily_start_balance"`
	DailyLossPct      float64            `json:"daily_loss_pct"`
	PeakBalance       float64            `json:"peak_balance"`
	APIFailCount      int                `json:"api_fail_count"`
	LastPrices        map[string]float64 `json:"last_prices"`

	BreakerEngaged   bool      `json:"breaker_engaged"`
	BreakerReason    string    `json:"breaker_reason,omitempty"`
	BreakerSince     time.Time `json:"breaker_since,omitempty"`
	BreakerSelfCheck bool      `json:"breaker_self_check,omitempty"`
}

// GuardResult is the outcome of one guard. A failed hard guard
// engages the breaker; SkipOnly failures skip the current entry and
// AlertOnly failures only notify.
type GuardResult struct {
	Pass      bool
	Guard     string
	Reason    string
	SkipOnly  bool
	AlertOnly bool
}

func pass() GuardResult { return GuardResult{Pass: true} }

// Manager runs the guard bank and owns the circuit breaker. All state
// transitions persist immediately: an engaged breaker that only lived
// in memory could be lost to a crash and silently resume trading.
type Manager struct {
	mu   sync.Mutex
	cfg  config.RiskControlConfig
	path string
	st   RiskState
}

func NewManager(cfg config.RiskControlConfig, path string, initialBalance float64) *Manager {
	return &Manager{
		cfg:  cfg,
		path: path,
		st: RiskState{
			PeakBalance: initialBalance,
			LastPrices:  make(map[string]float64),
		},
	}
}

// Load restores persisted state and rolls the daily baseline if the
// calendar day changed while the process was down.
func (m *Manager) Load(balance float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var st RiskState
	found, err := state.LoadJSON(m.path, &st)
	if found {
		m.st = st
		if m.st.LastPrices == nil {
			m.st.LastPrices = make(map[string]float64)
		}
	}
	m.rollDayLocked(balance)
	return err
}

func (m *Manager) Save() error {
	m.mu.Lock()
	snap := m.snapshotLocked()
	m.mu.Unlock()
	return state.SaveJSON(m.path, &snap)
}

func (m *Manager) saveLocked() {
	snap := m.snapshotLocked()
	// Best effort under the lock; the next cycle save retries.
	_ = state.SaveJSON(m.path, &snap)
}

func (m *Manager) snapshotLocked() RiskState {
	snap := m.st
	snap.LastPrices = make(map[string]float64, len(m.st.LastPrices))
	for k, v := range m.st.LastPrices {
		snap.LastPrices[k] = v
	}
	return snap
}

func (m *Manager) rollDayLocked(balance float64) {
	today := time.Now().Format("2006-01-02")
	if m.st.CurrentDay != today {
		m.st.CurrentDay = today
		m.st.DailyStartBalance = balance
		m.st.DailyLossPct = 0
	}
	if m.st.DailyStartBalance <= 0 {
		m.st.DailyStartBalance = balance
	}
}

// CheckEntry runs the synchronous guard bank before an entry. The
// first failing guard is returned; hard failures engage the breaker.
func (m *Manager) CheckEntry(symbol string, currentPrice, balance float64) GuardResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.st.BreakerEngaged {
		return GuardResult{Guard: "circuitBreaker", Reason: "circuit breaker engaged: " + m.st.BreakerReason}
	}

	checks := []GuardResult{
		m.checkDailyLossLocked(balance),
		m.checkMaxDrawdownLocked(balance),
		m.checkPriceAnomalyLocked(symbol, currentPrice),
		m.checkAPIHealthLocked(),
	}
	for _, check := range checks {
		if !check.Pass {
			if !check.SkipOnly && !check.AlertOnly {
				m.engageLocked(check.Reason, false)
			}
			return check
		}
	}
	return pass()
}

func (m *Manager) checkDailyLossLocked(balance float64) GuardResult {
	if m.cfg.DailyMaxLossPct <= 0 {
		return pass()
	}
	m.rollDayLocked(balance)

	dailyPnLPct := (balance - m.st.DailyStartBalance) / m.st.DailyStartBalance * 100
	if math.IsNaN(dailyPnLPct) {
		return pass()
	}
	if dailyPnLPct < 0 {
		m.st.DailyLossPct = -dailyPnLPct
	}
	if m.st.DailyLossPct >= m.cfg.DailyMaxLossPct {
		return GuardResult{
			Guard: "dailyLoss",
			Reason: fmt.Sprintf("daily loss %.1f%% over %.0f%% limit",
				m.st.DailyLossPct, m.cfg.DailyMaxLossPct),
		}
	}
	return pass()
}

func (m *Manager) checkMaxDrawdownLocked(balance float64) GuardResult {
	if m.cfg.MaxDrawdownPct <= 0 {
		return pass()
	}
	// Peak updates first so a new high can never read as drawdown.
	if balance > m.st.PeakBalance {
		m.st.PeakBalance = balance
	}
	drawdownPct := (m.st.PeakBalance - balance) / m.st.PeakBalance * 100
	if drawdownPct >= m.cfg.MaxDrawdownPct {
		return GuardResult{
			Guard: "maxDrawdown",
			Reason: fmt.Sprintf("drawdown %.1f%% (peak $%.2f to $%.2f) over %.0f%% limit",
				drawdownPct, m.st.PeakBalance, balance, m.cfg.MaxDrawdownPct),
		}
	}
	return pass()
}

func (m *Manager) checkPriceAnomalyLocked(symbol string, currentPrice float64) GuardResult {
	if m.cfg.PriceAnomalyPct <= 0 {
		return pass()
	}
	lastPrice := m.st.LastPrices[symbol]
	// Always update, anomalous or not. Holding the stale reference
	// would flag every following bar too.
	m.st.LastPrices[symbol] = currentPrice
	if lastPrice <= 0 {
		return pass()
	}
	changePct := math.Abs(currentPrice-lastPrice) / lastPrice * 100
	if changePct >= m.cfg.PriceAnomalyPct {
		return GuardResult{
			Guard: "priceAnomaly",
			Reason: fmt.Sprintf("%s moved %.1f%% ($%.2f to $%.2f) over %.0f%% threshold",
				symbol, changePct, lastPrice, currentPrice, m.cfg.PriceAnomalyPct),
			SkipOnly: true,
		}
	}
	return pass()
}

func (m *Manager) checkAPIHealthLocked() GuardResult {
	if m.cfg.APIFailThreshold <= 0 {
		return pass()
	}
	if m.st.APIFailCount >= m.cfg.APIFailThreshold {
		return GuardResult{
			Guard: "apiHealth",
			Reason: fmt.Sprintf("%d consecutive API failures over threshold %d",
				m.st.APIFailCount, m.cfg.APIFailThreshold),
		}
	}
	return pass()
}

// CheckBalanceDeviation compares the local balance against the
// venue's. Alert-only: the ledger is corrected by reconciliation, not
// by the guard.
func (m *Manager) CheckBalanceDeviation(localBalance, venueBalance float64) GuardResult {
	if m.cfg.BalanceDeviationPct <= 0 || venueBalance <= 0 {
		return pass()
	}
	deviation := math.Abs(localBalance-venueBalance) / venueBalance * 100
	if deviation >= m.cfg.BalanceDeviationPct {
		return GuardResult{
			Guard: "balanceDeviation",
			Reason: fmt.Sprintf("balance deviation %.1f%% (local $%.2f vs venue $%.2f) over %.0f%% threshold",
				deviation, localBalance, venueBalance, m.cfg.BalanceDeviationPct),
			AlertOnly: true,
		}
	}
	return pass()
}

// RecordAPIFailure bumps the consecutive API failure counter.
func (m *Manager) RecordAPIFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.APIFailCount++
}

// RecordAPISuccess resets the API failure counter.
func (m *Manager) RecordAPISuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.APIFailCount = 0
}

// SingleLossAnomaly flags a realized loss far beyond the per-trade
// expectation, usually a gap through the stop. Alert-only.
func (m *Manager) SingleLossAnomaly(pnlPct float64) string {
	if m.cfg.MaxSingleLossPct <= 0 || pnlPct >= 0 {
		return ""
	}
	lossPct := math.Abs(pnlPct * 100)
	if lossPct >= m.cfg.MaxSingleLossPct {
		return fmt.Sprintf("single trade loss %.1f%% over %.0f%% expectation (possible gap through stop)",
			lossPct, m.cfg.MaxSingleLossPct)
	}
	return ""
}
