package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/duchoang-qt/pa-trading-bot/internal/state"
)

// snapshot is the durable form of the ledger.
type snapshot struct {
	Balance     float64              `json:"balance"`
	PeakBalance float64              `json:"peak_balance"`
	Wins        int                  `json:"wins"`
	Losses      int                  `json:"losses"`
	TotalTrades int                  `json:"total_trades"`
	Positions   map[string]*Position `json:"positions"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// Ledger holds the account balance and at most one open position per
// instrument, with durable JSON persistence.
type Ledger struct {
	mu   sync.RWMutex
	path string

	balance     float64
	peakBalance float64
	wins        int
	losses      int
	totalTrades int
	positions   map[string]*Position
}

// New creates a ledger with the given starting balance. Load restores
// any persisted snapshot over it.
func New(path string, initialBalance float64) *Ledger {
	return &Ledger{
		path:        path,
		balance:     initialBalance,
		peakBalance: initialBalance,
		positions:   make(map[string]*Position),
	}
}

// Load restores the persisted snapshot if one exists. A corrupt file
// is quarantined by the state layer; the ledger keeps its defaults and
// returns the error so the caller can surface the data-loss event.
func (l *Ledger) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var snap snapshot
	found, err := state.LoadJSON(l.path, &snap)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	l.balance = snap.Balance
	l.peakBalance = snap.PeakBalance
	l.wins = snap.Wins
	l.losses = snap.Losses
	l.totalTrades = snap.TotalTrades
	l.positions = snap.Positions
	if l.positions == nil {
		l.positions = make(map[string]*Position)
	}
	if l.peakBalance < l.balance {
		l.peakBalance = l.balance
	}
	return nil
}

// Save writes the snapshot atomically.
func (l *Ledger) Save() error {
	l.mu.RLock()
	snap := snapshot{
		Balance:     l.balance,
		PeakBalance: l.peakBalance,
		Wins:        l.wins,
		Losses:      l.losses,
		TotalTrades: l.totalTrades,
		Positions:   l.positions,
		UpdatedAt:   time.Now(),
	}
	l.mu.RUnlock()
	return state.SaveJSON(l.path, &snap)
}

// Balance returns the current account balance.
func (l *Ledger) Balance() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balance
}

// PeakBalance returns the highest balance seen. It never decreases.
func (l *Ledger) PeakBalance() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.peakBalance
}

// SetBalance overwrites the balance with an authoritative venue value
// and advances the peak if exceeded.
func (l *Ledger) SetBalance(balance float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance = balance
	if balance > l.peakBalance {
		l.peakBalance = balance
	}
}

// Position returns the open position for symbol, or nil.
func (l *Ledger) Position(symbol string) *Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.positions[symbol]
}

// Positions returns all open positions ordered by symbol.
func (l *Ledger) Positions() []*Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// UsedAllocation sums the capital shares of all open positions.
func (l *Ledger) UsedAllocation() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	used := 0.0
	for _, p := range l.positions {
		used += p.Allocation
	}
	return used
}

// RemainingAllocation is 1 minus the used share, floored at zero.
func (l *Ledger) RemainingAllocation() float64 {
	remaining := 1.0 - l.UsedAllocation()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Open records a new position. Rejected if the symbol already has one
// or the allocation invariant would break.
func (l *Ledger) Open(p *Position) error {
	if err := p.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.positions[p.Symbol]; exists {
		return fmt.Errorf("%s already has an open position", p.Symbol)
	}
	used := 0.0
	for _, open := range l.positions {
		used += open.Allocation
	}
	if used+p.Allocation > 1.0+1e-9 {
		return fmt.Errorf("%s: allocation %.4f would exceed capital (used %.4f)", p.Symbol, p.Allocation, used)
	}

	l.positions[p.Symbol] = p
	return nil
}

// Import seeds a position discovered on the venue that the bot did not
// open. It bypasses entry validation and consumes no allocation; the
// caller marks it ManualOnly so nothing automated touches it.
func (l *Ledger) Import(p *Position) error {
	if p.Symbol == "" {
		return fmt.Errorf("imported position has no symbol")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.positions[p.Symbol]; exists {
		return fmt.Errorf("%s already has an open position", p.Symbol)
	}
	l.positions[p.Symbol] = p
	return nil
}

// Close removes the position and applies the realized profit to the
// balance, updating the peak and win/loss counters.
func (l *Ledger) Close(symbol string, profit float64) (*Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, exists := l.positions[symbol]
	if !exists {
		return nil, fmt.Errorf("%s has no open position", symbol)
	}
	delete(l.positions, symbol)

	l.balance += profit
	if l.balance > l.peakBalance {
		l.peakBalance = l.balance
	}
	l.totalTrades++
	if profit > 0 {
		l.wins++
	} else {
		l.losses++
	}
	return p, nil
}

// Drop removes a position without touching the balance. Used when the
// venue's balance is synced separately (external close).
func (l *Ledger) Drop(symbol string) *Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.positions[symbol]
	delete(l.positions, symbol)
	return p
}

// Update mutates a position under the ledger lock.
func (l *Ledger) Update(symbol string, fn func(*Position)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, exists := l.positions[symbol]
	if !exists {
		return false
	}
	fn(p)
	return true
}

// RecordTradeCounters bumps win/loss stats for a close that bypassed
// Close (balance synced from the venue instead of applied locally).
func (l *Ledger) RecordTradeCounters(profit float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.totalTrades++
	if profit > 0 {
		l.wins++
	} else {
		l.losses++
	}
}

// Stats returns win/loss/total counters.
func (l *Ledger) Stats() (wins, losses, total int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.wins, l.losses, l.totalTrades
}
