package ledger

import (
	"fmt"
	"time"

	"github.com/duchoang-qt/pa-trading-bot/pkg/types"
)

// Position is the single open position for one instrument. The ledger
// never holds more than one per symbol; "no entry" means flat.
type Position struct {
	Symbol       string          `json:"symbol"`
	Direction    types.Direction `json:"direction"`
	Entry        float64         `json:"entry"`
	StopLoss     float64         `json:"stop_loss"`
	TakeProfit   float64         `json:"take_profit"`
	RiskFraction float64         `json:"risk_fraction"`
	PriceRisk    float64         `json:"price_risk"`
	Allocation   float64         `json:"allocation"`
	OpenedAt     time.Time       `json:"opened_at"`

	// HasBOS and zone metadata describe the signal that opened the
	// position; kept for the journal record at close.
	HasBOS       bool     `json:"has_bos"`
	ZoneStrength int      `json:"zone_strength,omitempty"`
	ZoneFeatures []string `json:"zone_features,omitempty"`

	// ManualOnly excludes the position from automated exits and
	// breaker liquidation. Set for imported venue positions and for
	// positions whose close-retry budget ran out.
	ManualOnly bool `json:"manual_only,omitempty"`

	// PendingClose marks a close that failed and is being retried.
	// CloseRetries counts attempts in the current cycle, TotalRetries
	// across cycles; the total budget is hard-capped.
	PendingClose bool   `json:"pending_close,omitempty"`
	CloseReason  string `json:"close_reason,omitempty"`
	CloseRetries int    `json:"close_retries,omitempty"`
	TotalRetries int    `json:"total_retries,omitempty"`

	// NoStopLoss flags a live position whose protective orders could
	// not be verified. The reconciler clears it or escalates.
	NoStopLoss bool `json:"no_stop_loss,omitempty"`

	OrderID string `json:"order_id,omitempty"`
}

// Validate checks the structural invariants of an open position.
func (p *Position) Validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("position has no symbol")
	}
	if !p.Direction.Valid() {
		return fmt.Errorf("%s: invalid direction %q", p.Symbol, p.Direction)
	}
	if p.Entry <= 0 {
		return fmt.Errorf("%s: entry must be positive", p.Symbol)
	}
	if p.Direction == types.DirectionLong && p.StopLoss >= p.Entry {
		return fmt.Errorf("%s: long stop %.4f not below entry %.4f", p.Symbol, p.StopLoss, p.Entry)
	}
	if p.Direction == types.DirectionShort && p.StopLoss <= p.Entry {
		return fmt.Errorf("%s: short stop %.4f not above entry %.4f", p.Symbol, p.StopLoss, p.Entry)
	}
	if p.RiskFraction <= 0 || p.RiskFraction > 0.25 {
		return fmt.Errorf("%s: risk fraction %.4f outside (0, 0.25]", p.Symbol, p.RiskFraction)
	}
	if p.Allocation <= 0 || p.Allocation > 1 {
		return fmt.Errorf("%s: allocation %.4f outside (0, 1]", p.Symbol, p.Allocation)
	}
	return nil
}

// Protected reports whether the position is covered: either live
// protective orders are assumed in place, or it is explicitly marked
// for manual handling.
func (p *Position) Protected() bool {
	return !p.NoStopLoss || p.ManualOnly
}
