package exchange

import (
	"context"

	"github.com/duchoang-qt/pa-trading-bot/pkg/types"
)

// VenuePosition is an open position as the venue reports it.
type VenuePosition struct {
	Symbol        string
	Direction     types.Direction
	Size          float64
	EntryPrice    float64
	UnrealizedPnL float64
}

// ProtectiveKind distinguishes resting protective orders.
type ProtectiveKind string

const (
	ProtectiveStop   ProtectiveKind = "stop"
	ProtectiveTarget ProtectiveKind = "target"
)

// ProtectiveOrder is a resting stop or target order on the venue.
type ProtectiveOrder struct {
	Symbol       string
	Kind         ProtectiveKind
	TriggerPrice float64
	Quantity     float64
	OrderID      string
}

// OrderResult identifies a placed order.
type OrderResult struct {
	OrderID  string
	Symbol   string
	Quantity float64
	Price    float64
}

// ExecutionClient is the venue surface the bot depends on. Adapters
// hide venue quirks (hedge-mode indexes, algo-order endpoints, symbol
// filters) behind these calls. Every method takes a context; callers
// bound each call with a hard timeout.
type ExecutionClient interface {
	// Name identifies the venue for logs and notifications.
	Name() string

	// GetKlines returns up to limit most recent closed bars, oldest
	// first. interval uses the "1h"/"15m" notation.
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]types.OHLCV, error)

	// GetBalance returns the settlement-currency account balance.
	GetBalance(ctx context.Context) (float64, error)

	// PlaceMarketOrder opens a position with a market order.
	PlaceMarketOrder(ctx context.Context, symbol string, direction types.Direction, quantity float64) (*OrderResult, error)

	// ClosePositionMarket closes an open position with a reduce-only
	// market order.
	ClosePositionMarket(ctx context.Context, symbol string, direction types.Direction, quantity float64) (*OrderResult, error)

	// PlaceProtectiveOrders places the stop and target for an open
	// position. Implementations replace any existing pair.
	PlaceProtectiveOrders(ctx context.Context, symbol string, direction types.Direction, quantity, stopPrice, targetPrice float64) error

	// GetOpenProtectiveOrders lists resting protective orders for the
	// symbol.
	GetOpenProtectiveOrders(ctx context.Context, symbol string) ([]ProtectiveOrder, error)

	// CancelProtectiveOrders cancels all resting orders for symbol.
	CancelProtectiveOrders(ctx context.Context, symbol string) error

	// GetOpenPositions lists all open positions on the venue.
	GetOpenPositions(ctx context.Context) ([]VenuePosition, error)
}
