package binance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"github.com/duchoang-qt/pa-trading-bot/internal/exchange"
	"github.com/duchoang-qt/pa-trading-bot/pkg/types"
)

// Client implements exchange.ExecutionClient against Binance USDT-M
// futures. Protective orders are close-position STOP_MARKET /
// TAKE_PROFIT_MARKET orders, unlike Bybit where the levels attach to
// the position itself.
type Client struct {
	client *futures.Client
}

type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
}

func NewClient(config Config) *Client {
	futures.UseTestnet = config.Testnet
	return &Client{client: futures.NewClient(config.APIKey, config.APISecret)}
}

func (c *Client) Name() string { return "binance" }

func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]types.OHLCV, error) {
	if limit <= 0 || limit > 1500 {
		limit = 200
	}
	klines, err := c.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get klines: %w", err)
	}

	out := make([]types.OHLCV, 0, len(klines))
	for _, k := range klines {
		out = append(out, types.OHLCV{
			Timestamp: msToTime(k.OpenTime),
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
		})
	}
	return out, nil
}

func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	balances, err := c.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	for _, b := range balances {
		if b.Asset == "USDT" {
			return parseFloat(b.Balance), nil
		}
	}
	return 0, fmt.Errorf("no USDT balance in response")
}

func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, direction types.Direction, quantity float64) (*exchange.OrderResult, error) {
	qty := exchange.FormatQuantity(symbol, quantity)
	order, err := c.client.NewCreateOrderService().
		Symbol(symbol).
		Side(sideFor(direction)).
		Type(futures.OrderTypeMarket).
		Quantity(strconv.FormatFloat(qty, 'f', -1, 64)).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to place order: %w", err)
	}
	return &exchange.OrderResult{
		OrderID:  strconv.FormatInt(order.OrderID, 10),
		Symbol:   symbol,
		Quantity: qty,
	}, nil
}

func (c *Client) ClosePositionMarket(ctx context.Context, symbol string, direction types.Direction, quantity float64) (*exchange.OrderResult, error) {
	qty := exchange.FormatQuantity(symbol, quantity)
	order, err := c.client.NewCreateOrderService().
		Symbol(symbol).
		Side(sideFor(direction.Opposite())).
		Type(futures.OrderTypeMarket).
		Quantity(strconv.FormatFloat(qty, 'f', -1, 64)).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to close position: %w", err)
	}
	return &exchange.OrderResult{
		OrderID:  strconv.FormatInt(order.OrderID, 10),
		Symbol:   symbol,
		Quantity: qty,
	}, nil
}

func (c *Client) PlaceProtectiveOrders(ctx context.Context, symbol string, direction types.Direction, quantity, stopPrice, targetPrice float64) error {
	closeSide := sideFor(direction.Opposite())

	_, err := c.client.NewCreateOrderService().
		Symbol(symbol).
		Side(closeSide).
		Type(futures.OrderTypeStopMarket).
		StopPrice(formatPrice(symbol, stopPrice)).
		ClosePosition(true).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to place stop order: %w", err)
	}

	_, err = c.client.NewCreateOrderService().
		Symbol(symbol).
		Side(closeSide).
		Type(futures.OrderTypeTakeProfitMarket).
		StopPrice(formatPrice(symbol, targetPrice)).
		ClosePosition(true).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to place target order: %w", err)
	}
	return nil
}

func (c *Client) GetOpenProtectiveOrders(ctx context.Context, symbol string) ([]exchange.ProtectiveOrder, error) {
	orders, err := c.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list open orders: %w", err)
	}

	var out []exchange.ProtectiveOrder
	for _, order := range orders {
		var kind exchange.ProtectiveKind
		switch order.Type {
		case futures.OrderTypeStopMarket, futures.OrderTypeStop:
			kind = exchange.ProtectiveStop
		case futures.OrderTypeTakeProfitMarket, futures.OrderTypeTakeProfit:
			kind = exchange.ProtectiveTarget
		default:
			continue
		}
		out = append(out, exchange.ProtectiveOrder{
			Symbol:       symbol,
			Kind:         kind,
			TriggerPrice: parseFloat(order.StopPrice),
			Quantity:     parseFloat(order.OrigQuantity),
			OrderID:      strconv.FormatInt(order.OrderID, 10),
		})
	}
	return out, nil
}

func (c *Client) CancelProtectiveOrders(ctx context.Context, symbol string) error {
	if err := c.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
		return fmt.Errorf("failed to cancel open orders: %w", err)
	}
	return nil
}

func (c *Client) GetOpenPositions(ctx context.Context) ([]exchange.VenuePosition, error) {
	positions, err := c.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}

	var out []exchange.VenuePosition
	for _, pos := range positions {
		amt := parseFloat(pos.PositionAmt)
		if amt == 0 {
			continue
		}
		direction := types.DirectionLong
		size := amt
		if amt < 0 {
			direction = types.DirectionShort
			size = -amt
		}
		out = append(out, exchange.VenuePosition{
			Symbol:        pos.Symbol,
			Direction:     direction,
			Size:          size,
			EntryPrice:    parseFloat(pos.EntryPrice),
			UnrealizedPnL: parseFloat(pos.UnRealizedProfit),
		})
	}
	return out, nil
}

func sideFor(direction types.Direction) futures.SideType {
	if direction == types.DirectionLong {
		return futures.SideTypeBuy
	}
	return futures.SideTypeSell
}

func formatPrice(symbol string, price float64) string {
	return strconv.FormatFloat(exchange.FormatPrice(symbol, price), 'f', -1, 64)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}
