package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"

	"github.com/duchoang-qt/pa-trading-bot/internal/exchange"
	"github.com/duchoang-qt/pa-trading-bot/pkg/types"
)

// Client implements exchange.ExecutionClient against Bybit's v5
// unified trading API, linear perpetual category.
type Client struct {
	httpClient *bybit_api.Client
	testnet    bool
}

// Config holds the Bybit client credentials and environment.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
}

func NewClient(config Config) *Client {
	baseURL := bybit_api.MAINNET
	if config.Testnet {
		baseURL = bybit_api.TESTNET
	}
	httpClient := bybit_api.NewBybitHttpClient(
		config.APIKey,
		config.APISecret,
		bybit_api.WithBaseURL(baseURL),
	)
	return &Client{httpClient: httpClient, testnet: config.Testnet}
}

func (c *Client) Name() string { return "bybit" }

// intervalMap converts "1h" style intervals to Bybit's notation.
var intervalMap = map[string]string{
	"1m": "1", "3m": "3", "5m": "5", "15m": "15", "30m": "30",
	"1h": "60", "2h": "120", "4h": "240", "6h": "360", "12h": "720",
	"1d": "D",
}

func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]types.OHLCV, error) {
	bybitInterval, ok := intervalMap[interval]
	if !ok {
		return nil, fmt.Errorf("unsupported interval %q", interval)
	}
	if limit <= 0 || limit > 1000 {
		limit = 200
	}

	params := map[string]interface{}{
		"category": "linear",
		"symbol":   symbol,
		"interval": bybitInterval,
		"limit":    limit,
	}
	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetMarketKline(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get klines: %w", err)
	}

	var klineResult struct {
		List [][]string `json:"list"`
	}
	if err := parseResult(result, &klineResult); err != nil {
		return nil, err
	}

	klines := make([]types.OHLCV, 0, len(klineResult.List))
	for _, row := range klineResult.List {
		if len(row) < 6 {
			continue
		}
		startMs, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		bar := types.OHLCV{
			Timestamp: msToTime(startMs),
			Open:      parseFloat(row[1]),
			High:      parseFloat(row[2]),
			Low:       parseFloat(row[3]),
			Close:     parseFloat(row[4]),
			Volume:    parseFloat(row[5]),
		}
		klines = append(klines, bar)
	}
	// Bybit returns newest first.
	sort.Slice(klines, func(i, j int) bool {
		return klines[i].Timestamp.Before(klines[j].Timestamp)
	})
	return klines, nil
}

func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	params := map[string]interface{}{
		"accountType": "UNIFIED",
		"coin":        "USDT",
	}
	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get account balance: %w", err)
	}

	var walletResult struct {
		List []struct {
			TotalEquity string `json:"totalEquity"`
			Coin        []struct {
				Coin          string `json:"coin"`
				WalletBalance string `json:"walletBalance"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := parseResult(result, &walletResult); err != nil {
		return 0, err
	}
	if len(walletResult.List) == 0 {
		return 0, fmt.Errorf("empty wallet response")
	}
	for _, coin := range walletResult.List[0].Coin {
		if coin.Coin == "USDT" {
			return parseFloat(coin.WalletBalance), nil
		}
	}
	return parseFloat(walletResult.List[0].TotalEquity), nil
}

func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, direction types.Direction, quantity float64) (*exchange.OrderResult, error) {
	return c.placeMarket(ctx, symbol, sideFor(direction), quantity, false)
}

func (c *Client) ClosePositionMarket(ctx context.Context, symbol string, direction types.Direction, quantity float64) (*exchange.OrderResult, error) {
	return c.placeMarket(ctx, symbol, sideFor(direction.Opposite()), quantity, true)
}

func (c *Client) placeMarket(ctx context.Context, symbol, side string, quantity float64, reduceOnly bool) (*exchange.OrderResult, error) {
	qty := exchange.FormatQuantity(symbol, quantity)
	params := map[string]interface{}{
		"category":  "linear",
		"symbol":    symbol,
		"side":      side,
		"orderType": "Market",
		"qty":       strconv.FormatFloat(qty, 'f', -1, 64),
	}
	if reduceOnly {
		params["reduceOnly"] = true
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).PlaceOrder(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to place order: %w", err)
	}

	var orderResult struct {
		OrderID string `json:"orderId"`
	}
	if err := parseResult(result, &orderResult); err != nil {
		return nil, err
	}
	return &exchange.OrderResult{
		OrderID:  orderResult.OrderID,
		Symbol:   symbol,
		Quantity: qty,
	}, nil
}

// PlaceProtectiveOrders sets the stop and target through Bybit's
// position trading-stop endpoint. On Bybit the protective levels live
// on the position itself rather than as separate resting orders.
func (c *Client) PlaceProtectiveOrders(ctx context.Context, symbol string, direction types.Direction, quantity, stopPrice, targetPrice float64) error {
	params := map[string]interface{}{
		"category":    "linear",
		"symbol":      symbol,
		"tpslMode":    "Full",
		"positionIdx": 0,
		"stopLoss":    strconv.FormatFloat(exchange.FormatPrice(symbol, stopPrice), 'f', -1, 64),
		"takeProfit":  strconv.FormatFloat(exchange.FormatPrice(symbol, targetPrice), 'f', -1, 64),
	}
	_, err := c.httpClient.NewUtaBybitServiceWithParams(params).SetPositionTradingStop(ctx)
	if err != nil {
		return fmt.Errorf("failed to set protective orders: %w", err)
	}
	return nil
}

// GetOpenProtectiveOrders reads the stop/target levels off the
// position. An empty slice means the position is unprotected.
func (c *Client) GetOpenProtectiveOrders(ctx context.Context, symbol string) ([]exchange.ProtectiveOrder, error) {
	positions, err := c.positionList(ctx, symbol)
	if err != nil {
		return nil, err
	}

	var orders []exchange.ProtectiveOrder
	for _, pos := range positions {
		size := parseFloat(pos.Size)
		if size == 0 {
			continue
		}
		if sl := parseFloat(pos.StopLoss); sl > 0 {
			orders = append(orders, exchange.ProtectiveOrder{
				Symbol: symbol, Kind: exchange.ProtectiveStop,
				TriggerPrice: sl, Quantity: size,
			})
		}
		if tp := parseFloat(pos.TakeProfit); tp > 0 {
			orders = append(orders, exchange.ProtectiveOrder{
				Symbol: symbol, Kind: exchange.ProtectiveTarget,
				TriggerPrice: tp, Quantity: size,
			})
		}
	}
	return orders, nil
}

func (c *Client) CancelProtectiveOrders(ctx context.Context, symbol string) error {
	// Clear position-attached levels, then any stray conditional
	// orders from older sessions.
	params := map[string]interface{}{
		"category":    "linear",
		"symbol":      symbol,
		"tpslMode":    "Full",
		"positionIdx": 0,
		"stopLoss":    "0",
		"takeProfit":  "0",
	}
	if _, err := c.httpClient.NewUtaBybitServiceWithParams(params).SetPositionTradingStop(ctx); err != nil {
		return fmt.Errorf("failed to clear trading stop: %w", err)
	}

	cancelParams := map[string]interface{}{
		"category": "linear",
		"symbol":   symbol,
	}
	if _, err := c.httpClient.NewUtaBybitServiceWithParams(cancelParams).CancelAllOrders(ctx); err != nil {
		return fmt.Errorf("failed to cancel open orders: %w", err)
	}
	return nil
}

func (c *Client) GetOpenPositions(ctx context.Context) ([]exchange.VenuePosition, error) {
	positions, err := c.positionList(ctx, "")
	if err != nil {
		return nil, err
	}

	var out []exchange.VenuePosition
	for _, pos := range positions {
		size := parseFloat(pos.Size)
		if size == 0 {
			continue
		}
		direction := types.DirectionLong
		if pos.Side == "Sell" {
			direction = types.DirectionShort
		}
		out = append(out, exchange.VenuePosition{
			Symbol:        pos.Symbol,
			Direction:     direction,
			Size:          size,
			EntryPrice:    parseFloat(pos.AvgPrice),
			UnrealizedPnL: parseFloat(pos.UnrealisedPnl),
		})
	}
	return out, nil
}

type positionInfo struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	AvgPrice      string `json:"avgPrice"`
	StopLoss      string `json:"stopLoss"`
	TakeProfit    string `json:"takeProfit"`
	UnrealisedPnl string `json:"unrealisedPnl"`
}

func (c *Client) positionList(ctx context.Context, symbol string) ([]positionInfo, error) {
	params := map[string]interface{}{
		"category":   "linear",
		"settleCoin": "USDT",
	}
	if symbol != "" {
		params["symbol"] = symbol
	}
	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetPositionList(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get position list: %w", err)
	}

	var listResult struct {
		List []positionInfo `json:"list"`
	}
	if err := parseResult(result, &listResult); err != nil {
		return nil, err
	}
	return listResult.List, nil
}

// parseResult unwraps a ServerResponse and decodes its Result field.
func parseResult(response interface{}, v interface{}) error {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return fmt.Errorf("unexpected response type %T", response)
	}
	if serverResp.RetCode != 0 {
		return fmt.Errorf("API error: %s (code: %d)", serverResp.RetMsg, serverResp.RetCode)
	}
	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := json.Unmarshal(resultBytes, v); err != nil {
		return fmt.Errorf("failed to parse result: %w", err)
	}
	return nil
}

func sideFor(direction types.Direction) string {
	if direction == types.DirectionLong {
		return "Buy"
	}
	return "Sell"
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}
