package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/duchoang-qt/pa-trading-bot/pkg/types"
)

// Paper is an in-memory venue for simulation mode and tests. Market
// orders fill at the last loaded close; protective orders rest until
// cancelled. Failures can be injected per operation to exercise the
// self-check and reconciliation paths.
type Paper struct {
	mu         sync.Mutex
	balance    float64
	klines     map[string][]types.OHLCV
	positions  map[string]*VenuePosition
	protective map[string][]ProtectiveOrder
	orderSeq   int
	failures   map[string]error
}

func NewPaper(initialBalance float64) *Paper {
	return &Paper{
		balance:    initialBalance,
		klines:     make(map[string][]types.OHLCV),
		positions:  make(map[string]*VenuePosition),
		protective: make(map[string][]ProtectiveOrder),
		failures:   make(map[string]error),
	}
}

func (p *Paper) Name() string { return "paper" }

// LoadKlines seeds the bar history for a symbol.
func (p *Paper) LoadKlines(symbol string, bars []types.OHLCV) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.klines[symbol] = bars
}

// AppendKline adds one bar, advancing the mark price.
func (p *Paper) AppendKline(symbol string, bar types.OHLCV) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.klines[symbol] = append(p.klines[symbol], bar)
}

// FailNext makes the named operation return err until cleared with a
// nil err. Operations: placeOrder, close, placeProtective, cancel,
// protective, positions, balance, klines.
func (p *Paper) FailNext(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, op)
		return
	}
	p.failures[op] = err
}

// SetBalance overrides the venue balance (external deposit/close).
func (p *Paper) SetBalance(balance float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balance = balance
}

// ImportPosition seeds a venue-side position the bot did not open.
func (p *Paper) ImportPosition(pos VenuePosition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions[pos.Symbol] = &pos
}

// RemovePosition simulates an external close (liquidation, manual).
func (p *Paper) RemovePosition(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.positions, symbol)
	delete(p.protective, symbol)
}

// DropProtective simulates the venue losing the protective pair.
func (p *Paper) DropProtective(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.protective, symbol)
}

// DropProtectiveKind removes only one half of the pair, as when a
// single resting order is cancelled by hand or expires.
func (p *Paper) DropProtectiveKind(symbol string, kind ProtectiveKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.protective[symbol][:0]
	for _, o := range p.protective[symbol] {
		if o.Kind != kind {
			kept = append(kept, o)
		}
	}
	p.protective[symbol] = kept
}

func (p *Paper) failure(op string) error {
	if err, ok := p.failures[op]; ok {
		return err
	}
	return nil
}

func (p *Paper) markPrice(symbol string) (float64, error) {
	bars := p.klines[symbol]
	if len(bars) == 0 {
		return 0, fmt.Errorf("paper: no bars loaded for %s", symbol)
	}
	return bars[len(bars)-1].Close, nil
}

func (p *Paper) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]types.OHLCV, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failure("klines"); err != nil {
		return nil, err
	}
	bars := p.klines[symbol]
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	out := make([]types.OHLCV, len(bars))
	copy(out, bars)
	return out, nil
}

func (p *Paper) GetBalance(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failure("balance"); err != nil {
		return 0, err
	}
	return p.balance, nil
}

func (p *Paper) PlaceMarketOrder(ctx context.Context, symbol string, direction types.Direction, quantity float64) (*OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failure("placeOrder"); err != nil {
		return nil, err
	}
	mark, err := p.markPrice(symbol)
	if err != nil {
		return nil, err
	}
	if _, exists := p.positions[symbol]; exists {
		return nil, fmt.Errorf("paper: %s already has a position", symbol)
	}

	p.orderSeq++
	p.positions[symbol] = &VenuePosition{
		Symbol:     symbol,
		Direction:  direction,
		Size:       quantity,
		EntryPrice: mark,
	}
	return &OrderResult{
		OrderID:  fmt.Sprintf("paper-%d", p.orderSeq),
		Symbol:   symbol,
		Quantity: quantity,
		Price:    mark,
	}, nil
}

func (p *Paper) ClosePositionMarket(ctx context.Context, symbol string, direction types.Direction, quantity float64) (*OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failure("close"); err != nil {
		return nil, err
	}
	pos, exists := p.positions[symbol]
	if !exists {
		return nil, fmt.Errorf("paper: %s has no position to close", symbol)
	}
	mark, err := p.markPrice(symbol)
	if err != nil {
		return nil, err
	}

	pnl := (mark - pos.EntryPrice) * pos.Size
	if pos.Direction == types.DirectionShort {
		pnl = -pnl
	}
	p.balance += pnl
	delete(p.positions, symbol)
	delete(p.protective, symbol)

	p.orderSeq++
	return &OrderResult{
		OrderID:  fmt.Sprintf("paper-%d", p.orderSeq),
		Symbol:   symbol,
		Quantity: quantity,
		Price:    mark,
	}, nil
}

func (p *Paper) PlaceProtectiveOrders(ctx context.Context, symbol string, direction types.Direction, quantity, stopPrice, targetPrice float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failure("placeProtective"); err != nil {
		return err
	}
	p.orderSeq++
	stop := ProtectiveOrder{
		Symbol: symbol, Kind: ProtectiveStop,
		TriggerPrice: stopPrice, Quantity: quantity,
		OrderID: fmt.Sprintf("paper-%d", p.orderSeq),
	}
	p.orderSeq++
	target := ProtectiveOrder{
		Symbol: symbol, Kind: ProtectiveTarget,
		TriggerPrice: targetPrice, Quantity: quantity,
		OrderID: fmt.Sprintf("paper-%d", p.orderSeq),
	}
	p.protective[symbol] = []ProtectiveOrder{stop, target}
	return nil
}

func (p *Paper) GetOpenProtectiveOrders(ctx context.Context, symbol string) ([]ProtectiveOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failure("protective"); err != nil {
		return nil, err
	}
	orders := p.protective[symbol]
	out := make([]ProtectiveOrder, len(orders))
	copy(out, orders)
	return out, nil
}

func (p *Paper) CancelProtectiveOrders(ctx context.Context, symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failure("cancel"); err != nil {
		return err
	}
	delete(p.protective, symbol)
	return nil
}

func (p *Paper) GetOpenPositions(ctx context.Context) ([]VenuePosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failure("positions"); err != nil {
		return nil, err
	}
	out := make([]VenuePosition, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out, nil
}
