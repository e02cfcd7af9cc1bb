package reconcile

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duchoang-qt/pa-trading-bot/internal/exchange"
	"github.com/duchoang-qt/pa-trading-bot/internal/journal"
	"github.com/duchoang-qt/pa-trading-bot/internal/ledger"
	"github.com/duchoang-qt/pa-trading-bot/internal/logger"
	"github.com/duchoang-qt/pa-trading-bot/internal/notifications"
	"github.com/duchoang-qt/pa-trading-bot/pkg/types"
)

type alertRecorder struct {
	mu     sync.Mutex
	alerts []string
}

func (a *alertRecorder) SendAlert(level notifications.Level, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, fmt.Sprintf("%s: %s", level, message))
	return nil
}

func (a *alertRecorder) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

func (a *alertRecorder) last() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.alerts) == 0 {
		return ""
	}
	return a.alerts[len(a.alerts)-1]
}

type fixture struct {
	rec    *Reconciler
	paper  *exchange.Paper
	ledger *ledger.Ledger
	jrnl   *journal.Journal
	alerts *alertRecorder
}

func newFixture(t *testing.T, live bool) *fixture {
	t.Helper()
	dir := t.TempDir()

	paper := exchange.NewPaper(1000)
	paper.LoadKlines("BTCUSDT", []types.OHLCV{barAt(50000)})
	paper.LoadKlines("ETHUSDT", []types.OHLCV{barAt(3000)})

	led := ledger.New(filepath.Join(dir, "state.json"), 1000)
	jrnl := journal.New(filepath.Join(dir, "trades.jsonl"))
	alerts := &alertRecorder{}
	log, err := logger.New(filepath.Join(dir, "logs"), "test", "simulation")
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	rec := New(paper, led, jrnl, alerts, log, live)
	rec.retryBase = 0
	return &fixture{rec: rec, paper: paper, ledger: led, jrnl: jrnl, alerts: alerts}
}

func barAt(close float64) types.OHLCV {
	return types.OHLCV{
		Timestamp: time.Now(),
		Open:      close, High: close, Low: close, Close: close,
		Volume: 100,
	}
}

func openLong(t *testing.T, f *fixture, symbol string, entry float64) {
	t.Helper()
	require.NoError(t, f.ledger.Open(&ledger.Position{
		Symbol:       symbol,
		Direction:    types.DirectionLong,
		Entry:        entry,
		StopLoss:     entry * 0.98,
		TakeProfit:   entry * 1.028,
		RiskFraction: 0.05,
		PriceRisk:    0.02,
		Allocation:   0.5,
		OpenedAt:     time.Now(),
	}))
}

func TestSyncStartupImportsUnknownVenuePosition(t *testing.T) {
	f := newFixture(t, true)
	f.paper.ImportPosition(exchange.VenuePosition{
		Symbol: "ETHUSDT", Direction: types.DirectionShort,
		Size: 0.5, EntryPrice: 3100,
	})

	require.NoError(t, f.rec.SyncStartup(context.Background()))

	pos := f.ledger.Position("ETHUSDT")
	require.NotNil(t, pos)
	assert.True(t, pos.ManualOnly)
	assert.Equal(t, types.DirectionShort, pos.Direction)
	assert.Equal(t, 3100.0, pos.Entry)
	assert.Equal(t, 1, f.alerts.count())
	// Imported positions consume no bot capital.
	assert.Equal(t, 1.0, f.ledger.RemainingAllocation())
}

func TestSyncStartupSettlesStaleLocalPosition(t *testing.T) {
	f := newFixture(t, true)
	openLong(t, f, "BTCUSDT", 50000)
	// The venue closed it while the bot was down and the balance grew.
	f.paper.SetBalance(1025)

	require.NoError(t, f.rec.SyncStartup(context.Background()))

	assert.Nil(t, f.ledger.Position("BTCUSDT"))
	assert.Equal(t, 1025.0, f.ledger.Balance())
	require.Equal(t, 1, f.jrnl.Len())
	rec := f.jrnl.Trades()[0]
	assert.InDelta(t, 25, rec.Profit, 1e-9)
	assert.Equal(t, "closed while bot was down", rec.ExitReason)
	wins, _, total := f.ledger.Stats()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, total)
}

func TestSyncCycleSettlesVanishedPosition(t *testing.T) {
	f := newFixture(t, true)
	openLong(t, f, "BTCUSDT", 50000)
	f.paper.SetBalance(990)

	require.NoError(t, f.rec.SyncCycle(context.Background()))

	assert.Nil(t, f.ledger.Position("BTCUSDT"))
	assert.Equal(t, 990.0, f.ledger.Balance())
	require.Equal(t, 1, f.jrnl.Len())
	assert.InDelta(t, -10, f.jrnl.Trades()[0].Profit, 1e-9)

	// Running the cycle again with nothing to repair changes nothing.
	require.NoError(t, f.rec.SyncCycle(context.Background()))
	assert.Equal(t, 1, f.jrnl.Len())
	assert.Equal(t, 990.0, f.ledger.Balance())
}

func TestSyncCycleReplacesMissingProtectiveOrders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	openLong(t, f, "BTCUSDT", 50000)
	_, err := f.paper.PlaceMarketOrder(ctx, "BTCUSDT", types.DirectionLong, 0.01)
	require.NoError(t, err)
	// The pair never made it to the venue.

	require.NoError(t, f.rec.SyncCycle(ctx))

	orders, err := f.paper.GetOpenProtectiveOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, exchange.ProtectiveStop, orders[0].Kind)
	assert.InDelta(t, 49000, orders[0].TriggerPrice, 1)
	assert.False(t, f.ledger.Position("BTCUSDT").NoStopLoss)
}

func TestSyncCycleReplacesPairWhenTargetMissing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	openLong(t, f, "BTCUSDT", 50000)
	_, err := f.paper.PlaceMarketOrder(ctx, "BTCUSDT", types.DirectionLong, 0.01)
	require.NoError(t, err)
	require.NoError(t, f.paper.PlaceProtectiveOrders(ctx, "BTCUSDT", types.DirectionLong, 0.01, 49000, 51400))
	// The stop survives but the take-profit vanished on the venue.
	f.paper.DropProtectiveKind("BTCUSDT", exchange.ProtectiveTarget)

	require.NoError(t, f.rec.SyncCycle(ctx))

	orders, err := f.paper.GetOpenProtectiveOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	kinds := map[exchange.ProtectiveKind]float64{}
	for _, o := range orders {
		kinds[o.Kind] = o.TriggerPrice
	}
	assert.InDelta(t, 49000, kinds[exchange.ProtectiveStop], 1)
	assert.InDelta(t, 51400, kinds[exchange.ProtectiveTarget], 1)
	assert.NotNil(t, f.ledger.Position("BTCUSDT"))
}

func TestSyncCycleEmergencyClosesUnprotectablePosition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	openLong(t, f, "BTCUSDT", 50000)
	_, err := f.paper.PlaceMarketOrder(ctx, "BTCUSDT", types.DirectionLong, 0.01)
	require.NoError(t, err)
	f.paper.FailNext("placeProtective", fmt.Errorf("order would trigger immediately"))

	require.NoError(t, f.rec.SyncCycle(ctx))

	assert.Nil(t, f.ledger.Position("BTCUSDT"))
	positions, err := f.paper.GetOpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)
	assert.Contains(t, f.alerts.last(), "Emergency market close")
}

func TestRetryPendingCloseSucceeds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	openLong(t, f, "BTCUSDT", 50000)
	_, err := f.paper.PlaceMarketOrder(ctx, "BTCUSDT", types.DirectionLong, 0.01)
	require.NoError(t, err)
	f.ledger.Update("BTCUSDT", func(p *ledger.Position) {
		p.PendingClose = true
		p.CloseReason = "stop loss hit"
	})

	f.rec.RetryPendingClose(ctx)

	assert.Nil(t, f.ledger.Position("BTCUSDT"))
	require.Equal(t, 1, f.jrnl.Len())
	assert.Equal(t, "stop loss hit", f.jrnl.Trades()[0].ExitReason)
}

func TestRetryPendingCloseSettlesWhenVenueAlreadyFlat(t *testing.T) {
	f := newFixture(t, true)
	openLong(t, f, "BTCUSDT", 50000)
	f.ledger.Update("BTCUSDT", func(p *ledger.Position) { p.PendingClose = true })
	f.paper.SetBalance(1015)

	f.rec.RetryPendingClose(context.Background())

	assert.Nil(t, f.ledger.Position("BTCUSDT"))
	assert.Equal(t, 1015.0, f.ledger.Balance())
	require.Equal(t, 1, f.jrnl.Len())
	assert.Equal(t, "closed on venue", f.jrnl.Trades()[0].ExitReason)
}

func TestRetryPendingCloseBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	openLong(t, f, "BTCUSDT", 50000)
	_, err := f.paper.PlaceMarketOrder(ctx, "BTCUSDT", types.DirectionLong, 0.01)
	require.NoError(t, err)
	f.paper.FailNext("close", fmt.Errorf("venue rejecting closes"))
	f.ledger.Update("BTCUSDT", func(p *ledger.Position) {
		p.PendingClose = true
		p.TotalRetries = totalCloseBudget
	})

	f.rec.RetryPendingClose(ctx)

	pos := f.ledger.Position("BTCUSDT")
	require.NotNil(t, pos)
	assert.True(t, pos.ManualOnly)
	assert.False(t, pos.PendingClose)
	assert.Contains(t, f.alerts.last(), "close it manually")
}

func TestRetryPendingCloseStopsAtPerCycleCap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	openLong(t, f, "BTCUSDT", 50000)
	_, err := f.paper.PlaceMarketOrder(ctx, "BTCUSDT", types.DirectionLong, 0.01)
	require.NoError(t, err)
	f.paper.FailNext("close", fmt.Errorf("venue rejecting closes"))
	f.ledger.Update("BTCUSDT", func(p *ledger.Position) { p.PendingClose = true })

	f.rec.RetryPendingClose(ctx)

	pos := f.ledger.Position("BTCUSDT")
	require.NotNil(t, pos)
	assert.True(t, pos.PendingClose)
	assert.Equal(t, maxCloseRetriesPerCycle, pos.CloseRetries)
	assert.Equal(t, maxCloseRetriesPerCycle, pos.TotalRetries)
}

func TestForceLiquidateSkipsManualPositions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	openLong(t, f, "BTCUSDT", 50000)
	_, err := f.paper.PlaceMarketOrder(ctx, "BTCUSDT", types.DirectionLong, 0.01)
	require.NoError(t, err)
	f.paper.ImportPosition(exchange.VenuePosition{
		Symbol: "ETHUSDT", Direction: types.DirectionLong,
		Size: 0.5, EntryPrice: 2900,
	})
	require.NoError(t, f.ledger.Import(&ledger.Position{
		Symbol: "ETHUSDT", Direction: types.DirectionLong,
		Entry: 2900, ManualOnly: true,
	}))

	f.rec.ForceLiquidate(ctx, "daily loss limit")

	assert.Nil(t, f.ledger.Position("BTCUSDT"))
	assert.NotNil(t, f.ledger.Position("ETHUSDT"), "manual position must survive liquidation")
	positions, err := f.paper.GetOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "ETHUSDT", positions[0].Symbol)
	require.Equal(t, 1, f.jrnl.Len())
	assert.Equal(t, "daily loss limit", f.jrnl.Trades()[0].ExitReason)
}
