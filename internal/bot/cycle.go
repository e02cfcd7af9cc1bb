package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/duchoang-qt/pa-trading-bot/internal/config"
	"github.com/duchoang-qt/pa-trading-bot/internal/engine"
	"github.com/duchoang-qt/pa-trading-bot/internal/errors"
	"github.com/duchoang-qt/pa-trading-bot/internal/exchange"
	"github.com/duchoang-qt/pa-trading-bot/internal/journal"
	"github.com/duchoang-qt/pa-trading-bot/internal/ledger"
	"github.com/duchoang-qt/pa-trading-bot/internal/monitoring"
	"github.com/duchoang-qt/pa-trading-bot/internal/notifications"
	"github.com/duchoang-qt/pa-trading-bot/internal/selfcheck"
	"github.com/duchoang-qt/pa-trading-bot/pkg/types"
)

// cycle is one full pass: breaker housekeeping, reconciliation, then
// per-instrument evaluation.
func (bot *LiveBot) cycle(ctx context.Context) error {
	bot.resumeBreaker()

	if bot.cfg.Mode == config.ModeLive {
		if err := bot.rec.SyncCycle(ctx); err != nil {
			return err
		}
	}
	bot.rec.RetryPendingClose(ctx)

	venueBalance, err := bot.fetchBalance(ctx)
	if err != nil {
		return err
	}
	if bot.cfg.Mode == config.ModeLive {
		if res := bot.risk.CheckBalanceDeviation(bot.ledger.Balance(), venueBalance); !res.Pass {
			bot.log.LogGuardBreach(res.Guard, res.Reason)
			bot.alert(notifications.LevelWarning, res.Reason)
		}
	}

	for _, inst := range bot.cfg.Instruments {
		if err := bot.evaluateInstrument(ctx, inst); err != nil {
			return err
		}
	}

	if err := bot.ledger.Save(); err != nil {
		bot.log.LogError("ledger save", err)
	}
	if err := bot.risk.Save(); err != nil {
		bot.log.LogError("risk state save", err)
	}
	return nil
}

// resumeBreaker checks both resume paths: the cooldown auto-resume for
// self-check engagements and the operator's reset file for everything
// else.
func (bot *LiveBot) resumeBreaker() {
	engaged, _, _ := bot.risk.Engaged()
	if !engaged {
		return
	}
	if reason, ok := bot.risk.TryAutoResume(time.Now()); ok {
		bot.checks.ResetAll()
		bot.log.LogBreaker(false, "cooldown elapsed after "+reason)
		bot.alert(notifications.LevelSuccess,
			fmt.Sprintf("Circuit breaker auto-resumed after cooldown (%s). Trading re-enabled.", reason))
		return
	}
	if reason, ok := bot.risk.TryManualResume(bot.cfg.ResetFile); ok {
		bot.checks.ResetAll()
		bot.log.LogBreaker(false, "manual reset after "+reason)
		bot.alert(notifications.LevelSuccess,
			fmt.Sprintf("Circuit breaker manually reset (%s). Trading re-enabled.", reason))
	}
}

func (bot *LiveBot) fetchBalance(ctx context.Context) (float64, error) {
	var balance float64
	err := bot.reads.Do(ctx, "getBalance", func(ctx context.Context) error {
		callCtx, cancel := venueCtx(ctx)
		defer cancel()
		var err error
		balance, err = bot.client.GetBalance(callCtx)
		return err
	})
	if err != nil {
		bot.risk.RecordAPIFailure()
		monitoring.RecordAPIError(string(errors.Classify(err, "exchange", "getBalance").Category))
		return 0, fmt.Errorf("get balance: %w", err)
	}
	bot.risk.RecordAPISuccess()
	return balance, nil
}

func (bot *LiveBot) evaluateInstrument(ctx context.Context, inst config.InstrumentConfig) error {
	var klines []types.OHLCV
	err := bot.reads.Do(ctx, "getKlines", func(ctx context.Context) error {
		callCtx, cancel := venueCtx(ctx)
		defer cancel()
		var err error
		klines, err = bot.client.GetKlines(callCtx, inst.Symbol, inst.Interval, klineLimit)
		return err
	})
	if err != nil {
		bot.risk.RecordAPIFailure()
		monitoring.RecordAPIError(string(errors.Classify(err, "exchange", "getKlines").Category))
		return fmt.Errorf("%s klines: %w", inst.Symbol, err)
	}
	bot.risk.RecordAPISuccess()

	if bot.cfg.Mode == config.ModeLive {
		klines = closedBars(klines, inst.Interval)
	}
	if len(klines) == 0 {
		return nil
	}
	bar := klines[len(klines)-1]
	price := bar.Close
	balance := bot.ledger.Balance()
	position := bot.ledger.Position(inst.Symbol)

	bot.log.LogCycleStatus(inst.Symbol, price, balance, len(bot.ledger.Positions()))

	allowEntries := true
	if guard := bot.risk.CheckEntry(inst.Symbol, price, balance); !guard.Pass {
		allowEntries = false
		switch {
		case guard.Guard == "circuitBreaker":
			// Already engaged; the book stays liquidation-only until it
			// is flat or frozen for the operator.
			bot.liquidateEngaged(ctx, guard.Reason)
		case guard.SkipOnly:
			bot.log.LogGuardBreach(guard.Guard, guard.Reason)
			bot.alert(notifications.LevelWarning, guard.Reason)
		case guard.AlertOnly:
			bot.alert(notifications.LevelWarning, guard.Reason)
			allowEntries = true
		default:
			// Hard breach: the guard engaged the breaker, flatten the book.
			bot.log.LogGuardBreach(guard.Guard, guard.Reason)
			bot.log.LogBreaker(true, guard.Reason)
			monitoring.RecordGuardBreach(guard.Guard)
			bot.alert(notifications.LevelCritical,
				fmt.Sprintf("Circuit breaker engaged: %s. Closing all positions.", guard.Reason))
			bot.rec.ForceLiquidate(ctx, guard.Reason)
			return nil
		}
	}

	// One verdict per closed bar. Reconciliation and retries still ran
	// above even when the bar is unchanged.
	if last, ok := bot.lastEvaluated[inst.Symbol]; ok && !bar.Timestamp.After(last) {
		return nil
	}
	bot.lastEvaluated[inst.Symbol] = bar.Timestamp

	decision, err := bot.engine.Evaluate(engine.Params{
		Symbol:       inst.Symbol,
		Klines:       klines,
		Position:     position,
		Balance:      balance,
		Remaining:    bot.ledger.RemainingAllocation(),
		UseBOS:       inst.UseBOS,
		AllowEntries: allowEntries,
	})
	if err != nil {
		return fmt.Errorf("%s evaluate: %w", inst.Symbol, err)
	}

	switch decision.Verdict {
	case engine.VerdictExit:
		bot.executeExit(ctx, inst.Symbol, position, decision)
	case engine.VerdictEnter:
		bot.executeEntry(ctx, inst.Symbol, decision)
	default:
		if decision.Anomaly != "" {
			bot.log.Warning("%s signal dropped: %s", inst.Symbol, decision.Anomaly)
			bot.alert(notifications.LevelWarning,
				fmt.Sprintf("%s signal rejected: %s", inst.Symbol, decision.Anomaly))
		}
	}
	return nil
}

// executeEntry sizes and places the order, then protects it. A failed
// protective placement marks the position NoStopLoss for the
// reconciler instead of leaving it silently naked.
func (bot *LiveBot) executeEntry(ctx context.Context, symbol string, d engine.Decision) {
	sig := d.Signal
	balance := bot.ledger.Balance()

	positionValue := balance * d.Allocation * sig.RiskFraction / sig.PriceRisk
	if maxValue := balance * d.Allocation * bot.cfg.Leverage; positionValue > maxValue {
		positionValue = maxValue
	}
	quantity, err := exchange.SizeOrder(symbol, positionValue, sig.Entry)
	if err != nil {
		bot.log.Warning("%s entry skipped: %v", symbol, err)
		return
	}

	callCtx, cancel := venueCtx(ctx)
	result, err := bot.client.PlaceMarketOrder(callCtx, symbol, sig.Direction, quantity)
	cancel()
	if err != nil {
		bot.handleOpFailure(ctx, selfcheck.OpPlaceOrder, err)
		return
	}
	bot.checks.RecordSuccess(selfcheck.OpPlaceOrder)

	entry := sig.Entry
	if result.Price > 0 {
		entry = result.Price
	}
	pos := &ledger.Position{
		Symbol:       symbol,
		Direction:    sig.Direction,
		Entry:        entry,
		StopLoss:     sig.StopLoss,
		TakeProfit:   sig.TakeProfit,
		RiskFraction: sig.RiskFraction,
		PriceRisk:    sig.PriceRisk,
		Allocation:   d.Allocation,
		OpenedAt:     time.Now(),
		HasBOS:       sig.HasBOS,
		ZoneStrength: sig.ZoneStrength,
		ZoneFeatures: sig.ZoneFeatures,
		OrderID:      result.OrderID,
	}
	if err := bot.ledger.Open(pos); err != nil {
		// The order is live but the ledger refused it. Close immediately
		// rather than trade untracked.
		bot.log.LogError("ledger open "+symbol, err)
		callCtx, cancel := venueCtx(ctx)
		if _, closeErr := bot.client.ClosePositionMarket(callCtx, symbol, sig.Direction, quantity); closeErr != nil {
			bot.alert(notifications.LevelCritical,
				fmt.Sprintf("%s order filled but could not be tracked or closed: %v", symbol, closeErr))
		}
		cancel()
		return
	}

	bot.placeProtection(ctx, pos, quantity)

	if err := bot.ledger.Save(); err != nil {
		bot.log.LogError("ledger save", err)
	}
	bot.log.LogEntry(symbol, string(sig.Direction), entry, sig.StopLoss, sig.TakeProfit, d.Allocation, sig.RiskFraction)
	bosTag := ""
	if sig.HasBOS {
		bosTag = " with BOS confirmation"
	}
	bot.alert(notifications.LevelInfo,
		fmt.Sprintf("Entered %s %s @ %.4f%s. Stop %.4f, target %.4f, allocation %.0f%%.",
			sig.Direction, symbol, entry, bosTag, sig.StopLoss, sig.TakeProfit, d.Allocation*100))
}

// placeProtection places and verifies the stop/target pair.
func (bot *LiveBot) placeProtection(ctx context.Context, pos *ledger.Position, quantity float64) {
	callCtx, cancel := venueCtx(ctx)
	err := bot.client.PlaceProtectiveOrders(callCtx, pos.Symbol, pos.Direction, quantity, pos.StopLoss, pos.TakeProfit)
	cancel()
	if err != nil {
		bot.ledger.Update(pos.Symbol, func(p *ledger.Position) { p.NoStopLoss = true })
		bot.handleOpFailure(ctx, selfcheck.OpPlaceProtective, err)
		bot.alert(notifications.LevelCritical,
			fmt.Sprintf("%s is open WITHOUT protective orders: %v. The reconciler will keep retrying.", pos.Symbol, err))
		return
	}
	bot.checks.RecordSuccess(selfcheck.OpPlaceProtective)

	callCtx, cancel = venueCtx(ctx)
	orders, err := bot.client.GetOpenProtectiveOrders(callCtx, pos.Symbol)
	cancel()
	if err != nil {
		bot.handleOpFailure(ctx, selfcheck.OpVerifyProtective, err)
		return
	}
	hasStop, hasTarget := false, false
	for _, o := range orders {
		switch o.Kind {
		case exchange.ProtectiveStop:
			hasStop = true
		case exchange.ProtectiveTarget:
			hasTarget = true
		}
	}
	if !hasStop || !hasTarget {
		bot.ledger.Update(pos.Symbol, func(p *ledger.Position) { p.NoStopLoss = true })
		bot.handleOpFailure(ctx, selfcheck.OpVerifyProtective,
			fmt.Errorf("%s: protective pair incomplete after placement (stop=%v, target=%v)",
				pos.Symbol, hasStop, hasTarget))
		return
	}
	bot.checks.RecordSuccess(selfcheck.OpVerifyProtective)
}

// executeExit closes the position at market and settles the trade with
// the engine-computed result. A failed close goes to the retry queue.
func (bot *LiveBot) executeExit(ctx context.Context, symbol string, pos *ledger.Position, d engine.Decision) {
	callCtx, cancel := venueCtx(ctx)
	if err := bot.client.CancelProtectiveOrders(callCtx, symbol); err != nil {
		bot.log.Warning("cancel protective for %s: %v", symbol, err)
	}
	cancel()

	size := bot.venueQuantity(ctx, symbol, pos)
	callCtx, cancel = venueCtx(ctx)
	_, err := bot.client.ClosePositionMarket(callCtx, symbol, pos.Direction, size)
	cancel()
	if err != nil {
		bot.ledger.Update(symbol, func(p *ledger.Position) {
			p.PendingClose = true
			p.CloseReason = d.ExitReason
		})
		bot.log.LogError("close "+symbol, err)
		bot.alert(notifications.LevelCritical,
			fmt.Sprintf("%s close failed (%s): %v. Retrying next cycle.", symbol, d.ExitReason, err))
		return
	}

	closed, err := bot.ledger.Close(symbol, d.Profit)
	if err != nil {
		bot.log.LogError("ledger close "+symbol, err)
		return
	}
	balance := bot.ledger.Balance()

	if _, err := bot.journal.Append(journal.TradeRecord{
		Symbol:     symbol,
		Direction:  closed.Direction,
		Entry:      closed.Entry,
		Exit:       d.ExitPrice,
		PnLPct:     d.PnL,
		Profit:     d.Profit,
		Fee:        d.Fee,
		Balance:    balance,
		HasBOS:     closed.HasBOS,
		ExitReason: d.ExitReason,
		OpenedAt:   closed.OpenedAt,
	}); err != nil {
		bot.log.LogError("journal append", err)
	}

	monitoring.RecordTrade(symbol, d.Profit)
	bot.log.LogExit(symbol, d.ExitReason, d.ExitPrice, d.PnL, d.Profit, balance)

	level := notifications.LevelSuccess
	if d.Profit <= 0 {
		level = notifications.LevelWarning
	}
	bot.alert(level, fmt.Sprintf("Closed %s %s @ %.4f (%s): %+.2f%% / $%+.2f. Balance $%.2f.",
		closed.Direction, symbol, d.ExitPrice, d.ExitReason, d.PnL*100, d.Profit, balance))

	if msg := bot.risk.SingleLossAnomaly(d.PnL); msg != "" {
		bot.log.LogGuardBreach("singleLoss", msg)
		bot.alert(notifications.LevelCritical, msg)
	}
	bot.checkPerformance()
}

// venueQuantity asks the venue for the actual position size so the
// close is never under- or over-sized by local rounding.
func (bot *LiveBot) venueQuantity(ctx context.Context, symbol string, pos *ledger.Position) float64 {
	callCtx, cancel := venueCtx(ctx)
	defer cancel()
	positions, err := bot.client.GetOpenPositions(callCtx)
	if err == nil {
		for _, vp := range positions {
			if vp.Symbol == symbol {
				return vp.Size
			}
		}
	}
	// Fall back to the sized quantity from the position model.
	balance := bot.ledger.Balance()
	value := balance * pos.Allocation * pos.RiskFraction / pos.PriceRisk
	if maxValue := balance * pos.Allocation * bot.cfg.Leverage; value > maxValue {
		value = maxValue
	}
	return exchange.FormatQuantity(symbol, value/pos.Entry)
}

// checkPerformance walks the trade-history alert ladder after every
// close.
func (bot *LiveBot) checkPerformance() {
	status := bot.journal.CheckAlerts()
	if status.Level == journal.AlertNormal {
		return
	}
	msg := fmt.Sprintf("%s Performance alert (%s): %s",
		status.Level.Emoji(), status.Level, joinReasons(status.Reasons))
	bot.log.Warning("%s", msg)
	level := notifications.LevelWarning
	if status.Level == journal.AlertPause {
		level = notifications.LevelCritical
	}
	bot.alert(level, msg)
}

// handleOpFailure records a venue operation failure and engages the
// breaker when the same operation keeps failing. Self-check
// engagements auto-resume after the cooldown.
func (bot *LiveBot) handleOpFailure(ctx context.Context, op selfcheck.Operation, err error) {
	bot.log.LogError(string(op), err)
	monitoring.RecordAPIError(string(errors.Classify(err, "exchange", string(op)).Category))
	esc := bot.checks.RecordFailure(op, err)
	if esc == nil {
		return
	}
	reason := fmt.Sprintf("self-check: %s failed %d times (%s)", esc.Operation, esc.Count, esc.Diagnosis)
	bot.risk.Engage(reason, true)
	bot.log.LogBreaker(true, reason)
	monitoring.RecordGuardBreach("selfCheck")
	bot.alert(notifications.LevelCritical,
		fmt.Sprintf("Circuit breaker engaged by self-check: %s failed %d times. Diagnosis: %s",
			esc.Operation, esc.Count, esc.Diagnosis))
	bot.liquidateEngaged(ctx, reason)
}

// liquidateEngaged flattens whatever the engaged breaker still has on
// the book. ManualOnly positions stay; ForceLiquidate handles the
// retry budgets and operator freeze.
func (bot *LiveBot) liquidateEngaged(ctx context.Context, reason string) {
	for _, pos := range bot.ledger.Positions() {
		if !pos.ManualOnly {
			bot.rec.ForceLiquidate(ctx, reason)
			return
		}
	}
}

// closedBars drops a trailing in-progress bar. Venues include the
// currently forming candle as the last element.
func closedBars(bars []types.OHLCV, interval string) []types.OHLCV {
	if len(bars) == 0 {
		return bars
	}
	d, err := config.IntervalDuration(interval)
	if err != nil {
		return bars
	}
	last := bars[len(bars)-1]
	if last.Timestamp.Add(d).After(time.Now()) {
		return bars[:len(bars)-1]
	}
	return bars
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += "; "
		}
		out += r
	}
	return out
}
