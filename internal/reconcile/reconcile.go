// Package reconcile keeps the local ledger consistent with the venue.
// The venue is the source of truth for balance and position existence;
// the ledger is the source of truth for why a position exists and what
// should protect it.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/duchoang-qt/pa-trading-bot/internal/exchange"
	"github.com/duchoang-qt/pa-trading-bot/internal/journal"
	"github.com/duchoang-qt/pa-trading-bot/internal/ledger"
	"github.com/duchoang-qt/pa-trading-bot/internal/logger"
	"github.com/duchoang-qt/pa-trading-bot/internal/notifications"
)

const (
	// Close retry limits. CloseRetries resets each cycle, TotalRetries
	// never does; exhausting the total budget hands the position to the
	// operator.
	maxCloseRetriesPerCycle = 5
	totalCloseBudget        = 20

	// Forced liquidation gets a tighter budget since the breaker wants
	// the book flat now, not eventually.
	liquidateAttempts = 10

	// Missing protective orders are re-placed this many times before
	// the position is emergency-closed.
	protectiveReplaceAttempts = 3

	maxRetryBackoff = 30 * time.Second
)

// Reconciler compares ledger state against the venue and repairs the
// differences.
type Reconciler struct {
	client   exchange.ExecutionClient
	ledger   *ledger.Ledger
	journal  *journal.Journal
	notifier notifications.Notifier
	log      *logger.Logger
	live     bool

	// retryBase scales the backoff between attempts.
	retryBase time.Duration
}

func New(client exchange.ExecutionClient, led *ledger.Ledger, jrnl *journal.Journal, notifier notifications.Notifier, log *logger.Logger, live bool) *Reconciler {
	if notifier == nil {
		notifier = notifications.Noop{}
	}
	return &Reconciler{
		client:    client,
		ledger:    led,
		journal:   jrnl,
		notifier:  notifier,
		log:       log,
		live:      live,
		retryBase: 2 * time.Second,
	}
}

// SyncStartup aligns the ledger with the venue once at boot. Venue
// positions the ledger does not know become ManualOnly imports; ledger
// positions the venue no longer has are settled as external closes.
func (r *Reconciler) SyncStartup(ctx context.Context) error {
	venuePositions, err := r.client.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("startup sync: %w", err)
	}

	onVenue := make(map[string]exchange.VenuePosition, len(venuePositions))
	for _, vp := range venuePositions {
		onVenue[vp.Symbol] = vp
	}

	for _, pos := range r.ledger.Positions() {
		if _, ok := onVenue[pos.Symbol]; !ok {
			if err := r.settleVanished(ctx, pos, "closed while bot was down"); err != nil {
				return err
			}
		}
	}

	for _, vp := range venuePositions {
		if r.ledger.Position(vp.Symbol) != nil {
			continue
		}
		imported := &ledger.Position{
			Symbol:     vp.Symbol,
			Direction:  vp.Direction,
			Entry:      vp.EntryPrice,
			OpenedAt:   time.Now(),
			ManualOnly: true,
		}
		if err := r.ledger.Import(imported); err != nil {
			return fmt.Errorf("import %s: %w", vp.Symbol, err)
		}
		r.log.Warning("imported unknown venue position %s %s size %.4f as manual-only",
			vp.Direction, vp.Symbol, vp.Size)
		r.alert(notifications.LevelWarning,
			fmt.Sprintf("Unknown %s position on %s found at startup (size %.4f). Imported as manual-only; the bot will not touch it.",
				vp.Symbol, r.client.Name(), vp.Size))
	}

	return r.ledger.Save()
}

// SyncCycle runs the per-cycle consistency checks: positions that
// vanished on the venue are settled, and open live positions missing
// their protective pair are re-protected or emergency-closed. Running
// it twice against an unchanged venue is a no-op.
func (r *Reconciler) SyncCycle(ctx context.Context) error {
	locals := r.ledger.Positions()
	if len(locals) == 0 {
		return nil
	}

	venuePositions, err := r.client.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("cycle sync: %w", err)
	}
	onVenue := make(map[string]exchange.VenuePosition, len(venuePositions))
	for _, vp := range venuePositions {
		onVenue[vp.Symbol] = vp
	}

	for _, pos := range locals {
		if pos.PendingClose {
			continue
		}
		vp, exists := onVenue[pos.Symbol]
		if !exists {
			if err := r.settleVanished(ctx, pos, "closed on venue"); err != nil {
				return err
			}
			continue
		}
		if r.live && !pos.ManualOnly {
			if err := r.ensureProtected(ctx, pos, vp); err != nil {
				return err
			}
		}
	}
	return nil
}

// settleVanished handles a position the venue no longer reports. The
// stop or target filled, or someone closed it by hand; either way the
// venue balance already contains the result, so the balance is synced
// rather than recomputed.
func (r *Reconciler) settleVanished(ctx context.Context, pos *ledger.Position, reason string) error {
	before := r.ledger.Balance()
	venueBalance, err := r.client.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("settle %s: %w", pos.Symbol, err)
	}

	profit := venueBalance - before
	r.ledger.Drop(pos.Symbol)
	r.ledger.SetBalance(venueBalance)
	r.ledger.RecordTradeCounters(profit)

	pnlPct := 0.0
	if before > 0 {
		pnlPct = profit / before
	}
	if _, err := r.journal.Append(journal.TradeRecord{
		Symbol:     pos.Symbol,
		Direction:  pos.Direction,
		Entry:      pos.Entry,
		PnLPct:     pnlPct,
		Profit:     profit,
		Balance:    venueBalance,
		HasBOS:     pos.HasBOS,
		ExitReason: reason,
		OpenedAt:   pos.OpenedAt,
	}); err != nil {
		r.log.LogError("journal vanished close", err)
	}

	r.log.Trade("🔄 %s position settled externally (%s): profit $%.2f, balance $%.2f",
		pos.Symbol, reason, profit, venueBalance)
	r.alert(notifications.LevelWarning,
		fmt.Sprintf("%s position was %s. Profit $%.2f, balance synced to $%.2f.",
			pos.Symbol, reason, profit, venueBalance))
	return r.ledger.Save()
}

// ensureProtected re-places a missing stop/target pair. A position that
// cannot be re-protected is too dangerous to keep and gets an emergency
// market close.
func (r *Reconciler) ensureProtected(ctx context.Context, pos *ledger.Position, vp exchange.VenuePosition) error {
	orders, err := r.client.GetOpenProtectiveOrders(ctx, pos.Symbol)
	if err != nil {
		return fmt.Errorf("check protective %s: %w", pos.Symbol, err)
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
	if hasStop && hasTarget {
		if pos.NoStopLoss {
			r.ledger.Update(pos.Symbol, func(p *ledger.Position) { p.NoStopLoss = false })
		}
		return nil
	}
	if pos.StopLoss <= 0 || pos.TakeProfit <= 0 {
		// Nothing to re-place from; treat like a manual position.
		return nil
	}

	r.log.Warning("%s protective pair incomplete on the venue (stop=%v, target=%v), re-placing %.4f / %.4f",
		pos.Symbol, hasStop, hasTarget, pos.StopLoss, pos.TakeProfit)

	// Clear the surviving half so the re-placed pair does not stack.
	if len(orders) > 0 {
		if err := r.client.CancelProtectiveOrders(ctx, pos.Symbol); err != nil {
			r.log.Warning("cancel stale protective for %s: %v", pos.Symbol, err)
		}
	}

	var placeErr error
	for attempt := 1; attempt <= protectiveReplaceAttempts; attempt++ {
		placeErr = r.client.PlaceProtectiveOrders(ctx, pos.Symbol, pos.Direction, vp.Size, pos.StopLoss, pos.TakeProfit)
		if placeErr == nil {
			r.ledger.Update(pos.Symbol, func(p *ledger.Position) { p.NoStopLoss = false })
			r.alert(notifications.LevelWarning,
				fmt.Sprintf("%s lost its protective orders; re-placed on attempt %d.", pos.Symbol, attempt))
			return r.ledger.Save()
		}
		if !sleepCtx(ctx, r.backoff(attempt)) {
			return ctx.Err()
		}
	}

	r.log.Error("could not re-protect %s after %d attempts, closing at market: %v",
		pos.Symbol, protectiveReplaceAttempts, placeErr)
	r.alert(notifications.LevelCritical,
		fmt.Sprintf("%s could not be re-protected (%v). Emergency market close.", pos.Symbol, placeErr))
	return r.closeNow(ctx, pos, vp.Size, "unprotected position")
}

// RetryPendingClose drives positions whose close failed earlier. Each
// cycle gets a bounded number of attempts with growing backoff; when
// the total budget runs out the position is frozen for the operator.
func (r *Reconciler) RetryPendingClose(ctx context.Context) {
	for _, pos := range r.ledger.Positions() {
		if !pos.PendingClose || pos.ManualOnly {
			continue
		}
		r.ledger.Update(pos.Symbol, func(p *ledger.Position) { p.CloseRetries = 0 })
		r.retryClose(ctx, pos)
	}
}

func (r *Reconciler) retryClose(ctx context.Context, pos *ledger.Position) {
	for attempt := 1; attempt <= maxCloseRetriesPerCycle; attempt++ {
		current := r.ledger.Position(pos.Symbol)
		if current == nil || !current.PendingClose {
			return
		}
		if current.TotalRetries >= totalCloseBudget {
			r.ledger.Update(pos.Symbol, func(p *ledger.Position) {
				p.ManualOnly = true
				p.PendingClose = false
			})
			if err := r.ledger.Save(); err != nil {
				r.log.LogError("save ledger", err)
			}
			r.log.Error("%s close retry budget exhausted (%d attempts), frozen for manual handling",
				pos.Symbol, totalCloseBudget)
			r.alert(notifications.LevelCritical,
				fmt.Sprintf("%s could not be closed after %d attempts. Position frozen; close it manually on %s.",
					pos.Symbol, totalCloseBudget, r.client.Name()))
			return
		}

		r.ledger.Update(pos.Symbol, func(p *ledger.Position) {
			p.CloseRetries++
			p.TotalRetries++
		})

		size, err := r.venueSize(ctx, pos.Symbol)
		if err == nil && size == 0 {
			// Already flat on the venue; settle instead of closing.
			if current := r.ledger.Position(pos.Symbol); current != nil {
				if err := r.settleVanished(ctx, current, "closed on venue"); err != nil {
					r.log.LogError("settle during close retry", err)
				}
			}
			return
		}
		if err == nil {
			err = r.attemptClose(ctx, pos, size)
		}
		if err == nil {
			return
		}

		r.log.Warning("close retry %d for %s failed: %v", attempt, pos.Symbol, err)
		if !sleepCtx(ctx, r.backoff(attempt)) {
			return
		}
	}
}

// attemptClose cancels protective orders, closes at market, and settles
// the result from the authoritative venue balance.
func (r *Reconciler) attemptClose(ctx context.Context, pos *ledger.Position, size float64) error {
	if err := r.client.CancelProtectiveOrders(ctx, pos.Symbol); err != nil {
		r.log.Warning("cancel protective for %s: %v", pos.Symbol, err)
	}
	result, err := r.client.ClosePositionMarket(ctx, pos.Symbol, pos.Direction, size)
	if err != nil {
		return err
	}

	before := r.ledger.Balance()
	venueBalance, err := r.client.GetBalance(ctx)
	if err != nil {
		// The close went through; without a balance the delta settles on
		// the next vanished-position sync.
		r.log.LogError("balance after close", err)
		venueBalance = before
	}

	profit := venueBalance - before
	reason := pos.CloseReason
	if reason == "" {
		reason = "reconciler close"
	}
	r.ledger.Drop(pos.Symbol)
	r.ledger.SetBalance(venueBalance)
	r.ledger.RecordTradeCounters(profit)

	pnlPct := 0.0
	if before > 0 {
		pnlPct = profit / before
	}
	if _, err := r.journal.Append(journal.TradeRecord{
		Symbol:     pos.Symbol,
		Direction:  pos.Direction,
		Entry:      pos.Entry,
		Exit:       result.Price,
		PnLPct:     pnlPct,
		Profit:     profit,
		Balance:    venueBalance,
		HasBOS:     pos.HasBOS,
		ExitReason: reason,
		OpenedAt:   pos.OpenedAt,
	}); err != nil {
		r.log.LogError("journal reconciler close", err)
	}

	r.log.LogExit(pos.Symbol, reason, result.Price, pnlPct, profit, venueBalance)
	return r.ledger.Save()
}

// closeNow marks the position pending and immediately drives the retry
// loop for it.
func (r *Reconciler) closeNow(ctx context.Context, pos *ledger.Position, size float64, reason string) error {
	r.ledger.Update(pos.Symbol, func(p *ledger.Position) {
		p.PendingClose = true
		p.CloseReason = reason
		p.CloseRetries = 0
	})
	if err := r.attemptClose(ctx, pos, size); err != nil {
		r.log.LogError("immediate close "+pos.Symbol, err)
		return r.ledger.Save()
	}
	return nil
}

// ForceLiquidate closes every bot-managed position at market. Called
// when the circuit breaker engages on a hard breach. ManualOnly
// positions are left alone.
func (r *Reconciler) ForceLiquidate(ctx context.Context, reason string) {
	for _, pos := range r.ledger.Positions() {
		if pos.ManualOnly {
			continue
		}
		r.ledger.Update(pos.Symbol, func(p *ledger.Position) {
			p.PendingClose = true
			p.CloseReason = reason
		})

		closed := false
		for attempt := 1; attempt <= liquidateAttempts; attempt++ {
			size, err := r.venueSize(ctx, pos.Symbol)
			if err == nil && size == 0 {
				if current := r.ledger.Position(pos.Symbol); current != nil {
					if err := r.settleVanished(ctx, current, "closed on venue"); err != nil {
						r.log.LogError("settle during liquidation", err)
					}
				}
				closed = true
				break
			}
			if err == nil {
				err = r.attemptClose(ctx, pos, size)
			}
			if err == nil {
				closed = true
				break
			}
			r.log.Warning("liquidation attempt %d for %s failed: %v", attempt, pos.Symbol, err)
			if !sleepCtx(ctx, r.backoff(attempt)) {
				return
			}
		}
		if !closed {
			r.ledger.Update(pos.Symbol, func(p *ledger.Position) { p.ManualOnly = true })
			if err := r.ledger.Save(); err != nil {
				r.log.LogError("save ledger", err)
			}
			r.alert(notifications.LevelCritical,
				fmt.Sprintf("Liquidation of %s failed %d times. Position frozen; close it manually on %s.",
					pos.Symbol, liquidateAttempts, r.client.Name()))
		}
	}
}

// venueSize returns the venue-reported size for symbol, 0 when flat.
func (r *Reconciler) venueSize(ctx context.Context, symbol string) (float64, error) {
	positions, err := r.client.GetOpenPositions(ctx)
	if err != nil {
		return 0, err
	}
	for _, vp := range positions {
		if vp.Symbol == symbol {
			return vp.Size, nil
		}
	}
	return 0, nil
}

func (r *Reconciler) alert(level notifications.Level, message string) {
	if err := r.notifier.SendAlert(level, message); err != nil {
		r.log.LogError("notification", err)
	}
}

// backoff grows linearly with the attempt number, capped.
func (r *Reconciler) backoff(attempt int) time.Duration {
	d := time.Duration(attempt) * r.retryBase
	if d > maxRetryBackoff {
		return maxRetryBackoff
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
