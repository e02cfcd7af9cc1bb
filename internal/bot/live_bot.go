// Package bot wires the engine, risk guards, reconciler, and venue
// adapter into the long-running trading process.
package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/duchoang-qt/pa-trading-bot/internal/config"
	"github.com/duchoang-qt/pa-trading-bot/internal/engine"
	"github.com/duchoang-qt/pa-trading-bot/internal/exchange"
	"github.com/duchoang-qt/pa-trading-bot/internal/exchange/venues"
	"github.com/duchoang-qt/pa-trading-bot/internal/journal"
	"github.com/duchoang-qt/pa-trading-bot/internal/ledger"
	"github.com/duchoang-qt/pa-trading-bot/internal/logger"
	"github.com/duchoang-qt/pa-trading-bot/internal/monitoring"
	"github.com/duchoang-qt/pa-trading-bot/internal/notifications"
	"github.com/duchoang-qt/pa-trading-bot/internal/reconcile"
	"github.com/duchoang-qt/pa-trading-bot/internal/retry"
	"github.com/duchoang-qt/pa-trading-bot/internal/risk"
	"github.com/duchoang-qt/pa-trading-bot/internal/selfcheck"
	"github.com/duchoang-qt/pa-trading-bot/internal/signals"
)

// callTimeout bounds every individual venue call so a hung request can
// never wedge a cycle past its retry window.
const callTimeout = 30 * time.Second

// cycleRetryDelay separates attempts when a whole cycle fails.
const cycleRetryDelay = 5 * time.Second

// klineLimit is how much history each evaluation fetches.
const klineLimit = 200

// LiveBot runs the evaluation loop for all configured instruments.
type LiveBot struct {
	cfg      *config.Config
	client   exchange.ExecutionClient
	ledger   *ledger.Ledger
	journal  *journal.Journal
	risk     *risk.Manager
	engine   *engine.Engine
	rec      *reconcile.Reconciler
	checks   *selfcheck.Registry
	reads    retry.Policy
	notifier notifications.Notifier
	log      *logger.Logger
	health   *monitoring.HealthChecker

	cycleCount    int64
	lastCycleErr  string
	lastEvaluated map[string]time.Time
}

// NewLiveBot assembles the bot from config. Persisted ledger, risk, and
// journal state is restored before the first cycle.
func NewLiveBot(cfg *config.Config) (*LiveBot, error) {
	log, err := logger.New(cfg.LogDir, cfg.Name, string(cfg.Mode))
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	channels := []notifications.Notifier{notifications.NewFileNotifier(cfg.Notifications.File)}
	if cfg.Notifications.TelegramToken != "" && cfg.Notifications.TelegramChatID != "" {
		channels = append(channels, notifications.NewTelegramNotifier(
			cfg.Notifications.TelegramToken, cfg.Notifications.TelegramChatID, cfg.Name))
	}
	notifier := notifications.NewMulti(channels...)

	client, err := venues.New(cfg)
	if err != nil {
		return nil, err
	}

	led := ledger.New(cfg.StateFile, cfg.InitialBalance)
	if err := led.Load(); err != nil {
		log.LogError("ledger state load", err)
		_ = notifier.SendAlert(notifications.LevelCritical,
			fmt.Sprintf("Ledger state was corrupt and has been quarantined: %v. Starting from defaults.", err))
	}

	jrnl := journal.New(cfg.JournalFile)
	if err := jrnl.Load(); err != nil {
		log.LogError("journal load", err)
	}

	riskMgr := risk.NewManager(cfg.RiskControl, cfg.RiskStateFile, cfg.InitialBalance)
	if err := riskMgr.Load(led.Balance()); err != nil {
		log.LogError("risk state load", err)
	}

	source := signals.NewZoneSource(cfg.Signal, cfg.SLBuffer, cfg.RewardRatio)
	eng := engine.New(engine.Config{
		Leverage:       cfg.Leverage,
		TakerFee:       cfg.TakerFee,
		RewardRatio:    cfg.RewardRatio,
		InitialBalance: cfg.InitialBalance,
	}, source)

	live := cfg.Mode == config.ModeLive
	rec := reconcile.New(client, led, jrnl, notifier, log, live)

	return &LiveBot{
		cfg:           cfg,
		client:        client,
		ledger:        led,
		journal:       jrnl,
		risk:          riskMgr,
		engine:        eng,
		rec:           rec,
		checks:        selfcheck.NewRegistry(selfcheck.DefaultThreshold),
		reads:         retry.DefaultPolicy(),
		notifier:      notifier,
		log:           log,
		health:        monitoring.NewHealthChecker(cfg.HeartbeatFile),
		lastEvaluated: make(map[string]time.Time),
	}, nil
}

// Paper returns the paper venue in simulation mode, nil otherwise.
// The backtest command uses it to feed bars.
func (bot *LiveBot) Paper() *exchange.Paper {
	p, _ := bot.client.(*exchange.Paper)
	return p
}

// Run executes the trading loop until ctx is cancelled, then flushes
// all durable state synchronously.
func (bot *LiveBot) Run(ctx context.Context) error {
	bot.log.Info("starting in %s mode on %s, balance $%.2f, %d instruments",
		bot.cfg.Mode, bot.client.Name(), bot.ledger.Balance(), len(bot.cfg.Instruments))

	if engaged, reason, since := bot.risk.Engaged(); engaged {
		bot.log.Warning("circuit breaker still engaged from previous session (%s, since %s)",
			reason, since.Format(time.RFC3339))
	}

	if bot.cfg.Mode == config.ModeLive {
		if err := bot.rec.SyncStartup(ctx); err != nil {
			return fmt.Errorf("startup reconciliation: %w", err)
		}
	}

	go func() {
		if err := monitoring.Serve(bot.cfg.Monitoring.MetricsPort, bot.health); err != nil {
			bot.log.LogError("metrics server", err)
		}
	}()
	go bot.heartbeatLoop(ctx)

	bot.cycleWithRetry(ctx)

	// Subsequent cycles fire on check-interval boundaries plus the
	// settle delay, so a cycle never reads a bar the venue is still
	// finalizing.
	timer := time.NewTimer(nextCycleDelay(time.Now(), bot.cfg.CheckInterval, bot.cfg.SettleDelay))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return bot.shutdown()
		case <-timer.C:
			bot.cycleWithRetry(ctx)
			timer.Reset(nextCycleDelay(time.Now(), bot.cfg.CheckInterval, bot.cfg.SettleDelay))
		}
	}
}

// nextCycleDelay returns the wait until the next interval boundary plus
// the settle delay, always strictly in the future.
func nextCycleDelay(now time.Time, interval, settle time.Duration) time.Duration {
	if interval <= 0 {
		interval = time.Minute
	}
	fire := now.Truncate(interval).Add(settle)
	for !fire.After(now) {
		fire = fire.Add(interval)
	}
	return fire.Sub(now)
}

// shutdown flushes state before the process exits. Called on the
// signal path, so everything here is synchronous.
func (bot *LiveBot) shutdown() error {
	bot.log.Info("shutting down, flushing state")
	var firstErr error
	if err := bot.ledger.Save(); err != nil {
		bot.log.LogError("final ledger save", err)
		firstErr = err
	}
	if err := bot.risk.Save(); err != nil {
		bot.log.LogError("final risk state save", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	bot.writeHeartbeat()
	if err := bot.log.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// cycleWithRetry runs one cycle, retrying transient failures. A cycle
// that fails every attempt raises an alert and waits for the next tick.
func (bot *LiveBot) cycleWithRetry(ctx context.Context) {
	start := time.Now()
	var err error
	for attempt := 1; attempt <= bot.cfg.CycleRetries; attempt++ {
		err = bot.cycle(ctx)
		if err == nil || ctx.Err() != nil {
			break
		}
		bot.log.Warning("cycle attempt %d/%d failed: %v", attempt, bot.cfg.CycleRetries, err)
		if attempt < bot.cfg.CycleRetries {
			select {
			case <-ctx.Done():
				return
			case <-time.After(cycleRetryDelay):
			}
		}
	}

	bot.cycleCount++
	monitoring.ObserveCycle(time.Since(start))
	if err != nil && ctx.Err() == nil {
		bot.lastCycleErr = err.Error()
		bot.alert(notifications.LevelWarning,
			fmt.Sprintf("Cycle failed after %d attempts: %v", bot.cfg.CycleRetries, err))
	} else {
		bot.lastCycleErr = ""
	}
	bot.writeHeartbeat()
}

func (bot *LiveBot) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bot.writeHeartbeat()
		}
	}
}

func (bot *LiveBot) writeHeartbeat() {
	engaged, reason, _ := bot.risk.Engaged()
	var failures map[string]int
	if counts := bot.checks.Counts(); len(counts) > 0 {
		failures = make(map[string]int, len(counts))
		for op, n := range counts {
			failures[string(op)] = n
		}
	}
	beat := monitoring.Heartbeat{
		Mode:              string(bot.cfg.Mode),
		Venue:             bot.client.Name(),
		Balance:           bot.ledger.Balance(),
		OpenPositions:     len(bot.ledger.Positions()),
		BreakerEngaged:    engaged,
		BreakerReason:     reason,
		CycleCount:        bot.cycleCount,
		LastCycleError:    bot.lastCycleErr,
		SelfCheckFailures: failures,
	}
	if err := bot.health.Update(beat); err != nil {
		bot.log.LogError("heartbeat write", err)
	}
	monitoring.UpdateBalance(bot.ledger.Balance())
	monitoring.SetBreakerEngaged(engaged)
}

func (bot *LiveBot) alert(level notifications.Level, message string) {
	if err := bot.notifier.SendAlert(level, message); err != nil {
		bot.log.LogError("notification", err)
	}
}

// venueCtx bounds a single venue call.
func venueCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, callTimeout)
}
