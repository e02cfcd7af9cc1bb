package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Mode selects how orders are executed.
type Mode string

const (
	ModeSimulation Mode = "simulation" // paper exchange, no venue writes
	ModeLive       Mode = "live"       // real venue orders
)

// InstrumentConfig names one tradable instrument and its bar interval.
// UseBOS enables break-of-structure confirmation for this instrument;
// instruments without it always trade the base risk fraction.
type InstrumentConfig struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"` // venue kline interval, e.g. "1h"
	UseBOS   bool   `json:"use_bos"`
}

// RiskControlConfig holds the guard thresholds. Percentages are whole
// numbers (15 means 15%), matching the operator-facing config file.
type RiskControlConfig struct {
	DailyMaxLossPct     float64 `json:"daily_max_loss_pct"`
	MaxDrawdownPct      float64 `json:"max_drawdown_pct"`
	MaxSingleLossPct    float64 `json:"max_single_loss_pct"`
	APIFailThreshold    int     `json:"api_fail_threshold"`
	BalanceDeviationPct float64 `json:"balance_deviation_pct"`
	PriceAnomalyPct     float64 `json:"price_anomaly_pct"`
	CooldownMinutes     int     `json:"circuit_breaker_cooldown_min"`
}

// SignalConfig tunes the zone / break-of-structure generator.
type SignalConfig struct {
	RiskWithBOS        float64 `json:"risk_with_bos"`
	RiskWithoutBOS     float64 `json:"risk_without_bos"`
	RapidMoveThreshold float64 `json:"rapid_move_threshold"`
	HistoricalLookback int     `json:"historical_lookback"`
	TouchTolerance     float64 `json:"touch_tolerance"`
	BOSLookback        int     `json:"bos_lookback"`
	MinBreakAmount     float64 `json:"min_break_amount"`
	RequireCloseConfirm bool   `json:"require_close_confirm"`
}

// ExchangeConfig selects the venue adapter and carries credentials.
// Credentials come from the environment, never the JSON file.
type ExchangeConfig struct {
	Venue   string `json:"venue"` // "bybit" or "binance"
	APIKey  string `json:"-"`
	Secret  string `json:"-"`
	Testnet bool   `json:"testnet"`
}

type NotificationsConfig struct {
	TelegramToken  string `json:"-"`
	TelegramChatID string `json:"-"`
	File           string `json:"notification_file"`
}

type MonitoringConfig struct {
	MetricsPort int `json:"metrics_port"`
	HealthPort  int `json:"health_port"`
}

// Config is the full runtime configuration: a JSON file for strategy
// and risk parameters, with secrets overlaid from the environment.
type Config struct {
	Mode Mode   `json:"mode"`
	Name string `json:"name"`

	Instruments    []InstrumentConfig `json:"instruments"`
	InitialBalance float64            `json:"initial_balance"`
	Leverage       float64            `json:"leverage"`
	RewardRatio    float64            `json:"rr_ratio"`
	SLBuffer       float64            `json:"sl_buffer"`
	TakerFee       float64            `json:"taker_fee"`

	Signal      SignalConfig      `json:"signal"`
	RiskControl RiskControlConfig `json:"risk_control"`

	// Cycle timing. Bars are evaluated once per interval, after the
	// settle delay gives the venue time to finalize the closed candle.
	SettleDelay   time.Duration `json:"-"`
	CheckInterval time.Duration `json:"-"`
	CycleRetries  int           `json:"cycle_retries"`

	SettleDelaySeconds   int `json:"settle_delay_seconds"`
	CheckIntervalSeconds int `json:"check_interval_seconds"`

	// Durable file locations.
	StateFile     string `json:"state_file"`
	RiskStateFile string `json:"risk_state_file"`
	HeartbeatFile string `json:"heartbeat_file"`
	JournalFile   string `json:"journal_file"`
	ResetFile     string `json:"reset_file"`
	LogDir        string `json:"log_dir"`

	Exchange      ExchangeConfig      `json:"exchange"`
	Notifications NotificationsConfig `json:"notifications"`
	Monitoring    MonitoringConfig    `json:"monitoring"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Mode:           ModeSimulation,
		Name:           "pa-trading-bot",
		Instruments:    []InstrumentConfig{{Symbol: "BTCUSDT", Interval: "1h", UseBOS: true}},
		InitialBalance: 100,
		Leverage:       5,
		RewardRatio:    1.4,
		SLBuffer:       0.0015,
		TakerFee:       0.0005,
		Signal: SignalConfig{
			RiskWithBOS:         0.04,
			RiskWithoutBOS:      0.02,
			RapidMoveThreshold:  0.02,
			HistoricalLookback:  100,
			TouchTolerance:      0.01,
			BOSLookback:         20,
			MinBreakAmount:      0.001,
			RequireCloseConfirm: true,
		},
		RiskControl: RiskControlConfig{
			DailyMaxLossPct:     15,
			MaxDrawdownPct:      30,
			MaxSingleLossPct:    8,
			APIFailThreshold:    3,
			BalanceDeviationPct: 5,
			PriceAnomalyPct:     10,
			CooldownMinutes:     60,
		},
		SettleDelaySeconds:   15,
		CheckIntervalSeconds: 60,
		CycleRetries:         3,
		StateFile:            "data/state.json",
		RiskStateFile:        "data/risk_state.json",
		HeartbeatFile:        "data/heartbeat.json",
		JournalFile:          "data/trades.jsonl",
		ResetFile:            "data/reset_circuit_breaker",
		LogDir:               "logs",
		Exchange:             ExchangeConfig{Venue: "bybit", Testnet: true},
		Notifications:        NotificationsConfig{File: "data/notifications.txt"},
		Monitoring:           MonitoringConfig{MetricsPort: 9090, HealthPort: 8081},
	}
}

// Load reads the JSON config file (optional), overlays environment
// variables, and validates. An empty path uses defaults only.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		// Missing .env is fine; real deployments export directly.
		_ = godotenv.Load(envFile)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.SettleDelay = time.Duration(cfg.SettleDelaySeconds) * time.Second
	cfg.CheckInterval = time.Duration(cfg.CheckIntervalSeconds) * time.Second

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := getEnv("BOT_MODE", ""); v != "" {
		c.Mode = Mode(v)
	}
	c.Exchange.Venue = getEnv("EXCHANGE_VENUE", c.Exchange.Venue)
	c.Exchange.APIKey = getEnv("EXCHANGE_API_KEY", c.Exchange.APIKey)
	c.Exchange.Secret = getEnv("EXCHANGE_SECRET", c.Exchange.Secret)
	c.Exchange.Testnet = getEnvBool("EXCHANGE_TESTNET", c.Exchange.Testnet)
	c.Notifications.TelegramToken = getEnv("TELEGRAM_TOKEN", c.Notifications.TelegramToken)
	c.Notifications.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.Notifications.TelegramChatID)
	c.Monitoring.MetricsPort = getEnvInt("METRICS_PORT", c.Monitoring.MetricsPort)
	c.Monitoring.HealthPort = getEnvInt("HEALTH_PORT", c.Monitoring.HealthPort)
}

// Validate rejects configurations that would trade unsafely.
func (c *Config) Validate() error {
	if c.Mode != ModeSimulation && c.Mode != ModeLive {
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	if len(c.Instruments) == 0 {
		return fmt.Errorf("no instruments configured")
	}
	seen := make(map[string]bool)
	for _, inst := range c.Instruments {
		if inst.Symbol == "" || inst.Interval == "" {
			return fmt.Errorf("instrument needs symbol and interval")
		}
		if seen[inst.Symbol] {
			return fmt.Errorf("duplicate instrument %s", inst.Symbol)
		}
		seen[inst.Symbol] = true
	}
	if c.InitialBalance <= 0 {
		return fmt.Errorf("initial_balance must be positive")
	}
	if c.Leverage < 1 {
		return fmt.Errorf("leverage must be >= 1")
	}
	if c.RewardRatio <= 0 {
		return fmt.Errorf("rr_ratio must be positive")
	}
	if c.TakerFee < 0 || c.TakerFee > 0.01 {
		return fmt.Errorf("taker_fee out of range")
	}
	rc := c.RiskControl
	if rc.DailyMaxLossPct <= 0 || rc.MaxDrawdownPct <= 0 || rc.PriceAnomalyPct <= 0 {
		return fmt.Errorf("risk control thresholds must be positive")
	}
	if rc.APIFailThreshold < 1 {
		return fmt.Errorf("api_fail_threshold must be >= 1")
	}
	if rc.CooldownMinutes < 0 {
		return fmt.Errorf("circuit_breaker_cooldown_min must not be negative")
	}
	if c.Mode == ModeLive && (c.Exchange.APIKey == "" || c.Exchange.Secret == "") {
		return fmt.Errorf("live mode requires EXCHANGE_API_KEY and EXCHANGE_SECRET")
	}
	return nil
}

// IntervalDuration converts a venue interval string to a duration.
func IntervalDuration(interval string) (time.Duration, error) {
	if interval == "" {
		return 0, fmt.Errorf("empty interval")
	}
	unit := interval[len(interval)-1]
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}
