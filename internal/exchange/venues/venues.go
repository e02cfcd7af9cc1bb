// Package venues constructs the exchange adapter selected by config.
package venues

import (
	"fmt"

	"github.com/duchoang-qt/pa-trading-bot/internal/config"
	"github.com/duchoang-qt/pa-trading-bot/internal/exchange"
	"github.com/duchoang-qt/pa-trading-bot/internal/exchange/binance"
	"github.com/duchoang-qt/pa-trading-bot/internal/exchange/bybit"
)

// New returns the execution client for cfg. Simulation mode always gets
// the paper venue regardless of the configured venue name.
func New(cfg *config.Config) (exchange.ExecutionClient, error) {
	if cfg.Mode == config.ModeSimulation {
		return exchange.NewPaper(cfg.InitialBalance), nil
	}

	switch cfg.Exchange.Venue {
	case "bybit":
		return bybit.NewClient(bybit.Config{
			APIKey:    cfg.Exchange.APIKey,
			APISecret: cfg.Exchange.Secret,
			Testnet:   cfg.Exchange.Testnet,
		}), nil
	case "binance":
		return binance.NewClient(binance.Config{
			APIKey:    cfg.Exchange.APIKey,
			APISecret: cfg.Exchange.Secret,
			Testnet:   cfg.Exchange.Testnet,
		}), nil
	default:
		return nil, fmt.Errorf("unknown venue %q", cfg.Exchange.Venue)
	}
}
