// pactl is the operator CLI: inspect the running bot, acknowledge a
// circuit-breaker engagement, and export trade history.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/duchoang-qt/pa-trading-bot/internal/config"
)

var (
	configPath string
	envFile    string
)

func loadConfig() (*config.Config, error) {
	return config.Load(configPath, envFile)
}

func main() {
	root := &cobra.Command{
		Use:           "pactl",
		Short:         "Operator tooling for the price-action trading bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to JSON config file")
	root.PersistentFlags().StringVar(&envFile, "env", "", "path to env file")

	root.AddCommand(statusCmd())
	root.AddCommand(resumeCmd())
	root.AddCommand(tradesCmd())
	root.AddCommand(reportCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
