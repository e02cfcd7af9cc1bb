package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/duchoang-qt/pa-trading-bot/internal/bot"
	"github.com/duchoang-qt/pa-trading-bot/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to JSON config file (defaults apply when empty)")
	envFile := flag.String("env", ".env", "path to env file with credentials")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	b, err := bot.NewLiveBot(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}

	// SIGINT/SIGTERM cancel the context; the bot flushes state before
	// returning.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := b.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		os.Exit(1)
	}
}
