package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/duchoang-qt/pa-trading-bot/internal/backtest"
	"github.com/duchoang-qt/pa-trading-bot/internal/config"
	"github.com/duchoang-qt/pa-trading-bot/internal/signals"
)

func main() {
	configPath := flag.String("config", "", "path to JSON config file")
	dataPath := flag.String("data", "", "CSV file with historical bars (timestamp,open,high,low,close,volume)")
	symbol := flag.String("symbol", "BTCUSDT", "instrument to replay")
	useBOS := flag.Bool("bos", true, "require break-of-structure confirmation for upgraded risk")
	verbose := flag.Bool("verbose", false, "print every closed trade")
	flag.Parse()

	if *dataPath == "" {
		fmt.Fprintln(os.Stderr, "missing -data")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	bars, err := loadCSV(*dataPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "data: %v\n", err)
		os.Exit(1)
	}

	source := signals.NewZoneSource(cfg.Signal, cfg.SLBuffer, cfg.RewardRatio)
	result, err := backtest.Run(cfg, *symbol, *useBOS, bars, source)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backtest: %v\n", err)
		os.Exit(1)
	}

	printSummary(result)
	if *verbose {
		printTrades(result)
	}
}

func printSummary(res *backtest.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("📊 BACKTEST " + res.Symbol)
	t.SetStyle(table.StyleRounded)

	t.AppendRows([]table.Row{
		{"Bars replayed", res.BarsReplayed},
		{"Initial balance", fmt.Sprintf("$%.2f", res.StartBalance)},
		{"Final balance", fmt.Sprintf("$%.2f", res.EndBalance)},
		{"Total return", fmt.Sprintf("%.2f%%", res.TotalReturn*100)},
		{"Max drawdown", fmt.Sprintf("%.2f%%", res.MaxDrawdown*100)},
		{"Trades", res.TotalTrades},
		{"Wins / losses", fmt.Sprintf("%d / %d", res.Wins, res.Losses)},
		{"Win rate", fmt.Sprintf("%.1f%%", res.WinRate*100)},
		{"Profit factor", fmt.Sprintf("%.2f", res.ProfitFactor)},
		{"Fees paid", fmt.Sprintf("$%.2f", res.TotalFees)},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 16, Align: text.AlignRight},
	})
	t.Render()
}

func printTrades(res *backtest.Result) {
	if len(res.Trades) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("TRADES")
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Closed", "Dir", "Entry", "Exit", "PnL %", "Profit", "Fee", "Reason", "BOS"})

	for _, trade := range res.Trades {
		bos := ""
		if trade.HasBOS {
			bos = "✓"
		}
		t.AppendRow(table.Row{
			trade.Time.Format("2006-01-02 15:04"),
			trade.Direction,
			fmt.Sprintf("%.4f", trade.Entry),
			fmt.Sprintf("%.4f", trade.Exit),
			fmt.Sprintf("%+.2f", trade.PnLPct*100),
			fmt.Sprintf("%+.2f", trade.Profit),
			fmt.Sprintf("%.2f", trade.Fee),
			trade.ExitReason,
			bos,
		})
	}
	t.Render()
}
