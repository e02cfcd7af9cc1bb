package main

import (
	"fmt"
	"math"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/duchoang-qt/pa-trading-bot/internal/journal"
)

func tradesCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "Show recent trades and performance stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			jrnl := journal.New(cfg.JournalFile)
			if err := jrnl.Load(); err != nil {
				return err
			}
			trades := jrnl.Trades()
			if len(trades) == 0 {
				fmt.Println("no trades recorded yet")
				return nil
			}

			start := 0
			if limit > 0 && len(trades) > limit {
				start = len(trades) - limit
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetTitle(fmt.Sprintf("TRADES (%d of %d)", len(trades)-start, len(trades)))
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Closed", "Symbol", "Dir", "Entry", "Exit", "PnL %", "Profit", "Balance", "Reason"})
			for _, trade := range trades[start:] {
				t.AppendRow(table.Row{
					trade.Time.Format("2006-01-02 15:04"),
					trade.Symbol,
					trade.Direction,
					fmt.Sprintf("%.4f", trade.Entry),
					fmt.Sprintf("%.4f", trade.Exit),
					fmt.Sprintf("%+.2f", trade.PnLPct*100),
					fmt.Sprintf("%+.2f", trade.Profit),
					fmt.Sprintf("%.2f", trade.Balance),
					trade.ExitReason,
				})
			}
			t.Render()

			printRolling(jrnl)

			status := jrnl.CheckAlerts()
			if status.Level != journal.AlertNormal {
				fmt.Printf("\n%s performance alert (%s):\n", status.Level.Emoji(), status.Level)
				for _, reason := range status.Reasons {
					fmt.Printf("  - %s\n", reason)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of recent trades to show (0 = all)")
	return cmd
}

func printRolling(jrnl *journal.Journal) {
	rolling := jrnl.Rolling()
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("PERFORMANCE")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Window", "Trades", "Win rate", "Profit", "Profit factor"})
	for _, row := range []struct {
		name  string
		stats journal.Stats
	}{
		{"7 days", rolling.Week},
		{"30 days", rolling.Month},
		{"all time", rolling.All},
	} {
		t.AppendRow(table.Row{
			row.name,
			row.stats.Count,
			fmt.Sprintf("%.1f%%", row.stats.WinRate*100),
			fmt.Sprintf("%+.2f", row.stats.TotalProfit),
			formatProfitFactor(row.stats.ProfitFactor),
		})
	}
	t.Render()

	dd := jrnl.Drawdown()
	fmt.Printf("max drawdown: %.2f%% (peak $%.2f)\n", dd.Max*100, dd.PeakBalance)
}

func formatProfitFactor(pf float64) string {
	if math.IsInf(pf, 1) {
		return "∞"
	}
	return fmt.Sprintf("%.2f", pf)
}
