package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/xuri/excelize/v2"

	"github.com/duchoang-qt/pa-trading-bot/internal/journal"
)

func reportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export the trade history to an Excel workbook",
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
				return fmt.Errorf("no trades to export")
			}

			if err := writeReportXLSX(jrnl, trades, out); err != nil {
				return err
			}
			fmt.Printf("wrote %d trades to %s\n", len(trades), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "trades_report.xlsx", "output workbook path")
	return cmd
}

func writeReportXLSX(jrnl *journal.Journal, trades []journal.TradeRecord, path string) error {
	fx := excelize.NewFile()
	defer fx.Close()

	const tradesSheet = "Trades"
	const statsSheet = "Stats"
	fx.SetSheetName(fx.GetSheetName(0), tradesSheet)
	fx.NewSheet(statsSheet)

	headStyle, _ := fx.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})

	tradeHeaders := []string{"ID", "Closed", "Symbol", "Direction", "Entry", "Exit",
		"PnL %", "Profit", "Fee", "Balance", "BOS", "Exit reason", "Opened"}
	for i, h := range tradeHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		fx.SetCellValue(tradesSheet, cell, h)
		fx.SetCellStyle(tradesSheet, cell, cell, headStyle)
	}

	row := 2
	for _, t := range trades {
		values := []interface{}{
			t.ID,
			t.Time.Format("2006-01-02 15:04:05"),
			t.Symbol,
			string(t.Direction),
			t.Entry,
			t.Exit,
			t.PnLPct * 100,
			t.Profit,
			t.Fee,
			t.Balance,
			t.HasBOS,
			t.ExitReason,
			t.OpenedAt.Format("2006-01-02 15:04:05"),
		}
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, row)
			fx.SetCellValue(tradesSheet, cell, v)
		}
		row++
	}

	rolling := jrnl.Rolling()
	dd := jrnl.Drawdown()
	statsRows := [][]interface{}{
		{"Window", "Trades", "Wins", "Losses", "Win rate %", "Avg win", "Avg loss", "Profit factor", "Total profit"},
		statsRow("7 days", rolling.Week),
		statsRow("30 days", rolling.Month),
		statsRow("all time", rolling.All),
		{},
		{"Max drawdown %", dd.Max * 100},
		{"Current drawdown %", dd.Current * 100},
		{"Peak balance", dd.PeakBalance},
		{"Consecutive losses", jrnl.ConsecutiveLosses()},
	}
	for r, values := range statsRows {
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, r+1)
			fx.SetCellValue(statsSheet, cell, v)
			if r == 0 {
				fx.SetCellStyle(statsSheet, cell, cell, headStyle)
			}
		}
	}

	return fx.SaveAs(path)
}

func statsRow(name string, s journal.Stats) []interface{} {
	return []interface{}{
		name, s.Count, s.Wins, s.Losses, s.WinRate * 100,
		s.AvgWin, s.AvgLoss, s.ProfitFactor, s.TotalProfit,
	}
}
