package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/duchoang-qt/pa-trading-bot/internal/monitoring"
	"github.com/duchoang-qt/pa-trading-bot/internal/risk"
	"github.com/duchoang-qt/pa-trading-bot/internal/state"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the bot's heartbeat and risk state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			beat, found, err := monitoring.ReadHeartbeat(cfg.HeartbeatFile)
			if err != nil {
				return fmt.Errorf("read heartbeat: %w", err)
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetTitle("🤖 " + cfg.Name)
			t.SetStyle(table.StyleRounded)

			if !found {
				t.AppendRow(table.Row{"Status", "no heartbeat file; bot has not run"})
				t.Render()
				return nil
			}

			age := time.Since(beat.Timestamp).Round(time.Second)
			status := "running"
			if age > 5*time.Minute {
				status = fmt.Sprintf("STALE (last beat %s ago)", age)
			}
			t.AppendRows([]table.Row{
				{"Status", status},
				{"Mode", beat.Mode},
				{"Venue", beat.Venue},
				{"Balance", fmt.Sprintf("$%.2f", beat.Balance)},
				{"Open positions", beat.OpenPositions},
				{"Cycles", beat.CycleCount},
				{"Last beat", beat.Timestamp.Format("2006-01-02 15:04:05")},
			})
			if beat.LastCycleError != "" {
				t.AppendRow(table.Row{"Last cycle error", beat.LastCycleError})
			}

			var rs risk.RiskState
			if rsFound, err := state.LoadJSON(cfg.RiskStateFile, &rs); err == nil && rsFound {
				breaker := "disengaged"
				if rs.BreakerEngaged {
					breaker = fmt.Sprintf("ENGAGED since %s: %s",
						rs.BreakerSince.Format("2006-01-02 15:04"), rs.BreakerReason)
				}
				t.AppendRows([]table.Row{
					{"Circuit breaker", breaker},
					{"Daily loss", fmt.Sprintf("%.1f%%", rs.DailyLossPct)},
					{"Peak balance", fmt.Sprintf("$%.2f", rs.PeakBalance)},
					{"API failures", rs.APIFailCount},
				})
			}
			t.Render()
			return nil
		},
	}
}

func resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Acknowledge a circuit-breaker engagement so trading can resume",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var rs risk.RiskState
			found, err := state.LoadJSON(cfg.RiskStateFile, &rs)
			if err != nil {
				return fmt.Errorf("read risk state: %w", err)
			}
			if !found || !rs.BreakerEngaged {
				fmt.Println("circuit breaker is not engaged; nothing to do")
				return nil
			}

			if err := os.MkdirAll(filepath.Dir(cfg.ResetFile), 0o755); err != nil {
				return err
			}
			stamp := fmt.Sprintf("acknowledged %s\nreason: %s\n",
				time.Now().Format(time.RFC3339), rs.BreakerReason)
			if err := os.WriteFile(cfg.ResetFile, []byte(stamp), 0o644); err != nil {
				return fmt.Errorf("write reset file: %w", err)
			}
			fmt.Printf("reset file written; the bot will resume on its next cycle\n  reason was: %s\n", rs.BreakerReason)
			return nil
		},
	}
}
