package journal

import "fmt"

// AlertLevel is the performance warning ladder evaluated after each
// close. Pause is advisory; it does not engage the circuit breaker.
type AlertLevel string

const (
	AlertNormal AlertLevel = "normal"
	AlertYellow AlertLevel = "yellow"
	AlertRed    AlertLevel = "red"
	AlertPause  AlertLevel = "pause"
)

type alertThresholds struct {
	winRate7d         float64
	consecutiveLosses int
	drawdown          float64
}

var ladder = []struct {
	level AlertLevel
	t     alertThresholds
}{
	{AlertPause, alertThresholds{winRate7d: 0.35, consecutiveLosses: 7, drawdown: 0.20}},
	{AlertRed, alertThresholds{winRate7d: 0.40, consecutiveLosses: 5, drawdown: 0.15}},
	{AlertYellow, alertThresholds{winRate7d: 0.45, consecutiveLosses: 3, drawdown: 0.10}},
}

// minTradesForWinRate suppresses win-rate alerts on tiny samples.
const minTradesForWinRate = 3

// AlertStatus is the evaluated warning state with its trigger reasons.
type AlertStatus struct {
	Level   AlertLevel
	Reasons []string
}

// CheckAlerts evaluates the ladder top-down and returns the most
// severe level whose conditions hold.
func (j *Journal) CheckAlerts() AlertStatus {
	stats7d := j.StatsDays(7)
	drawdown := j.Drawdown()
	streak := j.ConsecutiveLosses()

	for _, rung := range ladder {
		var reasons []string

		if stats7d.Count >= minTradesForWinRate && stats7d.WinRate < rung.t.winRate7d {
			reasons = append(reasons, fmt.Sprintf("7d win rate %.1f%% < %.0f%%",
				stats7d.WinRate*100, rung.t.winRate7d*100))
		}
		if streak >= rung.t.consecutiveLosses {
			reasons = append(reasons, fmt.Sprintf("%d consecutive losses >= %d",
				streak, rung.t.consecutiveLosses))
		}
		if drawdown.Current > rung.t.drawdown {
			reasons = append(reasons, fmt.Sprintf("current drawdown %.1f%% > %.0f%%",
				drawdown.Current*100, rung.t.drawdown*100))
		}

		if len(reasons) > 0 {
			return AlertStatus{Level: rung.level, Reasons: reasons}
		}
	}
	return AlertStatus{Level: AlertNormal}
}

// Emoji returns the operator-facing marker for the level.
func (l AlertLevel) Emoji() string {
	switch l {
	case AlertYellow:
		return "🟡"
	case AlertRed:
		return "🔴"
	case AlertPause:
		return "⛔"
	default:
		return "🟢"
	}
}
