package notifications

// Level grades a notification for routing and formatting.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
	LevelSuccess  Level = "success"
)

// Notifier delivers operator alerts. Delivery is best-effort: callers
// must never let a failed notification affect trading decisions.
type Notifier interface {
	// SendAlert sends an alert with the specified level and message.
	SendAlert(level Level, message string) error
}

// Noop discards every alert. Used when no channel is configured.
type Noop struct{}

func (Noop) SendAlert(Level, string) error { return nil }
