package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger writes level-tagged entries to a per-day log file. One logger
// serves the whole process; writes are mutex-guarded.
type Logger struct {
	name    string
	mode    string
	logDir  string
	logFile *os.File
	logger  *log.Logger
	mu      sync.Mutex
}

// LogLevel represents different types of log entries
type LogLevel string

const (
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARN"
	LogLevelError   LogLevel = "ERROR"
	LogLevelTrade   LogLevel = "TRADE"
	LogLevelStatus  LogLevel = "STATUS"
)

// New creates a file logger under logDir, named by mode and date.
func New(logDir, name, mode string) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	filename := fmt.Sprintf("%s_%s_%s.log", name, mode, time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(logDir, filename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := &Logger{
		name:    name,
		mode:    mode,
		logDir:  logDir,
		logFile: file,
		logger:  log.New(file, "", 0),
	}
	l.writeSessionHeader()
	return l, nil
}

func (l *Logger) writeSessionHeader() {
	l.mu.Lock()
	defer l.mu.Unlock()

	header := fmt.Sprintf(`
================================================================================
🚀 TRADING SESSION STARTED
================================================================================
Name: %s | Mode: %s
Started: %s
================================================================================
`, l.name, l.mode, time.Now().Format("2006-01-02 15:04:05"))

	l.logger.Print(header)
}

// Log writes a formatted log entry with the specified level
func (l *Logger) Log(level LogLevel, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, args...)
	l.logger.Println(fmt.Sprintf("[%s] [%s] %s", timestamp, level, message))
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.Log(LogLevelInfo, format, args...)
}

func (l *Logger) Warning(format string, args ...interface{}) {
	l.Log(LogLevelWarning, format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.Log(LogLevelError, format, args...)
}

func (l *Logger) Trade(format string, args ...interface{}) {
	l.Log(LogLevelTrade, format, args...)
}

func (l *Logger) Status(format string, args ...interface{}) {
	l.Log(LogLevelStatus, format, args...)
}

// LogEntry logs a position entry with its protective levels.
func (l *Logger) LogEntry(symbol, direction string, entry, stop, target, allocation, riskFraction float64) {
	l.Trade("📈 ENTER %s %s @ %.4f | SL %.4f | TP %.4f | alloc %.0f%% | risk %.1f%%",
		direction, symbol, entry, stop, target, allocation*100, riskFraction*100)
}

// LogExit logs a position close with realized result.
func (l *Logger) LogExit(symbol, reason string, exitPrice, pnlPct, profit, balance float64) {
	l.Trade("🚪 EXIT %s (%s) @ %.4f | pnl %.2f%% | profit $%.2f | balance $%.2f",
		symbol, reason, exitPrice, pnlPct*100, profit, balance)
}

// LogGuardBreach logs a risk guard firing.
func (l *Logger) LogGuardBreach(guard, detail string) {
	l.Error("🛑 RISK GUARD %s: %s", guard, detail)
}

// LogBreaker logs circuit breaker transitions.
func (l *Logger) LogBreaker(engaged bool, reason string) {
	if engaged {
		l.Error("⛔ CIRCUIT BREAKER ENGAGED: %s", reason)
	} else {
		l.Info("✅ CIRCUIT BREAKER DISENGAGED: %s", reason)
	}
}

// LogCycleStatus logs the per-cycle market summary.
func (l *Logger) LogCycleStatus(symbol string, price, balance float64, openPositions int) {
	l.Status("%s price %.4f | balance $%.2f | open positions %d", symbol, price, balance, openPositions)
}

// LogError logs error with context
func (l *Logger) LogError(context string, err error) {
	l.Error("%s: %v", context, err)
}

// LogWarning logs warning with context
func (l *Logger) LogWarning(context string, message string, args ...interface{}) {
	l.Warning("%s", fmt.Sprintf(context+": "+message, args...))
}

// Close writes the session footer and closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile == nil {
		return nil
	}
	footer := fmt.Sprintf(`
================================================================================
🛑 TRADING SESSION ENDED
================================================================================
Ended: %s
================================================================================

`, time.Now().Format("2006-01-02 15:04:05"))
	l.logger.Print(footer)
	return l.logFile.Close()
}

// GetLogPath returns the current log file path
func (l *Logger) GetLogPath() string {
	filename := fmt.Sprintf("%s_%s_%s.log", l.name, l.mode, time.Now().Format("2006-01-02"))
	return filepath.Join(l.logDir, filename)
}
