package notifications

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileNotifier appends alerts to a local file. It has no rate limit
// and serves as the always-available record when Telegram is down or
// throttled.
type FileNotifier struct {
	mu   sync.Mutex
	path string
}

func NewFileNotifier(path string) *FileNotifier {
	return &FileNotifier{path: path}
}

func (f *FileNotifier) SendAlert(level Level, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create notification dir: %w", err)
	}
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open notification file: %w", err)
	}
	defer file.Close()

	line := fmt.Sprintf("[%s] %s: %s\n",
		time.Now().Format("2006-01-02 15:04:05"), level, message)
	if _, err := file.WriteString(line); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

// Multi fans an alert out to every channel. The file channel keeps the
// durable record; a Telegram failure or throttle never suppresses it.
// SendAlert returns the first error for logging but callers treat the
// whole send as best-effort.
type Multi struct {
	channels []Notifier
}

func NewMulti(channels ...Notifier) *Multi {
	return &Multi{channels: channels}
}

func (m *Multi) SendAlert(level Level, message string) error {
	var first error
	for _, ch := range m.channels {
		if err := ch.SendAlert(level, message); err != nil && first == nil {
			first = err
		}
	}
	return first
}
