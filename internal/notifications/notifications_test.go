package notifications

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileNotifierAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts", "notifications.txt")
	f := NewFileNotifier(path)

	require.NoError(t, f.SendAlert(LevelWarning, "daily loss at 12%"))
	require.NoError(t, f.SendAlert(LevelCritical, "circuit breaker engaged"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "warning: daily loss at 12%")
	assert.Contains(t, lines[1], "critical: circuit breaker engaged")
}

type recordingNotifier struct {
	alerts []string
	err    error
}

func (r *recordingNotifier) SendAlert(level Level, message string) error {
	if r.err != nil {
		return r.err
	}
	r.alerts = append(r.alerts, fmt.Sprintf("%s:%s", level, message))
	return nil
}

func TestMultiDeliversToAllChannels(t *testing.T) {
	a := &recordingNotifier{}
	b := &recordingNotifier{}
	m := NewMulti(a, b)

	require.NoError(t, m.SendAlert(LevelInfo, "cycle complete"))
	assert.Len(t, a.alerts, 1)
	assert.Len(t, b.alerts, 1)
}

func TestMultiFailureDoesNotSuppressOthers(t *testing.T) {
	broken := &recordingNotifier{err: fmt.Errorf("telegram down")}
	file := &recordingNotifier{}
	m := NewMulti(broken, file)

	err := m.SendAlert(LevelCritical, "position vanished")
	assert.Error(t, err)
	assert.Len(t, file.alerts, 1, "file channel must still record the alert")
}

func TestTelegramRateLimit(t *testing.T) {
	n := NewTelegramNotifier("token", "chat", "")
	for i := 0; i < maxPerMinute; i++ {
		assert.True(t, n.allow())
	}
	assert.False(t, n.allow(), "11th send inside a minute must be throttled")
}
