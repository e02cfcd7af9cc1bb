package notifications

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	telegramTimeout = 10 * time.Second

	// Burst protection: at most this many Telegram sends per sliding
	// minute. Excess alerts still reach the file fallback.
	maxPerMinute = 10
)

type TelegramNotifier struct {
	token  string
	chatID string
	client *http.Client

	mu    sync.Mutex
	sent  []time.Time
	title string
}

func NewTelegramNotifier(token, chatID, title string) *TelegramNotifier {
	if title == "" {
		title = "Trading Bot Alert"
	}
	return &TelegramNotifier{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: telegramTimeout},
		title:  title,
	}
}

func (t *TelegramNotifier) SendAlert(level Level, message string) error {
	if !t.allow() {
		return fmt.Errorf("telegram rate limit reached (%d/min)", maxPerMinute)
	}

	emoji := "ℹ️"
	switch level {
	case LevelWarning:
		emoji = "⚠️"
	case LevelCritical:
		emoji = "🚨"
	case LevelSuccess:
		emoji = "✅"
	}

	text := fmt.Sprintf("%s *%s*\n\n%s", emoji, t.title, message)
	apiURL := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)

	data := url.Values{}
	data.Set("chat_id", t.chatID)
	data.Set("text", text)
	data.Set("parse_mode", "Markdown")

	resp, err := t.client.Post(apiURL, "application/x-www-form-urlencoded",
		strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

// allow applies a sliding one-minute window.
func (t *TelegramNotifier) allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-time.Minute)
	kept := t.sent[:0]
	for _, ts := range t.sent {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	t.sent = kept

	if len(t.sent) >= maxPerMinute {
		return false
	}
	t.sent = append(t.sent, time.Now())
	return true
}
