package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/duchoang-qt/pa-trading-bot/internal/state"
)

// Heartbeat is the operator-visible snapshot written after every cycle
// and served on /healthz. pactl reads the same file, so a stale
// timestamp means the bot process is wedged or dead.
type Heartbeat struct {
	Timestamp      time.Time `json:"timestamp"`
	Mode           string    `json:"mode"`
	Venue          string    `json:"venue"`
	Balance        float64   `json:"balance"`
	OpenPositions  int       `json:"open_positions"`
	BreakerEngaged bool      `json:"breaker_engaged"`
	BreakerReason  string    `json:"breaker_reason,omitempty"`
	CycleCount     int64     `json:"cycle_count"`
	LastCycleError string    `json:"last_cycle_error,omitempty"`

	// Consecutive venue-operation failures, keyed by operation name.
	// Present only while something is failing.
	SelfCheckFailures map[string]int `json:"self_check_failures,omitempty"`
}

// staleAfter marks the process unhealthy when the heartbeat is older
// than this.
const staleAfter = 5 * time.Minute

// HealthChecker keeps the latest heartbeat, persists it, and serves it
// over HTTP.
type HealthChecker struct {
	mu        sync.RWMutex
	path      string
	beat      Heartbeat
	startTime time.Time
}

func NewHealthChecker(path string) *HealthChecker {
	return &HealthChecker{path: path, startTime: time.Now()}
}

// Update stores the heartbeat and writes it atomically to disk.
func (h *HealthChecker) Update(beat Heartbeat) error {
	beat.Timestamp = time.Now()
	h.mu.Lock()
	h.beat = beat
	h.mu.Unlock()
	return state.SaveJSON(h.path, beat)
}

// Snapshot returns the last heartbeat.
func (h *HealthChecker) Snapshot() Heartbeat {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.beat
}

type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	Heartbeat
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	beat := h.beat
	uptime := time.Since(h.startTime)
	h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK
	switch {
	case beat.Timestamp.IsZero() || time.Since(beat.Timestamp) > staleAfter:
		status = "stale"
		code = http.StatusServiceUnavailable
	case beat.BreakerEngaged:
		status = "paused"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(healthResponse{
		Status:    status,
		Uptime:    uptime.Round(time.Second).String(),
		Heartbeat: beat,
	})
}

// ReadHeartbeat loads the persisted heartbeat file. found is false when
// no bot has written one yet.
func ReadHeartbeat(path string) (Heartbeat, bool, error) {
	var beat Heartbeat
	found, err := state.LoadJSON(path, &beat)
	return beat, found, err
}
