package risk

import (
	"os"
	"time"
)

// Engage trips the circuit breaker. selfCheck marks the breach as
// self-check-originated, which is the only kind eligible for
// automatic cooldown resume. Persisted immediately.
func (m *Manager) Engage(reason string, selfCheck bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engageLocked(reason, selfCheck)
}

func (m *Manager) engageLocked(reason string, selfCheck bool) {
	if m.st.BreakerEngaged {
		return
	}
	m.st.BreakerEngaged = true
	m.st.BreakerReason = reason
	m.st.BreakerSince = time.Now()
	m.st.BreakerSelfCheck = selfCheck
	m.saveLocked()
}

// Engaged reports the breaker status.
func (m *Manager) Engaged() (bool, string, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.BreakerEngaged, m.st.BreakerReason, m.st.BreakerSince
}

// TryAutoResume disengages a self-check-originated breach once the
// cooldown has elapsed. Guard breaches never auto-resume; those need
// an operator. Returns the cleared reason when it resumed.
func (m *Manager) TryAutoResume(now time.Time) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.st.BreakerEngaged || !m.st.BreakerSelfCheck {
		return "", false
	}
	cooldown := time.Duration(m.cfg.CooldownMinutes) * time.Minute
	if cooldown <= 0 {
		cooldown = 60 * time.Minute
	}
	if now.Sub(m.st.BreakerSince) < cooldown {
		return "", false
	}

	reason := m.st.BreakerReason
	m.disengageLocked()
	return reason, true
}

// TryManualResume disengages on operator acknowledgement: the reset
// file exists (created by pactl resume or by hand). The file is
// consumed so one acknowledgement clears one engagement.
func (m *Manager) TryManualResume(resetFile string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.st.BreakerEngaged || resetFile == "" {
		return "", false
	}
	if _, err := os.Stat(resetFile); err != nil {
		return "", false
	}
	os.Remove(resetFile)

	reason := m.st.BreakerReason
	m.disengageLocked()
	return reason, true
}

func (m *Manager) disengageLocked() {
	m.st.BreakerEngaged = false
	m.st.BreakerReason = ""
	m.st.BreakerSince = time.Time{}
	m.st.BreakerSelfCheck = false
	m.saveLocked()
}

// Snapshot returns a copy of the current risk state for heartbeats.
func (m *Manager) Snapshot() RiskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}
