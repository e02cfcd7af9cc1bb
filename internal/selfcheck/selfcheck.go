package selfcheck

import (
	"fmt"
	"sync"
	"time"

	boterrors "github.com/duchoang-qt/pa-trading-bot/internal/errors"
)

// Operation names a fallible venue interaction tracked by the
// registry. Only these are monitored; everything else goes through
// the ordinary retry path.
type Operation string

const (
	OpPlaceOrder       Operation = "placeOrder"
	OpPlaceProtective  Operation = "placeProtectiveOrders"
	OpVerifyProtective Operation = "verifyProtective"
)

// DefaultThreshold is the consecutive-failure count that escalates.
const DefaultThreshold = 3

// Escalation describes a threshold breach. Diagnosis is advisory: it
// is attached to the halt notification but never gates the halt.
type Escalation struct {
	Operation Operation
	Count     int
	LastError string
	Diagnosis string
	At        time.Time
}

type counter struct {
	count     int
	lastError error
	lastAt    time.Time
}

// Registry tracks consecutive failures per operation. A success of
// one operation resets only that operation's counter; the others keep
// counting.
type Registry struct {
	mu        sync.Mutex
	threshold int
	counters  map[Operation]*counter
}

func NewRegistry(threshold int) *Registry {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	return &Registry{
		threshold: threshold,
		counters:  make(map[Operation]*counter),
	}
}

// RecordFailure bumps the operation's counter. When the threshold is
// reached it returns an Escalation; otherwise nil.
func (r *Registry) RecordFailure(op Operation, err error) *Escalation {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.counters[op]
	if c == nil {
		c = &counter{}
		r.counters[op] = c
	}
	c.count++
	c.lastError = err
	c.lastAt = time.Now()

	if c.count < r.threshold {
		return nil
	}
	return &Escalation{
		Operation: op,
		Count:     c.count,
		LastError: errString(err),
		Diagnosis: Diagnose(err),
		At:        c.lastAt,
	}
}

// RecordSuccess clears the counter for this operation only.
func (r *Registry) RecordSuccess(op Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.counters, op)
}

// ResetAll clears every counter. Called when the circuit breaker
// disengages after a self-check cooldown.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = make(map[Operation]*counter)
}

// Count returns the current consecutive failures for the operation.
func (r *Registry) Count(op Operation) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.counters[op]; c != nil {
		return c.count
	}
	return 0
}

// Counts returns a snapshot of all non-zero counters.
func (r *Registry) Counts() map[Operation]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[Operation]int, len(r.counters))
	for op, c := range r.counters {
		out[op] = c.count
	}
	return out
}

// Diagnose pattern-matches the error into an operator-facing advisory.
func Diagnose(err error) string {
	if err == nil {
		return "no error captured"
	}
	te := boterrors.Classify(err, "selfcheck", "diagnose")
	switch te.Category {
	case boterrors.CategoryRateLimit:
		return "venue rate limiting; reduce request frequency or wait for the ban to lift"
	case boterrors.CategoryInsufficientFunds:
		return "insufficient funds or margin; check account balance and open exposure"
	case boterrors.CategoryNetwork:
		return "network failure; check connectivity and venue status"
	case boterrors.CategoryTimeout:
		return "venue timing out; likely degraded venue or slow network"
	case boterrors.CategoryInvalidParams:
		return "invalid order parameters; check precision, quantity and price filters"
	case boterrors.CategoryCredentials:
		return "credential or permission failure; check API key and its trading permissions"
	case boterrors.CategoryVenueAPIChange:
		return "venue API behavior changed; adapter likely needs an update"
	default:
		return fmt.Sprintf("unrecognized failure: %v", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
