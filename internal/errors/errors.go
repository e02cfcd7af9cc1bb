package errors

import (
	"fmt"
	"strings"
)

// Category classifies failures of external calls and internal checks.
// The venue reports most failures as opaque message strings, so
// classification by content is the only signal available to callers.
type Category string

const (
	// Transient categories - safe to retry with backoff
	CategoryNetwork   Category = "NETWORK"
	CategoryTimeout   Category = "TIMEOUT"
	CategoryRateLimit Category = "RATE_LIMIT"

	// Terminal categories - retrying the same request cannot succeed
	CategoryInvalidParams     Category = "INVALID_PARAMS"
	CategoryInsufficientFunds Category = "INSUFFICIENT_FUNDS"
	CategoryCredentials       Category = "CREDENTIALS"
	CategoryVenueAPIChange    Category = "VENUE_API_CHANGE"

	// Local categories
	CategoryAnomaly     Category = "ANOMALY"     // implausible data, rejected and skipped
	CategorySafety      Category = "SAFETY"      // risk-control breach, escalates
	CategoryPersistence Category = "PERSISTENCE" // corrupt state file, quarantined
	CategoryUnknown     Category = "UNKNOWN"
)

// TradeError is a categorized error with the component and operation
// that produced it.
type TradeError struct {
	Category   Category
	Component  string
	Operation  string
	Message    string
	Underlying error
	Retryable  bool
}

func (e *TradeError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Component, e.Operation, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
}

func (e *TradeError) Unwrap() error {
	return e.Underlying
}

func (e *TradeError) IsRetryable() bool {
	return e.Retryable
}

// New creates a categorized error without an underlying cause.
func New(category Category, component, operation, message string) *TradeError {
	return &TradeError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Retryable: isRetryableCategory(category),
	}
}

// Wrap attaches category and origin to an existing error.
func Wrap(err error, category Category, component, operation string) *TradeError {
	if err == nil {
		return nil
	}
	return &TradeError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Underlying: err,
		Retryable:  isRetryableCategory(category),
	}
}

// WithRetryable overrides the default retryability of the category.
func (e *TradeError) WithRetryable(retryable bool) *TradeError {
	e.Retryable = retryable
	return e
}

func isRetryableCategory(category Category) bool {
	switch category {
	case CategoryNetwork, CategoryTimeout, CategoryRateLimit:
		return true
	case CategoryInvalidParams, CategoryInsufficientFunds, CategoryCredentials,
		CategoryVenueAPIChange, CategoryAnomaly, CategorySafety, CategoryPersistence:
		return false
	default:
		// Unknown venue failures are treated as transient; the retry
		// budget bounds the damage if they are not.
		return true
	}
}

// Classify categorizes a raw error by message content. If err is
// already a TradeError it is returned unchanged.
func Classify(err error, component, operation string) *TradeError {
	if err == nil {
		return nil
	}
	if te, ok := err.(*TradeError); ok {
		return te
	}

	msg := strings.ToLower(err.Error())

	switch {
	case contains(msg, "not supported", "algo order", "deprecated endpoint"):
		return Wrap(err, CategoryVenueAPIChange, component, operation)
	case contains(msg, "insufficient"):
		return Wrap(err, CategoryInsufficientFunds, component, operation)
	case contains(msg, "banned", "429", "rate limit", "too many requests"):
		return Wrap(err, CategoryRateLimit, component, operation)
	case contains(msg, "timeout", "context deadline exceeded"):
		return Wrap(err, CategoryTimeout, component, operation)
	case contains(msg, "connection", "network", "dns", "dial", "econnrefused", "reset by peer"):
		return Wrap(err, CategoryNetwork, component, operation)
	case contains(msg, "api key", "signature", "permission", "unauthorized", "authentication"):
		return Wrap(err, CategoryCredentials, component, operation)
	case contains(msg, "invalid", "precision", "notional", "lot size", "min qty"):
		return Wrap(err, CategoryInvalidParams, component, operation)
	default:
		return Wrap(err, CategoryUnknown, component, operation)
	}
}

// IsTransient reports whether err classifies as a transient external
// failure worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err, "", "").IsRetryable()
}

func contains(msg string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}
