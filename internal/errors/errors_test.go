package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_ByMessageContent(t *testing.T) {
	cases := []struct {
		name     string
		message  string
		category Category
	}{
		{"rate limit", "ret_code=10006: too many requests", CategoryRateLimit},
		{"http 429", "unexpected status 429", CategoryRateLimit},
		{"insufficient margin", "margin is insufficient for order", CategoryInsufficientFunds},
		{"network", "dial tcp: connection refused", CategoryNetwork},
		{"balance read failure", "get balance: connection refused", CategoryNetwork},
		{"timeout", "context deadline exceeded", CategoryTimeout},
		{"credentials", "invalid api key or signature", CategoryCredentials},
		{"venue change", "order type not supported for this endpoint", CategoryVenueAPIChange},
		{"params", "qty precision over maximum", CategoryInvalidParams},
		{"unknown", "something odd happened", CategoryUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			te := Classify(stderrors.New(tc.message), "exchange", "placeOrder")
			require.NotNil(t, te)
			assert.Equal(t, tc.category, te.Category)
		})
	}
}

func TestClassify_PreservesExistingTradeError(t *testing.T) {
	orig := New(CategorySafety, "risk", "dailyLoss", "limit crossed")
	te := Classify(orig, "other", "other")
	assert.Same(t, orig, te)
}

func TestRetryability(t *testing.T) {
	assert.True(t, New(CategoryNetwork, "x", "y", "m").IsRetryable())
	assert.True(t, New(CategoryTimeout, "x", "y", "m").IsRetryable())
	assert.True(t, New(CategoryRateLimit, "x", "y", "m").IsRetryable())
	assert.True(t, New(CategoryUnknown, "x", "y", "m").IsRetryable())

	assert.False(t, New(CategoryInvalidParams, "x", "y", "m").IsRetryable())
	assert.False(t, New(CategoryInsufficientFunds, "x", "y", "m").IsRetryable())
	assert.False(t, New(CategoryCredentials, "x", "y", "m").IsRetryable())
	assert.False(t, New(CategorySafety, "x", "y", "m").IsRetryable())
}

func TestWrap_Unwrap(t *testing.T) {
	underlying := stderrors.New("boom")
	te := Wrap(underlying, CategoryNetwork, "exchange", "getPositions")
	assert.True(t, stderrors.Is(te, underlying))
	assert.Contains(t, te.Error(), "NETWORK")
	assert.Contains(t, te.Error(), "getPositions")
}

func TestWithRetryable_Override(t *testing.T) {
	te := New(CategoryUnknown, "x", "y", "m").WithRetryable(false)
	assert.False(t, te.IsRetryable())
}
