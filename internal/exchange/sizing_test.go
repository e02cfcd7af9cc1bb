package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, 50123.5, FormatPrice("BTCUSDT", 50123.4567))
	assert.Equal(t, 142.57, FormatPrice("SOLUSDT", 142.5678))
	assert.Equal(t, 3001.13, FormatPrice("ETHUSDT", 3001.1299))
	// Unknown symbols fall back to 2 decimal places.
	assert.Equal(t, 1.23, FormatPrice("XRPUSDT", 1.2345))
}

func TestFormatQuantity(t *testing.T) {
	assert.Equal(t, 0.005, FormatQuantity("BTCUSDT", 0.00549))
	assert.Equal(t, 12.3, FormatQuantity("SOLUSDT", 12.34))
	assert.Equal(t, 0.333, FormatQuantity("ETHUSDT", 0.33349))
}

func TestSizeOrder(t *testing.T) {
	qty, err := SizeOrder("BTCUSDT", 500, 50000)
	require.NoError(t, err)
	assert.Equal(t, 0.01, qty)

	// Below the venue's notional floor.
	_, err = SizeOrder("BTCUSDT", 50, 50000)
	assert.Error(t, err)

	// Rounds to zero at lot precision.
	_, err = SizeOrder("BTCUSDT", 10, 50000000)
	assert.Error(t, err)

	_, err = SizeOrder("BTCUSDT", 500, 0)
	assert.Error(t, err)
}

func TestMinNotional(t *testing.T) {
	assert.Equal(t, 105.0, MinNotional("BTCUSDT"))
	assert.Equal(t, 8.0, MinNotional("SOLUSDT"))
	assert.Equal(t, 10.0, MinNotional("DOGEUSDT"))
}
