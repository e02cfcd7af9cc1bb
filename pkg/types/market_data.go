package types

import "time"

// OHLCV is a single closed candle as delivered by a venue.
type OHLCV struct {
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Timestamp time.Time
}

// Body returns the candle body size relative to its open.
func (k OHLCV) Body() float64 {
	if k.Open == 0 {
		return 0
	}
	body := k.Close - k.Open
	if body < 0 {
		body = -body
	}
	return body / k.Open
}
