package core

import "time"

// Candle represents one OHLCV bar keyed by its bucket start time in epoch seconds
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume,omitempty"`

	// Closed reports whether the bar is final. An open bar may be refreshed
	// in place by later updates carrying the same Time.
	Closed bool `json:"closed,omitempty"`
}

// GetTime returns the candle bucket start as a time.Time
func (c Candle) GetTime() time.Time { return time.Unix(c.Time, 0).UTC() }

// Valid reports whether the candle carries usable prices: all finite and
// positive, with open and close inside the high/low range
func (c Candle) Valid() bool {
	if c.Time <= 0 {
		return false
	}
	for _, price := range []float64{c.Open, c.High, c.Low, c.Close} {
		if !IsFinite(price) || price <= 0 {
			return false
		}
	}
	return c.Low <= min(c.Open, c.Close) && max(c.Open, c.Close) <= c.High
}

// Times returns the time column of a candle slice
func Times(candles []Candle) []int64 {
	times := make([]int64, len(candles))
	for i, c := range candles {
		times[i] = c.Time
	}
	return times
}
