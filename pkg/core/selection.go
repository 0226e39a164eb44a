package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	str2duration "github.com/xhit/go-str2duration/v2"
)

// Intervals lists the supported candle intervals
var Intervals = []string{"1m", "5m", "15m", "30m", "1h", "2h", "4h", "1d", "1w", "1M"}

// Selection identifies the instrument and interval a view is showing
type Selection struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
}

// ParseSelection normalizes and validates a symbol/interval pair
func ParseSelection(symbol, interval string) (Selection, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return Selection{}, ErrEmptySymbol
	}

	if !lo.Contains(Intervals, interval) {
		return Selection{}, fmt.Errorf("%w: %q", ErrInvalidInterval, interval)
	}

	return Selection{Symbol: symbol, Interval: interval}, nil
}

// String returns the room name used by the live stream, e.g. "BTCUSDT_1m"
func (s Selection) String() string {
	return s.Symbol + "_" + s.Interval
}

// IsZero reports whether nothing is selected
func (s Selection) IsZero() bool {
	return s.Symbol == "" && s.Interval == ""
}

// Period returns the bar width of the selected interval
func (s Selection) Period() (time.Duration, error) {
	return IntervalDuration(s.Interval)
}

// IntervalDuration converts an interval label into a duration.
// "1M" is a calendar month and is approximated as 30 days.
func IntervalDuration(interval string) (time.Duration, error) {
	if interval == "1M" {
		return 30 * 24 * time.Hour, nil
	}

	d, err := str2duration.ParseDuration(interval)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidInterval, interval)
	}
	return d, nil
}
