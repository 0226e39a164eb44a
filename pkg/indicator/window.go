package indicator

import (
	"sync"

	"github.com/raykavin/tradedash/pkg/core"
)

// Window keeps the most recent candles of one stream and recomputes the
// indicators of its newest bar as updates arrive
type Window struct {
	mu      sync.Mutex
	size    int
	candles []core.Candle
}

// NewWindow creates a window retaining size candles, Lookback when size is not positive
func NewWindow(size int) *Window {
	if size <= 0 {
		size = Lookback
	}
	return &Window{size: size}
}

// Seed replaces the retained candles with the tail of candles
func (w *Window) Seed(candles []core.Candle) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(candles) > w.size {
		candles = candles[len(candles)-w.size:]
	}
	w.candles = append([]core.Candle(nil), candles...)
}

// Len returns the number of retained candles
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.candles)
}

// Push merges candle into the window and returns the newest value of every
// family. A candle older than the newest retained one yields an empty set.
func (w *Window) Push(candle core.Candle) core.IndicatorSet {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n := len(w.candles); n > 0 {
		last := w.candles[n-1]
		switch {
		case candle.Time == last.Time:
			w.candles[n-1] = candle
		case candle.Time < last.Time:
			return core.IndicatorSet{}
		default:
			w.candles = append(w.candles, candle)
		}
	} else {
		w.candles = append(w.candles, candle)
	}

	if excess := len(w.candles) - w.size; excess > 0 {
		w.candles = append([]core.Candle(nil), w.candles[excess:]...)
	}

	return Latest(Compute(w.candles))
}
