// Package timeseries merges a one-shot historical load with a live stream of
// incremental updates into a single ordered, bounded candle series.
package timeseries

import (
	"slices"
	"sort"

	"github.com/raykavin/tradedash/pkg/core"
	"github.com/raykavin/tradedash/pkg/logger"
)

// DefaultCapacity is the number of candles retained when none is configured
const DefaultCapacity = 1000

// Outcome tells what an incremental update did to the series
type Outcome int

const (
	Dropped Outcome = iota
	Overwritten
	Appended
)

func (o Outcome) String() string {
	switch o {
	case Overwritten:
		return "overwritten"
	case Appended:
		return "appended"
	default:
		return "dropped"
	}
}

// Snapshot is a read-only view of the merged series handed to the
// reconciler. Series holds one point per candle for every known indicator
// key; candles without a value for a key carry an absent point.
type Snapshot struct {
	Candles []core.Candle
	Series  map[string][]core.Point
}

// Len returns the number of candles in the snapshot
func (s Snapshot) Len() int {
	return len(s.Candles)
}

// Option configures a Merger
type Option func(*Merger)

// WithCapacity bounds the number of retained candles
func WithCapacity(n int) Option {
	return func(m *Merger) {
		if n > 0 {
			m.capacity = n
		}
	}
}

// WithLogger sets the logger used to report dropped updates
func WithLogger(log logger.Logger) Option {
	return func(m *Merger) {
		m.log = log
	}
}

// Merger owns the working candle series and the indicator values matched to
// it. It has a single writer and is not safe for concurrent use.
type Merger struct {
	capacity int
	log      logger.Logger

	candles []core.Candle
	index   map[int64]int
	values  map[string]map[int64]float64
}

// New creates an empty merger
func New(options ...Option) *Merger {
	m := &Merger{capacity: DefaultCapacity}
	for _, option := range options {
		option(m)
	}
	m.Reset()
	return m
}

// Capacity returns the maximum number of retained candles
func (m *Merger) Capacity() int {
	return m.capacity
}

// Len returns the number of retained candles
func (m *Merger) Len() int {
	return len(m.candles)
}

// Last returns the most recent candle
func (m *Merger) Last() (core.Candle, bool) {
	if len(m.candles) == 0 {
		return core.Candle{}, false
	}
	return m.candles[len(m.candles)-1], true
}

// Reset forgets everything
func (m *Merger) Reset() {
	m.candles = make([]core.Candle, 0)
	m.index = make(map[int64]int)
	m.values = make(map[string]map[int64]float64)
}

// Replace swaps the working series for a historical load. Candles are
// sorted, invalid bars are skipped and for duplicate times the later one
// wins. Only the most recent candles up to capacity are retained.
func (m *Merger) Replace(candles []core.Candle, indicators core.IndicatorSet) {
	m.Reset()

	sorted := make([]core.Candle, 0, len(candles))
	for _, c := range candles {
		if c.Valid() {
			sorted = append(sorted, c)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	for _, c := range sorted {
		if n := len(m.candles); n > 0 && m.candles[n-1].Time == c.Time {
			m.candles[n-1] = c
			continue
		}
		m.candles = append(m.candles, c)
	}

	if skipped := len(candles) - len(sorted); skipped > 0 && m.log != nil {
		m.log.WithField("skipped", skipped).Debug("historical load contained invalid candles")
	}

	m.trim()
	m.reindex()
	m.mergeIndicators(indicators)
}

// Apply merges one incremental update. An update for the last candle's time
// overwrites it in place, a newer one is appended and an older one is dropped
// silently. Indicator values are only kept when the candle was accepted.
func (m *Merger) Apply(candle core.Candle, indicators core.IndicatorSet) Outcome {
	if !candle.Valid() {
		m.debug(candle, "dropping invalid update")
		return Dropped
	}

	outcome := Appended
	if last, ok := m.Last(); ok {
		switch {
		case candle.Time == last.Time:
			outcome = Overwritten
		case candle.Time < last.Time:
			m.debug(candle, "dropping out-of-order update")
			return Dropped
		}
	}

	if outcome == Overwritten {
		m.candles[len(m.candles)-1] = candle
	} else {
		m.candles = append(m.candles, candle)
		m.index[candle.Time] = len(m.candles) - 1
		if m.trim() {
			m.reindex()
		}
	}

	m.mergeIndicators(indicators)
	return outcome
}

// Snapshot copies the merged series, pairing every candle with the
// indicator values recorded for exactly its time.
func (m *Merger) Snapshot() Snapshot {
	snap := Snapshot{
		Candles: slices.Clone(m.candles),
		Series:  make(map[string][]core.Point, len(m.values)),
	}

	for key, byTime := range m.values {
		points := make([]core.Point, len(m.candles))
		for i, c := range m.candles {
			if v, ok := byTime[c.Time]; ok {
				points[i] = core.NewPoint(c.Time, v)
			} else {
				points[i] = core.AbsentPoint(c.Time)
			}
		}
		snap.Series[key] = points
	}

	return snap
}

// mergeIndicators records present values for retained candle times. An
// explicit absent value clears what was recorded for that time.
func (m *Merger) mergeIndicators(indicators core.IndicatorSet) {
	for _, family := range indicators {
		for _, series := range family {
			byTime, ok := m.values[series.Key]
			if !ok {
				byTime = make(map[int64]float64)
				m.values[series.Key] = byTime
			}

			for _, p := range series.Points {
				if _, retained := m.index[p.Time]; !retained {
					continue
				}
				if p.Present() {
					byTime[p.Time] = *p.Value
				} else {
					delete(byTime, p.Time)
				}
			}
		}
	}
}

// trim drops the oldest candles beyond capacity together with their
// indicator values. It reports whether anything was dropped.
func (m *Merger) trim() bool {
	excess := len(m.candles) - m.capacity
	if excess <= 0 {
		return false
	}

	for _, c := range m.candles[:excess] {
		for _, byTime := range m.values {
			delete(byTime, c.Time)
		}
	}

	m.candles = slices.Clone(m.candles[excess:])
	return true
}

func (m *Merger) reindex() {
	m.index = make(map[int64]int, len(m.candles))
	for i, c := range m.candles {
		m.index[c.Time] = i
	}
}

func (m *Merger) debug(candle core.Candle, msg string) {
	if m.log == nil {
		return
	}
	fields := map[string]any{"time": candle.Time}
	if last, ok := m.Last(); ok {
		fields["last"] = last.Time
	}
	m.log.WithFields(fields).Debug(msg)
}
