package core

import (
	"sort"

	"github.com/samber/lo"
)

// Point is a single indicator sample. A nil Value is a gap.
type Point struct {
	Time  int64    `json:"time"`
	Value *float64 `json:"value"`
}

// Present reports whether the point carries a plottable value
func (p Point) Present() bool {
	return p.Value != nil && IsFinite(*p.Value)
}

// NewPoint builds a point holding v
func NewPoint(t int64, v float64) Point {
	return Point{Time: t, Value: &v}
}

// AbsentPoint builds a gap at t
func AbsentPoint(t int64) Point {
	return Point{Time: t}
}

// DataPoint is a filtered, plottable sample handed to the drawing surface
type DataPoint struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}

// IndicatorSeries is one independently keyed line of an indicator family
type IndicatorSeries struct {
	Key    string  `json:"key"`
	Points []Point `json:"points"`
}

// Plottable drops absent values and returns the remaining samples in time order
func (s IndicatorSeries) Plottable() []DataPoint {
	present := lo.Filter(s.Points, func(p Point, _ int) bool {
		return p.Present()
	})

	data := lo.Map(present, func(p Point, _ int) DataPoint {
		return DataPoint{Time: p.Time, Value: *p.Value}
	})

	sort.SliceStable(data, func(i, j int) bool { return data[i].Time < data[j].Time })
	return data
}

// IndicatorSet groups indicator series by family key, e.g. "macd" holds
// the line, signal and histogram series.
type IndicatorSet map[string][]IndicatorSeries

// Series returns the series stored under key in any family
func (s IndicatorSet) Series(key string) (IndicatorSeries, bool) {
	for _, family := range s {
		for _, series := range family {
			if series.Key == key {
				return series, true
			}
		}
	}
	return IndicatorSeries{}, false
}

// Keys returns every series key in the set, sorted
func (s IndicatorSet) Keys() []string {
	keys := make([]string, 0)
	for _, family := range s {
		for _, series := range family {
			keys = append(keys, series.Key)
		}
	}
	sort.Strings(keys)
	return lo.Uniq(keys)
}

// ToggleState maps an indicator family name to its visibility
type ToggleState map[string]bool

// Visible reports whether family is switched on. Unknown families are hidden.
func (t ToggleState) Visible(family string) bool {
	return t[family]
}

// Clone returns an independent copy of the toggle state
func (t ToggleState) Clone() ToggleState {
	return lo.Assign(map[string]bool{}, t)
}
