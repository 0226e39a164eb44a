package surface

import (
	"fmt"
	"sync"

	"github.com/raykavin/tradedash/pkg/core"
)

// Counters tallies the structural operations applied to a Memory surface
type Counters struct {
	SeriesCreated      int
	SeriesRemoved      int
	AnnotationsCreated int
	AnnotationsRemoved int
	DataUpdates        int
	OptionUpdates      int
	RangeUpdates       int
}

// MemorySeries is the recorded state of one series
type MemorySeries struct {
	Ref         SeriesRef
	Pane        PaneID
	Kind        SeriesKind
	Options     SeriesOptions
	Line        []core.DataPoint
	Candles     []core.Candle
	Annotations map[AnnotationRef]AnnotationSpec
}

// Memory is a Surface that keeps everything in memory. Like a real charting
// library it rejects operations on series that were already removed.
type Memory struct {
	mu       sync.Mutex
	nextID   int
	series   map[SeriesRef]*MemorySeries
	scales   map[string]ScaleMargins
	ranges   map[PaneID]LogicalRange
	counters Counters
}

var _ Surface = (*Memory)(nil)

// NewMemory creates an empty in-memory surface
func NewMemory() *Memory {
	return &Memory{
		series: make(map[SeriesRef]*MemorySeries),
		scales: make(map[string]ScaleMargins),
		ranges: make(map[PaneID]LogicalRange),
	}
}

func (m *Memory) id(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s%d", prefix, m.nextID)
}

func (m *Memory) lookup(ref SeriesRef) (*MemorySeries, error) {
	s, ok := m.series[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSeriesRemoved, ref)
	}
	return s, nil
}

func (m *Memory) AddSeries(pane PaneID, kind SeriesKind, opts SeriesOptions) (SeriesRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref := SeriesRef(m.id("s"))
	m.series[ref] = &MemorySeries{
		Ref:         ref,
		Pane:        pane,
		Kind:        kind,
		Options:     opts,
		Annotations: make(map[AnnotationRef]AnnotationSpec),
	}
	m.counters.SeriesCreated++
	return ref, nil
}

func (m *Memory) ApplyOptions(ref SeriesRef, opts SeriesOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(ref)
	if err != nil {
		return err
	}
	s.Options = opts
	m.counters.OptionUpdates++
	return nil
}

func (m *Memory) SetLineData(ref SeriesRef, data []core.DataPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(ref)
	if err != nil {
		return err
	}
	s.Line = append([]core.DataPoint(nil), data...)
	m.counters.DataUpdates++
	return nil
}

func (m *Memory) SetCandleData(ref SeriesRef, candles []core.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(ref)
	if err != nil {
		return err
	}
	s.Candles = append([]core.Candle(nil), candles...)
	m.counters.DataUpdates++
	return nil
}

func (m *Memory) RemoveSeries(ref SeriesRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.lookup(ref); err != nil {
		return err
	}
	delete(m.series, ref)
	m.counters.SeriesRemoved++
	return nil
}

func (m *Memory) CreatePriceLine(ref SeriesRef, spec AnnotationSpec) (AnnotationRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(ref)
	if err != nil {
		return "", err
	}
	ann := AnnotationRef(m.id("a"))
	s.Annotations[ann] = spec
	m.counters.AnnotationsCreated++
	return ann, nil
}

func (m *Memory) RemovePriceLine(ref SeriesRef, ann AnnotationRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(ref)
	if err != nil {
		return err
	}
	if _, ok := s.Annotations[ann]; !ok {
		return fmt.Errorf("%w: %s", ErrAnnotationRemoved, ann)
	}
	delete(s.Annotations, ann)
	m.counters.AnnotationsRemoved++
	return nil
}

func (m *Memory) ConfigureScale(pane PaneID, axis AxisID, margins ScaleMargins, visible bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := string(pane) + "/" + string(axis)
	if !visible {
		delete(m.scales, key)
		return nil
	}
	m.scales[key] = margins
	return nil
}

func (m *Memory) SetVisibleRange(pane PaneID, r LogicalRange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ranges[pane] = r
	m.counters.RangeUpdates++
	return nil
}

// Counters returns a snapshot of the operation counters
func (m *Memory) Counters() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters
}

// Series returns a copy of the live series in no particular order
func (m *Memory) Series() []MemorySeries {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]MemorySeries, 0, len(m.series))
	for _, s := range m.series {
		cp := *s
		cp.Annotations = make(map[AnnotationRef]AnnotationSpec, len(s.Annotations))
		for k, v := range s.Annotations {
			cp.Annotations[k] = v
		}
		out = append(out, cp)
	}
	return out
}

// SeriesByTitle returns the live series whose title matches
func (m *Memory) SeriesByTitle(title string) (MemorySeries, bool) {
	for _, s := range m.Series() {
		if s.Options.Title == title {
			return s, true
		}
	}
	return MemorySeries{}, false
}

// AnnotationCount returns the number of live price lines across all series
func (m *Memory) AnnotationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, s := range m.series {
		n += len(s.Annotations)
	}
	return n
}

// Scale returns the margins configured for an axis, if visible
func (m *Memory) Scale(pane PaneID, axis AxisID) (ScaleMargins, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	margins, ok := m.scales[string(pane)+"/"+string(axis)]
	return margins, ok
}

// VisibleRange returns the last range applied to pane
func (m *Memory) VisibleRange(pane PaneID) (LogicalRange, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.ranges[pane]
	return r, ok
}
