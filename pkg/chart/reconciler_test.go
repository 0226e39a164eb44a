package chart

import (
	"errors"
	"testing"

	"github.com/raykavin/tradedash/pkg/core"
	"github.com/raykavin/tradedash/pkg/logger/zerolog"
	"github.com/raykavin/tradedash/pkg/surface"
	"github.com/raykavin/tradedash/pkg/timeseries"
	"github.com/stretchr/testify/require"
)

func newReconciler(options ...ReconcilerOption) (*Reconciler, *Registry, *surface.Memory) {
	mem := surface.NewMemory()
	reg := NewRegistry(mem, zerolog.Nop())
	return NewReconciler(reg, zerolog.Nop(), options...), reg, mem
}

func points(values ...float64) []core.Point {
	out := make([]core.Point, len(values))
	for i, v := range values {
		out[i] = core.NewPoint(int64(i+1), v)
	}
	return out
}

func snapshot(series map[string][]core.Point) timeseries.Snapshot {
	return timeseries.Snapshot{
		Candles: []core.Candle{
			{Time: 1, Open: 1, High: 2, Low: 0.5, Close: 1.5},
			{Time: 2, Open: 1.5, High: 2.5, Low: 1, Close: 2},
		},
		Series: series,
	}
}

func oscillators() timeseries.Snapshot {
	return snapshot(map[string][]core.Point{
		"rsi_14":              points(50, 55),
		"macd_line_12_26_9":   points(1, 2),
		"macd_signal_12_26_9": points(1, 1.5),
		"macd_hist_12_26_9":   points(0, 0.5),
		"adx_14":              points(20, 22),
		"pdi_14":              points(10, 12),
		"mdi_14":              points(8, 9),
		"atr_14":              points(3, 4),
	})
}

func TestReconciler_Idempotent(t *testing.T) {
	r, _, mem := newReconciler()
	snap := oscillators()
	toggles := core.ToggleState{"rsi": true, "macd": true}

	first, err := r.Reconcile(snap, toggles)
	require.NoError(t, err)
	require.Equal(t, 5, first.Created, "price + rsi + three macd series")

	before := mem.Counters()
	second, err := r.Reconcile(snap, toggles)
	require.NoError(t, err)
	require.False(t, second.Changed())
	require.Zero(t, second.Updated)
	require.Equal(t, before, mem.Counters())
}

func TestReconciler_ToggleOffThenOn(t *testing.T) {
	r, reg, mem := newReconciler()
	snap := snapshot(map[string][]core.Point{"rsi_14": points(50, 55)})

	_, err := r.Reconcile(snap, core.ToggleState{"rsi": true})
	require.NoError(t, err)
	require.True(t, reg.Has("rsi_14"))
	require.Equal(t, 2, mem.AnnotationCount())

	_, err = r.Reconcile(snap, core.ToggleState{"rsi": false})
	require.NoError(t, err)
	require.False(t, reg.Has("rsi_14"))
	require.Equal(t, 0, mem.AnnotationCount())
	_, ok := r.Scales().Assigned("rsi")
	require.False(t, ok)

	result, err := r.Reconcile(snap, core.ToggleState{"rsi": true})
	require.NoError(t, err)
	require.Equal(t, 1, result.Created)
	_, ok = mem.SeriesByTitle("RSI(14)")
	require.True(t, ok)
	require.Equal(t, 2, mem.AnnotationCount())

	h, _ := reg.Get("rsi_14")
	require.Equal(t, []string{"rsi_14__overbought", "rsi_14__oversold"}, h.Annotations())
}

func TestReconciler_EmptyDataStaysAbsent(t *testing.T) {
	r, reg, _ := newReconciler()
	toggles := core.ToggleState{"ema_200": true}

	_, err := r.Reconcile(snapshot(map[string][]core.Point{"ema_200": {}}), toggles)
	require.NoError(t, err)
	require.False(t, reg.Has("ema_200"))

	gaps := []core.Point{core.AbsentPoint(1), core.AbsentPoint(2)}
	_, err = r.Reconcile(snapshot(map[string][]core.Point{"ema_200": gaps}), toggles)
	require.NoError(t, err)
	require.False(t, reg.Has("ema_200"))

	_, err = r.Reconcile(snapshot(map[string][]core.Point{"ema_200": points(100, 101)}), toggles)
	require.NoError(t, err)
	require.True(t, reg.Has("ema_200"))

	h, _ := reg.Get("ema_200")
	require.Equal(t, surface.PricePane, h.Pane())
	require.Equal(t, surface.RightAxis, h.Axis())
}

func TestReconciler_FiltersAbsentValues(t *testing.T) {
	r, _, mem := newReconciler()
	nan := []core.Point{core.NewPoint(1, 10), core.AbsentPoint(2)}

	_, err := r.Reconcile(snapshot(map[string][]core.Point{"vwap": nan}), core.ToggleState{"vwap": true})
	require.NoError(t, err)

	s, ok := mem.SeriesByTitle("VWAP")
	require.True(t, ok)
	require.Equal(t, []core.DataPoint{{Time: 1, Value: 10}}, s.Line)
}

func TestReconciler_SubSeriesAreIndependent(t *testing.T) {
	r, reg, _ := newReconciler()
	snap := oscillators()
	snap.Series["macd_hist_12_26_9"] = nil

	_, err := r.Reconcile(snap, core.ToggleState{"macd": true})
	require.NoError(t, err)
	require.True(t, reg.Has("macd_line_12_26_9"))
	require.True(t, reg.Has("macd_signal_12_26_9"))
	require.False(t, reg.Has("macd_hist_12_26_9"))
}

func TestReconciler_AxisCollapseOrder(t *testing.T) {
	r, reg, mem := newReconciler()
	snap := oscillators()

	_, err := r.Reconcile(snap, core.ToggleState{"rsi": true, "macd": true, "adx": true, "atr": true})
	require.NoError(t, err)

	axis := func(key string) surface.AxisID {
		h, ok := reg.Get(key)
		require.True(t, ok, key)
		return h.Axis()
	}

	require.Equal(t, surface.RightAxis, axis("rsi_14"))
	require.Equal(t, surface.LeftAxis, axis("macd_line_12_26_9"))
	require.Equal(t, DefaultAxis, axis("adx_14"))
	require.Equal(t, DefaultAxis, axis("atr_14"))
	require.Equal(t, []string{"rsi", "macd", "adx", "atr"}, r.Scales().Groups())

	_, leftVisible := mem.Scale(surface.IndicatorPane, surface.LeftAxis)
	_, rightVisible := mem.Scale(surface.IndicatorPane, surface.RightAxis)
	require.True(t, leftVisible)
	require.True(t, rightVisible)

	// hiding rsi frees the right axis for adx on the next pass
	_, err = r.Reconcile(snap, core.ToggleState{"macd": true, "adx": true, "atr": true})
	require.NoError(t, err)
	require.Equal(t, surface.RightAxis, axis("adx_14"))
	require.Equal(t, surface.RightAxis, axis("pdi_14"))
	require.Equal(t, surface.LeftAxis, axis("macd_hist_12_26_9"))

	s, ok := mem.SeriesByTitle("ADX(14)")
	require.True(t, ok)
	require.Equal(t, surface.RightAxis, s.Options.Axis)
}

func TestReconciler_LayoutFollowsOccupiedAxes(t *testing.T) {
	r, _, mem := newReconciler()
	snap := oscillators()

	_, err := r.Reconcile(snap, core.ToggleState{"rsi": true})
	require.NoError(t, err)
	margins, ok := mem.Scale(surface.IndicatorPane, surface.RightAxis)
	require.True(t, ok)
	require.Equal(t, surface.ScaleMargins{Top: 0.1, Bottom: 0.1}, margins)

	_, err = r.Reconcile(snap, core.ToggleState{})
	require.NoError(t, err)
	_, ok = mem.Scale(surface.IndicatorPane, surface.RightAxis)
	require.False(t, ok)
}

func TestReconciler_PriceSeries(t *testing.T) {
	r, reg, mem := newReconciler()

	_, err := r.Reconcile(timeseries.Snapshot{}, nil)
	require.NoError(t, err)
	require.False(t, reg.Has(PriceKey))

	snap := snapshot(nil)
	_, err = r.Reconcile(snap, nil)
	require.NoError(t, err)

	s, ok := mem.SeriesByTitle("Price")
	require.True(t, ok)
	require.Equal(t, surface.CandlestickSeries, s.Kind)
	require.Len(t, s.Candles, 2)

	snap.Candles[1].Close = 2.2
	result, err := r.Reconcile(snap, nil)
	require.NoError(t, err)
	require.Equal(t, 1, result.Updated)
}

func TestReconciler_Reset(t *testing.T) {
	r, reg, mem := newReconciler()
	snap := oscillators()
	toggles := core.ToggleState{"rsi": true, "adx": true}

	_, err := r.Reconcile(snap, toggles)
	require.NoError(t, err)
	require.NoError(t, r.Reset())

	require.Zero(t, reg.Len())
	require.Empty(t, mem.Series())
	require.Empty(t, r.Scales().Groups())

	result, err := r.Reconcile(snap, toggles)
	require.NoError(t, err)
	require.Equal(t, 5, result.Created, "price + rsi + three adx series")
	require.Equal(t, 3, mem.AnnotationCount())
}

type passCounter struct{ passes int }

func (p *passCounter) ReconcilePass(PassResult) { p.passes++ }

func TestReconciler_PassObserver(t *testing.T) {
	counter := &passCounter{}
	r, _, _ := newReconciler(WithPassObserver(counter), WithFamilies(DefaultFamilies()[:1]))

	_, err := r.Reconcile(oscillators(), core.ToggleState{"rsi": true})
	require.NoError(t, err)
	_, err = r.Reconcile(oscillators(), core.ToggleState{"rsi": true})
	require.NoError(t, err)

	require.Equal(t, 2, counter.passes)
	require.Len(t, r.Families(), 1)
}

// flakySurface fails selected operations of the wrapped memory surface
type flakySurface struct {
	*surface.Memory
	failPriceLines int
	failRemove     bool
}

func (f *flakySurface) CreatePriceLine(ref surface.SeriesRef, spec surface.AnnotationSpec) (surface.AnnotationRef, error) {
	if f.failPriceLines > 0 {
		f.failPriceLines--
		return "", errors.New("price line rejected")
	}
	return f.Memory.CreatePriceLine(ref, spec)
}

func (f *flakySurface) RemoveSeries(ref surface.SeriesRef) error {
	if f.failRemove {
		return errors.New("remove rejected")
	}
	return f.Memory.RemoveSeries(ref)
}

func TestReconciler_ReattachesMissingAnnotations(t *testing.T) {
	flaky := &flakySurface{Memory: surface.NewMemory(), failPriceLines: 1}
	r := NewReconciler(NewRegistry(flaky, zerolog.Nop()), zerolog.Nop())
	snap := snapshot(map[string][]core.Point{"rsi_14": points(50, 55)})
	toggles := core.ToggleState{"rsi": true}

	_, err := r.Reconcile(snap, toggles)
	require.Error(t, err)
	require.Equal(t, 1, flaky.AnnotationCount())

	_, err = r.Reconcile(snap, toggles)
	require.NoError(t, err)
	require.Equal(t, 2, flaky.AnnotationCount())

	result, err := r.Reconcile(snap, toggles)
	require.NoError(t, err)
	require.False(t, result.Changed())
	require.Equal(t, 2, flaky.Counters().AnnotationsCreated)
}

func TestReconciler_FailedRemoveIsNotCounted(t *testing.T) {
	flaky := &flakySurface{Memory: surface.NewMemory()}
	r := NewReconciler(NewRegistry(flaky, zerolog.Nop()), zerolog.Nop())
	snap := snapshot(map[string][]core.Point{"rsi_14": points(50, 55)})

	_, err := r.Reconcile(snap, core.ToggleState{"rsi": true})
	require.NoError(t, err)

	flaky.failRemove = true
	result, err := r.Reconcile(snap, core.ToggleState{})
	require.Error(t, err)
	require.Zero(t, result.Removed)

	result, err = r.Reconcile(timeseries.Snapshot{}, core.ToggleState{})
	require.Error(t, err)
	require.Zero(t, result.Removed)
}
