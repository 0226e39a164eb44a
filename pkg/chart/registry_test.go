package chart

import (
	"testing"

	"github.com/raykavin/tradedash/pkg/core"
	"github.com/raykavin/tradedash/pkg/logger/zerolog"
	"github.com/raykavin/tradedash/pkg/surface"
	"github.com/stretchr/testify/require"
)

func newRegistry() (*Registry, *surface.Memory) {
	mem := surface.NewMemory()
	return NewRegistry(mem, zerolog.Nop()), mem
}

func TestRegistry_EnsureIsIdempotent(t *testing.T) {
	reg, mem := newRegistry()

	first, err := reg.Ensure("ema_50", surface.PricePane, surface.LineSeries, surface.SeriesOptions{Title: "EMA"})
	require.NoError(t, err)
	second, err := reg.Ensure("ema_50", surface.PricePane, surface.LineSeries, surface.SeriesOptions{Title: "other"})
	require.NoError(t, err)

	require.Same(t, first, second)
	require.Equal(t, 1, mem.Counters().SeriesCreated)
	require.Equal(t, 1, reg.Len())
}

func TestRegistry_RemoveThenEnsure(t *testing.T) {
	reg, mem := newRegistry()

	old, err := reg.Ensure("rsi_14", surface.IndicatorPane, surface.LineSeries, surface.SeriesOptions{})
	require.NoError(t, err)
	require.NoError(t, reg.Remove("rsi_14"))
	require.True(t, old.Removed())

	h, err := reg.Ensure("rsi_14", surface.IndicatorPane, surface.LineSeries, surface.SeriesOptions{})
	require.NoError(t, err)
	require.NotSame(t, old, h)
	require.Equal(t, 2, mem.Counters().SeriesCreated)
	require.Len(t, mem.Series(), 1)

	// mutating the stale handle is ignored
	require.NoError(t, old.SetData([]core.DataPoint{{Time: 1, Value: 1}}))
	require.Equal(t, 0, mem.Counters().DataUpdates)
}

func TestRegistry_RemoveUnknownIsNoop(t *testing.T) {
	reg, mem := newRegistry()
	require.NoError(t, reg.Remove("missing"))
	require.Equal(t, surface.Counters{}, mem.Counters())
}

func TestRegistry_SetData(t *testing.T) {
	reg, mem := newRegistry()
	_, err := reg.Ensure("atr_14", surface.IndicatorPane, surface.LineSeries, surface.SeriesOptions{Title: "ATR"})
	require.NoError(t, err)

	require.NoError(t, reg.SetData("atr_14", []core.DataPoint{{Time: 1, Value: 2}, {Time: 2, Value: 3}}))
	s, ok := mem.SeriesByTitle("ATR")
	require.True(t, ok)
	require.Len(t, s.Line, 2)

	err = reg.SetData("atr_14", []core.DataPoint{{Time: 2, Value: 2}, {Time: 1, Value: 3}})
	require.ErrorIs(t, err, ErrUnsortedPoints)

	require.NoError(t, reg.SetData("unknown", []core.DataPoint{{Time: 1, Value: 1}}))
	require.ErrorIs(t, reg.SetCandles("atr_14", []core.Candle{{Time: 1, Close: 1}}), ErrKindMismatch)
}

func TestRegistry_AttachAnnotationReplaces(t *testing.T) {
	reg, mem := newRegistry()
	_, err := reg.Ensure("rsi_14", surface.IndicatorPane, surface.LineSeries, surface.SeriesOptions{})
	require.NoError(t, err)

	spec := surface.AnnotationSpec{Price: 70}
	_, err = reg.AttachAnnotation("rsi_14", "rsi_14__overbought", spec)
	require.NoError(t, err)
	_, err = reg.AttachAnnotation("rsi_14", "rsi_14__overbought", spec)
	require.NoError(t, err)
	_, err = reg.AttachAnnotation("rsi_14", "rsi_14__oversold", surface.AnnotationSpec{Price: 30})
	require.NoError(t, err)

	require.Equal(t, 2, mem.AnnotationCount())
	h, _ := reg.Get("rsi_14")
	require.Equal(t, []string{"rsi_14__overbought", "rsi_14__oversold"}, h.Annotations())

	require.NoError(t, reg.Remove("rsi_14"))
	require.Equal(t, 0, mem.AnnotationCount())
	require.Equal(t, 3, mem.Counters().AnnotationsRemoved)
}

func TestRegistry_ToleratesSurfaceSideRemoval(t *testing.T) {
	reg, mem := newRegistry()
	h, err := reg.Ensure("vwap", surface.PricePane, surface.LineSeries, surface.SeriesOptions{})
	require.NoError(t, err)
	_, err = reg.AttachAnnotation("vwap", "vwap__anchor", surface.AnnotationSpec{Price: 1})
	require.NoError(t, err)

	require.NoError(t, mem.RemoveSeries(h.Ref()))

	require.NoError(t, reg.SetData("vwap", []core.DataPoint{{Time: 1, Value: 1}}))
	require.NoError(t, reg.Reassign("vwap", surface.LeftAxis))
	require.NoError(t, reg.Remove("vwap"))
	require.False(t, reg.Has("vwap"))
}

func TestRegistry_ClearInCreationOrder(t *testing.T) {
	reg, mem := newRegistry()
	for _, key := range []string{"b", "a", "c"} {
		_, err := reg.Ensure(key, surface.PricePane, surface.LineSeries, surface.SeriesOptions{})
		require.NoError(t, err)
	}

	require.Equal(t, []string{"b", "a", "c"}, reg.Keys())
	require.NoError(t, reg.Clear())
	require.Zero(t, reg.Len())
	require.Empty(t, mem.Series())
}

type recordingObserver struct {
	created, removed []string
}

func (o *recordingObserver) SeriesCreated(key string) { o.created = append(o.created, key) }
func (o *recordingObserver) SeriesRemoved(key string) { o.removed = append(o.removed, key) }

func TestRegistry_Observer(t *testing.T) {
	reg, _ := newRegistry()
	obs := &recordingObserver{}
	reg.SetObserver(obs)

	_, err := reg.Ensure("x", surface.PricePane, surface.LineSeries, surface.SeriesOptions{})
	require.NoError(t, err)
	require.NoError(t, reg.Remove("x"))

	require.Equal(t, []string{"x"}, obs.created)
	require.Equal(t, []string{"x"}, obs.removed)
}
