package metric

import (
	"bytes"
	"testing"

	"github.com/raykavin/tradedash/pkg/core"
	"github.com/stretchr/testify/require"
)

func closes(values ...float64) []core.Candle {
	candles := make([]core.Candle, len(values))
	for i, v := range values {
		candles[i] = core.Candle{Time: int64(i+1) * 60, Open: v, High: v, Low: v, Close: v}
	}
	return candles
}

func TestReturns(t *testing.T) {
	require.Nil(t, Returns(closes(100)))
	returns := Returns(closes(100, 110, 99, 0, 5))
	require.Len(t, returns, 3)
	require.InDelta(t, 10.0, returns[0], 1e-9)
	require.InDelta(t, -10.0, returns[1], 1e-9)
	require.InDelta(t, -100.0, returns[2], 1e-9)
}

func TestPayoffAndProfitFactor(t *testing.T) {
	values := []float64{2, 4, -1, -3}
	require.InDelta(t, 1.5, Payoff(values), 1e-9)
	require.InDelta(t, 1.5, ProfitFactor(values), 1e-9)

	require.Equal(t, 10.0, Payoff([]float64{1, 2}))
	require.Equal(t, 10.0, ProfitFactor([]float64{1, 2}))
	require.Equal(t, 0.0, Mean(nil))
}

func TestSummarize(t *testing.T) {
	s := Summarize(closes(100, 110, 99, 99), 200)
	require.Equal(t, 4, s.Bars)
	require.Equal(t, 2, s.UpBars)
	require.Equal(t, 1, s.DownBars)
	require.InDelta(t, 10.0, s.Best, 1e-9)
	require.InDelta(t, -10.0, s.Worst, 1e-9)
	require.InDelta(t, 0.0, s.Mean, 1e-9)
	require.LessOrEqual(t, s.MeanInterval.Lower, s.MeanInterval.Upper)
	require.GreaterOrEqual(t, s.MeanInterval.Lower, -10.0)
	require.LessOrEqual(t, s.MeanInterval.Upper, 10.0)

	table := s.String()
	require.Contains(t, table, "Up / Down")
	require.Contains(t, table, "2 / 1")

	require.Equal(t, Summary{Bars: 1}, Summarize(closes(100), 10))
}

func TestBootstrap_Constant(t *testing.T) {
	interval := Bootstrap([]float64{2, 2, 2}, Mean, 50, 0.9)
	require.Equal(t, Interval{Mean: 2, StdDev: 0, Lower: 2, Upper: 2}, interval)
	require.Equal(t, Interval{}, Bootstrap(nil, Mean, 50, 0.9))
}

func TestFprintHistogram(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, FprintHistogram(buf, []float64{-1, 0, 0.5, 1, 2}, 4))
	require.NotEmpty(t, buf.String())

	buf.Reset()
	require.NoError(t, FprintHistogram(buf, nil, 4))
	require.Empty(t, buf.String())
}
