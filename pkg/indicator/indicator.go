// Package indicator derives the chart indicator families from raw candles,
// for market data sources that only deliver prices.
package indicator

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"github.com/raykavin/tradedash/pkg/core"
	"github.com/samber/lo"
)

// Lookback is the number of candles needed for every family to produce a value
const Lookback = 300

var (
	emaPeriods = []int{9, 21, 50, 200}
	smaPeriods = []int{10, 20, 50, 200}
)

const (
	bbPeriod    = 20
	bbDeviation = 2.0

	rsiPeriod = 14
	adxPeriod = 14
	atrPeriod = 14

	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9

	tenkanPeriod  = 9
	kijunPeriod   = 26
	senkouPeriod  = 52
	ichimokuShift = 26
)

type columns struct {
	times  []int64
	high   []float64
	low    []float64
	close  []float64
	volume []float64
}

func split(candles []core.Candle) columns {
	return columns{
		times:  core.Times(candles),
		high:   lo.Map(candles, func(c core.Candle, _ int) float64 { return c.High }),
		low:    lo.Map(candles, func(c core.Candle, _ int) float64 { return c.Low }),
		close:  lo.Map(candles, func(c core.Candle, _ int) float64 { return c.Close }),
		volume: lo.Map(candles, func(c core.Candle, _ int) float64 { return c.Volume }),
	}
}

// series pairs values with times, leaving the first warmup samples absent
func series(key string, times []int64, values []float64, warmup int) core.IndicatorSeries {
	points := make([]core.Point, len(times))
	for i, t := range times {
		if i < warmup || i >= len(values) || !core.IsFinite(values[i]) {
			points[i] = core.AbsentPoint(t)
			continue
		}
		points[i] = core.NewPoint(t, values[i])
	}
	return core.IndicatorSeries{Key: key, Points: points}
}

// Compute derives every family it has enough candles for. Series keys match
// the default chart families, e.g. "ema_50" or "macd_hist_12_26_9".
func Compute(candles []core.Candle) core.IndicatorSet {
	set := core.IndicatorSet{}
	n := len(candles)
	if n == 0 {
		return set
	}
	c := split(candles)

	for _, period := range emaPeriods {
		if n >= period {
			key := fmt.Sprintf("ema_%d", period)
			set[key] = []core.IndicatorSeries{series(key, c.times, talib.Ema(c.close, period), period-1)}
		}
	}

	for _, period := range smaPeriods {
		if n >= period {
			key := fmt.Sprintf("sma_%d", period)
			set[key] = []core.IndicatorSeries{series(key, c.times, talib.Sma(c.close, period), period-1)}
		}
	}

	if n >= bbPeriod {
		upper, middle, lower := talib.BBands(c.close, bbPeriod, bbDeviation, bbDeviation, talib.SMA)
		set["bollinger"] = []core.IndicatorSeries{
			series("bb_upper_20_2", c.times, upper, bbPeriod-1),
			series("bb_middle_20_2", c.times, middle, bbPeriod-1),
			series("bb_lower_20_2", c.times, lower, bbPeriod-1),
		}
	}

	set["vwap"] = []core.IndicatorSeries{series("vwap", c.times, vwap(c), 0)}

	if ichimoku := ichimoku(c); len(ichimoku) > 0 {
		set["ichimoku"] = ichimoku
	}

	if n > rsiPeriod {
		set["rsi"] = []core.IndicatorSeries{series("rsi_14", c.times, talib.Rsi(c.close, rsiPeriod), rsiPeriod)}
	}

	if warmup := macdSlow + macdSignal - 2; n > warmup {
		line, signal, hist := talib.Macd(c.close, macdFast, macdSlow, macdSignal)
		set["macd"] = []core.IndicatorSeries{
			series("macd_line_12_26_9", c.times, line, warmup),
			series("macd_signal_12_26_9", c.times, signal, warmup),
			series("macd_hist_12_26_9", c.times, hist, warmup),
		}
	}

	if warmup := 2*adxPeriod - 1; n > warmup {
		set["adx"] = []core.IndicatorSeries{
			series("adx_14", c.times, talib.Adx(c.high, c.low, c.close, adxPeriod), warmup),
			series("pdi_14", c.times, talib.PlusDI(c.high, c.low, c.close, adxPeriod), adxPeriod),
			series("mdi_14", c.times, talib.MinusDI(c.high, c.low, c.close, adxPeriod), adxPeriod),
		}
	}

	if n > atrPeriod {
		set["atr"] = []core.IndicatorSeries{series("atr_14", c.times, talib.Atr(c.high, c.low, c.close, atrPeriod), atrPeriod)}
	}

	return set
}

// vwap is the cumulative volume weighted typical price. Bars before any
// volume traded are absent.
func vwap(c columns) []float64 {
	values := make([]float64, len(c.close))
	var pv, volume float64
	for i := range c.close {
		typical := (c.high[i] + c.low[i] + c.close[i]) / 3
		pv += typical * c.volume[i]
		volume += c.volume[i]
		if volume == 0 {
			values[i] = math.NaN()
			continue
		}
		values[i] = pv / volume
	}
	return values
}

// midpoint averages the highest high and the lowest low of the last period bars
func midpoint(c columns, period int) []float64 {
	highs := talib.Max(c.high, period)
	lows := talib.Min(c.low, period)
	values := make([]float64, len(c.close))
	for i := range values {
		values[i] = (highs[i] + lows[i]) / 2
	}
	return values
}

// shift moves values forward by bars, filling the head with gaps
func shift(values []float64, bars int) []float64 {
	shifted := make([]float64, len(values))
	for i := range shifted {
		if i < bars {
			shifted[i] = math.NaN()
			continue
		}
		shifted[i] = values[i-bars]
	}
	return shifted
}

// ichimoku plots the cloud spans at the bar they were projected onto and
// the lagging span at the bar it lags to
func ichimoku(c columns) []core.IndicatorSeries {
	n := len(c.close)
	var result []core.IndicatorSeries

	if n < tenkanPeriod {
		return result
	}
	tenkan := midpoint(c, tenkanPeriod)
	result = append(result, series("ichimoku_tenkan", c.times, tenkan, tenkanPeriod-1))

	if n > ichimokuShift {
		chikou := make([]float64, n)
		for i := range chikou {
			if i+ichimokuShift < n {
				chikou[i] = c.close[i+ichimokuShift]
			} else {
				chikou[i] = math.NaN()
			}
		}
		result = append(result, series("ichimoku_chikou", c.times, chikou, 0))
	}

	if n < kijunPeriod {
		return result
	}
	kijun := midpoint(c, kijunPeriod)
	result = append(result, series("ichimoku_kijun", c.times, kijun, kijunPeriod-1))

	spanA := make([]float64, n)
	for i := range spanA {
		spanA[i] = (tenkan[i] + kijun[i]) / 2
	}
	result = append(result, series("ichimoku_senkou_a", c.times, shift(spanA, ichimokuShift), kijunPeriod-1+ichimokuShift))

	if n >= senkouPeriod {
		spanB := midpoint(c, senkouPeriod)
		result = append(result, series("ichimoku_senkou_b", c.times, shift(spanB, ichimokuShift), senkouPeriod-1+ichimokuShift))
	}

	return result
}

// Latest keeps only the newest point of every series in set
func Latest(set core.IndicatorSet) core.IndicatorSet {
	latest := make(core.IndicatorSet, len(set))
	for family, list := range set {
		latest[family] = lo.FilterMap(list, func(s core.IndicatorSeries, _ int) (core.IndicatorSeries, bool) {
			points := lo.Filter(s.Points, func(p core.Point, _ int) bool { return p.Present() })
			if len(points) == 0 {
				return core.IndicatorSeries{}, false
			}
			return core.IndicatorSeries{Key: s.Key, Points: points[len(points)-1:]}, true
		})
	}
	return latest
}
