package marketdata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/raykavin/tradedash/pkg/core"
	"github.com/samber/lo"
	"github.com/tidwall/gjson"
)

// msThreshold separates epoch seconds from epoch milliseconds
const msThreshold = 1e11

// NormalizeTime converts epoch milliseconds to seconds and leaves seconds alone
func NormalizeTime(t float64) int64 {
	if t > msThreshold {
		t /= 1000
	}
	return int64(math.Floor(t))
}

// number accepts a JSON number, a numeric string or null. Anything that is
// not a finite number decodes to NaN.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	*n = number(parseNumber(b))
	return nil
}

func parseNumber(b []byte) float64 {
	s := string(bytes.TrimSpace(b))
	if s == "" || s == "null" {
		return math.NaN()
	}
	if s[0] == '"' {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return math.NaN()
		}
		s = strings.TrimSpace(unquoted)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || !core.IsFinite(v) {
		return math.NaN()
	}
	return v
}

type wirePoint struct {
	Time  number `json:"time"`
	Value number `json:"value"`
}

type wireSeries struct {
	Key    string      `json:"key"`
	Points []wirePoint `json:"points"`
	Values []number    `json:"values"`
}

type wireCandle struct {
	Time      number `json:"time"`
	Timestamp number `json:"timestamp"`
	Open      number `json:"open"`
	High      number `json:"high"`
	Low       number `json:"low"`
	Close     number `json:"close"`
	Volume    number `json:"volume"`
	Closed    bool   `json:"closed"`
	IsClosed  bool   `json:"isClosed"`
}

func (w wireCandle) candle() core.Candle {
	t := float64(w.Time)
	if math.IsNaN(t) || t == 0 {
		t = float64(w.Timestamp)
	}

	c := core.Candle{
		Open:   float64(w.Open),
		High:   float64(w.High),
		Low:    float64(w.Low),
		Close:  float64(w.Close),
		Volume: float64(w.Volume),
		Closed: w.Closed || w.IsClosed,
	}
	if !math.IsNaN(t) {
		c.Time = NormalizeTime(t)
	}
	if math.IsNaN(c.Volume) {
		c.Volume = 0
	}
	return c
}

type wireHistorical struct {
	Candles            []wireCandle            `json:"candles"`
	Klines             []wireCandle            `json:"klines"`
	Timestamps         []number                `json:"timestamps"`
	IndicatorsByFamily map[string][]wireSeries `json:"indicatorsByFamily"`
	Indicators         json.RawMessage         `json:"indicators"`
}

type wireMessage struct {
	Type               string                  `json:"type"`
	Message            string                  `json:"message"`
	Candle             *wireCandle             `json:"candle"`
	IndicatorsByFamily map[string][]wireSeries `json:"indicatorsByFamily"`
}

// DecodeHistorical parses a historical response. Both the current shape
// (candles + indicatorsByFamily) and the older klines + indicators shape are
// understood.
func DecodeHistorical(data []byte) (Historical, error) {
	if msg := gjson.GetBytes(data, "error"); msg.Exists() && msg.String() != "" {
		return Historical{}, fmt.Errorf("%w: %s", ErrRemote, msg.String())
	}

	var wire wireHistorical
	if err := json.Unmarshal(data, &wire); err != nil {
		return Historical{}, fmt.Errorf("decode historical response: %w", err)
	}

	raw := wire.Candles
	if len(raw) == 0 {
		raw = wire.Klines
	}

	h := Historical{
		Candles: lo.Map(raw, func(w wireCandle, _ int) core.Candle { return w.candle() }),
		Timestamps: lo.FilterMap(wire.Timestamps, func(n number, _ int) (int64, bool) {
			return NormalizeTime(float64(n)), !math.IsNaN(float64(n))
		}),
	}

	if len(h.Timestamps) == 0 {
		h.Timestamps = core.Times(h.Candles)
	}

	switch {
	case len(wire.IndicatorsByFamily) > 0:
		h.Indicators = decodeFamilies(wire.IndicatorsByFamily, h.Timestamps)
	case len(wire.Indicators) > 0:
		h.Indicators = decodeLegacyIndicators(wire.Indicators)
	default:
		h.Indicators = core.IndicatorSet{}
	}

	return h, nil
}

// DecodeMessage parses one live frame into an update
func DecodeMessage(data []byte) (Update, error) {
	typ := gjson.GetBytes(data, "type")

	switch {
	case typ.String() == "error":
		return Update{}, fmt.Errorf("%w: %s", ErrRemote, gjson.GetBytes(data, "message").String())

	case typ.String() == "update":
		var wire wireMessage
		if err := json.Unmarshal(data, &wire); err != nil {
			return Update{}, fmt.Errorf("decode live message: %w", err)
		}
		if wire.Candle == nil {
			return Update{}, fmt.Errorf("%w: update without candle", ErrUnknownMessage)
		}
		c := wire.Candle.candle()
		return Update{
			Candle:     c,
			Indicators: decodeFamilies(wire.IndicatorsByFamily, []int64{c.Time}),
		}, nil

	case !typ.Exists() && gjson.GetBytes(data, "close").Exists():
		var wire wireCandle
		if err := json.Unmarshal(data, &wire); err != nil {
			return Update{}, fmt.Errorf("decode live message: %w", err)
		}
		return Update{Candle: wire.candle(), Indicators: core.IndicatorSet{}}, nil
	}

	return Update{}, fmt.Errorf("%w: type %q", ErrUnknownMessage, typ.String())
}

// decodeFamilies converts wire series into indicator series. Series given
// as bare values are aligned with timestamps by index.
func decodeFamilies(families map[string][]wireSeries, timestamps []int64) core.IndicatorSet {
	set := make(core.IndicatorSet, len(families))
	for family, series := range families {
		out := make([]core.IndicatorSeries, 0, len(series))
		for _, s := range series {
			if s.Key == "" {
				continue
			}

			var points []core.Point
			if len(s.Points) > 0 {
				points = lo.FilterMap(s.Points, func(p wirePoint, _ int) (core.Point, bool) {
					if math.IsNaN(float64(p.Time)) {
						return core.Point{}, false
					}
					return point(NormalizeTime(float64(p.Time)), float64(p.Value)), true
				})
			} else {
				points = aligned(s.Values, timestamps)
			}

			out = append(out, core.IndicatorSeries{Key: s.Key, Points: points})
		}
		set[family] = out
	}
	return set
}

func point(t int64, v float64) core.Point {
	if math.IsNaN(v) {
		return core.AbsentPoint(t)
	}
	return core.NewPoint(t, v)
}

func aligned(values []number, timestamps []int64) []core.Point {
	n := min(len(values), len(timestamps))
	points := make([]core.Point, n)
	for i := 0; i < n; i++ {
		points[i] = point(timestamps[i], float64(values[i]))
	}
	return points
}

// decodeLegacyIndicators understands the grouped layout where values are
// aligned with indicators.timestamps: maps of key -> values for rsi, ema,
// sma and adx, and parameterized lists for macd and bollinger_bands.
func decodeLegacyIndicators(raw json.RawMessage) core.IndicatorSet {
	set := core.IndicatorSet{}
	root := gjson.ParseBytes(raw)

	timestamps := lo.Map(root.Get("timestamps").Array(), func(r gjson.Result, _ int) int64 {
		return NormalizeTime(r.Float())
	})

	values := func(r gjson.Result) []core.Point {
		arr := r.Array()
		n := min(len(arr), len(timestamps))
		points := make([]core.Point, n)
		for i := 0; i < n; i++ {
			points[i] = point(timestamps[i], parseNumber([]byte(arr[i].Raw)))
		}
		return points
	}

	root.Get("rsi").ForEach(func(key, r gjson.Result) bool {
		set["rsi"] = append(set["rsi"], core.IndicatorSeries{Key: key.String(), Points: values(r)})
		return true
	})

	for _, group := range []string{"ema", "sma"} {
		root.Get(group).ForEach(func(key, r gjson.Result) bool {
			set[key.String()] = []core.IndicatorSeries{{Key: key.String(), Points: values(r)}}
			return true
		})
	}

	root.Get("adx").ForEach(func(key, r gjson.Result) bool {
		set["adx"] = append(set["adx"], core.IndicatorSeries{Key: key.String(), Points: values(r)})
		return true
	})

	for _, macd := range root.Get("macd").Array() {
		params := macd.Get("params").String()
		set["macd"] = append(set["macd"],
			core.IndicatorSeries{Key: "macd_line_" + params, Points: values(macd.Get("macd_line"))},
			core.IndicatorSeries{Key: "macd_signal_" + params, Points: values(macd.Get("signal_line"))},
			core.IndicatorSeries{Key: "macd_hist_" + params, Points: values(macd.Get("histogram"))},
		)
	}

	for _, bb := range root.Get("bollinger_bands").Array() {
		params := normalizeParams(bb.Get("params").String())
		set["bollinger"] = append(set["bollinger"],
			core.IndicatorSeries{Key: "bb_upper_" + params, Points: values(bb.Get("upper_band"))},
			core.IndicatorSeries{Key: "bb_middle_" + params, Points: values(bb.Get("middle_band"))},
			core.IndicatorSeries{Key: "bb_lower_" + params, Points: values(bb.Get("lower_band"))},
		)
	}

	return set
}

// normalizeParams turns "20_2.0" into "20_2"
func normalizeParams(params string) string {
	parts := strings.Split(params, "_")
	for i, p := range parts {
		if v, err := strconv.ParseFloat(p, 64); err == nil {
			parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return strings.Join(parts, "_")
}
