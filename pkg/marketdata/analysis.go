package marketdata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/raykavin/tradedash/pkg/core"
	"github.com/samber/lo"
	"github.com/tidwall/gjson"
)

const (
	forecastPath = "/arima/forecast/"
	signalPath   = "/indicators/signal/"
)

// Forecast request bounds. A value outside its range falls back to the
// default instead of being pinned to the nearest edge.
const (
	MinForecastHistory     = 50
	DefaultForecastHistory = 100
	MaxForecastHistory     = 2 * DefaultForecastHistory
	DefaultForecastSteps   = 10
	MaxForecastSteps       = 50
)

// ForecastFamily is the overlay family the forecast is drawn as
const ForecastFamily = "forecast"

// Series keys of the forecast family
const (
	ForecastKey      = "forecast"
	ForecastLowerKey = "forecast_lower"
	ForecastUpperKey = "forecast_upper"
)

// Trading signals reported by the analysis service
const (
	SignalStrongBuy  = "STRONG_BUY"
	SignalBuy        = "BUY"
	SignalHold       = "HOLD"
	SignalSell       = "SELL"
	SignalStrongSell = "STRONG_SELL"
	SignalError      = "ERROR"
)

var validSignals = []string{SignalStrongBuy, SignalBuy, SignalHold, SignalSell, SignalStrongSell}

// ForecastRequest tunes a price forecast
type ForecastRequest struct {
	History int
	Steps   int
}

// Clamp replaces out of range values with their defaults
func (r ForecastRequest) Clamp() ForecastRequest {
	if r.History < MinForecastHistory || r.History > MaxForecastHistory {
		r.History = DefaultForecastHistory
	}
	if r.Steps < 1 || r.Steps > MaxForecastSteps {
		r.Steps = DefaultForecastSteps
	}
	return r
}

// ForecastPoint is one predicted close with its confidence band. A NaN
// bound means the service could not estimate it.
type ForecastPoint struct {
	Time  int64
	Value float64
	Lower float64
	Upper float64
}

// Forecast is a predicted continuation of the close series
type Forecast struct {
	Selection core.Selection
	Points    []ForecastPoint
}

// Indicators converts the forecast into the overlay family series
func (f Forecast) Indicators() core.IndicatorSet {
	series := func(key string, value func(ForecastPoint) float64) core.IndicatorSeries {
		return core.IndicatorSeries{
			Key: key,
			Points: lo.Map(f.Points, func(p ForecastPoint, _ int) core.Point {
				if v := value(p); core.IsFinite(v) {
					return core.NewPoint(p.Time, v)
				}
				return core.AbsentPoint(p.Time)
			}),
		}
	}

	return core.IndicatorSet{ForecastFamily: {
		series(ForecastKey, func(p ForecastPoint) float64 { return p.Value }),
		series(ForecastLowerKey, func(p ForecastPoint) float64 { return p.Lower }),
		series(ForecastUpperKey, func(p ForecastPoint) float64 { return p.Upper }),
	}}
}

// Signal is the analysis service's verdict on the current market
type Signal struct {
	Signal     string         `json:"signal"`
	Summary    string         `json:"summary"`
	Confidence float64        `json:"confidence"`
	Details    map[string]any `json:"details"`
}

// Forecaster predicts the close series of a selection
type Forecaster interface {
	Forecast(ctx context.Context, sel core.Selection, req ForecastRequest) (Forecast, error)
}

// SignalAnalyzer classifies the current market of a selection
type SignalAnalyzer interface {
	Signal(ctx context.Context, sel core.Selection) (Signal, error)
}

// Forecast requests a price forecast for sel
func (c *RESTClient) Forecast(ctx context.Context, sel core.Selection, req ForecastRequest) (Forecast, error) {
	req = req.Clamp()

	body, err := c.get(ctx, forecastPath, map[string]string{
		"symbol":         sel.Symbol,
		"interval":       sel.Interval,
		"history_limit":  strconv.Itoa(req.History),
		"forecast_steps": strconv.Itoa(req.Steps),
	})
	if err != nil {
		return Forecast{}, fmt.Errorf("fetch forecast %s: %w", sel, err)
	}

	f, err := DecodeForecast(body)
	if err != nil {
		return Forecast{}, fmt.Errorf("fetch forecast %s: %w", sel, err)
	}
	f.Selection = sel

	c.log.WithFields(map[string]any{
		"selection": sel.String(),
		"steps":     len(f.Points),
	}).Debug("forecast fetched")

	return f, nil
}

// Signal requests the trading signal for sel
func (c *RESTClient) Signal(ctx context.Context, sel core.Selection) (Signal, error) {
	body, err := c.get(ctx, signalPath, map[string]string{
		"symbol":   sel.Symbol,
		"interval": sel.Interval,
	})
	if err != nil {
		return Signal{}, fmt.Errorf("fetch signal %s: %w", sel, err)
	}

	s, err := DecodeSignal(body)
	if err != nil {
		return Signal{}, fmt.Errorf("fetch signal %s: %w", sel, err)
	}
	return s, nil
}

// get performs a query and returns the body of a successful response. An
// error payload is reported as ErrRemote.
func (c *RESTClient) get(ctx context.Context, path string, query map[string]string) ([]byte, error) {
	response, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(path)
	if err != nil {
		return nil, err
	}

	if response.IsError() {
		if msg := gjson.GetBytes(response.Body(), "error"); msg.Exists() && msg.String() != "" {
			return nil, fmt.Errorf("%w: %s", ErrRemote, msg.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrStatus, response.Status())
	}
	return response.Body(), nil
}

// DecodeForecast parses a forecast response. Timestamps may be epoch
// seconds or milliseconds; missing band values decode to NaN.
func DecodeForecast(data []byte) (Forecast, error) {
	if !gjson.ValidBytes(data) {
		return Forecast{}, errors.New("decode forecast response: invalid json")
	}
	if msg := gjson.GetBytes(data, "error"); msg.Exists() && msg.String() != "" {
		return Forecast{}, fmt.Errorf("%w: %s", ErrRemote, msg.String())
	}

	times := gjson.GetBytes(data, "forecast_timestamps").Array()
	values := gjson.GetBytes(data, "forecast_values").Array()
	lower := gjson.GetBytes(data, "conf_int_lower").Array()
	upper := gjson.GetBytes(data, "conf_int_upper").Array()

	if len(times) != len(values) {
		return Forecast{}, fmt.Errorf("%w: %d forecast timestamps for %d values", ErrRemote, len(times), len(values))
	}

	at := func(results []gjson.Result, i int) float64 {
		if i >= len(results) {
			return math.NaN()
		}
		return parseNumber([]byte(results[i].Raw))
	}

	var f Forecast
	for i, t := range times {
		ts := parseNumber([]byte(t.Raw))
		if math.IsNaN(ts) {
			continue
		}
		f.Points = append(f.Points, ForecastPoint{
			Time:  NormalizeTime(ts),
			Value: at(values, i),
			Lower: at(lower, i),
			Upper: at(upper, i),
		})
	}
	return f, nil
}

// DecodeSignal parses a signal response. Unknown signals are reported as
// SignalError with zero confidence.
func DecodeSignal(data []byte) (Signal, error) {
	if !gjson.ValidBytes(data) {
		return Signal{}, errors.New("decode signal response: invalid json")
	}

	s := Signal{
		Signal:     gjson.GetBytes(data, "signal").String(),
		Summary:    gjson.GetBytes(data, "summary").String(),
		Confidence: gjson.GetBytes(data, "confidence").Float(),
		Details:    map[string]any{},
	}
	if details, ok := gjson.GetBytes(data, "details").Value().(map[string]any); ok {
		s.Details = details
	}

	if !lo.Contains(validSignals, s.Signal) {
		if s.Summary == "" {
			s.Summary = "Error determining signal."
		}
		s.Signal, s.Confidence = SignalError, 0
	}
	s.Confidence = min(max(s.Confidence, 0), 1)
	return s, nil
}
