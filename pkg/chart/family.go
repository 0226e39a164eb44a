package chart

import (
	"fmt"

	"github.com/raykavin/tradedash/pkg/surface"
)

// AnnotationDef is a fixed price line attached to a series when it is created
type AnnotationDef struct {
	Purpose string
	Spec    surface.AnnotationSpec
}

// SeriesSpec describes one independently keyed series of a family
type SeriesSpec struct {
	Key         string
	Title       string
	Kind        surface.SeriesKind
	Color       string
	LineWidth   int
	LineStyle   surface.LineStyle
	Annotations []AnnotationDef
}

// AnnotationKey builds the stable sub-key of a per-purpose annotation, e.g. "rsi_14__overbought"
func AnnotationKey(seriesKey, purpose string) string {
	return seriesKey + "__" + purpose
}

// Family is the metadata of one toggleable indicator
type Family struct {
	Name   string
	Label  string
	Pane   surface.PaneID
	Axis   surface.AxisID
	Series []SeriesSpec
}

// Overlay reports whether the family is drawn on the price pane
func (f Family) Overlay() bool {
	return f.Pane == surface.PricePane
}

func line(key, title, color string) SeriesSpec {
	return SeriesSpec{Key: key, Title: title, Kind: surface.LineSeries, Color: color, LineWidth: 1}
}

func styled(spec SeriesSpec, style surface.LineStyle) SeriesSpec {
	spec.LineStyle = style
	return spec
}

func threshold(purpose string, price float64, color string) AnnotationDef {
	return AnnotationDef{
		Purpose: purpose,
		Spec: surface.AnnotationSpec{
			Price:     price,
			Color:     color,
			Title:     purpose,
			LineStyle: surface.Dashed,
		},
	}
}

func movingAverage(kind string, period int, color string) Family {
	key := fmt.Sprintf("%s_%d", kind, period)
	label := fmt.Sprintf("%s(%d)", map[string]string{"ema": "EMA", "sma": "SMA"}[kind], period)
	return Family{
		Name:   key,
		Label:  label,
		Pane:   surface.PricePane,
		Axis:   surface.RightAxis,
		Series: []SeriesSpec{line(key, label, color)},
	}
}

// DefaultFamilies returns the built-in family table. Its order is the
// declaration order used to break axis contention between oscillators.
func DefaultFamilies() []Family {
	rsi := line("rsi_14", "RSI(14)", "#7e57c2")
	rsi.Annotations = []AnnotationDef{
		threshold("overbought", 70, "#ef5350"),
		threshold("oversold", 30, "#26a69a"),
	}

	adx := line("adx_14", "ADX(14)", "#ffb300")
	adx.Annotations = []AnnotationDef{threshold("trend", 25, "#9e9e9e")}

	hist := SeriesSpec{Key: "macd_hist_12_26_9", Title: "Histogram", Kind: surface.HistogramSeries, Color: "#90a4ae"}

	return []Family{
		movingAverage("ema", 9, "#f06292"),
		movingAverage("ema", 21, "#4fc3f7"),
		movingAverage("ema", 50, "#ffd54f"),
		movingAverage("ema", 200, "#ba68c8"),
		movingAverage("sma", 10, "#a1887f"),
		movingAverage("sma", 20, "#81c784"),
		movingAverage("sma", 50, "#e57373"),
		movingAverage("sma", 200, "#64b5f6"),
		{
			Name:  "bollinger",
			Label: "BB(20, 2)",
			Pane:  surface.PricePane,
			Axis:  surface.RightAxis,
			Series: []SeriesSpec{
				line("bb_upper_20_2", "BB Upper", "#90caf9"),
				line("bb_middle_20_2", "BB Middle", "#b0bec5"),
				line("bb_lower_20_2", "BB Lower", "#90caf9"),
			},
		},
		{
			Name:   "vwap",
			Label:  "VWAP",
			Pane:   surface.PricePane,
			Axis:   surface.RightAxis,
			Series: []SeriesSpec{line("vwap", "VWAP", "#ff8a65")},
		},
		{
			Name:  "forecast",
			Label: "Forecast",
			Pane:  surface.PricePane,
			Axis:  surface.RightAxis,
			Series: []SeriesSpec{
				styled(line("forecast", "Forecast", "#00e676"), surface.Dashed),
				styled(line("forecast_upper", "Forecast Upper", "#69f0ae"), surface.Dotted),
				styled(line("forecast_lower", "Forecast Lower", "#69f0ae"), surface.Dotted),
			},
		},
		{
			Name:  "ichimoku",
			Label: "Ichimoku(9, 26, 52)",
			Pane:  surface.PricePane,
			Axis:  surface.RightAxis,
			Series: []SeriesSpec{
				line("ichimoku_tenkan", "Tenkan", "#e91e63"),
				line("ichimoku_kijun", "Kijun", "#3f51b5"),
				line("ichimoku_senkou_a", "Senkou A", "#4caf50"),
				line("ichimoku_senkou_b", "Senkou B", "#f44336"),
				line("ichimoku_chikou", "Chikou", "#9c27b0"),
			},
		},
		{
			Name:   "rsi",
			Label:  "RSI(14)",
			Pane:   surface.IndicatorPane,
			Axis:   surface.RightAxis,
			Series: []SeriesSpec{rsi},
		},
		{
			Name:  "macd",
			Label: "MACD(12, 26, 9)",
			Pane:  surface.IndicatorPane,
			Axis:  surface.LeftAxis,
			Series: []SeriesSpec{
				line("macd_line_12_26_9", "MACD", "#2962ff"),
				line("macd_signal_12_26_9", "Signal", "#ff6d00"),
				hist,
			},
		},
		{
			Name:  "adx",
			Label: "ADX(14)",
			Pane:  surface.IndicatorPane,
			Axis:  surface.RightAxis,
			Series: []SeriesSpec{
				adx,
				line("pdi_14", "+DI", "#66bb6a"),
				line("mdi_14", "-DI", "#ef5350"),
			},
		},
		{
			Name:   "atr",
			Label:  "ATR(14)",
			Pane:   surface.IndicatorPane,
			Axis:   surface.LeftAxis,
			Series: []SeriesSpec{line("atr_14", "ATR(14)", "#8d6e63")},
		},
	}
}

// FamilyNames returns the toggle names of families in declaration order
func FamilyNames(families []Family) []string {
	names := make([]string, len(families))
	for i, f := range families {
		names[i] = f.Name
	}
	return names
}
