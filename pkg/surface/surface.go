// Package surface describes the drawing target the chart engine mutates.
//
// A Surface is treated as opaque: it creates, updates and removes series,
// attaches horizontal price lines to a series, lays out value axes and moves
// a pane's visible logical range. Implementations are free to render
// locally, record calls, or forward them to a remote renderer.
package surface

import (
	"errors"

	"github.com/raykavin/tradedash/pkg/core"
)

var (
	// ErrSeriesRemoved is returned when a series reference is used after removal
	ErrSeriesRemoved = errors.New("series already removed")

	// ErrAnnotationRemoved is returned when a price line is removed twice
	ErrAnnotationRemoved = errors.New("annotation already removed")
)

// PaneID identifies one chart viewport
type PaneID string

const (
	PricePane     PaneID = "price"
	IndicatorPane PaneID = "indicator"
)

// Other returns the pane mirrored by p
func (p PaneID) Other() PaneID {
	if p == PricePane {
		return IndicatorPane
	}
	return PricePane
}

// AxisID identifies a value axis within a pane
type AxisID string

const (
	LeftAxis  AxisID = "left"
	RightAxis AxisID = "right"
)

// SeriesKind selects how a series is drawn
type SeriesKind string

const (
	LineSeries        SeriesKind = "line"
	HistogramSeries   SeriesKind = "histogram"
	CandlestickSeries SeriesKind = "candlestick"
)

// LineStyle mirrors the dash styles renderers usually support
type LineStyle int

const (
	Solid LineStyle = iota
	Dotted
	Dashed
)

// SeriesOptions carries the style of a series
type SeriesOptions struct {
	Title     string    `json:"title,omitempty"`
	Color     string    `json:"color,omitempty"`
	LineWidth int       `json:"lineWidth,omitempty"`
	LineStyle LineStyle `json:"lineStyle,omitempty"`
	Axis      AxisID    `json:"priceScaleId,omitempty"`
}

// AnnotationSpec describes a horizontal marker bound to a series
type AnnotationSpec struct {
	Price     float64   `json:"price"`
	Color     string    `json:"color,omitempty"`
	Title     string    `json:"title,omitempty"`
	LineStyle LineStyle `json:"lineStyle,omitempty"`
}

// ScaleMargins places an axis inside its pane as fractions of the pane height
type ScaleMargins struct {
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
}

// LogicalRange is the visible window of a pane in bar indexes
type LogicalRange struct {
	From float64 `json:"from"`
	To   float64 `json:"to"`
}

// SeriesRef is an opaque handle issued by a Surface
type SeriesRef string

// AnnotationRef is an opaque handle for a price line
type AnnotationRef string

// Surface is the set of drawing operations the chart engine relies on
type Surface interface {
	AddSeries(pane PaneID, kind SeriesKind, opts SeriesOptions) (SeriesRef, error)
	ApplyOptions(ref SeriesRef, opts SeriesOptions) error
	SetLineData(ref SeriesRef, data []core.DataPoint) error
	SetCandleData(ref SeriesRef, candles []core.Candle) error
	RemoveSeries(ref SeriesRef) error

	CreatePriceLine(ref SeriesRef, spec AnnotationSpec) (AnnotationRef, error)
	RemovePriceLine(ref SeriesRef, ann AnnotationRef) error

	ConfigureScale(pane PaneID, axis AxisID, margins ScaleMargins, visible bool) error
	SetVisibleRange(pane PaneID, r LogicalRange) error
}
