package dashboard

import (
	"errors"
	"fmt"
	"sync"

	"github.com/raykavin/tradedash/pkg/core"
	"github.com/raykavin/tradedash/pkg/surface"
)

// ErrClientGone is returned by a RemoteSurface once its client disconnected
var ErrClientGone = errors.New("dashboard client disconnected")

// Command is one drawing instruction sent to the browser renderer
type Command struct {
	Op         string                  `json:"op"`
	Series     surface.SeriesRef       `json:"series,omitempty"`
	Annotation surface.AnnotationRef   `json:"annotation,omitempty"`
	Pane       surface.PaneID          `json:"pane,omitempty"`
	Axis       surface.AxisID          `json:"axis,omitempty"`
	Kind       surface.SeriesKind      `json:"kind,omitempty"`
	Options    *surface.SeriesOptions  `json:"options,omitempty"`
	Line       []core.DataPoint        `json:"line,omitempty"`
	Candles    []core.Candle           `json:"candles,omitempty"`
	PriceLine  *surface.AnnotationSpec `json:"priceLine,omitempty"`
	Margins    *surface.ScaleMargins   `json:"margins,omitempty"`
	Visible    *bool                   `json:"visible,omitempty"`
	Range      *surface.LogicalRange   `json:"range,omitempty"`
	Status     any                     `json:"status,omitempty"`
}

// RemoteSurface forwards drawing operations to a browser as commands. It
// keeps track of live handles so that, like a real charting library, it
// rejects operations on series that were already removed.
type RemoteSurface struct {
	mu     sync.Mutex
	nextID int
	series map[surface.SeriesRef]map[surface.AnnotationRef]struct{}
	send   func(Command) error
}

var _ surface.Surface = (*RemoteSurface)(nil)

// NewRemoteSurface creates a surface that delivers commands through send
func NewRemoteSurface(send func(Command) error) *RemoteSurface {
	return &RemoteSurface{
		series: make(map[surface.SeriesRef]map[surface.AnnotationRef]struct{}),
		send:   send,
	}
}

func (r *RemoteSurface) id(prefix string) string {
	r.nextID++
	return fmt.Sprintf("%s%d", prefix, r.nextID)
}

func (r *RemoteSurface) known(ref surface.SeriesRef) error {
	if _, ok := r.series[ref]; !ok {
		return fmt.Errorf("%w: %s", surface.ErrSeriesRemoved, ref)
	}
	return nil
}

func (r *RemoteSurface) AddSeries(pane surface.PaneID, kind surface.SeriesKind, opts surface.SeriesOptions) (surface.SeriesRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref := surface.SeriesRef(r.id("s"))
	if err := r.send(Command{Op: "addSeries", Series: ref, Pane: pane, Kind: kind, Options: &opts}); err != nil {
		return "", err
	}
	r.series[ref] = make(map[surface.AnnotationRef]struct{})
	return ref, nil
}

func (r *RemoteSurface) ApplyOptions(ref surface.SeriesRef, opts surface.SeriesOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.known(ref); err != nil {
		return err
	}
	return r.send(Command{Op: "applyOptions", Series: ref, Options: &opts})
}

func (r *RemoteSurface) SetLineData(ref surface.SeriesRef, data []core.DataPoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.known(ref); err != nil {
		return err
	}
	if data == nil {
		data = []core.DataPoint{}
	}
	return r.send(Command{Op: "setData", Series: ref, Line: data})
}

func (r *RemoteSurface) SetCandleData(ref surface.SeriesRef, candles []core.Candle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.known(ref); err != nil {
		return err
	}
	return r.send(Command{Op: "setData", Series: ref, Candles: candles})
}

func (r *RemoteSurface) RemoveSeries(ref surface.SeriesRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.known(ref); err != nil {
		return err
	}
	delete(r.series, ref)
	return r.send(Command{Op: "removeSeries", Series: ref})
}

func (r *RemoteSurface) CreatePriceLine(ref surface.SeriesRef, spec surface.AnnotationSpec) (surface.AnnotationRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.known(ref); err != nil {
		return "", err
	}

	ann := surface.AnnotationRef(r.id("a"))
	if err := r.send(Command{Op: "createPriceLine", Series: ref, Annotation: ann, PriceLine: &spec}); err != nil {
		return "", err
	}
	r.series[ref][ann] = struct{}{}
	return ann, nil
}

func (r *RemoteSurface) RemovePriceLine(ref surface.SeriesRef, ann surface.AnnotationRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.known(ref); err != nil {
		return err
	}
	if _, ok := r.series[ref][ann]; !ok {
		return fmt.Errorf("%w: %s", surface.ErrAnnotationRemoved, ann)
	}
	delete(r.series[ref], ann)
	return r.send(Command{Op: "removePriceLine", Series: ref, Annotation: ann})
}

func (r *RemoteSurface) ConfigureScale(pane surface.PaneID, axis surface.AxisID, margins surface.ScaleMargins, visible bool) error {
	return r.send(Command{Op: "configureScale", Pane: pane, Axis: axis, Margins: &margins, Visible: &visible})
}

func (r *RemoteSurface) SetVisibleRange(pane surface.PaneID, lr surface.LogicalRange) error {
	return r.send(Command{Op: "setVisibleRange", Pane: pane, Range: &lr})
}
