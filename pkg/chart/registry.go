package chart

import (
	"errors"
	"fmt"
	"sort"

	"github.com/StudioSol/set"
	"github.com/raykavin/tradedash/pkg/core"
	"github.com/raykavin/tradedash/pkg/logger"
	"github.com/raykavin/tradedash/pkg/surface"
)

var (
	ErrUnsortedPoints = errors.New("points are not strictly ascending by time")
	ErrKindMismatch   = errors.New("series kind does not accept this data")
)

// Handle is the registry's record of one drawing-surface series and the
// price lines attached to it. A handle is never reused after removal.
type Handle struct {
	key         string
	ref         surface.SeriesRef
	pane        surface.PaneID
	kind        surface.SeriesKind
	options     surface.SeriesOptions
	annotations map[string]surface.AnnotationRef
	removed     bool
	registry    *Registry
}

func (h *Handle) Key() string                    { return h.key }
func (h *Handle) Ref() surface.SeriesRef         { return h.ref }
func (h *Handle) Pane() surface.PaneID           { return h.pane }
func (h *Handle) Kind() surface.SeriesKind       { return h.kind }
func (h *Handle) Axis() surface.AxisID           { return h.options.Axis }
func (h *Handle) Options() surface.SeriesOptions { return h.options }
func (h *Handle) Removed() bool                  { return h.removed }

// Annotations returns the sub-keys of the attached price lines, sorted
func (h *Handle) Annotations() []string {
	keys := make([]string, 0, len(h.annotations))
	for k := range h.annotations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SetData replaces the line data of the series. Calls on a removed handle
// are ignored with a warning.
func (h *Handle) SetData(points []core.DataPoint) error {
	return h.registry.setLine(h, points)
}

// SetCandles replaces the candle data of a candlestick series
func (h *Handle) SetCandles(candles []core.Candle) error {
	return h.registry.setCandles(h, candles)
}

// Observer receives structural events from the registry
type Observer interface {
	SeriesCreated(key string)
	SeriesRemoved(key string)
}

type nopObserver struct{}

func (nopObserver) SeriesCreated(string) {}
func (nopObserver) SeriesRemoved(string) {}

// Registry owns every series on a drawing surface, keyed by a stable string.
// It is not safe for concurrent use; callers serialize access.
type Registry struct {
	surface  surface.Surface
	log      logger.Logger
	observer Observer
	handles  map[string]*Handle
	order    *set.LinkedHashSetString
}

// NewRegistry creates an empty registry bound to s
func NewRegistry(s surface.Surface, log logger.Logger) *Registry {
	return &Registry{
		surface:  s,
		log:      log,
		observer: nopObserver{},
		handles:  make(map[string]*Handle),
		order:    set.NewLinkedHashSetString(),
	}
}

// SetObserver installs a hook notified on series creation and removal
func (r *Registry) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	r.observer = o
}

// Ensure returns the handle registered under key, creating the series on the
// surface when it does not exist yet. Existing handles are returned as is.
func (r *Registry) Ensure(key string, pane surface.PaneID, kind surface.SeriesKind, opts surface.SeriesOptions) (*Handle, error) {
	if h, ok := r.handles[key]; ok {
		return h, nil
	}

	ref, err := r.surface.AddSeries(pane, kind, opts)
	if err != nil {
		return nil, fmt.Errorf("create series %s: %w", key, err)
	}

	h := &Handle{
		key:         key,
		ref:         ref,
		pane:        pane,
		kind:        kind,
		options:     opts,
		annotations: make(map[string]surface.AnnotationRef),
		registry:    r,
	}
	r.handles[key] = h
	r.order.Add(key)
	r.observer.SeriesCreated(key)

	r.log.WithFields(map[string]any{"series": key, "pane": pane, "axis": opts.Axis}).Debug("series created")
	return h, nil
}

// Get returns the live handle for key
func (r *Registry) Get(key string) (*Handle, bool) {
	h, ok := r.handles[key]
	return h, ok
}

// Has reports whether key has a live handle
func (r *Registry) Has(key string) bool {
	_, ok := r.handles[key]
	return ok
}

// Len returns the number of live handles
func (r *Registry) Len() int {
	return len(r.handles)
}

// Keys returns the live keys in creation order
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.handles))
	for key := range r.order.Iter() {
		keys = append(keys, key)
	}
	return keys
}

// SetData replaces the full line data of the series registered under key.
// Points must be filtered of gaps and strictly ascending by time.
func (r *Registry) SetData(key string, points []core.DataPoint) error {
	h, ok := r.handles[key]
	if !ok {
		r.log.WithField("series", key).Warn("ignoring data for unknown or removed series")
		return nil
	}
	return r.setLine(h, points)
}

// SetCandles replaces the candle data of the series registered under key
func (r *Registry) SetCandles(key string, candles []core.Candle) error {
	h, ok := r.handles[key]
	if !ok {
		r.log.WithField("series", key).Warn("ignoring candles for unknown or removed series")
		return nil
	}
	return r.setCandles(h, candles)
}

// Reassign moves a live series onto another value axis
func (r *Registry) Reassign(key string, axis surface.AxisID) error {
	h, ok := r.handles[key]
	if !ok || h.options.Axis == axis {
		return nil
	}

	opts := h.options
	opts.Axis = axis
	if err := r.surface.ApplyOptions(h.ref, opts); err != nil {
		return r.staleOrError(h, "reassign", err)
	}
	h.options = opts
	return nil
}

// AttachAnnotation creates a price line on the series at key. A previous
// annotation registered under the same sub-key is replaced, never duplicated.
func (r *Registry) AttachAnnotation(key, subKey string, spec surface.AnnotationSpec) (surface.AnnotationRef, error) {
	h, ok := r.handles[key]
	if !ok {
		r.log.WithFields(map[string]any{"series": key, "annotation": subKey}).
			Warn("ignoring annotation for unknown or removed series")
		return "", nil
	}

	if previous, ok := h.annotations[subKey]; ok {
		r.removeAnnotation(h, subKey, previous)
	}

	ann, err := r.surface.CreatePriceLine(h.ref, spec)
	if err != nil {
		return "", r.staleOrError(h, "attach annotation", err)
	}
	h.annotations[subKey] = ann
	return ann, nil
}

// Remove detaches the annotations of key, removes its series from the
// surface and forgets the handle. Unknown keys are a no-op.
func (r *Registry) Remove(key string) error {
	h, ok := r.handles[key]
	if !ok {
		return nil
	}

	for _, subKey := range h.Annotations() {
		r.removeAnnotation(h, subKey, h.annotations[subKey])
	}

	err := r.surface.RemoveSeries(h.ref)
	if errors.Is(err, surface.ErrSeriesRemoved) {
		r.log.WithField("series", key).Warn("series was already removed from the surface")
		err = nil
	}

	h.removed = true
	delete(r.handles, key)
	r.order.Remove(key)
	r.observer.SeriesRemoved(key)

	if err != nil {
		return fmt.Errorf("remove series %s: %w", key, err)
	}

	r.log.WithField("series", key).Debug("series removed")
	return nil
}

// Clear removes every series in creation order
func (r *Registry) Clear() error {
	var errs []error
	for _, key := range r.Keys() {
		if err := r.Remove(key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) removeAnnotation(h *Handle, subKey string, ann surface.AnnotationRef) {
	err := r.surface.RemovePriceLine(h.ref, ann)
	if err != nil && !errors.Is(err, surface.ErrAnnotationRemoved) && !errors.Is(err, surface.ErrSeriesRemoved) {
		r.log.WithError(err).WithField("annotation", subKey).Warn("failed to remove annotation")
	}
	delete(h.annotations, subKey)
}

func (r *Registry) setLine(h *Handle, points []core.DataPoint) error {
	if h.removed {
		r.log.WithField("series", h.key).Warn("ignoring data for removed series handle")
		return nil
	}
	if h.kind == surface.CandlestickSeries {
		return fmt.Errorf("%w: %s is %s", ErrKindMismatch, h.key, h.kind)
	}

	for i := 1; i < len(points); i++ {
		if points[i].Time <= points[i-1].Time {
			return fmt.Errorf("%w: series %s at index %d", ErrUnsortedPoints, h.key, i)
		}
	}

	if err := r.surface.SetLineData(h.ref, points); err != nil {
		return r.staleOrError(h, "set data", err)
	}
	return nil
}

func (r *Registry) setCandles(h *Handle, candles []core.Candle) error {
	if h.removed {
		r.log.WithField("series", h.key).Warn("ignoring candles for removed series handle")
		return nil
	}
	if h.kind != surface.CandlestickSeries {
		return fmt.Errorf("%w: %s is %s", ErrKindMismatch, h.key, h.kind)
	}

	if !core.Series[int64](core.Times(candles)).StrictlyAscending() {
		return fmt.Errorf("%w: candles of %s", ErrUnsortedPoints, h.key)
	}

	if err := r.surface.SetCandleData(h.ref, candles); err != nil {
		return r.staleOrError(h, "set candles", err)
	}
	return nil
}

// staleOrError downgrades surface errors caused by an already removed series
// to a warning.
func (r *Registry) staleOrError(h *Handle, op string, err error) error {
	if errors.Is(err, surface.ErrSeriesRemoved) {
		r.log.WithError(err).WithFields(map[string]any{"series": h.key, "op": op}).
			Warn("drawing surface rejected operation on removed series")
		return nil
	}
	return fmt.Errorf("%s %s: %w", op, h.key, err)
}
