package chart

import (
	"errors"
	"slices"

	"github.com/raykavin/tradedash/pkg/core"
	"github.com/raykavin/tradedash/pkg/logger"
	"github.com/raykavin/tradedash/pkg/surface"
	"github.com/raykavin/tradedash/pkg/timeseries"
)

// PriceKey is the registry key of the candlestick series
const PriceKey = "price"

// PassResult summarizes the structural changes made by one pass
type PassResult struct {
	Created int
	Removed int
	Updated int
}

// Changed reports whether the pass created or removed anything
func (p PassResult) Changed() bool {
	return p.Created > 0 || p.Removed > 0
}

// PassObserver is notified after every reconciliation pass
type PassObserver interface {
	ReconcilePass(result PassResult)
}

// ReconcilerOption configures a Reconciler
type ReconcilerOption func(*Reconciler)

// WithFamilies replaces the default family table
func WithFamilies(families []Family) ReconcilerOption {
	return func(r *Reconciler) {
		r.families = families
	}
}

// WithPassObserver installs a hook called after each pass
func WithPassObserver(o PassObserver) ReconcilerOption {
	return func(r *Reconciler) {
		r.observer = o
	}
}

// Reconciler decides, per indicator series, whether it should exist on the
// drawing surface and drives the registry accordingly. Each series moves
// between ABSENT and VISIBLE only; hiding a family tears it down fully.
type Reconciler struct {
	registry *Registry
	scales   *ScaleAllocator
	families []Family
	log      logger.Logger
	observer PassObserver

	appliedLines   map[string][]core.DataPoint
	appliedCandles []core.Candle
	layout         map[surface.AxisID]surface.ScaleMargins
}

// NewReconciler binds a reconciler to a registry
func NewReconciler(registry *Registry, log logger.Logger, options ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		registry:     registry,
		scales:       NewScaleAllocator(),
		families:     DefaultFamilies(),
		log:          log,
		appliedLines: make(map[string][]core.DataPoint),
		layout:       make(map[surface.AxisID]surface.ScaleMargins),
	}

	for _, option := range options {
		option(r)
	}

	return r
}

// Families returns the family table in declaration order
func (r *Reconciler) Families() []Family {
	return r.families
}

// Scales exposes the axis allocator, mainly for inspection
func (r *Reconciler) Scales() *ScaleAllocator {
	return r.scales
}

// Reconcile runs one pass against the merged snapshot and toggle state.
// Running it again with the same input creates and removes nothing.
func (r *Reconciler) Reconcile(snapshot timeseries.Snapshot, toggles core.ToggleState) (PassResult, error) {
	var (
		result PassResult
		errs   []error
	)

	if err := r.reconcilePrice(snapshot.Candles, &result); err != nil {
		errs = append(errs, err)
	}

	r.scales.Begin()
	for _, family := range r.families {
		if err := r.reconcileFamily(family, snapshot, toggles, &result); err != nil {
			errs = append(errs, err)
		}
	}

	if err := r.applyLayout(); err != nil {
		errs = append(errs, err)
	}

	if r.observer != nil {
		r.observer.ReconcilePass(result)
	}

	return result, errors.Join(errs...)
}

// Reset tears down every series and forgets all applied state. The next
// pass starts from ABSENT for every family.
func (r *Reconciler) Reset() error {
	for _, family := range r.families {
		r.scales.Release(family.Name)
	}

	err := r.registry.Clear()
	r.appliedLines = make(map[string][]core.DataPoint)
	r.appliedCandles = nil

	for _, axis := range Axes {
		if _, ok := r.layout[axis]; ok {
			if scaleErr := r.registry.surface.ConfigureScale(surface.IndicatorPane, axis, surface.ScaleMargins{}, false); scaleErr != nil {
				err = errors.Join(err, scaleErr)
			}
		}
	}
	r.layout = make(map[surface.AxisID]surface.ScaleMargins)

	return err
}

func (r *Reconciler) reconcilePrice(candles []core.Candle, result *PassResult) error {
	if len(candles) == 0 {
		if !r.registry.Has(PriceKey) {
			return nil
		}
		r.appliedCandles = nil
		if err := r.registry.Remove(PriceKey); err != nil {
			return err
		}
		result.Removed++
		return nil
	}

	if !r.registry.Has(PriceKey) {
		_, err := r.registry.Ensure(PriceKey, surface.PricePane, surface.CandlestickSeries,
			surface.SeriesOptions{Title: "Price", Axis: surface.RightAxis})
		if err != nil {
			return err
		}
		result.Created++
		r.appliedCandles = nil
	}

	if slices.Equal(r.appliedCandles, candles) {
		return nil
	}

	if err := r.registry.SetCandles(PriceKey, candles); err != nil {
		return err
	}
	r.appliedCandles = slices.Clone(candles)
	result.Updated++
	return nil
}

func (r *Reconciler) reconcileFamily(family Family, snapshot timeseries.Snapshot, toggles core.ToggleState, result *PassResult) error {
	visible := toggles.Visible(family.Name)

	data := make(map[string][]core.DataPoint, len(family.Series))
	anyExists := false
	for _, spec := range family.Series {
		points := core.IndicatorSeries{Key: spec.Key, Points: snapshot.Series[spec.Key]}.Plottable()
		if visible && len(points) > 0 {
			data[spec.Key] = points
			anyExists = true
		}
	}

	axis := family.Axis
	if !family.Overlay() {
		if anyExists {
			axis = r.scales.Allocate(family.Name, family.Axis)
		} else {
			r.scales.Release(family.Name)
		}
	}

	var errs []error
	for _, spec := range family.Series {
		points, shouldExist := data[spec.Key]
		_, exists := r.registry.Get(spec.Key)

		var err error
		switch {
		case shouldExist && !exists:
			err = r.create(family, spec, axis, points)
			if err == nil {
				result.Created++
			}
		case shouldExist && exists:
			var updated bool
			updated, err = r.update(spec, axis, points)
			if updated {
				result.Updated++
			}
		case !shouldExist && exists:
			delete(r.appliedLines, spec.Key)
			err = r.registry.Remove(spec.Key)
			if err == nil {
				result.Removed++
			}
		}

		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (r *Reconciler) create(family Family, spec SeriesSpec, axis surface.AxisID, points []core.DataPoint) error {
	opts := surface.SeriesOptions{
		Title:     spec.Title,
		Color:     spec.Color,
		LineWidth: spec.LineWidth,
		LineStyle: spec.LineStyle,
		Axis:      axis,
	}

	h, err := r.registry.Ensure(spec.Key, family.Pane, spec.Kind, opts)
	if err != nil {
		return err
	}

	if err := h.SetData(points); err != nil {
		return err
	}
	r.appliedLines[spec.Key] = points

	return r.attachAnnotations(spec)
}

// attachAnnotations creates the fixed annotations of spec that the series
// does not carry yet
func (r *Reconciler) attachAnnotations(spec SeriesSpec) error {
	h, ok := r.registry.Get(spec.Key)
	if !ok {
		return nil
	}
	attached := h.Annotations()

	var errs []error
	for _, def := range spec.Annotations {
		subKey := AnnotationKey(spec.Key, def.Purpose)
		if slices.Contains(attached, subKey) {
			continue
		}
		if _, err := r.registry.AttachAnnotation(spec.Key, subKey, def.Spec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Reconciler) update(spec SeriesSpec, axis surface.AxisID, points []core.DataPoint) (bool, error) {
	if err := r.registry.Reassign(spec.Key, axis); err != nil {
		return false, err
	}
	if err := r.attachAnnotations(spec); err != nil {
		return false, err
	}

	if slices.Equal(r.appliedLines[spec.Key], points) {
		return false, nil
	}

	if err := r.registry.SetData(spec.Key, points); err != nil {
		return false, err
	}
	r.appliedLines[spec.Key] = points
	return true, nil
}

func (r *Reconciler) applyLayout() error {
	layout := r.scales.Layout()

	var errs []error
	for _, axis := range Axes {
		margins, want := layout[axis]
		current, have := r.layout[axis]
		if want == have && margins == current {
			continue
		}

		if err := r.registry.surface.ConfigureScale(surface.IndicatorPane, axis, margins, want); err != nil {
			errs = append(errs, err)
			continue
		}

		if want {
			r.layout[axis] = margins
		} else {
			delete(r.layout, axis)
		}
	}

	return errors.Join(errs...)
}
