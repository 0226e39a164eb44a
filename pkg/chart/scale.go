package chart

import (
	"github.com/raykavin/tradedash/pkg/surface"
)

// DefaultAxis receives every group that finds both axes taken by others
const DefaultAxis = surface.LeftAxis

// Axes lists the physical value axes of the indicator pane
var Axes = []surface.AxisID{surface.LeftAxis, surface.RightAxis}

// ScaleAllocator assigns indicator groups to one of the two value axes.
// Assignments are rebuilt on every reconciliation pass: call Begin, then
// Allocate for each surviving group in declaration order.
//
// With more than two groups the later ones collapse onto an axis that is
// already in use, so values of different units may share a scale.
type ScaleAllocator struct {
	assigned map[string]surface.AxisID
	order    []string
}

// NewScaleAllocator creates an allocator with both axes free
func NewScaleAllocator() *ScaleAllocator {
	return &ScaleAllocator{assigned: make(map[string]surface.AxisID)}
}

// Begin forgets every assignment so the pass can recompute them from scratch
func (a *ScaleAllocator) Begin() {
	a.assigned = make(map[string]surface.AxisID)
	a.order = a.order[:0]
}

// Allocate returns the axis of group, assigning one if needed: the preferred
// axis when free, else the other axis when free, else DefaultAxis.
func (a *ScaleAllocator) Allocate(group string, preference surface.AxisID) surface.AxisID {
	if axis, ok := a.assigned[group]; ok {
		return axis
	}

	axis := DefaultAxis
	switch {
	case !a.Occupied(preference):
		axis = preference
	case !a.Occupied(otherAxis(preference)):
		axis = otherAxis(preference)
	}

	a.assigned[group] = axis
	a.order = append(a.order, group)
	return axis
}

// Release frees the axis held by group
func (a *ScaleAllocator) Release(group string) {
	if _, ok := a.assigned[group]; !ok {
		return
	}
	delete(a.assigned, group)
	for i, g := range a.order {
		if g == group {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

// Assigned returns the axis currently held by group
func (a *ScaleAllocator) Assigned(group string) (surface.AxisID, bool) {
	axis, ok := a.assigned[group]
	return axis, ok
}

// Occupied reports whether any group holds axis
func (a *ScaleAllocator) Occupied(axis surface.AxisID) bool {
	for _, assigned := range a.assigned {
		if assigned == axis {
			return true
		}
	}
	return false
}

// Groups returns the groups holding an axis in allocation order
func (a *ScaleAllocator) Groups() []string {
	return append([]string(nil), a.order...)
}

// Layout computes the vertical placement of each occupied axis. When both
// axes are in use the left one is stacked above the right one.
func (a *ScaleAllocator) Layout() map[surface.AxisID]surface.ScaleMargins {
	layout := make(map[surface.AxisID]surface.ScaleMargins, len(Axes))

	left, right := a.Occupied(surface.LeftAxis), a.Occupied(surface.RightAxis)
	switch {
	case left && right:
		layout[surface.LeftAxis] = surface.ScaleMargins{Top: 0.05, Bottom: 0.55}
		layout[surface.RightAxis] = surface.ScaleMargins{Top: 0.55, Bottom: 0.05}
	case left:
		layout[surface.LeftAxis] = surface.ScaleMargins{Top: 0.1, Bottom: 0.1}
	case right:
		layout[surface.RightAxis] = surface.ScaleMargins{Top: 0.1, Bottom: 0.1}
	}

	return layout
}

func otherAxis(axis surface.AxisID) surface.AxisID {
	if axis == surface.LeftAxis {
		return surface.RightAxis
	}
	return surface.LeftAxis
}
