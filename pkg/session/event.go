package session

import (
	"github.com/raykavin/tradedash/pkg/core"
	"github.com/raykavin/tradedash/pkg/marketdata"
	"github.com/raykavin/tradedash/pkg/surface"
)

// event is anything the session goroutine reacts to
type event interface {
	isEvent()
}

type selectEvent struct {
	selection core.Selection
}

type togglesEvent struct {
	toggles core.ToggleState
}

type rangeEvent struct {
	pane surface.PaneID
	r    surface.LogicalRange
}

// historicalEvent and the live events carry the generation that requested
// them; the session drops any whose generation is no longer current
type historicalEvent struct {
	generation uint64
	selection  core.Selection
	data       marketdata.Historical
	err        error
}

type liveEvent struct {
	generation uint64
	event      marketdata.Event
}

type liveClosedEvent struct {
	generation uint64
}

type forecastEvent struct {
	generation uint64
	data       marketdata.Forecast
	err        error
}

func (selectEvent) isEvent()     {}
func (togglesEvent) isEvent()    {}
func (rangeEvent) isEvent()      {}
func (historicalEvent) isEvent() {}
func (liveEvent) isEvent()       {}
func (liveClosedEvent) isEvent() {}
func (forecastEvent) isEvent()   {}
