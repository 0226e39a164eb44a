// Package marketdata adapts external market-data collaborators to the
// dashboard: a one-shot historical fetch plus a live stream of candle updates.
package marketdata

import (
	"context"
	"errors"

	"github.com/raykavin/tradedash/pkg/core"
)

const (
	MinLimit     = 10
	MaxLimit     = 1500
	DefaultLimit = 1000
)

var (
	ErrUnknownMessage = errors.New("unknown live message")
	ErrRemote         = errors.New("market data error")
	ErrStatus         = errors.New("unexpected response status")
	ErrMalformed      = errors.New("malformed candle")
)

// Status is the state of a live source as shown to the user
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusLive       Status = "live"
	StatusPolling    Status = "polling"
	StatusError      Status = "error"
	StatusStale      Status = "stale"
)

// Historical is the result of a one-shot historical fetch
type Historical struct {
	Candles    []core.Candle
	Timestamps []int64
	Indicators core.IndicatorSet
}

// Update is one incremental change of the current bar
type Update struct {
	Candle     core.Candle
	Indicators core.IndicatorSet
}

// Event is delivered by a live source. Exactly one of Update or Status is set.
type Event struct {
	Update  *Update
	Status  Status
	Message string
}

func updateEvent(u Update) Event {
	return Event{Update: &u}
}

func statusEvent(status Status, message string) Event {
	return Event{Status: status, Message: message}
}

// HistoricalFetcher loads the initial series for a selection
type HistoricalFetcher interface {
	Historical(ctx context.Context, sel core.Selection, limit int) (Historical, error)
}

// LiveSource streams updates for a selection until ctx is cancelled. The
// returned channel is closed once the source has fully stopped.
type LiveSource interface {
	Subscribe(ctx context.Context, sel core.Selection) <-chan Event
}

// ClampLimit bounds a requested history length. Non-positive values get the default.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit < MinLimit:
		return MinLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// send delivers ev unless ctx is done
func send(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
