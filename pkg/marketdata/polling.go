package marketdata

import (
	"context"
	"time"

	"github.com/raykavin/tradedash/pkg/core"
	"github.com/raykavin/tradedash/pkg/logger"
)

// DefaultPollInterval is used when no interval is configured
const DefaultPollInterval = 5 * time.Second

// Poller fetches the most recent bar of a selection
type Poller interface {
	Latest(ctx context.Context, sel core.Selection) (Update, error)
}

// PollingSource turns a Poller into a live source by asking it on a fixed cadence
type PollingSource struct {
	poller   Poller
	interval time.Duration
	log      logger.Logger
}

// NewPollingSource polls every interval. Non-positive intervals use DefaultPollInterval.
func NewPollingSource(poller Poller, interval time.Duration, log logger.Logger) *PollingSource {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollingSource{poller: poller, interval: interval, log: log}
}

func (p *PollingSource) Subscribe(ctx context.Context, sel core.Selection) <-chan Event {
	events := make(chan Event, 16)

	go func() {
		defer close(events)

		log := p.log.WithField("selection", sel.String())
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		var status Status
		for {
			update, err := p.poller.Latest(ctx, sel)
			if ctx.Err() != nil {
				return
			}

			next := StatusPolling
			if err != nil {
				next = StatusError
				log.WithError(err).Warn("poll failed")
			}

			if next != status {
				status = next
				msg := "polling for updates"
				if err != nil {
					msg = "polling failed, retrying"
				}
				if !send(ctx, events, statusEvent(status, msg)) {
					return
				}
			}

			if err == nil && !send(ctx, events, updateEvent(update)) {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return events
}

// FallbackSource streams from a primary source and switches to a secondary
// one for good when the primary stops on its own, e.g. a WebSocket source
// that gave up after repeated connection failures.
type FallbackSource struct {
	primary   LiveSource
	secondary LiveSource
	log       logger.Logger
}

// NewFallbackSource creates a source that falls back from primary to secondary
func NewFallbackSource(primary, secondary LiveSource, log logger.Logger) *FallbackSource {
	return &FallbackSource{primary: primary, secondary: secondary, log: log}
}

func (f *FallbackSource) Subscribe(ctx context.Context, sel core.Selection) <-chan Event {
	events := make(chan Event, 16)

	go func() {
		defer close(events)

		if !forward(ctx, f.primary.Subscribe(ctx, sel), events) || ctx.Err() != nil {
			return
		}

		f.log.WithField("selection", sel.String()).Warn("live stream unavailable, falling back to polling")
		if !send(ctx, events, statusEvent(StatusPolling, "live stream unavailable, polling for updates")) {
			return
		}

		forward(ctx, f.secondary.Subscribe(ctx, sel), events)
	}()

	return events
}

// forward copies events from src until it is closed. Once ctx is done the
// remaining events are discarded, but src is still drained so its producer
// has stopped when forward returns.
func forward(ctx context.Context, src <-chan Event, dst chan<- Event) bool {
	ok := true
	for ev := range src {
		if ok && !send(ctx, dst, ev) {
			ok = false
		}
	}
	return ok
}
