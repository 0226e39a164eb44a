// Package viewport mirrors the visible logical range between the price pane
// and the indicator pane without feedback loops.
package viewport

import (
	"sync"
	"time"

	"github.com/raykavin/tradedash/pkg/logger"
	"github.com/raykavin/tradedash/pkg/surface"
)

const (
	DefaultDebounce               = 20 * time.Millisecond
	DefaultRelease  time.Duration = 0
)

// ApplyFunc moves the visible range of a pane
type ApplyFunc func(pane surface.PaneID, r surface.LogicalRange) error

// Option configures a Synchronizer
type Option func(*Synchronizer)

// WithDebounce sets how long a pane must be quiet before its range is mirrored
func WithDebounce(d time.Duration) Option {
	return func(s *Synchronizer) {
		s.debounce = d
	}
}

// WithRelease sets how long the guard stays up after a range was mirrored
func WithRelease(d time.Duration) Option {
	return func(s *Synchronizer) {
		s.release = d
	}
}

// WithClock replaces the real clock, mostly for tests
func WithClock(c Clock) Option {
	return func(s *Synchronizer) {
		s.clock = c
	}
}

// WithLogger sets the logger
func WithLogger(log logger.Logger) Option {
	return func(s *Synchronizer) {
		s.log = log
	}
}

// Synchronizer keeps both panes on the same logical range. A change reported
// by one pane is debounced, then applied to the other pane while a guard
// flag is raised; changes reported while the guard is up are ignored, and so
// is the first report that merely echoes a range we applied ourselves.
type Synchronizer struct {
	mu       sync.Mutex
	clock    Clock
	debounce time.Duration
	release  time.Duration
	apply    ApplyFunc
	log      logger.Logger

	syncing bool
	closed  bool
	pending map[surface.PaneID]surface.LogicalRange
	timers  map[surface.PaneID]Timer
	guard   Timer
	echo    map[surface.PaneID]surface.LogicalRange
	current map[surface.PaneID]surface.LogicalRange
}

// New creates a synchronizer that calls apply to move a pane
func New(apply ApplyFunc, options ...Option) *Synchronizer {
	s := &Synchronizer{
		clock:    RealClock,
		debounce: DefaultDebounce,
		release:  DefaultRelease,
		apply:    apply,
		pending:  make(map[surface.PaneID]surface.LogicalRange),
		timers:   make(map[surface.PaneID]Timer),
		echo:     make(map[surface.PaneID]surface.LogicalRange),
		current:  make(map[surface.PaneID]surface.LogicalRange),
	}

	for _, option := range options {
		option(s)
	}

	return s
}

// RangeChanged reports a range change observed on source
func (s *Synchronizer) RangeChanged(source surface.PaneID, r surface.LogicalRange) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if s.syncing {
		s.debug(source, r, "ignoring range change while syncing")
		return
	}

	if echo, ok := s.echo[source]; ok {
		delete(s.echo, source)
		if echo == r {
			s.debug(source, r, "ignoring echoed range change")
			return
		}
	}

	s.pending[source] = r
	if t, ok := s.timers[source]; ok {
		t.Stop()
	}
	s.timers[source] = s.clock.AfterFunc(s.debounce, func() {
		s.flush(source)
	})
}

// Range returns the last range known for pane
func (s *Synchronizer) Range(pane surface.PaneID) (surface.LogicalRange, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.current[pane]
	return r, ok
}

// Syncing reports whether the guard is raised
func (s *Synchronizer) Syncing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncing
}

// Close cancels pending work. Later reports are ignored.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for pane, t := range s.timers {
		t.Stop()
		delete(s.timers, pane)
	}
	if s.guard != nil {
		s.guard.Stop()
	}
	s.pending = make(map[surface.PaneID]surface.LogicalRange)
}

func (s *Synchronizer) flush(source surface.PaneID) {
	s.mu.Lock()

	r, ok := s.pending[source]
	delete(s.pending, source)
	delete(s.timers, source)
	if !ok || s.closed || s.syncing {
		s.mu.Unlock()
		return
	}

	target := source.Other()
	s.current[source] = r
	if current, ok := s.current[target]; ok && current == r {
		s.mu.Unlock()
		return
	}

	// the target is about to be overwritten; its own pending change is moot
	if t, ok := s.timers[target]; ok {
		t.Stop()
		delete(s.timers, target)
		delete(s.pending, target)
	}

	s.syncing = true
	s.echo[target] = r
	s.current[target] = r
	s.mu.Unlock()

	err := s.apply(target, r)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil && s.log != nil {
		s.log.WithError(err).WithField("pane", target).Warn("failed to mirror visible range")
	}

	if s.closed {
		s.syncing = false
		return
	}
	s.guard = s.clock.AfterFunc(s.release, func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	})
}

func (s *Synchronizer) debug(pane surface.PaneID, r surface.LogicalRange, msg string) {
	if s.log == nil {
		return
	}
	s.log.WithFields(map[string]any{"pane": pane, "from": r.From, "to": r.To}).Trace(msg)
}
