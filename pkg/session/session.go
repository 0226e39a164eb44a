// Package session drives one chart view. A Session owns the series registry,
// the reconciler, the merge layer and the viewport synchronizer, and mutates
// them from a single goroutine. Fetch results, live updates, toggle changes
// and viewport moves all reach that goroutine as events.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/raykavin/tradedash/pkg/chart"
	"github.com/raykavin/tradedash/pkg/core"
	"github.com/raykavin/tradedash/pkg/logger"
	"github.com/raykavin/tradedash/pkg/logger/zerolog"
	"github.com/raykavin/tradedash/pkg/marketdata"
	"github.com/raykavin/tradedash/pkg/surface"
	"github.com/raykavin/tradedash/pkg/timeseries"
	"github.com/raykavin/tradedash/pkg/viewport"
)

// DefaultStaleAfter is how long a live session may go without updates
// before it is reported as stale
const DefaultStaleAfter = 2 * time.Minute

var ErrClosed = errors.New("session closed")

// Status is a user-visible, non-fatal state change of the session
type Status struct {
	Selection core.Selection    `json:"selection"`
	State     marketdata.Status `json:"state"`
	Message   string            `json:"message,omitempty"`
}

// Metrics receives session activity. It is satisfied by internal/metrics.
type Metrics interface {
	chart.Observer
	chart.PassObserver
	UpdateApplied(outcome timeseries.Outcome)
	StaleResponse()
	LiveStatus(status marketdata.Status)
}

type nopMetrics struct{}

func (nopMetrics) SeriesCreated(string)             {}
func (nopMetrics) SeriesRemoved(string)             {}
func (nopMetrics) ReconcilePass(chart.PassResult)   {}
func (nopMetrics) UpdateApplied(timeseries.Outcome) {}
func (nopMetrics) StaleResponse()                   {}
func (nopMetrics) LiveStatus(marketdata.Status)     {}

// Option configures a Session
type Option func(*Session)

// WithLogger sets the session logger
func WithLogger(log logger.Logger) Option {
	return func(s *Session) {
		s.log = log
	}
}

// WithMetrics reports session activity to m
func WithMetrics(m Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithStatusListener is called from the session goroutine on every status change
func WithStatusListener(fn func(Status)) Option {
	return func(s *Session) {
		s.onStatus = fn
	}
}

// WithHistoryLimit sets how many candles are requested on selection
func WithHistoryLimit(limit int) Option {
	return func(s *Session) {
		s.limit = marketdata.ClampLimit(limit)
	}
}

// WithMaxCandles bounds the merged window
func WithMaxCandles(n int) Option {
	return func(s *Session) {
		s.maxCandles = n
	}
}

// WithFamilies replaces the indicator family table
func WithFamilies(families []chart.Family) Option {
	return func(s *Session) {
		s.families = families
	}
}

// WithToggles sets the initial toggle state
func WithToggles(toggles core.ToggleState) Option {
	return func(s *Session) {
		s.toggles = toggles.Clone()
	}
}

// WithViewportOptions configures the viewport synchronizer
func WithViewportOptions(options ...viewport.Option) Option {
	return func(s *Session) {
		s.viewportOptions = append(s.viewportOptions, options...)
	}
}

// WithStaleAfter reports the stream as stale after d without updates. Zero disables it.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Session) {
		s.staleAfter = d
	}
}

// WithForecaster draws the forecast overlay from f while its family is
// toggled on. A new forecast is requested once per bar.
func WithForecaster(f marketdata.Forecaster, req marketdata.ForecastRequest) Option {
	return func(s *Session) {
		s.forecaster = f
		s.forecastReq = req.Clamp()
	}
}

// Session is the controller of one chart view
type Session struct {
	id       string
	fetcher  marketdata.HistoricalFetcher
	live     marketdata.LiveSource
	surface  surface.Surface
	log      logger.Logger
	metrics  Metrics
	onStatus func(Status)

	forecaster  marketdata.Forecaster
	forecastReq marketdata.ForecastRequest

	limit           int
	maxCandles      int
	staleAfter      time.Duration
	families        []chart.Family
	viewportOptions []viewport.Option

	registry   *chart.Registry
	reconciler *chart.Reconciler
	merger     *timeseries.Merger
	viewport   *viewport.Synchronizer

	events    chan event
	done      chan struct{}
	closeOnce sync.Once
	running   atomic.Bool

	lastUpdate atomic.Int64

	// owned by the Run goroutine
	generation uint64
	selection  core.Selection
	toggles    core.ToggleState
	status     Status
	loaded     bool
	pending    []marketdata.Update
	fetchStop  context.CancelFunc
	liveStop   context.CancelFunc
	liveDone   chan struct{}

	forecast     core.IndicatorSet
	forecastFor  int64
	forecastStop context.CancelFunc
}

// New creates a session drawing on target. Run must be called to start it.
func New(fetcher marketdata.HistoricalFetcher, live marketdata.LiveSource, target surface.Surface, options ...Option) *Session {
	s := &Session{
		id:         uuid.NewString(),
		fetcher:    fetcher,
		live:       live,
		surface:    target,
		log:        zerolog.Nop(),
		metrics:    nopMetrics{},
		limit:      marketdata.DefaultLimit,
		maxCandles: timeseries.DefaultCapacity,
		staleAfter: DefaultStaleAfter,
		families:   chart.DefaultFamilies(),
		toggles:    core.ToggleState{},
		events:     make(chan event, 64),
		done:       make(chan struct{}),
	}

	for _, option := range options {
		option(s)
	}

	s.log = s.log.WithField("session", s.id)

	s.registry = chart.NewRegistry(target, s.log)
	s.registry.SetObserver(s.metrics)
	s.reconciler = chart.NewReconciler(s.registry, s.log,
		chart.WithFamilies(s.families),
		chart.WithPassObserver(s.metrics),
	)
	s.merger = timeseries.New(
		timeseries.WithCapacity(s.maxCandles),
		timeseries.WithLogger(s.log),
	)

	viewportOptions := append([]viewport.Option{viewport.WithLogger(s.log)}, s.viewportOptions...)
	s.viewport = viewport.New(s.applyRange, viewportOptions...)

	return s
}

// ID returns the unique session identifier
func (s *Session) ID() string {
	return s.id
}

// LastUpdate returns when a live update was last applied
func (s *Session) LastUpdate() time.Time {
	n := s.lastUpdate.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Select switches the view to symbol/interval. The change is applied
// asynchronously; responses for earlier selections are discarded.
func (s *Session) Select(symbol, interval string) error {
	sel, err := core.ParseSelection(symbol, interval)
	if err != nil {
		return err
	}
	return s.post(selectEvent{selection: sel})
}

// SetToggles replaces the indicator toggle state
func (s *Session) SetToggles(toggles core.ToggleState) error {
	return s.post(togglesEvent{toggles: toggles.Clone()})
}

// ViewportChanged reports a user-driven range change of pane
func (s *Session) ViewportChanged(pane surface.PaneID, r surface.LogicalRange) {
	s.viewport.RangeChanged(pane, r)
}

// Close stops the session. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// Done is closed when the session is closed
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run processes events until ctx is cancelled or Close is called. All chart
// state is mutated from this goroutine only.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("session already running")
	}

	defer s.shutdown()

	var staleTick <-chan time.Time
	if s.staleAfter > 0 {
		ticker := time.NewTicker(s.staleAfter / 2)
		defer ticker.Stop()
		staleTick = ticker.C
	}

	s.log.Debug("session started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case ev := <-s.events:
			s.handle(ctx, ev)
		case <-staleTick:
			s.checkStale()
		}
	}
}

func (s *Session) shutdown() {
	s.Close()
	s.viewport.Close()
	s.stopFetch()
	s.stopForecast()
	s.stopLive()
	s.log.Debug("session stopped")
}

func (s *Session) post(ev event) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	select {
	case s.events <- ev:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// postFrom delivers an event produced by a worker goroutine bound to ctx
func (s *Session) postFrom(ctx context.Context, ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-s.done:
		return false
	}
}

func (s *Session) applyRange(pane surface.PaneID, r surface.LogicalRange) error {
	return s.post(rangeEvent{pane: pane, r: r})
}

func (s *Session) handle(ctx context.Context, ev event) {
	switch e := ev.(type) {
	case selectEvent:
		s.selectView(ctx, e.selection)
	case togglesEvent:
		s.toggles = e.toggles
		s.reconcile("toggles")
		s.refreshForecast(ctx)
	case rangeEvent:
		if err := s.surface.SetVisibleRange(e.pane, e.r); err != nil {
			s.log.WithError(err).WithField("pane", string(e.pane)).Warn("failed to move viewport")
		}
	case historicalEvent:
		s.historicalLoaded(e)
		s.refreshForecast(ctx)
	case liveEvent:
		s.liveReceived(e)
		s.refreshForecast(ctx)
	case forecastEvent:
		s.forecastLoaded(e)
	case liveClosedEvent:
		if e.generation == s.generation {
			s.log.WithField("selection", s.selection.String()).Warn("live source stopped")
		}
	}
}

func (s *Session) selectView(ctx context.Context, sel core.Selection) {
	s.stopFetch()
	s.stopForecast()
	s.stopLive()

	s.generation++
	s.selection = sel
	s.loaded = false
	s.pending = nil
	s.forecast, s.forecastFor = nil, 0
	s.lastUpdate.Store(0)

	if err := s.reconciler.Reset(); err != nil {
		s.log.WithError(err).Warn("failed to tear down previous view")
	}
	s.merger.Reset()

	s.log.WithFields(map[string]any{
		"selection":  sel.String(),
		"generation": s.generation,
	}).Info("selection changed")

	s.startFetch(ctx, sel, s.generation)
	s.startLive(ctx, sel, s.generation)
}

func (s *Session) startFetch(ctx context.Context, sel core.Selection, generation uint64) {
	fetchCtx, cancel := context.WithCancel(ctx)
	s.fetchStop = cancel

	go func() {
		h, err := s.fetcher.Historical(fetchCtx, sel, s.limit)
		s.postFrom(ctx, historicalEvent{generation: generation, selection: sel, data: h, err: err})
	}()
}

func (s *Session) stopFetch() {
	if s.fetchStop != nil {
		s.fetchStop()
		s.fetchStop = nil
	}
}

func (s *Session) startLive(ctx context.Context, sel core.Selection, generation uint64) {
	if s.live == nil {
		return
	}

	liveCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.liveStop, s.liveDone = cancel, done

	source := s.live.Subscribe(liveCtx, sel)
	go func() {
		defer close(done)

		ok := true
		for ev := range source {
			if ok {
				ok = s.postFrom(liveCtx, liveEvent{generation: generation, event: ev})
			}
		}
		if ok {
			s.postFrom(liveCtx, liveClosedEvent{generation: generation})
		}
	}()
}

// stopLive cancels the current subscription and waits until its source has
// closed the channel, so two subscriptions never overlap
func (s *Session) stopLive() {
	if s.liveStop == nil {
		return
	}

	s.liveStop()
	<-s.liveDone
	s.liveStop, s.liveDone = nil, nil
}

func (s *Session) historicalLoaded(e historicalEvent) {
	log := s.log.WithFields(map[string]any{
		"selection":  e.selection.String(),
		"generation": e.generation,
	})

	if e.generation != s.generation {
		s.metrics.StaleResponse()
		log.Debug("discarding stale historical response")
		return
	}
	s.fetchStop = nil

	if e.err != nil {
		if errors.Is(e.err, context.Canceled) {
			return
		}
		log.WithError(e.err).Error("failed to load historical data")
		s.setStatus(marketdata.StatusError, e.err.Error())
		e.data = marketdata.Historical{}
	}

	s.merger.Replace(e.data.Candles, e.data.Indicators)
	s.loaded = true

	for _, update := range s.pending {
		s.metrics.UpdateApplied(s.merger.Apply(update.Candle, update.Indicators))
	}
	s.pending = nil

	log.WithField("candles", s.merger.Len()).Info("historical data loaded")
	s.reconcile("historical")
}

func (s *Session) liveReceived(e liveEvent) {
	if e.generation != s.generation {
		s.metrics.StaleResponse()
		return
	}

	ev := e.event
	if ev.Update == nil {
		s.setStatus(ev.Status, ev.Message)
		return
	}

	s.lastUpdate.Store(time.Now().UnixNano())
	if s.status.State == marketdata.StatusStale {
		s.setStatus(marketdata.StatusLive, "live")
	}

	if !s.loaded {
		s.pending = append(s.pending, *ev.Update)
		if over := len(s.pending) - s.merger.Capacity(); over > 0 {
			s.pending = s.pending[over:]
		}
		return
	}

	outcome := s.merger.Apply(ev.Update.Candle, ev.Update.Indicators)
	s.metrics.UpdateApplied(outcome)
	if outcome == timeseries.Dropped {
		return
	}

	s.reconcile("update")
}

// refreshForecast requests a forecast for the newest bar unless one was
// already requested for it or is in flight
func (s *Session) refreshForecast(ctx context.Context) {
	if s.forecaster == nil || !s.loaded || s.forecastStop != nil {
		return
	}
	if !s.toggles.Visible(marketdata.ForecastFamily) {
		return
	}

	last, ok := s.merger.Last()
	if !ok || last.Time == s.forecastFor {
		return
	}
	s.forecastFor = last.Time

	forecastCtx, cancel := context.WithCancel(ctx)
	s.forecastStop = cancel

	sel, generation, req := s.selection, s.generation, s.forecastReq
	go func() {
		f, err := s.forecaster.Forecast(forecastCtx, sel, req)
		s.postFrom(ctx, forecastEvent{generation: generation, data: f, err: err})
	}()
}

func (s *Session) stopForecast() {
	if s.forecastStop != nil {
		s.forecastStop()
		s.forecastStop = nil
	}
}

func (s *Session) forecastLoaded(e forecastEvent) {
	if e.generation != s.generation {
		s.metrics.StaleResponse()
		return
	}
	s.stopForecast()

	if e.err != nil {
		if !errors.Is(e.err, context.Canceled) {
			s.log.WithError(e.err).WithField("selection", s.selection.String()).Warn("failed to load forecast")
		}
		return
	}

	s.forecast = e.data.Indicators()
	s.reconcile("forecast")
}

func (s *Session) checkStale() {
	if s.status.State != marketdata.StatusLive && s.status.State != marketdata.StatusPolling {
		return
	}

	last := s.LastUpdate()
	if last.IsZero() || time.Since(last) < s.staleAfter {
		return
	}
	s.setStatus(marketdata.StatusStale, "no updates received recently")
}

func (s *Session) setStatus(state marketdata.Status, message string) {
	status := Status{Selection: s.selection, State: state, Message: message}
	if status == s.status {
		return
	}
	s.status = status

	s.metrics.LiveStatus(state)
	s.log.WithFields(map[string]any{
		"selection": s.selection.String(),
		"status":    string(state),
	}).Debug(message)

	if s.onStatus != nil {
		s.onStatus(status)
	}
}

func (s *Session) reconcile(reason string) {
	if s.selection.IsZero() {
		return
	}

	snapshot := s.merger.Snapshot()
	for _, series := range s.forecast[marketdata.ForecastFamily] {
		snapshot.Series[series.Key] = series.Points
	}

	result, err := s.reconciler.Reconcile(snapshot, s.toggles)
	if err != nil {
		s.log.WithError(err).WithField("reason", reason).Warn("reconciliation pass failed")
	}

	if result.Changed() {
		s.log.WithFields(map[string]any{
			"reason":  reason,
			"created": result.Created,
			"removed": result.Removed,
		}).Debug("chart structure changed")
	}
}
