// Package dashboard serves the trading dashboard. Each browser connection
// gets its own chart session whose drawing surface is the browser itself,
// reached through JSON commands over a WebSocket.
package dashboard

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/gorilla/websocket"
	"github.com/olekukonko/tablewriter"
	"github.com/raykavin/tradedash/pkg/chart"
	"github.com/raykavin/tradedash/pkg/core"
	"github.com/raykavin/tradedash/pkg/logger"
	"github.com/raykavin/tradedash/pkg/marketdata"
	"github.com/raykavin/tradedash/pkg/session"
	"github.com/samber/lo"
)

// HealthWindow is how long active sessions may go without a live update
// before /health reports the service unavailable
const HealthWindow = 10 * time.Minute

// Static assets embedded in the binary
var (
	//go:embed assets
	staticFiles embed.FS
)

// Metrics is the activity sink of the dashboard and its sessions
type Metrics interface {
	session.Metrics
	SessionOpened()
	SessionClosed()
}

// StatusObserver follows the feed status of every session
type StatusObserver interface {
	SessionStatus(id string, st session.Status)
	SessionEnded(id string)
}

// Option defines a function type for configuring a Dashboard
type Option func(*Dashboard)

// WithPort sets the HTTP server port
func WithPort(port int) Option {
	return func(d *Dashboard) {
		d.port = port
	}
}

// WithDebug disables minification of the renderer script
func WithDebug() Option {
	return func(d *Dashboard) {
		d.debug = true
	}
}

// WithMetrics reports activity to m and serves handler at /metrics
func WithMetrics(m Metrics, handler http.Handler) Option {
	return func(d *Dashboard) {
		d.metrics = m
		d.metricsHandler = handler
	}
}

// WithStatusObserver reports every session status change to o
func WithStatusObserver(o StatusObserver) Option {
	return func(d *Dashboard) {
		d.observer = o
	}
}

// WithDefaultSelection sets the view a new browser starts with
func WithDefaultSelection(symbol, interval string) Option {
	return func(d *Dashboard) {
		d.defaultSymbol, d.defaultInterval = symbol, interval
	}
}

// WithSessionOptions adds options applied to every session
func WithSessionOptions(options ...session.Option) Option {
	return func(d *Dashboard) {
		d.sessionOptions = append(d.sessionOptions, options...)
	}
}

// WithSignalAnalyzer serves trading signals from a at /api/signal
func WithSignalAnalyzer(a marketdata.SignalAnalyzer) Option {
	return func(d *Dashboard) {
		d.analyzer = a
	}
}

// Dashboard hosts the chart sessions of all connected browsers
type Dashboard struct {
	port            int
	debug           bool
	fetcher         marketdata.HistoricalFetcher
	live            marketdata.LiveSource
	log             logger.Logger
	metrics         Metrics
	metricsHandler  http.Handler
	observer        StatusObserver
	analyzer        marketdata.SignalAnalyzer
	defaultSymbol   string
	defaultInterval string
	sessionOptions  []session.Option
	families        []chart.Family

	indexHTML     *template.Template
	scriptContent string
	upgrader      websocket.Upgrader
	started       time.Time

	mu       sync.Mutex
	sessions map[string]*session.Session
	statuses map[string]session.Status
	wg       sync.WaitGroup
}

// NewDashboard creates a dashboard serving data from fetcher and live
func NewDashboard(fetcher marketdata.HistoricalFetcher, live marketdata.LiveSource, log logger.Logger, options ...Option) (*Dashboard, error) {
	d := &Dashboard{
		port:            8080,
		fetcher:         fetcher,
		live:            live,
		log:             log,
		defaultSymbol:   "BTCUSDT",
		defaultInterval: "1m",
		families:        chart.DefaultFamilies(),
		started:         time.Now(),
		sessions:        make(map[string]*session.Session),
		statuses:        make(map[string]session.Status),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	for _, option := range options {
		option(d)
	}

	if _, err := core.ParseSelection(d.defaultSymbol, d.defaultInterval); err != nil {
		return nil, fmt.Errorf("invalid default selection: %w", err)
	}

	var err error
	d.indexHTML, err = template.ParseFS(staticFiles, "assets/index.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse dashboard template: %w", err)
	}

	chartJS, err := staticFiles.ReadFile("assets/js/chart.js")
	if err != nil {
		return nil, fmt.Errorf("failed to read chart.js: %w", err)
	}

	transpiled := api.Transform(string(chartJS), api.TransformOptions{
		Loader:            api.LoaderJS,
		Target:            api.ES2015,
		MinifySyntax:      !d.debug,
		MinifyIdentifiers: !d.debug,
		MinifyWhitespace:  !d.debug,
	})

	if len(transpiled.Errors) > 0 {
		return nil, fmt.Errorf("chart script failed with: %v", transpiled.Errors)
	}

	d.scriptContent = string(transpiled.Code)
	return d, nil
}

// GetPort returns the configured port
func (d *Dashboard) GetPort() int {
	return d.port
}

// RegisterHandlers registers all routes on server
func (d *Dashboard) RegisterHandlers(server HTTPServer) {
	server.RegisterFileServer("/assets/", http.FS(staticFiles))

	server.RegisterHandler("/health", http.HandlerFunc(d.handleHealth))
	server.RegisterHandler("/ws", http.HandlerFunc(d.handleWebSocket))
	server.RegisterHandler("/api/risk", http.HandlerFunc(d.handleRisk))
	server.RegisterHandler("/api/signal", http.HandlerFunc(d.handleSignal))
	server.RegisterHandler("/chart.js", http.HandlerFunc(d.handleScript))
	if d.metricsHandler != nil {
		server.RegisterHandler("/metrics", d.metricsHandler)
	}
	server.RegisterHandler("/", http.HandlerFunc(d.handleIndex))
}

// Serve registers the routes on server and serves until ctx is done. Open
// sessions are closed before it returns.
func (d *Dashboard) Serve(ctx context.Context, server HTTPServer) error {
	d.RegisterHandlers(server)
	d.log.Infof("Dashboard available at http://localhost:%d", d.port)

	err := server.Start(ctx, d.port)
	d.closeSessions()
	return err
}

// Sessions returns the number of connected browsers
func (d *Dashboard) Sessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

func (d *Dashboard) addSession(s *session.Session) {
	d.mu.Lock()
	d.sessions[s.ID()] = s
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.SessionOpened()
	}
}

func (d *Dashboard) removeSession(s *session.Session) {
	d.mu.Lock()
	delete(d.sessions, s.ID())
	delete(d.statuses, s.ID())
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.SessionClosed()
	}
	if d.observer != nil {
		d.observer.SessionEnded(s.ID())
	}
}

func (d *Dashboard) sessionStatus(id string, st session.Status) {
	d.mu.Lock()
	if _, ok := d.sessions[id]; ok {
		d.statuses[id] = st
	}
	d.mu.Unlock()

	if d.observer != nil {
		d.observer.SessionStatus(id, st)
	}
}

// Report renders the connected sessions as a text table. It is empty when
// nobody is connected.
func (d *Dashboard) Report() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.sessions) == 0 {
		return ""
	}

	ids := lo.Keys(d.sessions)
	sort.Strings(ids)

	tableString := &strings.Builder{}
	table := tablewriter.NewWriter(tableString)
	table.SetHeader([]string{"Session", "Selection", "Feed", "Last update"})

	for _, id := range ids {
		st := d.statuses[id]
		last := "-"
		if t := d.sessions[id].LastUpdate(); !t.IsZero() {
			last = t.UTC().Format(time.TimeOnly)
		}
		table.Append([]string{id[:8], st.Selection.String(), string(st.State), last})
	}

	table.Render()
	return tableString.String()
}

func (d *Dashboard) closeSessions() {
	d.mu.Lock()
	sessions := lo.Values(d.sessions)
	d.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	d.wg.Wait()
}

// lastActivity returns the most recent live update across sessions. A
// session that has not received anything yet counts from the dashboard start.
func (d *Dashboard) lastActivity() (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.sessions) == 0 {
		return time.Time{}, false
	}

	last := d.started
	for _, s := range d.sessions {
		if t := s.LastUpdate(); t.After(last) {
			last = t
		}
	}
	return last, true
}
