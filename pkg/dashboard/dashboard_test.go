package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"maps"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raykavin/tradedash/pkg/core"
	"github.com/raykavin/tradedash/pkg/logger/zerolog"
	"github.com/raykavin/tradedash/pkg/marketdata"
	"github.com/raykavin/tradedash/pkg/session"
	"github.com/raykavin/tradedash/pkg/surface"
	"github.com/stretchr/testify/require"
)

func newTestDashboard(t *testing.T, options ...Option) (*Dashboard, *httptest.Server) {
	t.Helper()

	sim := marketdata.NewSimulator(time.Hour, zerolog.Nop(), marketdata.WithSeed(1))
	d, err := NewDashboard(sim, nil, zerolog.Nop(), options...)
	require.NoError(t, err)

	server := NewStandardHTTPServer()
	d.RegisterHandlers(server)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		ts.Close()
		d.closeSessions()
	})

	return d, ts
}

func TestDashboard_Index(t *testing.T) {
	_, ts := newTestDashboard(t, WithDefaultSelection("ETHUSDT", "5m"))

	res, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(ts.URL + "/chart.js")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "application/javascript", res.Header.Get("Content-Type"))

	res, err = http.Get(ts.URL + "/missing")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestDashboard_InvalidDefaultSelection(t *testing.T) {
	_, err := NewDashboard(nil, nil, zerolog.Nop(), WithDefaultSelection("BTCUSDT", "3m"))
	require.Error(t, err)
}

func TestDashboard_Risk(t *testing.T) {
	_, ts := newTestDashboard(t)

	body := `{"symbol":"BTCUSDT","accountBalance":"1000","riskPercent":"1","leverage":"10",
		"entryPrice":"50000","stopLossPrice":"49000","takeProfitPrice":"53000","positionSide":"BUY"}`
	res, err := http.Post(ts.URL+"/api/risk", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var summary map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&summary))
	require.Equal(t, "1 : 3.00", summary["riskRewardRatio"])
	require.Equal(t, "~ 45200.00", summary["liquidationPrice"])

	res, err = http.Post(ts.URL+"/api/risk", "application/json", strings.NewReader(`{"symbol":"BTCUSDT"}`))
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	var failure errorResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&failure))
	require.True(t, strings.HasPrefix(failure.ErrorMessage, "Missing required parameters"))

	res, err = http.Get(ts.URL + "/api/risk")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
}

type fixedAnalyzer struct {
	signal marketdata.Signal
	err    error
}

func (a fixedAnalyzer) Signal(context.Context, core.Selection) (marketdata.Signal, error) {
	return a.signal, a.err
}

func getSignal(t *testing.T, url string) (int, marketdata.Signal, errorResponse) {
	t.Helper()
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	var signal marketdata.Signal
	var failure errorResponse
	require.NoError(t, json.Unmarshal(body, &signal))
	require.NoError(t, json.Unmarshal(body, &failure))
	return res.StatusCode, signal, failure
}

func TestDashboard_Signal(t *testing.T) {
	_, ts := newTestDashboard(t)
	status, _, failure := getSignal(t, ts.URL+"/api/signal?symbol=BTCUSDT&interval=1h")
	require.Equal(t, http.StatusNotFound, status)
	require.NotEmpty(t, failure.ErrorMessage)

	_, ts = newTestDashboard(t, WithSignalAnalyzer(fixedAnalyzer{signal: marketdata.Signal{
		Signal:     marketdata.SignalSell,
		Summary:    "Potential SELL",
		Confidence: 0.85,
		Details:    map[string]any{"current_trend": "DOWNTREND"},
	}}))

	status, signal, _ := getSignal(t, ts.URL+"/api/signal?symbol=btcusdt&interval=1h")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, marketdata.SignalSell, signal.Signal)
	require.Equal(t, 0.85, signal.Confidence)
	require.Equal(t, "DOWNTREND", signal.Details["current_trend"])

	status, _, failure = getSignal(t, ts.URL+"/api/signal?symbol=btcusdt")
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "Symbol and interval are required.", failure.ErrorMessage)

	_, ts = newTestDashboard(t, WithSignalAnalyzer(fixedAnalyzer{err: errors.New("analysis service down")}))
	status, signal, _ = getSignal(t, ts.URL+"/api/signal?symbol=BTCUSDT&interval=1h")
	require.Equal(t, http.StatusBadGateway, status)
	require.Equal(t, marketdata.SignalError, signal.Signal)
	require.Zero(t, signal.Confidence)
	require.Contains(t, signal.Summary, "analysis service down")
}

func TestDashboard_Health(t *testing.T) {
	d, ts := newTestDashboard(t)

	res, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	d.started = time.Now().Add(-2 * HealthWindow)
	s := session.New(nil, nil, surface.NewMemory())
	d.addSession(s)
	defer d.removeSession(s)

	res, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(Command) bool) Command {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var cmd Command
		require.NoError(t, conn.ReadJSON(&cmd))
		if match(cmd) {
			return cmd
		}
	}
}

func TestDashboard_WebSocketSession(t *testing.T) {
	d, ts := newTestDashboard(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?symbol=btcusdt&interval=1m"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	add := readUntil(t, conn, func(c Command) bool { return c.Op == "addSeries" })
	require.Equal(t, surface.CandlestickSeries, add.Kind)
	data := readUntil(t, conn, func(c Command) bool { return c.Op == "setData" && c.Series == add.Series })
	require.Len(t, data.Candles, marketdata.DefaultLimit)
	require.Equal(t, 1, d.Sessions())

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "toggles", "toggles": map[string]bool{"rsi": true}}))
	rsi := readUntil(t, conn, func(c Command) bool { return c.Op == "addSeries" && c.Options != nil && c.Options.Title == "RSI(14)" })
	require.Equal(t, surface.IndicatorPane, rsi.Pane)
	readUntil(t, conn, func(c Command) bool { return c.Op == "createPriceLine" && c.Series == rsi.Series })

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "range", "pane": "indicator", "from": 10, "to": 90}))
	moved := readUntil(t, conn, func(c Command) bool { return c.Op == "setVisibleRange" })
	require.Equal(t, surface.PricePane, moved.Pane)
	require.Equal(t, surface.LogicalRange{From: 10, To: 90}, *moved.Range)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "select", "symbol": "ETHUSDT", "interval": "7m"}))
	status := readUntil(t, conn, func(c Command) bool { return c.Op == "status" })
	payload, ok := status.Status.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "error", payload["state"])
	require.Contains(t, payload["message"], "invalid interval")

	conn.Close()
	require.Eventually(t, func() bool { return d.Sessions() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestStandardHTTPServer_Shutdown(t *testing.T) {
	server := NewStandardHTTPServer()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- server.Start(ctx, 0) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

type statusLog struct {
	mu     sync.Mutex
	states map[string][]marketdata.Status
	ended  []string
}

func (l *statusLog) SessionStatus(id string, st session.Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states[id] = append(l.states[id], st.State)
}

func (l *statusLog) SessionEnded(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ended = append(l.ended, id)
}

func (l *statusLog) snapshot() (map[string][]marketdata.Status, []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return maps.Clone(l.states), slices.Clone(l.ended)
}

func TestDashboard_StatusObserverAndReport(t *testing.T) {
	observer := &statusLog{states: make(map[string][]marketdata.Status)}
	sim := marketdata.NewSimulator(time.Hour, zerolog.Nop(), marketdata.WithSeed(1))
	d, err := NewDashboard(sim, sim, zerolog.Nop(), WithStatusObserver(observer))
	require.NoError(t, err)
	require.Empty(t, d.Report())

	server := NewStandardHTTPServer()
	d.RegisterHandlers(server)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()
	defer d.closeSessions()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?symbol=ethusdt&interval=5m"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	status := readUntil(t, conn, func(c Command) bool { return c.Op == "status" })
	payload, ok := status.Status.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "live", payload["state"])

	report := d.Report()
	require.Contains(t, report, "ETHUSDT_5m")
	require.Contains(t, report, "live")

	conn.Close()
	require.Eventually(t, func() bool { return d.Sessions() == 0 }, 5*time.Second, 10*time.Millisecond)

	states, ended := observer.snapshot()
	require.Len(t, states, 1)
	require.Len(t, ended, 1)
	require.Equal(t, []marketdata.Status{marketdata.StatusLive}, states[ended[0]])
	require.Empty(t, d.Report())
}
