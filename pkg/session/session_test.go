package session

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raykavin/tradedash/pkg/core"
	"github.com/raykavin/tradedash/pkg/marketdata"
	"github.com/raykavin/tradedash/pkg/surface"
	"github.com/raykavin/tradedash/pkg/viewport"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func candles(base float64, times ...int64) []core.Candle {
	out := make([]core.Candle, 0, len(times))
	for _, t := range times {
		out = append(out, core.Candle{Time: t, Open: base, High: base + 1, Low: base - 1, Close: base})
	}
	return out
}

func rsiSet(values map[int64]float64) core.IndicatorSet {
	points := make([]core.Point, 0, len(values))
	for t, v := range values {
		points = append(points, core.NewPoint(t, v))
	}
	return core.IndicatorSet{"rsi": {{Key: "rsi_14", Points: points}}}
}

// gatedFetcher answers per symbol and can hold a symbol's response back
type gatedFetcher struct {
	mu    sync.Mutex
	data  map[string]marketdata.Historical
	gates map[string]chan struct{}
	calls atomic.Int32
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{
		data:  make(map[string]marketdata.Historical),
		gates: make(map[string]chan struct{}),
	}
}

func (f *gatedFetcher) set(symbol string, h marketdata.Historical) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[symbol] = h
}

func (f *gatedFetcher) hold(symbol string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gates[symbol] = gate
	return gate
}

func (f *gatedFetcher) Historical(_ context.Context, sel core.Selection, _ int) (marketdata.Historical, error) {
	f.calls.Add(1)

	f.mu.Lock()
	gate := f.gates[sel.Symbol]
	f.mu.Unlock()

	// ignores cancellation on purpose to deliver a late response
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[sel.Symbol], nil
}

// channelSource hands out one channel per subscription and records overlap
type channelSource struct {
	mu       sync.Mutex
	feeds    []chan marketdata.Event
	active   atomic.Int32
	overlaps atomic.Int32
}

func (c *channelSource) Subscribe(ctx context.Context, _ core.Selection) <-chan marketdata.Event {
	if c.active.Add(1) > 1 {
		c.overlaps.Add(1)
	}

	feed := make(chan marketdata.Event)
	out := make(chan marketdata.Event)

	c.mu.Lock()
	c.feeds = append(c.feeds, feed)
	c.mu.Unlock()

	go func() {
		defer close(out)
		defer c.active.Add(-1)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-feed:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

func (c *channelSource) feed(t *testing.T, i int) chan marketdata.Event {
	t.Helper()
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.feeds) > i
	}, waitFor, time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.feeds[i]
}

func (c *channelSource) subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.feeds)
}

func start(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func priceCloses(m *surface.Memory) []float64 {
	price, ok := m.SeriesByTitle("Price")
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(price.Candles))
	for _, c := range price.Candles {
		out = append(out, c.Close)
	}
	return out
}

func TestSession_LoadAndToggle(t *testing.T) {
	fetcher := newGatedFetcher()
	fetcher.set("BTCUSDT", marketdata.Historical{
		Candles:    candles(10, 60, 120, 180),
		Indicators: rsiSet(map[int64]float64{60: 40, 120: 50, 180: 60}),
	})

	mem := surface.NewMemory()
	s := New(fetcher, nil, mem)
	start(t, s)

	require.NoError(t, s.Select("btcusdt", "1m"))
	require.Eventually(t, func() bool { return len(priceCloses(mem)) == 3 }, waitFor, time.Millisecond)
	require.Equal(t, 1, mem.Counters().SeriesCreated)

	require.NoError(t, s.SetToggles(core.ToggleState{"rsi": true}))
	require.Eventually(t, func() bool {
		_, ok := mem.SeriesByTitle("RSI(14)")
		return ok
	}, waitFor, time.Millisecond)
	require.Equal(t, 2, mem.AnnotationCount())

	require.NoError(t, s.SetToggles(core.ToggleState{}))
	require.Eventually(t, func() bool {
		_, ok := mem.SeriesByTitle("RSI(14)")
		return !ok
	}, waitFor, time.Millisecond)
	require.Zero(t, mem.AnnotationCount())
}

func TestSession_SelectValidation(t *testing.T) {
	s := New(newGatedFetcher(), nil, surface.NewMemory())
	require.ErrorIs(t, s.Select("BTCUSDT", "7m"), core.ErrInvalidInterval)
	require.ErrorIs(t, s.Select(" ", "1m"), core.ErrEmptySymbol)

	s.Close()
	for i := 0; i < 50; i++ {
		require.ErrorIs(t, s.Select("BTCUSDT", "1m"), ErrClosed)
		require.ErrorIs(t, s.SetToggles(core.ToggleState{"rsi": true}), ErrClosed)
	}
}

func TestSession_DiscardsStaleHistorical(t *testing.T) {
	fetcher := newGatedFetcher()
	fetcher.set("ETHUSDT", marketdata.Historical{Candles: candles(1, 60, 120)})
	fetcher.set("BTCUSDT", marketdata.Historical{Candles: candles(2, 60, 120, 180)})
	gate := fetcher.hold("ETHUSDT")

	mem := surface.NewMemory()
	s := New(fetcher, nil, mem)
	start(t, s)

	require.NoError(t, s.Select("ETHUSDT", "1m"))
	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, waitFor, time.Millisecond)
	require.NoError(t, s.Select("BTCUSDT", "1m"))
	require.Eventually(t, func() bool { return len(priceCloses(mem)) == 3 }, waitFor, time.Millisecond)

	close(gate)
	require.Never(t, func() bool {
		closes := priceCloses(mem)
		return len(closes) != 3 || closes[0] != 2
	}, 100*time.Millisecond, 5*time.Millisecond)
}

func TestSession_LiveUpdates(t *testing.T) {
	fetcher := newGatedFetcher()
	fetcher.set("BTCUSDT", marketdata.Historical{Candles: candles(10, 60, 120)})
	gate := fetcher.hold("BTCUSDT")

	var statuses []marketdata.Status
	var mu sync.Mutex
	live := &channelSource{}
	mem := surface.NewMemory()

	s := New(fetcher, live, mem, WithStatusListener(func(st Status) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, st.State)
	}))
	start(t, s)

	require.NoError(t, s.Select("BTCUSDT", "1m"))
	feed := live.feed(t, 0)

	// arrives before the history and is applied once it is loaded
	feed <- marketdata.Event{Status: marketdata.StatusLive, Message: "live"}
	feed <- marketdata.Event{Update: &marketdata.Update{Candle: core.Candle{Time: 180, Open: 11, High: 11, Low: 11, Close: 11}}}
	close(gate)

	require.Eventually(t, func() bool {
		closes := priceCloses(mem)
		return len(closes) == 3 && closes[2] == 11
	}, waitFor, time.Millisecond)
	require.False(t, s.LastUpdate().IsZero())

	// stale bar is dropped, same bar overwrites
	feed <- marketdata.Event{Update: &marketdata.Update{Candle: core.Candle{Time: 60, Open: 99, High: 99, Low: 99, Close: 99}}}
	feed <- marketdata.Event{Update: &marketdata.Update{Candle: core.Candle{Time: 180, Open: 12, High: 12, Low: 12, Close: 12}}}

	require.Eventually(t, func() bool {
		closes := priceCloses(mem)
		return len(closes) == 3 && closes[2] == 12
	}, waitFor, time.Millisecond)
	require.Equal(t, 10.0, priceCloses(mem)[0])

	mu.Lock()
	require.Equal(t, []marketdata.Status{marketdata.StatusLive}, statuses)
	mu.Unlock()
}

func TestSession_TearsDownLiveSourceOnReselect(t *testing.T) {
	fetcher := newGatedFetcher()
	live := &channelSource{}
	s := New(fetcher, live, surface.NewMemory())
	start(t, s)

	for _, symbol := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BTCUSDT"} {
		require.NoError(t, s.Select(symbol, "1m"))
	}

	require.Eventually(t, func() bool { return live.subscriptions() == 4 }, waitFor, time.Millisecond)
	require.Zero(t, live.overlaps.Load())
	require.Eventually(t, func() bool { return live.active.Load() == 1 }, waitFor, time.Millisecond)
}

func TestSession_CloseStopsLiveSource(t *testing.T) {
	live := &channelSource{}
	s := New(newGatedFetcher(), live, surface.NewMemory())

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	require.NoError(t, s.Select("BTCUSDT", "1m"))
	live.feed(t, 0)

	s.Close()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("session did not stop")
	}
	require.Zero(t, live.active.Load())
}

func TestSession_ViewportSync(t *testing.T) {
	mem := surface.NewMemory()
	s := New(newGatedFetcher(), nil, mem, WithViewportOptions(viewport.WithDebounce(time.Millisecond)))
	start(t, s)

	s.ViewportChanged(surface.PricePane, surface.LogicalRange{From: 10, To: 50})
	require.Eventually(t, func() bool {
		r, ok := mem.VisibleRange(surface.IndicatorPane)
		return ok && r == surface.LogicalRange{From: 10, To: 50}
	}, waitFor, time.Millisecond)

	_, ok := mem.VisibleRange(surface.PricePane)
	require.False(t, ok)
}

func TestSession_Stale(t *testing.T) {
	fetcher := newGatedFetcher()
	fetcher.set("BTCUSDT", marketdata.Historical{Candles: candles(10, 60)})
	live := &channelSource{}

	stale := make(chan struct{}, 1)
	s := New(fetcher, live, surface.NewMemory(),
		WithStaleAfter(20*time.Millisecond),
		WithStatusListener(func(st Status) {
			if st.State == marketdata.StatusStale {
				select {
				case stale <- struct{}{}:
				default:
				}
			}
		}),
	)
	start(t, s)

	require.NoError(t, s.Select("BTCUSDT", "1m"))
	feed := live.feed(t, 0)
	feed <- marketdata.Event{Status: marketdata.StatusLive}
	feed <- marketdata.Event{Update: &marketdata.Update{Candle: core.Candle{Time: 60, Open: 1, High: 1, Low: 1, Close: 1}}}

	select {
	case <-stale:
	case <-time.After(waitFor):
		t.Fatal("stale status not reported")
	}
}

type failingFetcher struct{}

func (failingFetcher) Historical(context.Context, core.Selection, int) (marketdata.Historical, error) {
	return marketdata.Historical{}, errors.New("backend down")
}

func liveCandle(i int64) *marketdata.Update {
	price := float64(i)
	return &marketdata.Update{Candle: core.Candle{Time: i * 60, Open: price, High: price, Low: price, Close: price}}
}

func TestSession_LiveAfterFailedHistory(t *testing.T) {
	var statuses []marketdata.Status
	var mu sync.Mutex
	live := &channelSource{}
	mem := surface.NewMemory()

	s := New(failingFetcher{}, live, mem, WithMaxCandles(10), WithStatusListener(func(st Status) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, st.State)
	}))
	start(t, s)

	require.NoError(t, s.Select("BTCUSDT", "1m"))
	feed := live.feed(t, 0)
	for i := int64(1); i <= 50; i++ {
		feed <- marketdata.Event{Update: liveCandle(i)}
	}

	require.Eventually(t, func() bool {
		closes := priceCloses(mem)
		return len(closes) == 10 && closes[0] == 41 && closes[9] == 50
	}, waitFor, time.Millisecond)

	mu.Lock()
	require.Contains(t, statuses, marketdata.StatusError)
	mu.Unlock()
}

func TestSession_PendingIsBounded(t *testing.T) {
	s := New(newGatedFetcher(), nil, surface.NewMemory(), WithMaxCandles(10))

	for i := int64(1); i <= 5000; i++ {
		s.liveReceived(liveEvent{generation: s.generation, event: marketdata.Event{Update: liveCandle(i)}})
	}

	require.Len(t, s.pending, 10)
	require.Equal(t, int64(4991*60), s.pending[0].Candle.Time)
	require.Equal(t, int64(5000*60), s.pending[9].Candle.Time)
}

// stepForecaster predicts two bars ahead of the anchor it was asked for
type stepForecaster struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (f *stepForecaster) Forecast(_ context.Context, _ core.Selection, req marketdata.ForecastRequest) (marketdata.Forecast, error) {
	n := f.calls.Add(1)
	if f.fail.Load() {
		return marketdata.Forecast{}, errors.New("model failed")
	}
	if req.Steps != 2 {
		return marketdata.Forecast{}, errors.New("unexpected steps")
	}
	base := float64(n) * 100
	return marketdata.Forecast{Points: []marketdata.ForecastPoint{
		{Time: 1000, Value: base, Lower: base - 1, Upper: base + 1},
		{Time: 1060, Value: base + 1, Lower: math.NaN(), Upper: base + 2},
	}}, nil
}

func forecastLine(m *surface.Memory) []core.DataPoint {
	series, ok := m.SeriesByTitle("Forecast")
	if !ok {
		return nil
	}
	return series.Line
}

func TestSession_ForecastOverlay(t *testing.T) {
	fetcher := newGatedFetcher()
	fetcher.set("BTCUSDT", marketdata.Historical{Candles: candles(10, 60, 120)})

	forecaster := &stepForecaster{}
	live := &channelSource{}
	mem := surface.NewMemory()
	s := New(fetcher, live, mem, WithForecaster(forecaster, marketdata.ForecastRequest{History: 100, Steps: 2}))
	start(t, s)

	require.NoError(t, s.Select("BTCUSDT", "1m"))
	feed := live.feed(t, 0)
	require.Eventually(t, func() bool { return len(priceCloses(mem)) == 2 }, waitFor, time.Millisecond)

	// hidden families are never requested
	require.Never(t, func() bool { return forecaster.calls.Load() > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	require.NoError(t, s.SetToggles(core.ToggleState{"forecast": true}))
	require.Eventually(t, func() bool { return len(forecastLine(mem)) == 2 }, waitFor, time.Millisecond)
	require.Equal(t, 100.0, forecastLine(mem)[0].Value)

	lower, ok := mem.SeriesByTitle("Forecast Lower")
	require.True(t, ok)
	require.Len(t, lower.Line, 1)
	_, ok = mem.SeriesByTitle("Forecast Upper")
	require.True(t, ok)

	// an update of the same bar keeps the forecast, a new bar refreshes it
	feed <- marketdata.Event{Update: &marketdata.Update{Candle: core.Candle{Time: 120, Open: 10, High: 12, Low: 9, Close: 11}}}
	require.Never(t, func() bool { return forecaster.calls.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	feed <- marketdata.Event{Update: &marketdata.Update{Candle: core.Candle{Time: 180, Open: 11, High: 12, Low: 10, Close: 12}}}
	require.Eventually(t, func() bool {
		line := forecastLine(mem)
		return len(line) == 2 && line[0].Value == 200
	}, waitFor, time.Millisecond)

	// a failed refresh keeps the last forecast on the chart
	forecaster.fail.Store(true)
	feed <- marketdata.Event{Update: &marketdata.Update{Candle: core.Candle{Time: 240, Open: 12, High: 13, Low: 11, Close: 12}}}
	require.Eventually(t, func() bool { return forecaster.calls.Load() == 3 }, waitFor, time.Millisecond)
	require.Never(t, func() bool {
		line := forecastLine(mem)
		return len(line) != 2 || line[0].Value != 200
	}, 50*time.Millisecond, 5*time.Millisecond)

	require.NoError(t, s.SetToggles(core.ToggleState{}))
	require.Eventually(t, func() bool { return forecastLine(mem) == nil }, waitFor, time.Millisecond)
}
