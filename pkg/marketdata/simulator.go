package marketdata

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/raykavin/tradedash/pkg/core"
	"github.com/raykavin/tradedash/pkg/indicator"
	"github.com/raykavin/tradedash/pkg/logger"
)

type simState struct {
	candle core.Candle
	window *indicator.Window
}

// SimulatorOption configures a Simulator
type SimulatorOption func(*Simulator)

// WithSeed makes the random walk reproducible
func WithSeed(seed int64) SimulatorOption {
	return func(s *Simulator) {
		s.rng = rand.New(rand.NewSource(seed))
	}
}

// WithNow replaces the wall clock used to anchor generated history
func WithNow(now func() time.Time) SimulatorOption {
	return func(s *Simulator) {
		s.now = now
	}
}

// Simulator generates a random-walk market for demos and local development.
// The current bar is refreshed on every tick and closed at random, after
// which a new bar starts one interval later.
type Simulator struct {
	mu    sync.Mutex
	rng   *rand.Rand
	tick  time.Duration
	now   func() time.Time
	state map[string]*simState
	log   logger.Logger
}

// NewSimulator creates a simulator emitting one update every tick
func NewSimulator(tick time.Duration, log logger.Logger, options ...SimulatorOption) *Simulator {
	if tick <= 0 {
		tick = time.Second
	}

	s := &Simulator{
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		tick:  tick,
		now:   time.Now,
		state: make(map[string]*simState),
		log:   log,
	}

	for _, option := range options {
		option(s)
	}

	return s
}

func (s *Simulator) Historical(_ context.Context, sel core.Selection, limit int) (Historical, error) {
	period, err := sel.Period()
	if err != nil {
		return Historical{}, err
	}
	limit = ClampLimit(limit)

	s.mu.Lock()
	defer s.mu.Unlock()

	step := int64(period / time.Second)
	end := s.now().Unix() / step * step
	start := end - int64(limit-1)*step

	candles := make([]core.Candle, 0, limit)

	price := 100.0
	for t := start; t <= end; t += step {
		open := price
		price = math.Max(1, price+(s.rng.Float64()-0.5)*2)
		c := core.Candle{
			Time:   t,
			Open:   open,
			Close:  price,
			High:   math.Max(open, price) + s.rng.Float64(),
			Low:    math.Max(0.5, math.Min(open, price)-s.rng.Float64()),
			Volume: s.rng.Float64() * 1000,
			Closed: t < end,
		}
		candles = append(candles, c)
	}

	st := &simState{candle: candles[len(candles)-1], window: indicator.NewWindow(indicator.Lookback)}
	st.window.Seed(candles)
	s.state[sel.String()] = st

	return Historical{Candles: candles, Timestamps: core.Times(candles), Indicators: indicator.Compute(candles)}, nil
}

// Latest returns the next simulated update, so the simulator can also be polled
func (s *Simulator) Latest(_ context.Context, sel core.Selection) (Update, error) {
	return s.next(sel)
}

func (s *Simulator) Subscribe(ctx context.Context, sel core.Selection) <-chan Event {
	events := make(chan Event, 16)

	go func() {
		defer close(events)

		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()

		if !send(ctx, events, statusEvent(StatusLive, "simulated")) {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			update, err := s.next(sel)
			if err != nil {
				s.log.WithError(err).Warn("simulation stopped")
				send(ctx, events, statusEvent(StatusError, err.Error()))
				return
			}
			if !send(ctx, events, updateEvent(update)) {
				return
			}
		}
	}()

	return events
}

func (s *Simulator) next(sel core.Selection) (Update, error) {
	period, err := sel.Period()
	if err != nil {
		return Update{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state[sel.String()]
	if !ok {
		st = s.seed(sel, period)
	}

	c := st.candle
	if c.Closed {
		c = core.Candle{
			Time:  c.Time + int64(period/time.Second),
			Open:  c.Close,
			High:  c.Close,
			Low:   c.Close,
			Close: c.Close,
		}
	}

	c.Close = math.Max(1, c.Close+(s.rng.Float64()-0.5)*2)
	c.High = math.Max(c.High, c.Close)
	c.Low = math.Min(c.Low, c.Close)
	c.Volume += s.rng.Float64() * 10
	c.Closed = s.rng.Intn(10) == 0

	st.candle = c
	return Update{Candle: c, Indicators: st.window.Push(c)}, nil
}

// seed starts a walk at the current bar for a selection that was streamed
// before its history was generated
func (s *Simulator) seed(sel core.Selection, period time.Duration) *simState {
	step := int64(period / time.Second)
	t := s.now().Unix() / step * step
	st := &simState{
		candle: core.Candle{Time: t, Open: 100, High: 100, Low: 100, Close: 100},
		window: indicator.NewWindow(indicator.Lookback),
	}
	s.state[sel.String()] = st
	return st
}
