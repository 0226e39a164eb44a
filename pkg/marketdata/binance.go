package marketdata

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/jpillora/backoff"
	"github.com/raykavin/tradedash/pkg/core"
	"github.com/raykavin/tradedash/pkg/indicator"
	"github.com/raykavin/tradedash/pkg/logger"
)

// klineServer opens a kline stream, see binance.WsKlineServe
type klineServer func(symbol, interval string, handler binance.WsKlineHandler,
	errHandler binance.ErrHandler) (doneC, stopC chan struct{}, err error)

// BinanceOption configures a BinanceSource
type BinanceOption func(*BinanceSource)

// WithBinanceClient replaces the REST client, e.g. to target the testnet
func WithBinanceClient(client *binance.Client) BinanceOption {
	return func(b *BinanceSource) {
		b.client = client
	}
}

// WithBinanceMaxFailures stops the stream after n consecutive failed
// connection attempts. Zero retries forever.
func WithBinanceMaxFailures(n int) BinanceOption {
	return func(b *BinanceSource) {
		b.maxFailures = n
	}
}

// BinanceSource reads spot klines straight from Binance. Binance only
// serves prices, so indicator values are derived locally from the klines.
type BinanceSource struct {
	client      *binance.Client
	serve       klineServer
	maxFailures int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	log         logger.Logger
}

// NewBinanceSource creates a source using the public Binance endpoints
func NewBinanceSource(log logger.Logger, options ...BinanceOption) *BinanceSource {
	binance.WebsocketKeepalive = true
	b := &BinanceSource{
		client:     binance.NewClient("", ""),
		serve:      binance.WsKlineServe,
		minBackoff: 100 * time.Millisecond,
		maxBackoff: time.Second,
		log:        log,
	}

	for _, option := range options {
		option(b)
	}

	return b
}

func (b *BinanceSource) Historical(ctx context.Context, sel core.Selection, limit int) (Historical, error) {
	candles, err := b.klines(ctx, sel, ClampLimit(limit))
	if err != nil {
		return Historical{}, err
	}

	return Historical{
		Candles:    candles,
		Timestamps: core.Times(candles),
		Indicators: indicator.Compute(candles),
	}, nil
}

func (b *BinanceSource) klines(ctx context.Context, sel core.Selection, limit int) ([]core.Candle, error) {
	data, err := b.client.NewKlinesService().
		Symbol(sel.Symbol).
		Interval(sel.Interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s: %w", sel, err)
	}

	candles := make([]core.Candle, 0, len(data))
	for i, k := range data {
		c, err := convertKline(*k)
		if err != nil {
			return nil, fmt.Errorf("binance klines %s: %w", sel, err)
		}
		c.Closed = i < len(data)-1
		candles = append(candles, c)
	}
	return candles, nil
}

// Latest returns the current bar, so the source can also back a PollingSource
func (b *BinanceSource) Latest(ctx context.Context, sel core.Selection) (Update, error) {
	candles, err := b.klines(ctx, sel, indicator.Lookback)
	if err != nil {
		return Update{}, err
	}
	if len(candles) == 0 {
		return Update{}, fmt.Errorf("%w: no klines for %s", ErrRemote, sel)
	}

	return Update{Candle: candles[len(candles)-1], Indicators: indicator.Latest(indicator.Compute(candles))}, nil
}

func (b *BinanceSource) Subscribe(ctx context.Context, sel core.Selection) <-chan Event {
	events := make(chan Event, 16)
	retry := &backoff.Backoff{Min: b.minBackoff, Max: b.maxBackoff}

	go func() {
		defer close(events)
		log := b.log.WithField("selection", sel.String())
		failures := 0

		window := indicator.NewWindow(indicator.Lookback)
		if history, err := b.klines(ctx, sel, indicator.Lookback); err != nil {
			log.WithError(err).Warn("failed to seed indicator window")
		} else {
			window.Seed(history)
		}

		for {
			if !send(ctx, events, statusEvent(StatusConnecting, "connecting to binance")) {
				return
			}

			done, stop, err := b.serve(sel.Symbol, sel.Interval, func(event *binance.WsKlineEvent) {
				retry.Reset()
				candle, err := convertWsKline(event.Kline)
				if err != nil {
					log.WithError(err).Debug("skipping malformed kline")
					return
				}
				send(ctx, events, updateEvent(Update{
					Candle:     candle,
					Indicators: window.Push(candle),
				}))
			}, func(err error) {
				log.WithError(err).Warn("binance kline stream error")
				send(ctx, events, statusEvent(StatusError, "binance stream error"))
			})

			if err != nil {
				failures++
				log.WithError(err).WithField("attempt", failures).Warn("binance kline stream connection failed")
				if !send(ctx, events, statusEvent(StatusError, "binance stream unavailable")) {
					return
				}
				if b.maxFailures > 0 && failures >= b.maxFailures {
					log.WithField("attempts", failures).Warn("giving up on binance stream")
					return
				}
				if !sleep(ctx, retry.Duration()) {
					return
				}
				continue
			}

			failures = 0
			send(ctx, events, statusEvent(StatusLive, "live"))

			select {
			case <-ctx.Done():
				close(stop)
				<-done
				return
			case <-done:
				if !sleep(ctx, retry.Duration()) {
					return
				}
			}
		}
	}()

	return events
}

func convertKline(k binance.Kline) (core.Candle, error) {
	return parseCandle(k.OpenTime, false, k.Open, k.High, k.Low, k.Close, k.Volume)
}

func convertWsKline(k binance.WsKline) (core.Candle, error) {
	return parseCandle(k.StartTime, k.IsFinal, k.Open, k.High, k.Low, k.Close, k.Volume)
}

// parseCandle builds a candle from the decimal strings Binance sends
func parseCandle(openTime int64, closed bool, fields ...string) (core.Candle, error) {
	values := make([]float64, len(fields))
	for i, field := range fields {
		value, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return core.Candle{}, fmt.Errorf("invalid kline value %q: %w", field, err)
		}
		values[i] = value
	}

	c := core.Candle{
		Time:   NormalizeTime(float64(openTime)),
		Open:   values[0],
		High:   values[1],
		Low:    values[2],
		Close:  values[3],
		Volume: values[4],
		Closed: closed,
	}
	if !c.Valid() {
		return core.Candle{}, fmt.Errorf("%w: inconsistent kline at %d", ErrMalformed, c.Time)
	}
	return c, nil
}
