package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/raykavin/tradedash/pkg/core"
	"github.com/raykavin/tradedash/pkg/logger"
)

const historicalPath = "/indicators/historical/"

// RESTOption configures a RESTClient
type RESTOption func(*RESTClient)

// WithToken sends a bearer token with every request
func WithToken(token string) RESTOption {
	return func(c *RESTClient) {
		if token != "" {
			c.client.SetAuthToken(token)
		}
	}
}

// WithTimeout bounds every request
func WithTimeout(d time.Duration) RESTOption {
	return func(c *RESTClient) {
		c.client.SetTimeout(d)
	}
}

// WithRetries retries transport errors and 5xx responses
func WithRetries(count int) RESTOption {
	return func(c *RESTClient) {
		c.client.SetRetryCount(count)
	}
}

// RESTClient fetches historical candles and indicators from the market-data API
type RESTClient struct {
	baseURL string
	client  *resty.Client
	log     logger.Logger
}

// NewRESTClient creates a client for the API rooted at baseURL
func NewRESTClient(baseURL string, log logger.Logger, options ...RESTOption) *RESTClient {
	baseURL = strings.TrimRight(baseURL, "/")

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(3*time.Second).
		SetHeader("Accept", "application/json")

	c := &RESTClient{baseURL: baseURL, client: client, log: log}
	for _, option := range options {
		option(c)
	}

	c.client.AddRetryCondition(func(response *resty.Response, err error) bool {
		return err != nil || response.StatusCode() >= http.StatusInternalServerError
	})

	return c
}

// Historical loads up to limit candles with their indicators. The limit is
// clamped to the range the API accepts.
func (c *RESTClient) Historical(ctx context.Context, sel core.Selection, limit int) (Historical, error) {
	limit = ClampLimit(limit)

	response, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":   sel.Symbol,
			"interval": sel.Interval,
			"limit":    strconv.Itoa(limit),
		}).
		Get(historicalPath)
	if err != nil {
		return Historical{}, fmt.Errorf("fetch historical %s: %w", sel, err)
	}

	if response.IsError() {
		if _, decodeErr := DecodeHistorical(response.Body()); errors.Is(decodeErr, ErrRemote) {
			return Historical{}, fmt.Errorf("fetch historical %s: %w", sel, decodeErr)
		}
		return Historical{}, fmt.Errorf("%w: %s for %s", ErrStatus, response.Status(), sel)
	}

	h, err := DecodeHistorical(response.Body())
	if err != nil {
		return Historical{}, fmt.Errorf("fetch historical %s: %w", sel, err)
	}

	c.log.WithFields(map[string]any{
		"selection":  sel.String(),
		"limit":      limit,
		"candles":    len(h.Candles),
		"families":   len(h.Indicators),
		"elapsed_ms": response.Time().Milliseconds(),
	}).Debug("historical data fetched")

	return h, nil
}

// Latest polls the most recent bar. It is used as a live update when the
// stream is unavailable.
func (c *RESTClient) Latest(ctx context.Context, sel core.Selection) (Update, error) {
	h, err := c.Historical(ctx, sel, MinLimit)
	if err != nil {
		return Update{}, err
	}
	if len(h.Candles) == 0 {
		return Update{}, fmt.Errorf("%w: no candles for %s", ErrRemote, sel)
	}

	last := h.Candles[len(h.Candles)-1]
	indicators := make(core.IndicatorSet, len(h.Indicators))
	for family, series := range h.Indicators {
		for _, s := range series {
			for _, p := range s.Points {
				if p.Time == last.Time {
					indicators[family] = append(indicators[family], core.IndicatorSeries{Key: s.Key, Points: []core.Point{p}})
				}
			}
		}
	}

	return Update{Candle: last, Indicators: indicators}, nil
}
