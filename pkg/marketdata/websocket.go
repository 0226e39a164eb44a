package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/raykavin/tradedash/pkg/core"
	"github.com/raykavin/tradedash/pkg/logger"
)

// WebSocketOption configures a WebSocketSource
type WebSocketOption func(*WebSocketSource)

// WithStreamToken authenticates the stream with a token query parameter
func WithStreamToken(token string) WebSocketOption {
	return func(s *WebSocketSource) {
		s.token = token
	}
}

// WithMaxFailures stops the source after n consecutive failed connection
// attempts. Zero retries forever.
func WithMaxFailures(n int) WebSocketOption {
	return func(s *WebSocketSource) {
		s.maxFailures = n
	}
}

// WithBackoff sets the reconnect delay bounds
func WithBackoff(minDelay, maxDelay time.Duration) WebSocketOption {
	return func(s *WebSocketSource) {
		s.minBackoff, s.maxBackoff = minDelay, maxDelay
	}
}

// WebSocketSource streams kline updates from {base}/ws/klines/{SYMBOL_interval}/
// and reconnects with exponential backoff when the connection drops.
type WebSocketSource struct {
	baseURL     string
	token       string
	dialer      *websocket.Dialer
	maxFailures int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	log         logger.Logger
}

// NewWebSocketSource creates a live source for the stream server at baseURL
func NewWebSocketSource(baseURL string, log logger.Logger, options ...WebSocketOption) *WebSocketSource {
	s := &WebSocketSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
		log:        log,
	}

	for _, option := range options {
		option(s)
	}

	return s
}

// StreamURL returns the address of the stream for sel
func (s *WebSocketSource) StreamURL(sel core.Selection) string {
	u := fmt.Sprintf("%s/ws/klines/%s/", s.baseURL, sel.String())
	if s.token != "" {
		u += "?token=" + url.QueryEscape(s.token)
	}
	return u
}

func (s *WebSocketSource) Subscribe(ctx context.Context, sel core.Selection) <-chan Event {
	events := make(chan Event, 16)

	go func() {
		defer close(events)

		log := s.log.WithField("selection", sel.String())
		retry := &backoff.Backoff{
			Min:    s.minBackoff,
			Max:    s.maxBackoff,
			Factor: 2,
			Jitter: true,
		}
		failures := 0

		for {
			if !send(ctx, events, statusEvent(StatusConnecting, "connecting to live stream")) {
				return
			}

			conn, _, err := s.dialer.DialContext(ctx, s.StreamURL(sel), nil)
			if err != nil {
				if ctx.Err() != nil {
					return
				}

				failures++
				log.WithError(err).WithField("attempt", failures).Warn("live stream connection failed")
				if !send(ctx, events, statusEvent(StatusError, "live stream unavailable")) {
					return
				}
				if s.maxFailures > 0 && failures >= s.maxFailures {
					log.WithField("attempts", failures).Warn("giving up on live stream")
					return
				}
				if !sleep(ctx, retry.Duration()) {
					return
				}
				continue
			}

			failures = 0
			retry.Reset()
			log.Info("live stream connected")

			if !send(ctx, events, statusEvent(StatusLive, "live")) {
				conn.Close()
				return
			}

			err = s.read(ctx, conn, events, log)
			if ctx.Err() != nil {
				return
			}

			log.WithError(err).Warn("live stream disconnected")
			if !send(ctx, events, statusEvent(StatusError, "live stream disconnected, reconnecting")) {
				return
			}
			if !sleep(ctx, retry.Duration()) {
				return
			}
		}
	}()

	return events
}

// read pumps frames until the connection fails or ctx is done
func (s *WebSocketSource) read(ctx context.Context, conn *websocket.Conn, events chan<- Event, log logger.Logger) error {
	stop := make(chan struct{})
	defer close(stop)
	defer conn.Close()

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		update, err := DecodeMessage(message)
		switch {
		case errors.Is(err, ErrRemote):
			log.WithError(err).Warn("live stream reported an error")
			if !send(ctx, events, statusEvent(StatusError, err.Error())) {
				return ctx.Err()
			}
			continue
		case err != nil:
			log.WithError(err).Debug("skipping live frame")
			continue
		}

		if !send(ctx, events, updateEvent(update)) {
			return ctx.Err()
		}
	}
}

// sleep waits for d or until ctx is done. It reports whether the wait completed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
