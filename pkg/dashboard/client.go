package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raykavin/tradedash/pkg/core"
	"github.com/raykavin/tradedash/pkg/logger"
	"github.com/raykavin/tradedash/pkg/marketdata"
	"github.com/raykavin/tradedash/pkg/session"
	"github.com/raykavin/tradedash/pkg/surface"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// clientMessage is a request from the browser
type clientMessage struct {
	Type     string           `json:"type"`
	Symbol   string           `json:"symbol,omitempty"`
	Interval string           `json:"interval,omitempty"`
	Toggles  core.ToggleState `json:"toggles,omitempty"`
	Pane     surface.PaneID   `json:"pane,omitempty"`
	From     float64          `json:"from"`
	To       float64          `json:"to"`
}

// client is one browser connection
type client struct {
	conn *websocket.Conn
	send chan Command
	done chan struct{}
	once sync.Once
	log  logger.Logger
}

func newClient(conn *websocket.Conn, log logger.Logger) *client {
	return &client{
		conn: conn,
		send: make(chan Command, sendBuffer),
		done: make(chan struct{}),
		log:  log,
	}
}

// enqueue blocks until the command is queued or the client is gone
func (c *client) enqueue(cmd Command) error {
	select {
	case c.send <- cmd:
		return nil
	case <-c.done:
		return ErrClientGone
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
	})
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case cmd := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(cmd); err != nil {
				c.log.WithError(err).Warn("failed to send command to browser")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump(s *session.Session) {
	defer func() {
		c.close()
		s.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Error("WebSocket read error")
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.WithError(err).Debug("ignoring malformed browser message")
			continue
		}

		if err := c.dispatch(s, msg); err != nil {
			c.log.WithError(err).WithField("type", msg.Type).Warn("browser request rejected")
			_ = c.enqueue(statusCommand(marketdata.StatusError, err.Error()))
		}
	}
}

func (c *client) dispatch(s *session.Session, msg clientMessage) error {
	switch msg.Type {
	case "select":
		return s.Select(msg.Symbol, msg.Interval)
	case "toggles":
		return s.SetToggles(msg.Toggles)
	case "range":
		if msg.Pane != surface.PricePane && msg.Pane != surface.IndicatorPane {
			return nil
		}
		s.ViewportChanged(msg.Pane, surface.LogicalRange{From: msg.From, To: msg.To})
	default:
		c.log.WithField("type", msg.Type).Debug("ignoring unknown browser message")
	}
	return nil
}

func statusCommand(state marketdata.Status, message string) Command {
	return Command{Op: "status", Status: session.Status{State: state, Message: message}}
}

// handleWebSocket upgrades a browser connection and starts its session
func (d *Dashboard) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.log.WithError(err).Error("Failed to upgrade connection to WebSocket")
		return
	}

	c := newClient(conn, d.log)
	remote := NewRemoteSurface(c.enqueue)

	options := []session.Option{
		session.WithLogger(d.log),
		session.WithFamilies(d.families),
	}
	if d.metrics != nil {
		options = append(options, session.WithMetrics(d.metrics))
	}
	options = append(options, d.sessionOptions...)

	var id string
	options = append(options, session.WithStatusListener(func(st session.Status) {
		d.sessionStatus(id, st)
		_ = c.enqueue(Command{Op: "status", Status: st})
	}))

	s := session.New(d.fetcher, d.live, remote, options...)
	id = s.ID()
	c.log = d.log.WithField("session", s.ID())
	d.addSession(s)
	c.log.WithField("clients", d.Sessions()).Info("dashboard client connected")

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.removeSession(s)
		defer c.close()

		if err := s.Run(context.Background()); err != nil {
			c.log.WithError(err).Warn("session stopped")
		}
		c.log.Info("dashboard client disconnected")
	}()

	go c.writePump()
	go c.readPump(s)

	symbol, interval := r.URL.Query().Get("symbol"), r.URL.Query().Get("interval")
	if symbol == "" || interval == "" {
		symbol, interval = d.defaultSymbol, d.defaultInterval
	}
	if err := s.Select(symbol, interval); err != nil {
		_ = c.enqueue(statusCommand(marketdata.StatusError, err.Error()))
		_ = s.Select(d.defaultSymbol, d.defaultInterval)
	}
}
