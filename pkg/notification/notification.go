// Package notification alerts operators when dashboard feeds go unhealthy
package notification

import (
	"fmt"
	"sync"

	"github.com/raykavin/tradedash/pkg/logger"
	"github.com/raykavin/tradedash/pkg/marketdata"
	"github.com/raykavin/tradedash/pkg/session"
)

// Notifier delivers a text message
type Notifier interface {
	Notify(text string)
}

// Alerter turns session status transitions into notifications. Only changes
// between healthy and unhealthy feeds are reported.
type Alerter struct {
	mu        sync.Mutex
	notifiers []Notifier
	unhealthy map[string]bool
	log       logger.Logger
}

// NewAlerter creates an alerter sending to every notifier
func NewAlerter(log logger.Logger, notifiers ...Notifier) *Alerter {
	return &Alerter{
		notifiers: notifiers,
		unhealthy: make(map[string]bool),
		log:       log,
	}
}

func healthy(state marketdata.Status) (bool, bool) {
	switch state {
	case marketdata.StatusLive, marketdata.StatusPolling:
		return true, true
	case marketdata.StatusError, marketdata.StatusStale:
		return false, true
	default:
		return false, false
	}
}

// SessionStatus records the status of session id
func (a *Alerter) SessionStatus(id string, st session.Status) {
	ok, known := healthy(st.State)
	if !known {
		return
	}

	a.mu.Lock()
	wasUnhealthy, seen := a.unhealthy[id]
	a.unhealthy[id] = !ok
	a.mu.Unlock()

	var text string
	switch {
	case !ok && !wasUnhealthy:
		text = fmt.Sprintf("⚠️ *%s %s* feed %s: %s", st.Selection.Symbol, st.Selection.Interval, st.State, st.Message)
	case ok && seen && wasUnhealthy:
		text = fmt.Sprintf("✅ *%s %s* feed recovered (%s)", st.Selection.Symbol, st.Selection.Interval, st.State)
	default:
		return
	}

	a.log.WithFields(map[string]any{
		"session":   id,
		"selection": st.Selection.String(),
		"status":    string(st.State),
	}).Info("sending feed alert")

	for _, n := range a.notifiers {
		n.Notify(text)
	}
}

// SessionEnded forgets session id
func (a *Alerter) SessionEnded(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.unhealthy, id)
}
