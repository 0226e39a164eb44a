package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/raykavin/tradedash/pkg/chart"
	"github.com/raykavin/tradedash/pkg/core"
	"github.com/raykavin/tradedash/pkg/marketdata"
	"github.com/raykavin/tradedash/pkg/risk"
	"github.com/samber/lo"
)

const (
	maxRiskBody   = 16 << 10
	signalTimeout = 15 * time.Second
)

// handleHealth reports unavailable when connected sessions stopped receiving updates
func (d *Dashboard) handleHealth(w http.ResponseWriter, _ *http.Request) {
	last, active := d.lastActivity()
	if active && time.Since(last) > HealthWindow {
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, err := w.Write([]byte(last.UTC().Format(time.RFC3339))); err != nil {
			d.log.WithError(err).Error("Failed to write health status")
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

type familyView struct {
	Name    string
	Label   string
	Overlay bool
}

// handleIndex renders the dashboard page
func (d *Dashboard) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	families := lo.Map(d.families, func(f chart.Family, _ int) familyView {
		return familyView{Name: f.Name, Label: f.Label, Overlay: f.Overlay()}
	})

	w.Header().Set("Content-Type", "text/html")
	err := d.indexHTML.Execute(w, map[string]any{
		"symbol":    d.defaultSymbol,
		"interval":  d.defaultInterval,
		"intervals": core.Intervals,
		"families":  families,
	})

	if err != nil {
		d.log.WithError(err).Error("Template execution failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// handleScript serves the transpiled renderer
func (d *Dashboard) handleScript(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/javascript")
	if _, err := io.WriteString(w, d.scriptContent); err != nil {
		d.log.WithError(err).Error("Failed to write chart script")
	}
}

type errorResponse struct {
	ErrorMessage string `json:"errorMessage"`
}

// handleRisk runs the position size calculator
func (d *Dashboard) handleRisk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{ErrorMessage: "Method not allowed."})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRiskBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{ErrorMessage: "Failed to read request body."})
		return
	}

	in, err := risk.ParseRequest(body)
	if err == nil {
		var result risk.Result
		result, err = risk.Calculate(in)
		if err == nil {
			writeJSON(w, http.StatusOK, result.Summary())
			return
		}
	}

	if errors.Is(err, risk.ErrInvalidInput) {
		writeJSON(w, http.StatusBadRequest, errorResponse{ErrorMessage: riskMessage(err)})
		return
	}

	d.log.WithError(err).Error("risk calculation failed")
	writeJSON(w, http.StatusInternalServerError, errorResponse{ErrorMessage: "Unexpected server error."})
}

// handleSignal reports the analysis service's verdict for a selection.
// Failures keep the signal shape so the panel can always render it.
func (d *Dashboard) handleSignal(w http.ResponseWriter, r *http.Request) {
	if d.analyzer == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{ErrorMessage: "Signal analysis is not configured."})
		return
	}

	sel, err := core.ParseSelection(r.URL.Query().Get("symbol"), r.URL.Query().Get("interval"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{ErrorMessage: "Symbol and interval are required."})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), signalTimeout)
	defer cancel()

	signal, err := d.analyzer.Signal(ctx, sel)
	if err != nil {
		d.log.WithError(err).WithField("selection", sel.String()).Warn("signal analysis failed")
		writeJSON(w, http.StatusBadGateway, marketdata.Signal{
			Signal:  marketdata.SignalError,
			Summary: err.Error(),
			Details: map[string]any{},
		})
		return
	}

	writeJSON(w, http.StatusOK, signal)
}

// riskMessage strips the sentinel prefix from a validation error
func riskMessage(err error) string {
	return strings.TrimPrefix(err.Error(), risk.ErrInvalidInput.Error()+": ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
