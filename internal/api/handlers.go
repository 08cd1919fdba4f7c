package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/boxpulse/retention/internal/store"
	"github.com/boxpulse/retention/pkg/models"
)

// Risk score handlers

func (g *Gateway) handleListRiskScores(w http.ResponseWriter, r *http.Request) {
	boxID := mux.Vars(r)["boxId"]

	scores, err := g.deps.Retention.ListRiskScores(r.Context(), boxID)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list risk scores", err.Error())
		return
	}

	writeSuccessResponse(w, scores, &APIMeta{Total: len(scores)})
}

func (g *Gateway) handleGetRiskScore(w http.ResponseWriter, r *http.Request) {
	membershipID := mux.Vars(r)["membershipId"]

	score, err := g.deps.Retention.GetRiskScore(r.Context(), membershipID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErrorResponse(w, http.StatusNotFound, "NOT_FOUND", "No risk score for member", err.Error())
			return
		}
		writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get risk score", err.Error())
		return
	}

	writeSuccessResponse(w, score, nil)
}

func (g *Gateway) handleRecalculateRisk(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	score, err := g.deps.Risk.RecalculateRisk(r.Context(), vars["boxId"], vars["membershipId"])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErrorResponse(w, http.StatusNotFound, "NOT_FOUND", "Membership not found", err.Error())
			return
		}
		writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to recalculate risk", err.Error())
		return
	}

	writeSuccessResponse(w, score, nil)
}

// Alert handlers

func (g *Gateway) handleListActiveAlerts(w http.ResponseWriter, r *http.Request) {
	boxID := mux.Vars(r)["boxId"]

	alerts, err := g.deps.Retention.ListActiveAlerts(r.Context(), boxID)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list alerts", err.Error())
		return
	}

	writeSuccessResponse(w, alerts, &APIMeta{Total: len(alerts)})
}

func (g *Gateway) handleListMemberAlerts(w http.ResponseWriter, r *http.Request) {
	membershipID := mux.Vars(r)["membershipId"]

	alerts, err := g.deps.Retention.ListAlertsForMember(r.Context(), membershipID)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list member alerts", err.Error())
		return
	}

	writeSuccessResponse(w, alerts, &APIMeta{Total: len(alerts)})
}

func (g *Gateway) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	alertID := mux.Vars(r)["id"]

	alert, err := g.deps.Retention.GetAlert(r.Context(), alertID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErrorResponse(w, http.StatusNotFound, "NOT_FOUND", "Alert not found", err.Error())
			return
		}
		writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get alert", err.Error())
		return
	}

	writeSuccessResponse(w, alert, nil)
}

func (g *Gateway) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	g.transitionAlert(w, r, models.StatusAcknowledged)
}

func (g *Gateway) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	g.transitionAlert(w, r, models.StatusResolved)
}

func (g *Gateway) handleSnoozeAlert(w http.ResponseWriter, r *http.Request) {
	g.transitionAlert(w, r, models.StatusSnoozed)
}

// transitionAlert applies a coach-driven lifecycle change. Resolved alerts
// are final; everything else may move between the coach-driven states.
func (g *Gateway) transitionAlert(w http.ResponseWriter, r *http.Request, target models.AlertStatus) {
	alertID := mux.Vars(r)["id"]

	alert, err := g.deps.Retention.GetAlert(r.Context(), alertID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErrorResponse(w, http.StatusNotFound, "NOT_FOUND", "Alert not found", err.Error())
			return
		}
		writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get alert", err.Error())
		return
	}
	if alert.Status == models.StatusResolved {
		writeErrorResponse(w, http.StatusConflict, "INVALID_TRANSITION", "Alert is already resolved", "")
		return
	}

	now := time.Now().UTC()
	alert.Status = target
	alert.UpdatedAt = now
	switch target {
	case models.StatusAcknowledged:
		alert.AcknowledgedAt = &now
	case models.StatusResolved:
		alert.ResolvedAt = &now
	}

	if err := g.deps.Retention.UpdateAlert(r.Context(), alert); err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update alert", err.Error())
		return
	}

	writeSuccessResponse(w, alert, nil)
}

type EscalateAlertRequest struct {
	Severity models.AlertSeverity `json:"severity"`
	Reason   string               `json:"reason,omitempty"`
}

func (g *Gateway) handleEscalateAlert(w http.ResponseWriter, r *http.Request) {
	alertID := mux.Vars(r)["id"]

	var req EscalateAlertRequest
	if err := parseRequestBody(r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to parse request body", err.Error())
		return
	}
	if req.Severity.Rank() == 0 {
		writeErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "Unknown severity", string(req.Severity))
		return
	}

	alert, err := g.deps.Escalation.EscalateManually(r.Context(), alertID, req.Severity, req.Reason)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErrorResponse(w, http.StatusNotFound, "NOT_FOUND", "Alert not found", err.Error())
			return
		}
		writeErrorResponse(w, http.StatusConflict, "ESCALATION_REJECTED", "Failed to escalate alert", err.Error())
		return
	}

	writeSuccessResponse(w, alert, nil)
}

func (g *Gateway) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	alertID := mux.Vars(r)["id"]

	escalations, err := g.deps.Retention.ListEscalationsForAlert(r.Context(), alertID)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list escalations", err.Error())
		return
	}

	writeSuccessResponse(w, escalations, &APIMeta{Total: len(escalations)})
}

// Sweep handlers

// handleRetentionSweep runs the full per-box pipeline in order: risk
// recalculation, alert generation, then escalation.
func (g *Gateway) handleRetentionSweep(w http.ResponseWriter, r *http.Request) {
	boxID := mux.Vars(r)["boxId"]
	ctx := r.Context()

	riskSummary, err := g.deps.Risk.SweepBox(ctx, boxID)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "SWEEP_FAILED", "Risk sweep failed", err.Error())
		return
	}
	alertSummary, err := g.deps.Alerts.SweepBox(ctx, boxID)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "SWEEP_FAILED", "Alert sweep failed", err.Error())
		return
	}
	escalationSummary, err := g.deps.Escalation.SweepBox(ctx, boxID)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "SWEEP_FAILED", "Escalation sweep failed", err.Error())
		return
	}

	writeSuccessResponse(w, map[string]models.SweepSummary{
		"risk":       riskSummary,
		"alerts":     alertSummary,
		"escalation": escalationSummary,
	}, nil)
}

func (g *Gateway) handleOutcomeSweep(w http.ResponseWriter, r *http.Request) {
	summary, err := g.deps.Outcomes.SweepDue(r.Context())
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "SWEEP_FAILED", "Outcome sweep failed", err.Error())
		return
	}

	writeSuccessResponse(w, summary, nil)
}

// Outcome handlers

func (g *Gateway) handleGetOutcome(w http.ResponseWriter, r *http.Request) {
	interventionID := mux.Vars(r)["id"]

	outcome, err := g.deps.Retention.GetOutcome(r.Context(), interventionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErrorResponse(w, http.StatusNotFound, "NOT_FOUND", "No outcome for intervention", err.Error())
			return
		}
		writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get outcome", err.Error())
		return
	}

	writeSuccessResponse(w, outcome, nil)
}

func (g *Gateway) handleMeasureOutcome(w http.ResponseWriter, r *http.Request) {
	interventionID := mux.Vars(r)["id"]

	outcome, err := g.deps.Outcomes.MeasureOutcome(r.Context(), interventionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErrorResponse(w, http.StatusNotFound, "NOT_FOUND", "Intervention not found", err.Error())
			return
		}
		writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to measure outcome", err.Error())
		return
	}

	writeSuccessResponse(w, outcome, nil)
}

// Efficiency handler

func (g *Gateway) handleGetEfficiency(w http.ResponseWriter, r *http.Request) {
	boxID := mux.Vars(r)["boxId"]

	sinceDays := 90
	if v := r.URL.Query().Get("since_days"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			sinceDays = days
		}
	}
	since := time.Now().UTC().AddDate(0, 0, -sinceDays)

	report, err := g.deps.Reporter.BoxEfficiency(r.Context(), boxID, since)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to build efficiency report", err.Error())
		return
	}

	writeSuccessResponse(w, report, nil)
}

// Metrics handler

func (g *Gateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics := map[string]interface{}{
		"gateway": g.GetMetrics(),
	}
	for name, provider := range g.deps.MetricsProviders {
		metrics[name] = provider()
	}

	writeSuccessResponse(w, metrics, nil)
}
