// Package escalation re-evaluates active alerts and raises their severity
// when independent rule families say the situation has worsened.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boxpulse/retention/internal/store"
	"github.com/boxpulse/retention/pkg/models"
)

// EventPublisher receives escalation notifications. Best-effort.
type EventPublisher interface {
	AlertEscalated(ctx context.Context, alert models.Alert, esc models.Escalation) error
}

// Config represents escalation engine configuration.
type Config struct {
	// Minimum interval between auto-escalations of the same alert.
	CoolDown time.Duration `yaml:"cool_down"`
}

// DefaultConfig returns default escalation engine configuration.
func DefaultConfig() Config {
	return Config{CoolDown: 24 * time.Hour}
}

// EngineMetrics tracks escalation activity across sweeps.
type EngineMetrics struct {
	AutoEscalations   int64            `json:"auto_escalations"`
	ManualEscalations int64            `json:"manual_escalations"`
	ByRule            map[string]int64 `json:"by_rule"`
	LastSweep         time.Time        `json:"last_sweep"`
	mu                sync.Mutex
}

// Engine runs escalation sweeps over active alerts.
type Engine struct {
	config    Config
	rules     []Rule
	members   store.MemberStore
	retention store.RetentionStore
	publisher EventPublisher
	metrics   *EngineMetrics
	now       func() time.Time
}

// NewEngine creates a new escalation engine. The publisher is optional.
func NewEngine(config Config, members store.MemberStore, retention store.RetentionStore, publisher EventPublisher) *Engine {
	if config.CoolDown <= 0 {
		config.CoolDown = DefaultConfig().CoolDown
	}
	return &Engine{
		config:    config,
		rules:     DefaultRules(),
		members:   members,
		retention: retention,
		publisher: publisher,
		metrics: &EngineMetrics{
			ByRule: make(map[string]int64),
		},
		now: time.Now,
	}
}

// SweepBox evaluates every active alert in a box against the rule families.
// Critical alerts and alerts inside the cool-down window are skipped. Each
// alert escalates at most once per sweep; per-alert failures are counted and
// never abort the sweep.
func (e *Engine) SweepBox(ctx context.Context, boxID string) (models.SweepSummary, error) {
	alerts, err := e.retention.ListActiveAlerts(ctx, boxID)
	if err != nil {
		return models.SweepSummary{}, fmt.Errorf("failed to list active alerts for box %s: %w", boxID, err)
	}

	now := e.now().UTC()
	summary := models.SweepSummary{}
	escalations := 0

	for _, alert := range alerts {
		if alert.Severity == models.SeverityCritical {
			continue
		}
		if alert.LastAutoEscalatedAt != nil && now.Sub(*alert.LastAutoEscalatedAt) < e.config.CoolDown {
			continue
		}
		summary.Total++

		escalated, err := e.evaluate(ctx, alert, now)
		if err != nil {
			log.Printf("Failed to evaluate escalation for alert %s: %v", alert.ID, err)
			summary.Failed++
			continue
		}
		summary.Successful++
		if escalated {
			escalations++
		}
	}

	if escalations > 0 {
		log.Printf("Escalated %d of %d eligible alerts in box %s", escalations, summary.Total, boxID)
	}

	e.metrics.mu.Lock()
	e.metrics.LastSweep = now
	e.metrics.mu.Unlock()

	return summary, nil
}

// evaluate runs the rule families for one alert and applies the first match.
func (e *Engine) evaluate(ctx context.Context, alert models.Alert, now time.Time) (bool, error) {
	in := Input{Alert: alert, Now: now}

	if score, err := e.retention.GetRiskScore(ctx, alert.MembershipID); err == nil {
		in.RiskScore = &score
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("failed to get risk score for %s: %w", alert.MembershipID, err)
	}

	lastAttended, err := e.members.LastAttendedAt(ctx, alert.MembershipID)
	if err != nil {
		return false, fmt.Errorf("failed to get last attendance for %s: %w", alert.MembershipID, err)
	}
	in.LastAttendedAt = lastAttended

	for _, rule := range e.rules {
		target, reason, fired := rule.Evaluate(in)
		if !fired {
			continue
		}
		// Rules only ever move severity up. A target at or below the
		// current severity is a rule-table bug, not an escalation.
		if target.Rank() <= alert.Severity.Rank() {
			continue
		}
		if err := e.apply(ctx, alert, target, reason, true, now); err != nil {
			return false, err
		}
		e.recordEscalation(rule.Name, true)
		return true, nil
	}
	return false, nil
}

// EscalateManually raises an alert's severity on behalf of a human. It uses
// the same audit path as auto-escalation but bypasses the cool-down and does
// not consume it.
func (e *Engine) EscalateManually(ctx context.Context, alertID string, target models.AlertSeverity, reason string) (models.Alert, error) {
	alert, err := e.retention.GetAlert(ctx, alertID)
	if err != nil {
		return models.Alert{}, fmt.Errorf("failed to get alert %s: %w", alertID, err)
	}
	if alert.Status != models.StatusActive {
		return models.Alert{}, fmt.Errorf("alert %s is not active", alertID)
	}
	if target.Rank() <= alert.Severity.Rank() {
		return models.Alert{}, fmt.Errorf("severity can only increase: %s -> %s", alert.Severity, target)
	}

	now := e.now().UTC()
	if reason == "" {
		reason = "manual: severity raised by coach"
	}
	if err := e.apply(ctx, alert, target, reason, false, now); err != nil {
		return models.Alert{}, err
	}
	e.recordEscalation("manual", false)

	return e.retention.GetAlert(ctx, alertID)
}

// apply records the escalation and mutates the alert. The audit row is
// written first so a failed alert update leaves evidence of the attempt.
func (e *Engine) apply(ctx context.Context, alert models.Alert, target models.AlertSeverity, reason string, auto bool, now time.Time) error {
	esc := models.Escalation{
		ID:            uuid.New().String(),
		AlertID:       alert.ID,
		BoxID:         alert.BoxID,
		MembershipID:  alert.MembershipID,
		FromSeverity:  alert.Severity,
		ToSeverity:    target,
		Reason:        reason,
		AutoEscalated: auto,
		EscalatedAt:   now,
	}
	if err := e.retention.AppendEscalation(ctx, esc); err != nil {
		return fmt.Errorf("failed to record escalation for alert %s: %w", alert.ID, err)
	}

	alert.Severity = target
	alert.UpdatedAt = now
	if auto {
		escalatedAt := now
		alert.LastAutoEscalatedAt = &escalatedAt
	}
	if err := e.retention.UpdateAlert(ctx, alert); err != nil {
		return fmt.Errorf("failed to update alert %s after escalation: %w", alert.ID, err)
	}

	if e.publisher != nil {
		if err := e.publisher.AlertEscalated(ctx, alert, esc); err != nil {
			log.Printf("Failed to publish escalation event for alert %s: %v", alert.ID, err)
		}
	}
	return nil
}

// GetMetrics returns a copy of the engine metrics.
func (e *Engine) GetMetrics() EngineMetrics {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()
	out := EngineMetrics{
		AutoEscalations:   e.metrics.AutoEscalations,
		ManualEscalations: e.metrics.ManualEscalations,
		LastSweep:         e.metrics.LastSweep,
		ByRule:            make(map[string]int64, len(e.metrics.ByRule)),
	}
	for name, n := range e.metrics.ByRule {
		out.ByRule[name] = n
	}
	return out
}

func (e *Engine) recordEscalation(rule string, auto bool) {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()
	if auto {
		e.metrics.AutoEscalations++
	} else {
		e.metrics.ManualEscalations++
	}
	e.metrics.ByRule[rule]++
}
