// Package alerts turns risk scores into coach-facing retention alerts.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boxpulse/retention/internal/store"
	"github.com/boxpulse/retention/pkg/models"
)

// EventPublisher receives alert lifecycle notifications. Publishing is
// best-effort; a broker outage never blocks alert generation.
type EventPublisher interface {
	AlertCreated(ctx context.Context, alert models.Alert) error
	AlertUpdated(ctx context.Context, alert models.Alert) error
}

// Briefer produces an optional natural-language summary for an alert.
type Briefer interface {
	BriefingFor(ctx context.Context, alert models.Alert) (string, error)
}

// Config represents alert generator configuration.
type Config struct {
	InsertBatchSize int           `yaml:"insert_batch_size"`
	BatchPause      time.Duration `yaml:"batch_pause"`
}

// DefaultConfig returns default alert generator configuration.
func DefaultConfig() Config {
	return Config{
		InsertBatchSize: 20,
		BatchPause:      50 * time.Millisecond,
	}
}

// GeneratorMetrics tracks alert generation activity.
type GeneratorMetrics struct {
	AlertsCreated int64                          `json:"alerts_created"`
	AlertsUpdated int64                          `json:"alerts_updated"`
	ByType        map[models.AlertType]int64     `json:"by_type"`
	BySeverity    map[models.AlertSeverity]int64 `json:"by_severity"`
	mu            sync.Mutex
}

// Generator evaluates risk scores against the category catalog and maintains
// the set of active alerts.
type Generator struct {
	config    Config
	catalog   []Category
	members   store.MemberStore
	retention store.RetentionStore
	publisher EventPublisher
	briefer   Briefer
	metrics   *GeneratorMetrics
	rng       *rand.Rand
	rngMu     sync.Mutex
	now       func() time.Time
}

// NewGenerator creates a new alert generator. The publisher and briefer are
// optional; pass nil to disable.
func NewGenerator(config Config, members store.MemberStore, retention store.RetentionStore, publisher EventPublisher, briefer Briefer) *Generator {
	if config.InsertBatchSize <= 0 {
		config.InsertBatchSize = DefaultConfig().InsertBatchSize
	}
	return &Generator{
		config:    config,
		catalog:   DefaultCatalog(),
		members:   members,
		retention: retention,
		publisher: publisher,
		briefer:   briefer,
		metrics: &GeneratorMetrics{
			ByType:     make(map[models.AlertType]int64),
			BySeverity: make(map[models.AlertSeverity]int64),
		},
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
		now: time.Now,
	}
}

type action int

const (
	actionNone action = iota
	actionCreate
	actionUpdate
)

type decision struct {
	action action
	alert  models.Alert
}

// Evaluate runs the category decision table against a single risk score and
// applies the result: create a new alert, refresh an existing one whose
// severity changed, or do nothing. Returns the affected alert, or nil when
// the score produced no change.
func (g *Generator) Evaluate(ctx context.Context, score models.RiskScore) (*models.Alert, error) {
	dec, err := g.decide(ctx, score)
	if err != nil {
		return nil, err
	}
	switch dec.action {
	case actionCreate:
		if err := g.create(ctx, &dec.alert); err != nil {
			return nil, err
		}
		return &dec.alert, nil
	case actionUpdate:
		if err := g.update(ctx, &dec.alert); err != nil {
			return nil, err
		}
		return &dec.alert, nil
	default:
		return nil, nil
	}
}

// decide classifies a risk score without touching the store beyond the
// active-alert lookup. Low-risk members never alert regardless of category
// matches.
func (g *Generator) decide(ctx context.Context, score models.RiskScore) (decision, error) {
	if score.RiskLevel == models.RiskLevelLow {
		return decision{action: actionNone}, nil
	}

	var matched *Category
	var trigger TriggerValue
	for i := range g.catalog {
		if ok, tv := g.catalog[i].Match(score); ok {
			matched = &g.catalog[i]
			trigger = tv
			break
		}
	}
	if matched == nil {
		return decision{action: actionNone}, nil
	}

	severity := models.SeverityForLevel(score.RiskLevel)
	now := g.now().UTC()

	existing, err := g.retention.GetActiveAlert(ctx, score.MembershipID, matched.Type)
	if err == nil {
		if existing.Severity == severity {
			return decision{action: actionNone}, nil
		}
		existing.Severity = severity
		existing.Description = renderDescription(matched.Description, trigger)
		existing.TriggerData = triggerDataFrom(score)
		existing.SuggestedActions = models.SuggestedActions{
			Immediate:    matched.ImmediateActions,
			FollowUpDays: matched.FollowUpDays,
		}
		existing.UpdatedAt = now
		return decision{action: actionUpdate, alert: existing}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return decision{}, fmt.Errorf("failed to look up active alert for %s: %w", score.MembershipID, err)
	}

	alert := models.Alert{
		ID:           uuid.New().String(),
		BoxID:        score.BoxID,
		MembershipID: score.MembershipID,
		Type:         matched.Type,
		Severity:     severity,
		Status:       models.StatusActive,
		Title:        matched.Title,
		Description:  renderDescription(matched.Description, trigger),
		TriggerData:  triggerDataFrom(score),
		SuggestedActions: models.SuggestedActions{
			Immediate:    matched.ImmediateActions,
			FollowUpDays: matched.FollowUpDays,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	return decision{action: actionCreate, alert: alert}, nil
}

func (g *Generator) create(ctx context.Context, alert *models.Alert) error {
	coachID, err := g.assignCoach(ctx, alert.BoxID, alert.Severity)
	if err != nil {
		log.Printf("Failed to assign coach for alert %s: %v", alert.ID, err)
	} else {
		alert.AssignedCoachID = coachID
	}

	if g.briefer != nil && alert.Severity == models.SeverityCritical {
		briefing, err := g.briefer.BriefingFor(ctx, *alert)
		if err != nil {
			log.Printf("Failed to build briefing for alert %s: %v", alert.ID, err)
		} else {
			alert.Briefing = briefing
		}
	}

	if err := g.retention.CreateAlert(ctx, *alert); err != nil {
		// A concurrent sweep won the race for this (member, type) pair.
		// Re-read the winner and fall through to the update path.
		if errors.Is(err, store.ErrDuplicateActiveAlert) {
			existing, getErr := g.retention.GetActiveAlert(ctx, alert.MembershipID, alert.Type)
			if getErr != nil {
				return fmt.Errorf("failed to reload alert after duplicate insert: %w", getErr)
			}
			if existing.Severity == alert.Severity {
				*alert = existing
				return nil
			}
			existing.Severity = alert.Severity
			existing.Description = alert.Description
			existing.TriggerData = alert.TriggerData
			existing.SuggestedActions = alert.SuggestedActions
			existing.UpdatedAt = g.now().UTC()
			*alert = existing
			return g.update(ctx, alert)
		}
		return fmt.Errorf("failed to create alert for %s: %w", alert.MembershipID, err)
	}

	g.recordAlert(*alert, true)
	if g.publisher != nil {
		if err := g.publisher.AlertCreated(ctx, *alert); err != nil {
			log.Printf("Failed to publish alert created event for %s: %v", alert.ID, err)
		}
	}
	return nil
}

func (g *Generator) update(ctx context.Context, alert *models.Alert) error {
	if err := g.retention.UpdateAlert(ctx, *alert); err != nil {
		return fmt.Errorf("failed to update alert %s: %w", alert.ID, err)
	}
	g.recordAlert(*alert, false)
	if g.publisher != nil {
		if err := g.publisher.AlertUpdated(ctx, *alert); err != nil {
			log.Printf("Failed to publish alert updated event for %s: %v", alert.ID, err)
		}
	}
	return nil
}

// SweepBox evaluates every live risk score in a box. New alerts are inserted
// in fixed-size chunks with a short pause between chunks; severity refreshes
// are applied as they are found. Expired scores are skipped.
func (g *Generator) SweepBox(ctx context.Context, boxID string) (models.SweepSummary, error) {
	scores, err := g.retention.ListRiskScores(ctx, boxID)
	if err != nil {
		return models.SweepSummary{}, fmt.Errorf("failed to list risk scores for box %s: %w", boxID, err)
	}

	now := g.now().UTC()
	var creates []models.Alert
	summary := models.SweepSummary{}

	for _, score := range scores {
		if score.Expired(now) {
			continue
		}
		summary.Total++

		dec, err := g.decide(ctx, score)
		if err != nil {
			log.Printf("Failed to evaluate alerts for member %s: %v", score.MembershipID, err)
			summary.Failed++
			continue
		}
		switch dec.action {
		case actionCreate:
			creates = append(creates, dec.alert)
		case actionUpdate:
			alert := dec.alert
			if err := g.update(ctx, &alert); err != nil {
				log.Printf("Failed to refresh alert for member %s: %v", score.MembershipID, err)
				summary.Failed++
				continue
			}
			summary.Successful++
		default:
			summary.Successful++
		}
	}

	for start := 0; start < len(creates); start += g.config.InsertBatchSize {
		end := start + g.config.InsertBatchSize
		if end > len(creates) {
			end = len(creates)
		}

		for i := start; i < end; i++ {
			alert := creates[i]
			if err := g.create(ctx, &alert); err != nil {
				log.Printf("Failed to create alert for member %s: %v", alert.MembershipID, err)
				summary.Failed++
				continue
			}
			summary.Successful++
		}

		if end < len(creates) && g.config.BatchPause > 0 {
			time.Sleep(g.config.BatchPause)
		}
	}

	return summary, nil
}

// assignCoach picks a coach for a new alert. Critical alerts prefer the
// box's senior staff; everything else gets a uniformly random coach. Returns
// nil when the box has no active coaching staff.
func (g *Generator) assignCoach(ctx context.Context, boxID string, severity models.AlertSeverity) (*string, error) {
	coaches, err := g.members.ListCoaches(ctx, boxID)
	if err != nil {
		return nil, fmt.Errorf("failed to list coaches for box %s: %w", boxID, err)
	}
	if len(coaches) == 0 {
		return nil, nil
	}

	pool := coaches
	if severity == models.SeverityCritical {
		var senior []models.Membership
		for _, c := range coaches {
			if c.Role == models.RoleHeadCoach || c.Role == models.RoleOwner {
				senior = append(senior, c)
			}
		}
		if len(senior) > 0 {
			pool = senior
		}
	}

	g.rngMu.Lock()
	pick := pool[g.rng.Intn(len(pool))]
	g.rngMu.Unlock()
	id := pick.UserID
	return &id, nil
}

// GetMetrics returns a copy of the generator metrics.
func (g *Generator) GetMetrics() GeneratorMetrics {
	g.metrics.mu.Lock()
	defer g.metrics.mu.Unlock()
	out := GeneratorMetrics{
		AlertsCreated: g.metrics.AlertsCreated,
		AlertsUpdated: g.metrics.AlertsUpdated,
		ByType:        make(map[models.AlertType]int64, len(g.metrics.ByType)),
		BySeverity:    make(map[models.AlertSeverity]int64, len(g.metrics.BySeverity)),
	}
	for t, n := range g.metrics.ByType {
		out.ByType[t] = n
	}
	for s, n := range g.metrics.BySeverity {
		out.BySeverity[s] = n
	}
	return out
}

func (g *Generator) recordAlert(alert models.Alert, created bool) {
	g.metrics.mu.Lock()
	defer g.metrics.mu.Unlock()
	if created {
		g.metrics.AlertsCreated++
	} else {
		g.metrics.AlertsUpdated++
	}
	g.metrics.ByType[alert.Type]++
	g.metrics.BySeverity[alert.Severity]++
}

func triggerDataFrom(score models.RiskScore) models.TriggerData {
	return models.TriggerData{
		Version:              models.TriggerDataVersion,
		OverallRiskScore:     score.OverallRiskScore,
		RiskLevel:            score.RiskLevel,
		ChurnProbability:     score.ChurnProbability,
		AttendanceScore:      score.AttendanceScore,
		WellnessScore:        score.WellnessScore,
		PerformanceScore:     score.PerformanceScore,
		EngagementScore:      score.EngagementScore,
		AttendanceTrend:      score.AttendanceTrend,
		WellnessTrend:        score.WellnessTrend,
		PerformanceTrend:     score.PerformanceTrend,
		EngagementTrend:      score.EngagementTrend,
		DaysSinceLastVisit:   score.DaysSinceLastVisit,
		DaysSinceLastCheckin: score.DaysSinceLastCheckin,
		DaysSinceLastPR:      score.DaysSinceLastPR,
		Factors:              score.Factors,
	}
}
