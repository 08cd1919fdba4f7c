// Package outcome measures how effective coach interventions were by
// comparing member signals across the intervention date.
package outcome

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boxpulse/retention/internal/signals"
	"github.com/boxpulse/retention/internal/store"
	"github.com/boxpulse/retention/pkg/models"
)

// Weights for the effectiveness score. The PR delta is a small count, so it
// is rescaled x10 before weighting to sit on the same scale as the rates.
const (
	riskWeight       = 0.30
	attendanceWeight = 0.25
	checkinWeight    = 0.20
	wellnessWeight   = 0.15
	prWeight         = 0.10
	prScale          = 10.0

	neutralBaseline = 50.0
)

// EventPublisher receives measured outcome notifications. Best-effort.
type EventPublisher interface {
	OutcomeMeasured(ctx context.Context, outcome models.InterventionOutcome) error
}

// Config represents outcome tracker configuration.
type Config struct {
	// Length of the pre and post comparison windows.
	MeasurementPeriodDays int `yaml:"measurement_period_days"`
	// How long after an intervention before it becomes measurable.
	MeasurementDelayDays int `yaml:"measurement_delay_days"`
}

// DefaultConfig returns default outcome tracker configuration.
func DefaultConfig() Config {
	return Config{
		MeasurementPeriodDays: 30,
		MeasurementDelayDays:  30,
	}
}

// TrackerMetrics tracks measurement activity.
type TrackerMetrics struct {
	OutcomesMeasured   int64                          `json:"outcomes_measured"`
	MeasurementsFailed int64                          `json:"measurements_failed"`
	ByEffectiveness    map[models.Effectiveness]int64 `json:"by_effectiveness"`
	LastMeasurement    time.Time                      `json:"last_measurement"`
	mu                 sync.Mutex
}

// Tracker measures intervention outcomes.
type Tracker struct {
	config     Config
	members    store.MemberStore
	retention  store.RetentionStore
	aggregator *signals.Aggregator
	publisher  EventPublisher
	metrics    *TrackerMetrics
	now        func() time.Time
}

// NewTracker creates a new outcome tracker. The publisher is optional.
func NewTracker(config Config, members store.MemberStore, retention store.RetentionStore, publisher EventPublisher) *Tracker {
	if config.MeasurementPeriodDays <= 0 {
		config.MeasurementPeriodDays = DefaultConfig().MeasurementPeriodDays
	}
	if config.MeasurementDelayDays <= 0 {
		config.MeasurementDelayDays = DefaultConfig().MeasurementDelayDays
	}
	return &Tracker{
		config:     config,
		members:    members,
		retention:  retention,
		aggregator: signals.NewAggregator(members),
		publisher:  publisher,
		metrics: &TrackerMetrics{
			ByEffectiveness: make(map[models.Effectiveness]int64),
		},
		now: time.Now,
	}
}

// MeasureOutcome computes the outcome for one intervention. Measurement is
// write-once: if an outcome already exists for the intervention, the
// existing row is returned unchanged.
func (t *Tracker) MeasureOutcome(ctx context.Context, interventionID string) (models.InterventionOutcome, error) {
	if existing, err := t.retention.GetOutcome(ctx, interventionID); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return models.InterventionOutcome{}, fmt.Errorf("failed to check outcome for intervention %s: %w", interventionID, err)
	}

	intervention, err := t.members.GetIntervention(ctx, interventionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.InterventionOutcome{}, fmt.Errorf("intervention %s: %w", interventionID, store.ErrNotFound)
		}
		return models.InterventionOutcome{}, fmt.Errorf("failed to get intervention %s: %w", interventionID, err)
	}

	period := time.Duration(t.config.MeasurementPeriodDays) * 24 * time.Hour
	day := intervention.InterventionDate.UTC().Truncate(24 * time.Hour)

	// Pre window ends the day before the intervention; post window starts
	// the day after. The intervention day itself belongs to neither.
	preTo := day
	preFrom := preTo.Add(-period)
	postFrom := day.Add(24 * time.Hour)
	postTo := postFrom.Add(period)

	var (
		wg        sync.WaitGroup
		pre, post signals.Snapshot
		errs      [2]error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		pre, errs[0] = t.aggregator.Window(ctx, intervention.MembershipID, preFrom, preTo)
	}()
	go func() {
		defer wg.Done()
		post, errs[1] = t.aggregator.Window(ctx, intervention.MembershipID, postFrom, postTo)
	}()
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return models.InterventionOutcome{}, fmt.Errorf("failed to aggregate windows for intervention %s: %w", interventionID, err)
		}
	}

	riskChange, err := t.riskDelta(ctx, intervention.MembershipID, preFrom, preTo, postFrom, postTo)
	if err != nil {
		return models.InterventionOutcome{}, err
	}

	out := t.scoreOutcome(intervention, pre, post, riskChange)

	if err := t.retention.CreateOutcome(ctx, out); err != nil {
		// A concurrent sweep measured it first; the first write wins.
		if errors.Is(err, store.ErrDuplicateOutcome) {
			return t.retention.GetOutcome(ctx, interventionID)
		}
		t.recordMeasurement(models.InterventionOutcome{}, err)
		return models.InterventionOutcome{}, fmt.Errorf("failed to create outcome for intervention %s: %w", interventionID, err)
	}
	t.recordMeasurement(out, nil)

	if t.publisher != nil {
		if err := t.publisher.OutcomeMeasured(ctx, out); err != nil {
			log.Printf("Failed to publish outcome event for intervention %s: %v", interventionID, err)
		}
	}
	return out, nil
}

// scoreOutcome assembles the outcome row. Pure given its inputs.
func (t *Tracker) scoreOutcome(intervention models.Intervention, pre, post signals.Snapshot, riskChange *float64) models.InterventionOutcome {
	attendanceChange := models.Round2((post.AttendanceRate - pre.AttendanceRate) * 100)
	checkinChange := models.Round2((post.CheckinRate - pre.CheckinRate) * 100)
	wellnessChange := models.Round2(post.WellnessComposite - pre.WellnessComposite)
	prChange := float64(post.PRCount - pre.PRCount)

	score := neutralBaseline
	if riskChange != nil {
		score += riskWeight * *riskChange
	}
	score += attendanceWeight * attendanceChange
	score += checkinWeight * checkinChange
	score += wellnessWeight * wellnessChange
	score += prWeight * (prChange * prScale)
	score = models.Round2(math.Min(100, math.Max(0, score)))

	var effectiveness models.Effectiveness
	switch {
	case score >= 60:
		effectiveness = models.EffectivenessPositive
	case score >= 40:
		effectiveness = models.EffectivenessNeutral
	default:
		effectiveness = models.EffectivenessNegative
	}

	return models.InterventionOutcome{
		ID:                    uuid.New().String(),
		InterventionID:        intervention.ID,
		BoxID:                 intervention.BoxID,
		MembershipID:          intervention.MembershipID,
		RiskScoreChange:       riskChange,
		AttendanceRateChange:  attendanceChange,
		CheckinRateChange:     checkinChange,
		WellnessChange:        wellnessChange,
		PRActivityChange:      prChange,
		OverallEffectiveness:  effectiveness,
		EffectivenessScore:    score,
		MeasurementPeriodDays: t.config.MeasurementPeriodDays,
		MeasuredAt:            t.now().UTC(),
	}
}

// riskDelta averages the member's recorded overall risk scores in each
// window and returns pre minus post, so positive means improvement. Nil
// when either window has no recorded score.
func (t *Tracker) riskDelta(ctx context.Context, membershipID string, preFrom, preTo, postFrom, postTo time.Time) (*float64, error) {
	preScores, err := t.retention.ListRiskScoreHistory(ctx, membershipID, preFrom, preTo)
	if err != nil {
		return nil, fmt.Errorf("failed to list pre-window risk history for %s: %w", membershipID, err)
	}
	postScores, err := t.retention.ListRiskScoreHistory(ctx, membershipID, postFrom, postTo)
	if err != nil {
		return nil, fmt.Errorf("failed to list post-window risk history for %s: %w", membershipID, err)
	}
	if len(preScores) == 0 || len(postScores) == 0 {
		return nil, nil
	}

	delta := models.Round2(avgOverall(preScores) - avgOverall(postScores))
	return &delta, nil
}

// SweepDue measures every intervention old enough to have a full post
// window and no outcome yet. Re-running the sweep is a no-op for already
// measured interventions; per-intervention failures never abort the sweep.
func (t *Tracker) SweepDue(ctx context.Context) (models.SweepSummary, error) {
	cutoff := t.now().UTC().Add(-time.Duration(t.config.MeasurementDelayDays) * 24 * time.Hour)
	interventions, err := t.members.ListInterventionsBefore(ctx, cutoff)
	if err != nil {
		return models.SweepSummary{}, fmt.Errorf("failed to list due interventions: %w", err)
	}

	summary := models.SweepSummary{}
	for _, iv := range interventions {
		if _, err := t.retention.GetOutcome(ctx, iv.ID); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			log.Printf("Failed to check outcome for intervention %s: %v", iv.ID, err)
			summary.Total++
			summary.Failed++
			continue
		}
		summary.Total++

		if _, err := t.MeasureOutcome(ctx, iv.ID); err != nil {
			log.Printf("Failed to measure outcome for intervention %s: %v", iv.ID, err)
			summary.Failed++
			continue
		}
		summary.Successful++
	}
	return summary, nil
}

// GetMetrics returns a copy of the tracker metrics.
func (t *Tracker) GetMetrics() TrackerMetrics {
	t.metrics.mu.Lock()
	defer t.metrics.mu.Unlock()
	out := TrackerMetrics{
		OutcomesMeasured:   t.metrics.OutcomesMeasured,
		MeasurementsFailed: t.metrics.MeasurementsFailed,
		LastMeasurement:    t.metrics.LastMeasurement,
		ByEffectiveness:    make(map[models.Effectiveness]int64, len(t.metrics.ByEffectiveness)),
	}
	for e, n := range t.metrics.ByEffectiveness {
		out.ByEffectiveness[e] = n
	}
	return out
}

func (t *Tracker) recordMeasurement(out models.InterventionOutcome, err error) {
	t.metrics.mu.Lock()
	defer t.metrics.mu.Unlock()
	t.metrics.LastMeasurement = t.now()
	if err != nil {
		t.metrics.MeasurementsFailed++
		return
	}
	t.metrics.OutcomesMeasured++
	t.metrics.ByEffectiveness[out.OverallEffectiveness]++
}

func avgOverall(scores []models.RiskScore) float64 {
	var sum float64
	for _, s := range scores {
		sum += s.OverallRiskScore
	}
	return sum / float64(len(scores))
}
