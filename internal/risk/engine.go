// Package risk implements the per-member churn risk score calculator.
package risk

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

// Epsilon floors for trend denominators.
const (
	rateEpsilon  = 0.01
	countEpsilon = 1.0
)

// Config represents risk engine configuration.
type Config struct {
	LookbackDays int `yaml:"lookback_days"`

	// Component weights. Must sum to 1.0.
	AttendanceWeight  float64 `yaml:"attendance_weight"`
	WellnessWeight    float64 `yaml:"wellness_weight"`
	PerformanceWeight float64 `yaml:"performance_weight"`
	EngagementWeight  float64 `yaml:"engagement_weight"`

	ValidityDays int           `yaml:"validity_days"`
	BatchSize    int           `yaml:"batch_size"`
	BatchPause   time.Duration `yaml:"batch_pause"`
}

// DefaultConfig returns default risk engine configuration.
func DefaultConfig() Config {
	return Config{
		LookbackDays:      30,
		AttendanceWeight:  0.30,
		WellnessWeight:    0.25,
		PerformanceWeight: 0.20,
		EngagementWeight:  0.25,
		ValidityDays:      7,
		BatchSize:         10,
		BatchPause:        100 * time.Millisecond,
	}
}

// Validate checks the configuration. The weights must sum to 1.0 so the
// overall risk score stays on the 0-100 scale.
func (c Config) Validate() error {
	sum := c.AttendanceWeight + c.WellnessWeight + c.PerformanceWeight + c.EngagementWeight
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("component weights must sum to 1.0, got %.4f", sum)
	}
	if c.LookbackDays <= 0 {
		return fmt.Errorf("lookback days must be positive, got %d", c.LookbackDays)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	return nil
}

// EngineMetrics tracks calculator activity across sweeps.
type EngineMetrics struct {
	CalculationsPerformed int64                      `json:"calculations_performed"`
	CalculationsFailed    int64                      `json:"calculations_failed"`
	LastCalculation       time.Time                  `json:"last_calculation"`
	RiskDistribution      map[models.RiskLevel]int64 `json:"risk_distribution"`
	mu                    sync.Mutex
}

// Engine computes and persists member risk scores.
type Engine struct {
	config     Config
	members    store.MemberStore
	retention  store.RetentionStore
	aggregator *signals.Aggregator
	metrics    *EngineMetrics
	now        func() time.Time
}

// NewEngine creates a new risk engine. The configuration is validated so a
// miscalibrated weight table fails at startup, not mid-sweep.
func NewEngine(config Config, members store.MemberStore, retention store.RetentionStore) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		config:     config,
		members:    members,
		retention:  retention,
		aggregator: signals.NewAggregator(members),
		metrics: &EngineMetrics{
			RiskDistribution: make(map[models.RiskLevel]int64),
		},
		now: time.Now,
	}, nil
}

// ComputeRiskScore calculates and returns the risk score for one member
// without persisting it. A missing membership is a NotFound error; every
// other sparse-data case degrades to neutral defaults.
func (e *Engine) ComputeRiskScore(ctx context.Context, boxID, membershipID string) (models.RiskScore, error) {
	membership, err := e.members.GetMembership(ctx, boxID, membershipID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.RiskScore{}, fmt.Errorf("membership %s: %w", membershipID, store.ErrNotFound)
		}
		return models.RiskScore{}, fmt.Errorf("failed to get membership %s: %w", membershipID, err)
	}

	now := e.now().UTC()
	lookback := time.Duration(e.config.LookbackDays) * 24 * time.Hour
	curFrom, curTo := now.Add(-lookback), now
	prevFrom, prevTo := now.Add(-2*lookback), now.Add(-lookback)

	var (
		wg        sync.WaitGroup
		cur, prev signals.Snapshot
		recency   signals.Recency
		errs      [3]error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		cur, errs[0] = e.aggregator.Window(ctx, membershipID, curFrom, curTo)
	}()
	go func() {
		defer wg.Done()
		prev, errs[1] = e.aggregator.Window(ctx, membershipID, prevFrom, prevTo)
	}()
	go func() {
		defer wg.Done()
		recency, errs[2] = e.aggregator.Recency(ctx, membershipID, now)
	}()
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return models.RiskScore{}, fmt.Errorf("failed to aggregate signals for %s: %w", membershipID, err)
		}
	}

	score := e.score(membership, cur, prev, recency, now)
	return score, nil
}

// score assembles a RiskScore from window aggregates. Pure given its inputs.
func (e *Engine) score(membership models.Membership, cur, prev signals.Snapshot, recency signals.Recency, now time.Time) models.RiskScore {
	attendance := math.Min(cur.AttendanceRate*100, 100)
	wellness := cur.WellnessComposite
	performance := math.Min(float64(cur.PRCount)*15+float64(cur.BenchmarkCount)*10, 100)

	expectedCheckins := float64(e.config.LookbackDays)
	engagement := math.Min(float64(cur.CheckinCount)/expectedCheckins*100, 100)

	// A prior-period baseline only exists if the member was already around
	// for the previous window; otherwise every trend is unknowable.
	hasBaseline := !membership.JoinedAt.After(prev.From)

	var attendanceTrend, wellnessTrend, performanceTrend, engagementTrend *float64
	if hasBaseline {
		attendanceTrend = trendPtr(cur.AttendanceRate, prev.AttendanceRate, rateEpsilon)
		engagementTrend = trendPtr(cur.CheckinRate, prev.CheckinRate, rateEpsilon)
		performanceTrend = trendPtr(
			float64(cur.PRCount+cur.BenchmarkCount),
			float64(prev.PRCount+prev.BenchmarkCount),
			countEpsilon)
		// Wellness additionally needs check-ins on both sides; a trend
		// against the neutral default would manufacture a signal.
		if cur.HasWellness && prev.HasWellness {
			wellnessTrend = trendPtr(cur.WellnessComposite, prev.WellnessComposite, countEpsilon)
		}
	}

	overall := 100 - (attendance*e.config.AttendanceWeight +
		wellness*e.config.WellnessWeight +
		performance*e.config.PerformanceWeight +
		engagement*e.config.EngagementWeight)
	overall = math.Min(100, math.Max(0, overall))
	overall = models.Round2(overall)

	factors := models.RiskFactors{
		LookbackDays:    e.config.LookbackDays,
		AttendanceRate:  models.Round2(cur.AttendanceRate),
		CheckinCount:    cur.CheckinCount,
		PRCount:         cur.PRCount,
		BenchmarkCount:  cur.BenchmarkCount,
		AvgEnergy:       models.Round2(cur.AvgEnergy),
		AvgSleepQuality: models.Round2(cur.AvgSleepQuality),
		AvgStress:       models.Round2(cur.AvgStress),
		AvgReadiness:    models.Round2(cur.AvgReadiness),
	}
	if hasBaseline {
		prevRate := models.Round2(prev.AttendanceRate)
		prevCheckins := prev.CheckinCount
		prevPRs := prev.PRCount
		prevBenchmarks := prev.BenchmarkCount
		factors.PriorAttendanceRate = &prevRate
		factors.PriorCheckinCount = &prevCheckins
		factors.PriorPRCount = &prevPRs
		factors.PriorBenchmarkCount = &prevBenchmarks
		if prev.HasWellness {
			prevWellness := models.Round2(prev.WellnessComposite)
			factors.PriorWellnessComposite = &prevWellness
		}
	}

	return models.RiskScore{
		ID:                   uuid.New().String(),
		BoxID:                membership.BoxID,
		MembershipID:         membership.ID,
		AttendanceScore:      models.Round2(attendance),
		WellnessScore:        models.Round2(wellness),
		PerformanceScore:     models.Round2(performance),
		EngagementScore:      models.Round2(engagement),
		AttendanceTrend:      attendanceTrend,
		WellnessTrend:        wellnessTrend,
		PerformanceTrend:     performanceTrend,
		EngagementTrend:      engagementTrend,
		OverallRiskScore:     overall,
		RiskLevel:            models.GetRiskLevel(overall),
		ChurnProbability:     models.Round2(math.Min(overall/100, 0.95)),
		DaysSinceLastVisit:   recency.DaysSinceLastVisit,
		DaysSinceLastCheckin: recency.DaysSinceLastCheckin,
		DaysSinceLastPR:      recency.DaysSinceLastPR,
		Factors:              factors,
		CalculatedAt:         now,
		ValidUntil:           now.Add(time.Duration(e.config.ValidityDays) * 24 * time.Hour),
	}
}

// RecalculateRisk computes the score for one member and replaces the live
// row via upsert.
func (e *Engine) RecalculateRisk(ctx context.Context, boxID, membershipID string) (models.RiskScore, error) {
	score, err := e.ComputeRiskScore(ctx, boxID, membershipID)
	if err != nil {
		e.recordCalculation(models.RiskScore{}, err)
		return models.RiskScore{}, err
	}
	if err := e.retention.UpsertRiskScore(ctx, score); err != nil {
		e.recordCalculation(models.RiskScore{}, err)
		return models.RiskScore{}, fmt.Errorf("failed to upsert risk score for %s: %w", membershipID, err)
	}
	e.recordCalculation(score, nil)
	return score, nil
}

// SweepBox recalculates every active member of a box in fixed-size batches
// with a short pause between batches. One member's failure never aborts the
// sweep; failures are counted and reported in the summary.
func (e *Engine) SweepBox(ctx context.Context, boxID string) (models.SweepSummary, error) {
	members, err := e.members.ListActiveMembers(ctx, boxID)
	if err != nil {
		return models.SweepSummary{}, fmt.Errorf("failed to list active members for box %s: %w", boxID, err)
	}

	summary := models.SweepSummary{Total: len(members)}
	var mu sync.Mutex

	for start := 0; start < len(members); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(members) {
			end = len(members)
		}

		var wg sync.WaitGroup
		for _, member := range members[start:end] {
			wg.Add(1)
			go func(m models.Membership) {
				defer wg.Done()
				if _, err := e.RecalculateRisk(ctx, boxID, m.ID); err != nil {
					log.Printf("Failed to recalculate risk for member %s: %v", m.ID, err)
					mu.Lock()
					summary.Failed++
					mu.Unlock()
					return
				}
				mu.Lock()
				summary.Successful++
				mu.Unlock()
			}(member)
		}
		wg.Wait()

		if end < len(members) && e.config.BatchPause > 0 {
			time.Sleep(e.config.BatchPause)
		}
	}

	return summary, nil
}

// PurgeExpired removes risk scores past their validity window.
func (e *Engine) PurgeExpired(ctx context.Context) (int, error) {
	return e.retention.PurgeExpiredRiskScores(ctx, e.now().UTC())
}

// GetMetrics returns a copy of the engine metrics.
func (e *Engine) GetMetrics() EngineMetrics {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()
	out := EngineMetrics{
		CalculationsPerformed: e.metrics.CalculationsPerformed,
		CalculationsFailed:    e.metrics.CalculationsFailed,
		LastCalculation:       e.metrics.LastCalculation,
		RiskDistribution:      make(map[models.RiskLevel]int64, len(e.metrics.RiskDistribution)),
	}
	for level, n := range e.metrics.RiskDistribution {
		out.RiskDistribution[level] = n
	}
	return out
}

func (e *Engine) recordCalculation(score models.RiskScore, err error) {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()
	e.metrics.CalculationsPerformed++
	e.metrics.LastCalculation = e.now()
	if err != nil {
		e.metrics.CalculationsFailed++
		return
	}
	e.metrics.RiskDistribution[score.RiskLevel]++
}

// trendPtr computes the signed percentage change from prev to cur, flooring
// the denominator at eps so an empty prior window reads as a large move
// rather than a division by zero.
func trendPtr(cur, prev, eps float64) *float64 {
	t := models.Round2((cur - prev) / math.Max(prev, eps) * 100)
	return &t
}
