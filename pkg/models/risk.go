package models

import (
	"math"
	"time"
)

// RiskLevel buckets an overall risk score.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// GetRiskLevel returns the risk level for an overall risk score.
func GetRiskLevel(score float64) RiskLevel {
	switch {
	case score >= 75:
		return RiskLevelCritical
	case score >= 50:
		return RiskLevelHigh
	case score >= 25:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// RiskScore is the per-member churn risk snapshot. At most one live row
// exists per membership; recomputation replaces it wholesale.
type RiskScore struct {
	ID           string `json:"id"`
	BoxID        string `json:"box_id"`
	MembershipID string `json:"membership_id"`

	// Component scores, 0-100.
	AttendanceScore  float64 `json:"attendance_score"`
	WellnessScore    float64 `json:"wellness_score"`
	PerformanceScore float64 `json:"performance_score"`
	EngagementScore  float64 `json:"engagement_score"`

	// Signed percentage change versus the prior equal-length window.
	// Nil when no prior-period baseline exists.
	AttendanceTrend  *float64 `json:"attendance_trend,omitempty"`
	WellnessTrend    *float64 `json:"wellness_trend,omitempty"`
	PerformanceTrend *float64 `json:"performance_trend,omitempty"`
	EngagementTrend  *float64 `json:"engagement_trend,omitempty"`

	OverallRiskScore float64   `json:"overall_risk_score"`
	RiskLevel        RiskLevel `json:"risk_level"`
	ChurnProbability float64   `json:"churn_probability"`

	DaysSinceLastVisit   *int `json:"days_since_last_visit,omitempty"`
	DaysSinceLastCheckin *int `json:"days_since_last_checkin,omitempty"`
	DaysSinceLastPR      *int `json:"days_since_last_pr,omitempty"`

	Factors RiskFactors `json:"factors"`

	CalculatedAt time.Time `json:"calculated_at"`
	ValidUntil   time.Time `json:"valid_until"`
}

// RiskFactors carries the raw window aggregates that fed the score, for
// explainability and for the alert trigger snapshot.
type RiskFactors struct {
	LookbackDays           int      `json:"lookback_days"`
	AttendanceRate         float64  `json:"attendance_rate"`
	PriorAttendanceRate    *float64 `json:"prior_attendance_rate,omitempty"`
	CheckinCount           int      `json:"checkin_count"`
	PriorCheckinCount      *int     `json:"prior_checkin_count,omitempty"`
	PRCount                int      `json:"pr_count"`
	BenchmarkCount         int      `json:"benchmark_count"`
	PriorPRCount           *int     `json:"prior_pr_count,omitempty"`
	PriorBenchmarkCount    *int     `json:"prior_benchmark_count,omitempty"`
	AvgEnergy              float64  `json:"avg_energy"`
	AvgSleepQuality        float64  `json:"avg_sleep_quality"`
	AvgStress              float64  `json:"avg_stress"`
	AvgReadiness           float64  `json:"avg_readiness"`
	PriorWellnessComposite *float64 `json:"prior_wellness_composite,omitempty"`
}

// Expired reports whether the score is past its validity window.
func (rs RiskScore) Expired(now time.Time) bool {
	return now.After(rs.ValidUntil)
}

// Round2 rounds to two decimal places. All published score and trend values
// go through this so stored rows compare stably across recomputations.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// SweepSummary reports the outcome of one batch sweep.
type SweepSummary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}
