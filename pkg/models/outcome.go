package models

import "time"

// Effectiveness classifies how well an intervention worked.
type Effectiveness string

const (
	EffectivenessPositive Effectiveness = "positive"
	EffectivenessNeutral  Effectiveness = "neutral"
	EffectivenessNegative Effectiveness = "negative"
)

// InterventionOutcome measures a member's signal deltas across an
// intervention. One outcome exists per intervention; measurement is
// write-once.
type InterventionOutcome struct {
	ID             string `json:"id"`
	InterventionID string `json:"intervention_id"`
	BoxID          string `json:"box_id"`
	MembershipID   string `json:"membership_id"`

	// RiskScoreChange is pre minus post, so positive means improvement.
	// Nil when no risk score rows exist in either window.
	RiskScoreChange *float64 `json:"risk_score_change,omitempty"`

	// The remaining deltas are post minus pre. Rates are on the 0-100 scale.
	AttendanceRateChange float64 `json:"attendance_rate_change"`
	CheckinRateChange    float64 `json:"checkin_rate_change"`
	WellnessChange       float64 `json:"wellness_change"`
	PRActivityChange     float64 `json:"pr_activity_change"`

	OverallEffectiveness Effectiveness `json:"overall_effectiveness"`
	EffectivenessScore   float64       `json:"effectiveness_score"`

	MeasurementPeriodDays int       `json:"measurement_period_days"`
	MeasuredAt            time.Time `json:"measured_at"`
}
