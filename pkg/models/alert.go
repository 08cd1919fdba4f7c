package models

import "time"

// AlertType identifies the category of concern an alert was raised for.
type AlertType string

const (
	// Categories produced by the alert generator's decision table.
	AlertExtendedAbsence       AlertType = "extended_absence"
	AlertWellnessCrisis        AlertType = "wellness_crisis"
	AlertPerformanceCrash      AlertType = "performance_crash"
	AlertAttendanceDecline     AlertType = "attendance_decline"
	AlertEngagementDrop        AlertType = "engagement_drop"
	AlertModerateWellness      AlertType = "moderate_wellness_concern"
	AlertPerformanceStagnation AlertType = "performance_stagnation"
	AlertCheckinLapse          AlertType = "checkin_lapse"

	// Categories raised outside the decision table (manual or legacy paths)
	// that the escalation engine still has to understand.
	AlertRiskThreshold        AlertType = "risk_threshold"
	AlertChurnRisk            AlertType = "churn_risk"
	AlertWellnessConcern      AlertType = "wellness_concern"
	AlertDecliningPerformance AlertType = "declining_performance"
	AlertCheckinReminder      AlertType = "checkin_reminder"
)

// AlertSeverity mirrors RiskLevel but is mutated independently by escalation.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// Rank orders severities low < medium < high < critical. Unknown severities
// rank below low so they can never win a monotonicity comparison.
func (s AlertSeverity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// SeverityForLevel maps a risk level to the matching alert severity.
func SeverityForLevel(level RiskLevel) AlertSeverity {
	switch level {
	case RiskLevelCritical:
		return SeverityCritical
	case RiskLevelHigh:
		return SeverityHigh
	case RiskLevelMedium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// AlertStatus is the alert lifecycle state.
type AlertStatus string

const (
	StatusActive       AlertStatus = "active"
	StatusAcknowledged AlertStatus = "acknowledged"
	StatusResolved     AlertStatus = "resolved"
	StatusEscalated    AlertStatus = "escalated"
	StatusSnoozed      AlertStatus = "snoozed"
)

// TriggerData is the typed snapshot of the risk score at generation time.
// Escalation rules pattern-match on these fields, so the payload is
// explicitly schemed and versioned rather than an open map.
type TriggerData struct {
	Version          int       `json:"version"`
	OverallRiskScore float64   `json:"overall_risk_score"`
	RiskLevel        RiskLevel `json:"risk_level"`
	ChurnProbability float64   `json:"churn_probability"`

	AttendanceScore  float64 `json:"attendance_score"`
	WellnessScore    float64 `json:"wellness_score"`
	PerformanceScore float64 `json:"performance_score"`
	EngagementScore  float64 `json:"engagement_score"`

	AttendanceTrend  *float64 `json:"attendance_trend,omitempty"`
	WellnessTrend    *float64 `json:"wellness_trend,omitempty"`
	PerformanceTrend *float64 `json:"performance_trend,omitempty"`
	EngagementTrend  *float64 `json:"engagement_trend,omitempty"`

	DaysSinceLastVisit   *int `json:"days_since_last_visit,omitempty"`
	DaysSinceLastCheckin *int `json:"days_since_last_checkin,omitempty"`
	DaysSinceLastPR      *int `json:"days_since_last_pr,omitempty"`

	Factors RiskFactors `json:"factors"`
}

// TriggerDataVersion is the current trigger payload schema version.
const TriggerDataVersion = 1

// SuggestedActions carries the coach-facing playbook attached to an alert.
type SuggestedActions struct {
	Immediate    []string `json:"immediate"`
	FollowUpDays int      `json:"follow_up_days"`
}

// Alert is a member-scoped retention notification with an explicit lifecycle.
// At most one active alert exists per (membership, type) pair.
type Alert struct {
	ID           string        `json:"id"`
	BoxID        string        `json:"box_id"`
	MembershipID string        `json:"membership_id"`
	Type         AlertType     `json:"type"`
	Severity     AlertSeverity `json:"severity"`
	Status       AlertStatus   `json:"status"`

	Title            string           `json:"title"`
	Description      string           `json:"description"`
	TriggerData      TriggerData      `json:"trigger_data"`
	SuggestedActions SuggestedActions `json:"suggested_actions"`

	// Optional natural-language briefing attached to critical alerts when
	// the assist service is enabled. Never part of the decision path.
	Briefing string `json:"briefing,omitempty"`

	AssignedCoachID *string `json:"assigned_coach_id,omitempty"`

	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	AcknowledgedAt      *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt          *time.Time `json:"resolved_at,omitempty"`
	LastAutoEscalatedAt *time.Time `json:"last_auto_escalated_at,omitempty"`
}
