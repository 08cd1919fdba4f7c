package escalation

import (
	"fmt"
	"time"

	"github.com/boxpulse/retention/pkg/models"
)

// Input is everything a rule may inspect for one alert. RiskScore and
// LastAttendedAt are nil when the member has no live score or no attendance
// on record.
type Input struct {
	Alert          models.Alert
	RiskScore      *models.RiskScore
	LastAttendedAt *time.Time
	Now            time.Time
}

// Rule is one escalation rule family. Evaluate returns the target severity
// and a human-readable reason when the rule fires. The reason's first
// colon-separated clause is the aggregation key for efficiency reporting.
type Rule struct {
	Name     string
	Evaluate func(Input) (models.AlertSeverity, string, bool)
}

// DefaultRules returns the ordered rule families. Families are evaluated in
// order and the first one that fires wins; an alert escalates at most once
// per sweep.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "time_based", Evaluate: timeBased},
		{Name: "risk_score", Evaluate: riskScoreBased},
		{Name: "attendance", Evaluate: attendanceBased},
		{Name: "type_specific", Evaluate: typeSpecific},
	}
}

// ageThreshold is one row of the time-based table: an alert at least Days
// old escalates to Target.
type ageThreshold struct {
	Days   int
	Target models.AlertSeverity
}

// timeThresholds maps current severity to its age thresholds, highest
// threshold first. When an old alert crosses several thresholds at once the
// highest one wins.
var timeThresholds = map[models.AlertSeverity][]ageThreshold{
	models.SeverityLow: {
		{Days: 14, Target: models.SeverityCritical},
		{Days: 7, Target: models.SeverityHigh},
		{Days: 3, Target: models.SeverityMedium},
	},
	models.SeverityMedium: {
		{Days: 7, Target: models.SeverityCritical},
		{Days: 3, Target: models.SeverityHigh},
	},
	models.SeverityHigh: {
		{Days: 3, Target: models.SeverityCritical},
	},
}

func timeBased(in Input) (models.AlertSeverity, string, bool) {
	thresholds, ok := timeThresholds[in.Alert.Severity]
	if !ok {
		return "", "", false
	}
	ageDays := int(in.Now.Sub(in.Alert.CreatedAt).Hours() / 24)
	for _, t := range thresholds {
		if ageDays >= t.Days {
			reason := fmt.Sprintf("time_based: alert active %d days at %s severity", ageDays, in.Alert.Severity)
			return t.Target, reason, true
		}
	}
	return "", "", false
}

// riskTrigger is one row of the risk-score table: an alert at From severity
// escalates to Target once the member's overall risk score reaches Score.
type riskTrigger struct {
	From   models.AlertSeverity
	Score  float64
	Target models.AlertSeverity
}

var riskTriggers = []riskTrigger{
	{From: models.SeverityLow, Score: 85, Target: models.SeverityCritical},
	{From: models.SeverityMedium, Score: 75, Target: models.SeverityHigh},
	{From: models.SeverityHigh, Score: 90, Target: models.SeverityCritical},
}

func riskScoreBased(in Input) (models.AlertSeverity, string, bool) {
	if in.RiskScore == nil {
		return "", "", false
	}
	for _, t := range riskTriggers {
		if in.Alert.Severity == t.From && in.RiskScore.OverallRiskScore >= t.Score {
			reason := fmt.Sprintf("risk_score: overall risk %.2f at %s severity", in.RiskScore.OverallRiskScore, in.Alert.Severity)
			return t.Target, reason, true
		}
	}
	return "", "", false
}

func attendanceBased(in Input) (models.AlertSeverity, string, bool) {
	if in.Alert.Severity == models.SeverityCritical {
		return "", "", false
	}
	if in.LastAttendedAt == nil {
		return models.SeverityCritical, "attendance: no attended session on record", true
	}
	gapDays := int(in.Now.Sub(*in.LastAttendedAt).Hours() / 24)
	if gapDays >= 14 {
		reason := fmt.Sprintf("attendance: %d days since last attended session", gapDays)
		return models.SeverityCritical, reason, true
	}
	return "", "", false
}

// typeSpecific holds the bespoke per-type conditions read from the alert's
// trigger snapshot.
func typeSpecific(in Input) (models.AlertSeverity, string, bool) {
	td := in.Alert.TriggerData
	switch in.Alert.Type {
	case models.AlertChurnRisk:
		if in.Alert.Severity == models.SeverityHigh && td.ChurnProbability > 0.8 {
			reason := fmt.Sprintf("type_specific: churn probability %.2f above 0.80", td.ChurnProbability)
			return models.SeverityCritical, reason, true
		}
	case models.AlertWellnessConcern:
		if in.Alert.Severity == models.SeverityMedium && td.WellnessTrend != nil && *td.WellnessTrend < -40 {
			reason := fmt.Sprintf("type_specific: wellness trend %.1f%% below -40%%", *td.WellnessTrend)
			return models.SeverityCritical, reason, true
		}
	case models.AlertDecliningPerformance:
		if in.Alert.Severity == models.SeverityMedium && td.PerformanceTrend != nil && *td.PerformanceTrend < -50 {
			reason := fmt.Sprintf("type_specific: performance trend %.1f%% below -50%%", *td.PerformanceTrend)
			return models.SeverityHigh, reason, true
		}
	}
	return "", "", false
}
