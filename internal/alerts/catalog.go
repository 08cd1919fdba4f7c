package alerts

import (
	"fmt"
	"strings"

	"github.com/boxpulse/retention/pkg/models"
)

// TriggerValue carries the metric that fired a category rule, used to fill
// the description template placeholders.
type TriggerValue struct {
	Days  *int
	Trend *float64
}

// Category is one row of the alert decision table: a predicate over the
// risk score plus the static alert content it produces.
type Category struct {
	Type              models.AlertType
	Title             string
	Description       string // {days} and {trend} placeholders
	ImmediateActions  []string
	FollowUpDays      int
	EscalateAfterDays int // default eligibility hint; actual escalation is rule-driven
	Match             func(models.RiskScore) (bool, TriggerValue)
}

// DefaultCatalog returns the ordered category decision table. Order is
// behavior: rules are evaluated top to bottom and the first match wins, so
// the most acute categories sit first. Do not reorder without sign-off from
// the retention domain owners.
func DefaultCatalog() []Category {
	return []Category{
		{
			Type:        models.AlertExtendedAbsence,
			Title:       "Member absent for an extended period",
			Description: "No attended session in {days} days. Long absences are the strongest churn signal.",
			ImmediateActions: []string{
				"Call the member personally",
				"Ask about injuries or schedule changes",
				"Offer a low-pressure comeback session",
			},
			FollowUpDays:      3,
			EscalateAfterDays: 2,
			Match: func(rs models.RiskScore) (bool, TriggerValue) {
				if rs.DaysSinceLastVisit != nil && *rs.DaysSinceLastVisit > 14 {
					return true, TriggerValue{Days: rs.DaysSinceLastVisit}
				}
				return false, TriggerValue{}
			},
		},
		{
			Type:        models.AlertWellnessCrisis,
			Title:       "Sharp wellness decline",
			Description: "Wellness scores dropped {trend}% versus the prior month. The member may be struggling outside the gym.",
			ImmediateActions: []string{
				"Check in privately about sleep and stress",
				"Suggest scaling workout intensity this week",
				"Share recovery resources",
			},
			FollowUpDays:      2,
			EscalateAfterDays: 2,
			Match:             trendBelow(func(rs models.RiskScore) *float64 { return rs.WellnessTrend }, -25),
		},
		{
			Type:        models.AlertPerformanceCrash,
			Title:       "Performance falling off",
			Description: "PR and benchmark activity is down {trend}% versus the prior month.",
			ImmediateActions: []string{
				"Review recent programming with the member",
				"Set one achievable short-term goal",
				"Schedule a skills session",
			},
			FollowUpDays:      5,
			EscalateAfterDays: 4,
			Match:             trendBelow(func(rs models.RiskScore) *float64 { return rs.PerformanceTrend }, -30),
		},
		{
			Type:        models.AlertAttendanceDecline,
			Title:       "Attendance declining",
			Description: "Attendance is down {trend}% versus the prior month.",
			ImmediateActions: []string{
				"Message the member about their class schedule",
				"Suggest a class time that fits better",
				"Pair them with a workout buddy",
			},
			FollowUpDays:      4,
			EscalateAfterDays: 3,
			Match:             trendBelow(func(rs models.RiskScore) *float64 { return rs.AttendanceTrend }, -20),
		},
		{
			Type:        models.AlertEngagementDrop,
			Title:       "Engagement dropping",
			Description: "Check-in activity is down {trend}% and the member has not checked in for over a week.",
			ImmediateActions: []string{
				"Send a personal check-in reminder",
				"Highlight a community event",
			},
			FollowUpDays:      4,
			EscalateAfterDays: 3,
			Match: func(rs models.RiskScore) (bool, TriggerValue) {
				if rs.EngagementTrend != nil && *rs.EngagementTrend < -30 &&
					rs.DaysSinceLastCheckin != nil && *rs.DaysSinceLastCheckin > 7 {
					return true, TriggerValue{Trend: rs.EngagementTrend}
				}
				return false, TriggerValue{}
			},
		},
		{
			Type:        models.AlertModerateWellness,
			Title:       "Wellness trending down",
			Description: "Wellness scores slipped {trend}% versus the prior month. Worth a casual conversation.",
			ImmediateActions: []string{
				"Ask how training is feeling lately",
				"Review recent check-in notes",
			},
			FollowUpDays:      7,
			EscalateAfterDays: 5,
			Match:             trendBelow(func(rs models.RiskScore) *float64 { return rs.WellnessTrend }, -15),
		},
		{
			Type:        models.AlertPerformanceStagnation,
			Title:       "No recent PRs",
			Description: "No personal record in {days} days. Plateaus erode motivation.",
			ImmediateActions: []string{
				"Program a PR-friendly lift this week",
				"Celebrate a past achievement publicly",
			},
			FollowUpDays:      10,
			EscalateAfterDays: 7,
			Match: func(rs models.RiskScore) (bool, TriggerValue) {
				if rs.DaysSinceLastPR != nil && *rs.DaysSinceLastPR > 60 {
					return true, TriggerValue{Days: rs.DaysSinceLastPR}
				}
				return false, TriggerValue{}
			},
		},
		{
			Type:        models.AlertCheckinLapse,
			Title:       "Check-ins lapsed",
			Description: "No wellness check-in for {days} days while overall risk is elevated.",
			ImmediateActions: []string{
				"Remind the member how check-ins shape their programming",
			},
			FollowUpDays:      7,
			EscalateAfterDays: 5,
			Match: func(rs models.RiskScore) (bool, TriggerValue) {
				if rs.DaysSinceLastCheckin != nil && *rs.DaysSinceLastCheckin > 10 &&
					rs.RiskLevel != models.RiskLevelLow {
					return true, TriggerValue{Days: rs.DaysSinceLastCheckin}
				}
				return false, TriggerValue{}
			},
		},
	}
}

func trendBelow(get func(models.RiskScore) *float64, threshold float64) func(models.RiskScore) (bool, TriggerValue) {
	return func(rs models.RiskScore) (bool, TriggerValue) {
		if v := get(rs); v != nil && *v < threshold {
			return true, TriggerValue{Trend: v}
		}
		return false, TriggerValue{}
	}
}

// renderDescription substitutes {days} and {trend} with the live values
// that fired the rule. Trend magnitudes render unsigned; the surrounding
// text already says which direction they moved.
func renderDescription(template string, tv TriggerValue) string {
	out := template
	if tv.Days != nil {
		out = strings.ReplaceAll(out, "{days}", fmt.Sprintf("%d", *tv.Days))
	}
	if tv.Trend != nil {
		magnitude := *tv.Trend
		if magnitude < 0 {
			magnitude = -magnitude
		}
		out = strings.ReplaceAll(out, "{trend}", fmt.Sprintf("%.1f", magnitude))
	}
	return out
}
