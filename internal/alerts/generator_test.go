package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxpulse/retention/internal/store/storetest"
	"github.com/boxpulse/retention/pkg/models"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestGenerator(fake *storetest.Fake) *Generator {
	g := NewGenerator(DefaultConfig(), fake, fake, nil, nil)
	g.now = func() time.Time { return testNow }
	return g
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func baseScore(level models.RiskLevel) models.RiskScore {
	return models.RiskScore{
		ID:               "r1",
		BoxID:            "box1",
		MembershipID:     "m1",
		OverallRiskScore: 60,
		RiskLevel:        level,
		ChurnProbability: 0.6,
		CalculatedAt:     testNow,
		ValidUntil:       testNow.AddDate(0, 0, 7),
	}
}

func TestEvaluateNeverAlertsForLowRisk(t *testing.T) {
	fake := storetest.New()
	g := newTestGenerator(fake)

	score := baseScore(models.RiskLevelLow)
	score.DaysSinceLastVisit = intPtr(20)

	alert, err := g.Evaluate(context.Background(), score)
	require.NoError(t, err)
	assert.Nil(t, alert)
}

func TestEvaluateNoMatchNoAlert(t *testing.T) {
	fake := storetest.New()
	g := newTestGenerator(fake)

	// High risk but no single signal crosses its threshold.
	score := baseScore(models.RiskLevelHigh)
	score.DaysSinceLastVisit = intPtr(5)

	alert, err := g.Evaluate(context.Background(), score)
	require.NoError(t, err)
	assert.Nil(t, alert)
}

func TestEvaluateExtendedAbsencePreemptsLowerRules(t *testing.T) {
	fake := storetest.New()
	g := newTestGenerator(fake)

	// Both rule 1 and rule 2 match; rule 1 wins.
	score := baseScore(models.RiskLevelHigh)
	score.DaysSinceLastVisit = intPtr(20)
	score.WellnessTrend = floatPtr(-30)

	alert, err := g.Evaluate(context.Background(), score)
	require.NoError(t, err)
	require.NotNil(t, alert)

	assert.Equal(t, models.AlertExtendedAbsence, alert.Type)
	assert.Equal(t, models.SeverityHigh, alert.Severity)
	assert.Equal(t, models.StatusActive, alert.Status)
	assert.Contains(t, alert.Description, "20 days")
	assert.NotEmpty(t, alert.SuggestedActions.Immediate)
	assert.Equal(t, 3, alert.SuggestedActions.FollowUpDays)
	assert.Equal(t, models.TriggerDataVersion, alert.TriggerData.Version)
	assert.Equal(t, 60.0, alert.TriggerData.OverallRiskScore)
}

func TestEvaluateDedupUnchangedSeverity(t *testing.T) {
	fake := storetest.New()
	g := newTestGenerator(fake)

	score := baseScore(models.RiskLevelHigh)
	score.DaysSinceLastVisit = intPtr(20)

	first, err := g.Evaluate(context.Background(), score)
	require.NoError(t, err)
	require.NotNil(t, first)

	// Same score again: no duplicate, no churn.
	second, err := g.Evaluate(context.Background(), score)
	require.NoError(t, err)
	assert.Nil(t, second)

	alerts, err := fake.ListAlertsForMember(context.Background(), "m1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, first.UpdatedAt, alerts[0].UpdatedAt)
}

func TestEvaluateSeverityChangeUpdatesInPlace(t *testing.T) {
	fake := storetest.New()
	g := newTestGenerator(fake)

	score := baseScore(models.RiskLevelMedium)
	score.DaysSinceLastVisit = intPtr(16)

	first, err := g.Evaluate(context.Background(), score)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, models.SeverityMedium, first.Severity)

	// Clobber the stored playbook so the refresh is observable.
	mangled := *first
	mangled.SuggestedActions = models.SuggestedActions{}
	require.NoError(t, fake.UpdateAlert(context.Background(), mangled))

	worse := baseScore(models.RiskLevelCritical)
	worse.DaysSinceLastVisit = intPtr(25)

	second, err := g.Evaluate(context.Background(), worse)
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.SeverityCritical, second.Severity)
	assert.Contains(t, second.Description, "25 days")
	assert.Equal(t, first.SuggestedActions, second.SuggestedActions)
	assert.NotEmpty(t, second.SuggestedActions.Immediate)

	alerts, err := fake.ListAlertsForMember(context.Background(), "m1")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, first.SuggestedActions, alerts[0].SuggestedActions)
}

func TestCategoryPriorityOrder(t *testing.T) {
	catalog := DefaultCatalog()
	wantOrder := []models.AlertType{
		models.AlertExtendedAbsence,
		models.AlertWellnessCrisis,
		models.AlertPerformanceCrash,
		models.AlertAttendanceDecline,
		models.AlertEngagementDrop,
		models.AlertModerateWellness,
		models.AlertPerformanceStagnation,
		models.AlertCheckinLapse,
	}
	require.Len(t, catalog, len(wantOrder))
	for i, want := range wantOrder {
		assert.Equal(t, want, catalog[i].Type, "position %d", i)
	}
}

func TestCategoryThresholds(t *testing.T) {
	cases := []struct {
		name  string
		score models.RiskScore
		want  models.AlertType
	}{
		{
			name: "wellness crisis",
			score: func() models.RiskScore {
				s := baseScore(models.RiskLevelHigh)
				s.WellnessTrend = floatPtr(-26)
				return s
			}(),
			want: models.AlertWellnessCrisis,
		},
		{
			name: "performance crash",
			score: func() models.RiskScore {
				s := baseScore(models.RiskLevelHigh)
				s.PerformanceTrend = floatPtr(-31)
				return s
			}(),
			want: models.AlertPerformanceCrash,
		},
		{
			name: "attendance decline",
			score: func() models.RiskScore {
				s := baseScore(models.RiskLevelHigh)
				s.AttendanceTrend = floatPtr(-21)
				return s
			}(),
			want: models.AlertAttendanceDecline,
		},
		{
			name: "engagement drop needs both conditions",
			score: func() models.RiskScore {
				s := baseScore(models.RiskLevelHigh)
				s.EngagementTrend = floatPtr(-35)
				s.DaysSinceLastCheckin = intPtr(8)
				return s
			}(),
			want: models.AlertEngagementDrop,
		},
		{
			name: "moderate wellness",
			score: func() models.RiskScore {
				s := baseScore(models.RiskLevelMedium)
				s.WellnessTrend = floatPtr(-16)
				return s
			}(),
			want: models.AlertModerateWellness,
		},
		{
			name: "performance stagnation",
			score: func() models.RiskScore {
				s := baseScore(models.RiskLevelMedium)
				s.DaysSinceLastPR = intPtr(61)
				return s
			}(),
			want: models.AlertPerformanceStagnation,
		},
		{
			name: "checkin lapse",
			score: func() models.RiskScore {
				s := baseScore(models.RiskLevelMedium)
				s.DaysSinceLastCheckin = intPtr(11)
				return s
			}(),
			want: models.AlertCheckinLapse,
		},
	}

	catalog := DefaultCatalog()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var matched *Category
			for i := range catalog {
				if ok, _ := catalog[i].Match(tc.score); ok {
					matched = &catalog[i]
					break
				}
			}
			require.NotNil(t, matched)
			assert.Equal(t, tc.want, matched.Type)
		})
	}
}

func TestAssignCoachCriticalPrefersSeniorStaff(t *testing.T) {
	fake := storetest.New()
	fake.AddMembership(models.Membership{ID: "c1", BoxID: "box1", UserID: "coach-1", Role: models.RoleCoach, Active: true})
	fake.AddMembership(models.Membership{ID: "c2", BoxID: "box1", UserID: "owner-1", Role: models.RoleOwner, Active: true})
	g := newTestGenerator(fake)

	for i := 0; i < 10; i++ {
		coachID, err := g.assignCoach(context.Background(), "box1", models.SeverityCritical)
		require.NoError(t, err)
		require.NotNil(t, coachID)
		assert.Equal(t, "owner-1", *coachID)
	}
}

func TestAssignCoachNoStaff(t *testing.T) {
	fake := storetest.New()
	g := newTestGenerator(fake)

	coachID, err := g.assignCoach(context.Background(), "box1", models.SeverityHigh)
	require.NoError(t, err)
	assert.Nil(t, coachID)
}

func TestSweepBoxSkipsExpiredScores(t *testing.T) {
	fake := storetest.New()
	g := newTestGenerator(fake)

	stale := baseScore(models.RiskLevelHigh)
	stale.DaysSinceLastVisit = intPtr(20)
	stale.ValidUntil = testNow.AddDate(0, 0, -1)
	require.NoError(t, fake.UpsertRiskScore(context.Background(), stale))

	fresh := baseScore(models.RiskLevelHigh)
	fresh.MembershipID = "m2"
	fresh.DaysSinceLastVisit = intPtr(20)
	require.NoError(t, fake.UpsertRiskScore(context.Background(), fresh))

	summary, err := g.SweepBox(context.Background(), "box1")
	require.NoError(t, err)
	assert.Equal(t, models.SweepSummary{Total: 1, Successful: 1, Failed: 0}, summary)

	_, err = fake.GetActiveAlert(context.Background(), "m1", models.AlertExtendedAbsence)
	assert.Error(t, err)
	alert, err := fake.GetActiveAlert(context.Background(), "m2", models.AlertExtendedAbsence)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityHigh, alert.Severity)
}

func TestRenderDescription(t *testing.T) {
	tv := TriggerValue{Days: intPtr(20)}
	assert.Equal(t, "gone 20 days", renderDescription("gone {days} days", tv))

	tv = TriggerValue{Trend: floatPtr(-27.5)}
	assert.Equal(t, "down 27.5%", renderDescription("down {trend}%", tv))
}
