package escalation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxpulse/retention/pkg/models"
)

func trendPtr(v float64) *float64 { return &v }

func agedAlert(severity models.AlertSeverity, ageDays int) models.Alert {
	return models.Alert{
		ID: "a1", BoxID: "box1", MembershipID: "m1",
		Type:      models.AlertCheckinLapse,
		Severity:  severity,
		Status:    models.StatusActive,
		CreatedAt: testNow.AddDate(0, 0, -ageDays),
	}
}

func TestTimeBasedThresholds(t *testing.T) {
	cases := []struct {
		name     string
		severity models.AlertSeverity
		ageDays  int
		want     models.AlertSeverity
		fires    bool
	}{
		{"low too young", models.SeverityLow, 2, "", false},
		{"low to medium", models.SeverityLow, 3, models.SeverityMedium, true},
		{"low to high", models.SeverityLow, 8, models.SeverityHigh, true},
		{"low to critical", models.SeverityLow, 14, models.SeverityCritical, true},
		{"medium too young", models.SeverityMedium, 2, "", false},
		{"medium to high", models.SeverityMedium, 4, models.SeverityHigh, true},
		{"medium to critical", models.SeverityMedium, 7, models.SeverityCritical, true},
		{"high too young", models.SeverityHigh, 2, "", false},
		{"high to critical", models.SeverityHigh, 3, models.SeverityCritical, true},
		{"critical has no thresholds", models.SeverityCritical, 90, "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := Input{Alert: agedAlert(tc.severity, tc.ageDays), Now: testNow}
			target, reason, fired := timeBased(in)
			assert.Equal(t, tc.fires, fired)
			if tc.fires {
				assert.Equal(t, tc.want, target)
				assert.Equal(t, "time_based", reasonKey(reason))
			}
		})
	}
}

func TestRiskScoreTriggers(t *testing.T) {
	cases := []struct {
		name     string
		severity models.AlertSeverity
		score    float64
		want     models.AlertSeverity
		fires    bool
	}{
		{"low below threshold", models.SeverityLow, 84.9, "", false},
		{"low at threshold", models.SeverityLow, 85, models.SeverityCritical, true},
		{"medium at threshold", models.SeverityMedium, 75, models.SeverityHigh, true},
		{"high below threshold", models.SeverityHigh, 89, "", false},
		{"high at threshold", models.SeverityHigh, 90, models.SeverityCritical, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := Input{
				Alert:     agedAlert(tc.severity, 0),
				RiskScore: &models.RiskScore{OverallRiskScore: tc.score},
				Now:       testNow,
			}
			target, _, fired := riskScoreBased(in)
			assert.Equal(t, tc.fires, fired)
			if tc.fires {
				assert.Equal(t, tc.want, target)
			}
		})
	}
}

func TestRiskScoreRequiresLiveScore(t *testing.T) {
	in := Input{Alert: agedAlert(models.SeverityLow, 0), Now: testNow}
	_, _, fired := riskScoreBased(in)
	assert.False(t, fired)
}

func TestAttendanceRule(t *testing.T) {
	t.Run("no session on record", func(t *testing.T) {
		in := Input{Alert: agedAlert(models.SeverityMedium, 0), Now: testNow}
		target, reason, fired := attendanceBased(in)
		require.True(t, fired)
		assert.Equal(t, models.SeverityCritical, target)
		assert.Equal(t, "attendance", reasonKey(reason))
	})

	t.Run("long gap", func(t *testing.T) {
		last := testNow.AddDate(0, 0, -15)
		in := Input{Alert: agedAlert(models.SeverityLow, 0), LastAttendedAt: &last, Now: testNow}
		target, _, fired := attendanceBased(in)
		require.True(t, fired)
		assert.Equal(t, models.SeverityCritical, target)
	})

	t.Run("recent session", func(t *testing.T) {
		last := testNow.AddDate(0, 0, -13)
		in := Input{Alert: agedAlert(models.SeverityLow, 0), LastAttendedAt: &last, Now: testNow}
		_, _, fired := attendanceBased(in)
		assert.False(t, fired)
	})

	t.Run("already critical", func(t *testing.T) {
		in := Input{Alert: agedAlert(models.SeverityCritical, 0), Now: testNow}
		_, _, fired := attendanceBased(in)
		assert.False(t, fired)
	})
}

func TestTypeSpecificRules(t *testing.T) {
	t.Run("churn risk high probability", func(t *testing.T) {
		alert := agedAlert(models.SeverityHigh, 0)
		alert.Type = models.AlertChurnRisk
		alert.TriggerData.ChurnProbability = 0.85
		target, _, fired := typeSpecific(Input{Alert: alert, Now: testNow})
		require.True(t, fired)
		assert.Equal(t, models.SeverityCritical, target)
	})

	t.Run("churn risk only fires at high", func(t *testing.T) {
		alert := agedAlert(models.SeverityMedium, 0)
		alert.Type = models.AlertChurnRisk
		alert.TriggerData.ChurnProbability = 0.95
		_, _, fired := typeSpecific(Input{Alert: alert, Now: testNow})
		assert.False(t, fired)
	})

	t.Run("wellness concern steep decline", func(t *testing.T) {
		alert := agedAlert(models.SeverityMedium, 0)
		alert.Type = models.AlertWellnessConcern
		alert.TriggerData.WellnessTrend = trendPtr(-45)
		target, _, fired := typeSpecific(Input{Alert: alert, Now: testNow})
		require.True(t, fired)
		assert.Equal(t, models.SeverityCritical, target)
	})

	t.Run("declining performance", func(t *testing.T) {
		alert := agedAlert(models.SeverityMedium, 0)
		alert.Type = models.AlertDecliningPerformance
		alert.TriggerData.PerformanceTrend = trendPtr(-55)
		target, _, fired := typeSpecific(Input{Alert: alert, Now: testNow})
		require.True(t, fired)
		assert.Equal(t, models.SeverityHigh, target)
	})

	t.Run("catalog types never match", func(t *testing.T) {
		alert := agedAlert(models.SeverityHigh, 0)
		alert.TriggerData.ChurnProbability = 0.99
		_, _, fired := typeSpecific(Input{Alert: alert, Now: testNow})
		assert.False(t, fired)
	})
}

func TestReasonKey(t *testing.T) {
	assert.Equal(t, "time_based", reasonKey("time_based: alert active 8 days at low severity"))
	assert.Equal(t, "manual", reasonKey("manual: severity raised by coach"))
	assert.Equal(t, "no colon at all", reasonKey("no colon at all"))
}
