package escalation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxpulse/retention/internal/store/storetest"
	"github.com/boxpulse/retention/pkg/models"
)

func newTestReporter(fake *storetest.Fake) *Reporter {
	r := NewReporter(fake, fake)
	r.now = func() time.Time { return testNow }
	return r
}

func seedEscalation(t *testing.T, fake *storetest.Fake, id, membershipID, reason string, at time.Time) {
	t.Helper()
	require.NoError(t, fake.AppendEscalation(context.Background(), models.Escalation{
		ID: id, AlertID: "alert-" + id, BoxID: "box1", MembershipID: membershipID,
		FromSeverity: models.SeverityLow, ToSeverity: models.SeverityHigh,
		Reason: reason, AutoEscalated: true, EscalatedAt: at,
	}))
}

func effectPtr(e models.Effectiveness) *models.Effectiveness { return &e }

func TestBoxEfficiencyBuckets(t *testing.T) {
	fake := storetest.New()
	since := testNow.AddDate(0, 0, -90)

	// Escalation answered by an intervention with a positive outcome.
	seedEscalation(t, fake, "e1", "m1", "time_based: alert active 8 days at low severity", testNow.AddDate(0, 0, -20))
	fake.AddIntervention(models.Intervention{
		ID: "iv1", BoxID: "box1", MembershipID: "m1", CoachID: "coach-1",
		InterventionDate: testNow.AddDate(0, 0, -18),
		Outcome:          effectPtr(models.EffectivenessPositive),
	})

	// Escalation answered, but the intervention failed.
	seedEscalation(t, fake, "e2", "m2", "attendance: 16 days since last attended session", testNow.AddDate(0, 0, -15))
	fake.AddIntervention(models.Intervention{
		ID: "iv2", BoxID: "box1", MembershipID: "m2", CoachID: "coach-1",
		InterventionDate: testNow.AddDate(0, 0, -14),
		Outcome:          effectPtr(models.EffectivenessNegative),
	})

	// No intervention within 7 days counts as failed.
	seedEscalation(t, fake, "e3", "m3", "time_based: alert active 4 days at medium severity", testNow.AddDate(0, 0, -12))

	// Intervention exists but its outcome is not measured yet: unscored.
	seedEscalation(t, fake, "e4", "m4", "risk_score: overall risk 88.00 at low severity", testNow.AddDate(0, 0, -5))
	fake.AddIntervention(models.Intervention{
		ID: "iv4", BoxID: "box1", MembershipID: "m4", CoachID: "coach-2",
		InterventionDate: testNow.AddDate(0, 0, -4),
	})

	reporter := newTestReporter(fake)
	report, err := reporter.BoxEfficiency(context.Background(), "box1", since)
	require.NoError(t, err)

	assert.Equal(t, 4, report.TotalEscalations)
	assert.Equal(t, 1, report.SuccessfulInterventions)
	assert.Equal(t, 2, report.FailedInterventions)
	assert.Equal(t, 0.25, report.Efficiency)
	assert.Equal(t, testNow, report.GeneratedAt)

	assert.Equal(t, map[string]int{"time_based": 2, "attendance": 1, "risk_score": 1}, report.ByReason)

	coach := report.ByCoach["coach-1"]
	assert.Equal(t, 2, coach.TotalEscalations)
	assert.Equal(t, 1, coach.SuccessfulInterventions)
	assert.Equal(t, 1, coach.FailedInterventions)
	assert.Equal(t, 0.5, coach.Efficiency)

	// The unmeasured intervention never made it into the coach table.
	_, ok := report.ByCoach["coach-2"]
	assert.False(t, ok)
}

func TestBoxEfficiencyPicksEarliestIntervention(t *testing.T) {
	fake := storetest.New()
	seedEscalation(t, fake, "e1", "m1", "time_based: alert active 8 days at low severity", testNow.AddDate(0, 0, -20))

	// A later intervention by another coach must not shadow the first
	// response.
	fake.AddIntervention(models.Intervention{
		ID: "iv-late", BoxID: "box1", MembershipID: "m1", CoachID: "coach-2",
		InterventionDate: testNow.AddDate(0, 0, -15),
		Outcome:          effectPtr(models.EffectivenessNegative),
	})
	fake.AddIntervention(models.Intervention{
		ID: "iv-first", BoxID: "box1", MembershipID: "m1", CoachID: "coach-1",
		InterventionDate: testNow.AddDate(0, 0, -19),
		Outcome:          effectPtr(models.EffectivenessPositive),
	})

	reporter := newTestReporter(fake)
	report, err := reporter.BoxEfficiency(context.Background(), "box1", testNow.AddDate(0, 0, -90))
	require.NoError(t, err)

	assert.Equal(t, 1, report.SuccessfulInterventions)
	assert.Equal(t, 0, report.FailedInterventions)
	assert.Contains(t, report.ByCoach, "coach-1")
	assert.NotContains(t, report.ByCoach, "coach-2")
}

func TestBoxEfficiencyIgnoresInterventionsOutsideWindow(t *testing.T) {
	fake := storetest.New()
	seedEscalation(t, fake, "e1", "m1", "attendance: no attended session on record", testNow.AddDate(0, 0, -20))

	// 8 days after the escalation: outside the 7-day response window.
	fake.AddIntervention(models.Intervention{
		ID: "iv1", BoxID: "box1", MembershipID: "m1", CoachID: "coach-1",
		InterventionDate: testNow.AddDate(0, 0, -12),
		Outcome:          effectPtr(models.EffectivenessPositive),
	})

	reporter := newTestReporter(fake)
	report, err := reporter.BoxEfficiency(context.Background(), "box1", testNow.AddDate(0, 0, -90))
	require.NoError(t, err)

	assert.Equal(t, 0, report.SuccessfulInterventions)
	assert.Equal(t, 1, report.FailedInterventions)
	assert.Equal(t, 0.0, report.Efficiency)
}

func TestBoxEfficiencyEmptyBox(t *testing.T) {
	fake := storetest.New()
	reporter := newTestReporter(fake)

	report, err := reporter.BoxEfficiency(context.Background(), "box1", testNow.AddDate(0, 0, -90))
	require.NoError(t, err)

	assert.Equal(t, 0, report.TotalEscalations)
	assert.Equal(t, 0.0, report.Efficiency)
	assert.Empty(t, report.ByReason)
	assert.Empty(t, report.ByCoach)
}
