package outcome

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxpulse/retention/internal/store"
	"github.com/boxpulse/retention/internal/store/storetest"
	"github.com/boxpulse/retention/pkg/models"
)

var (
	testNow         = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	interventionDay = time.Date(2026, 1, 25, 0, 0, 0, 0, time.UTC)
)

func newTestTracker(fake *storetest.Fake) *Tracker {
	tr := NewTracker(DefaultConfig(), fake, fake, nil)
	tr.now = func() time.Time { return testNow }
	return tr
}

func seedIntervention(fake *storetest.Fake, id string) {
	fake.AddIntervention(models.Intervention{
		ID: id, BoxID: "box1", MembershipID: "m1", CoachID: "coach-1",
		Kind:             "call",
		InterventionDate: interventionDay,
	})
}

// seedAttendance adds one attended session per day for n days starting at
// from.
func seedAttendance(fake *storetest.Fake, prefix string, from time.Time, n int) {
	for i := 0; i < n; i++ {
		fake.AddAttendance(models.AttendanceRecord{
			ID:           fmt.Sprintf("%s%d", prefix, i),
			MembershipID: "m1",
			Date:         from.AddDate(0, 0, i),
			Status:       models.AttendanceAttended,
		})
	}
}

func TestMeasureOutcomeAttendanceRecovery(t *testing.T) {
	fake := storetest.New()
	seedIntervention(fake, "iv1")

	// 6 of 30 days attended before, 21 of 30 after.
	seedAttendance(fake, "pre", interventionDay.AddDate(0, 0, -30), 6)
	seedAttendance(fake, "post", interventionDay.AddDate(0, 0, 1), 21)

	tracker := newTestTracker(fake)
	out, err := tracker.MeasureOutcome(context.Background(), "iv1")
	require.NoError(t, err)

	assert.Equal(t, "iv1", out.InterventionID)
	assert.Equal(t, "box1", out.BoxID)
	assert.Equal(t, "m1", out.MembershipID)

	// No recorded risk scores in either window.
	assert.Nil(t, out.RiskScoreChange)

	assert.InDelta(t, 50.0, out.AttendanceRateChange, 1e-9)
	assert.Equal(t, 0.0, out.CheckinRateChange)
	assert.Equal(t, 0.0, out.WellnessChange)
	assert.Equal(t, 0.0, out.PRActivityChange)

	// 50 + 0.25*50
	assert.Equal(t, 62.5, out.EffectivenessScore)
	assert.Equal(t, models.EffectivenessPositive, out.OverallEffectiveness)

	assert.Equal(t, 30, out.MeasurementPeriodDays)
	assert.Equal(t, testNow, out.MeasuredAt)
}

func TestMeasureOutcomeNegative(t *testing.T) {
	fake := storetest.New()
	seedIntervention(fake, "iv1")

	// Attendance collapsed after the intervention: 15 of 30 down to 0.
	seedAttendance(fake, "pre", interventionDay.AddDate(0, 0, -30), 15)

	tracker := newTestTracker(fake)
	out, err := tracker.MeasureOutcome(context.Background(), "iv1")
	require.NoError(t, err)

	assert.InDelta(t, -50.0, out.AttendanceRateChange, 1e-9)
	// 50 - 0.25*50
	assert.Equal(t, 37.5, out.EffectivenessScore)
	assert.Equal(t, models.EffectivenessNegative, out.OverallEffectiveness)
}

func TestMeasureOutcomeRiskDelta(t *testing.T) {
	fake := storetest.New()
	seedIntervention(fake, "iv1")

	ctx := context.Background()
	// Two pre-window scores averaging 80, one post-window score of 60.
	require.NoError(t, fake.UpsertRiskScore(ctx, models.RiskScore{
		ID: "r1", BoxID: "box1", MembershipID: "m1", OverallRiskScore: 85,
		CalculatedAt: interventionDay.AddDate(0, 0, -20),
	}))
	require.NoError(t, fake.UpsertRiskScore(ctx, models.RiskScore{
		ID: "r2", BoxID: "box1", MembershipID: "m1", OverallRiskScore: 75,
		CalculatedAt: interventionDay.AddDate(0, 0, -5),
	}))
	require.NoError(t, fake.UpsertRiskScore(ctx, models.RiskScore{
		ID: "r3", BoxID: "box1", MembershipID: "m1", OverallRiskScore: 60,
		CalculatedAt: interventionDay.AddDate(0, 0, 10),
	}))

	tracker := newTestTracker(fake)
	out, err := tracker.MeasureOutcome(ctx, "iv1")
	require.NoError(t, err)

	// Risk dropped 20 points: pre minus post, positive is improvement.
	require.NotNil(t, out.RiskScoreChange)
	assert.InDelta(t, 20.0, *out.RiskScoreChange, 1e-9)

	// 50 + 0.30*20
	assert.Equal(t, 56.0, out.EffectivenessScore)
	assert.Equal(t, models.EffectivenessNeutral, out.OverallEffectiveness)
}

func TestMeasureOutcomeUnknownIntervention(t *testing.T) {
	fake := storetest.New()
	tracker := newTestTracker(fake)

	_, err := tracker.MeasureOutcome(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMeasureOutcomeWriteOnce(t *testing.T) {
	fake := storetest.New()
	seedIntervention(fake, "iv1")
	seedAttendance(fake, "post", interventionDay.AddDate(0, 0, 1), 21)

	tracker := newTestTracker(fake)
	first, err := tracker.MeasureOutcome(context.Background(), "iv1")
	require.NoError(t, err)

	// A second measurement returns the stored row without recomputing,
	// even though the underlying signals have changed since.
	seedAttendance(fake, "late", interventionDay.AddDate(0, 0, 22), 5)
	second, err := tracker.MeasureOutcome(context.Background(), "iv1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.EffectivenessScore, second.EffectivenessScore)
	assert.Equal(t, first.MeasuredAt, second.MeasuredAt)
}

func TestMeasureOutcomeDeterministic(t *testing.T) {
	seed := func() *storetest.Fake {
		fake := storetest.New()
		seedIntervention(fake, "iv1")
		seedAttendance(fake, "pre", interventionDay.AddDate(0, 0, -30), 6)
		seedAttendance(fake, "post", interventionDay.AddDate(0, 0, 1), 21)
		return fake
	}

	first, err := newTestTracker(seed()).MeasureOutcome(context.Background(), "iv1")
	require.NoError(t, err)
	second, err := newTestTracker(seed()).MeasureOutcome(context.Background(), "iv1")
	require.NoError(t, err)

	assert.Equal(t, first.EffectivenessScore, second.EffectivenessScore)
	assert.Equal(t, first.AttendanceRateChange, second.AttendanceRateChange)
	assert.Equal(t, first.OverallEffectiveness, second.OverallEffectiveness)
}

func TestSweepDue(t *testing.T) {
	fake := storetest.New()

	// Old enough to measure.
	fake.AddIntervention(models.Intervention{
		ID: "iv-due", BoxID: "box1", MembershipID: "m1", CoachID: "coach-1",
		InterventionDate: testNow.AddDate(0, 0, -35),
	})
	// Already measured: skipped silently.
	fake.AddIntervention(models.Intervention{
		ID: "iv-done", BoxID: "box1", MembershipID: "m2", CoachID: "coach-1",
		InterventionDate: testNow.AddDate(0, 0, -40),
	})
	require.NoError(t, fake.CreateOutcome(context.Background(), models.InterventionOutcome{
		ID: "o1", InterventionID: "iv-done", BoxID: "box1", MembershipID: "m2",
	}))
	// Post window still open: not due yet.
	fake.AddIntervention(models.Intervention{
		ID: "iv-fresh", BoxID: "box1", MembershipID: "m3", CoachID: "coach-1",
		InterventionDate: testNow.AddDate(0, 0, -10),
	})

	tracker := newTestTracker(fake)
	summary, err := tracker.SweepDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SweepSummary{Total: 1, Successful: 1, Failed: 0}, summary)

	_, err = fake.GetOutcome(context.Background(), "iv-due")
	assert.NoError(t, err)
	_, err = fake.GetOutcome(context.Background(), "iv-fresh")
	assert.ErrorIs(t, err, store.ErrNotFound)

	metrics := tracker.GetMetrics()
	assert.Equal(t, int64(1), metrics.OutcomesMeasured)
	assert.Equal(t, int64(0), metrics.MeasurementsFailed)

	// Re-running is a no-op.
	summary, err = tracker.SweepDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SweepSummary{}, summary)
}
