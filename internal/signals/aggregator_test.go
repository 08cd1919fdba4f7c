package signals

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxpulse/retention/internal/store/storetest"
	"github.com/boxpulse/retention/pkg/models"
)

func TestWindowAggregatesAttendance(t *testing.T) {
	fake := storetest.New()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	from := now.AddDate(0, 0, -30)

	fake.AddAttendance(
		models.AttendanceRecord{ID: "a1", MembershipID: "m1", Date: now.AddDate(0, 0, -1), Status: models.AttendanceAttended},
		models.AttendanceRecord{ID: "a2", MembershipID: "m1", Date: now.AddDate(0, 0, -2), Status: models.AttendanceAttended},
		models.AttendanceRecord{ID: "a3", MembershipID: "m1", Date: now.AddDate(0, 0, -3), Status: models.AttendanceNoShow},
		// Outside the window.
		models.AttendanceRecord{ID: "a4", MembershipID: "m1", Date: now.AddDate(0, 0, -40), Status: models.AttendanceAttended},
	)

	agg := NewAggregator(fake)
	snap, err := agg.Window(context.Background(), "m1", from, now)
	require.NoError(t, err)

	assert.Equal(t, 30, snap.Days)
	assert.Equal(t, 2, snap.AttendedCount)
	assert.InDelta(t, 2.0/30.0, snap.AttendanceRate, 1e-9)
}

func TestWindowWellnessComposite(t *testing.T) {
	fake := storetest.New()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	from := now.AddDate(0, 0, -30)

	fake.AddCheckins(
		models.WellnessCheckin{ID: "c1", MembershipID: "m1", Date: now.AddDate(0, 0, -1), Energy: 8, SleepQuality: 6, Stress: 4, Readiness: 7},
		models.WellnessCheckin{ID: "c2", MembershipID: "m1", Date: now.AddDate(0, 0, -2), Energy: 6, SleepQuality: 8, Stress: 2, Readiness: 9},
	)

	agg := NewAggregator(fake)
	snap, err := agg.Window(context.Background(), "m1", from, now)
	require.NoError(t, err)

	assert.True(t, snap.HasWellness)
	assert.Equal(t, 2, snap.CheckinCount)
	assert.InDelta(t, 7.0, snap.AvgEnergy, 1e-9)
	assert.InDelta(t, 7.0, snap.AvgSleepQuality, 1e-9)
	assert.InDelta(t, 3.0, snap.AvgStress, 1e-9)
	assert.InDelta(t, 8.0, snap.AvgReadiness, 1e-9)
	// (70 + 70 + 70 + 80) / 4
	assert.InDelta(t, 72.5, snap.WellnessComposite, 1e-9)
}

func TestWindowWellnessDefaultsToNeutral(t *testing.T) {
	fake := storetest.New()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	agg := NewAggregator(fake)
	snap, err := agg.Window(context.Background(), "m1", now.AddDate(0, 0, -30), now)
	require.NoError(t, err)

	assert.False(t, snap.HasWellness)
	assert.Equal(t, NeutralWellness, snap.WellnessComposite)
}

func TestWindowCountsAchievements(t *testing.T) {
	fake := storetest.New()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	fake.AddAchievements(
		models.Achievement{ID: "p1", MembershipID: "m1", Kind: models.AchievementPR, AchievedAt: now.AddDate(0, 0, -5)},
		models.Achievement{ID: "p2", MembershipID: "m1", Kind: models.AchievementPR, AchievedAt: now.AddDate(0, 0, -10)},
		models.Achievement{ID: "b1", MembershipID: "m1", Kind: models.AchievementBenchmark, AchievedAt: now.AddDate(0, 0, -15)},
	)

	agg := NewAggregator(fake)
	snap, err := agg.Window(context.Background(), "m1", now.AddDate(0, 0, -30), now)
	require.NoError(t, err)

	assert.Equal(t, 2, snap.PRCount)
	assert.Equal(t, 1, snap.BenchmarkCount)
}

func TestRecency(t *testing.T) {
	fake := storetest.New()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	fake.AddAttendance(models.AttendanceRecord{ID: "a1", MembershipID: "m1", Date: now.AddDate(0, 0, -4), Status: models.AttendanceAttended})
	fake.AddCheckins(models.WellnessCheckin{ID: "c1", MembershipID: "m1", Date: now.AddDate(0, 0, -9), Energy: 5, SleepQuality: 5, Stress: 5, Readiness: 5})

	agg := NewAggregator(fake)
	rec, err := agg.Recency(context.Background(), "m1", now)
	require.NoError(t, err)

	require.NotNil(t, rec.DaysSinceLastVisit)
	assert.Equal(t, 4, *rec.DaysSinceLastVisit)
	require.NotNil(t, rec.DaysSinceLastCheckin)
	assert.Equal(t, 9, *rec.DaysSinceLastCheckin)
	assert.Nil(t, rec.DaysSinceLastPR)
}
