package risk

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

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, fake *storetest.Fake) *Engine {
	t.Helper()
	engine, err := NewEngine(DefaultConfig(), fake, fake)
	require.NoError(t, err)
	engine.now = func() time.Time { return testNow }
	return engine
}

func seedMember(fake *storetest.Fake, joinedAt time.Time) {
	fake.AddBox(models.Box{ID: "box1", Name: "Test Box"})
	fake.AddMembership(models.Membership{
		ID:       "m1",
		BoxID:    "box1",
		UserID:   "u1",
		Role:     models.RoleAthlete,
		Active:   true,
		JoinedAt: joinedAt,
	})
}

func TestConfigValidateWeights(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.AttendanceWeight = 0.50
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 1.0")
}

func TestRiskLevelBoundaries(t *testing.T) {
	cases := []struct {
		score float64
		level models.RiskLevel
	}{
		{24.99, models.RiskLevelLow},
		{25, models.RiskLevelMedium},
		{49.99, models.RiskLevelMedium},
		{50, models.RiskLevelHigh},
		{74.99, models.RiskLevelHigh},
		{75, models.RiskLevelCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.level, models.GetRiskLevel(tc.score), "score %v", tc.score)
	}
}

func TestComputeRiskScoreUnknownMembership(t *testing.T) {
	fake := storetest.New()
	engine := newTestEngine(t, fake)

	_, err := engine.ComputeRiskScore(context.Background(), "box1", "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestComputeRiskScoreSparseDataDefaults(t *testing.T) {
	fake := storetest.New()
	seedMember(fake, testNow.AddDate(0, 0, -10))
	engine := newTestEngine(t, fake)

	score, err := engine.ComputeRiskScore(context.Background(), "box1", "m1")
	require.NoError(t, err)

	// No signals at all: wellness defaults to 50, everything else zero.
	assert.Equal(t, 0.0, score.AttendanceScore)
	assert.Equal(t, 50.0, score.WellnessScore)
	assert.Equal(t, 0.0, score.PerformanceScore)
	assert.Equal(t, 0.0, score.EngagementScore)

	// 100 - 50*0.25
	assert.Equal(t, 87.5, score.OverallRiskScore)
	assert.Equal(t, models.RiskLevelCritical, score.RiskLevel)
	assert.InDelta(t, 0.88, score.ChurnProbability, 1e-9)

	// Joined after the prior window started: no baseline, no trends.
	assert.Nil(t, score.AttendanceTrend)
	assert.Nil(t, score.WellnessTrend)
	assert.Nil(t, score.PerformanceTrend)
	assert.Nil(t, score.EngagementTrend)

	assert.Equal(t, testNow, score.CalculatedAt)
	assert.Equal(t, testNow.AddDate(0, 0, 7), score.ValidUntil)
}

func TestComputeRiskScoreComponentFormulas(t *testing.T) {
	fake := storetest.New()
	seedMember(fake, testNow.AddDate(0, -6, 0))

	// 15 attended sessions in the current window.
	for day := 1; day <= 15; day++ {
		fake.AddAttendance(models.AttendanceRecord{
			ID:           fmt.Sprintf("a%d", day),
			MembershipID: "m1",
			Date:         testNow.AddDate(0, 0, -day),
			Status:       models.AttendanceAttended,
		})
	}
	// 3 PRs and 2 benchmarks: 3*15 + 2*10 = 65.
	for i := 0; i < 3; i++ {
		fake.AddAchievements(models.Achievement{
			ID: fmt.Sprintf("pr%d", i), MembershipID: "m1",
			Kind: models.AchievementPR, AchievedAt: testNow.AddDate(0, 0, -i-1),
		})
	}
	for i := 0; i < 2; i++ {
		fake.AddAchievements(models.Achievement{
			ID: fmt.Sprintf("bm%d", i), MembershipID: "m1",
			Kind: models.AchievementBenchmark, AchievedAt: testNow.AddDate(0, 0, -i-1),
		})
	}

	engine := newTestEngine(t, fake)
	score, err := engine.ComputeRiskScore(context.Background(), "box1", "m1")
	require.NoError(t, err)

	assert.Equal(t, 50.0, score.AttendanceScore)
	assert.Equal(t, 65.0, score.PerformanceScore)
	assert.Equal(t, 0.0, score.EngagementScore)
	assert.Equal(t, 50.0, score.WellnessScore)

	// 100 - (50*0.30 + 50*0.25 + 65*0.20 + 0*0.25) = 59.5
	assert.Equal(t, 59.5, score.OverallRiskScore)
	assert.Equal(t, models.RiskLevelHigh, score.RiskLevel)
}

func TestComputeRiskScoreTrends(t *testing.T) {
	fake := storetest.New()
	seedMember(fake, testNow.AddDate(0, -6, 0))

	// 6 attended in the current 30 days, 12 in the prior 30 days: -50%.
	for day := 1; day <= 6; day++ {
		fake.AddAttendance(models.AttendanceRecord{
			ID: fmt.Sprintf("cur%d", day), MembershipID: "m1",
			Date: testNow.AddDate(0, 0, -day), Status: models.AttendanceAttended,
		})
	}
	for day := 31; day <= 42; day++ {
		fake.AddAttendance(models.AttendanceRecord{
			ID: fmt.Sprintf("prev%d", day), MembershipID: "m1",
			Date: testNow.AddDate(0, 0, -day), Status: models.AttendanceAttended,
		})
	}

	engine := newTestEngine(t, fake)
	score, err := engine.ComputeRiskScore(context.Background(), "box1", "m1")
	require.NoError(t, err)

	require.NotNil(t, score.AttendanceTrend)
	assert.InDelta(t, -50.0, *score.AttendanceTrend, 1e-9)

	// Check-ins exist in neither window: wellness trend stays nil even with
	// a baseline.
	assert.Nil(t, score.WellnessTrend)

	// No achievements either side: counts trend off the epsilon floor.
	require.NotNil(t, score.PerformanceTrend)
	assert.Equal(t, 0.0, *score.PerformanceTrend)
}

func TestRecalculateRiskUpserts(t *testing.T) {
	fake := storetest.New()
	seedMember(fake, testNow.AddDate(0, -6, 0))
	engine := newTestEngine(t, fake)

	first, err := engine.RecalculateRisk(context.Background(), "box1", "m1")
	require.NoError(t, err)

	second, err := engine.RecalculateRisk(context.Background(), "box1", "m1")
	require.NoError(t, err)

	// One live row, replaced wholesale.
	stored, err := fake.GetRiskScore(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, stored.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.OverallRiskScore, second.OverallRiskScore)
}

func TestSweepBoxIsolatesFailures(t *testing.T) {
	fake := storetest.New()
	fake.AddBox(models.Box{ID: "box1"})
	for _, id := range []string{"m1", "m2", "m3"} {
		fake.AddMembership(models.Membership{
			ID: id, BoxID: "box1", UserID: "u-" + id,
			Role: models.RoleAthlete, Active: true,
			JoinedAt: testNow.AddDate(0, -6, 0),
		})
	}

	engine := newTestEngine(t, fake)
	summary, err := engine.SweepBox(context.Background(), "box1")
	require.NoError(t, err)
	assert.Equal(t, models.SweepSummary{Total: 3, Successful: 3, Failed: 0}, summary)

	metrics := engine.GetMetrics()
	assert.Equal(t, int64(3), metrics.CalculationsPerformed)
	assert.Equal(t, int64(0), metrics.CalculationsFailed)
}

func TestPurgeExpired(t *testing.T) {
	fake := storetest.New()
	require.NoError(t, fake.UpsertRiskScore(context.Background(), models.RiskScore{
		ID: "r0", BoxID: "box1", MembershipID: "m0",
		CalculatedAt: testNow.AddDate(0, 0, -120),
		ValidUntil:   testNow.AddDate(0, 0, -113),
	}))
	require.NoError(t, fake.UpsertRiskScore(context.Background(), models.RiskScore{
		ID: "r1", BoxID: "box1", MembershipID: "m1",
		CalculatedAt: testNow.AddDate(0, 0, -10),
		ValidUntil:   testNow.AddDate(0, 0, -3),
	}))
	require.NoError(t, fake.UpsertRiskScore(context.Background(), models.RiskScore{
		ID: "r2", BoxID: "box1", MembershipID: "m2",
		CalculatedAt: testNow,
		ValidUntil:   testNow.AddDate(0, 0, 7),
	}))

	engine := newTestEngine(t, fake)
	purged, err := engine.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, purged)

	// History past the retention horizon goes with the purge; recent history
	// survives for outcome measurement.
	wideFrom := testNow.AddDate(-1, 0, 0)
	history, err := fake.ListRiskScoreHistory(context.Background(), "m0", wideFrom, testNow)
	require.NoError(t, err)
	assert.Empty(t, history)

	history, err = fake.ListRiskScoreHistory(context.Background(), "m1", wideFrom, testNow)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
