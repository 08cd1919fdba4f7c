// Package signals turns the raw member ledgers (attendance, wellness
// check-ins, achievements) into time-windowed aggregates. Both the risk
// score calculator and the outcome tracker read their windows through this
// package so pre/post comparisons are always computed the same way.
package signals

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/boxpulse/retention/internal/store"
	"github.com/boxpulse/retention/pkg/models"
)

// NeutralWellness is the composite wellness score assumed when a member has
// no check-ins in a window. Sparse data is the common case and must not
// read as a crisis.
const NeutralWellness = 50.0

// Snapshot holds the aggregates for one time window.
type Snapshot struct {
	From time.Time
	To   time.Time
	Days int

	AttendedCount  int
	AttendanceRate float64 // attended sessions per day, 0-1

	CheckinCount int
	CheckinRate  float64 // check-ins per day, 0-1

	HasWellness       bool
	AvgEnergy         float64
	AvgSleepQuality   float64
	AvgStress         float64
	AvgReadiness      float64
	WellnessComposite float64 // 0-100, NeutralWellness when HasWellness is false

	PRCount        int
	BenchmarkCount int
}

// Recency holds day gaps since a member's last events. Nil means the event
// has never happened.
type Recency struct {
	DaysSinceLastVisit   *int
	DaysSinceLastCheckin *int
	DaysSinceLastPR      *int
}

// Aggregator computes windowed signal aggregates from the member ledgers.
type Aggregator struct {
	members store.MemberStore
}

// NewAggregator creates a new signal aggregator.
func NewAggregator(members store.MemberStore) *Aggregator {
	return &Aggregator{members: members}
}

// Window computes the aggregates for [from, to). The three ledgers are
// fetched concurrently; the first fetch error fails the whole window.
func (a *Aggregator) Window(ctx context.Context, membershipID string, from, to time.Time) (Snapshot, error) {
	snap := Snapshot{
		From: from,
		To:   to,
		Days: windowDays(from, to),
	}

	var (
		wg           sync.WaitGroup
		attendance   []models.AttendanceRecord
		checkins     []models.WellnessCheckin
		achievements []models.Achievement
		errs         [3]error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		attendance, errs[0] = a.members.AttendanceBetween(ctx, membershipID, from, to)
	}()
	go func() {
		defer wg.Done()
		checkins, errs[1] = a.members.CheckinsBetween(ctx, membershipID, from, to)
	}()
	go func() {
		defer wg.Done()
		achievements, errs[2] = a.members.AchievementsBetween(ctx, membershipID, from, to)
	}()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return Snapshot{}, err
		}
	}

	for _, rec := range attendance {
		if rec.Status == models.AttendanceAttended {
			snap.AttendedCount++
		}
	}
	if snap.Days > 0 {
		snap.AttendanceRate = float64(snap.AttendedCount) / float64(snap.Days)
	}

	snap.CheckinCount = len(checkins)
	if snap.Days > 0 {
		snap.CheckinRate = float64(snap.CheckinCount) / float64(snap.Days)
	}
	snap.applyWellness(checkins)

	for _, ach := range achievements {
		switch ach.Kind {
		case models.AchievementPR:
			snap.PRCount++
		case models.AchievementBenchmark:
			snap.BenchmarkCount++
		}
	}

	return snap, nil
}

// Recency computes the day gaps since the member's last attended session,
// last check-in and last PR as of now.
func (a *Aggregator) Recency(ctx context.Context, membershipID string, now time.Time) (Recency, error) {
	var (
		wg                             sync.WaitGroup
		lastVisit, lastCheckin, lastPR *time.Time
		errs                           [3]error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		lastVisit, errs[0] = a.members.LastAttendedAt(ctx, membershipID)
	}()
	go func() {
		defer wg.Done()
		lastCheckin, errs[1] = a.members.LastCheckinAt(ctx, membershipID)
	}()
	go func() {
		defer wg.Done()
		lastPR, errs[2] = a.members.LastPRAt(ctx, membershipID)
	}()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return Recency{}, err
		}
	}

	return Recency{
		DaysSinceLastVisit:   daysSince(lastVisit, now),
		DaysSinceLastCheckin: daysSince(lastCheckin, now),
		DaysSinceLastPR:      daysSince(lastPR, now),
	}, nil
}

func (s *Snapshot) applyWellness(checkins []models.WellnessCheckin) {
	if len(checkins) == 0 {
		s.WellnessComposite = NeutralWellness
		return
	}

	var energy, sleep, stress, readiness float64
	for _, c := range checkins {
		energy += c.Energy
		sleep += c.SleepQuality
		stress += c.Stress
		readiness += c.Readiness
	}
	n := float64(len(checkins))
	s.HasWellness = true
	s.AvgEnergy = energy / n
	s.AvgSleepQuality = sleep / n
	s.AvgStress = stress / n
	s.AvgReadiness = readiness / n

	// Each sub-metric scaled x10; stress inverts because high stress is bad.
	s.WellnessComposite = (s.AvgEnergy*10 + s.AvgSleepQuality*10 + (10-s.AvgStress)*10 + s.AvgReadiness*10) / 4
}

func windowDays(from, to time.Time) int {
	days := int(math.Round(to.Sub(from).Hours() / 24))
	if days < 0 {
		return 0
	}
	return days
}

func daysSince(t *time.Time, now time.Time) *int {
	if t == nil {
		return nil
	}
	days := int(now.Sub(*t).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return &days
}
