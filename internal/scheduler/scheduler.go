// Package scheduler runs the retention pipeline on its periodic cadence:
// per-box retention sweeps, the outcome measurement sweep and risk score
// cleanup.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/boxpulse/retention/internal/store"
	"github.com/boxpulse/retention/pkg/models"
)

// Sweeper runs a per-box sweep. All three pipeline stages satisfy it.
type Sweeper interface {
	SweepBox(ctx context.Context, boxID string) (models.SweepSummary, error)
}

// OutcomeSweeper runs the global outcome measurement sweep.
type OutcomeSweeper interface {
	SweepDue(ctx context.Context) (models.SweepSummary, error)
}

// Cleaner purges expired risk score rows.
type Cleaner interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// Guard decides whether a box is entitled to retention sweeps.
type Guard interface {
	SweepAllowed(ctx context.Context, boxID string) bool
}

// Config represents sweep scheduling configuration.
type Config struct {
	RetentionInterval time.Duration `yaml:"retention_interval"`
	OutcomeInterval   time.Duration `yaml:"outcome_interval"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

// DefaultConfig returns default scheduling configuration.
func DefaultConfig() Config {
	return Config{
		RetentionInterval: 6 * time.Hour,
		OutcomeInterval:   24 * time.Hour,
		CleanupInterval:   12 * time.Hour,
	}
}

// Scheduler drives the periodic sweeps.
type Scheduler struct {
	config     Config
	members    store.MemberStore
	risk       Sweeper
	alerts     Sweeper
	escalation Sweeper
	outcomes   OutcomeSweeper
	cleaner    Cleaner
	guard      Guard

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewScheduler creates a new scheduler. The guard is optional; nil allows
// every box.
func NewScheduler(config Config, members store.MemberStore, risk, alerts, escalation Sweeper, outcomes OutcomeSweeper, cleaner Cleaner, guard Guard) *Scheduler {
	def := DefaultConfig()
	if config.RetentionInterval <= 0 {
		config.RetentionInterval = def.RetentionInterval
	}
	if config.OutcomeInterval <= 0 {
		config.OutcomeInterval = def.OutcomeInterval
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	return &Scheduler{
		config:     config,
		members:    members,
		risk:       risk,
		alerts:     alerts,
		escalation: escalation,
		outcomes:   outcomes,
		cleaner:    cleaner,
		guard:      guard,
		stop:       make(chan struct{}),
	}
}

// Start launches the sweep loops. Each loop runs once immediately and then
// on its interval until Stop is called or the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(3)
	go s.loop(ctx, s.config.RetentionInterval, s.runRetentionSweeps)
	go s.loop(ctx, s.config.OutcomeInterval, s.runOutcomeSweep)
	go s.loop(ctx, s.config.CleanupInterval, s.runCleanup)
}

// Stop halts the sweep loops and waits for in-flight sweeps to finish.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, run func(ctx context.Context)) {
	defer s.wg.Done()

	run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			run(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// runRetentionSweeps runs the full pipeline for every entitled box. Stage
// order matters: alerts read the risk scores the calculator just wrote, and
// escalation reads the alerts the generator just wrote.
func (s *Scheduler) runRetentionSweeps(ctx context.Context) {
	boxes, err := s.members.ListBoxes(ctx)
	if err != nil {
		log.Printf("Failed to list boxes for retention sweep: %v", err)
		return
	}

	for _, box := range boxes {
		if s.guard != nil && !s.guard.SweepAllowed(ctx, box.ID) {
			log.Printf("Skipping retention sweep for box %s: subscription does not allow it", box.ID)
			continue
		}

		riskSummary, err := s.risk.SweepBox(ctx, box.ID)
		if err != nil {
			log.Printf("Risk sweep failed for box %s: %v", box.ID, err)
			continue
		}
		alertSummary, err := s.alerts.SweepBox(ctx, box.ID)
		if err != nil {
			log.Printf("Alert sweep failed for box %s: %v", box.ID, err)
			continue
		}
		escalationSummary, err := s.escalation.SweepBox(ctx, box.ID)
		if err != nil {
			log.Printf("Escalation sweep failed for box %s: %v", box.ID, err)
			continue
		}

		log.Printf("Retention sweep for box %s: risk %d/%d, alerts %d/%d, escalations %d/%d",
			box.ID,
			riskSummary.Successful, riskSummary.Total,
			alertSummary.Successful, alertSummary.Total,
			escalationSummary.Successful, escalationSummary.Total)
	}
}

func (s *Scheduler) runOutcomeSweep(ctx context.Context) {
	summary, err := s.outcomes.SweepDue(ctx)
	if err != nil {
		log.Printf("Outcome sweep failed: %v", err)
		return
	}
	if summary.Total > 0 {
		log.Printf("Outcome sweep: measured %d/%d interventions", summary.Successful, summary.Total)
	}
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	purged, err := s.cleaner.PurgeExpired(ctx)
	if err != nil {
		log.Printf("Risk score cleanup failed: %v", err)
		return
	}
	if purged > 0 {
		log.Printf("Purged %d expired risk scores", purged)
	}
}
