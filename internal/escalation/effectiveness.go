package escalation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/boxpulse/retention/internal/store"
	"github.com/boxpulse/retention/pkg/models"
)

// interventionWindow is how long after an escalation a coach has to
// intervene before the escalation counts as unanswered.
const interventionWindow = 7 * 24 * time.Hour

// Reporter builds read-only escalation efficiency reports. It joins each
// escalation to the nearest subsequent intervention for the member and
// scores the pairing by the intervention's measured outcome.
type Reporter struct {
	members   store.MemberStore
	retention store.RetentionStore
	now       func() time.Time
}

// NewReporter creates a new efficiency reporter.
func NewReporter(members store.MemberStore, retention store.RetentionStore) *Reporter {
	return &Reporter{
		members:   members,
		retention: retention,
		now:       time.Now,
	}
}

// BoxEfficiency reports escalation efficiency for one box over escalations
// recorded since the given time. An escalation counts as successful when its
// nearest subsequent intervention within 7 days has a positive outcome;
// it counts as failed when that intervention's outcome is negative or when
// no intervention arrived within the window. Interventions still awaiting
// an outcome count toward neither bucket.
func (r *Reporter) BoxEfficiency(ctx context.Context, boxID string, since time.Time) (models.EscalationEfficiency, error) {
	escalations, err := r.retention.ListEscalationsForBox(ctx, boxID, since)
	if err != nil {
		return models.EscalationEfficiency{}, fmt.Errorf("failed to list escalations for box %s: %w", boxID, err)
	}

	report := models.EscalationEfficiency{
		BoxID:            boxID,
		TotalEscalations: len(escalations),
		ByReason:         make(map[string]int),
		ByCoach:          make(map[string]models.CoachEfficiency),
		GeneratedAt:      r.now().UTC(),
	}

	for _, esc := range escalations {
		report.ByReason[reasonKey(esc.Reason)]++

		intervention, found, err := r.nearestIntervention(ctx, esc)
		if err != nil {
			return models.EscalationEfficiency{}, err
		}
		if !found {
			report.FailedInterventions++
			continue
		}

		if intervention.Outcome == nil {
			// Measured outcome not in yet; leave the pairing unscored.
			continue
		}

		coach := report.ByCoach[intervention.CoachID]
		coach.CoachID = intervention.CoachID
		coach.TotalEscalations++

		switch *intervention.Outcome {
		case models.EffectivenessPositive:
			report.SuccessfulInterventions++
			coach.SuccessfulInterventions++
		case models.EffectivenessNegative:
			report.FailedInterventions++
			coach.FailedInterventions++
		}
		report.ByCoach[intervention.CoachID] = coach
	}

	if report.TotalEscalations > 0 {
		report.Efficiency = models.Round2(float64(report.SuccessfulInterventions) / float64(report.TotalEscalations))
	}
	for id, coach := range report.ByCoach {
		if coach.TotalEscalations > 0 {
			coach.Efficiency = models.Round2(float64(coach.SuccessfulInterventions) / float64(coach.TotalEscalations))
			report.ByCoach[id] = coach
		}
	}

	return report, nil
}

// nearestIntervention finds the earliest intervention for the member at or
// after the escalation, within the 7-day window.
func (r *Reporter) nearestIntervention(ctx context.Context, esc models.Escalation) (models.Intervention, bool, error) {
	interventions, err := r.members.ListInterventionsForMember(ctx, esc.MembershipID, esc.EscalatedAt)
	if err != nil {
		return models.Intervention{}, false, fmt.Errorf("failed to list interventions for %s: %w", esc.MembershipID, err)
	}

	var nearest models.Intervention
	found := false
	deadline := esc.EscalatedAt.Add(interventionWindow)
	for _, iv := range interventions {
		if iv.InterventionDate.Before(esc.EscalatedAt) || iv.InterventionDate.After(deadline) {
			continue
		}
		if !found || iv.InterventionDate.Before(nearest.InterventionDate) {
			nearest = iv
			found = true
		}
	}
	return nearest, found, nil
}

// reasonKey extracts the aggregation key from an escalation reason: the
// clause before the first colon.
func reasonKey(reason string) string {
	key := strings.SplitN(reason, ":", 2)[0]
	return strings.TrimSpace(key)
}
