package models

import "time"

// Escalation is an append-only audit record of one severity change.
// Rows are created exactly once per detected escalation event and are
// immutable thereafter.
type Escalation struct {
	ID            string        `json:"id"`
	AlertID       string        `json:"alert_id"`
	BoxID         string        `json:"box_id"`
	MembershipID  string        `json:"membership_id"`
	FromSeverity  AlertSeverity `json:"from_severity"`
	ToSeverity    AlertSeverity `json:"to_severity"`
	Reason        string        `json:"reason"`
	AutoEscalated bool          `json:"auto_escalated"`
	EscalatedAt   time.Time     `json:"escalated_at"`
}

// EscalationEfficiency is the read-only effectiveness report joining
// escalations to subsequent interventions.
type EscalationEfficiency struct {
	BoxID                   string                     `json:"box_id"`
	TotalEscalations        int                        `json:"total_escalations"`
	SuccessfulInterventions int                        `json:"successful_interventions"`
	FailedInterventions     int                        `json:"failed_interventions"`
	Efficiency              float64                    `json:"efficiency"`
	ByReason                map[string]int             `json:"by_reason"`
	ByCoach                 map[string]CoachEfficiency `json:"by_coach"`
	GeneratedAt             time.Time                  `json:"generated_at"`
}

// CoachEfficiency is the per-coach slice of the efficiency report.
type CoachEfficiency struct {
	CoachID                 string  `json:"coach_id"`
	TotalEscalations        int     `json:"total_escalations"`
	SuccessfulInterventions int     `json:"successful_interventions"`
	FailedInterventions     int     `json:"failed_interventions"`
	Efficiency              float64 `json:"efficiency"`
}
