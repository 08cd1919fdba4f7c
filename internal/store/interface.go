package store

import (
	"context"
	"time"

	"github.com/boxpulse/retention/pkg/models"
)

// MemberStore exposes the external collaborators the retention engine reads:
// the membership directory, the attendance/wellness/achievement ledgers, the
// coach roster and intervention records. The engine never writes through it.
type MemberStore interface {
	// Membership directory
	GetBox(ctx context.Context, boxID string) (models.Box, error)
	ListBoxes(ctx context.Context) ([]models.Box, error)
	GetMembership(ctx context.Context, boxID, membershipID string) (models.Membership, error)
	ListActiveMembers(ctx context.Context, boxID string) ([]models.Membership, error)

	// Coach roster (active coach, head_coach and owner memberships)
	ListCoaches(ctx context.Context, boxID string) ([]models.Membership, error)

	// Attendance ledger
	AttendanceBetween(ctx context.Context, membershipID string, from, to time.Time) ([]models.AttendanceRecord, error)
	LastAttendedAt(ctx context.Context, membershipID string) (*time.Time, error)

	// Wellness check-ins
	CheckinsBetween(ctx context.Context, membershipID string, from, to time.Time) ([]models.WellnessCheckin, error)
	LastCheckinAt(ctx context.Context, membershipID string) (*time.Time, error)

	// Achievement ledger
	AchievementsBetween(ctx context.Context, membershipID string, from, to time.Time) ([]models.Achievement, error)
	LastPRAt(ctx context.Context, membershipID string) (*time.Time, error)

	// Intervention records
	GetIntervention(ctx context.Context, interventionID string) (models.Intervention, error)
	ListInterventionsBefore(ctx context.Context, cutoff time.Time) ([]models.Intervention, error)
	ListInterventionsForMember(ctx context.Context, membershipID string, after time.Time) ([]models.Intervention, error)
}

// RiskHistoryRetentionDays bounds how long replaced risk score rows are kept.
// The outcome tracker reads history at most measurement delay plus one
// measurement period behind an intervention date; 90 days leaves slack
// beyond both defaults.
const RiskHistoryRetentionDays = 90

// RetentionStore persists everything this engine produces. Upsert and
// create-once semantics are the store's responsibility so overlapping sweeps
// resolve to last-writer-wins without optimistic locking.
type RetentionStore interface {
	// Risk scores: one live row per membership, replaced wholesale.
	UpsertRiskScore(ctx context.Context, score models.RiskScore) error
	GetRiskScore(ctx context.Context, membershipID string) (models.RiskScore, error)
	ListRiskScores(ctx context.Context, boxID string) ([]models.RiskScore, error)
	ListRiskScoreHistory(ctx context.Context, membershipID string, from, to time.Time) ([]models.RiskScore, error)
	PurgeExpiredRiskScores(ctx context.Context, now time.Time) (int, error)

	// Alerts
	CreateAlert(ctx context.Context, alert models.Alert) error
	UpdateAlert(ctx context.Context, alert models.Alert) error
	GetAlert(ctx context.Context, alertID string) (models.Alert, error)
	GetActiveAlert(ctx context.Context, membershipID string, alertType models.AlertType) (models.Alert, error)
	ListActiveAlerts(ctx context.Context, boxID string) ([]models.Alert, error)
	ListAlertsForMember(ctx context.Context, membershipID string) ([]models.Alert, error)

	// Escalations (append-only)
	AppendEscalation(ctx context.Context, esc models.Escalation) error
	ListEscalationsForAlert(ctx context.Context, alertID string) ([]models.Escalation, error)
	ListEscalationsForBox(ctx context.Context, boxID string, since time.Time) ([]models.Escalation, error)

	// Intervention outcomes (write-once per intervention)
	CreateOutcome(ctx context.Context, outcome models.InterventionOutcome) error
	GetOutcome(ctx context.Context, interventionID string) (models.InterventionOutcome, error)

	// Health and maintenance
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
