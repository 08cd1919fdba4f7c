package models

import "time"

// Role represents a membership role within a box.
type Role string

const (
	RoleAthlete   Role = "athlete"
	RoleCoach     Role = "coach"
	RoleHeadCoach Role = "head_coach"
	RoleOwner     Role = "owner"
)

// IsCoaching reports whether the role belongs to coaching staff.
func (r Role) IsCoaching() bool {
	return r == RoleCoach || r == RoleHeadCoach || r == RoleOwner
}

// Box represents a tenant (gym/studio) on the platform.
type Box struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	StripeSubscriptionID string    `json:"stripe_subscription_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

// Membership represents a person's role-scoped association with a box.
type Membership struct {
	ID       string     `json:"id"`
	BoxID    string     `json:"box_id"`
	UserID   string     `json:"user_id"`
	Role     Role       `json:"role"`
	Active   bool       `json:"active"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
}

// AttendanceStatus classifies a single attendance ledger entry.
type AttendanceStatus string

const (
	AttendanceAttended   AttendanceStatus = "attended"
	AttendanceNoShow     AttendanceStatus = "no_show"
	AttendanceLateCancel AttendanceStatus = "late_cancel"
	AttendanceExcused    AttendanceStatus = "excused"
)

// AttendanceRecord is one entry in the attendance ledger.
type AttendanceRecord struct {
	ID           string           `json:"id"`
	MembershipID string           `json:"membership_id"`
	Date         time.Time        `json:"date"`
	Status       AttendanceStatus `json:"status"`
}

// WellnessCheckin is a member's daily self-reported wellness entry.
// All metrics are on a 1-10 scale.
type WellnessCheckin struct {
	ID           string    `json:"id"`
	MembershipID string    `json:"membership_id"`
	Date         time.Time `json:"date"`
	Energy       float64   `json:"energy"`
	SleepQuality float64   `json:"sleep_quality"`
	Stress       float64   `json:"stress"`
	Readiness    float64   `json:"readiness"`
	Motivation   float64   `json:"motivation"`
}

// AchievementKind distinguishes personal records from benchmark results.
type AchievementKind string

const (
	AchievementPR        AchievementKind = "pr"
	AchievementBenchmark AchievementKind = "benchmark"
)

// Achievement is one entry in the achievement ledger.
type Achievement struct {
	ID           string          `json:"id"`
	MembershipID string          `json:"membership_id"`
	Kind         AchievementKind `json:"kind"`
	Movement     string          `json:"movement"`
	AchievedAt   time.Time       `json:"achieved_at"`
}

// Intervention is a coach-authored outreach record. It is produced outside
// this engine; the outcome tracker only reads it.
type Intervention struct {
	ID               string         `json:"id"`
	BoxID            string         `json:"box_id"`
	MembershipID     string         `json:"membership_id"`
	CoachID          string         `json:"coach_id"`
	AlertID          *string        `json:"alert_id,omitempty"`
	Kind             string         `json:"kind"`
	Notes            string         `json:"notes,omitempty"`
	InterventionDate time.Time      `json:"intervention_date"`
	Outcome          *Effectiveness `json:"outcome,omitempty"`
}
