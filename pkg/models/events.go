package models

import "time"

// EventType identifies a retention event published for downstream consumers
// (notification and UI layers).
type EventType string

const (
	EventAlertCreated    EventType = "alert.created"
	EventAlertUpdated    EventType = "alert.updated"
	EventAlertEscalated  EventType = "alert.escalated"
	EventOutcomeMeasured EventType = "outcome.measured"
)

// BaseEvent is the envelope every published event shares.
type BaseEvent struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	BoxID        string    `json:"box_id"`
	MembershipID string    `json:"membership_id"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// AlertEvent wraps an alert state change.
type AlertEvent struct {
	BaseEvent
	Alert Alert `json:"alert"`
}

// EscalationEvent wraps an escalation audit record together with the alert
// it applied to.
type EscalationEvent struct {
	BaseEvent
	Alert      Alert      `json:"alert"`
	Escalation Escalation `json:"escalation"`
}

// OutcomeEvent wraps a measured intervention outcome.
type OutcomeEvent struct {
	BaseEvent
	Outcome InterventionOutcome `json:"outcome"`
}
