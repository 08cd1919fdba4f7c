// Package events publishes retention lifecycle events to Kafka for the
// notification and UI layers. Publishing is best-effort from the engines'
// point of view; delivery guarantees live in the broker configuration.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/boxpulse/retention/pkg/models"
)

// Publisher marshals typed retention events and sends them through a
// Producer. It satisfies the publisher interfaces the engines declare.
type Publisher struct {
	producer Producer
	now      func() time.Time
}

// NewPublisher creates a new event publisher.
func NewPublisher(producer Producer) *Publisher {
	return &Publisher{
		producer: producer,
		now:      time.Now,
	}
}

// AlertCreated publishes an alert creation event.
func (p *Publisher) AlertCreated(ctx context.Context, alert models.Alert) error {
	return p.sendAlert(ctx, models.EventAlertCreated, alert)
}

// AlertUpdated publishes an alert update event.
func (p *Publisher) AlertUpdated(ctx context.Context, alert models.Alert) error {
	return p.sendAlert(ctx, models.EventAlertUpdated, alert)
}

// AlertEscalated publishes an escalation event.
func (p *Publisher) AlertEscalated(ctx context.Context, alert models.Alert, esc models.Escalation) error {
	event := models.EscalationEvent{
		BaseEvent:  p.envelope(models.EventAlertEscalated, alert.BoxID, alert.MembershipID),
		Alert:      alert,
		Escalation: esc,
	}
	return p.send(ctx, TopicAlerts, alert.MembershipID, event)
}

// OutcomeMeasured publishes a measured outcome event.
func (p *Publisher) OutcomeMeasured(ctx context.Context, outcome models.InterventionOutcome) error {
	event := models.OutcomeEvent{
		BaseEvent: p.envelope(models.EventOutcomeMeasured, outcome.BoxID, outcome.MembershipID),
		Outcome:   outcome,
	}
	return p.send(ctx, TopicOutcomes, outcome.MembershipID, event)
}

func (p *Publisher) sendAlert(ctx context.Context, eventType models.EventType, alert models.Alert) error {
	event := models.AlertEvent{
		BaseEvent: p.envelope(eventType, alert.BoxID, alert.MembershipID),
		Alert:     alert,
	}
	return p.send(ctx, TopicAlerts, alert.MembershipID, event)
}

func (p *Publisher) envelope(eventType models.EventType, boxID, membershipID string) models.BaseEvent {
	return models.BaseEvent{
		ID:           uuid.New().String(),
		Type:         eventType,
		BoxID:        boxID,
		MembershipID: membershipID,
		OccurredAt:   p.now().UTC(),
	}
}

func (p *Publisher) send(ctx context.Context, topic, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.producer.Send(ctx, topic, []byte(key), payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// NopPublisher discards every event. Used when event publishing is disabled
// and in tests.
type NopPublisher struct{}

func (NopPublisher) AlertCreated(context.Context, models.Alert) error { return nil }
func (NopPublisher) AlertUpdated(context.Context, models.Alert) error { return nil }
func (NopPublisher) AlertEscalated(context.Context, models.Alert, models.Escalation) error {
	return nil
}
func (NopPublisher) OutcomeMeasured(context.Context, models.InterventionOutcome) error { return nil }
