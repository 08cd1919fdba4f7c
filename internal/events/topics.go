package events

// Topic names for the retention event streams. Alerts and escalations share
// a stream keyed by membership so consumers see a member's lifecycle in
// order; outcomes are a separate, lower-volume stream.
const (
	TopicAlerts   = "retention.alerts"
	TopicOutcomes = "retention.outcomes"
)
