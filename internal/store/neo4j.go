package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/boxpulse/retention/pkg/models"
)

// Neo4jStore implements MemberStore and RetentionStore on Neo4j.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
	config Config
}

// Config represents store configuration.
type Config struct {
	URI         string        `yaml:"uri"`
	Database    string        `yaml:"database"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	MaxPoolSize int           `yaml:"max_pool_size"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
}

// DefaultConfig returns default store configuration.
func DefaultConfig() Config {
	return Config{
		URI:         "bolt://localhost:7687",
		Database:    "neo4j",
		MaxPoolSize: 50,
		ConnTimeout: 30 * time.Second,
	}
}

// NewNeo4jStore creates a new Neo4j-backed store.
func NewNeo4jStore(config Config) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(
		config.URI,
		neo4j.BasicAuth(config.Username, config.Password, ""),
		func(c *neo4j.Config) {
			c.MaxConnectionPoolSize = config.MaxPoolSize
			c.MaxConnectionLifetime = time.Hour
			c.ConnectionAcquisitionTimeout = config.ConnTimeout
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to verify Neo4j connectivity: %w", err)
	}

	s := &Neo4jStore{driver: driver, config: config}

	if err := s.initializeSchema(ctx); err != nil {
		log.Printf("Warning: failed to initialize schema: %v", err)
	}

	return s, nil
}

// initializeSchema creates uniqueness constraints and indexes. The partial
// uniqueness of active alerts per (membership, type) cannot be expressed as a
// plain constraint, so MERGE in CreateAlert enforces it instead.
func (s *Neo4jStore) initializeSchema(ctx context.Context) error {
	session := s.session(ctx)
	defer session.Close(ctx)

	statements := []string{
		"CREATE CONSTRAINT box_id IF NOT EXISTS FOR (n:Box) REQUIRE n.id IS UNIQUE",
		"CREATE CONSTRAINT membership_id IF NOT EXISTS FOR (n:Membership) REQUIRE n.id IS UNIQUE",
		"CREATE CONSTRAINT risk_score_membership IF NOT EXISTS FOR (n:RiskScore) REQUIRE n.membership_id IS UNIQUE",
		"CREATE CONSTRAINT alert_id IF NOT EXISTS FOR (n:Alert) REQUIRE n.id IS UNIQUE",
		"CREATE CONSTRAINT escalation_id IF NOT EXISTS FOR (n:Escalation) REQUIRE n.id IS UNIQUE",
		"CREATE CONSTRAINT outcome_intervention IF NOT EXISTS FOR (n:Outcome) REQUIRE n.intervention_id IS UNIQUE",
		"CREATE INDEX attendance_member_date IF NOT EXISTS FOR (n:Attendance) ON (n.membership_id, n.date)",
		"CREATE INDEX checkin_member_date IF NOT EXISTS FOR (n:Checkin) ON (n.membership_id, n.date)",
		"CREATE INDEX achievement_member_date IF NOT EXISTS FOR (n:Achievement) ON (n.membership_id, n.achieved_at)",
		"CREATE INDEX alert_box_status IF NOT EXISTS FOR (n:Alert) ON (n.box_id, n.status)",
		"CREATE INDEX escalation_box_date IF NOT EXISTS FOR (n:Escalation) ON (n.box_id, n.escalated_at)",
		"CREATE INDEX risk_history_member_date IF NOT EXISTS FOR (n:RiskScoreHistory) ON (n.membership_id, n.calculated_at)",
		"CREATE INDEX intervention_date IF NOT EXISTS FOR (n:Intervention) ON (n.intervention_date)",
	}

	for _, stmt := range statements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("failed to run %q: %w", stmt, err)
		}
	}

	return nil
}

func (s *Neo4jStore) session(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.config.Database})
}

// Ping verifies store connectivity.
func (s *Neo4jStore) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// Close closes the underlying driver.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// ---- Membership directory ----

func (s *Neo4jStore) GetBox(ctx context.Context, boxID string) (models.Box, error) {
	records, err := s.query(ctx, "MATCH (b:Box {id: $id}) RETURN b", map[string]any{"id": boxID})
	if err != nil {
		return models.Box{}, err
	}
	if len(records) == 0 {
		return models.Box{}, ErrNotFound
	}
	return boxFromProps(nodeProps(records[0], "b")), nil
}

func (s *Neo4jStore) ListBoxes(ctx context.Context) ([]models.Box, error) {
	records, err := s.query(ctx, "MATCH (b:Box) RETURN b ORDER BY b.id", nil)
	if err != nil {
		return nil, err
	}
	boxes := make([]models.Box, 0, len(records))
	for _, rec := range records {
		boxes = append(boxes, boxFromProps(nodeProps(rec, "b")))
	}
	return boxes, nil
}

func (s *Neo4jStore) GetMembership(ctx context.Context, boxID, membershipID string) (models.Membership, error) {
	records, err := s.query(ctx,
		"MATCH (m:Membership {id: $id, box_id: $box_id}) RETURN m",
		map[string]any{"id": membershipID, "box_id": boxID})
	if err != nil {
		return models.Membership{}, err
	}
	if len(records) == 0 {
		return models.Membership{}, ErrNotFound
	}
	return membershipFromProps(nodeProps(records[0], "m")), nil
}

func (s *Neo4jStore) ListActiveMembers(ctx context.Context, boxID string) ([]models.Membership, error) {
	records, err := s.query(ctx,
		"MATCH (m:Membership {box_id: $box_id, active: true}) RETURN m ORDER BY m.id",
		map[string]any{"box_id": boxID})
	if err != nil {
		return nil, err
	}
	members := make([]models.Membership, 0, len(records))
	for _, rec := range records {
		members = append(members, membershipFromProps(nodeProps(rec, "m")))
	}
	return members, nil
}

func (s *Neo4jStore) ListCoaches(ctx context.Context, boxID string) ([]models.Membership, error) {
	records, err := s.query(ctx,
		"MATCH (m:Membership {box_id: $box_id, active: true}) WHERE m.role IN ['coach', 'head_coach', 'owner'] RETURN m ORDER BY m.id",
		map[string]any{"box_id": boxID})
	if err != nil {
		return nil, err
	}
	coaches := make([]models.Membership, 0, len(records))
	for _, rec := range records {
		coaches = append(coaches, membershipFromProps(nodeProps(rec, "m")))
	}
	return coaches, nil
}

// ---- Signal ledgers ----

func (s *Neo4jStore) AttendanceBetween(ctx context.Context, membershipID string, from, to time.Time) ([]models.AttendanceRecord, error) {
	records, err := s.query(ctx,
		"MATCH (a:Attendance {membership_id: $mid}) WHERE a.date >= $from AND a.date < $to RETURN a ORDER BY a.date",
		map[string]any{"mid": membershipID, "from": formatTime(from), "to": formatTime(to)})
	if err != nil {
		return nil, err
	}
	out := make([]models.AttendanceRecord, 0, len(records))
	for _, rec := range records {
		p := nodeProps(rec, "a")
		out = append(out, models.AttendanceRecord{
			ID:           stringProp(p, "id"),
			MembershipID: stringProp(p, "membership_id"),
			Date:         timeProp(p, "date"),
			Status:       models.AttendanceStatus(stringProp(p, "status")),
		})
	}
	return out, nil
}

func (s *Neo4jStore) LastAttendedAt(ctx context.Context, membershipID string) (*time.Time, error) {
	return s.latestTimestamp(ctx,
		"MATCH (a:Attendance {membership_id: $mid, status: 'attended'}) RETURN max(a.date) AS ts",
		membershipID)
}

func (s *Neo4jStore) CheckinsBetween(ctx context.Context, membershipID string, from, to time.Time) ([]models.WellnessCheckin, error) {
	records, err := s.query(ctx,
		"MATCH (c:Checkin {membership_id: $mid}) WHERE c.date >= $from AND c.date < $to RETURN c ORDER BY c.date",
		map[string]any{"mid": membershipID, "from": formatTime(from), "to": formatTime(to)})
	if err != nil {
		return nil, err
	}
	out := make([]models.WellnessCheckin, 0, len(records))
	for _, rec := range records {
		p := nodeProps(rec, "c")
		out = append(out, models.WellnessCheckin{
			ID:           stringProp(p, "id"),
			MembershipID: stringProp(p, "membership_id"),
			Date:         timeProp(p, "date"),
			Energy:       floatProp(p, "energy"),
			SleepQuality: floatProp(p, "sleep_quality"),
			Stress:       floatProp(p, "stress"),
			Readiness:    floatProp(p, "readiness"),
			Motivation:   floatProp(p, "motivation"),
		})
	}
	return out, nil
}

func (s *Neo4jStore) LastCheckinAt(ctx context.Context, membershipID string) (*time.Time, error) {
	return s.latestTimestamp(ctx,
		"MATCH (c:Checkin {membership_id: $mid}) RETURN max(c.date) AS ts",
		membershipID)
}

func (s *Neo4jStore) AchievementsBetween(ctx context.Context, membershipID string, from, to time.Time) ([]models.Achievement, error) {
	records, err := s.query(ctx,
		"MATCH (a:Achievement {membership_id: $mid}) WHERE a.achieved_at >= $from AND a.achieved_at < $to RETURN a ORDER BY a.achieved_at",
		map[string]any{"mid": membershipID, "from": formatTime(from), "to": formatTime(to)})
	if err != nil {
		return nil, err
	}
	out := make([]models.Achievement, 0, len(records))
	for _, rec := range records {
		p := nodeProps(rec, "a")
		out = append(out, models.Achievement{
			ID:           stringProp(p, "id"),
			MembershipID: stringProp(p, "membership_id"),
			Kind:         models.AchievementKind(stringProp(p, "kind")),
			Movement:     stringProp(p, "movement"),
			AchievedAt:   timeProp(p, "achieved_at"),
		})
	}
	return out, nil
}

func (s *Neo4jStore) LastPRAt(ctx context.Context, membershipID string) (*time.Time, error) {
	return s.latestTimestamp(ctx,
		"MATCH (a:Achievement {membership_id: $mid, kind: 'pr'}) RETURN max(a.achieved_at) AS ts",
		membershipID)
}

// ---- Intervention records ----

func (s *Neo4jStore) GetIntervention(ctx context.Context, interventionID string) (models.Intervention, error) {
	records, err := s.query(ctx, "MATCH (i:Intervention {id: $id}) RETURN i", map[string]any{"id": interventionID})
	if err != nil {
		return models.Intervention{}, err
	}
	if len(records) == 0 {
		return models.Intervention{}, ErrNotFound
	}
	return interventionFromProps(nodeProps(records[0], "i")), nil
}

func (s *Neo4jStore) ListInterventionsBefore(ctx context.Context, cutoff time.Time) ([]models.Intervention, error) {
	records, err := s.query(ctx,
		"MATCH (i:Intervention) WHERE i.intervention_date < $cutoff RETURN i ORDER BY i.intervention_date",
		map[string]any{"cutoff": formatTime(cutoff)})
	if err != nil {
		return nil, err
	}
	out := make([]models.Intervention, 0, len(records))
	for _, rec := range records {
		out = append(out, interventionFromProps(nodeProps(rec, "i")))
	}
	return out, nil
}

func (s *Neo4jStore) ListInterventionsForMember(ctx context.Context, membershipID string, after time.Time) ([]models.Intervention, error) {
	records, err := s.query(ctx,
		"MATCH (i:Intervention {membership_id: $mid}) WHERE i.intervention_date >= $after RETURN i ORDER BY i.intervention_date",
		map[string]any{"mid": membershipID, "after": formatTime(after)})
	if err != nil {
		return nil, err
	}
	out := make([]models.Intervention, 0, len(records))
	for _, rec := range records {
		out = append(out, interventionFromProps(nodeProps(rec, "i")))
	}
	return out, nil
}

// ---- Risk scores ----

func (s *Neo4jStore) UpsertRiskScore(ctx context.Context, score models.RiskScore) error {
	factors, err := json.Marshal(score.Factors)
	if err != nil {
		return fmt.Errorf("failed to marshal factors: %w", err)
	}

	props := map[string]any{
		"id":                score.ID,
		"box_id":            score.BoxID,
		"membership_id":     score.MembershipID,
		"attendance_score":  score.AttendanceScore,
		"wellness_score":    score.WellnessScore,
		"performance_score": score.PerformanceScore,
		"engagement_score":  score.EngagementScore,
		"overall":           score.OverallRiskScore,
		"risk_level":        string(score.RiskLevel),
		"churn_probability": score.ChurnProbability,
		"factors":           string(factors),
		"calculated_at":     formatTime(score.CalculatedAt),
		"valid_until":       formatTime(score.ValidUntil),
	}
	setOptFloat(props, "attendance_trend", score.AttendanceTrend)
	setOptFloat(props, "wellness_trend", score.WellnessTrend)
	setOptFloat(props, "performance_trend", score.PerformanceTrend)
	setOptFloat(props, "engagement_trend", score.EngagementTrend)
	setOptInt(props, "days_since_last_visit", score.DaysSinceLastVisit)
	setOptInt(props, "days_since_last_checkin", score.DaysSinceLastCheckin)
	setOptInt(props, "days_since_last_pr", score.DaysSinceLastPR)

	// MERGE on membership_id keeps exactly one live row per member and gives
	// last-writer-wins when sweeps overlap. Every recomputation also appends
	// an immutable history row so pre/post window comparisons keep working
	// after the live row has been replaced.
	_, err = s.write(ctx,
		`MERGE (r:RiskScore {membership_id: $membership_id}) SET r = $props
		 WITH r CREATE (h:RiskScoreHistory) SET h = $props`,
		map[string]any{"membership_id": score.MembershipID, "props": props})
	return err
}

func (s *Neo4jStore) GetRiskScore(ctx context.Context, membershipID string) (models.RiskScore, error) {
	records, err := s.query(ctx, "MATCH (r:RiskScore {membership_id: $mid}) RETURN r", map[string]any{"mid": membershipID})
	if err != nil {
		return models.RiskScore{}, err
	}
	if len(records) == 0 {
		return models.RiskScore{}, ErrNotFound
	}
	return riskScoreFromProps(nodeProps(records[0], "r")), nil
}

func (s *Neo4jStore) ListRiskScores(ctx context.Context, boxID string) ([]models.RiskScore, error) {
	records, err := s.query(ctx,
		"MATCH (r:RiskScore {box_id: $box_id}) RETURN r ORDER BY r.overall DESC",
		map[string]any{"box_id": boxID})
	if err != nil {
		return nil, err
	}
	out := make([]models.RiskScore, 0, len(records))
	for _, rec := range records {
		out = append(out, riskScoreFromProps(nodeProps(rec, "r")))
	}
	return out, nil
}

func (s *Neo4jStore) ListRiskScoreHistory(ctx context.Context, membershipID string, from, to time.Time) ([]models.RiskScore, error) {
	records, err := s.query(ctx,
		"MATCH (r:RiskScoreHistory {membership_id: $mid}) WHERE r.calculated_at >= $from AND r.calculated_at < $to RETURN r ORDER BY r.calculated_at",
		map[string]any{"mid": membershipID, "from": formatTime(from), "to": formatTime(to)})
	if err != nil {
		return nil, err
	}
	out := make([]models.RiskScore, 0, len(records))
	for _, rec := range records {
		out = append(out, riskScoreFromProps(nodeProps(rec, "r")))
	}
	return out, nil
}

func (s *Neo4jStore) PurgeExpiredRiskScores(ctx context.Context, now time.Time) (int, error) {
	records, err := s.write(ctx,
		"MATCH (r:RiskScore) WHERE r.valid_until < $now DETACH DELETE r RETURN count(*) AS purged",
		map[string]any{"now": formatTime(now)})
	if err != nil {
		return 0, err
	}

	// History rows never expire individually; trim everything older than the
	// retention horizon so the append-only set stays bounded.
	cutoff := now.AddDate(0, 0, -RiskHistoryRetentionDays)
	if _, err := s.write(ctx,
		"MATCH (h:RiskScoreHistory) WHERE h.calculated_at < $cutoff DETACH DELETE h",
		map[string]any{"cutoff": formatTime(cutoff)}); err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	purged, _ := records[0].Get("purged")
	if n, ok := purged.(int64); ok {
		return int(n), nil
	}
	return 0, nil
}

// ---- Alerts ----

func (s *Neo4jStore) CreateAlert(ctx context.Context, alert models.Alert) error {
	props, err := alertProps(alert)
	if err != nil {
		return err
	}

	// MERGE on the (membership, type, active) key enforces the unique active
	// alert invariant. A matched MERGE leaves the existing row untouched and
	// returns its id, which exposes the conflict without extra bookkeeping.
	records, err := s.write(ctx,
		`MERGE (a:Alert {membership_id: $mid, type: $type, status: 'active'})
		 ON CREATE SET a = $props
		 RETURN a.id = $id AS created`,
		map[string]any{"mid": alert.MembershipID, "type": string(alert.Type), "id": alert.ID, "props": props})
	if err != nil {
		return err
	}
	if len(records) > 0 {
		if created, ok := recordValue(records[0], "created").(bool); ok && !created {
			return ErrDuplicateActiveAlert
		}
	}
	return nil
}

func (s *Neo4jStore) UpdateAlert(ctx context.Context, alert models.Alert) error {
	props, err := alertProps(alert)
	if err != nil {
		return err
	}
	records, err := s.write(ctx,
		"MATCH (a:Alert {id: $id}) SET a = $props RETURN a.id AS id",
		map[string]any{"id": alert.ID, "props": props})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Neo4jStore) GetAlert(ctx context.Context, alertID string) (models.Alert, error) {
	records, err := s.query(ctx, "MATCH (a:Alert {id: $id}) RETURN a", map[string]any{"id": alertID})
	if err != nil {
		return models.Alert{}, err
	}
	if len(records) == 0 {
		return models.Alert{}, ErrNotFound
	}
	return alertFromProps(nodeProps(records[0], "a"))
}

func (s *Neo4jStore) GetActiveAlert(ctx context.Context, membershipID string, alertType models.AlertType) (models.Alert, error) {
	records, err := s.query(ctx,
		"MATCH (a:Alert {membership_id: $mid, type: $type, status: 'active'}) RETURN a",
		map[string]any{"mid": membershipID, "type": string(alertType)})
	if err != nil {
		return models.Alert{}, err
	}
	if len(records) == 0 {
		return models.Alert{}, ErrNotFound
	}
	return alertFromProps(nodeProps(records[0], "a"))
}

func (s *Neo4jStore) ListActiveAlerts(ctx context.Context, boxID string) ([]models.Alert, error) {
	records, err := s.query(ctx,
		"MATCH (a:Alert {box_id: $box_id, status: 'active'}) RETURN a ORDER BY a.created_at",
		map[string]any{"box_id": boxID})
	if err != nil {
		return nil, err
	}
	return alertsFromRecords(records)
}

func (s *Neo4jStore) ListAlertsForMember(ctx context.Context, membershipID string) ([]models.Alert, error) {
	records, err := s.query(ctx,
		"MATCH (a:Alert {membership_id: $mid}) RETURN a ORDER BY a.created_at DESC",
		map[string]any{"mid": membershipID})
	if err != nil {
		return nil, err
	}
	return alertsFromRecords(records)
}

// ---- Escalations ----

func (s *Neo4jStore) AppendEscalation(ctx context.Context, esc models.Escalation) error {
	_, err := s.write(ctx,
		`CREATE (e:Escalation {
			id: $id, alert_id: $alert_id, box_id: $box_id, membership_id: $membership_id,
			from_severity: $from_severity, to_severity: $to_severity,
			reason: $reason, auto_escalated: $auto_escalated, escalated_at: $escalated_at
		})`,
		map[string]any{
			"id":             esc.ID,
			"alert_id":       esc.AlertID,
			"box_id":         esc.BoxID,
			"membership_id":  esc.MembershipID,
			"from_severity":  string(esc.FromSeverity),
			"to_severity":    string(esc.ToSeverity),
			"reason":         esc.Reason,
			"auto_escalated": esc.AutoEscalated,
			"escalated_at":   formatTime(esc.EscalatedAt),
		})
	return err
}

func (s *Neo4jStore) ListEscalationsForAlert(ctx context.Context, alertID string) ([]models.Escalation, error) {
	records, err := s.query(ctx,
		"MATCH (e:Escalation {alert_id: $alert_id}) RETURN e ORDER BY e.escalated_at",
		map[string]any{"alert_id": alertID})
	if err != nil {
		return nil, err
	}
	return escalationsFromRecords(records)
}

func (s *Neo4jStore) ListEscalationsForBox(ctx context.Context, boxID string, since time.Time) ([]models.Escalation, error) {
	records, err := s.query(ctx,
		"MATCH (e:Escalation {box_id: $box_id}) WHERE e.escalated_at >= $since RETURN e ORDER BY e.escalated_at",
		map[string]any{"box_id": boxID, "since": formatTime(since)})
	if err != nil {
		return nil, err
	}
	return escalationsFromRecords(records)
}

// ---- Intervention outcomes ----

func (s *Neo4jStore) CreateOutcome(ctx context.Context, outcome models.InterventionOutcome) error {
	props := map[string]any{
		"id":                      outcome.ID,
		"intervention_id":         outcome.InterventionID,
		"box_id":                  outcome.BoxID,
		"membership_id":           outcome.MembershipID,
		"attendance_rate_change":  outcome.AttendanceRateChange,
		"checkin_rate_change":     outcome.CheckinRateChange,
		"wellness_change":         outcome.WellnessChange,
		"pr_activity_change":      outcome.PRActivityChange,
		"overall_effectiveness":   string(outcome.OverallEffectiveness),
		"effectiveness_score":     outcome.EffectivenessScore,
		"measurement_period_days": outcome.MeasurementPeriodDays,
		"measured_at":             formatTime(outcome.MeasuredAt),
	}
	setOptFloat(props, "risk_score_change", outcome.RiskScoreChange)

	records, err := s.write(ctx,
		`MERGE (o:Outcome {intervention_id: $intervention_id})
		 ON CREATE SET o = $props
		 RETURN o.id = $id AS created`,
		map[string]any{"intervention_id": outcome.InterventionID, "id": outcome.ID, "props": props})
	if err != nil {
		return err
	}
	if len(records) > 0 {
		if created, ok := recordValue(records[0], "created").(bool); ok && !created {
			return ErrDuplicateOutcome
		}
	}
	return nil
}

func (s *Neo4jStore) GetOutcome(ctx context.Context, interventionID string) (models.InterventionOutcome, error) {
	records, err := s.query(ctx,
		"MATCH (o:Outcome {intervention_id: $id}) RETURN o",
		map[string]any{"id": interventionID})
	if err != nil {
		return models.InterventionOutcome{}, err
	}
	if len(records) == 0 {
		return models.InterventionOutcome{}, ErrNotFound
	}
	p := nodeProps(records[0], "o")
	out := models.InterventionOutcome{
		ID:                    stringProp(p, "id"),
		InterventionID:        stringProp(p, "intervention_id"),
		BoxID:                 stringProp(p, "box_id"),
		MembershipID:          stringProp(p, "membership_id"),
		AttendanceRateChange:  floatProp(p, "attendance_rate_change"),
		CheckinRateChange:     floatProp(p, "checkin_rate_change"),
		WellnessChange:        floatProp(p, "wellness_change"),
		PRActivityChange:      floatProp(p, "pr_activity_change"),
		OverallEffectiveness:  models.Effectiveness(stringProp(p, "overall_effectiveness")),
		EffectivenessScore:    floatProp(p, "effectiveness_score"),
		MeasurementPeriodDays: intProp(p, "measurement_period_days"),
		MeasuredAt:            timeProp(p, "measured_at"),
	}
	out.RiskScoreChange = optFloatProp(p, "risk_score_change")
	return out, nil
}

// ---- Query helpers ----

func (s *Neo4jStore) query(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.config.Database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	result, err := session.Run(ctx, cypher, params)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return result.Collect(ctx)
}

func (s *Neo4jStore) write(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	session := s.session(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, cypher, params)
	if err != nil {
		return nil, fmt.Errorf("write failed: %w", err)
	}
	return result.Collect(ctx)
}

func (s *Neo4jStore) latestTimestamp(ctx context.Context, cypher, membershipID string) (*time.Time, error) {
	records, err := s.query(ctx, cypher, map[string]any{"mid": membershipID})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	raw, _ := records[0].Get("ts")
	str, ok := raw.(string)
	if !ok || str == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, str)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp %q: %w", str, err)
	}
	return &ts, nil
}

// ---- Property mapping ----

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nodeProps(rec *neo4j.Record, key string) map[string]any {
	raw, ok := rec.Get(key)
	if !ok {
		return nil
	}
	node, ok := raw.(neo4j.Node)
	if !ok {
		return nil
	}
	return node.Props
}

func recordValue(rec *neo4j.Record, key string) any {
	raw, _ := rec.Get(key)
	return raw
}

func stringProp(p map[string]any, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

func floatProp(p map[string]any, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func intProp(p map[string]any, key string) int {
	switch v := p[key].(type) {
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func boolProp(p map[string]any, key string) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return false
}

func timeProp(p map[string]any, key string) time.Time {
	str := stringProp(p, key)
	if str == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, str)
	if err != nil {
		return time.Time{}
	}
	return t
}

func optTimeProp(p map[string]any, key string) *time.Time {
	if _, ok := p[key]; !ok {
		return nil
	}
	t := timeProp(p, key)
	if t.IsZero() {
		return nil
	}
	return &t
}

func optFloatProp(p map[string]any, key string) *float64 {
	if _, ok := p[key]; !ok {
		return nil
	}
	v := floatProp(p, key)
	return &v
}

func optIntProp(p map[string]any, key string) *int {
	if _, ok := p[key]; !ok {
		return nil
	}
	v := intProp(p, key)
	return &v
}

func optStringProp(p map[string]any, key string) *string {
	if v, ok := p[key].(string); ok && v != "" {
		return &v
	}
	return nil
}

func setOptFloat(props map[string]any, key string, v *float64) {
	if v != nil {
		props[key] = *v
	}
}

func setOptInt(props map[string]any, key string, v *int) {
	if v != nil {
		props[key] = int64(*v)
	}
}

func boxFromProps(p map[string]any) models.Box {
	return models.Box{
		ID:                   stringProp(p, "id"),
		Name:                 stringProp(p, "name"),
		StripeSubscriptionID: stringProp(p, "stripe_subscription_id"),
		CreatedAt:            timeProp(p, "created_at"),
	}
}

func membershipFromProps(p map[string]any) models.Membership {
	return models.Membership{
		ID:       stringProp(p, "id"),
		BoxID:    stringProp(p, "box_id"),
		UserID:   stringProp(p, "user_id"),
		Role:     models.Role(stringProp(p, "role")),
		Active:   boolProp(p, "active"),
		JoinedAt: timeProp(p, "joined_at"),
		LeftAt:   optTimeProp(p, "left_at"),
	}
}

func interventionFromProps(p map[string]any) models.Intervention {
	i := models.Intervention{
		ID:               stringProp(p, "id"),
		BoxID:            stringProp(p, "box_id"),
		MembershipID:     stringProp(p, "membership_id"),
		CoachID:          stringProp(p, "coach_id"),
		Kind:             stringProp(p, "kind"),
		Notes:            stringProp(p, "notes"),
		InterventionDate: timeProp(p, "intervention_date"),
	}
	i.AlertID = optStringProp(p, "alert_id")
	if v := stringProp(p, "outcome"); v != "" {
		eff := models.Effectiveness(v)
		i.Outcome = &eff
	}
	return i
}

func riskScoreFromProps(p map[string]any) models.RiskScore {
	rs := models.RiskScore{
		ID:               stringProp(p, "id"),
		BoxID:            stringProp(p, "box_id"),
		MembershipID:     stringProp(p, "membership_id"),
		AttendanceScore:  floatProp(p, "attendance_score"),
		WellnessScore:    floatProp(p, "wellness_score"),
		PerformanceScore: floatProp(p, "performance_score"),
		EngagementScore:  floatProp(p, "engagement_score"),
		OverallRiskScore: floatProp(p, "overall"),
		RiskLevel:        models.RiskLevel(stringProp(p, "risk_level")),
		ChurnProbability: floatProp(p, "churn_probability"),
		CalculatedAt:     timeProp(p, "calculated_at"),
		ValidUntil:       timeProp(p, "valid_until"),
	}
	rs.AttendanceTrend = optFloatProp(p, "attendance_trend")
	rs.WellnessTrend = optFloatProp(p, "wellness_trend")
	rs.PerformanceTrend = optFloatProp(p, "performance_trend")
	rs.EngagementTrend = optFloatProp(p, "engagement_trend")
	rs.DaysSinceLastVisit = optIntProp(p, "days_since_last_visit")
	rs.DaysSinceLastCheckin = optIntProp(p, "days_since_last_checkin")
	rs.DaysSinceLastPR = optIntProp(p, "days_since_last_pr")
	if raw := stringProp(p, "factors"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &rs.Factors); err != nil {
			log.Printf("Failed to unmarshal factors for %s: %v", rs.MembershipID, err)
		}
	}
	return rs
}

func alertProps(alert models.Alert) (map[string]any, error) {
	trigger, err := json.Marshal(alert.TriggerData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trigger data: %w", err)
	}
	actions, err := json.Marshal(alert.SuggestedActions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal suggested actions: %w", err)
	}

	props := map[string]any{
		"id":                alert.ID,
		"box_id":            alert.BoxID,
		"membership_id":     alert.MembershipID,
		"type":              string(alert.Type),
		"severity":          string(alert.Severity),
		"status":            string(alert.Status),
		"title":             alert.Title,
		"description":       alert.Description,
		"trigger_data":      string(trigger),
		"suggested_actions": string(actions),
		"created_at":        formatTime(alert.CreatedAt),
		"updated_at":        formatTime(alert.UpdatedAt),
	}
	if alert.Briefing != "" {
		props["briefing"] = alert.Briefing
	}
	if alert.AssignedCoachID != nil {
		props["assigned_coach_id"] = *alert.AssignedCoachID
	}
	if alert.AcknowledgedAt != nil {
		props["acknowledged_at"] = formatTime(*alert.AcknowledgedAt)
	}
	if alert.ResolvedAt != nil {
		props["resolved_at"] = formatTime(*alert.ResolvedAt)
	}
	if alert.LastAutoEscalatedAt != nil {
		props["last_auto_escalated_at"] = formatTime(*alert.LastAutoEscalatedAt)
	}
	return props, nil
}

func alertFromProps(p map[string]any) (models.Alert, error) {
	alert := models.Alert{
		ID:           stringProp(p, "id"),
		BoxID:        stringProp(p, "box_id"),
		MembershipID: stringProp(p, "membership_id"),
		Type:         models.AlertType(stringProp(p, "type")),
		Severity:     models.AlertSeverity(stringProp(p, "severity")),
		Status:       models.AlertStatus(stringProp(p, "status")),
		Title:        stringProp(p, "title"),
		Description:  stringProp(p, "description"),
		Briefing:     stringProp(p, "briefing"),
		CreatedAt:    timeProp(p, "created_at"),
		UpdatedAt:    timeProp(p, "updated_at"),
	}
	alert.AssignedCoachID = optStringProp(p, "assigned_coach_id")
	alert.AcknowledgedAt = optTimeProp(p, "acknowledged_at")
	alert.ResolvedAt = optTimeProp(p, "resolved_at")
	alert.LastAutoEscalatedAt = optTimeProp(p, "last_auto_escalated_at")

	if raw := stringProp(p, "trigger_data"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &alert.TriggerData); err != nil {
			return alert, fmt.Errorf("failed to unmarshal trigger data for alert %s: %w", alert.ID, err)
		}
	}
	if raw := stringProp(p, "suggested_actions"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &alert.SuggestedActions); err != nil {
			return alert, fmt.Errorf("failed to unmarshal suggested actions for alert %s: %w", alert.ID, err)
		}
	}
	return alert, nil
}

func alertsFromRecords(records []*neo4j.Record) ([]models.Alert, error) {
	out := make([]models.Alert, 0, len(records))
	for _, rec := range records {
		alert, err := alertFromProps(nodeProps(rec, "a"))
		if err != nil {
			return nil, err
		}
		out = append(out, alert)
	}
	return out, nil
}

func escalationsFromRecords(records []*neo4j.Record) ([]models.Escalation, error) {
	out := make([]models.Escalation, 0, len(records))
	for _, rec := range records {
		p := nodeProps(rec, "e")
		out = append(out, models.Escalation{
			ID:            stringProp(p, "id"),
			AlertID:       stringProp(p, "alert_id"),
			BoxID:         stringProp(p, "box_id"),
			MembershipID:  stringProp(p, "membership_id"),
			FromSeverity:  models.AlertSeverity(stringProp(p, "from_severity")),
			ToSeverity:    models.AlertSeverity(stringProp(p, "to_severity")),
			Reason:        stringProp(p, "reason"),
			AutoEscalated: boolProp(p, "auto_escalated"),
			EscalatedAt:   timeProp(p, "escalated_at"),
		})
	}
	return out, nil
}
