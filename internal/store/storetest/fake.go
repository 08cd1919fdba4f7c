// Package storetest provides an in-memory store implementation for tests.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/boxpulse/retention/internal/store"
	"github.com/boxpulse/retention/pkg/models"
)

// Fake implements store.MemberStore and store.RetentionStore in memory.
// The zero value is not usable; create instances with New.
type Fake struct {
	mu sync.Mutex

	boxes         map[string]models.Box
	memberships   map[string]models.Membership
	attendance    map[string][]models.AttendanceRecord
	checkins      map[string][]models.WellnessCheckin
	achievements  map[string][]models.Achievement
	interventions map[string]models.Intervention

	riskScores  map[string]models.RiskScore
	riskHistory []models.RiskScore
	alerts      map[string]models.Alert
	escalations []models.Escalation
	outcomes    map[string]models.InterventionOutcome

	// Errs, when set for a method name, is returned by that method.
	Errs map[string]error
}

// New creates an empty fake store.
func New() *Fake {
	return &Fake{
		boxes:         make(map[string]models.Box),
		memberships:   make(map[string]models.Membership),
		attendance:    make(map[string][]models.AttendanceRecord),
		checkins:      make(map[string][]models.WellnessCheckin),
		achievements:  make(map[string][]models.Achievement),
		interventions: make(map[string]models.Intervention),
		riskScores:    make(map[string]models.RiskScore),
		alerts:        make(map[string]models.Alert),
		outcomes:      make(map[string]models.InterventionOutcome),
		Errs:          make(map[string]error),
	}
}

func (f *Fake) err(method string) error {
	return f.Errs[method]
}

// Seeding helpers

func (f *Fake) AddBox(box models.Box) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.boxes[box.ID] = box
}

func (f *Fake) AddMembership(m models.Membership) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memberships[m.ID] = m
}

func (f *Fake) AddAttendance(records ...models.AttendanceRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range records {
		f.attendance[rec.MembershipID] = append(f.attendance[rec.MembershipID], rec)
	}
}

func (f *Fake) AddCheckins(checkins ...models.WellnessCheckin) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range checkins {
		f.checkins[c.MembershipID] = append(f.checkins[c.MembershipID], c)
	}
}

func (f *Fake) AddAchievements(achievements ...models.Achievement) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range achievements {
		f.achievements[a.MembershipID] = append(f.achievements[a.MembershipID], a)
	}
}

func (f *Fake) AddIntervention(iv models.Intervention) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interventions[iv.ID] = iv
}

// MemberStore

func (f *Fake) GetBox(ctx context.Context, boxID string) (models.Box, error) {
	if err := f.err("GetBox"); err != nil {
		return models.Box{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	box, ok := f.boxes[boxID]
	if !ok {
		return models.Box{}, store.ErrNotFound
	}
	return box, nil
}

func (f *Fake) ListBoxes(ctx context.Context) ([]models.Box, error) {
	if err := f.err("ListBoxes"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Box, 0, len(f.boxes))
	for _, box := range f.boxes {
		out = append(out, box)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Fake) GetMembership(ctx context.Context, boxID, membershipID string) (models.Membership, error) {
	if err := f.err("GetMembership"); err != nil {
		return models.Membership{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.memberships[membershipID]
	if !ok || m.BoxID != boxID {
		return models.Membership{}, store.ErrNotFound
	}
	return m, nil
}

func (f *Fake) ListActiveMembers(ctx context.Context, boxID string) ([]models.Membership, error) {
	if err := f.err("ListActiveMembers"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Membership
	for _, m := range f.memberships {
		if m.BoxID == boxID && m.Active {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Fake) ListCoaches(ctx context.Context, boxID string) ([]models.Membership, error) {
	if err := f.err("ListCoaches"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Membership
	for _, m := range f.memberships {
		if m.BoxID == boxID && m.Active && m.Role.IsCoaching() {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Fake) AttendanceBetween(ctx context.Context, membershipID string, from, to time.Time) ([]models.AttendanceRecord, error) {
	if err := f.err("AttendanceBetween"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AttendanceRecord
	for _, rec := range f.attendance[membershipID] {
		if inWindow(rec.Date, from, to) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *Fake) LastAttendedAt(ctx context.Context, membershipID string) (*time.Time, error) {
	if err := f.err("LastAttendedAt"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var last *time.Time
	for _, rec := range f.attendance[membershipID] {
		if rec.Status != models.AttendanceAttended {
			continue
		}
		t := rec.Date
		if last == nil || t.After(*last) {
			last = &t
		}
	}
	return last, nil
}

func (f *Fake) CheckinsBetween(ctx context.Context, membershipID string, from, to time.Time) ([]models.WellnessCheckin, error) {
	if err := f.err("CheckinsBetween"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.WellnessCheckin
	for _, c := range f.checkins[membershipID] {
		if inWindow(c.Date, from, to) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *Fake) LastCheckinAt(ctx context.Context, membershipID string) (*time.Time, error) {
	if err := f.err("LastCheckinAt"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var last *time.Time
	for _, c := range f.checkins[membershipID] {
		t := c.Date
		if last == nil || t.After(*last) {
			last = &t
		}
	}
	return last, nil
}

func (f *Fake) AchievementsBetween(ctx context.Context, membershipID string, from, to time.Time) ([]models.Achievement, error) {
	if err := f.err("AchievementsBetween"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Achievement
	for _, a := range f.achievements[membershipID] {
		if inWindow(a.AchievedAt, from, to) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *Fake) LastPRAt(ctx context.Context, membershipID string) (*time.Time, error) {
	if err := f.err("LastPRAt"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var last *time.Time
	for _, a := range f.achievements[membershipID] {
		if a.Kind != models.AchievementPR {
			continue
		}
		t := a.AchievedAt
		if last == nil || t.After(*last) {
			last = &t
		}
	}
	return last, nil
}

func (f *Fake) GetIntervention(ctx context.Context, interventionID string) (models.Intervention, error) {
	if err := f.err("GetIntervention"); err != nil {
		return models.Intervention{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	iv, ok := f.interventions[interventionID]
	if !ok {
		return models.Intervention{}, store.ErrNotFound
	}
	return iv, nil
}

func (f *Fake) ListInterventionsBefore(ctx context.Context, cutoff time.Time) ([]models.Intervention, error) {
	if err := f.err("ListInterventionsBefore"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Intervention
	for _, iv := range f.interventions {
		if iv.InterventionDate.Before(cutoff) {
			out = append(out, iv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Fake) ListInterventionsForMember(ctx context.Context, membershipID string, after time.Time) ([]models.Intervention, error) {
	if err := f.err("ListInterventionsForMember"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Intervention
	for _, iv := range f.interventions {
		if iv.MembershipID == membershipID && !iv.InterventionDate.Before(after) {
			out = append(out, iv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InterventionDate.Before(out[j].InterventionDate) })
	return out, nil
}

// RetentionStore

func (f *Fake) UpsertRiskScore(ctx context.Context, score models.RiskScore) error {
	if err := f.err("UpsertRiskScore"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.riskScores[score.MembershipID] = score
	f.riskHistory = append(f.riskHistory, score)
	return nil
}

func (f *Fake) GetRiskScore(ctx context.Context, membershipID string) (models.RiskScore, error) {
	if err := f.err("GetRiskScore"); err != nil {
		return models.RiskScore{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	score, ok := f.riskScores[membershipID]
	if !ok {
		return models.RiskScore{}, store.ErrNotFound
	}
	return score, nil
}

func (f *Fake) ListRiskScores(ctx context.Context, boxID string) ([]models.RiskScore, error) {
	if err := f.err("ListRiskScores"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.RiskScore
	for _, score := range f.riskScores {
		if score.BoxID == boxID {
			out = append(out, score)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MembershipID < out[j].MembershipID })
	return out, nil
}

func (f *Fake) ListRiskScoreHistory(ctx context.Context, membershipID string, from, to time.Time) ([]models.RiskScore, error) {
	if err := f.err("ListRiskScoreHistory"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.RiskScore
	for _, score := range f.riskHistory {
		if score.MembershipID == membershipID && inWindow(score.CalculatedAt, from, to) {
			out = append(out, score)
		}
	}
	return out, nil
}

func (f *Fake) PurgeExpiredRiskScores(ctx context.Context, now time.Time) (int, error) {
	if err := f.err("PurgeExpiredRiskScores"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	purged := 0
	for id, score := range f.riskScores {
		if score.Expired(now) {
			delete(f.riskScores, id)
			purged++
		}
	}

	cutoff := now.AddDate(0, 0, -store.RiskHistoryRetentionDays)
	kept := f.riskHistory[:0]
	for _, score := range f.riskHistory {
		if !score.CalculatedAt.Before(cutoff) {
			kept = append(kept, score)
		}
	}
	f.riskHistory = kept

	return purged, nil
}

func (f *Fake) CreateAlert(ctx context.Context, alert models.Alert) error {
	if err := f.err("CreateAlert"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.alerts {
		if existing.MembershipID == alert.MembershipID && existing.Type == alert.Type && existing.Status == models.StatusActive {
			return store.ErrDuplicateActiveAlert
		}
	}
	f.alerts[alert.ID] = alert
	return nil
}

func (f *Fake) UpdateAlert(ctx context.Context, alert models.Alert) error {
	if err := f.err("UpdateAlert"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.alerts[alert.ID]; !ok {
		return store.ErrNotFound
	}
	f.alerts[alert.ID] = alert
	return nil
}

func (f *Fake) GetAlert(ctx context.Context, alertID string) (models.Alert, error) {
	if err := f.err("GetAlert"); err != nil {
		return models.Alert{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	alert, ok := f.alerts[alertID]
	if !ok {
		return models.Alert{}, store.ErrNotFound
	}
	return alert, nil
}

func (f *Fake) GetActiveAlert(ctx context.Context, membershipID string, alertType models.AlertType) (models.Alert, error) {
	if err := f.err("GetActiveAlert"); err != nil {
		return models.Alert{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, alert := range f.alerts {
		if alert.MembershipID == membershipID && alert.Type == alertType && alert.Status == models.StatusActive {
			return alert, nil
		}
	}
	return models.Alert{}, store.ErrNotFound
}

func (f *Fake) ListActiveAlerts(ctx context.Context, boxID string) ([]models.Alert, error) {
	if err := f.err("ListActiveAlerts"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Alert
	for _, alert := range f.alerts {
		if alert.BoxID == boxID && alert.Status == models.StatusActive {
			out = append(out, alert)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Fake) ListAlertsForMember(ctx context.Context, membershipID string) ([]models.Alert, error) {
	if err := f.err("ListAlertsForMember"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Alert
	for _, alert := range f.alerts {
		if alert.MembershipID == membershipID {
			out = append(out, alert)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *Fake) AppendEscalation(ctx context.Context, esc models.Escalation) error {
	if err := f.err("AppendEscalation"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.escalations = append(f.escalations, esc)
	return nil
}

func (f *Fake) ListEscalationsForAlert(ctx context.Context, alertID string) ([]models.Escalation, error) {
	if err := f.err("ListEscalationsForAlert"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Escalation
	for _, esc := range f.escalations {
		if esc.AlertID == alertID {
			out = append(out, esc)
		}
	}
	return out, nil
}

func (f *Fake) ListEscalationsForBox(ctx context.Context, boxID string, since time.Time) ([]models.Escalation, error) {
	if err := f.err("ListEscalationsForBox"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Escalation
	for _, esc := range f.escalations {
		if esc.BoxID == boxID && !esc.EscalatedAt.Before(since) {
			out = append(out, esc)
		}
	}
	return out, nil
}

func (f *Fake) CreateOutcome(ctx context.Context, outcome models.InterventionOutcome) error {
	if err := f.err("CreateOutcome"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.outcomes[outcome.InterventionID]; ok {
		return store.ErrDuplicateOutcome
	}
	f.outcomes[outcome.InterventionID] = outcome
	return nil
}

func (f *Fake) GetOutcome(ctx context.Context, interventionID string) (models.InterventionOutcome, error) {
	if err := f.err("GetOutcome"); err != nil {
		return models.InterventionOutcome{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	outcome, ok := f.outcomes[interventionID]
	if !ok {
		return models.InterventionOutcome{}, store.ErrNotFound
	}
	return outcome, nil
}

func (f *Fake) Ping(ctx context.Context) error {
	return f.err("Ping")
}

func (f *Fake) Close(ctx context.Context) error {
	return nil
}

func inWindow(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}
