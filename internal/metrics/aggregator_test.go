package metrics

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"threatwatch/internal/schema"
)

func makeEvent(eventType schema.EventType, level schema.ThreatLevel, actor string, score int, ts time.Time) *schema.SecurityEvent {
	return &schema.SecurityEvent{
		ID:          uuid.New(),
		Type:        eventType,
		ThreatLevel: level,
		Title:       "test event",
		Actor:       actor,
		Timestamp:   ts,
		RiskScore:   score,
		Indicators:  []string{"indicator"},
		Status:      schema.StatusOpen,
	}
}

func TestCompute_CountsAreConsistent(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	events := []*schema.SecurityEvent{
		makeEvent(schema.EventBruteForceAttack, schema.LevelHigh, "a", 80, now.Add(-time.Hour)),
		makeEvent(schema.EventBruteForceAttack, schema.LevelMedium, "a", 55, now.Add(-2*time.Hour)),
		makeEvent(schema.EventSuspiciousLogin, schema.LevelMedium, "b", 60, now.Add(-26*time.Hour)),
		makeEvent(schema.EventPrivilegeEscalation, schema.LevelHigh, "", 80, now.Add(-50*time.Hour)),
	}

	m := Compute(events, 7, now)

	if m.TotalEvents != 4 {
		t.Errorf("TotalEvents = %d, want 4", m.TotalEvents)
	}

	var byType, byLevel int
	for _, c := range m.EventsByType {
		byType += c
	}
	for _, c := range m.EventsByThreatLevel {
		byLevel += c
	}
	if byType != m.TotalEvents || byLevel != m.TotalEvents {
		t.Errorf("sum(byType)=%d sum(byLevel)=%d, both must equal total %d", byType, byLevel, m.TotalEvents)
	}
}

func TestCompute_MeanResolutionHours(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	resolved := makeEvent(schema.EventBruteForceAttack, schema.LevelHigh, "a", 80, now.Add(-10*time.Hour))
	resolvedAt := resolved.Timestamp.Add(4 * time.Hour)
	resolved.Status = schema.StatusResolved
	resolved.ResolvedAt = &resolvedAt

	resolved2 := makeEvent(schema.EventSuspiciousLogin, schema.LevelMedium, "b", 55, now.Add(-20*time.Hour))
	resolvedAt2 := resolved2.Timestamp.Add(2 * time.Hour)
	resolved2.Status = schema.StatusResolved
	resolved2.ResolvedAt = &resolvedAt2

	open := makeEvent(schema.EventAnomalousBehavior, schema.LevelLow, "c", 20, now.Add(-time.Hour))

	m := Compute([]*schema.SecurityEvent{resolved, resolved2, open}, 7, now)

	if m.MeanResolutionHours != 3.0 {
		t.Errorf("MeanResolutionHours = %v, want 3.0", m.MeanResolutionHours)
	}
	if m.OpenAlerts != 1 || m.ResolvedAlerts != 2 {
		t.Errorf("open/resolved = %d/%d, want 1/2", m.OpenAlerts, m.ResolvedAlerts)
	}
}

func TestCompute_TopThreats(t *testing.T) {
	now := time.Now().UTC()
	var events []*schema.SecurityEvent
	for i := 0; i < 3; i++ {
		events = append(events, makeEvent(schema.EventBruteForceAttack, schema.LevelHigh, "a", 60, now))
	}
	events = append(events, makeEvent(schema.EventSuspiciousLogin, schema.LevelMedium, "b", 50, now))

	m := Compute(events, 7, now)

	if len(m.TopThreats) != 2 {
		t.Fatalf("TopThreats = %d entries, want 2", len(m.TopThreats))
	}
	if m.TopThreats[0].Type != schema.EventBruteForceAttack || m.TopThreats[0].Count != 3 {
		t.Errorf("top threat = %+v, want brute_force_attack x3", m.TopThreats[0])
	}
	if m.TopThreats[0].MeanRiskScore != 60 {
		t.Errorf("top threat mean = %v, want 60", m.TopThreats[0].MeanRiskScore)
	}
}

func TestCompute_RiskTrend(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	days := 3

	events := []*schema.SecurityEvent{
		makeEvent(schema.EventBruteForceAttack, schema.LevelHigh, "a", 80, now.Add(-3*time.Hour)),  // today
		makeEvent(schema.EventSuspiciousLogin, schema.LevelMedium, "b", 40, now.Add(-4*time.Hour)), // today
	}

	m := Compute(events, days, now)

	if len(m.RiskTrend) != days {
		t.Fatalf("RiskTrend = %d points, want %d (one per calendar day)", len(m.RiskTrend), days)
	}

	// Days with no events read as zero.
	for _, point := range m.RiskTrend[:days-1] {
		if point.MeanRiskScore != 0 || point.EventCount != 0 {
			t.Errorf("empty day %v should be zero, got %+v", point.Date, point)
		}
	}

	today := m.RiskTrend[days-1]
	if today.EventCount != 2 || today.MeanRiskScore != 60 {
		t.Errorf("today = %+v, want count 2 mean 60", today)
	}
}

func TestCompute_SuspiciousRankingExcludesSingleEventActors(t *testing.T) {
	now := time.Now().UTC()
	events := []*schema.SecurityEvent{
		makeEvent(schema.EventBruteForceAttack, schema.LevelHigh, "repeat-offender", 80, now.Add(-time.Hour)),
		makeEvent(schema.EventSuspiciousLogin, schema.LevelMedium, "repeat-offender", 60, now.Add(-2*time.Hour)),
		makeEvent(schema.EventAnomalousBehavior, schema.LevelCritical, "one-off", 95, now),
		makeEvent(schema.EventPrivilegeEscalation, schema.LevelHigh, "", 80, now),
	}

	m := Compute(events, 7, now)

	if len(m.TopSuspiciousUsers) != 1 {
		t.Fatalf("ranking = %d actors, want 1", len(m.TopSuspiciousUsers))
	}
	top := m.TopSuspiciousUsers[0]
	if top.Actor != "repeat-offender" {
		t.Errorf("top actor = %q, want repeat-offender", top.Actor)
	}
	if top.Occurrences != 2 {
		t.Errorf("occurrences = %d, want 2", top.Occurrences)
	}
	if top.MeanRiskScore != 70 {
		t.Errorf("mean = %v, want 70", top.MeanRiskScore)
	}
}

func TestRollupActor_Unions(t *testing.T) {
	now := time.Now().UTC()

	e1 := makeEvent(schema.EventBruteForceAttack, schema.LevelHigh, "a", 80, now.Add(-2*time.Hour))
	e1.IPAddress = "10.0.0.5"
	e1.UserAgent = "curl/8.0"
	e1.AffectedResources = []string{"login"}

	e2 := makeEvent(schema.EventSuspiciousLogin, schema.LevelMedium, "a", 60, now)
	e2.IPAddress = "10.0.0.6"
	e2.UserAgent = "curl/8.0"
	e2.AffectedResources = []string{"login", "profile"}

	rollup := RollupActor("a", []*schema.SecurityEvent{e1, e2})

	if len(rollup.IPAddresses) != 2 {
		t.Errorf("IPs = %v, want 2 distinct", rollup.IPAddresses)
	}
	if len(rollup.UserAgents) != 1 {
		t.Errorf("UAs = %v, want 1 distinct", rollup.UserAgents)
	}
	if len(rollup.AffectedResources) != 2 {
		t.Errorf("resources = %v, want 2 distinct", rollup.AffectedResources)
	}
	if !rollup.FirstSeen.Equal(e1.Timestamp) || !rollup.LastSeen.Equal(e2.Timestamp) {
		t.Error("first/last seen not derived from event timestamps")
	}
}

func TestCompute_EmptyWindow(t *testing.T) {
	m := Compute(nil, 7, time.Now().UTC())

	if m.TotalEvents != 0 {
		t.Errorf("TotalEvents = %d, want 0", m.TotalEvents)
	}
	if len(m.RiskTrend) != 7 {
		t.Errorf("trend = %d points, want 7 even when empty", len(m.RiskTrend))
	}
	if m.MeanResolutionHours != 0 {
		t.Errorf("MeanResolutionHours = %v, want 0", m.MeanResolutionHours)
	}
}
