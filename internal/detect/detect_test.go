package detect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"threatwatch/internal/schema"
	"threatwatch/internal/scoring"
)

// memLog is an in-memory ActivityLog for detector tests. Queries are
// recorded so tests can assert on the windows detectors reach for.
type memLog struct {
	records []*schema.ActivityRecord
	queries []schema.ActivityFilter
	err     error
}

func (m *memLog) add(rec schema.ActivityRecord) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	m.records = append(m.records, &rec)
}

func (m *memLog) Query(_ context.Context, filter schema.ActivityFilter) ([]*schema.ActivityRecord, error) {
	m.queries = append(m.queries, filter)
	if m.err != nil {
		return nil, m.err
	}
	var out []*schema.ActivityRecord
	for _, rec := range m.records {
		if filter.Actor != "" && rec.Actor != filter.Actor {
			continue
		}
		if filter.IP != "" && rec.IPAddress != filter.IP {
			continue
		}
		if filter.Action != "" && rec.Action != filter.Action {
			continue
		}
		if filter.Success != nil && rec.Success != *filter.Success {
			continue
		}
		if !filter.From.IsZero() && rec.Timestamp.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && rec.Timestamp.After(filter.To) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func newTestDetector(log ActivityLog, now time.Time) *Detector {
	d := NewDetector(DefaultConfig(), scoring.NewScorer(scoring.DefaultThresholds()), log, nil)
	d.now = func() time.Time { return now }
	return d
}

// memProfiles is an in-memory ProfileCache for detector tests.
type memProfiles struct {
	profiles map[string]*schema.LoginProfile
	sets     int
}

func (m *memProfiles) GetProfile(_ context.Context, actor string) (*schema.LoginProfile, bool) {
	profile, ok := m.profiles[actor]
	return profile, ok
}

func (m *memProfiles) SetProfile(_ context.Context, actor string, profile *schema.LoginProfile) {
	if m.profiles == nil {
		m.profiles = make(map[string]*schema.LoginProfile)
	}
	m.profiles[actor] = profile
	m.sets++
}

func TestAnalyzeBruteForce(t *testing.T) {
	now := time.Date(2026, 8, 29, 14, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		failures  int
		wantEvent bool
		wantScore int
		wantLevel schema.ThreatLevel
	}{
		{name: "below threshold", failures: 4, wantEvent: false},
		{name: "exactly at threshold", failures: 5, wantEvent: true, wantScore: 50, wantLevel: schema.LevelMedium},
		{name: "six failures", failures: 6, wantEvent: true, wantScore: 60, wantLevel: schema.LevelHigh},
		{name: "eight failures", failures: 8, wantEvent: true, wantScore: 80, wantLevel: schema.LevelHigh},
		{name: "score clamps at 100", failures: 20, wantEvent: true, wantScore: 100, wantLevel: schema.LevelCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &memLog{}
			for i := 0; i < tt.failures; i++ {
				log.add(schema.ActivityRecord{
					IPAddress: "10.0.0.5",
					Action:    LoginAction,
					Success:   false,
					Timestamp: now.Add(-time.Duration(i) * time.Minute),
				})
			}

			event, err := newTestDetector(log, now).AnalyzeBruteForce(context.Background(), "10.0.0.5")
			if err != nil {
				t.Fatalf("AnalyzeBruteForce() error: %v", err)
			}

			if !tt.wantEvent {
				if event != nil {
					t.Fatalf("expected no event, got %+v", event)
				}
				return
			}
			if event == nil {
				t.Fatal("expected event, got nil")
			}
			if event.Type != schema.EventBruteForceAttack {
				t.Errorf("type = %s", event.Type)
			}
			if event.RiskScore != tt.wantScore {
				t.Errorf("score = %d, want %d", event.RiskScore, tt.wantScore)
			}
			if event.ThreatLevel != tt.wantLevel {
				t.Errorf("level = %s, want %s", event.ThreatLevel, tt.wantLevel)
			}
			if len(event.Indicators) != 3 {
				t.Errorf("indicators = %d, want 3", len(event.Indicators))
			}
			if event.Status != schema.StatusOpen {
				t.Errorf("status = %s, want open", event.Status)
			}
		})
	}
}

func TestAnalyzeBruteForce_WindowBoundary(t *testing.T) {
	now := time.Date(2026, 8, 29, 14, 0, 0, 0, time.UTC)
	log := &memLog{}

	// Four failures in-window, three just outside.
	for i := 0; i < 4; i++ {
		log.add(schema.ActivityRecord{
			IPAddress: "10.0.0.5",
			Action:    LoginAction,
			Success:   false,
			Timestamp: now.Add(-time.Duration(i+1) * time.Minute),
		})
	}
	for i := 0; i < 3; i++ {
		log.add(schema.ActivityRecord{
			IPAddress: "10.0.0.5",
			Action:    LoginAction,
			Success:   false,
			Timestamp: now.Add(-16*time.Minute - time.Duration(i)*time.Minute),
		})
	}

	event, err := newTestDetector(log, now).AnalyzeBruteForce(context.Background(), "10.0.0.5")
	if err != nil {
		t.Fatalf("AnalyzeBruteForce() error: %v", err)
	}
	if event != nil {
		t.Errorf("failures outside the window must not count, got %+v", event)
	}
}

func TestAnalyzeBruteForce_Validation(t *testing.T) {
	_, err := newTestDetector(&memLog{}, time.Now().UTC()).AnalyzeBruteForce(context.Background(), "")
	if !errors.Is(err, schema.ErrValidation) {
		t.Errorf("expected ErrValidation for empty IP, got %v", err)
	}
}

func TestDetectSuspiciousLogin_KnownPatternProducesNoEvent(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	log := &memLog{}

	// Established history: same IP, same agent, same hour, days apart.
	for day := 1; day <= 5; day++ {
		log.add(schema.ActivityRecord{
			Actor:     "user-1",
			IPAddress: "192.168.1.10",
			UserAgent: "Mozilla/5.0",
			Action:    LoginAction,
			Success:   true,
			Timestamp: now.AddDate(0, 0, -day),
		})
	}

	event, err := newTestDetector(log, now).DetectSuspiciousLogin(context.Background(), Login{
		Actor:     "user-1",
		IPAddress: "192.168.1.10",
		UserAgent: "Mozilla/5.0",
		Timestamp: now,
	})
	if err != nil {
		t.Fatalf("DetectSuspiciousLogin() error: %v", err)
	}
	if event != nil {
		t.Errorf("known pattern should score 0, got event %+v", event)
	}
}

func TestDetectSuspiciousLogin_NewIPAndAgent(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	log := &memLog{}
	for day := 1; day <= 5; day++ {
		log.add(schema.ActivityRecord{
			Actor:     "user-1",
			IPAddress: "192.168.1.10",
			UserAgent: "Mozilla/5.0",
			Action:    LoginAction,
			Success:   true,
			Timestamp: now.AddDate(0, 0, -day),
		})
	}

	event, err := newTestDetector(log, now).DetectSuspiciousLogin(context.Background(), Login{
		Actor:     "user-1",
		IPAddress: "203.0.113.9",
		UserAgent: "curl/8.0",
		Timestamp: now,
	})
	if err != nil {
		t.Fatalf("DetectSuspiciousLogin() error: %v", err)
	}
	if event == nil {
		t.Fatal("new IP (+30) and new agent (+20) should reach the emission threshold")
	}
	if event.RiskScore != 50 {
		t.Errorf("score = %d, want 50", event.RiskScore)
	}
	if event.ThreatLevel != schema.LevelMedium {
		t.Errorf("level = %s, want medium", event.ThreatLevel)
	}
	if len(event.Indicators) != 2 {
		t.Errorf("indicators = %v, want 2", event.Indicators)
	}
}

func TestDetectSuspiciousLogin_SingleIndicatorBelowThreshold(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	log := &memLog{}
	for day := 1; day <= 5; day++ {
		log.add(schema.ActivityRecord{
			Actor:     "user-1",
			IPAddress: "192.168.1.10",
			UserAgent: "Mozilla/5.0",
			Action:    LoginAction,
			Success:   true,
			Timestamp: now.AddDate(0, 0, -day),
		})
	}

	// Only the user agent is new: raw score 20 < 50.
	event, err := newTestDetector(log, now).DetectSuspiciousLogin(context.Background(), Login{
		Actor:     "user-1",
		IPAddress: "192.168.1.10",
		UserAgent: "curl/8.0",
		Timestamp: now,
	})
	if err != nil {
		t.Fatalf("DetectSuspiciousLogin() error: %v", err)
	}
	if event != nil {
		t.Errorf("raw score below threshold must not emit, got %+v", event)
	}
}

func TestDetectSuspiciousLogin_RapidLogins(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	log := &memLog{}

	// Four prior successful logins in the trailing hour from a new IP's
	// perspective: rapid (+25) alone stays under threshold, so pair it
	// with a new IP (+30).
	for i := 1; i <= 4; i++ {
		log.add(schema.ActivityRecord{
			Actor:     "user-1",
			IPAddress: "192.168.1.10",
			UserAgent: "Mozilla/5.0",
			Action:    LoginAction,
			Success:   true,
			Timestamp: now.Add(-time.Duration(i) * 10 * time.Minute),
		})
	}

	event, err := newTestDetector(log, now).DetectSuspiciousLogin(context.Background(), Login{
		Actor:     "user-1",
		IPAddress: "203.0.113.9",
		UserAgent: "Mozilla/5.0",
		Timestamp: now,
	})
	if err != nil {
		t.Fatalf("DetectSuspiciousLogin() error: %v", err)
	}
	if event == nil {
		t.Fatal("new IP + rapid logins should emit")
	}
	if event.RiskScore != 55 {
		t.Errorf("score = %d, want 55 (30 new IP + 25 rapid)", event.RiskScore)
	}
}

func TestDetectSuspiciousLogin_WarmProfileSkipsHistoryScan(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	log := &memLog{}
	cache := &memProfiles{profiles: map[string]*schema.LoginProfile{
		"user-1": {
			Actor:       "user-1",
			KnownIPs:    []string{"192.168.1.10"},
			KnownAgents: []string{"Mozilla/5.0"},
			LoginHours:  []int{10},
			Logins:      5,
			ComputedAt:  now.Add(-time.Minute),
		},
	}}

	d := newTestDetector(log, now)
	d.profiles = cache

	event, err := d.DetectSuspiciousLogin(context.Background(), Login{
		Actor:     "user-1",
		IPAddress: "192.168.1.10",
		UserAgent: "Mozilla/5.0",
		Timestamp: now,
	})
	if err != nil {
		t.Fatalf("DetectSuspiciousLogin() error: %v", err)
	}
	if event != nil {
		t.Fatalf("login matching cached profile must not emit, got %+v", event)
	}

	// Only the rapid window is queried; the full history scan is
	// replaced by the cached profile.
	if len(log.queries) != 1 {
		t.Fatalf("queries = %d, want 1", len(log.queries))
	}
	if from := log.queries[0].From; from.Before(now.Add(-2 * time.Hour)) {
		t.Errorf("query window starts %s, want within the rapid window", from)
	}
}

func TestDetectSuspiciousLogin_WarmProfileStillFlagsNewIP(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	cache := &memProfiles{profiles: map[string]*schema.LoginProfile{
		"user-1": {
			Actor:       "user-1",
			KnownIPs:    []string{"192.168.1.10"},
			KnownAgents: []string{"Mozilla/5.0"},
			LoginHours:  []int{10},
			Logins:      5,
		},
	}}

	d := newTestDetector(&memLog{}, now)
	d.profiles = cache

	event, err := d.DetectSuspiciousLogin(context.Background(), Login{
		Actor:     "user-1",
		IPAddress: "203.0.113.9",
		UserAgent: "curl/8.0",
		Timestamp: now,
	})
	if err != nil {
		t.Fatalf("DetectSuspiciousLogin() error: %v", err)
	}
	if event == nil {
		t.Fatal("new IP and agent against cached profile must emit")
	}
	if event.RiskScore != 50 {
		t.Errorf("score = %d, want 50", event.RiskScore)
	}
}

func TestDetectSuspiciousLogin_ColdCacheIsPopulated(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	log := &memLog{}
	for day := 1; day <= 5; day++ {
		log.add(schema.ActivityRecord{
			Actor:     "user-1",
			IPAddress: "192.168.1.10",
			UserAgent: "Mozilla/5.0",
			Action:    LoginAction,
			Success:   true,
			Timestamp: now.AddDate(0, 0, -day),
		})
	}
	cache := &memProfiles{}

	d := newTestDetector(log, now)
	d.profiles = cache

	if _, err := d.DetectSuspiciousLogin(context.Background(), Login{
		Actor:     "user-1",
		IPAddress: "192.168.1.10",
		UserAgent: "Mozilla/5.0",
		Timestamp: now,
	}); err != nil {
		t.Fatalf("DetectSuspiciousLogin() error: %v", err)
	}

	if cache.sets != 1 {
		t.Fatalf("cache writes = %d, want 1", cache.sets)
	}
	profile := cache.profiles["user-1"]
	if profile.Logins != 5 {
		t.Errorf("profile logins = %d, want 5", profile.Logins)
	}
	if len(profile.KnownIPs) != 1 || profile.KnownIPs[0] != "192.168.1.10" {
		t.Errorf("profile IPs = %v", profile.KnownIPs)
	}
	if len(profile.LoginHours) != 1 || profile.LoginHours[0] != 10 {
		t.Errorf("profile hours = %v", profile.LoginHours)
	}
}

func TestDetectSuspiciousLogin_Validation(t *testing.T) {
	_, err := newTestDetector(&memLog{}, time.Now().UTC()).DetectSuspiciousLogin(context.Background(), Login{})
	if !errors.Is(err, schema.ErrValidation) {
		t.Errorf("expected ErrValidation for missing actor, got %v", err)
	}
}

func TestMonitorPrivilegeEscalation(t *testing.T) {
	d := newTestDetector(&memLog{}, time.Now().UTC())

	tests := []struct {
		name      string
		required  string
		actual    string
		wantEvent bool
	}{
		{name: "company user attempts admin action", required: "PLATFORM_ADMIN", actual: "COMPANY_USER", wantEvent: true},
		{name: "moderator attempts admin action", required: "PLATFORM_ADMIN", actual: "MODERATOR", wantEvent: true},
		{name: "matching roles", required: "PLATFORM_ADMIN", actual: "PLATFORM_ADMIN", wantEvent: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := d.MonitorPrivilegeEscalation(context.Background(), EscalationAttempt{
				Actor:        "user-1",
				Action:       "company.delete",
				RequiredRole: tt.required,
				ActorRole:    tt.actual,
			})
			if err != nil {
				t.Fatalf("MonitorPrivilegeEscalation() error: %v", err)
			}

			if !tt.wantEvent {
				if event != nil {
					t.Fatalf("matching roles must not emit, got %+v", event)
				}
				return
			}
			if event == nil {
				t.Fatal("role mismatch must emit")
			}
			// Any mismatch is equally severe: fixed score, fixed level.
			if event.RiskScore != 80 {
				t.Errorf("score = %d, want 80", event.RiskScore)
			}
			if event.ThreatLevel != schema.LevelHigh {
				t.Errorf("level = %s, want high", event.ThreatLevel)
			}
			if event.ResolvedAt != nil {
				t.Error("fresh event must have nil resolvedAt")
			}
		})
	}
}

func TestMonitorPrivilegeEscalation_Validation(t *testing.T) {
	d := newTestDetector(&memLog{}, time.Now().UTC())

	attempts := []EscalationAttempt{
		{Action: "a", RequiredRole: "r1", ActorRole: "r2"},
		{Actor: "u", RequiredRole: "r1", ActorRole: "r2"},
		{Actor: "u", Action: "a", ActorRole: "r2"},
		{Actor: "u", Action: "a", RequiredRole: "r1"},
	}
	for i, attempt := range attempts {
		if _, err := d.MonitorPrivilegeEscalation(context.Background(), attempt); !errors.Is(err, schema.ErrValidation) {
			t.Errorf("attempt %d: expected ErrValidation, got %v", i, err)
		}
	}
}

func TestDetectAnomalousBehavior_NoBaseline(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	log := &memLog{}
	log.add(schema.ActivityRecord{
		Actor:     "user-1",
		Action:    "report.export",
		Success:   true,
		Timestamp: now.Add(-time.Hour),
	})

	event, err := newTestDetector(log, now).DetectAnomalousBehavior(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("DetectAnomalousBehavior() error: %v", err)
	}
	if event != nil {
		t.Errorf("no baseline means nothing to deviate from, got %+v", event)
	}
}

func TestDetectAnomalousBehavior_FullDeviation(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	log := &memLog{}

	// Baseline: one routine action per day at 10:00 for the prior month.
	for day := 2; day <= 28; day++ {
		log.add(schema.ActivityRecord{
			Actor:     "user-1",
			Action:    "booking.view",
			Success:   true,
			Timestamp: time.Date(2026, 8, 29-day, 10, 0, 0, 0, time.UTC),
		})
	}

	// Today: a burst of novel actions in the middle of the night.
	for i := 0; i < 4; i++ {
		for _, action := range []string{"user.export", "payment.list", "config.read"} {
			log.add(schema.ActivityRecord{
				Actor:     "user-1",
				Action:    action,
				Success:   true,
				Timestamp: now.Add(-time.Duration(i+1) * 30 * time.Minute).Add(-9 * time.Hour),
			})
		}
	}

	event, err := newTestDetector(log, now).DetectAnomalousBehavior(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("DetectAnomalousBehavior() error: %v", err)
	}
	if event == nil {
		t.Fatal("volume spike + novel actions + off-hours should emit")
	}
	if event.Type != schema.EventAnomalousBehavior {
		t.Errorf("type = %s", event.Type)
	}
	if event.RiskScore != 95 {
		t.Errorf("score = %d, want 95 (40+30+25)", event.RiskScore)
	}
	if event.ThreatLevel != schema.LevelCritical {
		t.Errorf("level = %s, want critical", event.ThreatLevel)
	}
}

func TestDetectAnomalousBehavior_RoutineActivity(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	log := &memLog{}

	for day := 2; day <= 28; day++ {
		log.add(schema.ActivityRecord{
			Actor:     "user-1",
			Action:    "booking.view",
			Success:   true,
			Timestamp: time.Date(2026, 8, 29-day, 11, 0, 0, 0, time.UTC),
		})
	}
	// Today looks like every other day.
	log.add(schema.ActivityRecord{
		Actor:     "user-1",
		Action:    "booking.view",
		Success:   true,
		Timestamp: now.Add(-time.Hour),
	})

	event, err := newTestDetector(log, now).DetectAnomalousBehavior(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("DetectAnomalousBehavior() error: %v", err)
	}
	if event != nil {
		t.Errorf("routine activity must not emit, got %+v", event)
	}
}

func TestDetectAnomalousBehavior_Validation(t *testing.T) {
	_, err := newTestDetector(&memLog{}, time.Now().UTC()).DetectAnomalousBehavior(context.Background(), "")
	if !errors.Is(err, schema.ErrValidation) {
		t.Errorf("expected ErrValidation for empty actor, got %v", err)
	}
}

func TestHourNear(t *testing.T) {
	tests := []struct {
		h, hh, slack int
		want         bool
	}{
		{h: 10, hh: 10, slack: 2, want: true},
		{h: 10, hh: 12, slack: 2, want: true},
		{h: 10, hh: 13, slack: 2, want: false},
		{h: 23, hh: 1, slack: 2, want: true}, // wraps midnight
		{h: 0, hh: 23, slack: 1, want: true},
		{h: 12, hh: 0, slack: 2, want: false},
	}
	for _, tt := range tests {
		if got := hourNear(tt.h, tt.hh, tt.slack); got != tt.want {
			t.Errorf("hourNear(%d, %d, %d) = %v, want %v", tt.h, tt.hh, tt.slack, got, tt.want)
		}
	}
}
