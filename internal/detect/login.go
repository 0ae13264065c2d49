package detect

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"threatwatch/internal/schema"
	"threatwatch/internal/scoring"
)

// Login describes a successful login under evaluation.
type Login struct {
	Actor     string
	IPAddress string
	UserAgent string
	SessionID string
	Timestamp time.Time
}

// DetectSuspiciousLogin compares a login against the actor's successful
// login history. Four independent indicators contribute to the raw
// score; an event is emitted only when the sum reaches the Medium
// threshold.
func (d *Detector) DetectSuspiciousLogin(ctx context.Context, login Login) (*schema.SecurityEvent, error) {
	if login.Actor == "" {
		return nil, schema.NewValidationError("actor", errors.New("actor is required"))
	}

	at := login.Timestamp
	if at.IsZero() {
		at = d.now()
	}

	profile, rapid, err := d.loginHistory(ctx, login.Actor, at)
	if err != nil {
		return nil, err
	}

	cfg := d.config.Login
	var indicators []scoring.Indicator

	if login.IPAddress != "" && !containsString(profile.KnownIPs, login.IPAddress) {
		indicators = append(indicators, scoring.Indicator{
			Reason: "New IP address for this account",
			Weight: cfg.NewIPWeight,
		})
	}
	if login.UserAgent != "" && !containsString(profile.KnownAgents, login.UserAgent) {
		indicators = append(indicators, scoring.Indicator{
			Reason: "New user agent for this account",
			Weight: cfg.NewAgentWeight,
		})
	}
	if profile.Logins > 0 && !usualHour(profile.LoginHours, at.Hour(), cfg.UnusualHourSlack) {
		indicators = append(indicators, scoring.Indicator{
			Reason: "Login at unusual hour",
			Weight: cfg.UnusualHourWeight,
		})
	}
	if rapid > cfg.RapidThreshold {
		indicators = append(indicators, scoring.Indicator{
			Reason: "Multiple rapid logins",
			Weight: cfg.RapidLoginWeight,
		})
	}

	score, reasons := d.scorer.Score(indicators)
	if score < cfg.MinScore {
		return nil, nil
	}

	return &schema.SecurityEvent{
		Type:        schema.EventSuspiciousLogin,
		ThreatLevel: d.scorer.Classify(score),
		Title:       "Suspicious login detected",
		Description: fmt.Sprintf("Login by %s from %s deviates from account history", login.Actor, login.IPAddress),
		Actor:       login.Actor,
		IPAddress:   login.IPAddress,
		UserAgent:   login.UserAgent,
		SessionID:   login.SessionID,
		Timestamp:   at,
		RiskScore:   score,
		Indicators:  reasons,
		MitigationActions: []string{
			"Monitor user activity",
			"Require additional authentication",
			"Review account access",
		},
		Status: schema.StatusOpen,
	}, nil
}

// loginHistory returns the actor's login profile and the count of
// logins within the rapid window, both restricted to logins strictly
// before the one under evaluation. A warm cache serves the profile and
// only the rapid window is queried; otherwise the full history window
// is scanned and the resulting profile cached.
func (d *Detector) loginHistory(ctx context.Context, actor string, at time.Time) (*schema.LoginProfile, int, error) {
	cfg := d.config.Login
	succeeded := true

	if d.profiles != nil {
		if profile, ok := d.profiles.GetProfile(ctx, actor); ok {
			recent, err := d.activity.Query(ctx, schema.ActivityFilter{
				Actor:   actor,
				Action:  LoginAction,
				Success: &succeeded,
				From:    at.Add(-cfg.RapidWindow),
				To:      at,
			})
			if err != nil {
				return nil, 0, err
			}
			return profile, countBefore(recent, at), nil
		}
	}

	history, err := d.activity.Query(ctx, schema.ActivityFilter{
		Actor:   actor,
		Action:  LoginAction,
		Success: &succeeded,
		From:    at.Add(-cfg.HistoryWindow),
		To:      at,
	})
	if err != nil {
		return nil, 0, err
	}

	// Only logins strictly before the one under evaluation count as
	// precedent; the current login may already be in the log.
	var prior []*schema.ActivityRecord
	for _, rec := range history {
		if rec.Timestamp.Before(at) {
			prior = append(prior, rec)
		}
	}

	profile := buildProfile(actor, prior, d.now())
	if d.profiles != nil {
		d.profiles.SetProfile(ctx, actor, profile)
	}
	return profile, countSince(prior, at.Add(-cfg.RapidWindow)), nil
}

// buildProfile reduces login records to the distinct IPs, agents and
// hours an actor has been seen with.
func buildProfile(actor string, records []*schema.ActivityRecord, now time.Time) *schema.LoginProfile {
	ips := make(map[string]bool)
	agents := make(map[string]bool)
	hours := make(map[int]bool)
	for _, rec := range records {
		if rec.IPAddress != "" {
			ips[rec.IPAddress] = true
		}
		if rec.UserAgent != "" {
			agents[rec.UserAgent] = true
		}
		hours[rec.Timestamp.Hour()] = true
	}

	profile := &schema.LoginProfile{
		Actor:      actor,
		Logins:     len(records),
		ComputedAt: now,
	}
	for ip := range ips {
		profile.KnownIPs = append(profile.KnownIPs, ip)
	}
	for agent := range agents {
		profile.KnownAgents = append(profile.KnownAgents, agent)
	}
	for hour := range hours {
		profile.LoginHours = append(profile.LoginHours, hour)
	}
	sort.Strings(profile.KnownIPs)
	sort.Strings(profile.KnownAgents)
	sort.Ints(profile.LoginHours)
	return profile
}

func containsString(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func usualHour(hours []int, hour, slack int) bool {
	for _, h := range hours {
		if hourNear(hour, h, slack) {
			return true
		}
	}
	return false
}

func countSince(records []*schema.ActivityRecord, since time.Time) int {
	count := 0
	for _, rec := range records {
		if !rec.Timestamp.Before(since) {
			count++
		}
	}
	return count
}

func countBefore(records []*schema.ActivityRecord, at time.Time) int {
	count := 0
	for _, rec := range records {
		if rec.Timestamp.Before(at) {
			count++
		}
	}
	return count
}
