package detect

import (
	"context"
	"errors"
	"fmt"

	"threatwatch/internal/schema"
	"threatwatch/internal/scoring"
)

// AnalyzeBruteForce checks the trailing window of failed logins for one
// IP. At or above the failure threshold it emits a BruteForceAttack
// event scored at base + per-extra for each failure beyond the
// threshold, clamped to 100. Below the threshold it returns (nil, nil).
func (d *Detector) AnalyzeBruteForce(ctx context.Context, ip string) (*schema.SecurityEvent, error) {
	if ip == "" {
		return nil, schema.NewValidationError("ip", errors.New("ip address is required"))
	}

	now := d.now()
	failed := false
	records, err := d.activity.Query(ctx, schema.ActivityFilter{
		IP:      ip,
		Action:  LoginAction,
		Success: &failed,
		From:    now.Add(-d.config.BruteForce.Window),
		To:      now,
	})
	if err != nil {
		return nil, err
	}

	failures := len(records)
	if failures < d.config.BruteForce.Threshold {
		return nil, nil
	}

	extra := failures - d.config.BruteForce.Threshold
	score := scoring.Clamp(d.config.BruteForce.BaseScore + extra*d.config.BruteForce.ScorePerExtra)

	return &schema.SecurityEvent{
		Type:        schema.EventBruteForceAttack,
		ThreatLevel: d.scorer.Classify(score),
		Title:       "Brute force attack detected",
		Description: fmt.Sprintf("%d failed login attempts from %s within %s", failures, ip, d.config.BruteForce.Window),
		IPAddress:   ip,
		Timestamp:   now,
		RiskScore:   score,
		Indicators: []string{
			"Multiple failed login attempts",
			"Short time window",
			"Same IP address",
		},
		MitigationActions: []string{
			"Block IP address",
			"Increase login delay",
			"Notify security team",
		},
		Status: schema.StatusOpen,
	}, nil
}
