// Package detect implements the threat detectors: brute force,
// suspicious login, privilege escalation and anomalous behavior.
//
// Detectors are pure functions of the activity log and their input,
// safe to invoke concurrently. They return a SecurityEvent when the
// scored indicators cross the emission threshold; persistence, audit
// and notification are the engine's job.
package detect

import (
	"context"
	"time"

	"threatwatch/internal/schema"
	"threatwatch/internal/scoring"
)

// LoginAction is the activity-log action recorded for login attempts.
const LoginAction = "auth.login"

// ActivityLog is the slice of the activity log the detectors consume.
type ActivityLog interface {
	Query(ctx context.Context, filter schema.ActivityFilter) ([]*schema.ActivityRecord, error)
}

// ProfileCache caches per-actor login profiles so repeated login checks
// do not rescan the full history window. Implementations are best
// effort: a miss or an error just means the profile is rebuilt from the
// activity log.
type ProfileCache interface {
	GetProfile(ctx context.Context, actor string) (*schema.LoginProfile, bool)
	SetProfile(ctx context.Context, actor string, profile *schema.LoginProfile)
}

// BruteForceConfig tunes the brute force detector.
type BruteForceConfig struct {
	Window        time.Duration `yaml:"window"`
	Threshold     int           `yaml:"threshold"`
	BaseScore     int           `yaml:"base_score"`
	ScorePerExtra int           `yaml:"score_per_extra"`
}

// LoginConfig tunes the suspicious login detector.
type LoginConfig struct {
	HistoryWindow     time.Duration `yaml:"history_window"`
	NewIPWeight       int           `yaml:"new_ip_weight"`
	NewAgentWeight    int           `yaml:"new_agent_weight"`
	UnusualHourWeight int           `yaml:"unusual_hour_weight"`
	UnusualHourSlack  int           `yaml:"unusual_hour_slack"`
	RapidLoginWeight  int           `yaml:"rapid_login_weight"`
	RapidWindow       time.Duration `yaml:"rapid_window"`
	RapidThreshold    int           `yaml:"rapid_threshold"`
	MinScore          int           `yaml:"min_score"`
}

// PrivilegeConfig tunes the privilege escalation monitor.
type PrivilegeConfig struct {
	Score int `yaml:"score"`
}

// AnomalyConfig tunes the anomalous behavior detector.
type AnomalyConfig struct {
	RecentWindow      time.Duration `yaml:"recent_window"`
	BaselineWindow    time.Duration `yaml:"baseline_window"`
	VolumeRatio       float64       `yaml:"volume_ratio"`
	VolumeWeight      int           `yaml:"volume_weight"`
	NovelActionCount  int           `yaml:"novel_action_count"`
	NovelActionWeight int           `yaml:"novel_action_weight"`
	OffHoursFraction  float64       `yaml:"off_hours_fraction"`
	OffHoursSlack     int           `yaml:"off_hours_slack"`
	OffHoursWeight    int           `yaml:"off_hours_weight"`
	MinScore          int           `yaml:"min_score"`
}

// Config bundles all detector tuning. Weights and thresholds live here
// rather than inline so they are tunable without code changes.
type Config struct {
	BruteForce BruteForceConfig `yaml:"brute_force"`
	Login      LoginConfig      `yaml:"login"`
	Privilege  PrivilegeConfig  `yaml:"privilege"`
	Anomaly    AnomalyConfig    `yaml:"anomaly"`
}

// DefaultConfig returns the standard detector tuning.
func DefaultConfig() Config {
	return Config{
		BruteForce: BruteForceConfig{
			Window:        15 * time.Minute,
			Threshold:     5,
			BaseScore:     50,
			ScorePerExtra: 10,
		},
		Login: LoginConfig{
			HistoryWindow:     30 * 24 * time.Hour,
			NewIPWeight:       30,
			NewAgentWeight:    20,
			UnusualHourWeight: 15,
			UnusualHourSlack:  2,
			RapidLoginWeight:  25,
			RapidWindow:       time.Hour,
			RapidThreshold:    3,
			MinScore:          50,
		},
		Privilege: PrivilegeConfig{
			Score: 80,
		},
		Anomaly: AnomalyConfig{
			RecentWindow:      24 * time.Hour,
			BaselineWindow:    30 * 24 * time.Hour,
			VolumeRatio:       3,
			VolumeWeight:      40,
			NovelActionCount:  2,
			NovelActionWeight: 30,
			OffHoursFraction:  0.5,
			OffHoursSlack:     1,
			OffHoursWeight:    25,
			MinScore:          50,
		},
	}
}

// Detector runs the four detection checks against the activity log.
type Detector struct {
	config   Config
	scorer   *scoring.Scorer
	activity ActivityLog
	profiles ProfileCache
	now      func() time.Time
}

// NewDetector creates a Detector. profiles may be nil; the suspicious
// login detector then scans the history window on every call.
func NewDetector(cfg Config, scorer *scoring.Scorer, activity ActivityLog, profiles ProfileCache) *Detector {
	return &Detector{
		config:   cfg,
		scorer:   scorer,
		activity: activity,
		profiles: profiles,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// hourNear reports whether hour h is within slack hours of hh on the
// 24-hour clock, wrapping midnight.
func hourNear(h, hh, slack int) bool {
	diff := h - hh
	if diff < 0 {
		diff = -diff
	}
	if 24-diff < diff {
		diff = 24 - diff
	}
	return diff <= slack
}
