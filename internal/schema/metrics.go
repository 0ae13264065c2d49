package schema

import "time"

// SuspiciousActivity is a read-only rollup of the security events sharing
// an actor over a window. It is computed on demand and never persisted.
type SuspiciousActivity struct {
	Actor             string    `json:"actor"`
	FirstSeen         time.Time `json:"first_seen"`
	LastSeen          time.Time `json:"last_seen"`
	Occurrences       int       `json:"occurrences"`
	IPAddresses       []string  `json:"ip_addresses,omitempty"`
	UserAgents        []string  `json:"user_agents,omitempty"`
	AffectedResources []string  `json:"affected_resources,omitempty"`
	MeanRiskScore     float64   `json:"mean_risk_score"`
}

// LoginProfile summarizes an actor's successful login history: the
// distinct IPs, user agents and hours of day seen in the window.
// Derived from the activity log and safe to rebuild at any time, which
// is what makes it cacheable.
type LoginProfile struct {
	Actor       string    `json:"actor"`
	KnownIPs    []string  `json:"known_ips,omitempty"`
	KnownAgents []string  `json:"known_agents,omitempty"`
	LoginHours  []int     `json:"login_hours,omitempty"`
	Logins      int       `json:"logins"`
	ComputedAt  time.Time `json:"computed_at"`
}

// ThreatSummary is one entry in the top-threats ranking.
type ThreatSummary struct {
	Type          EventType `json:"type"`
	Count         int       `json:"count"`
	MeanRiskScore float64   `json:"mean_risk_score"`
}

// TrendPoint is one calendar day in the risk trend.
type TrendPoint struct {
	Date          time.Time `json:"date"`
	EventCount    int       `json:"event_count"`
	MeanRiskScore float64   `json:"mean_risk_score"`
}

// SecurityMetrics is a read-only rollup over a time window.
// It is entirely derived from stored events and has no lifecycle.
type SecurityMetrics struct {
	WindowDays          int                   `json:"window_days"`
	TotalEvents         int                   `json:"total_events"`
	EventsByType        map[EventType]int     `json:"events_by_type"`
	EventsByThreatLevel map[ThreatLevel]int   `json:"events_by_threat_level"`
	OpenAlerts          int                   `json:"open_alerts"`
	ResolvedAlerts      int                   `json:"resolved_alerts"`
	MeanResolutionHours float64               `json:"mean_resolution_hours"`
	TopThreats          []ThreatSummary       `json:"top_threats"`
	RiskTrend           []TrendPoint          `json:"risk_trend"`
	TopSuspiciousUsers  []*SuspiciousActivity `json:"top_suspicious_users"`

	// Degraded is true when the metrics are synthetic low-baseline data
	// produced because the event store was unreachable.
	Degraded bool `json:"degraded,omitempty"`

	GeneratedAt time.Time `json:"generated_at"`
}
