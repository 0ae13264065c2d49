// Package schema defines the canonical security event model for threatwatch.
// All detector output is normalized to this structure before storage.
package schema

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies a security event.
type EventType string

const (
	EventBruteForceAttack    EventType = "brute_force_attack"
	EventSuspiciousLogin     EventType = "suspicious_login"
	EventPrivilegeEscalation EventType = "privilege_escalation"
	EventUnauthorizedAccess  EventType = "unauthorized_access"
	EventDataExfiltration    EventType = "data_exfiltration"
	EventAnomalousBehavior   EventType = "anomalous_behavior"
	EventMaliciousRequest    EventType = "malicious_request"
	EventAccountTakeover     EventType = "account_takeover"
	EventInsiderThreat       EventType = "insider_threat"
	EventSystemCompromise    EventType = "system_compromise"
)

// IsValid checks if the event type is a known value.
func (t EventType) IsValid() bool {
	switch t {
	case EventBruteForceAttack, EventSuspiciousLogin, EventPrivilegeEscalation,
		EventUnauthorizedAccess, EventDataExfiltration, EventAnomalousBehavior,
		EventMaliciousRequest, EventAccountTakeover, EventInsiderThreat,
		EventSystemCompromise:
		return true
	}
	return false
}

// ThreatLevel is the ordinal severity classification derived from risk score.
type ThreatLevel string

const (
	LevelLow      ThreatLevel = "low"
	LevelMedium   ThreatLevel = "medium"
	LevelHigh     ThreatLevel = "high"
	LevelCritical ThreatLevel = "critical"
)

// Rank returns the ordinal position of the level (Low < Medium < High < Critical).
func (l ThreatLevel) Rank() int {
	switch l {
	case LevelLow:
		return 0
	case LevelMedium:
		return 1
	case LevelHigh:
		return 2
	case LevelCritical:
		return 3
	}
	return -1
}

// IsValid checks if the threat level is a known value.
func (l ThreatLevel) IsValid() bool {
	return l.Rank() >= 0
}

// EventStatus is the triage status of a security event.
type EventStatus string

const (
	StatusOpen          EventStatus = "open"
	StatusInvestigating EventStatus = "investigating"
	StatusResolved      EventStatus = "resolved"
	StatusFalsePositive EventStatus = "false_positive"
)

// IsValid checks if the status is a known value.
func (s EventStatus) IsValid() bool {
	switch s {
	case StatusOpen, StatusInvestigating, StatusResolved, StatusFalsePositive:
		return true
	}
	return false
}

// IsTerminal reports whether the status ends the triage workflow.
func (s EventStatus) IsTerminal() bool {
	return s == StatusResolved || s == StatusFalsePositive
}

// SecurityEvent is the unit of detection output.
//
// RiskScore and Indicators are assigned exactly once at creation by the
// risk scorer. Only Status, AssignedTo, ResolvedAt and ResolutionNotes
// are mutated after creation, and only through lifecycle transitions.
type SecurityEvent struct {
	ID          uuid.UUID   `json:"id" validate:"required"`
	Type        EventType   `json:"type" validate:"required,event_type"`
	ThreatLevel ThreatLevel `json:"threat_level" validate:"required,threat_level"`
	Title       string      `json:"title" validate:"required,max=256"`
	Description string      `json:"description,omitempty" validate:"max=4096"`

	// Attribution, all optional. An event may be attributable to
	// infrastructure rather than a user.
	Actor     string `json:"actor,omitempty" validate:"max=256"`
	IPAddress string `json:"ip_address,omitempty" validate:"omitempty,ip"`
	UserAgent string `json:"user_agent,omitempty" validate:"max=1024"`
	SessionID string `json:"session_id,omitempty" validate:"max=128"`

	Timestamp time.Time `json:"timestamp" validate:"required"`

	RiskScore  int      `json:"risk_score" validate:"min=0,max=100"`
	Indicators []string `json:"indicators" validate:"required,min=1,dive,max=256"`

	AffectedResources []string `json:"affected_resources,omitempty"`
	MitigationActions []string `json:"mitigation_actions,omitempty"`

	Status          EventStatus `json:"status" validate:"required,event_status"`
	AssignedTo      string      `json:"assigned_to,omitempty" validate:"max=256"`
	ResolvedAt      *time.Time  `json:"resolved_at,omitempty"`
	ResolutionNotes string      `json:"resolution_notes,omitempty" validate:"max=4096"`
}

// Clone returns a deep copy of the event.
func (e *SecurityEvent) Clone() *SecurityEvent {
	c := *e
	c.Indicators = append([]string(nil), e.Indicators...)
	c.AffectedResources = append([]string(nil), e.AffectedResources...)
	c.MitigationActions = append([]string(nil), e.MitigationActions...)
	if e.ResolvedAt != nil {
		t := *e.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

// ActivityRecord is a single entry in the append-only activity log.
type ActivityRecord struct {
	ID        uuid.UUID `json:"id"`
	Actor     string    `json:"actor,omitempty" validate:"max=256"`
	IPAddress string    `json:"ip_address,omitempty" validate:"omitempty,ip"`
	UserAgent string    `json:"user_agent,omitempty" validate:"max=1024"`
	SessionID string    `json:"session_id,omitempty" validate:"max=128"`
	Action    string    `json:"action" validate:"required,max=256"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
}

// EventFilter selects security events from the event store.
// Zero-valued fields are ignored.
type EventFilter struct {
	Types    []EventType   `json:"types,omitempty"`
	Levels   []ThreatLevel `json:"levels,omitempty"`
	Statuses []EventStatus `json:"statuses,omitempty"`
	Actor    string        `json:"actor,omitempty"`
	IP       string        `json:"ip,omitempty"`
	From     time.Time     `json:"from,omitempty"`
	To       time.Time     `json:"to,omitempty"`
}

// ActivityFilter selects records from the activity log.
// Zero-valued fields are ignored; Success is a tri-state.
type ActivityFilter struct {
	Actor   string    `json:"actor,omitempty"`
	IP      string    `json:"ip,omitempty"`
	Action  string    `json:"action,omitempty"`
	Success *bool     `json:"success,omitempty"`
	From    time.Time `json:"from,omitempty"`
	To      time.Time `json:"to,omitempty"`
}

// StatusUpdate carries a lifecycle transition request.
type StatusUpdate struct {
	Status     EventStatus `json:"status" validate:"required"`
	AssignedTo string      `json:"assigned_to,omitempty" validate:"max=256"`
	Notes      string      `json:"notes,omitempty" validate:"max=4096"`
	UpdatedBy  string      `json:"updated_by,omitempty" validate:"max=256"`
}

// EventList is a page of security events.
type EventList struct {
	Events []*SecurityEvent `json:"events"`
	Total  int              `json:"total"`

	// Degraded is true when the list was reconstructed from the audit
	// trail because the event store was unreachable. Audit-derived
	// events are lower fidelity than native ones.
	Degraded bool `json:"degraded,omitempty"`
}
