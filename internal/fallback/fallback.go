// Package fallback keeps the detection engine answering when ClickHouse
// is unreachable. It decorates the persistent event store: while the
// primary is healthy every call passes through, and when it is absent or
// unavailable the store serves approximate results from an in-memory
// buffer and the audit trail instead of failing the caller.
package fallback

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"threatwatch/internal/audit"
	"threatwatch/internal/metrics"
	"threatwatch/internal/schema"
	"threatwatch/internal/storage"
)

// maxLocalEvents bounds the in-memory buffer of events created while
// degraded.
const maxLocalEvents = 1000

// Audit entry data keys used to reconstruct events. The engine writes
// these on every SECURITY_ALERT entry.
const (
	DataEventID     = "event_id"
	DataEventType   = "event_type"
	DataThreatLevel = "threat_level"
	DataRiskScore   = "risk_score"
)

// Primary is the persistent event store being decorated.
type Primary interface {
	CreateEvent(ctx context.Context, event *schema.SecurityEvent) (*schema.SecurityEvent, error)
	QueryEvents(ctx context.Context, filter schema.EventFilter, limit, offset int) ([]*schema.SecurityEvent, int, error)
	GetEvent(ctx context.Context, id uuid.UUID) (*schema.SecurityEvent, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status schema.EventStatus, assignedTo, notes string, resolvedAt *time.Time) (*schema.SecurityEvent, error)
}

// Store wraps a Primary with degraded-mode behavior. A nil primary puts
// the store in permanent degraded mode; the decision is made once at
// construction rather than probed on every call.
type Store struct {
	primary Primary
	trail   *audit.Trail

	mu    sync.Mutex
	local []*schema.SecurityEvent

	now func() time.Time
}

// NewStore creates a fallback store around primary. primary may be nil
// when the event store was unreachable at startup.
func NewStore(primary Primary, trail *audit.Trail) *Store {
	return &Store{
		primary: primary,
		trail:   trail,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Degraded reports whether the store has no primary.
func (s *Store) Degraded() bool {
	return s.primary == nil
}

// CreateEvent persists an event, falling back to the in-memory buffer
// when the primary is absent or unavailable. The degraded return is true
// when the event only exists locally.
func (s *Store) CreateEvent(ctx context.Context, event *schema.SecurityEvent) (*schema.SecurityEvent, bool, error) {
	if s.primary != nil {
		stored, err := s.primary.CreateEvent(ctx, event)
		if err == nil {
			return stored, false, nil
		}
		if !storage.IsUnavailable(err) {
			return nil, false, err
		}
	}

	stored := event.Clone()
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = s.now()
	}
	if stored.Status == "" {
		stored.Status = schema.StatusOpen
	}

	s.mu.Lock()
	s.local = append(s.local, stored)
	if len(s.local) > maxLocalEvents {
		s.local = s.local[len(s.local)-maxLocalEvents:]
	}
	s.mu.Unlock()

	if s.trail != nil {
		s.trail.Append(audit.Record{
			Tag:     audit.TagFallback,
			Message: "event buffered in memory, store unavailable",
			Target:  stored.ID.String(),
			Success: true,
			Data: map[string]any{
				DataEventType: string(stored.Type),
			},
		})
	}

	return stored.Clone(), true, nil
}

// QueryEvents returns events matching the filter, newest first. When the
// primary is absent or unavailable it reconstructs an approximate list
// from SECURITY_ALERT audit entries plus locally buffered events, and
// reports degraded true.
func (s *Store) QueryEvents(ctx context.Context, filter schema.EventFilter, limit, offset int) ([]*schema.SecurityEvent, int, bool, error) {
	if s.primary != nil {
		events, total, err := s.primary.QueryEvents(ctx, filter, limit, offset)
		if err == nil {
			return events, total, false, nil
		}
		if !storage.IsUnavailable(err) {
			return nil, 0, false, err
		}
	}

	events := s.reconstruct(filter)
	total := len(events)

	if limit <= 0 {
		limit = 100
	}
	if offset >= len(events) {
		events = nil
	} else {
		events = events[offset:]
		if len(events) > limit {
			events = events[:limit]
		}
	}

	return events, total, true, nil
}

// GetEvent looks up an event by id, checking the local buffer when the
// primary is absent or unavailable.
func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (*schema.SecurityEvent, error) {
	if s.primary != nil {
		event, err := s.primary.GetEvent(ctx, id)
		if err == nil || !storage.IsUnavailable(err) {
			return event, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range s.local {
		if event.ID == id {
			return event.Clone(), nil
		}
	}
	return nil, storage.WrapNotFound("GetEvent", "fallback", id.String())
}

// UpdateStatus applies a lifecycle transition, mutating the local buffer
// when the primary is absent or unavailable. Audit-derived events are
// not updatable; only events the buffer actually holds.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status schema.EventStatus, assignedTo, notes string, resolvedAt *time.Time) (*schema.SecurityEvent, error) {
	if s.primary != nil {
		event, err := s.primary.UpdateStatus(ctx, id, status, assignedTo, notes, resolvedAt)
		if err == nil || !storage.IsUnavailable(err) {
			return event, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range s.local {
		if event.ID == id {
			event.Status = status
			if assignedTo != "" {
				event.AssignedTo = assignedTo
			}
			event.ResolutionNotes = notes
			event.ResolvedAt = resolvedAt
			return event.Clone(), nil
		}
	}
	return nil, storage.WrapNotFound("UpdateStatus", "fallback", id.String())
}

// DegradedMetrics computes metrics over whatever the degraded store can
// see: audit-derived plus locally buffered events. The result carries
// the Degraded flag so consumers can tell a quiet system from a blind
// one.
func (s *Store) DegradedMetrics(days int) *schema.SecurityMetrics {
	now := s.now()
	events := s.reconstruct(schema.EventFilter{
		From: now.AddDate(0, 0, -days),
	})

	m := metrics.Compute(events, days, now)
	m.Degraded = true
	return m
}

// reconstruct merges locally buffered events with events rebuilt from
// SECURITY_ALERT audit entries, deduplicated by id, newest first.
func (s *Store) reconstruct(filter schema.EventFilter) []*schema.SecurityEvent {
	seen := make(map[uuid.UUID]bool)
	var events []*schema.SecurityEvent

	s.mu.Lock()
	for _, event := range s.local {
		if matchesFilter(event, filter) {
			events = append(events, event.Clone())
			seen[event.ID] = true
		}
	}
	s.mu.Unlock()

	if s.trail != nil {
		for _, entry := range s.trail.Recent(audit.TagSecurityAlert, filter.From, 0) {
			event := eventFromEntry(entry)
			if seen[event.ID] || !matchesFilter(event, filter) {
				continue
			}
			events = append(events, event)
			seen[event.ID] = true
		}
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	return events
}

// eventFromEntry rebuilds an approximate security event from an audit
// entry. Fields the entry does not carry get conservative defaults.
func eventFromEntry(entry *audit.Entry) *schema.SecurityEvent {
	event := &schema.SecurityEvent{
		Type:        schema.EventSuspiciousLogin,
		ThreatLevel: schema.LevelMedium,
		Title:       entry.Message,
		Actor:       entry.Actor,
		IPAddress:   entry.ActorIP,
		Timestamp:   entry.Timestamp,
		RiskScore:   50,
		Indicators:  []string{"Reconstructed from audit trail"},
		Status:      schema.StatusOpen,
	}

	if raw, ok := entry.Data[DataEventID].(string); ok {
		if id, err := uuid.Parse(raw); err == nil {
			event.ID = id
		}
	}
	if event.ID == uuid.Nil {
		event.ID = entry.ID
	}
	if raw, ok := entry.Data[DataEventType].(string); ok {
		if t := schema.EventType(raw); t.IsValid() {
			event.Type = t
		}
	}
	if raw, ok := entry.Data[DataThreatLevel].(string); ok {
		if l := schema.ThreatLevel(raw); l.IsValid() {
			event.ThreatLevel = l
		}
	}
	switch v := entry.Data[DataRiskScore].(type) {
	case int:
		event.RiskScore = v
	case float64:
		event.RiskScore = int(v)
	}

	return event
}

// matchesFilter applies an EventFilter in memory. Zero-valued fields
// match everything, mirroring the ClickHouse where-clause builder.
func matchesFilter(event *schema.SecurityEvent, filter schema.EventFilter) bool {
	if len(filter.Types) > 0 && !containsType(filter.Types, event.Type) {
		return false
	}
	if len(filter.Levels) > 0 && !containsLevel(filter.Levels, event.ThreatLevel) {
		return false
	}
	if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, event.Status) {
		return false
	}
	if filter.Actor != "" && event.Actor != filter.Actor {
		return false
	}
	if filter.IP != "" && event.IPAddress != filter.IP {
		return false
	}
	if !filter.From.IsZero() && event.Timestamp.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && event.Timestamp.After(filter.To) {
		return false
	}
	return true
}

func containsType(types []schema.EventType, t schema.EventType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func containsLevel(levels []schema.ThreatLevel, l schema.ThreatLevel) bool {
	for _, candidate := range levels {
		if candidate == l {
			return true
		}
	}
	return false
}

func containsStatus(statuses []schema.EventStatus, s schema.EventStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}
