package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"threatwatch/internal/schema"
)

const eventsTable = "security_events"

// eventColumns is the column list for security event selects, in scan order.
const eventColumns = `id, type, threat_level, title, description,
	actor, ip_address, user_agent, session_id, timestamp,
	risk_score, indicators, affected_resources, mitigation_actions,
	status, assigned_to, resolved_at, resolution_notes`

// EventStore persists security events in ClickHouse.
type EventStore struct {
	client *ClickHouseClient
}

// NewEventStore creates a new EventStore.
func NewEventStore(client *ClickHouseClient) *EventStore {
	return &EventStore{client: client}
}

// CreateEvent inserts a security event and returns the stored copy.
// The event id is assigned here if the caller left it zero.
func (s *EventStore) CreateEvent(ctx context.Context, event *schema.SecurityEvent) (*schema.SecurityEvent, error) {
	stored := event.Clone()
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now().UTC()
	}
	if stored.Status == "" {
		stored.Status = schema.StatusOpen
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, eventsTable, eventColumns)

	err := s.client.Exec(ctx, query,
		stored.ID,
		string(stored.Type),
		string(stored.ThreatLevel),
		stored.Title,
		stored.Description,
		stored.Actor,
		stored.IPAddress,
		stored.UserAgent,
		stored.SessionID,
		stored.Timestamp,
		uint8(stored.RiskScore),
		stored.Indicators,
		stored.AffectedResources,
		stored.MitigationActions,
		string(stored.Status),
		stored.AssignedTo,
		stored.ResolvedAt,
		stored.ResolutionNotes,
	)
	if err != nil {
		return nil, WrapQueryError("CreateEvent", eventsTable, err)
	}

	return stored, nil
}

// QueryEvents returns events matching the filter, newest first, plus the
// total match count before pagination.
func (s *EventStore) QueryEvents(ctx context.Context, filter schema.EventFilter, limit, offset int) ([]*schema.SecurityEvent, int, error) {
	if limit <= 0 {
		limit = 100
	}

	where, args := buildEventWhere(filter)

	countQuery := fmt.Sprintf("SELECT count() FROM %s%s", eventsTable, where)
	var total uint64
	if err := s.client.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, WrapQueryError("QueryEvents", eventsTable, err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s%s
		ORDER BY timestamp DESC
		LIMIT %d OFFSET %d
	`, eventColumns, eventsTable, where, limit, offset)

	rows, err := s.client.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, WrapQueryError("QueryEvents", eventsTable, err)
	}
	defer rows.Close()

	var events []*schema.SecurityEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, 0, WrapQueryError("QueryEvents", eventsTable, err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, WrapQueryError("QueryEvents", eventsTable, err)
	}

	return events, int(total), nil
}

// GetEvent returns a single event by id.
func (s *EventStore) GetEvent(ctx context.Context, id uuid.UUID) (*schema.SecurityEvent, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s FINAL WHERE id = ? LIMIT 1
	`, eventColumns, eventsTable)

	rows, err := s.client.Query(ctx, query, id)
	if err != nil {
		return nil, WrapQueryError("GetEvent", eventsTable, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, WrapNotFound("GetEvent", eventsTable, id.String())
	}
	event, err := scanEvent(rows)
	if err != nil {
		return nil, WrapQueryError("GetEvent", eventsTable, err)
	}
	return event, rows.Err()
}

// UpdateStatus applies a lifecycle transition to a stored event and
// returns the updated copy. ResolvedAt handling is decided by the caller
// (the lifecycle manager), not here.
func (s *EventStore) UpdateStatus(ctx context.Context, id uuid.UUID, status schema.EventStatus, assignedTo, notes string, resolvedAt *time.Time) (*schema.SecurityEvent, error) {
	event, err := s.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}

	event.Status = status
	if assignedTo != "" {
		event.AssignedTo = assignedTo
	}
	event.ResolutionNotes = notes
	event.ResolvedAt = resolvedAt

	// ReplacingMergeTree: re-insert the full row keyed by (timestamp, id);
	// the newest version wins at merge time, FINAL reads see it immediately.
	if _, err := s.createVersion(ctx, event); err != nil {
		return nil, err
	}

	slog.Debug("updated event status",
		"event_id", id,
		"status", status,
	)

	return event, nil
}

// createVersion inserts a new version row for an existing event.
func (s *EventStore) createVersion(ctx context.Context, event *schema.SecurityEvent) (*schema.SecurityEvent, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, eventsTable, eventColumns)

	err := s.client.Exec(ctx, query,
		event.ID,
		string(event.Type),
		string(event.ThreatLevel),
		event.Title,
		event.Description,
		event.Actor,
		event.IPAddress,
		event.UserAgent,
		event.SessionID,
		event.Timestamp,
		uint8(event.RiskScore),
		event.Indicators,
		event.AffectedResources,
		event.MitigationActions,
		string(event.Status),
		event.AssignedTo,
		event.ResolvedAt,
		event.ResolutionNotes,
	)
	if err != nil {
		return nil, WrapQueryError("UpdateStatus", eventsTable, err)
	}
	return event, nil
}

// DeleteEvents removes events by id. The archiver calls this after a
// batch is uploaded; lightweight deletes hide the rows from subsequent
// reads immediately, the mutation catches up in the background.
func (s *EventStore) DeleteEvents(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE id IN ?", eventsTable)
	if err := s.client.Exec(ctx, query, ids); err != nil {
		return WrapQueryError("DeleteEvents", eventsTable, err)
	}

	slog.Debug("deleted events", "count", len(ids))
	return nil
}

// buildEventWhere translates an EventFilter into a WHERE clause and args.
// Always reads with FINAL so status updates are visible before merges run.
func buildEventWhere(filter schema.EventFilter) (string, []any) {
	var conds []string
	var args []any

	if len(filter.Types) > 0 {
		conds = append(conds, "type IN ?")
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		args = append(args, types)
	}
	if len(filter.Levels) > 0 {
		conds = append(conds, "threat_level IN ?")
		levels := make([]string, len(filter.Levels))
		for i, l := range filter.Levels {
			levels[i] = string(l)
		}
		args = append(args, levels)
	}
	if len(filter.Statuses) > 0 {
		conds = append(conds, "status IN ?")
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
	}
	if filter.Actor != "" {
		conds = append(conds, "actor = ?")
		args = append(args, filter.Actor)
	}
	if filter.IP != "" {
		conds = append(conds, "ip_address = ?")
		args = append(args, filter.IP)
	}
	if !filter.From.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, filter.To)
	}

	if len(conds) == 0 {
		return " FINAL", nil
	}
	return " FINAL WHERE " + strings.Join(conds, " AND "), args
}

// rowScanner matches both driver.Rows and driver.Row scan surfaces.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanEvent scans one security event row in eventColumns order.
func scanEvent(row rowScanner) (*schema.SecurityEvent, error) {
	var (
		event      schema.SecurityEvent
		eventType  string
		level      string
		status     string
		riskScore  uint8
		resolvedAt *time.Time
	)

	err := row.Scan(
		&event.ID,
		&eventType,
		&level,
		&event.Title,
		&event.Description,
		&event.Actor,
		&event.IPAddress,
		&event.UserAgent,
		&event.SessionID,
		&event.Timestamp,
		&riskScore,
		&event.Indicators,
		&event.AffectedResources,
		&event.MitigationActions,
		&status,
		&event.AssignedTo,
		&resolvedAt,
		&event.ResolutionNotes,
	)
	if err != nil {
		return nil, err
	}

	event.Type = schema.EventType(eventType)
	event.ThreatLevel = schema.ThreatLevel(level)
	event.Status = schema.EventStatus(status)
	event.RiskScore = int(riskScore)
	event.ResolvedAt = resolvedAt

	return &event, nil
}
