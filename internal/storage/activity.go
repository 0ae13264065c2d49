package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"threatwatch/internal/schema"
)

const activityTable = "activity_log"

// ActivityLog is the ClickHouse-backed append-only activity record store.
// Detectors read from it; the surrounding platform appends to it.
type ActivityLog struct {
	client *ClickHouseClient
}

// NewActivityLog creates a new ActivityLog.
func NewActivityLog(client *ClickHouseClient) *ActivityLog {
	return &ActivityLog{client: client}
}

// Append writes one activity record.
func (a *ActivityLog) Append(ctx context.Context, rec *schema.ActivityRecord) error {
	id := rec.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, actor, ip_address, user_agent, session_id, action, success, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, activityTable)

	err := a.client.Exec(ctx, query,
		id,
		rec.Actor,
		rec.IPAddress,
		rec.UserAgent,
		rec.SessionID,
		rec.Action,
		boolToUInt8(rec.Success),
		ts,
	)
	if err != nil {
		return WrapQueryError("Append", activityTable, err)
	}
	return nil
}

// Query returns activity records matching the filter, oldest first.
func (a *ActivityLog) Query(ctx context.Context, filter schema.ActivityFilter) ([]*schema.ActivityRecord, error) {
	where, args := buildActivityWhere(filter)

	query := fmt.Sprintf(`
		SELECT id, actor, ip_address, user_agent, session_id, action, success, timestamp
		FROM %s%s
		ORDER BY timestamp ASC
	`, activityTable, where)

	rows, err := a.client.Query(ctx, query, args...)
	if err != nil {
		return nil, WrapQueryError("Query", activityTable, err)
	}
	defer rows.Close()

	var records []*schema.ActivityRecord
	for rows.Next() {
		var (
			rec     schema.ActivityRecord
			success uint8
		)
		err := rows.Scan(
			&rec.ID,
			&rec.Actor,
			&rec.IPAddress,
			&rec.UserAgent,
			&rec.SessionID,
			&rec.Action,
			&success,
			&rec.Timestamp,
		)
		if err != nil {
			return nil, WrapQueryError("Query", activityTable, err)
		}
		rec.Success = success == 1
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapQueryError("Query", activityTable, err)
	}

	return records, nil
}

// buildActivityWhere translates an ActivityFilter into a WHERE clause.
func buildActivityWhere(filter schema.ActivityFilter) (string, []any) {
	var conds []string
	var args []any

	if filter.Actor != "" {
		conds = append(conds, "actor = ?")
		args = append(args, filter.Actor)
	}
	if filter.IP != "" {
		conds = append(conds, "ip_address = ?")
		args = append(args, filter.IP)
	}
	if filter.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.Success != nil {
		conds = append(conds, "success = ?")
		args = append(args, boolToUInt8(*filter.Success))
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
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
