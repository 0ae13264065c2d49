// Package lifecycle owns the triage state machine for security events:
// Open → Investigating → {Resolved, FalsePositive}. Terminal states may
// be reopened; triage workflows revisit false positives in practice.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"threatwatch/internal/audit"
	"threatwatch/internal/schema"
)

// EventStore is the slice of the event store the lifecycle manager needs.
type EventStore interface {
	GetEvent(ctx context.Context, id uuid.UUID) (*schema.SecurityEvent, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status schema.EventStatus, assignedTo, notes string, resolvedAt *time.Time) (*schema.SecurityEvent, error)
}

// Manager applies lifecycle transitions to stored events.
type Manager struct {
	store EventStore
	trail *audit.Trail
	now   func() time.Time
}

// NewManager creates a lifecycle manager. trail may be nil in tests.
func NewManager(store EventStore, trail *audit.Trail) *Manager {
	return &Manager{
		store: store,
		trail: trail,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Transition moves an event to the requested status.
//
// Re-applying the current status is a no-op success. A transition into
// Resolved stamps resolvedAt with the transition instant; any other
// target leaves resolvedAt null, including reopens from Resolved. Every
// effective transition is recorded to the audit trail with the acting
// user and justification.
func (m *Manager) Transition(ctx context.Context, id uuid.UUID, upd schema.StatusUpdate) (*schema.SecurityEvent, error) {
	if !upd.Status.IsValid() {
		return nil, schema.NewValidationError("status", fmt.Errorf("unknown status %q", upd.Status))
	}

	event, err := m.store.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}

	if event.Status == upd.Status {
		slog.Debug("lifecycle transition is a no-op",
			"event_id", id,
			"status", upd.Status,
		)
		return event, nil
	}

	var resolvedAt *time.Time
	if upd.Status == schema.StatusResolved {
		ts := m.now()
		resolvedAt = &ts
	}

	updated, err := m.store.UpdateStatus(ctx, id, upd.Status, upd.AssignedTo, upd.Notes, resolvedAt)
	if err != nil {
		return nil, err
	}

	m.audit(event.Status, updated, upd)

	slog.Info("event status updated",
		"event_id", id,
		"from", event.Status,
		"to", upd.Status,
		"updated_by", upd.UpdatedBy,
	)

	return updated, nil
}

func (m *Manager) audit(from schema.EventStatus, event *schema.SecurityEvent, upd schema.StatusUpdate) {
	if m.trail == nil {
		return
	}
	m.trail.Append(audit.Record{
		Tag:     audit.TagLifecycle,
		Message: fmt.Sprintf("status %s -> %s", from, upd.Status),
		Actor:   upd.UpdatedBy,
		Target:  event.ID.String(),
		Success: true,
		Data: map[string]any{
			"from":          string(from),
			"to":            string(upd.Status),
			"assigned_to":   upd.AssignedTo,
			"justification": upd.Notes,
		},
	})
}
