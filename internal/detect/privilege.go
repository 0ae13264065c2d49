package detect

import (
	"context"
	"errors"
	"fmt"

	"threatwatch/internal/schema"
)

// EscalationAttempt describes an action attempted without the role it
// requires.
type EscalationAttempt struct {
	Actor        string
	IPAddress    string
	SessionID    string
	Action       string
	RequiredRole string
	ActorRole    string
}

// MonitorPrivilegeEscalation emits a PrivilegeEscalation event whenever
// the actor's role differs from the role the action requires. There is
// no graduated scoring: authorization bypass has no mild case, so any
// mismatch is scored at the fixed High value.
func (d *Detector) MonitorPrivilegeEscalation(ctx context.Context, attempt EscalationAttempt) (*schema.SecurityEvent, error) {
	if attempt.Actor == "" {
		return nil, schema.NewValidationError("actor", errors.New("actor is required"))
	}
	if attempt.Action == "" {
		return nil, schema.NewValidationError("action", errors.New("action is required"))
	}
	if attempt.RequiredRole == "" || attempt.ActorRole == "" {
		return nil, schema.NewValidationError("role", errors.New("required and actual roles are required"))
	}

	if attempt.ActorRole == attempt.RequiredRole {
		return nil, nil
	}

	score := d.config.Privilege.Score

	return &schema.SecurityEvent{
		Type:        schema.EventPrivilegeEscalation,
		ThreatLevel: d.scorer.Classify(score),
		Title:       "Privilege escalation attempt",
		Description: fmt.Sprintf("%s (role %s) attempted %q which requires role %s",
			attempt.Actor, attempt.ActorRole, attempt.Action, attempt.RequiredRole),
		Actor:     attempt.Actor,
		IPAddress: attempt.IPAddress,
		SessionID: attempt.SessionID,
		Timestamp: d.now(),
		RiskScore: score,
		Indicators: []string{
			"Action requires elevated role",
			"Actor role does not match required role",
		},
		AffectedResources: []string{attempt.Action},
		MitigationActions: []string{
			"Review user permissions",
			"Audit role assignments",
			"Notify security team",
		},
		Status: schema.StatusOpen,
	}, nil
}
