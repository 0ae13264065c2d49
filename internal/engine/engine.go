// Package engine is the facade over detection, scoring, persistence,
// lifecycle and alerting. Callers interact with security events only
// through it.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"threatwatch/internal/alerting"
	"threatwatch/internal/audit"
	"threatwatch/internal/detect"
	"threatwatch/internal/fallback"
	"threatwatch/internal/lifecycle"
	"threatwatch/internal/metrics"
	"threatwatch/internal/schema"
	"threatwatch/internal/scoring"
)

// metricsPageSize is the page size used when reading a whole window of
// events for aggregation.
const metricsPageSize = 1000

// EventStore is the degraded-aware event store the engine runs on. The
// fallback store implements it around ClickHouse.
type EventStore interface {
	CreateEvent(ctx context.Context, event *schema.SecurityEvent) (*schema.SecurityEvent, bool, error)
	QueryEvents(ctx context.Context, filter schema.EventFilter, limit, offset int) ([]*schema.SecurityEvent, int, bool, error)
	GetEvent(ctx context.Context, id uuid.UUID) (*schema.SecurityEvent, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status schema.EventStatus, assignedTo, notes string, resolvedAt *time.Time) (*schema.SecurityEvent, error)
	DegradedMetrics(days int) *schema.SecurityMetrics
}

// ActivityLog is the activity log surface the engine needs.
type ActivityLog interface {
	Append(ctx context.Context, rec *schema.ActivityRecord) error
	Query(ctx context.Context, filter schema.ActivityFilter) ([]*schema.ActivityRecord, error)
}

// Options wires an Engine.
type Options struct {
	Store    EventStore
	Activity ActivityLog
	Trail    *audit.Trail

	// Dispatcher may be nil; alerts are then dropped silently.
	Dispatcher *alerting.Dispatcher

	// Profiles may be nil; login checks then scan the history window
	// on every call.
	Profiles detect.ProfileCache

	Detection  detect.Config
	Thresholds scoring.Thresholds
}

// Engine coordinates the threat detection pipeline.
type Engine struct {
	store      EventStore
	activity   ActivityLog
	trail      *audit.Trail
	dispatcher *alerting.Dispatcher

	validator *schema.Validator
	scorer    *scoring.Scorer
	detector  *detect.Detector
	lifecycle *lifecycle.Manager

	now func() time.Time
}

// New creates an Engine from options.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("engine: event store is required")
	}
	if opts.Activity == nil {
		return nil, fmt.Errorf("engine: activity log is required")
	}

	scorer := scoring.NewScorer(opts.Thresholds)

	return &Engine{
		store:      opts.Store,
		activity:   opts.Activity,
		trail:      opts.Trail,
		dispatcher: opts.Dispatcher,
		validator:  schema.NewValidator(),
		scorer:     scorer,
		detector:   detect.NewDetector(opts.Detection, scorer, opts.Activity, opts.Profiles),
		lifecycle:  lifecycle.NewManager(opts.Store, opts.Trail),
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// RecordActivity validates and appends one activity record. Detection
// runs over this log, so callers should record every authentication and
// privileged action they see.
func (e *Engine) RecordActivity(ctx context.Context, rec *schema.ActivityRecord) error {
	if err := e.validator.ValidateActivity(rec); err != nil {
		return err
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = e.now()
	}
	return e.activity.Append(ctx, rec)
}

// CreateSecurityEvent validates, persists, audits and dispatches one
// security event. The threat level is derived from the risk score when
// the caller leaves it empty.
func (e *Engine) CreateSecurityEvent(ctx context.Context, event *schema.SecurityEvent) (*schema.SecurityEvent, error) {
	if event == nil {
		return nil, schema.NewValidationError("event", fmt.Errorf("nil event"))
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}
	if event.Status == "" {
		event.Status = schema.StatusOpen
	}
	if event.ThreatLevel == "" {
		event.ThreatLevel = e.scorer.Classify(event.RiskScore)
	}
	if err := e.validator.ValidateEvent(event); err != nil {
		return nil, err
	}
	return e.persist(ctx, event)
}

// GetSecurityEvents returns a filtered page of events, newest first.
// The Degraded flag marks lists reconstructed from the audit trail.
func (e *Engine) GetSecurityEvents(ctx context.Context, filter schema.EventFilter, limit, offset int) (*schema.EventList, error) {
	if err := e.validator.ValidateTimeRange(filter.From, filter.To); err != nil {
		return nil, err
	}

	events, total, degraded, err := e.store.QueryEvents(ctx, filter, limit, offset)
	if err != nil {
		return nil, err
	}
	return &schema.EventList{
		Events:   events,
		Total:    total,
		Degraded: degraded,
	}, nil
}

// GetSecurityMetrics computes the rollup over the trailing window.
func (e *Engine) GetSecurityMetrics(ctx context.Context, days int) (*schema.SecurityMetrics, error) {
	if err := e.validator.ValidateWindow(days); err != nil {
		return nil, err
	}

	now := e.now()
	events, degraded, err := e.queryAllEvents(ctx, schema.EventFilter{
		From: now.AddDate(0, 0, -days),
	})
	if err != nil {
		return nil, err
	}
	if degraded {
		return e.store.DegradedMetrics(days), nil
	}
	return metrics.Compute(events, days, now), nil
}

// GetSuspiciousActivity returns the per-actor rollup of security events
// over the trailing window.
func (e *Engine) GetSuspiciousActivity(ctx context.Context, actor string, days int) (*schema.SuspiciousActivity, error) {
	if actor == "" {
		return nil, schema.NewValidationError("actor", fmt.Errorf("actor is required"))
	}
	if err := e.validator.ValidateWindow(days); err != nil {
		return nil, err
	}

	events, _, err := e.queryAllEvents(ctx, schema.EventFilter{
		Actor: actor,
		From:  e.now().AddDate(0, 0, -days),
	})
	if err != nil {
		return nil, err
	}
	return metrics.RollupActor(actor, events), nil
}

// queryAllEvents pages through the store until the filter is exhausted.
// Rollups read whole windows; a single capped query would silently drop
// events once a window outgrows the cap.
func (e *Engine) queryAllEvents(ctx context.Context, filter schema.EventFilter) ([]*schema.SecurityEvent, bool, error) {
	var all []*schema.SecurityEvent
	degraded := false
	for offset := 0; ; {
		events, total, deg, err := e.store.QueryEvents(ctx, filter, metricsPageSize, offset)
		if err != nil {
			return nil, false, err
		}
		degraded = degraded || deg
		all = append(all, events...)
		offset += len(events)
		if len(events) == 0 || offset >= total {
			return all, degraded, nil
		}
	}
}

// UpdateSecurityEventStatus applies a lifecycle transition.
func (e *Engine) UpdateSecurityEventStatus(ctx context.Context, id uuid.UUID, upd schema.StatusUpdate) (*schema.SecurityEvent, error) {
	if err := e.validator.ValidateStatusUpdate(&upd); err != nil {
		return nil, err
	}
	return e.lifecycle.Transition(ctx, id, upd)
}

// AnalyzeBruteForceAttempts runs the brute force detector for one IP
// and persists any emission.
func (e *Engine) AnalyzeBruteForceAttempts(ctx context.Context, ip string) (*schema.SecurityEvent, error) {
	event, err := e.detector.AnalyzeBruteForce(ctx, ip)
	if err != nil || event == nil {
		return nil, err
	}
	return e.persist(ctx, event)
}

// DetectSuspiciousLogin evaluates one login against the actor's history
// and persists any emission.
func (e *Engine) DetectSuspiciousLogin(ctx context.Context, login detect.Login) (*schema.SecurityEvent, error) {
	event, err := e.detector.DetectSuspiciousLogin(ctx, login)
	if err != nil || event == nil {
		return nil, err
	}
	return e.persist(ctx, event)
}

// MonitorPrivilegeEscalation evaluates one attempted action against its
// required role and persists any emission.
func (e *Engine) MonitorPrivilegeEscalation(ctx context.Context, attempt detect.EscalationAttempt) (*schema.SecurityEvent, error) {
	event, err := e.detector.MonitorPrivilegeEscalation(ctx, attempt)
	if err != nil || event == nil {
		return nil, err
	}
	return e.persist(ctx, event)
}

// DetectAnomalousBehavior compares an actor's recent activity with their
// baseline and persists any emission.
func (e *Engine) DetectAnomalousBehavior(ctx context.Context, actor string) (*schema.SecurityEvent, error) {
	event, err := e.detector.DetectAnomalousBehavior(ctx, actor)
	if err != nil || event == nil {
		return nil, err
	}
	return e.persist(ctx, event)
}

// ScanRecentActors runs the anomaly detector over every actor seen in
// the activity log within the lookback. It returns how many events were
// emitted. Per-actor failures are logged and do not stop the scan.
func (e *Engine) ScanRecentActors(ctx context.Context, lookback time.Duration, maxActors int) (int, error) {
	records, err := e.activity.Query(ctx, schema.ActivityFilter{
		From: e.now().Add(-lookback),
	})
	if err != nil {
		return 0, fmt.Errorf("engine: failed to list recent actors: %w", err)
	}

	seen := make(map[string]bool)
	var actors []string
	for _, rec := range records {
		if rec.Actor == "" || seen[rec.Actor] {
			continue
		}
		seen[rec.Actor] = true
		actors = append(actors, rec.Actor)
		if maxActors > 0 && len(actors) >= maxActors {
			break
		}
	}

	emitted := 0
	for _, actor := range actors {
		if ctx.Err() != nil {
			return emitted, ctx.Err()
		}
		event, err := e.DetectAnomalousBehavior(ctx, actor)
		if err != nil {
			slog.Warn("anomaly scan failed for actor", "actor", actor, "error", err)
			continue
		}
		if event != nil {
			emitted++
		}
	}

	slog.Debug("anomaly scan complete", "actors", len(actors), "emitted", emitted)
	return emitted, nil
}

// persist stores an event, writes the audit entry and dispatches alerts.
func (e *Engine) persist(ctx context.Context, event *schema.SecurityEvent) (*schema.SecurityEvent, error) {
	stored, degraded, err := e.store.CreateEvent(ctx, event)
	if err != nil {
		return nil, err
	}

	if e.trail != nil {
		e.trail.Append(audit.Record{
			Tag:     audit.TagSecurityAlert,
			Message: stored.Title,
			Actor:   stored.Actor,
			ActorIP: stored.IPAddress,
			Target:  stored.ID.String(),
			Success: true,
			Data: map[string]any{
				fallback.DataEventID:     stored.ID.String(),
				fallback.DataEventType:   string(stored.Type),
				fallback.DataThreatLevel: string(stored.ThreatLevel),
				fallback.DataRiskScore:   stored.RiskScore,
			},
		})
	}

	if e.dispatcher != nil {
		e.dispatcher.Notify(stored)
	}

	slog.Info("security event recorded",
		"event_id", stored.ID,
		"type", stored.Type,
		"threat_level", stored.ThreatLevel,
		"risk_score", stored.RiskScore,
		"degraded", degraded,
	)

	return stored, nil
}
