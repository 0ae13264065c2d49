package schema

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrValidation marks malformed caller input. It is the only error class
// the engine surfaces to API consumers.
var ErrValidation = errors.New("schema: validation failed")

// ValidationError wraps a field-level validation failure.
type ValidationError struct {
	Field string
	Err   error
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("schema: invalid %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("schema: %v", e.Err)
}

// Unwrap returns ErrValidation so errors.Is works across wrapping.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a ValidationError for a field.
func NewValidationError(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Err: err}
}

// Validator validates security events and activity records against the
// canonical schema.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	v := validator.New()

	v.RegisterValidation("event_type", func(fl validator.FieldLevel) bool {
		return EventType(fl.Field().String()).IsValid()
	})
	v.RegisterValidation("threat_level", func(fl validator.FieldLevel) bool {
		return ThreatLevel(fl.Field().String()).IsValid()
	})
	v.RegisterValidation("event_status", func(fl validator.FieldLevel) bool {
		return EventStatus(fl.Field().String()).IsValid()
	})

	return &Validator{validate: v}
}

// ValidateEvent validates a security event at creation time.
func (v *Validator) ValidateEvent(event *SecurityEvent) error {
	if event == nil {
		return NewValidationError("event", errors.New("nil event"))
	}
	if !event.Type.IsValid() {
		return NewValidationError("type", fmt.Errorf("unknown event type %q", event.Type))
	}
	if !event.ThreatLevel.IsValid() {
		return NewValidationError("threat_level", fmt.Errorf("unknown threat level %q", event.ThreatLevel))
	}
	if !event.Status.IsValid() {
		return NewValidationError("status", fmt.Errorf("unknown status %q", event.Status))
	}
	if event.RiskScore < 0 || event.RiskScore > 100 {
		return NewValidationError("risk_score", fmt.Errorf("score %d out of range [0,100]", event.RiskScore))
	}
	if len(event.Indicators) == 0 {
		return NewValidationError("indicators", errors.New("created event must carry at least one indicator"))
	}
	if event.Timestamp.IsZero() {
		return NewValidationError("timestamp", errors.New("timestamp is required"))
	}
	if err := v.validate.Struct(event); err != nil {
		return NewValidationError("", err)
	}
	return nil
}

// ValidateActivity validates an activity record before it is appended.
func (v *Validator) ValidateActivity(rec *ActivityRecord) error {
	if rec == nil {
		return NewValidationError("record", errors.New("nil record"))
	}
	if rec.Action == "" {
		return NewValidationError("action", errors.New("action is required"))
	}
	if rec.Timestamp.IsZero() {
		return NewValidationError("timestamp", errors.New("timestamp is required"))
	}
	if err := v.validate.Struct(rec); err != nil {
		return NewValidationError("", err)
	}
	return nil
}

// ValidateStatusUpdate validates a lifecycle transition request.
func (v *Validator) ValidateStatusUpdate(upd *StatusUpdate) error {
	if upd == nil {
		return NewValidationError("update", errors.New("nil update"))
	}
	if !upd.Status.IsValid() {
		return NewValidationError("status", fmt.Errorf("unknown status %q", upd.Status))
	}
	if err := v.validate.Struct(upd); err != nil {
		return NewValidationError("", err)
	}
	return nil
}

// ValidateWindow checks a metrics window size in days.
func (v *Validator) ValidateWindow(days int) error {
	if days <= 0 {
		return NewValidationError("days", fmt.Errorf("window must be positive, got %d", days))
	}
	if days > 365 {
		return NewValidationError("days", fmt.Errorf("window too large: %d days (max 365)", days))
	}
	return nil
}

// ValidateTimeRange checks that a filter's time range is coherent.
func (v *Validator) ValidateTimeRange(from, to time.Time) error {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return NewValidationError("to", fmt.Errorf("range end %v precedes start %v", to, from))
	}
	return nil
}
