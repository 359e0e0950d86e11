package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionKey    = "session_key"
	FieldCorrelationID = "correlation_id"
	FieldRequestID     = "request_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldAttempt   = "attempt"

	// Recording fields
	FieldPath     = "path"
	FieldRole     = "role"
	FieldSequence = "sequence"
	FieldSize     = "size"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldReason   = "reason"
)
