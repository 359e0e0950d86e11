// SPDX-License-Identifier: MIT

// Package telemetry provides OpenTelemetry tracing utilities for callscribe.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
// HTTP attributes are emitted by the otelhttp middleware; only the
// domain spans need helpers here.
const (
	// Session attributes
	SessionKeyKey      = "session.key"
	SessionStateKey    = "session.state"
	SessionCompleteKey = "session.complete"
	SessionFilesKey    = "session.files"

	// Handoff attributes
	HandoffAttemptKey  = "handoff.attempt"
	HandoffOutcomeKey  = "handoff.outcome"
	HandoffDurationKey = "handoff.duration_ms"

	// Archive attributes
	ArchiveFilesKey       = "archive.files"
	ArchiveTranscribedKey = "archive.transcribed"
	ArchiveDurationKey    = "archive.duration_ms"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// SessionAttributes creates session-related span attributes.
func SessionAttributes(key, state string, complete bool, files int) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)
	if key != "" {
		attrs = append(attrs, attribute.String(SessionKeyKey, key))
	}
	if state != "" {
		attrs = append(attrs, attribute.String(SessionStateKey, state))
	}
	attrs = append(attrs,
		attribute.Bool(SessionCompleteKey, complete),
		attribute.Int(SessionFilesKey, files),
	)
	return attrs
}

// HandoffAttributes creates handoff-related span attributes.
func HandoffAttributes(attempt int, outcome string, durationMS int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(HandoffAttemptKey, attempt),
		attribute.String(HandoffOutcomeKey, outcome),
		attribute.Int64(HandoffDurationKey, durationMS),
	}
}

// ArchiveAttributes creates archive-related span attributes.
func ArchiveAttributes(files int, transcribed bool, durationMS int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(ArchiveFilesKey, files),
		attribute.Bool(ArchiveTranscribedKey, transcribed),
		attribute.Int64(ArchiveDurationKey, durationMS),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
