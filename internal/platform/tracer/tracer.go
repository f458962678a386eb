// Package tracer provides a lightweight tracing abstraction for the
// authorization path.
//
// It defines an internal tracer interface that doesn't depend directly on
// OpenTelemetry APIs, allowing the authorization gate to emit distributed
// traces while remaining decoupled from specific tracing implementations.
//
// Implementations:
//   - NoopTracer: for tests (zero overhead)
//   - OTelTracer: OpenTelemetry adapter for production
package tracer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Span represents an active trace span.
type Span interface {
	// End completes the span, recording any error that occurred.
	// End must be called exactly once, typically via defer.
	End(err error)

	// SetAttributes adds key-value pairs to the span.
	SetAttributes(attrs ...Attribute)

	// AddEvent records a timestamped event within the span.
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans for distributed tracing.
// Implementations must be safe for concurrent use.
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute represents a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

// String creates a string attribute.
func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

// Bool creates a boolean attribute.
func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

// Int64 creates an int64 attribute.
func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Duration creates a duration attribute in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// HashSubjectID returns a truncated SHA-256 hash of the subject ID for safe
// correlation in traces without exposing the identifier.
func HashSubjectID(subjectID string) string {
	if subjectID == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(subjectID))
	return hex.EncodeToString(hash[:8])
}

// Span names used by the compliance engine.
const (
	SpanAuthorize    = "authz.authorize"
	SpanConsentCheck = "authz.consent_check"
	SpanMask         = "masking.mask"
)

// Attribute keys used by the compliance engine.
const (
	AttrSubjectHash  = "subject_hash"
	AttrPurpose      = "purpose"
	AttrStrictMode   = "strict_mode"
	AttrDecision     = "decision"
	AttrViewContext  = "view_context"
	AttrFieldsMasked = "fields_masked"
)
