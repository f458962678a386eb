// Package dsr tracks data subject requests: access, portability, erasure and
// rectification, each against a statutory response deadline.
package dsr

import (
	"time"

	"github.com/google/uuid"

	dErrors "github.com/GrupoUS/neonpro-sub010/pkg/domain-errors"
)

// Kind is the type of request a subject can open.
type Kind string

const (
	KindAccess        Kind = "access"
	KindPortability   Kind = "portability"
	KindErasure       Kind = "erasure"
	KindRectification Kind = "rectification"
)

// IsValid reports whether the kind is known.
func (k Kind) IsValid() bool {
	switch k {
	case KindAccess, KindPortability, KindErasure, KindRectification:
		return true
	}
	return false
}

// Status is the request's position in its workflow.
type Status string

const (
	StatusReceived   Status = "received"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusRejected   Status = "rejected"
)

// IsTerminal reports whether the request has been resolved.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

const (
	// responseSLA is the statutory deadline for access and portability.
	responseSLA = 15 * 24 * time.Hour
	// erasureGrace is the waiting period before an erasure executes, giving
	// the subject time to retract the request.
	erasureGrace = 30 * 24 * time.Hour
)

// Request is one data subject request.
type Request struct {
	ID        string
	SubjectID string
	Kind      Kind
	Status    Status
	OpenedAt  time.Time
	// DueAt is the SLA deadline for access and portability, or the end of
	// the grace period for erasure.
	DueAt       time.Time
	CompletedAt *time.Time
	// Result holds the outcome payload: the export for access and
	// portability, the disposal counts for erasure.
	Result map[string]any
}

// NewRequest opens a request in RECEIVED state with its deadline computed
// from the kind.
func NewRequest(subjectID string, kind Kind, now time.Time) (*Request, error) {
	if subjectID == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "subject ID required")
	}
	if !kind.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown request kind")
	}
	due := now.Add(responseSLA)
	if kind == KindErasure {
		due = now.Add(erasureGrace)
	}
	return &Request{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		Kind:      kind,
		Status:    StatusReceived,
		OpenedAt:  now,
		DueAt:     due,
	}, nil
}

// Overdue reports whether an open request has passed its deadline.
func (r *Request) Overdue(now time.Time) bool {
	return !r.Status.IsTerminal() && now.After(r.DueAt)
}

// validTransitions is the request workflow: RECEIVED -> IN_PROGRESS ->
// COMPLETED/REJECTED, with rejection allowed straight from RECEIVED.
var validTransitions = map[Status][]Status{
	StatusReceived:   {StatusInProgress, StatusRejected},
	StatusInProgress: {StatusCompleted, StatusRejected},
}

// ValidateTransition checks a status change against the workflow.
func (r *Request) ValidateTransition(next Status) error {
	for _, allowed := range validTransitions[r.Status] {
		if allowed == next {
			return nil
		}
	}
	return dErrors.New(dErrors.CodeInvalidState, "invalid request status transition: "+string(r.Status)+" -> "+string(next))
}
