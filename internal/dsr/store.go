package dsr

import (
	"context"
	"time"
)

// Store persists data subject requests. Implementations return sentinel
// errors; the service translates them to domain errors.
type Store interface {
	Create(ctx context.Context, req *Request) error
	FindByID(ctx context.Context, subjectID, requestID string) (*Request, error)
	ListBySubject(ctx context.Context, subjectID string) ([]*Request, error)
	Update(ctx context.Context, req *Request) error
	// ListDue returns open requests whose deadline falls before the cutoff.
	ListDue(ctx context.Context, cutoff time.Time) ([]*Request, error)
}
