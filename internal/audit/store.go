package audit

import (
	"context"
	"time"
)

// Store persists audit entries. Append is the only write; entries are never
// updated. DeleteOlderThan exists solely for the retention job, which records
// a summary entry for every cleanup it performs.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	ListByActor(ctx context.Context, actorID string) ([]Entry, error)
	ListByResource(ctx context.Context, resourceType, resourceID string) ([]Entry, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}
