package outbox

import (
	"context"
	"time"
)

// Store abstracts outbox persistence. FetchUnprocessed must lock the returned
// rows for the caller so concurrent workers never deliver the same entry
// twice within a batch window.
type Store interface {
	Enqueue(ctx context.Context, entry Entry) error
	FetchUnprocessed(ctx context.Context, limit int) ([]Entry, error)
	MarkProcessed(ctx context.Context, ids []string) error
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int, error)
}
