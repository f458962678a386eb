// Package outbox implements the transactional outbox feeding the audit
// event stream. Rows are written in the same transaction as the audit_log
// entry they mirror and drained by a background worker, giving at-least-once
// delivery to Kafka.
package outbox

import (
	"time"

	"github.com/google/uuid"
)

type Entry struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	ProcessedAt   *time.Time
}

func NewEntry(aggregateType, aggregateID, eventType string, payload []byte) Entry {
	return Entry{
		ID:            uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
	}
}

func (e Entry) Processed() bool {
	return e.ProcessedAt != nil
}
