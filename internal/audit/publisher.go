package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/GrupoUS/neonpro-sub010/internal/platform/metrics"
)

// Publisher records audit entries on the request path. Consent mutations
// bypass it and append inside the same store transaction as the state change;
// the Publisher covers decision events (authorize, masking) where a bounded,
// non-blocking enqueue is acceptable. Delivery from the store to Kafka is
// handled by the outbox worker, at least once.
type Publisher struct {
	store   Store
	entries chan Entry
	wg      sync.WaitGroup
	logger  *slog.Logger
	metrics *metrics.Metrics
	async   bool
}

// PublisherOption configures the Publisher.
type PublisherOption func(*Publisher)

// WithAsyncBuffer enables async recording with the specified buffer size.
// Entries are queued and persisted in a background goroutine.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		if size > 0 {
			p.entries = make(chan Entry, size)
			p.async = true
		}
	}
}

// WithPublisherLogger sets a logger for async error reporting.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithPublisherMetrics sets the metrics collector.
func WithPublisherMetrics(m *metrics.Metrics) PublisherOption {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.async {
		p.wg.Add(1)
		go p.processEntries()
	}
	return p
}

func (p *Publisher) processEntries() {
	defer p.wg.Done()
	for entry := range p.entries {
		if err := p.store.Append(context.Background(), entry); err != nil {
			if p.logger != nil {
				p.logger.Error("failed to persist audit entry",
					"error", err,
					"action", entry.Action,
					"actor_id", entry.ActorID,
				)
			}
		}
	}
}

// Close shuts down the async publisher and waits for pending entries to drain.
func (p *Publisher) Close() {
	if p.async && p.entries != nil {
		close(p.entries)
		p.wg.Wait()
	}
}

// Record persists an audit entry. In async mode the send is a bounded
// enqueue; a full buffer degrades to a synchronous write so entries are
// never lost, only slowed.
func (p *Publisher) Record(ctx context.Context, entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Severity == "" {
		entry.Severity = SeverityInfo
	}
	if p.metrics != nil {
		p.metrics.IncAuditEntriesRecorded()
	}
	if p.async {
		select {
		case p.entries <- entry:
			return nil
		default:
			if p.metrics != nil {
				p.metrics.IncAuditBufferSaturated()
			}
			if p.logger != nil {
				p.logger.Warn("audit buffer full, writing synchronously",
					"action", entry.Action,
					"actor_id", entry.ActorID,
				)
			}
		}
	}
	return p.store.Append(ctx, entry)
}

// ListByActor exposes the store's actor index for compliance queries.
func (p *Publisher) ListByActor(ctx context.Context, actorID string) ([]Entry, error) {
	return p.store.ListByActor(ctx, actorID)
}
