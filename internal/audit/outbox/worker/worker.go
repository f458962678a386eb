// Package worker drains the audit outbox into Kafka.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/GrupoUS/neonpro-sub010/internal/audit/outbox"
	"github.com/GrupoUS/neonpro-sub010/internal/platform/kafka/producer"
	"github.com/GrupoUS/neonpro-sub010/internal/platform/metrics"
)

// Worker polls the outbox table and publishes events to the audit topic.
// Delivery is at-least-once: entries are marked processed only after a broker
// acknowledgment, so a crash between publish and mark replays the entry.
type Worker struct {
	store        outbox.Store
	sink         producer.Sink
	topic        string
	batchSize    int
	pollInterval time.Duration
	cleanupAfter time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures the Worker.
type Option func(*Worker)

// WithTopic sets the Kafka topic for publishing.
func WithTopic(topic string) Option {
	return func(w *Worker) {
		w.topic = topic
	}
}

// WithBatchSize sets the maximum number of entries to fetch per poll.
func WithBatchSize(size int) Option {
	return func(w *Worker) {
		w.batchSize = size
	}
}

// WithPollInterval sets the interval between polls.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		w.pollInterval = interval
	}
}

// WithCleanupAfter sets how long processed entries are kept before removal.
func WithCleanupAfter(age time.Duration) Option {
	return func(w *Worker) {
		w.cleanupAfter = age
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

// New creates a new outbox worker.
func New(store outbox.Store, sink producer.Sink, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		store:        store,
		sink:         sink,
		topic:        "neonpro.compliance.audit",
		batchSize:    100,
		pollInterval: 100 * time.Millisecond,
		cleanupAfter: 24 * time.Hour,
		ctx:          ctx,
		cancel:       cancel,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Start begins the polling loop in a background goroutine.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.run()
}

func (w *Worker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	cleanup := time.NewTicker(w.cleanupAfter)
	defer cleanup.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.drain()
			return
		case <-ticker.C:
			w.poll(w.ctx)
		case <-cleanup.C:
			w.cleanup()
		}
	}
}

// poll fetches a batch and publishes each entry, marking successes as
// processed. A failed entry stays unprocessed and is retried next poll.
func (w *Worker) poll(ctx context.Context) {
	entries, err := w.store.FetchUnprocessed(ctx, w.batchSize)
	if err != nil {
		if w.logger != nil {
			w.logger.Error("failed to fetch outbox entries", "error", err)
		}
		return
	}

	if len(entries) == 0 {
		return
	}

	var delivered []string
	for _, entry := range entries {
		if err := w.publishEntry(ctx, entry); err != nil {
			if w.logger != nil {
				w.logger.Error("failed to publish outbox entry",
					"id", entry.ID,
					"event_type", entry.EventType,
					"error", err,
				)
			}
			if w.metrics != nil {
				w.metrics.IncOutboxPublishFailures()
			}
			continue
		}
		delivered = append(delivered, entry.ID)
	}

	if len(delivered) == 0 {
		return
	}

	if err := w.store.MarkProcessed(ctx, delivered); err != nil {
		if w.logger != nil {
			w.logger.Error("failed to mark outbox entries processed", "error", err)
		}
		// Published but unmarked entries replay; consumers dedupe on entry ID.
		return
	}

	if w.metrics != nil {
		for range delivered {
			w.metrics.IncOutboxPublished()
		}
	}
}

func (w *Worker) publishEntry(ctx context.Context, entry outbox.Entry) error {
	msg := &producer.Message{
		Topic: w.topic,
		Key:   []byte(entry.AggregateID),
		Value: entry.Payload,
		Headers: map[string]string{
			"entry_id":       entry.ID,
			"aggregate_type": entry.AggregateType,
			"aggregate_id":   entry.AggregateID,
			"event_type":     entry.EventType,
		},
	}
	return w.sink.Produce(ctx, msg)
}

func (w *Worker) cleanup() {
	cutoff := time.Now().UTC().Add(-w.cleanupAfter)
	n, err := w.store.DeleteProcessedBefore(w.ctx, cutoff)
	if err != nil {
		if w.logger != nil {
			w.logger.Error("failed to clean up processed outbox entries", "error", err)
		}
		return
	}
	if n > 0 && w.logger != nil {
		w.logger.Info("cleaned up processed outbox entries", "count", n)
	}
}

// drain publishes remaining entries during shutdown, bounded by a short
// timeout so shutdown cannot hang on a dead broker.
func (w *Worker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for {
		entries, err := w.store.FetchUnprocessed(ctx, w.batchSize)
		if err != nil || len(entries) == 0 {
			return
		}

		var delivered []string
		for _, entry := range entries {
			if err := w.publishEntry(ctx, entry); err != nil {
				if w.logger != nil {
					w.logger.Error("failed to publish during drain", "id", entry.ID, "error", err)
				}
				continue
			}
			delivered = append(delivered, entry.ID)
		}
		if len(delivered) == 0 {
			return
		}
		if err := w.store.MarkProcessed(ctx, delivered); err != nil {
			return
		}
	}
}

// Stop gracefully stops the worker, draining pending entries.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
