package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GrupoUS/neonpro-sub010/internal/audit"
	"github.com/GrupoUS/neonpro-sub010/internal/platform/metrics"
)

const (
	defaultInterval = 24 * time.Hour
	systemActor     = "system"
)

// PurgeFunc deletes records older than the cutoff, returning the count.
type PurgeFunc func(ctx context.Context, cutoff time.Time) (int, error)

// ConsentPurger disposes of terminal consent records past retention.
type ConsentPurger interface {
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// AuditPurger disposes of audit entries past retention.
type AuditPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Worker evaluates retention policies on a fixed schedule, never inline with
// request handling. Auto-delete policies purge through the registered purge
// functions; review-required policies only emit a review marker for the
// owning service to act on.
type Worker struct {
	policies []Policy
	purgers  map[string]PurgeFunc
	auditor  *audit.Publisher
	metrics  *metrics.Metrics
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Worker)

// WithInterval sets how often policies are evaluated.
func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		w.interval = d
	}
}

// WithPolicies replaces the default policy set. Legal floors still apply.
func WithPolicies(policies []Policy) Option {
	return func(w *Worker) {
		w.policies = NormalizePolicies(policies)
	}
}

// WithPurger registers a purge function for a category without a built-in
// store, such as system logs.
func WithPurger(category string, fn PurgeFunc) Option {
	return func(w *Worker) {
		w.purgers[category] = fn
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

func NewWorker(consents ConsentPurger, auditStore AuditPurger, auditor *audit.Publisher, logger *slog.Logger, opts ...Option) *Worker {
	w := &Worker{
		policies: NormalizePolicies(DefaultPolicies()),
		purgers:  make(map[string]PurgeFunc),
		auditor:  auditor,
		logger:   logger,
		interval: defaultInterval,
		now:      time.Now,
	}
	w.purgers[CategoryConsent] = consents.DeleteTerminalBefore
	w.purgers[CategoryAudit] = auditStore.DeleteOlderThan
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start runs the evaluation loop until Stop is called. The first evaluation
// happens immediately.
func (w *Worker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.wg.Add(1)
	go w.run(ctx)
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	if err := w.EvaluateRetention(ctx); err != nil {
		w.logger.ErrorContext(ctx, "retention evaluation failed", "error", err)
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.EvaluateRetention(ctx); err != nil {
				w.logger.ErrorContext(ctx, "retention evaluation failed", "error", err)
			}
		}
	}
}

// Stop halts the loop and waits for an in-flight evaluation to finish.
func (w *Worker) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}
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

// EvaluateRetention applies every policy once. Each auto-delete purge writes
// a summary audit entry carrying the disposal count; evaluation continues
// past individual policy failures.
func (w *Worker) EvaluateRetention(ctx context.Context) error {
	now := w.now()
	var firstErr error
	for _, policy := range w.policies {
		if err := w.evaluate(ctx, policy, now); err != nil {
			w.logger.ErrorContext(ctx, "retention policy failed",
				"category", policy.Category,
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (w *Worker) evaluate(ctx context.Context, policy Policy, now time.Time) error {
	cutoff := policy.Cutoff(now)

	if policy.ReviewRequired {
		entry := audit.NewEntry(systemActor, audit.ActionRetentionReview, audit.ResourceRetentionScan, policy.Category)
		entry.Success = true
		entry.Reason = fmt.Sprintf("records older than %s require manual review (%s)", cutoff.Format(time.DateOnly), policy.LegalBasis)
		if err := w.auditor.Record(ctx, entry); err != nil {
			return err
		}
		if w.metrics != nil {
			w.metrics.IncRetentionReviews(policy.Category, 1)
		}
		return nil
	}

	purge, ok := w.purgers[policy.Category]
	if !ok {
		w.logger.WarnContext(ctx, "no purger registered for retention category", "category", policy.Category)
		return nil
	}
	deleted, err := purge(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge %s: %w", policy.Category, err)
	}
	if deleted == 0 {
		return nil
	}

	action := audit.ActionRetentionExecuted
	if policy.Category == CategoryAudit {
		action = audit.ActionAuditCleanup
	}
	entry := audit.NewEntry(systemActor, action, audit.ResourceRetentionScan, policy.Category)
	entry.Success = true
	entry.Reason = fmt.Sprintf("deleted %d records past the %d-year retention period (%s)", deleted, policy.Years, policy.LegalBasis)
	if err := w.auditor.Record(ctx, entry); err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.IncRetentionDeleted(policy.Category, deleted)
	}
	w.logger.InfoContext(ctx, "retention purge executed",
		"category", policy.Category,
		"deleted", deleted,
		"cutoff", cutoff,
	)
	return nil
}
