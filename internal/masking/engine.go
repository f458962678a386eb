package masking

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync/atomic"

	"github.com/GrupoUS/neonpro-sub010/internal/audit"
	"github.com/GrupoUS/neonpro-sub010/internal/consent/models"
	"github.com/GrupoUS/neonpro-sub010/internal/platform/metrics"
	"github.com/GrupoUS/neonpro-sub010/internal/platform/tracer"
	dErrors "github.com/GrupoUS/neonpro-sub010/pkg/domain-errors"
)

// Engine walks payloads and applies the active rule set. The rule set is held
// behind an atomic pointer, so admin changes swap in a full new revision and
// in-flight requests keep the revision they started with.
type Engine struct {
	rules   atomic.Pointer[RuleSet]
	masker  *Masker
	vault   TokenVault
	auditor *audit.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  tracer.Tracer
	// unmaskRoles may resolve vault tokens back to plaintext.
	unmaskRoles map[string]bool
}

type EngineOption func(*Engine)

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithTracer sets the tracer for masking spans.
func WithTracer(t tracer.Tracer) EngineOption {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithUnmaskRoles sets the roles allowed to resolve vault tokens.
func WithUnmaskRoles(roles ...string) EngineOption {
	return func(e *Engine) {
		e.unmaskRoles = make(map[string]bool, len(roles))
		for _, r := range roles {
			e.unmaskRoles[r] = true
		}
	}
}

func NewEngine(rules *RuleSet, masker *Masker, vault TokenVault, auditor *audit.Publisher, logger *slog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		masker:      masker,
		vault:       vault,
		auditor:     auditor,
		logger:      logger,
		tracer:      tracer.NewNoop(),
		unmaskRoles: map[string]bool{"admin": true, "dpo": true},
	}
	e.rules.Store(rules)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rules returns the active rule set revision.
func (e *Engine) Rules() *RuleSet {
	return e.rules.Load()
}

// AddRule installs a rule in a new rule set revision and audits the change.
func (e *Engine) AddRule(ctx context.Context, actorID string, rule Rule) (*RuleSet, error) {
	if rule.Field == "" && rule.Pattern == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "rule field or pattern is required")
	}
	if rule.Pattern != "" {
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			return nil, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("invalid field pattern: %v", err))
		}
	}
	switch rule.Technique {
	case TechniqueRedact, TechniqueFull, TechniqueHash, TechniquePartial, TechniqueTokenize:
	default:
		return nil, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("unknown masking technique: %s", rule.Technique))
	}
	next := e.rules.Load().WithRule(rule)
	e.rules.Store(next)

	entry := audit.NewEntry(actorID, audit.ActionRuleAdded, audit.ResourceMaskingRule, rule.Matcher())
	entry.Success = true
	entry.Reason = fmt.Sprintf("rule set version %d", next.Version())
	_ = e.auditor.Record(ctx, entry)
	e.logger.InfoContext(ctx, "masking rule added", "field", rule.Matcher(), "technique", rule.Technique, "version", next.Version())
	return next, nil
}

// RemoveRule drops a field's rule in a new rule set revision.
func (e *Engine) RemoveRule(ctx context.Context, actorID, field string) (*RuleSet, error) {
	if _, ok := e.rules.Load().Lookup(field); !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "no masking rule for field")
	}
	next := e.rules.Load().WithoutRule(field)
	e.rules.Store(next)

	entry := audit.NewEntry(actorID, audit.ActionRuleRemoved, audit.ResourceMaskingRule, field)
	entry.Success = true
	entry.Reason = fmt.Sprintf("rule set version %d", next.Version())
	_ = e.auditor.Record(ctx, entry)
	e.logger.InfoContext(ctx, "masking rule removed", "field", field, "version", next.Version())
	return next, nil
}

// Mask returns a masked copy of the payload. The input is never modified.
//
// Emergency access bypasses masking for medical-category fields only, and
// every bypassed field is audited at elevated severity.
func (e *Engine) Mask(ctx context.Context, payload map[string]any, mctx Context) (map[string]any, Summary) {
	ctx, span := e.tracer.Start(ctx, tracer.SpanMask,
		tracer.String("view_context", string(mctx.View)),
		tracer.Bool("emergency", mctx.EmergencyAccess),
	)
	summary := &Summary{}
	rules := e.rules.Load()
	masked := e.maskMap(ctx, payload, "", rules, mctx, summary)
	span.SetAttributes(tracer.Int64("fields_masked", int64(summary.FieldsMasked)))
	span.End(nil)
	return masked, *summary
}

func (e *Engine) maskMap(ctx context.Context, payload map[string]any, prefix string, rules *RuleSet, mctx Context, summary *Summary) map[string]any {
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		out[key] = e.maskValue(ctx, key, path, value, rules, mctx, summary)
	}
	return out
}

func (e *Engine) maskValue(ctx context.Context, key, path string, value any, rules *RuleSet, mctx Context, summary *Summary) any {
	switch v := value.(type) {
	case map[string]any:
		return e.maskMap(ctx, v, path, rules, mctx, summary)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = e.maskValue(ctx, key, path, item, rules, mctx, summary)
		}
		return out
	case string:
		rule, ok := rules.Match(key, path, mctx)
		if !ok {
			return v
		}
		return e.applyRule(ctx, rule, v, mctx, summary)
	default:
		// Non-string sensitive values still hide behind the marker.
		rule, ok := rules.Match(key, path, mctx)
		if !ok {
			return v
		}
		if e.exempt(ctx, rule, mctx, summary) {
			return v
		}
		summary.FieldsMasked++
		summary.FieldsRedacted++
		e.countMasked(TechniqueRedact)
		return RedactedMarker
	}
}

func (e *Engine) applyRule(ctx context.Context, rule Rule, value string, mctx Context, summary *Summary) string {
	if e.exempt(ctx, rule, mctx, summary) {
		return value
	}

	switch rule.Technique {
	case TechniqueHash:
		summary.FieldsMasked++
		e.countMasked(TechniqueHash)
		return e.masker.Hash(value)
	case TechniquePartial:
		summary.FieldsMasked++
		e.countMasked(TechniquePartial)
		return e.masker.Partial(rule.Format, value)
	case TechniqueTokenize:
		token, err := e.vault.Tokenize(ctx, value)
		if err != nil {
			return e.failClosed(ctx, rule, mctx, summary, err)
		}
		summary.FieldsMasked++
		e.countMasked(TechniqueTokenize)
		return token
	case TechniqueFull:
		summary.FieldsMasked++
		e.countMasked(TechniqueFull)
		return FullMarker
	default:
		summary.FieldsMasked++
		summary.FieldsRedacted++
		e.countMasked(TechniqueRedact)
		return RedactedMarker
	}
}

// exempt reports whether the actor sees this field unmasked, either through a
// role exemption on the rule or through an audited emergency bypass.
func (e *Engine) exempt(ctx context.Context, rule Rule, mctx Context, summary *Summary) bool {
	if rule.roleExempt(mctx.Role) {
		return true
	}
	if mctx.EmergencyAccess && rule.Category == models.CategoryMedical {
		summary.EmergencyBypasses++
		if e.metrics != nil {
			e.metrics.IncEmergencyBypasses()
		}
		entry := audit.NewEntry(mctx.ActorID, audit.ActionEmergencyBypass, audit.ResourcePayloadField, rule.Matcher())
		entry.Purpose = string(mctx.Purpose)
		entry.Success = true
		entry.Severity = audit.SeverityElevated
		entry.Reason = "emergency access bypassed masking for medical field"
		_ = e.auditor.Record(ctx, entry)
		return true
	}
	return false
}

// failClosed resolves a technique failure to the redaction marker.
func (e *Engine) failClosed(ctx context.Context, rule Rule, mctx Context, summary *Summary, err error) string {
	summary.FieldsMasked++
	summary.FieldsRedacted++
	summary.Failures++
	if e.metrics != nil {
		e.metrics.IncMaskingFailures()
	}
	e.logger.ErrorContext(ctx, "masking technique failed, field redacted",
		"field", rule.Matcher(),
		"technique", rule.Technique,
		"error", err,
	)
	entry := audit.NewEntry(mctx.ActorID, audit.ActionMaskingFailure, audit.ResourcePayloadField, rule.Matcher())
	entry.Severity = audit.SeverityElevated
	entry.Reason = "technique failure resolved to redaction"
	_ = e.auditor.Record(ctx, entry)
	return RedactedMarker
}

// Unmask resolves a vault token for a privileged caller. Every attempt is
// audited, allowed or not.
func (e *Engine) Unmask(ctx context.Context, token string, mctx Context) (string, error) {
	entry := audit.NewEntry(mctx.ActorID, audit.ActionUnmaskDenied, audit.ResourcePayloadField, token)
	if !e.unmaskRoles[mctx.Role] {
		entry.Severity = audit.SeverityElevated
		entry.Reason = "role not authorized to unmask"
		_ = e.auditor.Record(ctx, entry)
		return "", dErrors.New(dErrors.CodeForbidden, "role not authorized to unmask")
	}

	value, err := e.vault.Resolve(ctx, token)
	if err != nil {
		entry.Reason = "token did not resolve"
		_ = e.auditor.Record(ctx, entry)
		return "", dErrors.Wrap(err, dErrors.CodeNotFound, "unknown token")
	}
	entry.Action = audit.ActionUnmaskAuthorized
	entry.Success = true
	_ = e.auditor.Record(ctx, entry)
	return value, nil
}

func (e *Engine) countMasked(t Technique) {
	if e.metrics != nil {
		e.metrics.IncFieldsMasked(string(t))
	}
}
