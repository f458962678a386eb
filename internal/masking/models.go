// Package masking applies field-level masking to outbound payloads.
//
// Masking is fail-closed: any error while applying a technique resolves the
// field to the redaction marker, never to plaintext.
package masking

import (
	"regexp"
	"sort"
	"strings"

	"github.com/GrupoUS/neonpro-sub010/internal/consent/models"
)

// Technique is how a field value is obscured.
type Technique string

const (
	// TechniqueRedact replaces the value with the withheld marker.
	TechniqueRedact Technique = "redact"
	// TechniqueFull replaces the entire value with a fixed marker while
	// signalling, unlike REDACT, that a value was present.
	TechniqueFull Technique = "full"
	// TechniqueHash replaces the value with a peppered HMAC-SHA256 digest.
	// Deterministic, so equal inputs stay joinable.
	TechniqueHash Technique = "hash"
	// TechniquePartial keeps the value's shape while hiding most of it.
	TechniquePartial Technique = "partial"
	// TechniqueTokenize swaps the value for an opaque token resolvable only
	// through the vault by privileged callers.
	TechniqueTokenize Technique = "tokenize"
)

// Format selects the partial-masking shape for TechniquePartial.
type Format string

const (
	FormatGeneric Format = "generic"
	FormatCPF     Format = "cpf"
	FormatPhone   Format = "phone"
	FormatEmail   Format = "email"
)

// ViewContext is the surface a payload is being rendered for.
type ViewContext string

const (
	ViewProfessional ViewContext = "professional"
	ViewReception    ViewContext = "reception"
	ViewBilling      ViewContext = "billing"
	ViewResearch     ViewContext = "research"
	ViewExport       ViewContext = "export"
)

// RedactedMarker is the value substituted for redacted fields.
const RedactedMarker = "[REDACTED]"

// FullMarker is the value substituted by TechniqueFull.
const FullMarker = "***"

// Rule binds a field matcher to a masking technique. A rule matches a field
// when its name or pattern hits, its views include the request's view, and
// its purpose/consent conditions hold for the request. Among matching rules
// the highest priority wins.
type Rule struct {
	// Field matches a field name exactly, case-insensitively, at any
	// nesting depth. Either Field or Pattern must be set.
	Field string
	// Pattern is an anchored regular expression matched against the field
	// name and against its dotted path from the payload root.
	Pattern   string
	Category  models.DataCategory
	Technique Technique
	Format    Format
	// Priority breaks conflicts between rules matching the same field.
	// Higher wins; equal priorities keep registration order.
	Priority int
	// PlainRoles see the field unmasked.
	PlainRoles []string
	// Purposes restricts the rule to these processing purposes. Empty
	// applies to every purpose.
	Purposes []models.Purpose
	// ConsentRequired rules stop applying once the request carries the
	// subject's explicit consent; without it the field stays masked.
	ConsentRequired bool
	// Views restricts the rule to specific view contexts. Empty applies
	// everywhere.
	Views []ViewContext

	matcher *regexp.Regexp
}

// key identifies a rule for administrative add/remove.
func (r Rule) key() string {
	if r.Field != "" {
		return strings.ToLower(r.Field)
	}
	return r.Pattern
}

// Matcher returns the rule's field name or pattern as written.
func (r Rule) Matcher() string {
	if r.Field != "" {
		return r.Field
	}
	return r.Pattern
}

func (r Rule) matchesField(name, path string) bool {
	if r.Field != "" {
		return strings.EqualFold(r.Field, name)
	}
	if r.matcher == nil {
		return false
	}
	return r.matcher.MatchString(name) || r.matcher.MatchString(path)
}

func (r Rule) appliesTo(mctx Context) bool {
	if !r.viewOK(mctx.View) {
		return false
	}
	if !r.purposeOK(mctx.Purpose) {
		return false
	}
	if r.ConsentRequired && mctx.HasExplicitConsent {
		return false
	}
	return true
}

func (r Rule) viewOK(view ViewContext) bool {
	if len(r.Views) == 0 {
		return true
	}
	for _, v := range r.Views {
		if v == view {
			return true
		}
	}
	return false
}

func (r Rule) purposeOK(purpose models.Purpose) bool {
	if len(r.Purposes) == 0 {
		return true
	}
	for _, p := range r.Purposes {
		if p == purpose {
			return true
		}
	}
	return false
}

func (r Rule) roleExempt(role string) bool {
	for _, allowed := range r.PlainRoles {
		if allowed == role {
			return true
		}
	}
	return false
}

// compile prepares the pattern matcher. A pattern that does not compile
// leaves the matcher nil, so the rule falls back to exact-name matching on
// Field; administrative adds reject such patterns up front.
func (r *Rule) compile() {
	if r.Pattern == "" {
		return
	}
	re, err := regexp.Compile("^(?:" + r.Pattern + ")$")
	if err != nil {
		return
	}
	r.matcher = re
}

// Context carries who is looking at the payload and under what circumstances.
type Context struct {
	ActorID string
	Role    string
	View    ViewContext
	Purpose models.Purpose
	// HasExplicitConsent is true when the subject's granted consent covers
	// this request, releasing ConsentRequired rules.
	HasExplicitConsent bool
	EmergencyAccess    bool
}

// Summary reports what the engine did to a payload.
type Summary struct {
	FieldsMasked      int
	FieldsRedacted    int
	EmergencyBypasses int
	Failures          int
}

// RuleSet is an immutable, versioned rule table ordered by descending
// priority. Several rules may match the same field; Match returns the
// highest-priority one whose conditions hold. Mutation produces a new set.
type RuleSet struct {
	version int
	rules   []Rule
}

// NewRuleSet builds a rule set at version 1 from the given rules.
func NewRuleSet(rules ...Rule) *RuleSet {
	rs := &RuleSet{version: 1, rules: make([]Rule, len(rules))}
	copy(rs.rules, rules)
	for i := range rs.rules {
		rs.rules[i].compile()
	}
	rs.sort()
	return rs
}

func (rs *RuleSet) sort() {
	sort.SliceStable(rs.rules, func(i, j int) bool {
		return rs.rules[i].Priority > rs.rules[j].Priority
	})
}

// Version identifies this revision of the rule set.
func (rs *RuleSet) Version() int {
	return rs.version
}

// Match selects the rule governing a field for this request: the
// highest-priority rule whose matcher hits the field name or path and whose
// view, purpose, and consent conditions are satisfied.
func (rs *RuleSet) Match(name, path string, mctx Context) (Rule, bool) {
	for _, r := range rs.rules {
		if r.matchesField(name, path) && r.appliesTo(mctx) {
			return r, true
		}
	}
	return Rule{}, false
}

// Lookup returns the first rule registered under the field name or pattern
// key, if any.
func (rs *RuleSet) Lookup(key string) (Rule, bool) {
	k := strings.ToLower(key)
	for _, r := range rs.rules {
		if r.key() == k || r.key() == key {
			return r, true
		}
	}
	return Rule{}, false
}

// Rules returns the rules in evaluation order: priority descending, then
// registration order.
func (rs *RuleSet) Rules() []Rule {
	out := make([]Rule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

// WithRule returns a new set containing the rule, at the next version. A
// rule with the same field/pattern key and priority replaces the old one;
// otherwise the rule is appended, so one field may carry several rules at
// different priorities.
func (rs *RuleSet) WithRule(rule Rule) *RuleSet {
	rule.compile()
	next := rs.clone()
	for i, existing := range next.rules {
		if existing.key() == rule.key() && existing.Priority == rule.Priority {
			next.rules[i] = rule
			next.sort()
			return next
		}
	}
	next.rules = append(next.rules, rule)
	next.sort()
	return next
}

// WithoutRule returns a new set without any rule registered under the key,
// at the next version. Removing an absent key still bumps the version.
func (rs *RuleSet) WithoutRule(key string) *RuleSet {
	k := strings.ToLower(key)
	next := rs.clone()
	kept := next.rules[:0]
	for _, r := range next.rules {
		if r.key() != k && r.key() != key {
			kept = append(kept, r)
		}
	}
	next.rules = kept
	return next
}

func (rs *RuleSet) clone() *RuleSet {
	rules := make([]Rule, len(rs.rules))
	copy(rules, rs.rules)
	return &RuleSet{version: rs.version + 1, rules: rules}
}
