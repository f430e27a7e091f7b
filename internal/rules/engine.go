package rules

import (
	"github.com/rs/zerolog"

	"github.com/cleared-dev/moneypipe/internal/model"
)

// Result is the outcome of evaluating one rule.
type Result int

const (
	NoMatch Result = iota
	Match
	// Stale means the rule data could not be resolved. Callers treat it as
	// no match.
	Stale
)

func (r Result) String() string {
	switch r {
	case Match:
		return "match"
	case Stale:
		return "stale"
	}
	return "no_match"
}

// Selection is the outcome of Apply.
type Selection struct {
	Matched    bool
	CategoryID int64
	RuleID     int64
}

// Engine evaluates rules against records.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates an Engine that logs anomalies to log.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("component", "rules").Logger()}
}

// Evaluate runs every condition of rule against rec, combining them with the
// rule's logical operator.
func (e *Engine) Evaluate(rec FieldReader, rule *model.Rule) Result {
	if stale(rule) {
		return Stale
	}
	if len(rule.Conditions) == 0 {
		return NoMatch
	}

	switch rule.LogicalOperator {
	case model.LogicalOr:
		for _, c := range rule.Conditions {
			if EvaluateCondition(rec, c) {
				return Match
			}
		}
		return NoMatch
	case model.LogicalAnd:
	default:
		e.log.Warn().
			Int64("rule_id", rule.ID).
			Str("operator", string(rule.LogicalOperator)).
			Msg("unknown logical operator, defaulting to AND")
	}

	for _, c := range rule.Conditions {
		if !EvaluateCondition(rec, c) {
			return NoMatch
		}
	}
	return Match
}

// EvaluateRule reports whether rule matches rec. Stale rules are logged and
// never match.
func (e *Engine) EvaluateRule(rec FieldReader, rule *model.Rule) bool {
	res := e.Evaluate(rec, rule)
	if res == Stale {
		e.logStale(rule)
	}
	return res == Match
}

// Apply returns the first rule in ordered that matches rec. Later rules are
// not evaluated.
func (e *Engine) Apply(rec FieldReader, ordered []*model.Rule) Selection {
	for _, rule := range ordered {
		if e.EvaluateRule(rec, rule) {
			return Selection{Matched: true, CategoryID: rule.CategoryID, RuleID: rule.ID}
		}
	}
	return Selection{}
}

func (e *Engine) logStale(rule *model.Rule) {
	ev := e.log.Warn().Err(model.ErrStaleReference)
	if rule != nil {
		ev = ev.Int64("rule_id", rule.ID)
	}
	ev.Msg("skipping rule")
}

// stale reports rule data that no longer hangs together: a nil rule, a rule
// without a category, or conditions owned by another rule.
func stale(rule *model.Rule) bool {
	if rule == nil || rule.CategoryID == 0 {
		return true
	}
	for _, c := range rule.Conditions {
		if c.RuleID != 0 && rule.ID != 0 && c.RuleID != rule.ID {
			return true
		}
	}
	return false
}
