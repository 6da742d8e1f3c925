package engine

import (
	"fmt"
	"regexp"
	"strings"
)

// Severity is the ordinal concern level of a safety rule.
type Severity int

const (
	SeverityNone     Severity = iota // no rule fired
	SeverityLow                      // low
	SeverityMedium                   // medium
	SeverityHigh                     // high
	SeverityCritical                 // critical
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "none"
	}
}

// ParseSeverity maps a configured severity name to its ordinal value.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SeverityLow, true
	case "medium":
		return SeverityMedium, true
	case "high":
		return SeverityHigh, true
	case "critical":
		return SeverityCritical, true
	default:
		return SeverityNone, false
	}
}

// Intervention represents the remedial action taken on a response.
type Intervention int

const (
	InterventionNone     Intervention = iota // pass response through unchanged
	InterventionAdjust                       // append a disclaimer
	InterventionRedirect                     // replace with a redirection message
	InterventionBlock                        // replace with a refusal
	InterventionEscalate                     // replace with crisis guidance and resources
)

// String returns the lowercase intervention name.
func (i Intervention) String() string {
	switch i {
	case InterventionAdjust:
		return "adjust"
	case InterventionRedirect:
		return "redirect"
	case InterventionBlock:
		return "block"
	case InterventionEscalate:
		return "escalate"
	default:
		return "none"
	}
}

// ParseIntervention maps a configured action_type to an Intervention.
func ParseIntervention(s string) (Intervention, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return InterventionNone, true
	case "adjust":
		return InterventionAdjust, true
	case "redirect":
		return InterventionRedirect, true
	case "block":
		return InterventionBlock, true
	case "escalate":
		return InterventionEscalate, true
	default:
		return InterventionNone, false
	}
}

// InterventionFor returns the intervention type for a severity level.
// The mapping is fixed: 1→adjust, 2→redirect, 3→block, 4→escalate.
func InterventionFor(s Severity) Intervention {
	switch s {
	case SeverityLow:
		return InterventionAdjust
	case SeverityMedium:
		return InterventionRedirect
	case SeverityHigh:
		return InterventionBlock
	case SeverityCritical:
		return InterventionEscalate
	default:
		return InterventionNone
	}
}

// MatchMode selects how keyword triggers are matched against text.
type MatchMode int

const (
	MatchModeSubstring MatchMode = iota // "cure" fires inside "cures" (reference behavior)
	MatchModeWord                       // keyword must appear on word boundaries
)

// ParseMatchMode maps a mode name to a MatchMode, defaulting to substring.
func ParseMatchMode(s string) MatchMode {
	if strings.ToLower(strings.TrimSpace(s)) == "word" {
		return MatchModeWord
	}
	return MatchModeSubstring
}

// String returns the lowercase mode name.
func (m MatchMode) String() string {
	if m == MatchModeWord {
		return "word"
	}
	return "substring"
}

// TriggerPattern is a compiled regular-expression trigger.
type TriggerPattern struct {
	Source string // pattern as configured, used for trigger reporting
	Re     *regexp.Regexp
}

// RuleSpec is the plain, uncompiled form of a safety rule as it appears
// in configuration. CompileRule turns it into a SafetyRule.
type RuleSpec struct {
	ID                string
	Category          string
	Priority          int
	Keywords          []string
	Patterns          []string
	Severity          Severity
	Action            Intervention
	ResponseTemplate  string
	EscalationContact string
}

// SafetyRule is an immutable, compiled condition-action pair. Construct
// with CompileRule; the zero value never fires.
type SafetyRule struct {
	ID                string
	Category          string
	Priority          int
	Severity          Severity
	Action            Intervention
	ResponseTemplate  string
	EscalationContact string

	Keywords []string // configured spellings, reported as triggers
	Patterns []TriggerPattern

	lowered []string         // pre-lowered keywords for substring matching
	wordRes []*regexp.Regexp // word-boundary forms for MatchModeWord
}

// HasTriggers reports whether the rule has any trigger condition at all.
// A rule without triggers is valid but can never fire (a disabled rule).
func (r *SafetyRule) HasTriggers() bool {
	return len(r.Keywords) > 0 || len(r.Patterns) > 0
}

// CompileRule builds a SafetyRule from a spec, pre-compiling keyword and
// pattern matchers. Malformed regex patterns are skipped individually;
// their compile errors are returned alongside the (still usable) rule.
func CompileRule(spec RuleSpec) (SafetyRule, []error) {
	rule := SafetyRule{
		ID:                spec.ID,
		Category:          spec.Category,
		Priority:          spec.Priority,
		Severity:          spec.Severity,
		Action:            spec.Action,
		ResponseTemplate:  spec.ResponseTemplate,
		EscalationContact: spec.EscalationContact,
	}

	for _, kw := range spec.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		rule.Keywords = append(rule.Keywords, kw)
		rule.lowered = append(rule.lowered, strings.ToLower(kw))
		// Word-boundary form is compiled up front so MatchModeWord costs
		// nothing extra at evaluation time.
		rule.wordRes = append(rule.wordRes, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(kw)+`\b`))
	}

	var errs []error
	for _, src := range spec.Patterns {
		src = strings.TrimSpace(src)
		if src == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + src)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %q: invalid pattern %q: %w", spec.ID, src, err))
			continue
		}
		rule.Patterns = append(rule.Patterns, TriggerPattern{Source: src, Re: re})
	}

	return rule, errs
}

// Input is one (user message, proposed response) pair to evaluate.
// Either field may be empty; an empty field never matches anything.
type Input struct {
	UserMessage      string
	ProposedResponse string
}

// MatchResult records a single rule that fired and the triggers that fired it.
type MatchResult struct {
	RuleID   string   `json:"rule_id"`
	Category string   `json:"category"`
	Severity Severity `json:"severity"`
	Triggers []string `json:"triggers"`
}

// Decision is the outcome of evaluating one Input against a rule set.
type Decision struct {
	SeverityLevel     Severity      `json:"severity_level"`
	Intervention      Intervention  `json:"intervention"`
	AllTriggers       []string      `json:"all_triggers"`
	MatchingRules     []MatchResult `json:"matching_rules"`
	DominantRule      string        `json:"dominant_rule,omitempty"`
	Reasoning         string        `json:"reasoning"`
	SuggestedResponse string        `json:"suggested_response,omitempty"`
	EscalationContact string        `json:"escalation_contact,omitempty"`
}
