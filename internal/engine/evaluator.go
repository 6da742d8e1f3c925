package engine

import "fmt"

// Evaluate runs every rule against the input and reduces the firing rules
// into a single Decision. All rules are evaluated — there is no early
// exit on a critical hit, so the decision always carries the complete
// trigger evidence for logging and audit.
//
// The overall severity is the maximum severity across firing rules. The
// dominant rule — the one whose template and escalation contact the
// decision carries — is the firing rule at that severity with the lowest
// priority value; equal priorities fall back to rule-set order.
func Evaluate(in Input, rules []SafetyRule, mode MatchMode) *Decision {
	dec := &Decision{}

	seen := make(map[string]bool)
	var dominant *SafetyRule

	for i := range rules {
		r := &rules[i]
		triggers := matchRule(r, in, mode)
		if len(triggers) == 0 {
			continue
		}

		dec.MatchingRules = append(dec.MatchingRules, MatchResult{
			RuleID:   r.ID,
			Category: r.Category,
			Severity: r.Severity,
			Triggers: triggers,
		})
		for _, t := range triggers {
			if !seen[t] {
				seen[t] = true
				dec.AllTriggers = append(dec.AllTriggers, t)
			}
		}

		if r.Severity > dec.SeverityLevel {
			dec.SeverityLevel = r.Severity
			dominant = r
		} else if r.Severity == dec.SeverityLevel && dominant != nil && r.Priority < dominant.Priority {
			dominant = r
		}
	}

	dec.Intervention = InterventionFor(dec.SeverityLevel)

	if dominant != nil {
		dec.DominantRule = dominant.ID
		dec.SuggestedResponse = dominant.ResponseTemplate
		dec.EscalationContact = dominant.EscalationContact
	}

	dec.Reasoning = reasoning(len(dec.MatchingRules), dec.SeverityLevel)
	return dec
}

// reasoning builds the short human-readable explanation carried on every
// decision. Informational only; callers branch on the severity level.
func reasoning(matched int, sev Severity) string {
	if matched == 0 {
		return "no safety rules matched"
	}
	noun := "rules"
	if matched == 1 {
		noun = "rule"
	}
	return fmt.Sprintf("%d safety %s matched; highest severity %s (level %d)", matched, noun, sev, int(sev))
}
