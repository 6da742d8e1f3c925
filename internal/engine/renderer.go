package engine

import "strings"

// conditionPlaceholder is the optional slot in a response template that is
// filled with the fragment of text that fired the dominant rule.
const conditionPlaceholder = "{condition}"

// Generic fallback texts used when a firing rule carries no template.
const (
	adjustDisclaimer = "Please note that hypnotherapy is a complementary approach and nothing here " +
		"is a substitute for advice from a qualified healthcare professional."

	redirectFallback = "That topic is outside what I can responsibly discuss here. A licensed " +
		"hypnotherapist or healthcare provider is the right person to ask — I'm happy to talk about " +
		"how hypnotherapy sessions work in general."

	blockFallback = "I'm not able to help with that request. If you have questions about " +
		"hypnotherapy itself, I'm glad to help with those."

	escalateFallback = "I'm concerned about what you've shared, and I want to make sure you get " +
		"real support from a person who can help."

	// DefaultCrisisResources is used when the rule configuration supplies no
	// crisis_resources section.
	DefaultCrisisResources = "Please reach out to these resources immediately:\n\n" +
		"• 988 Suicide & Crisis Lifeline: call or text 988 (available 24/7)\n" +
		"• Emergency Services: 911\n"
)

// Render produces the caller-facing final text for a decision. It never
// fails: missing or partial data degrades to the generic fallback for the
// intervention type, and a block or escalate decision never passes the
// original response through.
//
// resources is the formatted crisis-resource list appended to escalate
// output; pass "" to use the built-in default.
func Render(dec *Decision, proposedResponse, resources string) string {
	if dec == nil || dec.Intervention == InterventionNone {
		return proposedResponse
	}

	text := dec.SuggestedResponse
	if text != "" {
		text = fillCondition(text, dec)
	} else {
		switch dec.Intervention {
		case InterventionAdjust:
			if proposedResponse == "" {
				return adjustDisclaimer
			}
			return proposedResponse + "\n\n" + adjustDisclaimer
		case InterventionRedirect:
			text = redirectFallback
		case InterventionBlock:
			text = blockFallback
		default:
			text = escalateFallback
		}
	}

	if dec.Intervention == InterventionEscalate {
		if resources == "" {
			resources = DefaultCrisisResources
		}
		text = text + "\n\n" + resources
	}

	return text
}

// fillCondition substitutes the {condition} placeholder with the first
// keyword trigger of the dominant rule. Pattern triggers make poor
// user-facing text, so when only patterns fired the placeholder is
// removed instead.
func fillCondition(template string, dec *Decision) string {
	if !strings.Contains(template, conditionPlaceholder) {
		return template
	}

	fragment := ""
	for _, mr := range dec.MatchingRules {
		if mr.RuleID != dec.DominantRule {
			continue
		}
		for _, t := range mr.Triggers {
			if !strings.HasPrefix(t, PatternPrefix) {
				fragment = t
				break
			}
		}
		break
	}

	out := strings.ReplaceAll(template, conditionPlaceholder, fragment)
	if fragment == "" {
		out = strings.Join(strings.Fields(out), " ")
	}
	return out
}

// EvaluateAndRender is the evaluator's single-call surface: it evaluates
// the input against the rule set and returns both the decision and the
// final user-facing text.
func EvaluateAndRender(in Input, rules []SafetyRule, mode MatchMode, resources string) (*Decision, string) {
	dec := Evaluate(in, rules, mode)
	return dec, Render(dec, in.ProposedResponse, resources)
}

// CautiousDecision is the degraded result used when evaluation itself
// fails internally. It biases toward caution (severity 2, redirect) rather
// than silently reporting no concern.
func CautiousDecision() *Decision {
	return &Decision{
		SeverityLevel: SeverityMedium,
		Intervention:  InterventionRedirect,
		Reasoning:     "internal evaluation failure; using cautious defaults",
		SuggestedResponse: "I wasn't able to fully review that message, so I'd rather be careful. " +
			"Could you rephrase it? For anything urgent, please speak with a qualified professional.",
	}
}
