package engine

import "strings"

// PatternPrefix marks regex-sourced entries in a trigger list, so callers
// can tell a fired pattern apart from a fired keyword literal.
const PatternPrefix = "pattern:"

// matchRule returns the triggers of a single rule that fired against the
// input, deduplicated, keywords before patterns. Keywords are matched
// case-insensitively against the lowered text; patterns run against the
// original text so punctuation-sensitive expressions keep working.
//
// A rule fires when either the user message or the proposed response
// trips any of its conditions.
func matchRule(r *SafetyRule, in Input, mode MatchMode) []string {
	sources := [2]string{in.UserMessage, in.ProposedResponse}
	var loweredSources [2]string
	for i, src := range sources {
		if src != "" {
			loweredSources[i] = strings.ToLower(src)
		}
	}

	var fired []string

	for i, kw := range r.lowered {
		for j, src := range sources {
			if src == "" {
				continue
			}
			var hit bool
			if mode == MatchModeWord {
				hit = r.wordRes[i].MatchString(src)
			} else {
				hit = strings.Contains(loweredSources[j], kw)
			}
			if hit {
				fired = append(fired, r.Keywords[i])
				break
			}
		}
	}

	for _, p := range r.Patterns {
		for _, src := range sources {
			if src == "" {
				continue
			}
			if p.Re.MatchString(src) {
				fired = append(fired, PatternPrefix+p.Source)
				break
			}
		}
	}

	return fired
}
