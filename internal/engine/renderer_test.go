package engine

import (
	"strings"
	"testing"
)

func TestRender_NonePassesThrough(t *testing.T) {
	dec := &Decision{Intervention: InterventionNone}
	got := Render(dec, "original response", "")
	if got != "original response" {
		t.Errorf("none must pass through unchanged, got %q", got)
	}
}

func TestRender_NilDecisionPassesThrough(t *testing.T) {
	if got := Render(nil, "original response", ""); got != "original response" {
		t.Errorf("nil decision must pass through, got %q", got)
	}
}

func TestRender_ConditionSubstitution(t *testing.T) {
	dec := &Decision{
		Intervention:      InterventionEscalate,
		DominantRule:      "crisis",
		SuggestedResponse: "I'm taking what you said about {condition} seriously.",
		MatchingRules: []MatchResult{
			{RuleID: "crisis", Triggers: []string{"kill myself"}},
		},
	}

	got := Render(dec, "", "")
	if !strings.Contains(got, "what you said about kill myself seriously") {
		t.Errorf("expected condition substituted, got %q", got)
	}
}

func TestRender_PatternOnlyRemovesPlaceholder(t *testing.T) {
	dec := &Decision{
		Intervention:      InterventionBlock,
		DominantRule:      "medical",
		SuggestedResponse: "I can't make claims about {condition} here.",
		MatchingRules: []MatchResult{
			{RuleID: "medical", Triggers: []string{"pattern:hypnosis (can|will) cure"}},
		},
	}

	got := Render(dec, "", "")
	if strings.Contains(got, "{condition}") {
		t.Errorf("placeholder must be removed, got %q", got)
	}
	if strings.Contains(got, "  ") {
		t.Errorf("whitespace must be collapsed, got %q", got)
	}
	if got != "I can't make claims about here." {
		t.Errorf("unexpected render: %q", got)
	}
}

func TestRender_AdjustAppendsDisclaimer(t *testing.T) {
	dec := &Decision{Intervention: InterventionAdjust}

	got := Render(dec, "Hypnotherapy may help with stress.", "")
	if !strings.HasPrefix(got, "Hypnotherapy may help with stress.") {
		t.Errorf("adjust must keep the original text first, got %q", got)
	}
	if !strings.Contains(got, "not a substitute for advice from a qualified healthcare professional") {
		t.Errorf("adjust must append the disclaimer, got %q", got)
	}
}

func TestRender_AdjustWithEmptyResponse(t *testing.T) {
	dec := &Decision{Intervention: InterventionAdjust}
	got := Render(dec, "", "")
	if got != adjustDisclaimer {
		t.Errorf("empty proposed response should yield the bare disclaimer, got %q", got)
	}
}

func TestRender_FallbacksWithoutTemplate(t *testing.T) {
	cases := []struct {
		intervention Intervention
		wantContains string
	}{
		{InterventionRedirect, "outside what I can responsibly discuss"},
		{InterventionBlock, "I'm not able to help with that request"},
		{InterventionEscalate, "real support from a person"},
	}

	for _, tc := range cases {
		dec := &Decision{Intervention: tc.intervention}
		got := Render(dec, "proposed", "")
		if !strings.Contains(got, tc.wantContains) {
			t.Errorf("%v: expected fallback containing %q, got %q", tc.intervention, tc.wantContains, got)
		}
		if strings.Contains(got, "proposed") {
			t.Errorf("%v must not leak the proposed response, got %q", tc.intervention, got)
		}
	}
}

func TestRender_EscalateAppendsResources(t *testing.T) {
	dec := &Decision{Intervention: InterventionEscalate}

	got := Render(dec, "", "• Lifeline: 988\n")
	if !strings.HasSuffix(got, "• Lifeline: 988\n") {
		t.Errorf("custom resources must be appended, got %q", got)
	}

	got = Render(dec, "", "")
	if !strings.Contains(got, "988 Suicide & Crisis Lifeline") {
		t.Errorf("default resources must be appended when none configured, got %q", got)
	}
}

func TestRender_EscalateWithTemplateStillGetsResources(t *testing.T) {
	dec := &Decision{
		Intervention:      InterventionEscalate,
		DominantRule:      "crisis",
		SuggestedResponse: "You deserve support from a real person right now.",
	}

	got := Render(dec, "", "")
	if !strings.HasPrefix(got, "You deserve support") {
		t.Errorf("template must lead, got %q", got)
	}
	if !strings.Contains(got, DefaultCrisisResources) {
		t.Errorf("resources must follow the template, got %q", got)
	}
}

func TestEvaluateAndRender_EndToEnd(t *testing.T) {
	rules := []SafetyRule{crisisRule(t)}

	dec, final := EvaluateAndRender(Input{
		UserMessage:      "I want to kill myself",
		ProposedResponse: "Here are some relaxation techniques.",
	}, rules, MatchModeSubstring, "")

	if dec.Intervention != InterventionEscalate {
		t.Fatalf("expected escalate, got %v", dec.Intervention)
	}
	if strings.Contains(final, "relaxation techniques") {
		t.Errorf("escalate must replace the proposed response, got %q", final)
	}
	if !strings.Contains(final, "988") {
		t.Errorf("expected crisis resources in final text, got %q", final)
	}
}

func TestCautiousDecision(t *testing.T) {
	dec := CautiousDecision()
	if dec.SeverityLevel != SeverityMedium || dec.Intervention != InterventionRedirect {
		t.Errorf("cautious decision should be medium/redirect, got %v/%v", dec.SeverityLevel, dec.Intervention)
	}

	final := Render(dec, "the original response", "")
	if strings.Contains(final, "the original response") {
		t.Errorf("cautious render must not pass the original through, got %q", final)
	}
}
