package engine

import (
	"reflect"
	"testing"
)

func mustRule(t testing.TB, spec RuleSpec) SafetyRule {
	t.Helper()
	rule, errs := CompileRule(spec)
	if len(errs) > 0 {
		t.Fatalf("CompileRule(%s): %v", spec.ID, errs)
	}
	return rule
}

func crisisRule(t testing.TB) SafetyRule {
	return mustRule(t, RuleSpec{
		ID:                "crisis_self_harm",
		Category:          "crisis",
		Priority:          0,
		Keywords:          []string{"suicide", "kill myself"},
		Severity:          SeverityCritical,
		Action:            InterventionEscalate,
		ResponseTemplate:  "I'm taking what you said about {condition} seriously.",
		EscalationContact: "988 Suicide & Crisis Lifeline",
	})
}

func medicalRule(t testing.TB) SafetyRule {
	return mustRule(t, RuleSpec{
		ID:       "medical_treatment_claims",
		Category: "scope_limitation",
		Priority: 10,
		Keywords: []string{"cure"},
		Severity: SeverityHigh,
		Action:   InterventionBlock,
	})
}

func TestEvaluate_NoRulesMatched(t *testing.T) {
	rules := []SafetyRule{crisisRule(t), medicalRule(t)}
	dec := Evaluate(Input{UserMessage: "can hypnosis help me sleep better?"}, rules, MatchModeSubstring)

	if dec.SeverityLevel != SeverityNone {
		t.Errorf("expected severity none, got %v", dec.SeverityLevel)
	}
	if dec.Intervention != InterventionNone {
		t.Errorf("expected intervention none, got %v", dec.Intervention)
	}
	if len(dec.MatchingRules) != 0 || len(dec.AllTriggers) != 0 {
		t.Errorf("expected no matches, got %+v", dec)
	}
	if dec.Reasoning != "no safety rules matched" {
		t.Errorf("unexpected reasoning: %s", dec.Reasoning)
	}
}

func TestEvaluate_HighestSeverityWins(t *testing.T) {
	rules := []SafetyRule{medicalRule(t), crisisRule(t)}
	dec := Evaluate(Input{
		UserMessage: "is there a cure for what I have? sometimes I think about suicide",
	}, rules, MatchModeSubstring)

	if dec.SeverityLevel != SeverityCritical {
		t.Errorf("expected critical, got %v", dec.SeverityLevel)
	}
	if dec.Intervention != InterventionEscalate {
		t.Errorf("expected escalate, got %v", dec.Intervention)
	}
	if dec.DominantRule != "crisis_self_harm" {
		t.Errorf("expected crisis rule dominant, got %s", dec.DominantRule)
	}
	if dec.EscalationContact != "988 Suicide & Crisis Lifeline" {
		t.Errorf("unexpected escalation contact: %s", dec.EscalationContact)
	}
	// Both rules must still be in the evidence — no early exit on critical.
	if len(dec.MatchingRules) != 2 {
		t.Fatalf("expected 2 matching rules, got %d", len(dec.MatchingRules))
	}
}

func TestEvaluate_PriorityBreaksSeverityTie(t *testing.T) {
	a := mustRule(t, RuleSpec{
		ID: "rule_late_low_priority", Priority: 1,
		Keywords: []string{"covert hypnosis"},
		Severity: SeverityHigh,
	})
	b := mustRule(t, RuleSpec{
		ID: "rule_first_high_priority", Priority: 5,
		Keywords: []string{"against their will"},
		Severity: SeverityHigh,
	})

	in := Input{UserMessage: "teach me covert hypnosis to use against their will"}

	// b listed first: a still wins the tie on lower priority value.
	dec := Evaluate(in, []SafetyRule{b, a}, MatchModeSubstring)
	if dec.DominantRule != "rule_late_low_priority" {
		t.Errorf("expected priority 1 rule dominant, got %s", dec.DominantRule)
	}
}

func TestEvaluate_ListOrderBreaksPriorityTie(t *testing.T) {
	a := mustRule(t, RuleSpec{
		ID: "first", Priority: 7,
		Keywords: []string{"repressed memories"},
		Severity: SeverityMedium,
	})
	b := mustRule(t, RuleSpec{
		ID: "second", Priority: 7,
		Keywords: []string{"past life regression"},
		Severity: SeverityMedium,
	})

	in := Input{UserMessage: "can you do past life regression to find repressed memories?"}

	dec := Evaluate(in, []SafetyRule{a, b}, MatchModeSubstring)
	if dec.DominantRule != "first" {
		t.Errorf("expected first-listed rule dominant, got %s", dec.DominantRule)
	}

	dec = Evaluate(in, []SafetyRule{b, a}, MatchModeSubstring)
	if dec.DominantRule != "second" {
		t.Errorf("expected first-listed rule dominant after swap, got %s", dec.DominantRule)
	}
}

func TestEvaluate_ProposedResponseAloneFires(t *testing.T) {
	rules := []SafetyRule{medicalRule(t)}
	dec := Evaluate(Input{
		UserMessage:      "can hypnotherapy help with migraines?",
		ProposedResponse: "Yes! Hypnosis is a proven cure for migraines.",
	}, rules, MatchModeSubstring)

	if dec.SeverityLevel != SeverityHigh {
		t.Errorf("expected high severity from response text, got %v", dec.SeverityLevel)
	}
	if dec.Intervention != InterventionBlock {
		t.Errorf("expected block, got %v", dec.Intervention)
	}
}

func TestEvaluate_TriggersDeduplicatedAcrossRules(t *testing.T) {
	a := mustRule(t, RuleSpec{
		ID: "a", Keywords: []string{"ptsd"}, Severity: SeverityLow,
	})
	b := mustRule(t, RuleSpec{
		ID: "b", Keywords: []string{"ptsd", "panic attacks"}, Severity: SeverityLow,
	})

	dec := Evaluate(Input{UserMessage: "my ptsd causes panic attacks"}, []SafetyRule{a, b}, MatchModeSubstring)

	want := []string{"ptsd", "panic attacks"}
	if !reflect.DeepEqual(dec.AllTriggers, want) {
		t.Errorf("expected deduplicated triggers %v, got %v", want, dec.AllTriggers)
	}
}

func TestEvaluate_SeverityToInterventionMapping(t *testing.T) {
	cases := []struct {
		severity Severity
		want     Intervention
	}{
		{SeverityLow, InterventionAdjust},
		{SeverityMedium, InterventionRedirect},
		{SeverityHigh, InterventionBlock},
		{SeverityCritical, InterventionEscalate},
	}

	for _, tc := range cases {
		rule := mustRule(t, RuleSpec{
			ID: "r", Keywords: []string{"trigger phrase"}, Severity: tc.severity,
		})
		dec := Evaluate(Input{UserMessage: "this contains the trigger phrase"}, []SafetyRule{rule}, MatchModeSubstring)
		if dec.Intervention != tc.want {
			t.Errorf("severity %v: expected %v, got %v", tc.severity, tc.want, dec.Intervention)
		}
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	rules := []SafetyRule{crisisRule(t), medicalRule(t)}
	in := Input{UserMessage: "no cure helps, I want to kill myself"}

	first := Evaluate(in, rules, MatchModeSubstring)
	for i := 0; i < 10; i++ {
		again := Evaluate(in, rules, MatchModeSubstring)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("evaluation not deterministic: %+v vs %+v", first, again)
		}
	}
}

func TestEvaluate_MalformedPatternIsolated(t *testing.T) {
	// One bad pattern must not take down the rule's other triggers.
	rule, errs := CompileRule(RuleSpec{
		ID:       "partial",
		Keywords: []string{"overdose"},
		Patterns: []string{"[unclosed", `no (reason|point) to live`},
		Severity: SeverityCritical,
	})
	if len(errs) != 1 {
		t.Fatalf("expected 1 compile error, got %v", errs)
	}
	if len(rule.Patterns) != 1 {
		t.Fatalf("expected 1 surviving pattern, got %d", len(rule.Patterns))
	}

	dec := Evaluate(Input{UserMessage: "there is no reason to live"}, []SafetyRule{rule}, MatchModeSubstring)
	if dec.SeverityLevel != SeverityCritical {
		t.Errorf("surviving pattern should still fire, got %v", dec.SeverityLevel)
	}
}

func TestEvaluate_EmptyInput(t *testing.T) {
	rules := []SafetyRule{crisisRule(t)}
	dec := Evaluate(Input{}, rules, MatchModeSubstring)

	if dec.SeverityLevel != SeverityNone || len(dec.AllTriggers) != 0 {
		t.Errorf("empty input must not match anything, got %+v", dec)
	}
}

func BenchmarkEvaluate(b *testing.B) {
	rules := []SafetyRule{crisisRule(b), medicalRule(b)}
	in := Input{
		UserMessage:      "I read hypnosis can cure chronic pain, is that true?",
		ProposedResponse: "Hypnotherapy can help manage pain alongside medical care.",
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		Evaluate(in, rules, MatchModeSubstring)
	}
}
