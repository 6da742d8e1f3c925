package rules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hypnobot-ai/hypnoguard/internal/engine"
	"go.uber.org/zap"
)

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "safety_rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validRules = `
match_mode: substring
rules:
  - rule_id: crisis_self_harm
    category: crisis
    priority: 0
    triggers:
      keywords: [suicide, "kill myself"]
      patterns: ["no (reason|point) to live"]
    thresholds:
      severity_level: critical
    actions:
      action_type: escalate
      response_template: "I'm taking {condition} seriously."
      escalation_contact: 988 Suicide & Crisis Lifeline
  - rule_id: medical_claims
    category: scope_limitation
    priority: 10
    triggers:
      keywords: [cure, diagnose]
    thresholds:
      severity_level: high
    actions:
      action_type: block
crisis_resources:
  lifeline:
    name: 988 Suicide & Crisis Lifeline
    contact: call or text 988
    available: 24/7
  emergency:
    name: Emergency Services
    contact: "911"
`

func TestLoad_ValidFile(t *testing.T) {
	path := writeRules(t, validRules)
	snap := Load(path, zap.NewNop())

	if snap.Fallback {
		t.Fatal("valid file must not degrade to fallback")
	}
	if len(snap.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(snap.Rules))
	}
	if snap.Dropped != 0 {
		t.Errorf("expected 0 dropped, got %d", snap.Dropped)
	}
	if snap.Mode != engine.MatchModeSubstring {
		t.Errorf("expected substring mode, got %v", snap.Mode)
	}

	crisis := snap.Rules[0]
	if crisis.ID != "crisis_self_harm" || crisis.Severity != engine.SeverityCritical {
		t.Errorf("unexpected first rule: %+v", crisis)
	}
	if len(crisis.Keywords) != 2 || len(crisis.Patterns) != 1 {
		t.Errorf("unexpected trigger counts: %d keywords, %d patterns", len(crisis.Keywords), len(crisis.Patterns))
	}
}

func TestLoad_FormatsCrisisResources(t *testing.T) {
	path := writeRules(t, validRules)
	snap := Load(path, zap.NewNop())

	if !strings.HasPrefix(snap.Resources, "Please reach out to these resources immediately:\n\n") {
		t.Errorf("unexpected resources header: %q", snap.Resources)
	}
	if !strings.Contains(snap.Resources, "• Emergency Services: 911\n") {
		t.Errorf("missing emergency entry: %q", snap.Resources)
	}
	if !strings.Contains(snap.Resources, "• 988 Suicide & Crisis Lifeline: call or text 988 (available 24/7)\n") {
		t.Errorf("missing lifeline entry with availability: %q", snap.Resources)
	}
	// Sorted by key: "emergency" before "lifeline".
	if strings.Index(snap.Resources, "Emergency Services") > strings.Index(snap.Resources, "988 Suicide") {
		t.Errorf("resources not sorted by key: %q", snap.Resources)
	}
}

func TestLoad_MissingFileUsesFallback(t *testing.T) {
	snap := Load(filepath.Join(t.TempDir(), "nope.yaml"), zap.NewNop())

	if !snap.Fallback {
		t.Fatal("missing file must degrade to fallback")
	}
	if len(snap.Rules) != 1 || snap.Rules[0].ID != "crisis_default" {
		t.Fatalf("expected single crisis_default rule, got %+v", snap.Rules)
	}

	// The fallback must still catch crisis content.
	dec := engine.Evaluate(engine.Input{UserMessage: "I want to end my life"}, snap.Rules, snap.Mode)
	if dec.Intervention != engine.InterventionEscalate {
		t.Errorf("fallback rule must escalate crisis content, got %v", dec.Intervention)
	}
}

func TestLoad_MalformedYAMLUsesFallback(t *testing.T) {
	path := writeRules(t, "rules: [{{{{")
	snap := Load(path, zap.NewNop())

	if !snap.Fallback {
		t.Fatal("malformed file must degrade to fallback")
	}
}

func TestLoad_AllRulesInvalidUsesFallback(t *testing.T) {
	path := writeRules(t, `
rules:
  - rule_id: ""
    thresholds:
      severity_level: critical
  - rule_id: bad_severity
    thresholds:
      severity_level: catastrophic
`)
	snap := Load(path, zap.NewNop())

	if !snap.Fallback {
		t.Fatal("file with no valid rules must degrade to fallback")
	}
	if snap.Dropped != 2 {
		t.Errorf("expected 2 dropped rules, got %d", snap.Dropped)
	}
}

func TestLoad_InvalidRulesDroppedValidKept(t *testing.T) {
	path := writeRules(t, `
rules:
  - rule_id: bad_severity
    thresholds:
      severity_level: enormous
  - rule_id: good
    triggers:
      keywords: [cure]
    thresholds:
      severity_level: high
    actions:
      action_type: block
`)
	snap := Load(path, zap.NewNop())

	if snap.Fallback {
		t.Fatal("file with one valid rule must not degrade to fallback")
	}
	if len(snap.Rules) != 1 || snap.Rules[0].ID != "good" {
		t.Fatalf("expected only the valid rule, got %+v", snap.Rules)
	}
	if snap.Dropped != 1 {
		t.Errorf("expected 1 dropped rule, got %d", snap.Dropped)
	}
}

func TestLoad_UnknownActionDerivedFromSeverity(t *testing.T) {
	path := writeRules(t, `
rules:
  - rule_id: odd_action
    triggers:
      keywords: [cure]
    thresholds:
      severity_level: medium
    actions:
      action_type: quarantine
`)
	snap := Load(path, zap.NewNop())

	if len(snap.Rules) != 1 {
		t.Fatalf("rule with unknown action must be kept, got %d rules", len(snap.Rules))
	}
	if snap.Rules[0].Action != engine.InterventionRedirect {
		t.Errorf("expected action derived from medium severity, got %v", snap.Rules[0].Action)
	}
}

func TestLoad_MalformedPatternSkippedKeywordKept(t *testing.T) {
	path := writeRules(t, `
rules:
  - rule_id: partial
    triggers:
      keywords: [overdose]
      patterns: ["[unclosed"]
    thresholds:
      severity_level: critical
`)
	snap := Load(path, zap.NewNop())

	if snap.Fallback || len(snap.Rules) != 1 {
		t.Fatalf("rule must survive a bad pattern, got %+v", snap)
	}
	rule := snap.Rules[0]
	if len(rule.Patterns) != 0 || len(rule.Keywords) != 1 {
		t.Errorf("expected bad pattern skipped and keyword kept, got %+v", rule)
	}
}

func TestParseExtraRules(t *testing.T) {
	raw := []byte(`[
		{
			"rule_id": "project_blocklist",
			"category": "content_appropriateness",
			"priority": 50,
			"triggers": {"keywords": ["stage hypnosis"]},
			"thresholds": {"severity_level": "medium"},
			"actions": {"action_type": "redirect"}
		}
	]`)

	rules := ParseExtraRules(raw, zap.NewNop())
	if len(rules) != 1 {
		t.Fatalf("expected 1 extra rule, got %d", len(rules))
	}
	if rules[0].ID != "project_blocklist" || rules[0].Severity != engine.SeverityMedium {
		t.Errorf("unexpected rule: %+v", rules[0])
	}
}

func TestParseExtraRules_Degenerate(t *testing.T) {
	logger := zap.NewNop()
	for _, raw := range []string{"", "null", "[]", "not json"} {
		if got := ParseExtraRules([]byte(raw), logger); got != nil {
			t.Errorf("ParseExtraRules(%q) = %v, want nil", raw, got)
		}
	}
}

func TestStore_ReloadSwapsSnapshot(t *testing.T) {
	path := writeRules(t, validRules)
	store := NewStore(path, zap.NewNop())

	first := store.Current()
	if len(first.Rules) != 2 {
		t.Fatalf("expected 2 rules initially, got %d", len(first.Rules))
	}

	// Break the file; reload must degrade without touching the old snapshot.
	if err := os.WriteFile(path, []byte("rules: [{{{{"), 0o644); err != nil {
		t.Fatal(err)
	}
	second := store.Reload()

	if !second.Fallback {
		t.Error("reload of a broken file must yield the fallback snapshot")
	}
	if first.Fallback || len(first.Rules) != 2 {
		t.Error("reload must not mutate the previous snapshot")
	}
	if store.Current() != second {
		t.Error("Current() must return the reloaded snapshot")
	}
}
