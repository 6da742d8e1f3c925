package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/hypnobot-ai/hypnoguard/internal/engine"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ruleRecord mirrors one rule entry in the safety_rules document. The same
// shape is accepted as YAML (the rules file) and as JSON (per-project
// extra rules stored in Postgres). Unknown fields are ignored.
type ruleRecord struct {
	RuleID   string `yaml:"rule_id" json:"rule_id"`
	Category string `yaml:"category" json:"category"`
	Priority int    `yaml:"priority" json:"priority"`
	Triggers struct {
		Keywords []string `yaml:"keywords" json:"keywords"`
		Patterns []string `yaml:"patterns" json:"patterns"`
	} `yaml:"triggers" json:"triggers"`
	Thresholds struct {
		SeverityLevel string `yaml:"severity_level" json:"severity_level"`
	} `yaml:"thresholds" json:"thresholds"`
	Actions struct {
		ActionType        string `yaml:"action_type" json:"action_type"`
		ResponseTemplate  string `yaml:"response_template" json:"response_template"`
		EscalationContact string `yaml:"escalation_contact" json:"escalation_contact"`
	} `yaml:"actions" json:"actions"`
}

// resourceRecord is one entry under crisis_resources.
type resourceRecord struct {
	Name      string `yaml:"name"`
	Contact   string `yaml:"contact"`
	Available string `yaml:"available"`
}

// rulesFile is the top-level safety_rules.yaml document.
type rulesFile struct {
	Rules           []ruleRecord              `yaml:"rules"`
	CrisisResources map[string]resourceRecord `yaml:"crisis_resources"`
	MatchMode       string                    `yaml:"match_mode"`
}

// Load reads and compiles a rule set from a YAML file. It never fails
// outright: a missing or unreadable file, a parse error, or a file whose
// every rule is invalid all yield a snapshot containing the synthesized
// fallback crisis rule, so the evaluator never runs over zero rules.
func Load(path string, logger *zap.Logger) *Snapshot {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("rules file unreadable, using fallback rule",
			zap.String("path", path),
			zap.Error(err),
		)
		return fallbackSnapshot(path)
	}

	var doc rulesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		logger.Warn("rules file malformed, using fallback rule",
			zap.String("path", path),
			zap.Error(err),
		)
		return fallbackSnapshot(path)
	}

	snap := &Snapshot{
		Path:      path,
		Mode:      engine.ParseMatchMode(doc.MatchMode),
		Resources: formatResources(doc.CrisisResources),
	}

	for i, rec := range doc.Rules {
		rule, ok := compileRecord(rec, logger)
		if !ok {
			snap.Dropped++
			continue
		}
		if !rule.HasTriggers() {
			// Legitimate way to disable a rule; keep it, but say so.
			logger.Warn("rule has no triggers and will never fire",
				zap.String("rule_id", rule.ID),
				zap.Int("index", i),
			)
		}
		snap.Rules = append(snap.Rules, rule)
	}

	if len(snap.Rules) == 0 {
		logger.Warn("no valid rules loaded, using fallback rule", zap.String("path", path))
		fb := fallbackSnapshot(path)
		fb.Resources = snap.Resources
		fb.Mode = snap.Mode
		fb.Dropped = snap.Dropped
		return fb
	}

	return snap
}

// ParseExtraRules decodes per-project extra rules from their JSONB form.
// Invalid entries are dropped with a warning, same as file-loaded rules.
// A nil or empty document yields no rules and no error.
func ParseExtraRules(raw json.RawMessage, logger *zap.Logger) []engine.SafetyRule {
	if len(raw) == 0 || string(raw) == "null" || string(raw) == "[]" {
		return nil
	}

	var recs []ruleRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		logger.Warn("extra rules malformed, ignoring", zap.Error(err))
		return nil
	}

	var out []engine.SafetyRule
	for _, rec := range recs {
		if rule, ok := compileRecord(rec, logger); ok {
			out = append(out, rule)
		}
	}
	return out
}

// compileRecord validates and compiles one rule record. A rule with an
// empty id or an unknown severity is dropped. An action_type inconsistent
// with the severity mapping is a configuration mistake but not grounds to
// drop the rule — the intervention is derived from severity at evaluation
// time regardless.
func compileRecord(rec ruleRecord, logger *zap.Logger) (engine.SafetyRule, bool) {
	if strings.TrimSpace(rec.RuleID) == "" {
		logger.Warn("dropping rule with empty rule_id")
		return engine.SafetyRule{}, false
	}

	sev, ok := engine.ParseSeverity(rec.Thresholds.SeverityLevel)
	if !ok {
		logger.Warn("dropping rule with invalid severity",
			zap.String("rule_id", rec.RuleID),
			zap.String("severity_level", rec.Thresholds.SeverityLevel),
		)
		return engine.SafetyRule{}, false
	}

	action, ok := engine.ParseIntervention(rec.Actions.ActionType)
	if !ok {
		action = engine.InterventionFor(sev)
		logger.Warn("rule has unknown action_type, deriving from severity",
			zap.String("rule_id", rec.RuleID),
			zap.String("action_type", rec.Actions.ActionType),
		)
	} else if action != engine.InterventionFor(sev) {
		logger.Warn("rule action_type inconsistent with severity mapping",
			zap.String("rule_id", rec.RuleID),
			zap.String("severity", sev.String()),
			zap.String("action_type", action.String()),
		)
	}

	rule, errs := engine.CompileRule(engine.RuleSpec{
		ID:                rec.RuleID,
		Category:          rec.Category,
		Priority:          rec.Priority,
		Keywords:          rec.Triggers.Keywords,
		Patterns:          rec.Triggers.Patterns,
		Severity:          sev,
		Action:            action,
		ResponseTemplate:  rec.Actions.ResponseTemplate,
		EscalationContact: rec.Actions.EscalationContact,
	})
	for _, err := range errs {
		logger.Warn("skipping invalid trigger pattern", zap.Error(err))
	}

	return rule, true
}

// formatResources renders the crisis_resources section into the text block
// appended to escalate-level responses. Entries are sorted by key so the
// output is stable across loads.
func formatResources(resources map[string]resourceRecord) string {
	if len(resources) == 0 {
		return ""
	}

	keys := make([]string, 0, len(resources))
	for k := range resources {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("Please reach out to these resources immediately:\n\n")
	for _, k := range keys {
		r := resources[k]
		name := r.Name
		if name == "" {
			name = k
		}
		fmt.Fprintf(&b, "• %s: %s", name, r.Contact)
		if r.Available != "" {
			fmt.Fprintf(&b, " (available %s)", r.Available)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// fallbackSnapshot synthesizes the single fail-safe crisis rule used when
// no valid configuration is available. Deliberately minimal and not
// tunable: its job is to catch the worst case, not to be a good rule set.
func fallbackSnapshot(path string) *Snapshot {
	rule, _ := engine.CompileRule(engine.RuleSpec{
		ID:       "crisis_default",
		Category: "crisis",
		Priority: 0,
		Keywords: []string{
			"suicide",
			"kill myself",
			"end my life",
			"hurt myself",
			"self-harm",
		},
		Severity: engine.SeverityCritical,
		Action:   engine.InterventionEscalate,
		ResponseTemplate: "I'm really glad you told me. What you're feeling matters, and you " +
			"deserve support from a real person right now — please reach out to a crisis line " +
			"or someone you trust.",
		EscalationContact: "988 Suicide & Crisis Lifeline",
	})

	return &Snapshot{
		Path:     path,
		Rules:    []engine.SafetyRule{rule},
		Fallback: true,
	}
}
