package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hypnobot-ai/hypnoguard/internal/engine"
	"github.com/hypnobot-ai/hypnoguard/internal/rules"
	"github.com/hypnobot-ai/hypnoguard/internal/storage"
	"go.uber.org/zap"
)

// captureWriter records events instead of persisting them.
type captureWriter struct {
	events []*storage.InterventionEvent
}

func (c *captureWriter) Write(event *storage.InterventionEvent) {
	c.events = append(c.events, event)
}

func (c *captureWriter) Close() {}

const testRulesYAML = `
rules:
  - rule_id: crisis_self_harm
    category: crisis
    priority: 0
    triggers:
      keywords: [suicide, "kill myself"]
    thresholds:
      severity_level: critical
    actions:
      action_type: escalate
      escalation_contact: 988 Suicide & Crisis Lifeline
  - rule_id: medical_claims
    category: scope_limitation
    priority: 10
    triggers:
      keywords: [cure]
    thresholds:
      severity_level: high
    actions:
      action_type: block
`

func testDeps(t *testing.T) (*Dependencies, *captureWriter) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(testRulesYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	writer := &captureWriter{}
	deps := &Dependencies{
		Rules:    rules.NewStore(path, zap.NewNop()),
		Writer:   writer,
		Logger:   zap.NewNop(),
		CacheTTL: 30 * time.Second,
	}
	return deps, writer
}

func doEvaluate(t *testing.T, deps *Dependencies, proj *authProject, body string) (*httptest.ResponseRecorder, EvaluateResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/evaluate", strings.NewReader(body))
	req = req.WithContext(context.WithValue(req.Context(), projectCtxKey, proj))
	rec := httptest.NewRecorder()

	deps.handleEvaluate(rec, req)

	var resp EvaluateResponse
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return rec, resp
}

func enforceProject() *authProject {
	return &authProject{ID: "proj-1", Mode: "enforce"}
}

func TestHandleEvaluate_CleanInput(t *testing.T) {
	deps, writer := testDeps(t)

	rec, resp := doEvaluate(t, deps, enforceProject(),
		`{"user_message": "how does a hypnotherapy session work?", "proposed_response": "A session usually starts with a conversation."}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp.Flagged || resp.Intervention != "none" {
		t.Errorf("clean input must not be flagged: %+v", resp)
	}
	if resp.FinalResponse != "A session usually starts with a conversation." {
		t.Errorf("final response must pass through unchanged, got %q", resp.FinalResponse)
	}
	if len(writer.events) != 0 {
		t.Errorf("no event must be written for intervention none, got %d", len(writer.events))
	}
}

func TestHandleEvaluate_EscalatesAndWritesEvent(t *testing.T) {
	deps, writer := testDeps(t)

	rec, resp := doEvaluate(t, deps, enforceProject(),
		`{"user_message": "I want to kill myself", "proposed_response": "Try this relaxation exercise.", "identity": {"user_id": "u1"}}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !resp.Flagged || resp.Intervention != "escalate" || resp.SeverityLevel != 4 {
		t.Errorf("expected escalate at level 4: %+v", resp)
	}
	if strings.Contains(resp.FinalResponse, "relaxation exercise") {
		t.Errorf("escalate must replace the proposed response, got %q", resp.FinalResponse)
	}
	if resp.EscalationContact == nil || *resp.EscalationContact != "988 Suicide & Crisis Lifeline" {
		t.Errorf("missing escalation contact: %+v", resp.EscalationContact)
	}

	if len(writer.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(writer.events))
	}
	ev := writer.events[0]
	if ev.Intervention != "escalate" || ev.SeverityLevel != 4 || ev.UserID != "u1" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.IsMonitor {
		t.Error("enforce mode event must not be marked monitor")
	}
	if ev.RequestID != resp.RequestID {
		t.Errorf("event request id %q != response request id %q", ev.RequestID, resp.RequestID)
	}
}

func TestHandleEvaluate_MonitorModePassesThrough(t *testing.T) {
	deps, writer := testDeps(t)
	proj := &authProject{ID: "proj-1", Mode: "monitor"}

	_, resp := doEvaluate(t, deps, proj,
		`{"user_message": "is hypnosis a cure for cancer?", "proposed_response": "No, and claiming so would be wrong."}`)

	if resp.Intervention != "none" || resp.FinalResponse != "No, and claiming so would be wrong." {
		t.Errorf("monitor mode must pass the proposed response through: %+v", resp)
	}
	if !resp.IsMonitor {
		t.Error("monitor responses must be marked is_monitor")
	}
	// Flagged and severity still report the real decision.
	if !resp.Flagged || resp.SeverityLevel != 3 {
		t.Errorf("monitor mode must report the real severity: %+v", resp)
	}

	if len(writer.events) != 1 {
		t.Fatalf("monitor mode must still write the event, got %d", len(writer.events))
	}
	ev := writer.events[0]
	if !ev.IsMonitor || ev.Intervention != "block" {
		t.Errorf("event must carry the real decision and the monitor flag: %+v", ev)
	}
}

func TestHandleEvaluate_ProjectExtraRules(t *testing.T) {
	deps, _ := testDeps(t)
	extra, _ := engine.CompileRule(engine.RuleSpec{
		ID:       "project_blocklist",
		Category: "content_appropriateness",
		Priority: 50,
		Keywords: []string{"stage hypnosis"},
		Severity: engine.SeverityMedium,
	})
	proj := &authProject{ID: "proj-1", Mode: "enforce", ExtraRules: []engine.SafetyRule{extra}}

	_, resp := doEvaluate(t, deps, proj,
		`{"user_message": "teach me stage hypnosis tricks"}`)

	if resp.Intervention != "redirect" {
		t.Errorf("project extra rule should fire: %+v", resp)
	}
	if resp.DominantRule == nil || *resp.DominantRule != "project_blocklist" {
		t.Errorf("expected project rule dominant: %+v", resp.DominantRule)
	}
}

func TestHandleEvaluate_ProjectMatchModeOverride(t *testing.T) {
	deps, _ := testDeps(t)

	// "cures" contains "cure": fires in the default substring mode...
	_, resp := doEvaluate(t, deps, enforceProject(),
		`{"user_message": "hypnosis cures everything"}`)
	if resp.Intervention != "block" {
		t.Fatalf("substring mode should fire inside 'cures': %+v", resp)
	}

	// ...but not when the project opts into word mode.
	proj := &authProject{ID: "proj-1", Mode: "enforce", MatchMode: "word"}
	_, resp = doEvaluate(t, deps, proj,
		`{"user_message": "hypnosis cures everything"}`)
	if resp.Intervention != "none" {
		t.Errorf("word mode must not fire inside 'cures': %+v", resp)
	}
}

func TestHandleEvaluate_BadRequests(t *testing.T) {
	deps, _ := testDeps(t)

	rec, _ := doEvaluate(t, deps, enforceProject(), `{`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON: expected 400, got %d", rec.Code)
	}

	rec, _ = doEvaluate(t, deps, enforceProject(), `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty input: expected 400, got %d", rec.Code)
	}
}

func TestHandleEvaluate_MissingProjectContext(t *testing.T) {
	deps, _ := testDeps(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/evaluate", strings.NewReader(`{"user_message": "hi"}`))
	rec := httptest.NewRecorder()
	deps.handleEvaluate(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 without project context, got %d", rec.Code)
	}
}

func TestAuthMiddleware_RejectsWithoutDatabase(t *testing.T) {
	deps, _ := testDeps(t)
	handler := deps.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not be reached")
	})

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"wrong prefix", "Bearer tsk_0123456789abcdef"},
		{"too short", "Bearer hgk"},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/v1/evaluate", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		handler(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", tc.name, rec.Code)
		}
	}
}
