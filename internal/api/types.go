package api

import (
	"encoding/json"
	"time"

	"github.com/hypnobot-ai/hypnoguard/internal/engine"
)

// --- POST /v1/evaluate request/response ---

// IdentityReq carries optional caller identity for event attribution.
type IdentityReq struct {
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// EvaluateRequest is the JSON body for POST /v1/evaluate.
type EvaluateRequest struct {
	UserMessage      string            `json:"user_message"`
	ProposedResponse string            `json:"proposed_response"`
	Identity         *IdentityReq      `json:"identity,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	TraceID          string            `json:"trace_id,omitempty"`
}

// MatchResultResp is one firing rule in the evaluate response.
type MatchResultResp struct {
	RuleID   string   `json:"rule_id"`
	Category string   `json:"category"`
	Severity int      `json:"severity"`
	Triggers []string `json:"triggers"`
}

// EvaluateResponse is the JSON body returned by POST /v1/evaluate.
type EvaluateResponse struct {
	Flagged           bool              `json:"flagged"`
	SeverityLevel     int               `json:"severity_level"`
	Severity          string            `json:"severity"`
	Intervention      string            `json:"intervention"`
	FinalResponse     string            `json:"final_response"`
	Triggers          []string          `json:"triggers"`
	MatchingRules     []MatchResultResp `json:"matching_rules"`
	DominantRule      *string           `json:"dominant_rule"`
	Reasoning         string            `json:"reasoning"`
	SuggestedResponse *string           `json:"suggested_response"`
	EscalationContact *string           `json:"escalation_contact"`
	RequestID         string            `json:"request_id"`
	IsMonitor         bool              `json:"is_monitor"`
	LatencyMs         float64           `json:"latency_ms"`
}

// --- Project CRUD ---

// CreateProjectReq is the JSON body for POST /api/hypnoguard/projects.
type CreateProjectReq struct {
	Name string `json:"name"`
}

// CreateProjectResp includes the plaintext API key (shown once).
type CreateProjectResp struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	APIKey       string    `json:"api_key"`
	APIKeyPrefix string    `json:"api_key_prefix"`
	Mode         string    `json:"mode"`
	FailOpen     bool      `json:"fail_open"`
	CreatedAt    time.Time `json:"created_at"`
}

// UpdateProjectReq is the JSON body for PATCH /api/hypnoguard/projects/{id}.
type UpdateProjectReq struct {
	Name     *string `json:"name,omitempty"`
	Mode     *string `json:"mode,omitempty"`
	FailOpen *bool   `json:"fail_open,omitempty"`
}

// ProjectResp is the project view without the plaintext key.
type ProjectResp struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	APIKeyPrefix string    `json:"api_key_prefix"`
	Mode         string    `json:"mode"`
	FailOpen     bool      `json:"fail_open"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RotateKeyResp includes the new plaintext API key (shown once).
type RotateKeyResp struct {
	APIKey       string `json:"api_key"`
	APIKeyPrefix string `json:"api_key_prefix"`
}

// --- Ruleset CRUD ---

// UpdateRulesetReq is the JSON body for PATCH/PUT ruleset endpoints.
type UpdateRulesetReq struct {
	ExtraRules json.RawMessage `json:"extra_rules,omitempty"`
	MatchMode  *string         `json:"match_mode,omitempty"`
}

// RulesetResp is the per-project rule overlay view.
type RulesetResp struct {
	ID         string          `json:"id"`
	ProjectID  string          `json:"project_id"`
	ExtraRules json.RawMessage `json:"extra_rules"`
	MatchMode  string          `json:"match_mode"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// --- Active rule snapshot ---

// RuleResp describes one compiled rule in the active snapshot.
type RuleResp struct {
	RuleID   string   `json:"rule_id"`
	Category string   `json:"category"`
	Priority int      `json:"priority"`
	Severity string   `json:"severity"`
	Action   string   `json:"action"`
	Keywords []string `json:"keywords"`
	Patterns []string `json:"patterns"`
}

// SnapshotResp describes the rule snapshot currently in force.
type SnapshotResp struct {
	Path      string     `json:"path"`
	MatchMode string     `json:"match_mode"`
	Fallback  bool       `json:"fallback"`
	Dropped   int        `json:"dropped"`
	LoadedAt  time.Time  `json:"loaded_at"`
	Rules     []RuleResp `json:"rules"`
}

// --- Intervention events ---

// InterventionEventResp is the API view of a stored intervention event.
type InterventionEventResp struct {
	RequestID       string   `json:"request_id"`
	ProjectID       string   `json:"project_id"`
	SeverityLevel   int      `json:"severity_level"`
	Intervention    string   `json:"intervention"`
	IsMonitor       bool     `json:"is_monitor"`
	Reasoning       *string  `json:"reasoning"`
	Triggers        []string `json:"triggers"`
	RuleIDs         []string `json:"rule_ids"`
	RuleCategories  []string `json:"rule_categories"`
	UserPreview     *string  `json:"user_preview"`
	ResponsePreview *string  `json:"response_preview"`
	FinalPreview    *string  `json:"final_preview"`
	UserID          *string  `json:"user_id"`
	SessionID       *string  `json:"session_id"`
	ClientTraceID   *string  `json:"client_trace_id"`
	LatencyMs       float32  `json:"latency_ms"`
	Source          string   `json:"source"`
	Timestamp       time.Time `json:"timestamp"`
}

// EventListResp is a page of intervention events.
type EventListResp struct {
	Events   []InterventionEventResp `json:"events"`
	Total    int                     `json:"total"`
	Page     int                     `json:"page"`
	PageSize int                     `json:"page_size"`
}

// --- Analytics ---

// AnalyticsResp mirrors chread.AnalyticsResult for the HTTP surface.
type AnalyticsResp struct {
	Summary             SummaryStatsResp       `json:"summary"`
	EscalationsOverTime []TimeSeriesBucketResp `json:"escalations_over_time"`
	TopCategories       []CategoryCountResp    `json:"top_categories"`
	TopRules            []RuleCountResp        `json:"top_rules"`
	MonitorReport       MonitorReportResp      `json:"monitor_report"`
	LatencyPercentiles  LatencyPercentilesResp `json:"latency_percentiles"`
	TopIntervenedUsers  []UserCountResp        `json:"top_intervened_users"`
}

// SummaryStatsResp holds aggregate counts by intervention type.
type SummaryStatsResp struct {
	TotalInterventions int `json:"total_interventions"`
	Adjusts            int `json:"adjusts"`
	Redirects          int `json:"redirects"`
	Blocks             int `json:"blocks"`
	Escalations        int `json:"escalations"`
}

// TimeSeriesBucketResp holds an hourly count.
type TimeSeriesBucketResp struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

// CategoryCountResp holds a rule category and its count.
type CategoryCountResp struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// RuleCountResp holds a rule id and its count.
type RuleCountResp struct {
	RuleID string `json:"rule_id"`
	Count  int    `json:"count"`
}

// MonitorReportResp holds monitor mode analysis.
type MonitorReportResp struct {
	Total         int `json:"total"`
	WouldBlock    int `json:"would_block"`
	WouldEscalate int `json:"would_escalate"`
}

// LatencyPercentilesResp holds latency percentiles.
type LatencyPercentilesResp struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// UserCountResp holds a user_id and its count.
type UserCountResp struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
}

// ErrorResp is a standard error response body.
type ErrorResp struct {
	Detail string `json:"detail"`
}

// decisionToMatchResults converts engine match results to their API form.
func decisionToMatchResults(dec *engine.Decision) []MatchResultResp {
	out := make([]MatchResultResp, 0, len(dec.MatchingRules))
	for _, mr := range dec.MatchingRules {
		out = append(out, MatchResultResp{
			RuleID:   mr.RuleID,
			Category: mr.Category,
			Severity: int(mr.Severity),
			Triggers: mr.Triggers,
		})
	}
	return out
}
