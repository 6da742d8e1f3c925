package api

import (
	"crypto/sha256"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hypnobot-ai/hypnoguard/internal/engine"
	"github.com/hypnobot-ai/hypnoguard/internal/storage"
	"go.uber.org/zap"
)

// handleEvaluate implements POST /v1/evaluate.
// Auth middleware has already validated the Bearer token and injected the project.
func (d *Dependencies) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req EvaluateRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.UserMessage == "" && req.ProposedResponse == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "user_message or proposed_response is required"})
		return
	}

	proj := projectFromContext(r.Context())
	if proj == nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "missing project context"})
		return
	}

	snap := d.Rules.Current()

	// File-loaded rules first, then the project's overlay. List order is
	// the final severity tie-breaker, so the overlay loses ties on purpose.
	ruleList := snap.Rules
	if len(proj.ExtraRules) > 0 {
		ruleList = make([]engine.SafetyRule, 0, len(snap.Rules)+len(proj.ExtraRules))
		ruleList = append(ruleList, snap.Rules...)
		ruleList = append(ruleList, proj.ExtraRules...)
	}

	mode := snap.Mode
	if proj.MatchMode != "" {
		mode = engine.ParseMatchMode(proj.MatchMode)
	}

	in := engine.Input{
		UserMessage:      req.UserMessage,
		ProposedResponse: req.ProposedResponse,
	}

	dec, final := d.safeEvaluate(in, ruleList, mode, snap.Resources, proj.FailOpen)
	realIntervention := dec.Intervention

	// Monitor mode: log the real decision, pass the proposed response through.
	responseIntervention := realIntervention
	responseFinal := final
	isMonitor := false
	if proj.Mode == "monitor" && realIntervention != engine.InterventionNone {
		isMonitor = true
		responseIntervention = engine.InterventionNone
		responseFinal = req.ProposedResponse
	}

	requestID := uuid.New().String()
	latencyMs := float64(time.Since(start)) / float64(time.Millisecond)

	// Fire-and-forget: record the event only when something fired.
	if realIntervention != engine.InterventionNone {
		d.writeInterventionEvent(req, proj.ID, requestID, dec, final, isMonitor, float32(latencyMs))
	}

	var dominant, suggested, contact *string
	if dec.DominantRule != "" {
		dominant = &dec.DominantRule
	}
	if dec.SuggestedResponse != "" {
		suggested = &dec.SuggestedResponse
	}
	if dec.EscalationContact != "" {
		contact = &dec.EscalationContact
	}

	writeJSON(w, http.StatusOK, EvaluateResponse{
		Flagged:           realIntervention != engine.InterventionNone,
		SeverityLevel:     int(dec.SeverityLevel),
		Severity:          dec.SeverityLevel.String(),
		Intervention:      responseIntervention.String(),
		FinalResponse:     responseFinal,
		Triggers:          dec.AllTriggers,
		MatchingRules:     decisionToMatchResults(dec),
		DominantRule:      dominant,
		Reasoning:         dec.Reasoning,
		SuggestedResponse: suggested,
		EscalationContact: contact,
		RequestID:         requestID,
		IsMonitor:         isMonitor,
		LatencyMs:         latencyMs,
	})
}

// safeEvaluate runs the evaluator and converts an internal panic into the
// configured degraded behavior: fail-open projects get the proposed
// response untouched, everyone else gets the cautious redirect.
func (d *Dependencies) safeEvaluate(
	in engine.Input,
	ruleList []engine.SafetyRule,
	mode engine.MatchMode,
	resources string,
	failOpen bool,
) (dec *engine.Decision, final string) {
	defer func() {
		if rec := recover(); rec != nil {
			d.Logger.Error("evaluation failed, using degraded result", zap.Any("panic", rec))
			if failOpen {
				dec = &engine.Decision{
					SeverityLevel: engine.SeverityNone,
					Intervention:  engine.InterventionNone,
					Reasoning:     "internal evaluation failure; fail-open passthrough",
				}
				final = in.ProposedResponse
				return
			}
			dec = engine.CautiousDecision()
			final = engine.Render(dec, in.ProposedResponse, resources)
		}
	}()
	return engine.EvaluateAndRender(in, ruleList, mode, resources)
}

// writeInterventionEvent builds an InterventionEvent and fires it to the async writer.
func (d *Dependencies) writeInterventionEvent(
	req EvaluateRequest,
	projectID, requestID string,
	dec *engine.Decision,
	final string,
	isMonitor bool,
	latencyMs float32,
) {
	ruleIDs := make([]string, len(dec.MatchingRules))
	categories := make([]string, len(dec.MatchingRules))
	severities := make([]uint8, len(dec.MatchingRules))
	for i, mr := range dec.MatchingRules {
		ruleIDs[i] = mr.RuleID
		categories[i] = mr.Category
		severities[i] = uint8(mr.Severity)
	}

	var userID, sessionID string
	if req.Identity != nil {
		userID = req.Identity.UserID
		sessionID = req.Identity.SessionID
	}

	combined := req.UserMessage + "\x00" + req.ProposedResponse
	hashBytes := sha256.Sum256([]byte(combined))

	event := &storage.InterventionEvent{
		RequestID:       requestID,
		ProjectID:       projectID,
		Timestamp:       time.Now(),
		UserPreview:     storage.TruncateText(req.UserMessage, storage.PreviewLength),
		ResponsePreview: storage.TruncateText(req.ProposedResponse, storage.PreviewLength),
		InputHash:       string(hashBytes[:]),
		InputSize:       uint32(len(req.UserMessage) + len(req.ProposedResponse)),
		SeverityLevel:   uint8(dec.SeverityLevel),
		Intervention:    dec.Intervention.String(),
		IsMonitor:       isMonitor,
		Reasoning:       dec.Reasoning,
		Triggers:        dec.AllTriggers,
		RuleIDs:         ruleIDs,
		RuleCategories:  categories,
		RuleSeverities:  severities,
		FinalPreview:    storage.TruncateText(final, storage.PreviewLength),
		UserID:          userID,
		SessionID:       sessionID,
		ClientTraceID:   req.TraceID,
		Metadata:        req.Metadata,
		LatencyMs:       latencyMs,
		Source:          "api",
	}

	d.Writer.Write(event)
}
