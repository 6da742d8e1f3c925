package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/hypnobot-ai/hypnoguard/internal/chread"
	"go.uber.org/zap"
)

func (d *Dependencies) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Event store not configured"})
		return
	}

	q := r.URL.Query()
	projectID := q.Get("project_id")
	if projectID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "project_id query parameter is required"})
		return
	}

	params := chread.ListEventsParams{
		ProjectID: projectID,
		Page:      queryInt(q, "page", 1),
		PageSize:  queryInt(q, "page_size", 50),
	}
	if params.PageSize > 200 {
		params.PageSize = 200
	}
	if params.Page < 1 {
		params.Page = 1
	}

	if v := q.Get("intervention"); v != "" {
		params.Intervention = &v
	}
	if v := q.Get("min_severity"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			params.MinSeverity = &n
		}
	}
	if v := q.Get("user_id"); v != "" {
		params.UserID = &v
	}
	if v := q.Get("category"); v != "" {
		params.Category = &v
	}
	if v := q.Get("is_monitor"); v != "" {
		b := v == "true" || v == "1"
		params.IsMonitor = &b
	}
	if v := q.Get("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.StartTime = &t
		}
	}
	if v := q.Get("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.EndTime = &t
		}
	}

	events, total, err := d.Reader.ListEvents(r.Context(), params)
	if err != nil {
		d.Logger.Error("failed to list events", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list events"})
		return
	}

	resp := EventListResp{
		Events:   make([]InterventionEventResp, 0, len(events)),
		Total:    total,
		Page:     params.Page,
		PageSize: params.PageSize,
	}
	for _, e := range events {
		resp.Events = append(resp.Events, eventRowToResp(e))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Event store not configured"})
		return
	}

	requestID := r.PathValue("request_id")
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "project_id query parameter is required"})
		return
	}

	event, err := d.Reader.GetEvent(r.Context(), projectID, requestID)
	if err != nil {
		d.Logger.Error("failed to get event", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get event"})
		return
	}
	if event == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Event not found."})
		return
	}

	writeJSON(w, http.StatusOK, eventRowToResp(*event))
}

func (d *Dependencies) handleGetAnalytics(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Event store not configured"})
		return
	}

	q := r.URL.Query()
	projectID := q.Get("project_id")
	if projectID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "project_id query parameter is required"})
		return
	}

	days := queryInt(q, "days", 7)
	if days < 1 {
		days = 1
	}
	if days > 90 {
		days = 90
	}

	result, err := d.Reader.GetAnalytics(r.Context(), projectID, days)
	if err != nil {
		d.Logger.Error("failed to get analytics", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get analytics"})
		return
	}

	writeJSON(w, http.StatusOK, AnalyticsResp{
		Summary: SummaryStatsResp{
			TotalInterventions: result.Summary.TotalInterventions,
			Adjusts:            result.Summary.Adjusts,
			Redirects:          result.Summary.Redirects,
			Blocks:             result.Summary.Blocks,
			Escalations:        result.Summary.Escalations,
		},
		EscalationsOverTime: toTimeSeriesResp(result.EscalationsOverTime),
		TopCategories:       toCategoryResp(result.TopCategories),
		TopRules:            toRuleCountResp(result.TopRules),
		MonitorReport: MonitorReportResp{
			Total:         result.MonitorReport.Total,
			WouldBlock:    result.MonitorReport.WouldBlock,
			WouldEscalate: result.MonitorReport.WouldEscalate,
		},
		LatencyPercentiles: LatencyPercentilesResp{
			P50: result.LatencyPercentiles.P50,
			P95: result.LatencyPercentiles.P95,
			P99: result.LatencyPercentiles.P99,
		},
		TopIntervenedUsers: toUserCountResp(result.TopIntervenedUsers),
	})
}

// eventRowToResp converts a stored EventRow to the API response.
func eventRowToResp(e chread.EventRow) InterventionEventResp {
	ruleIDs := e.RuleIDs
	if ruleIDs == nil {
		ruleIDs = []string{}
	}
	categories := e.RuleCategories
	if categories == nil {
		categories = []string{}
	}
	triggers := e.Triggers
	if triggers == nil {
		triggers = []string{}
	}

	return InterventionEventResp{
		RequestID:       e.RequestID,
		ProjectID:       e.ProjectID,
		SeverityLevel:   int(e.SeverityLevel),
		Intervention:    e.Intervention,
		IsMonitor:       e.IsMonitor == 1,
		Reasoning:       nilIfEmpty(e.Reasoning),
		Triggers:        triggers,
		RuleIDs:         ruleIDs,
		RuleCategories:  categories,
		UserPreview:     nilIfEmpty(e.UserPreview),
		ResponsePreview: nilIfEmpty(e.ResponsePreview),
		FinalPreview:    nilIfEmpty(e.FinalPreview),
		UserID:          nilIfEmpty(e.UserID),
		SessionID:       nilIfEmpty(e.SessionID),
		ClientTraceID:   nilIfEmpty(e.ClientTraceID),
		LatencyMs:       e.LatencyMs,
		Source:          e.Source,
		Timestamp:       e.Timestamp,
	}
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func queryInt(q interface{ Get(string) string }, key string, defaultVal int) int {
	v := q.Get(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func toTimeSeriesResp(buckets []chread.TimeSeriesBucket) []TimeSeriesBucketResp {
	out := make([]TimeSeriesBucketResp, len(buckets))
	for i, b := range buckets {
		out[i] = TimeSeriesBucketResp{Hour: b.Hour, Count: b.Count}
	}
	return out
}

func toCategoryResp(cats []chread.CategoryCount) []CategoryCountResp {
	out := make([]CategoryCountResp, len(cats))
	for i, c := range cats {
		out[i] = CategoryCountResp{Category: c.Category, Count: c.Count}
	}
	return out
}

func toRuleCountResp(rules []chread.RuleCount) []RuleCountResp {
	out := make([]RuleCountResp, len(rules))
	for i, r := range rules {
		out[i] = RuleCountResp{RuleID: r.RuleID, Count: r.Count}
	}
	return out
}

func toUserCountResp(users []chread.UserCount) []UserCountResp {
	out := make([]UserCountResp, len(users))
	for i, u := range users {
		out[i] = UserCountResp{UserID: u.UserID, Count: u.Count}
	}
	return out
}
