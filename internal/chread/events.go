package chread

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Reader provides read access to the ClickHouse intervention_events table.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(dsn string, logger *zap.Logger) (*Reader, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// EventRow represents a single row from the intervention_events table.
type EventRow struct {
	RequestID       string
	ProjectID       string
	Timestamp       time.Time
	UserPreview     string
	ResponsePreview string
	SeverityLevel   uint8
	Intervention    string
	IsMonitor       uint8
	Reasoning       string
	Triggers        []string
	RuleIDs         []string
	RuleCategories  []string
	RuleSeverities  []uint8
	FinalPreview    string
	UserID          string
	SessionID       string
	ClientTraceID   string
	LatencyMs       float32
	Source          string
}

// ListEventsParams holds filters and pagination for event listing.
type ListEventsParams struct {
	ProjectID    string
	Intervention *string
	MinSeverity  *int
	UserID       *string
	Category     *string
	IsMonitor    *bool
	StartTime    *time.Time
	EndTime      *time.Time
	Page         int
	PageSize     int
}

const eventColumns = "request_id, project_id, timestamp, user_preview, response_preview, " +
	"severity_level, intervention, is_monitor, reasoning, " +
	"triggers, rule_ids, rule_categories, rule_severities, " +
	"final_preview, user_id, session_id, client_trace_id, latency_ms, source"

func scanEventRow(row interface{ Scan(...any) error }) (EventRow, error) {
	var e EventRow
	err := row.Scan(
		&e.RequestID, &e.ProjectID, &e.Timestamp, &e.UserPreview, &e.ResponsePreview,
		&e.SeverityLevel, &e.Intervention, &e.IsMonitor, &e.Reasoning,
		&e.Triggers, &e.RuleIDs, &e.RuleCategories, &e.RuleSeverities,
		&e.FinalPreview, &e.UserID, &e.SessionID, &e.ClientTraceID, &e.LatencyMs, &e.Source,
	)
	return e, err
}

// ListEvents returns paginated, filtered intervention events and the total count.
func (r *Reader) ListEvents(ctx context.Context, params ListEventsParams) ([]EventRow, int, error) {
	conditions := []string{"project_id = @project_id"}
	args := []any{
		clickhouse.Named("project_id", params.ProjectID),
	}

	if params.Intervention != nil {
		conditions = append(conditions, "intervention = @intervention")
		args = append(args, clickhouse.Named("intervention", *params.Intervention))
	}
	if params.MinSeverity != nil {
		conditions = append(conditions, "severity_level >= @min_severity")
		args = append(args, clickhouse.Named("min_severity", uint8(*params.MinSeverity)))
	}
	if params.UserID != nil {
		conditions = append(conditions, "user_id = @user_id")
		args = append(args, clickhouse.Named("user_id", *params.UserID))
	}
	if params.Category != nil {
		conditions = append(conditions, "has(rule_categories, @category)")
		args = append(args, clickhouse.Named("category", *params.Category))
	}
	if params.IsMonitor != nil {
		var v uint8
		if *params.IsMonitor {
			v = 1
		}
		conditions = append(conditions, "is_monitor = @is_monitor")
		args = append(args, clickhouse.Named("is_monitor", v))
	}
	if params.StartTime != nil {
		conditions = append(conditions, "timestamp >= @start_time")
		args = append(args, clickhouse.Named("start_time", *params.StartTime))
	}
	if params.EndTime != nil {
		conditions = append(conditions, "timestamp <= @end_time")
		args = append(args, clickhouse.Named("end_time", *params.EndTime))
	}

	where := strings.Join(conditions, " AND ")
	offset := (params.Page - 1) * params.PageSize

	// Count query
	var total uint64
	countQuery := fmt.Sprintf("SELECT count() FROM intervention_events WHERE %s", where)
	if err := r.conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListEvents count: %w", err)
	}

	// Data query
	dataQuery := fmt.Sprintf(
		"SELECT %s FROM intervention_events WHERE %s "+
			"ORDER BY timestamp DESC "+
			"LIMIT @limit OFFSET @offset",
		eventColumns, where,
	)
	args = append(args,
		clickhouse.Named("limit", uint32(params.PageSize)),
		clickhouse.Named("offset", uint32(offset)),
	)

	rows, err := r.conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListEvents query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []EventRow
	for rows.Next() {
		e, err := scanEventRow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ListEvents scan: %w", err)
		}
		events = append(events, e)
	}

	return events, int(total), rows.Err()
}

// GetEvent returns a single event by project ID and request ID, or nil if not found.
func (r *Reader) GetEvent(ctx context.Context, projectID, requestID string) (*EventRow, error) {
	row := r.conn.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM intervention_events "+
			"WHERE project_id = @project_id AND request_id = @request_id", eventColumns),
		clickhouse.Named("project_id", projectID),
		clickhouse.Named("request_id", requestID),
	)

	e, err := scanEventRow(row)
	if err != nil {
		// ClickHouse doesn't return sql.ErrNoRows, so check for empty result
		return nil, fmt.Errorf("GetEvent: %w", err)
	}
	if e.RequestID == "" {
		return nil, nil
	}
	return &e, nil
}

// SummaryStats holds aggregate counts by intervention type.
type SummaryStats struct {
	TotalInterventions int `json:"total_interventions"`
	Adjusts            int `json:"adjusts"`
	Redirects          int `json:"redirects"`
	Blocks             int `json:"blocks"`
	Escalations        int `json:"escalations"`
}

// TimeSeriesBucket holds an hourly count.
type TimeSeriesBucket struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

// CategoryCount holds a rule category and its count.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// RuleCount holds a rule id and its count.
type RuleCount struct {
	RuleID string `json:"rule_id"`
	Count  int    `json:"count"`
}

// MonitorReportStats holds monitor mode analysis: interventions that were
// logged but not enforced.
type MonitorReportStats struct {
	Total          int `json:"total"`
	WouldBlock     int `json:"would_block"`
	WouldEscalate  int `json:"would_escalate"`
}

// LatencyStats holds latency percentiles.
type LatencyStats struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// UserCount holds a user_id and its count.
type UserCount struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
}

// AnalyticsResult holds all analytics aggregations.
type AnalyticsResult struct {
	Summary              SummaryStats       `json:"summary"`
	EscalationsOverTime  []TimeSeriesBucket `json:"escalations_over_time"`
	TopCategories        []CategoryCount    `json:"top_categories"`
	TopRules             []RuleCount        `json:"top_rules"`
	MonitorReport        MonitorReportStats `json:"monitor_report"`
	LatencyPercentiles   LatencyStats       `json:"latency_percentiles"`
	TopIntervenedUsers  []UserCount        `json:"top_intervened_users"`
}

// GetAnalytics returns aggregated analytics for a project over the given number of days.
func (r *Reader) GetAnalytics(ctx context.Context, projectID string, days int) (*AnalyticsResult, error) {
	now := time.Now().UTC()
	rangeStart := now.Add(-time.Duration(days) * 24 * time.Hour)
	dayStart := now.Add(-24 * time.Hour)

	baseArgs := []any{
		clickhouse.Named("project_id", projectID),
		clickhouse.Named("range_start", rangeStart),
	}

	result := &AnalyticsResult{}

	// Summary counts by intervention
	var total, adjusts, redirects, blocks, escalations uint64
	err := r.conn.QueryRow(ctx,
		"SELECT count() as total, "+
			"countIf(intervention = 'adjust') as adjusts, "+
			"countIf(intervention = 'redirect') as redirects, "+
			"countIf(intervention = 'block') as blocks, "+
			"countIf(intervention = 'escalate') as escalations "+
			"FROM intervention_events "+
			"WHERE project_id = @project_id AND timestamp >= @range_start",
		baseArgs...,
	).Scan(&total, &adjusts, &redirects, &blocks, &escalations)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics summary: %w", err)
	}
	result.Summary = SummaryStats{
		TotalInterventions: int(total),
		Adjusts:            int(adjusts),
		Redirects:          int(redirects),
		Blocks:             int(blocks),
		Escalations:        int(escalations),
	}

	// Escalations over time (hourly)
	escRows, err := r.conn.Query(ctx,
		"SELECT toStartOfHour(timestamp) as hour, count() as count "+
			"FROM intervention_events "+
			"WHERE project_id = @project_id AND intervention = 'escalate' "+
			"AND timestamp >= @range_start "+
			"GROUP BY hour ORDER BY hour",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics escalations_over_time: %w", err)
	}
	defer func() { _ = escRows.Close() }()
	for escRows.Next() {
		var hour time.Time
		var count uint64
		if err := escRows.Scan(&hour, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics escalations_over_time scan: %w", err)
		}
		result.EscalationsOverTime = append(result.EscalationsOverTime, TimeSeriesBucket{
			Hour:  hour.Format(time.RFC3339),
			Count: int(count),
		})
	}

	// Top rule categories
	catRows, err := r.conn.Query(ctx,
		"SELECT arrayJoin(rule_categories) as category, count() as count "+
			"FROM intervention_events "+
			"WHERE project_id = @project_id AND timestamp >= @range_start "+
			"GROUP BY category ORDER BY count DESC LIMIT 10",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_categories: %w", err)
	}
	defer func() { _ = catRows.Close() }()
	for catRows.Next() {
		var cat string
		var count uint64
		if err := catRows.Scan(&cat, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics top_categories scan: %w", err)
		}
		result.TopCategories = append(result.TopCategories, CategoryCount{
			Category: cat, Count: int(count),
		})
	}

	// Top firing rules
	ruleRows, err := r.conn.Query(ctx,
		"SELECT arrayJoin(rule_ids) as rule_id, count() as count "+
			"FROM intervention_events "+
			"WHERE project_id = @project_id AND timestamp >= @range_start "+
			"GROUP BY rule_id ORDER BY count DESC LIMIT 10",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_rules: %w", err)
	}
	defer func() { _ = ruleRows.Close() }()
	for ruleRows.Next() {
		var id string
		var count uint64
		if err := ruleRows.Scan(&id, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics top_rules scan: %w", err)
		}
		result.TopRules = append(result.TopRules, RuleCount{RuleID: id, Count: int(count)})
	}

	// Monitor report
	var monTotal, wouldBlock, wouldEscalate uint64
	err = r.conn.QueryRow(ctx,
		"SELECT count() as total, "+
			"countIf(intervention = 'block') as would_block, "+
			"countIf(intervention = 'escalate') as would_escalate "+
			"FROM intervention_events "+
			"WHERE project_id = @project_id AND is_monitor = 1 "+
			"AND timestamp >= @range_start",
		baseArgs...,
	).Scan(&monTotal, &wouldBlock, &wouldEscalate)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics monitor_report: %w", err)
	}
	result.MonitorReport = MonitorReportStats{
		Total: int(monTotal), WouldBlock: int(wouldBlock), WouldEscalate: int(wouldEscalate),
	}

	// Latency percentiles (last 24h)
	var p50, p95, p99 float64
	err = r.conn.QueryRow(ctx,
		"SELECT quantile(0.5)(latency_ms) as p50, "+
			"quantile(0.95)(latency_ms) as p95, "+
			"quantile(0.99)(latency_ms) as p99 "+
			"FROM intervention_events "+
			"WHERE project_id = @project_id AND timestamp >= @day_start",
		clickhouse.Named("project_id", projectID),
		clickhouse.Named("day_start", dayStart),
	).Scan(&p50, &p95, &p99)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics latency: %w", err)
	}
	result.LatencyPercentiles = LatencyStats{
		P50: safeFloat(p50), P95: safeFloat(p95), P99: safeFloat(p99),
	}

	// Top intervened users
	userRows, err := r.conn.Query(ctx,
		"SELECT user_id, count() as count "+
			"FROM intervention_events "+
			"WHERE project_id = @project_id AND user_id != '' "+
			"AND timestamp >= @range_start "+
			"GROUP BY user_id ORDER BY count DESC LIMIT 10",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_users: %w", err)
	}
	defer func() { _ = userRows.Close() }()
	for userRows.Next() {
		var uid string
		var count uint64
		if err := userRows.Scan(&uid, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics top_users scan: %w", err)
		}
		result.TopIntervenedUsers = append(result.TopIntervenedUsers, UserCount{
			UserID: uid, Count: int(count),
		})
	}

	// Ensure slices are non-nil for JSON serialization
	if result.EscalationsOverTime == nil {
		result.EscalationsOverTime = []TimeSeriesBucket{}
	}
	if result.TopCategories == nil {
		result.TopCategories = []CategoryCount{}
	}
	if result.TopRules == nil {
		result.TopRules = []RuleCount{}
	}
	if result.TopIntervenedUsers == nil {
		result.TopIntervenedUsers = []UserCount{}
	}

	return result, nil
}

// safeFloat replaces NaN/Inf with 0.0.
// ClickHouse returns NaN for quantile() on empty result sets.
func safeFloat(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0.0
	}
	return f
}
