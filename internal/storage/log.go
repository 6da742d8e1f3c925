package storage

import "go.uber.org/zap"

// LogWriter is a fallback EventWriter for local development.
// It logs events as structured JSON to stdout via zap.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs events to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(event *InterventionEvent) {
	w.logger.Info("intervention_event",
		zap.String("request_id", event.RequestID),
		zap.String("project_id", event.ProjectID),
		zap.Uint8("severity_level", event.SeverityLevel),
		zap.String("intervention", event.Intervention),
		zap.Bool("is_monitor", event.IsMonitor),
		zap.String("reasoning", event.Reasoning),
		zap.Strings("triggers", event.Triggers),
		zap.Strings("rule_ids", event.RuleIDs),
		zap.Float32("latency_ms", event.LatencyMs),
		zap.String("user_id", event.UserID),
		zap.String("user_preview", event.UserPreview),
	)
}

func (w *LogWriter) Close() {}
