package storage

import "time"

// EventWriter is the interface for persisting intervention events.
// Write() must NEVER block the caller: the safety decision has already
// been made by the time an event is written, and a slow or broken sink
// must not delay or fail it.
type EventWriter interface {
	Write(event *InterventionEvent)
	Close()
}

// InterventionEvent records a single evaluation whose intervention was
// not "none" (plus, in monitor mode, what the intervention would have
// been). Append-only; never updated after write.
type InterventionEvent struct {
	RequestID       string
	ProjectID       string
	Timestamp       time.Time
	UserPreview     string // first 500 chars of the user message
	ResponsePreview string // first 500 chars of the proposed response
	InputHash       string // SHA256 over user message + proposed response
	InputSize       uint32
	SeverityLevel   uint8
	Intervention    string
	IsMonitor       bool // decision logged but not enforced
	Reasoning       string
	Triggers        []string
	RuleIDs         []string
	RuleCategories  []string
	RuleSeverities  []uint8
	FinalPreview    string // first 500 chars of the rendered final response
	UserID          string
	SessionID       string
	ClientTraceID   string
	Metadata        map[string]string
	LatencyMs       float32
	Source          string // "api" or "cli"
}

// PreviewLength is the max chars stored in the preview columns.
const PreviewLength = 500

// TruncateText returns the first N characters (runes) of a text for
// preview storage. It never splits a multi-byte UTF-8 character.
func TruncateText(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen])
}
