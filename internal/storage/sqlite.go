package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	_ "modernc.org/sqlite" // register the sqlite database/sql driver
)

// SQLiteWriter persists intervention events to a local SQLite database.
// Intended for single-node deployments without ClickHouse; same
// non-blocking contract as ClickHouseWriter, with a smaller buffer.
type SQLiteWriter struct {
	db      *sql.DB
	buffer  chan *InterventionEvent
	done    chan struct{}
	flushed chan struct{}
	logger  *zap.Logger
}

const sqliteBufferSize = 1000

// NewSQLiteWriter opens (creating if needed) the database at dbPath,
// applies the schema, and starts the background insert loop.
func NewSQLiteWriter(dbPath string, logger *zap.Logger) (*SQLiteWriter, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("NewSQLiteWriter: create directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteWriter: open database: %w", err)
	}

	// SQLite handles one writer; keep the pool at a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	w := &SQLiteWriter{
		db:      db,
		buffer:  make(chan *InterventionEvent, sqliteBufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}

	if err := w.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("NewSQLiteWriter: migration failed: %w", err)
	}

	go w.insertLoop()
	return w, nil
}

func (w *SQLiteWriter) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS intervention_events (
		request_id      TEXT PRIMARY KEY,
		project_id      TEXT NOT NULL DEFAULT '',
		timestamp       DATETIME NOT NULL,
		user_preview    TEXT,
		response_preview TEXT,
		input_hash      TEXT,
		input_size      INTEGER DEFAULT 0,
		severity_level  INTEGER NOT NULL,
		intervention    TEXT NOT NULL,
		is_monitor      INTEGER DEFAULT 0,
		reasoning       TEXT,
		triggers        TEXT,
		rule_ids        TEXT,
		rule_categories TEXT,
		final_preview   TEXT,
		user_id         TEXT,
		session_id      TEXT,
		client_trace_id TEXT,
		metadata        TEXT,
		latency_ms      REAL,
		source          TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_events_time ON intervention_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_project ON intervention_events(project_id, timestamp);
	`
	_, err := w.db.Exec(schema)
	return err
}

// Write queues an intervention event for async insertion.
// Non-blocking: drops the event if the buffer is full.
func (w *SQLiteWriter) Write(event *InterventionEvent) {
	select {
	case w.buffer <- event:
	default:
		w.logger.Warn("sqlite buffer full, dropping event",
			zap.String("request_id", event.RequestID),
		)
	}
}

// Close drains queued events (up to drainTimeout) and closes the database.
func (w *SQLiteWriter) Close() {
	close(w.done)
	<-w.flushed
	if err := w.db.Close(); err != nil {
		w.logger.Warn("sqlite close failed", zap.Error(err))
	}
}

func (w *SQLiteWriter) insertLoop() {
	defer close(w.flushed)

	for {
		select {
		case event := <-w.buffer:
			w.insert(event)
		case <-w.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case event := <-w.buffer:
					w.insert(event)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			return
		}
	}
}

func (w *SQLiteWriter) insert(e *InterventionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var isMonitor int
	if e.IsMonitor {
		isMonitor = 1
	}

	_, err := w.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO intervention_events (
			request_id, project_id, timestamp,
			user_preview, response_preview, input_hash, input_size,
			severity_level, intervention, is_monitor, reasoning,
			triggers, rule_ids, rule_categories,
			final_preview, user_id, session_id, client_trace_id, metadata,
			latency_ms, source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.ProjectID, e.Timestamp,
		e.UserPreview, e.ResponsePreview, e.InputHash, e.InputSize,
		e.SeverityLevel, e.Intervention, isMonitor, e.Reasoning,
		jsonText(e.Triggers), jsonText(e.RuleIDs), jsonText(e.RuleCategories),
		e.FinalPreview, e.UserID, e.SessionID, e.ClientTraceID, jsonText(e.Metadata),
		e.LatencyMs, e.Source,
	)
	if err != nil {
		w.logger.Error("sqlite insert event failed",
			zap.String("request_id", e.RequestID),
			zap.Error(err),
		)
	}
}

// jsonText serializes slices and maps into TEXT columns; SQLite has no
// native array type.
func jsonText(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
