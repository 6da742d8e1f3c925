package api

import (
	"net/http"
	"time"

	"github.com/hypnobot-ai/hypnoguard/internal/chread"
	"github.com/hypnobot-ai/hypnoguard/internal/rules"
	"github.com/hypnobot-ai/hypnoguard/internal/storage"
	"github.com/hypnobot-ai/hypnoguard/internal/store"
	"go.uber.org/zap"
)

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Store    *store.Store
	Rules    *rules.Store
	Writer   storage.EventWriter
	Reader   *chread.Reader // nil if no queryable event sink
	Logger   *zap.Logger
	CacheTTL time.Duration
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Evaluate endpoint (auth required via Bearer hgk_ token)
	mux.HandleFunc("POST /v1/evaluate", deps.authMiddleware(deps.handleEvaluate))

	// Project CRUD (no auth — dashboard auth added later)
	mux.HandleFunc("POST /api/hypnoguard/projects", deps.handleCreateProject)
	mux.HandleFunc("GET /api/hypnoguard/projects", deps.handleListProjects)
	mux.HandleFunc("GET /api/hypnoguard/projects/{project_id}", deps.handleGetProject)
	mux.HandleFunc("PATCH /api/hypnoguard/projects/{project_id}", deps.handleUpdateProject)
	mux.HandleFunc("DELETE /api/hypnoguard/projects/{project_id}", deps.handleDeleteProject)
	mux.HandleFunc("POST /api/hypnoguard/projects/{project_id}/rotate-key", deps.handleRotateKey)

	// Per-project ruleset overlay (no auth)
	mux.HandleFunc("GET /api/hypnoguard/projects/{project_id}/ruleset", deps.handleGetRuleset)
	mux.HandleFunc("PUT /api/hypnoguard/projects/{project_id}/ruleset", deps.handleReplaceRuleset)
	mux.HandleFunc("PATCH /api/hypnoguard/projects/{project_id}/ruleset", deps.handleUpdateRuleset)

	// Active rule snapshot (no auth)
	mux.HandleFunc("GET /api/hypnoguard/rules", deps.handleGetRules)
	mux.HandleFunc("POST /api/hypnoguard/rules/reload", deps.handleReloadRules)

	// Events & Analytics (no auth)
	mux.HandleFunc("GET /api/hypnoguard/events", deps.handleListEvents)
	mux.HandleFunc("GET /api/hypnoguard/events/{request_id}", deps.handleGetEvent)
	mux.HandleFunc("GET /api/hypnoguard/analytics", deps.handleGetAnalytics)

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
