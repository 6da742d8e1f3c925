package api

import (
	"encoding/json"
	"net/http"

	"github.com/hypnobot-ai/hypnoguard/internal/store"
	"go.uber.org/zap"
)

func (d *Dependencies) handleGetRuleset(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")
	rs, err := d.Store.GetRuleset(r.Context(), projectID)
	if err != nil {
		d.Logger.Error("failed to get ruleset", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get ruleset"})
		return
	}
	if rs == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Ruleset not found."})
		return
	}
	writeJSON(w, http.StatusOK, rulesetToResp(rs))
}

func (d *Dependencies) handleReplaceRuleset(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")

	var req UpdateRulesetReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	mode := ""
	if req.MatchMode != nil {
		mode = *req.MatchMode
	}
	if !validMatchMode(mode) {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "match_mode must be 'substring' or 'word'"})
		return
	}

	rs, err := d.Store.ReplaceRuleset(r.Context(), projectID, store.ReplaceRulesetParams{
		ExtraRules: req.ExtraRules,
		MatchMode:  mode,
	})
	if err != nil {
		d.Logger.Error("failed to replace ruleset", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to replace ruleset"})
		return
	}
	if rs == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Ruleset not found."})
		return
	}
	writeJSON(w, http.StatusOK, rulesetToResp(rs))
}

func (d *Dependencies) handleUpdateRuleset(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")

	var req UpdateRulesetReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	params := store.UpdateRulesetParams{}
	if req.ExtraRules != nil {
		params.ExtraRules = &req.ExtraRules
	}
	if req.MatchMode != nil {
		if !validMatchMode(*req.MatchMode) {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "match_mode must be 'substring' or 'word'"})
			return
		}
		params.MatchMode = req.MatchMode
	}

	rs, err := d.Store.UpdateRuleset(r.Context(), projectID, params)
	if err != nil {
		d.Logger.Error("failed to update ruleset", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to update ruleset"})
		return
	}
	if rs == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Ruleset not found."})
		return
	}
	writeJSON(w, http.StatusOK, rulesetToResp(rs))
}

// validMatchMode accepts the empty string (server default) plus the two
// explicit modes.
func validMatchMode(mode string) bool {
	return mode == "" || mode == "substring" || mode == "word"
}

func rulesetToResp(rs *store.Ruleset) RulesetResp {
	extra := rs.ExtraRules
	if extra == nil || string(extra) == "null" {
		extra = json.RawMessage(`[]`)
	}
	return RulesetResp{
		ID:         rs.ID,
		ProjectID:  rs.ProjectID,
		ExtraRules: extra,
		MatchMode:  rs.MatchMode,
		CreatedAt:  rs.CreatedAt,
		UpdatedAt:  rs.UpdatedAt,
	}
}
