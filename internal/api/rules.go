package api

import (
	"net/http"

	"github.com/hypnobot-ai/hypnoguard/internal/rules"
)

// handleGetRules returns the rule snapshot currently in force.
func (d *Dependencies) handleGetRules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, snapshotToResp(d.Rules.Current()))
}

// handleReloadRules re-reads the rule file and swaps in the new snapshot.
// A broken file degrades to the fallback crisis rule rather than failing,
// so the response reports the snapshot that actually took effect.
func (d *Dependencies) handleReloadRules(w http.ResponseWriter, _ *http.Request) {
	snap := d.Rules.Reload()
	writeJSON(w, http.StatusOK, snapshotToResp(snap))
}

func snapshotToResp(snap *rules.Snapshot) SnapshotResp {
	resp := SnapshotResp{
		Path:      snap.Path,
		MatchMode: snap.Mode.String(),
		Fallback:  snap.Fallback,
		Dropped:   snap.Dropped,
		LoadedAt:  snap.LoadedAt,
		Rules:     make([]RuleResp, 0, len(snap.Rules)),
	}
	for i := range snap.Rules {
		r := &snap.Rules[i]
		patterns := make([]string, 0, len(r.Patterns))
		for _, p := range r.Patterns {
			patterns = append(patterns, p.Source)
		}
		keywords := r.Keywords
		if keywords == nil {
			keywords = []string{}
		}
		resp.Rules = append(resp.Rules, RuleResp{
			RuleID:   r.ID,
			Category: r.Category,
			Priority: r.Priority,
			Severity: r.Severity.String(),
			Action:   r.Action.String(),
			Keywords: keywords,
			Patterns: patterns,
		})
	}
	return resp
}
