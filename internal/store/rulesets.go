package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Ruleset represents a row in the rulesets table: the per-project overlay
// on top of the file-loaded safety rules.
type Ruleset struct {
	ID         string
	ProjectID  string
	ExtraRules json.RawMessage // nullable JSONB, list of rule records
	MatchMode  string          // "" = server default, "substring" or "word"
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// UpdateRulesetParams holds optional fields for partial ruleset updates.
type UpdateRulesetParams struct {
	ExtraRules *json.RawMessage // nil = don't change
	MatchMode  *string          // nil = don't change
}

// ReplaceRulesetParams holds fields for a full ruleset replace.
type ReplaceRulesetParams struct {
	ExtraRules json.RawMessage // may be nil
	MatchMode  string
}

// GetRuleset returns the ruleset for a project, or nil if not found.
func (s *Store) GetRuleset(ctx context.Context, projectID string) (*Ruleset, error) {
	var rs Ruleset
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, COALESCE(extra_rules, 'null'::jsonb), match_mode, created_at, updated_at
		FROM rulesets WHERE project_id = $1`, projectID,
	).Scan(&rs.ID, &rs.ProjectID, &rs.ExtraRules, &rs.MatchMode,
		&rs.CreatedAt, &rs.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetRuleset: %w", err)
	}
	return &rs, nil
}

// UpdateRuleset applies a partial update to a ruleset. Only non-nil fields are changed.
func (s *Store) UpdateRuleset(ctx context.Context, projectID string, params UpdateRulesetParams) (*Ruleset, error) {
	var rs Ruleset
	err := s.db.QueryRowContext(ctx, `
		UPDATE rulesets SET
			extra_rules = COALESCE($2, extra_rules),
			match_mode  = COALESCE($3, match_mode),
			updated_at  = now()
		WHERE project_id = $1
		RETURNING id, project_id, COALESCE(extra_rules, 'null'::jsonb), match_mode, created_at, updated_at`,
		projectID, nullableJSON(params.ExtraRules), params.MatchMode,
	).Scan(&rs.ID, &rs.ProjectID, &rs.ExtraRules, &rs.MatchMode,
		&rs.CreatedAt, &rs.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("UpdateRuleset: %w", err)
	}
	return &rs, nil
}

// ReplaceRuleset fully replaces a project's rule overlay.
func (s *Store) ReplaceRuleset(ctx context.Context, projectID string, params ReplaceRulesetParams) (*Ruleset, error) {
	var rs Ruleset
	err := s.db.QueryRowContext(ctx, `
		UPDATE rulesets SET
			extra_rules = $2,
			match_mode  = $3,
			updated_at  = now()
		WHERE project_id = $1
		RETURNING id, project_id, COALESCE(extra_rules, 'null'::jsonb), match_mode, created_at, updated_at`,
		projectID, nullableRaw(params.ExtraRules), params.MatchMode,
	).Scan(&rs.ID, &rs.ProjectID, &rs.ExtraRules, &rs.MatchMode,
		&rs.CreatedAt, &rs.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ReplaceRuleset: %w", err)
	}
	return &rs, nil
}

// nullableJSON returns nil (SQL NULL) if the pointer is nil, otherwise the raw bytes.
func nullableJSON(v *json.RawMessage) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// nullableRaw returns nil (SQL NULL) if the raw message is nil or empty.
func nullableRaw(v json.RawMessage) interface{} {
	if v == nil {
		return nil
	}
	return v
}
