package rules

import (
	"sync/atomic"
	"time"

	"github.com/hypnobot-ai/hypnoguard/internal/engine"
	"go.uber.org/zap"
)

// Snapshot is one immutable, fully compiled rule set. Evaluations run
// against a single snapshot from start to finish; reloads swap in a new
// snapshot by pointer and never mutate an existing one.
type Snapshot struct {
	Path      string
	Rules     []engine.SafetyRule
	Resources string           // formatted crisis resources, "" = built-in default
	Mode      engine.MatchMode // default keyword match mode
	Dropped   int              // rules rejected during load
	Fallback  bool             // true when the synthesized crisis rule is in force
	LoadedAt  time.Time
}

// Store holds the current rule snapshot and supports atomic reload.
type Store struct {
	current atomic.Pointer[Snapshot]
	path    string
	logger  *zap.Logger
}

// NewStore loads the initial snapshot from path. Load never fails (it
// degrades to the fallback rule), so neither does NewStore.
func NewStore(path string, logger *zap.Logger) *Store {
	s := &Store{path: path, logger: logger}
	snap := Load(path, logger)
	snap.LoadedAt = time.Now()
	s.current.Store(snap)

	logger.Info("rule set loaded",
		zap.String("path", path),
		zap.Int("rules", len(snap.Rules)),
		zap.Int("dropped", snap.Dropped),
		zap.Bool("fallback", snap.Fallback),
		zap.String("match_mode", snap.Mode.String()),
	)
	return s
}

// Current returns the rule snapshot in force. Safe for concurrent use;
// the returned snapshot must be treated as read-only.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Reload re-reads the rules file and atomically swaps in the new
// snapshot. In-flight evaluations keep the snapshot they started with.
func (s *Store) Reload() *Snapshot {
	snap := Load(s.path, s.logger)
	snap.LoadedAt = time.Now()
	s.current.Store(snap)

	s.logger.Info("rule set reloaded",
		zap.String("path", s.path),
		zap.Int("rules", len(snap.Rules)),
		zap.Int("dropped", snap.Dropped),
		zap.Bool("fallback", snap.Fallback),
	)
	return snap
}
