// Package checkpoint persists the engine's two resumable cursors (§3, §4.6,
// §4.7) as JSON files, adapted from stormdb's CheckpointManager
// (saveCheckpoint/loadCheckpoint/findLatestCheckpoint/cleanupOldCheckpoints)
// down to the two fixed shapes this engine needs instead of stormdb's
// open-ended band-progress snapshot.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"retailsync/internal/clock"
	"retailsync/internal/domain"
)

// progressCheckpointMaxAgeDays is the fixed GC cutoff for progress
// checkpoints (§4.7: "Records older than 7 days are garbage-collected").
// Unlike the update-checkpoint watermark default, this is not a tunable —
// spec.md names the literal 7 days, not CHECKPOINT_DEFAULT_DAYS.
const progressCheckpointMaxAgeDays = 7

// UpdateCheckpointStore persists the single high-watermark file used by
// change detection (§4.6).
type UpdateCheckpointStore struct {
	path        string
	defaultDays int
	clock       clock.Clock
	logger      *zap.Logger
}

// NewUpdateCheckpointStore builds a store rooted at dir/update_checkpoint.json.
// defaultDays is CHECKPOINT_DEFAULT_DAYS, the watermark Load substitutes
// when no checkpoint has ever been written (§4.6: "if absent, watermark =
// now − 30 days").
func NewUpdateCheckpointStore(dir string, defaultDays int, clk clock.Clock, logger *zap.Logger) *UpdateCheckpointStore {
	return &UpdateCheckpointStore{path: filepath.Join(dir, "update_checkpoint.json"), defaultDays: defaultDays, clock: clk, logger: logger}
}

// Load reads the checkpoint. If the file does not exist yet — the first
// run, or any run after checkpoint loss — it returns a synthesized
// checkpoint whose LastRunTimestamp is now−defaultDays (§4.6's default),
// with found=false so callers can still tell "no prior run" from "a run
// that really did complete defaultDays ago" if they need to.
func (s *UpdateCheckpointStore) Load() (domain.UpdateCheckpoint, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.UpdateCheckpoint{LastRunTimestamp: s.clock.Now().AddDate(0, 0, -s.defaultDays)}, false, nil
		}
		return domain.UpdateCheckpoint{}, false, fmt.Errorf("read update checkpoint: %w", err)
	}
	var cp domain.UpdateCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return domain.UpdateCheckpoint{}, false, fmt.Errorf("decode update checkpoint: %w", err)
	}
	return cp, true, nil
}

// Save atomically writes cp, via write-to-temp-then-rename so a crash
// mid-write never leaves a half-written checkpoint behind.
func (s *UpdateCheckpointStore) Save(cp domain.UpdateCheckpoint) error {
	cp.UpdatedAt = time.Now().UTC()
	if err := writeAtomic(s.path, cp); err != nil {
		return fmt.Errorf("save update checkpoint: %w", err)
	}
	s.logger.Debug("update checkpoint saved", zap.Time("last_run_timestamp", cp.LastRunTimestamp))
	return nil
}

// ProgressCheckpointStore persists one resumable-batch file per in-flight
// sync run (§4.7), keyed by SyncID so a crashed run can resume where it left
// off without disturbing other runs' checkpoints.
type ProgressCheckpointStore struct {
	dir    string
	logger *zap.Logger
}

// NewProgressCheckpointStore builds a store rooted at dir, garbage
// collecting files older than progressCheckpointMaxAgeDays (7, per §4.7) on
// Cleanup.
func NewProgressCheckpointStore(dir string, logger *zap.Logger) *ProgressCheckpointStore {
	return &ProgressCheckpointStore{dir: dir, logger: logger}
}

func (s *ProgressCheckpointStore) pathFor(syncID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("progress_%s.json", sanitizeSyncID(syncID)))
}

func sanitizeSyncID(syncID string) string {
	return strings.ReplaceAll(syncID, string(filepath.Separator), "_")
}

// Save atomically persists cp for its SyncID.
func (s *ProgressCheckpointStore) Save(cp domain.ProgressCheckpoint) error {
	cp.Timestamp = time.Now().UTC()
	if err := writeAtomic(s.pathFor(cp.SyncID), cp); err != nil {
		return fmt.Errorf("save progress checkpoint %s: %w", cp.SyncID, err)
	}
	s.logger.Debug("progress checkpoint saved",
		zap.String("sync_id", cp.SyncID),
		zap.Int("processed", cp.ProcessedCount),
		zap.Int("total", cp.TotalCount),
	)
	return nil
}

// Load reads the progress checkpoint for syncID, returning (zero, false,
// nil) if none exists.
func (s *ProgressCheckpointStore) Load(syncID string) (domain.ProgressCheckpoint, bool, error) {
	data, err := os.ReadFile(s.pathFor(syncID))
	if err != nil {
		if os.IsNotExist(err) {
			return domain.ProgressCheckpoint{}, false, nil
		}
		return domain.ProgressCheckpoint{}, false, fmt.Errorf("read progress checkpoint %s: %w", syncID, err)
	}
	var cp domain.ProgressCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return domain.ProgressCheckpoint{}, false, fmt.Errorf("decode progress checkpoint %s: %w", syncID, err)
	}
	return cp, true, nil
}

// Delete removes a completed run's progress checkpoint.
func (s *ProgressCheckpointStore) Delete(syncID string) error {
	err := os.Remove(s.pathFor(syncID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete progress checkpoint %s: %w", syncID, err)
	}
	return nil
}

// Cleanup removes progress checkpoints older than the fixed 7-day window
// §4.7 names, the same age-based GC as stormdb's cleanupOldCheckpoints, but
// bounded by file age rather than a fixed file count (completed-run
// checkpoints should all eventually go, not just the oldest N).
func (s *ProgressCheckpointStore) Cleanup(now time.Time) (int, error) {
	entries, err := filepath.Glob(filepath.Join(s.dir, "progress_*.json"))
	if err != nil {
		return 0, fmt.Errorf("list progress checkpoints: %w", err)
	}
	sort.Strings(entries) // deterministic log ordering only

	cutoff := now.AddDate(0, 0, -progressCheckpointMaxAgeDays)
	removed := 0
	for _, path := range entries {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				s.logger.Warn("failed to remove stale progress checkpoint", zap.String("path", path), zap.Error(err))
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("cleaned up stale progress checkpoints", zap.Int("removed", removed))
	}
	return removed, nil
}

// writeAtomic serializes v as indented JSON to a temp file in the same
// directory as path, then renames it into place — a rename on the same
// filesystem is atomic, so readers never observe a partial write.
func writeAtomic(path string, v interface{}) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint file: %w", err)
	}
	tmpPath := tmp.Name()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp checkpoint file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename checkpoint into place: %w", err)
	}
	return nil
}
