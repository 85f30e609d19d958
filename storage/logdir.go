// Package storage writes compaction snapshots as JSON files for
// operators, alongside the Badger archive.
package storage

import (
	"chat-relay/domain"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// LogDir stores each snapshot as chat_log_<YYYYMMDD_HHMMSS>.json under
// a single directory, created on first write.
type LogDir struct {
	dir string
	log *slog.Logger
}

func NewLogDir(dir string, log *slog.Logger) *LogDir {
	return &LogDir{dir: dir, log: log}
}

func (d *LogDir) SaveSnapshot(s domain.Snapshot) error {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("log directory: %w", err)
	}

	name := fmt.Sprintf("chat_log_%s.json", time.Now().Format("20060102_150405"))
	path := filepath.Join(d.dir, name)

	blob, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("snapshot file: %w", err)
	}

	d.log.Info("snapshot file written", "path", path,
		"messages", s.TotalMessages, "online", s.CurrentOnlineUsers)
	return nil
}

// Load reads one snapshot file back, used by operator tooling and tests.
func Load(path string) (domain.Snapshot, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return domain.Snapshot{}, err
	}
	var s domain.Snapshot
	if err := json.Unmarshal(blob, &s); err != nil {
		return domain.Snapshot{}, err
	}
	return s, nil
}
