// state/snapshot.go
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"auto_guard_go/breaker"
)

// Ensure SnapshotWriter satisfies the controller's persistence contract.
var _ breaker.SnapshotWriter = (*SnapshotWriter)(nil)

// SnapshotWriter persists emergency-shutdown snapshots as timestamped JSON
// files in a fixed directory.
type SnapshotWriter struct {
	dir string
}

func NewSnapshotWriter(dir string) *SnapshotWriter {
	return &SnapshotWriter{dir: dir}
}

// WriteEmergency writes one emergency_state_<UTC-timestamp>.json file
// atomically and returns its path.
func (w *SnapshotWriter) WriteEmergency(snap breaker.EmergencySnapshot) (string, error) {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}

	name := fmt.Sprintf("emergency_state_%s.json", snap.Timestamp.UTC().Format("20060102T150405Z"))
	path := filepath.Join(w.dir, name)

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := writeFileAtomic(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	return path, nil
}

// writeFileAtomic writes data to path via tmp file + fsync + rename so a
// crash mid-write never leaves a truncated snapshot behind.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	// best-effort fsync of the parent directory
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
