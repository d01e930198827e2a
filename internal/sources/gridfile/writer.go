package gridfile

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/openviewer/gridman/internal/grid"
)

// Save writes records to the user grid file. Callers are expected to
// have filtered out system, temporary and fallback-deprecated entries
// already (see registry.PersistList); Save drops any stragglers anyway
// so a bug upstream can't leak them to disk.
func Save(path string, records []*grid.Record) error {
	out := File{}
	for _, rec := range records {
		if rec.Key == "" || rec.IsSystemGrid || rec.IsTemporary || rec.DeprecatedFallback {
			continue
		}
		out[rec.Key] = MapEntry(rec)
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to marshal grid list: %w", err)
	}

	// Write-then-rename so a crash mid-write can't destroy the list.
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create grid file directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write grid file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace grid file: %w", err)
	}

	return nil
}
