package gridfile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/openviewer/gridman/internal/grid"
)

// Loader reads a grid list file (fallback or user layer).
type Loader struct {
	filePath string
}

// NewLoader creates a loader for the given file.
func NewLoader(filePath string) *Loader {
	return &Loader{
		filePath: filePath,
	}
}

// Load reads and parses the grid list. A missing file is not an error:
// a fresh install has no user list yet.
func (l *Loader) Load() (File, error) {
	if l.filePath == "" {
		return File{}, nil
	}

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return File{}, nil
		}
		return nil, fmt.Errorf("failed to read grid file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse grid file: %w", err)
	}
	if f == nil {
		f = File{}
	}

	return f, nil
}

// LoadRecords is Load followed by mapping into domain records.
func (l *Loader) LoadRecords() ([]*grid.Record, error) {
	f, err := l.Load()
	if err != nil {
		return nil, err
	}
	return MapRecords(f), nil
}
