package settings

import (
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Keys this subsystem reads or writes in the settings store.
const (
	KeyCurrentGrid = "CurrentGrid"
)

// Store is the persistent settings collaborator: string values by key.
// The grid subsystem writes the last selected grid back through it.
type Store interface {
	GetString(key string) string
	SetString(key, value string)
}

// Memory is an in-process store, used by tests and as a fallback when no
// settings file is configured.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) GetString(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.values[key]
}

func (m *Memory) SetString(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value
}

// FileStore persists settings to a YAML file, writing through on every
// SetString. Write errors are swallowed: losing a saved selection is
// recoverable, crashing the selector over it is not.
type FileStore struct {
	mu     sync.Mutex
	path   string
	values map[string]string
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path:   path,
		values: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fs, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, &fs.values); err != nil {
		return nil, err
	}
	if fs.values == nil {
		fs.values = make(map[string]string)
	}

	return fs, nil
}

func (f *FileStore) GetString(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.values[key]
}

func (f *FileStore) SetString(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.values[key] = value
	if data, err := yaml.Marshal(f.values); err == nil {
		_ = os.WriteFile(f.path, data, 0o600)
	}
}
