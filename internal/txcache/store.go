package txcache

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// Store abstracts persistence of record lists keyed by scope.
type Store interface {
	Load(ctx context.Context, key string) ([]Record, error)
	Save(ctx context.Context, key string, records []Record) error
}

// MemoryStore keeps everything in process. Mostly for testing.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]Record)}
}

func (m *MemoryStore) Load(_ context.Context, key string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := m.data[key]
	out := make([]Record, len(records))
	copy(out, records)
	return out, nil
}

func (m *MemoryStore) Save(_ context.Context, key string, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]Record, len(records))
	copy(stored, records)
	m.data[key] = stored
	return nil
}

// FileStore persists all scopes in one JSON file. Suitable for local use.
type FileStore struct {
	path string
	mu   sync.Mutex
	data map[string][]Record
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path: path,
		data: make(map[string][]Record),
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return nil
	}
	return json.Unmarshal(blob, &f.data)
}

func (f *FileStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, blob, 0o600)
}

func (f *FileStore) Load(_ context.Context, key string) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	records := f.data[key]
	out := make([]Record, len(records))
	copy(out, records)
	return out, nil
}

func (f *FileStore) Save(_ context.Context, key string, records []Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := make([]Record, len(records))
	copy(stored, records)
	f.data[key] = stored
	return f.persist()
}
