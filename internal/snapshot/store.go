package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Entry is one registered name as last read from the registry.
type Entry struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Record string `json:"record"`
	Owner  string `json:"owner"`
}

// Snapshot is a complete registry listing.
type Snapshot struct {
	Entries   []Entry   `json:"entries"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Store abstracts snapshot persistence. Get returns nil when nothing is
// stored under key.
type Store interface {
	Get(ctx context.Context, key string) (*Snapshot, error)
	Save(ctx context.Context, key string, snap Snapshot) error
}

// Pinger is implemented by stores backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Key scopes a snapshot to one contract deployment.
func Key(chainID, contract string) string {
	return strings.ToLower(chainID) + ":" + strings.ToLower(contract)
}

// MemoryStore is mostly for testing and dry runs.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]Snapshot),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	snap.Entries = append([]Entry(nil), snap.Entries...)
	return &snap, nil
}

func (m *MemoryStore) Save(_ context.Context, key string, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap.Entries = append([]Entry(nil), snap.Entries...)
	m.data[key] = snap
	return nil
}

// FileStore keeps every snapshot in one JSON file. Suitable for the CLI.
type FileStore struct {
	path string
	mu   sync.Mutex
	data map[string]Snapshot
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path: path,
		data: make(map[string]Snapshot),
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
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) Get(_ context.Context, key string) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.data[key]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (f *FileStore) Save(_ context.Context, key string, snap Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = snap
	return f.persist()
}
