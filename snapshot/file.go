package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/taskmesh/taskmesh/logging"
)

// FileStore persists named JSON snapshots in a directory, one file per name.
// Writes go through a temp file in the same directory followed by a rename,
// so readers never observe a torn document.
type FileStore struct {
	dir    string
	mu     sync.Mutex
	logger logging.Logger
}

// FileStoreOptions configures a FileStore.
type FileStoreOptions struct {
	Logger logging.Logger
}

// NewFileStore creates the directory if needed and returns a store rooted
// there.
func NewFileStore(dir string, optFns ...func(o *FileStoreOptions)) (*FileStore, error) {
	opts := FileStoreOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &FileStore{dir: dir, logger: opts.Logger}, nil
}

// Read unmarshals the named snapshot into v. A missing file yields
// (false, nil).
func (s *FileStore) Read(name string, v any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read snapshot %q: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode snapshot %q: %w", name, err)
	}
	return true, nil
}

// Write marshals v and atomically replaces the named snapshot.
func (s *FileStore) Write(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot %q: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot %q: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp snapshot %q: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp snapshot %q: %w", name, err)
	}
	if err := os.Rename(tmpName, s.path(name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot %q: %w", name, err)
	}
	return nil
}

// path maps a snapshot name to its file, rejecting path separators so names
// cannot escape the store directory.
func (s *FileStore) path(name string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(name)
	return filepath.Join(s.dir, safe+".json")
}
