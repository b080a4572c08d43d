package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DiskStore keeps each RunResult as an indented JSON file named after its
// ID. Without a directory it uses a temp directory created on first use.
type DiskStore struct {
	mu  sync.Mutex
	dir string
}

// NewDiskStore returns a store backed by a lazily created temp directory.
func NewDiskStore() *DiskStore {
	return &DiskStore{}
}

// NewDiskStoreIn returns a store writing to dir, creating it if needed.
// Results written there outlive the process, e.g. as CI artifacts.
func NewDiskStoreIn(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating result directory: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

// Dir returns the directory results are written to, or "" before the
// first use of a temp-backed store.
func (s *DiskStore) Dir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir
}

// Save writes result to <dir>/<id>.json. The file is replaced atomically
// so a concurrent Load never sees a partial document.
func (s *DiskStore) Save(result *RunResult) error {
	if err := validID(result.ID); err != nil {
		return err
	}
	dir, err := s.ensureDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding run %s: %w", result.ID, err)
	}

	tmp, err := os.CreateTemp(dir, ".run-*")
	if err != nil {
		return fmt.Errorf("saving run %s: %w", result.ID, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("saving run %s: %w", result.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("saving run %s: %w", result.ID, err)
	}
	if err := os.Rename(tmp.Name(), s.path(dir, result.ID)); err != nil {
		return fmt.Errorf("saving run %s: %w", result.ID, err)
	}
	return nil
}

// Load reads the run saved under runID.
func (s *DiskStore) Load(runID string) (*RunResult, error) {
	if err := validID(runID); err != nil {
		return nil, err
	}
	dir, err := s.ensureDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(dir, runID))
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}
	var result RunResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decoding run %s: %w", runID, err)
	}
	return &result, nil
}

func (s *DiskStore) path(dir, runID string) string {
	return filepath.Join(dir, runID+".json")
}

// validID rejects IDs that would escape the store directory.
func validID(runID string) error {
	if runID == "" || filepath.Base(runID) != runID || runID == "." || runID == ".." {
		return fmt.Errorf("invalid run id %q", runID)
	}
	return nil
}

func (s *DiskStore) ensureDir() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dir != "" {
		return s.dir, nil
	}
	dir, err := os.MkdirTemp("", "testfm-runs-*")
	if err != nil {
		return "", fmt.Errorf("creating result directory: %w", err)
	}
	s.dir = dir
	return dir, nil
}
