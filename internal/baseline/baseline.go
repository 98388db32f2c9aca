// Package baseline persists the last file-set digest both the local and
// remote sides agreed on, per workflow. The file is rewritten wholesale on
// every update so it always reflects one atomic view.
package baseline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/schaermu/flowsyncd/internal/digest"
)

// Entry is the persisted baseline record for one workflow.
type Entry struct {
	Hash       string            `json:"hash"`
	FileHashes map[string]string `json:"fileHashes"`
}

// fileFormat is the on-disk shape of the baseline file.
type fileFormat struct {
	Workflows map[string]Entry `json:"workflows"`
}

// Store is the durable baseline store. It assumes single-process ownership of
// the state directory; no file locking is performed.
type Store struct {
	path      string
	logger    *slog.Logger
	workflows map[string]Entry
}

// Load reads the baseline file at path. A missing file yields an empty store.
// A malformed file also yields an empty store, with a warning: the tool stays
// usable after corruption at the cost of losing reconciliation history.
func Load(path string, logger *slog.Logger) *Store {
	s := &Store{
		path:      path,
		logger:    logger,
		workflows: make(map[string]Entry),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("failed to read baseline file, starting empty", "path", path, "error", err)
		}
		return s
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		logger.Warn("baseline file is malformed, starting empty", "path", path, "error", err)
		return s
	}
	if f.Workflows != nil {
		s.workflows = f.Workflows
	}

	return s
}

// Get returns the recorded baseline digest for a workflow, if any.
func (s *Store) Get(name string) (digest.FileSetDigest, bool) {
	entry, ok := s.workflows[name]
	if !ok {
		return digest.FileSetDigest{}, false
	}

	perFile := make(map[string]digest.Digest, len(entry.FileHashes))
	for file, hash := range entry.FileHashes {
		perFile[file] = hash
	}
	return digest.FileSetDigest{Aggregate: entry.Hash, PerFile: perFile}, true
}

// Set records a new baseline digest for a workflow. The change is not durable
// until Save is called.
func (s *Store) Set(name string, d digest.FileSetDigest) {
	fileHashes := make(map[string]string, len(d.PerFile))
	for file, hash := range d.PerFile {
		fileHashes[file] = hash
	}
	s.workflows[name] = Entry{Hash: d.Aggregate, FileHashes: fileHashes}
}

// Remove drops a workflow's baseline entry. The change is not durable until
// Save is called.
func (s *Store) Remove(name string) {
	delete(s.workflows, name)
}

// Names returns all workflow names with a baseline entry.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.workflows))
	for name := range s.workflows {
		names = append(names, name)
	}
	return names
}

// Save rewrites the whole baseline file atomically (temp file plus rename).
func (s *Store) Save() error {
	data, err := json.MarshalIndent(fileFormat{Workflows: s.workflows}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode baseline: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".baseline-tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp baseline file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to write baseline: %w", err)
	}
	if err := tmpFile.Chmod(0644); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to set baseline permissions: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close baseline file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace baseline file: %w", err)
	}
	return nil
}
