package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Discover returns the names of all tracked workflow directories directly
// under root. A directory is tracked when it contains the manifest file.
// Hidden directories are skipped.
func Discover(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read workflows directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		manifest := filepath.Join(root, entry.Name(), ManifestName)
		if _, err := os.Stat(manifest); err == nil {
			names = append(names, entry.Name())
		}
	}

	sort.Strings(names)
	return names, nil
}

// Store reads and writes workflow file-sets on the local filesystem, one
// directory per workflow under root.
type Store struct {
	root string
}

// NewStore creates a store rooted at the given workflows directory.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Dir returns the directory holding the named workflow's files.
func (s *Store) Dir(name string) string {
	return filepath.Join(s.root, name)
}

// Discover lists the tracked workflow directories under the store root.
func (s *Store) Discover() ([]string, error) {
	return Discover(s.root)
}

// List reads the workflow's flat file-set. Subdirectories are ignored, not
// recursed; hidden files are skipped. A missing workflow directory reports
// ErrNotFound rather than an empty set, since absence carries meaning for
// status resolution.
func (s *Store) List(name string) (FileSet, error) {
	dir := s.Dir(name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("workflow %q: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read workflow %q: %w", name, err)
	}

	files := make(FileSet, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read file %q of workflow %q: %w", entry.Name(), name, err)
		}
		files = append(files, File{Name: entry.Name(), Data: data})
	}

	return files, nil
}

// Write replaces the workflow's file-set with the incoming one. Each file is
// written atomically (temp file plus rename). Existing files not present in
// the incoming set are removed, except the manifest and hidden files.
func (s *Store) Write(name string, files FileSet) error {
	dir := s.Dir(name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create workflow directory %q: %w", name, err)
	}

	incoming := make(map[string]bool, len(files))
	for _, f := range files {
		incoming[f.Name] = true
		if err := s.writeFile(filepath.Join(dir, f.Name), f.Data); err != nil {
			return fmt.Errorf("failed to write file %q of workflow %q: %w", f.Name, name, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read workflow %q: %w", name, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if entry.Name() == ManifestName || incoming[entry.Name()] {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale file %q of workflow %q: %w", entry.Name(), name, err)
		}
	}

	return nil
}

// Delete removes the workflow directory and everything in it.
func (s *Store) Delete(name string) error {
	if err := os.RemoveAll(s.Dir(name)); err != nil {
		return fmt.Errorf("failed to delete workflow %q: %w", name, err)
	}
	return nil
}

// writeFile writes data to path with an atomic rename.
func (s *Store) writeFile(path string, data []byte) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".flowsyncd-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(0644); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}
