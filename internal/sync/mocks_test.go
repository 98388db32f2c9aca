package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/schaermu/flowsyncd/internal/baseline"
	"github.com/schaermu/flowsyncd/internal/digest"
	"github.com/schaermu/flowsyncd/internal/remote"
	"github.com/schaermu/flowsyncd/internal/workflow"
)

// mockRemote implements remote.Client for testing.
type mockRemote struct {
	workflows map[string]workflow.FileSet

	listErr      error
	fetchErrFor  map[string]error
	uploadErrFor map[string]error

	fetchCalls  map[string]int
	uploadCalls map[string]int
}

func newMockRemote() *mockRemote {
	return &mockRemote{
		workflows:    make(map[string]workflow.FileSet),
		fetchErrFor:  make(map[string]error),
		uploadErrFor: make(map[string]error),
		fetchCalls:   make(map[string]int),
		uploadCalls:  make(map[string]int),
	}
}

func (m *mockRemote) List(_ context.Context) ([]string, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	names := make([]string, 0, len(m.workflows))
	for name := range m.workflows {
		names = append(names, name)
	}
	return names, nil
}

func (m *mockRemote) Fetch(_ context.Context, name string) (workflow.FileSet, error) {
	m.fetchCalls[name]++
	if err := m.fetchErrFor[name]; err != nil {
		return nil, err
	}
	files, ok := m.workflows[name]
	if !ok {
		return nil, fmt.Errorf("workflow %q: %w", name, remote.ErrNotFound)
	}
	return files, nil
}

func (m *mockRemote) Upload(_ context.Context, name string, files workflow.FileSet) error {
	m.uploadCalls[name]++
	if err := m.uploadErrFor[name]; err != nil {
		return err
	}
	stored := make(workflow.FileSet, len(files))
	copy(stored, files)
	m.workflows[name] = stored
	return nil
}

func (m *mockRemote) totalUploads() int {
	total := 0
	for _, n := range m.uploadCalls {
		total += n
	}
	return total
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// env bundles the collaborators of an engine under test.
type env struct {
	t      *testing.T
	root   string
	local  *workflow.Store
	store  *baseline.Store
	remote *mockRemote
}

func newEnv(t *testing.T) *env {
	t.Helper()
	tmp := t.TempDir()
	root := filepath.Join(tmp, "workflows")
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatal(err)
	}
	return &env{
		t:      t,
		root:   root,
		local:  workflow.NewStore(root),
		store:  baseline.Load(filepath.Join(tmp, "state", "baseline.json"), testLogger()),
		remote: newMockRemote(),
	}
}

func (e *env) engine(opts ...Option) *Engine {
	return NewEngine(e.remote, e.local, e.store, testLogger(), opts...)
}

// writeLocal creates or replaces a local workflow directory with the given
// files (manifest included by the caller when wanted).
func (e *env) writeLocal(name string, files map[string]string) {
	e.t.Helper()
	dir := filepath.Join(e.root, name)
	if err := os.RemoveAll(dir); err != nil {
		e.t.Fatal(err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		e.t.Fatal(err)
	}
	for file, content := range files {
		if err := os.WriteFile(filepath.Join(dir, file), []byte(content), 0644); err != nil {
			e.t.Fatal(err)
		}
	}
}

// setRemote replaces the mock server's copy of a workflow.
func (e *env) setRemote(name string, files map[string]string) {
	set := make(workflow.FileSet, 0, len(files))
	for file, content := range files {
		set = append(set, workflow.File{Name: file, Data: []byte(content)})
	}
	e.remote.workflows[name] = set
}

// setBaseline records the digest of the given file map as the baseline.
func (e *env) setBaseline(name string, files map[string]string) {
	e.t.Helper()
	e.store.Set(name, digestOf(files))
	if err := e.store.Save(); err != nil {
		e.t.Fatal(err)
	}
}

func digestOf(files map[string]string) digest.FileSetDigest {
	set := make(workflow.FileSet, 0, len(files))
	for file, content := range files {
		set = append(set, workflow.File{Name: file, Data: []byte(content)})
	}
	return digest.Combine(set)
}

// localDigest reads the workflow's current local file-set digest directly.
func (e *env) localDigest(name string) digest.FileSetDigest {
	e.t.Helper()
	files, err := e.local.List(name)
	if err != nil {
		e.t.Fatal(err)
	}
	return digest.Combine(files)
}
