package sync

import (
	"context"
	"errors"

	"github.com/schaermu/flowsyncd/internal/digest"
	"github.com/schaermu/flowsyncd/internal/remote"
	"github.com/schaermu/flowsyncd/internal/workflow"
)

// Snapshot pairs a workflow's file-set with its computed digest.
type Snapshot struct {
	Files  workflow.FileSet
	Digest digest.FileSetDigest
}

// Cache memoizes local and remote file-set reads per workflow for the
// duration of a run. A nil snapshot with a nil error means the workflow is
// absent on that side; absence is a cached result like any other. Callers
// must invalidate a workflow after any action that changes its local or
// remote content, so stale reads never drive a decision.
type Cache struct {
	local  *workflow.Store
	remote remote.Client

	locals  map[string]*Snapshot
	remotes map[string]*Snapshot
}

// NewCache creates a cache backed by the local store and remote client.
func NewCache(local *workflow.Store, remoteClient remote.Client) *Cache {
	return &Cache{
		local:   local,
		remote:  remoteClient,
		locals:  make(map[string]*Snapshot),
		remotes: make(map[string]*Snapshot),
	}
}

// GetLocal reads the workflow's local file-set and digest. A missing local
// directory yields (nil, nil): absence is meaningful, not exceptional.
func (c *Cache) GetLocal(name string) (*Snapshot, error) {
	if snap, ok := c.locals[name]; ok {
		return snap, nil
	}

	files, err := c.local.List(name)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			c.locals[name] = nil
			return nil, nil
		}
		return nil, err
	}

	snap := &Snapshot{Files: files, Digest: digest.Combine(files)}
	c.locals[name] = snap
	return snap, nil
}

// GetRemote fetches the workflow's remote file-set and digest. A workflow
// absent on the server yields (nil, nil). Transport and auth failures
// propagate as errors: mapping them to absence would wrongly classify the
// workflow as new and trigger an upload.
func (c *Cache) GetRemote(ctx context.Context, name string) (*Snapshot, error) {
	if snap, ok := c.remotes[name]; ok {
		return snap, nil
	}

	files, err := c.remote.Fetch(ctx, name)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			c.remotes[name] = nil
			return nil, nil
		}
		return nil, err
	}

	snap := &Snapshot{Files: files, Digest: digest.Combine(files)}
	c.remotes[name] = snap
	return snap, nil
}

// Invalidate drops both cached views of a workflow.
func (c *Cache) Invalidate(name string) {
	delete(c.locals, name)
	delete(c.remotes, name)
}

// InvalidateAll drops every cached view.
func (c *Cache) InvalidateAll() {
	c.locals = make(map[string]*Snapshot)
	c.remotes = make(map[string]*Snapshot)
}
