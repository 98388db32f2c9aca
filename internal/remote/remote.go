// Package remote talks to the workflow server. Absence of a workflow on the
// server is a classifiable condition (ErrNotFound); transport and auth
// failures surface as errors and must never be read as absence.
package remote

import (
	"context"
	"errors"

	"github.com/schaermu/flowsyncd/internal/workflow"
)

// ErrNotFound indicates that a workflow does not exist on the remote server.
var ErrNotFound = errors.New("workflow not found on remote")

// Client provides access to the remote workflow store.
type Client interface {
	// List returns the names of all workflows on the server.
	List(ctx context.Context) ([]string, error)
	// Fetch retrieves a workflow's file-set. Returns ErrNotFound (wrapped)
	// when the workflow does not exist remotely.
	Fetch(ctx context.Context, name string) (workflow.FileSet, error)
	// Upload replaces the workflow's file-set on the server, creating the
	// workflow if necessary.
	Upload(ctx context.Context, name string, files workflow.FileSet) error
}
