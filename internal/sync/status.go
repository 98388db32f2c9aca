package sync

import (
	"fmt"
	"log/slog"

	"github.com/schaermu/flowsyncd/internal/baseline"
	"github.com/schaermu/flowsyncd/internal/digest"
)

// Status classifies the drift among a workflow's baseline, local and remote
// views. It is recomputed on every resolution, never stored.
type Status string

const (
	// StatusUnknown means no baseline entry exists for the workflow.
	StatusUnknown Status = "unknown"
	// StatusMissing means the workflow has no local directory.
	StatusMissing Status = "missing"
	// StatusNew means the workflow does not exist on the remote.
	StatusNew Status = "new"
	// StatusConflict means local and remote each diverged from the baseline
	// and from each other.
	StatusConflict Status = "conflict"
	// StatusModified means only the local side diverged from the baseline.
	StatusModified Status = "modified"
	// StatusOutdated means only the remote side diverged from the baseline.
	StatusOutdated Status = "outdated"
	// StatusSynced means all three views agree.
	StatusSynced Status = "synced"
)

// Resolver classifies workflows. It holds the baseline store so it can
// self-heal: when local and remote have independently converged on the same
// content, the convergent digest is adopted as the new baseline instead of
// reporting a misleading modified/outdated state.
type Resolver struct {
	store  *baseline.Store
	logger *slog.Logger
}

// NewResolver creates a resolver writing self-healed baselines to store.
func NewResolver(store *baseline.Store, logger *slog.Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

// Classify maps the three aggregate digests to a status without side
// effects. A nil digest means the corresponding view is absent. The checks
// apply in strict priority order; each later check assumes the earlier ones
// failed.
func Classify(base, local, remote *digest.FileSetDigest) Status {
	if base == nil {
		return StatusUnknown
	}
	if local == nil {
		return StatusMissing
	}
	if remote == nil {
		return StatusNew
	}

	switch {
	case base.Aggregate != local.Aggregate && base.Aggregate != remote.Aggregate && local.Aggregate != remote.Aggregate:
		return StatusConflict
	case base.Aggregate != local.Aggregate && local.Aggregate == remote.Aggregate:
		// Both ends arrived at the same content without a sync.
		return StatusSynced
	case base.Aggregate != local.Aggregate:
		return StatusModified
	case base.Aggregate != remote.Aggregate:
		return StatusOutdated
	}
	return StatusSynced
}

// Resolve classifies the workflow and, on a convergent synced state, adopts
// the shared digest as the new baseline. Read-only callers use Classify
// instead.
func (r *Resolver) Resolve(name string, base, local, remote *digest.FileSetDigest) (Status, error) {
	status := Classify(base, local, remote)

	if status == StatusSynced && base != nil && local != nil && base.Aggregate != local.Aggregate {
		r.store.Set(name, *local)
		if err := r.store.Save(); err != nil {
			return StatusSynced, fmt.Errorf("failed to persist self-healed baseline for %q: %w", name, err)
		}
		r.logger.Info("local and remote converged, baseline updated", "workflow", name)
	}

	return status, nil
}

// FileStatuses applies the same seven-way classification independently to
// each file name in the union of the three per-file digest maps. It is used
// only to present human-readable detail for conflicted workflows.
func FileStatuses(base, local, remote map[string]digest.Digest) map[string]Status {
	names := make(map[string]bool)
	for name := range base {
		names[name] = true
	}
	for name := range local {
		names[name] = true
	}
	for name := range remote {
		names[name] = true
	}

	out := make(map[string]Status, len(names))
	for name := range names {
		out[name] = fileStatus(lookup(base, name), lookup(local, name), lookup(remote, name))
	}
	return out
}

func lookup(m map[string]digest.Digest, name string) *digest.Digest {
	if m == nil {
		return nil
	}
	if d, ok := m[name]; ok {
		return &d
	}
	return nil
}

func fileStatus(base, local, remote *digest.Digest) Status {
	if base == nil {
		return StatusUnknown
	}
	if local == nil {
		return StatusMissing
	}
	if remote == nil {
		return StatusNew
	}
	switch {
	case *base != *local && *base != *remote && *local != *remote:
		return StatusConflict
	case *base != *local && *local == *remote:
		return StatusSynced
	case *base != *local:
		return StatusModified
	case *base != *remote:
		return StatusOutdated
	}
	return StatusSynced
}
