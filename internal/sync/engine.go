// Package sync implements the three-way reconciliation core: per-run state
// caching, status resolution, conflict strategies and the batch engine that
// drives workflows toward a new agreed baseline.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	gosync "sync"

	"github.com/schaermu/flowsyncd/internal/baseline"
	"github.com/schaermu/flowsyncd/internal/digest"
	"github.com/schaermu/flowsyncd/internal/remote"
	"github.com/schaermu/flowsyncd/internal/workflow"
)

// Action is the reconciliation step applied to a workflow.
type Action string

const (
	ActionNone     Action = "none"
	ActionUpload   Action = "upload"
	ActionDownload Action = "download"
	ActionSkip     Action = "skip"
)

// Result is the per-workflow outcome of a batch run.
type Result struct {
	Name   string
	Status Status
	Action Action
	Err    error
}

// Failed reports whether the workflow's sync failed.
func (r Result) Failed() bool {
	return r.Err != nil
}

// Hooks are optional callbacks around remote-facing actions. PreAction may
// veto the pending action by returning an error; the action is then not
// attempted and the workflow's result is marked failed. PostAction runs only
// after an action succeeded.
type Hooks struct {
	PreAction  func(ctx context.Context, name string, status Status) error
	PostAction func(ctx context.Context, name string, status Status, action Action)
}

// ResultFunc receives each workflow's outcome before the batch advances.
type ResultFunc func(Result)

// Option configures an Engine.
type Option func(*Engine)

// WithStrategy sets the conflict strategy (default skip).
func WithStrategy(s Strategy) Option {
	return func(e *Engine) { e.strategy = s }
}

// WithHooks sets the pre/post action hooks.
func WithHooks(h Hooks) Option {
	return func(e *Engine) { e.hooks = h }
}

// WithResultFunc sets the per-workflow result callback.
func WithResultFunc(fn ResultFunc) Option {
	return func(e *Engine) { e.onResult = fn }
}

// WithDryRun makes the engine log would-be actions without applying them.
func WithDryRun(dryRun bool) Option {
	return func(e *Engine) { e.dryRun = dryRun }
}

// Engine orchestrates reconciliation for batches of workflows. Workflows are
// processed strictly sequentially so the baseline store has exactly one
// writer and results arrive in a deterministic order.
type Engine struct {
	remote   remote.Client
	local    *workflow.Store
	store    *baseline.Store
	cache    *Cache
	resolver *Resolver
	logger   *slog.Logger

	strategy Strategy
	hooks    Hooks
	onResult ResultFunc
	dryRun   bool

	// runMu serializes batch runs so event-driven triggers (watch mode) can
	// never interleave two workflows' read-modify-write of the baseline.
	runMu gosync.Mutex
}

// NewEngine creates a sync engine over the given collaborators.
func NewEngine(remoteClient remote.Client, localStore *workflow.Store, store *baseline.Store, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		remote:   remoteClient,
		local:    localStore,
		store:    store,
		cache:    NewCache(localStore, remoteClient),
		logger:   logger,
		strategy: StrategySkip,
	}
	e.resolver = NewResolver(store, logger)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Workflows returns the sorted union of locally tracked, baseline-recorded
// and remote workflow names. Enumerating only local directories would hide
// workflows deleted locally (missing) or existing only on the server
// (unknown), both of which a run should at least report.
func (e *Engine) Workflows(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)

	locals, err := e.local.Discover()
	if err != nil {
		return nil, fmt.Errorf("failed to discover local workflows: %w", err)
	}
	for _, name := range locals {
		seen[name] = true
	}
	for _, name := range e.store.Names() {
		seen[name] = true
	}

	remotes, err := e.remote.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote workflows: %w", err)
	}
	for _, name := range remotes {
		seen[name] = true
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Invalidate drops cached state for a workflow. Callers signal externally
// observed changes (e.g. a filesystem watch event) through this before
// re-running the workflow.
func (e *Engine) Invalidate(name string) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	e.cache.Invalidate(name)
}

// Run processes the named workflows sequentially. One workflow's failure is
// captured in its result and does not halt the rest of the batch. The result
// callback, if set, fires per workflow before the batch advances.
func (e *Engine) Run(ctx context.Context, names []string) []Result {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	// Snapshots memoize within one batch only; every run observes fresh
	// local and remote state.
	e.cache.InvalidateAll()

	results := make([]Result, 0, len(names))
	for _, name := range names {
		res := e.syncOne(ctx, name)
		if res.Err != nil {
			e.logger.Error("workflow sync failed", "workflow", name, "status", res.Status, "error", res.Err)
		}
		if e.onResult != nil {
			e.onResult(res)
		}
		results = append(results, res)
	}
	return results
}

// Status classifies a workflow's three-way state without applying any action
// and without persisting anything, so inspection commands never write.
func (e *Engine) Status(ctx context.Context, name string) (Status, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	base, local, remoteD, err := e.digests(ctx, name)
	if err != nil {
		return StatusUnknown, err
	}
	return Classify(base, local, remoteD), nil
}

// digests gathers the three views' aggregate digests, nil marking absence.
func (e *Engine) digests(ctx context.Context, name string) (base, local, remoteD *digest.FileSetDigest, err error) {
	localSnap, err := e.cache.GetLocal(name)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to read local state of %q: %w", name, err)
	}
	remoteSnap, err := e.cache.GetRemote(ctx, name)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to read remote state of %q: %w", name, err)
	}

	if d, ok := e.store.Get(name); ok {
		base = &d
	}
	if localSnap != nil {
		local = &localSnap.Digest
	}
	if remoteSnap != nil {
		remoteD = &remoteSnap.Digest
	}
	return base, local, remoteD, nil
}

func (e *Engine) resolve(ctx context.Context, name string) (Status, error) {
	base, local, remoteD, err := e.digests(ctx, name)
	if err != nil {
		return StatusUnknown, err
	}
	return e.resolver.Resolve(name, base, local, remoteD)
}

func (e *Engine) syncOne(ctx context.Context, name string) Result {
	res := Result{Name: name, Action: ActionNone}

	status, err := e.resolve(ctx, name)
	res.Status = status
	if err != nil {
		res.Err = err
		return res
	}

	switch status {
	case StatusSynced:
		e.logger.Debug("workflow in sync", "workflow", name)
		return res
	case StatusMissing, StatusUnknown:
		e.logger.Info("workflow needs attention, no action taken", "workflow", name, "status", status)
		return res
	}

	if e.dryRun {
		e.logger.Info("[dry-run] would apply action", "workflow", name, "status", status, "action", e.plannedAction(status))
		return res
	}

	if e.hooks.PreAction != nil {
		if err := e.hooks.PreAction(ctx, name, status); err != nil {
			res.Err = fmt.Errorf("action vetoed for %q: %w", name, err)
			return res
		}
	}

	var action Action
	switch status {
	case StatusNew, StatusModified:
		action, err = ActionUpload, e.push(ctx, name)
	case StatusOutdated:
		action, err = ActionDownload, e.pull(ctx, name)
	case StatusConflict:
		action, err = e.resolveConflict(ctx, name)
	}
	res.Action = action
	if err != nil {
		res.Err = err
		return res
	}

	if e.hooks.PostAction != nil && action != ActionNone && action != ActionSkip {
		e.hooks.PostAction(ctx, name, status, action)
	}
	return res
}

// plannedAction maps an actionable status to the step a real run would take.
func (e *Engine) plannedAction(status Status) Action {
	switch status {
	case StatusNew, StatusModified:
		return ActionUpload
	case StatusOutdated:
		return ActionDownload
	case StatusConflict:
		if e.strategy == StrategySkip {
			return ActionSkip
		}
		return Action("resolve-" + string(e.strategy))
	}
	return ActionNone
}

// push uploads the local file-set and records it as the new baseline. The
// cache invalidation here and in pull are the only two invalidation sites:
// any durable content change flows through one of them.
func (e *Engine) push(ctx context.Context, name string) error {
	snap, err := e.cache.GetLocal(name)
	if err != nil {
		return err
	}
	if snap == nil {
		return fmt.Errorf("workflow %q has no local files to upload", name)
	}

	e.logger.Info("uploading workflow", "workflow", name, "files", len(snap.Files))
	if err := e.remote.Upload(ctx, name, snap.Files); err != nil {
		return fmt.Errorf("failed to upload workflow %q: %w", name, err)
	}

	e.cache.Invalidate(name)
	return e.persistBaseline(name, snap.Digest)
}

// pull downloads the remote file-set into local storage and records it as the
// new baseline.
func (e *Engine) pull(ctx context.Context, name string) error {
	snap, err := e.cache.GetRemote(ctx, name)
	if err != nil {
		return err
	}
	if snap == nil {
		return fmt.Errorf("workflow %q has no remote files to download", name)
	}

	e.logger.Info("downloading workflow", "workflow", name, "files", len(snap.Files))
	if err := e.local.Write(name, snap.Files); err != nil {
		return fmt.Errorf("failed to write workflow %q locally: %w", name, err)
	}

	e.cache.Invalidate(name)
	return e.persistBaseline(name, snap.Digest)
}

// resolveConflict applies the configured strategy to a conflicted workflow.
func (e *Engine) resolveConflict(ctx context.Context, name string) (Action, error) {
	e.logConflictDetail(ctx, name)

	switch e.strategy {
	case StrategySkip:
		e.logger.Info("conflict skipped", "workflow", name)
		return ActionSkip, nil

	case StrategyPull:
		return ActionDownload, e.pull(ctx, name)

	case StrategyPush:
		return ActionUpload, e.push(ctx, name)

	case StrategyAuto:
		// Remote content first overwrites local, then the resulting local
		// state is pushed back. Whole-set overwrite in sequence; overlapping
		// local edits are lost.
		if err := e.pull(ctx, name); err != nil {
			return ActionDownload, err
		}
		return ActionUpload, e.push(ctx, name)
	}

	return ActionNone, fmt.Errorf("unknown conflict strategy: %q", e.strategy)
}

// logConflictDetail logs the per-file classification of a conflicted
// workflow so a human can see which files drifted where.
func (e *Engine) logConflictDetail(ctx context.Context, name string) {
	local, err := e.cache.GetLocal(name)
	if err != nil {
		return
	}
	remoteSnap, err := e.cache.GetRemote(ctx, name)
	if err != nil {
		return
	}

	var basePF, localPF, remotePF map[string]digest.Digest
	if base, ok := e.store.Get(name); ok {
		basePF = base.PerFile
	}
	if local != nil {
		localPF = local.Digest.PerFile
	}
	if remoteSnap != nil {
		remotePF = remoteSnap.Digest.PerFile
	}

	for file, status := range FileStatuses(basePF, localPF, remotePF) {
		if status == StatusSynced {
			continue
		}
		e.logger.Info("conflict detail", "workflow", name, "file", file, "status", status)
	}
}

func (e *Engine) persistBaseline(name string, d digest.FileSetDigest) error {
	e.store.Set(name, d)
	if err := e.store.Save(); err != nil {
		return fmt.Errorf("failed to persist baseline for %q: %w", name, err)
	}
	return nil
}
