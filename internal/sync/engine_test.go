package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/schaermu/flowsyncd/internal/digest"
	"github.com/schaermu/flowsyncd/internal/workflow"
)

func TestRunUploadsOnlyDriftedWorkflows(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// A: all three views agree.
	inSync := map[string]string{workflow.ManifestName: "name: a", "flow.json": "same"}
	e.writeLocal("a", inSync)
	e.setRemote("a", inSync)
	e.setBaseline("a", inSync)

	// B: only local drifted from an agreed baseline/remote.
	agreed := map[string]string{workflow.ManifestName: "name: b", "flow.json": "old"}
	edited := map[string]string{workflow.ManifestName: "name: b", "flow.json": "new"}
	e.writeLocal("b", edited)
	e.setRemote("b", agreed)
	e.setBaseline("b", agreed)

	results := e.engine().Run(ctx, []string{"a", "b"})

	if results[0].Status != StatusSynced || results[0].Action != ActionNone {
		t.Errorf("a: expected synced/none, got %s/%s", results[0].Status, results[0].Action)
	}
	if results[1].Status != StatusModified || results[1].Action != ActionUpload {
		t.Errorf("b: expected modified/upload, got %s/%s", results[1].Status, results[1].Action)
	}

	if e.remote.totalUploads() != 1 || e.remote.uploadCalls["b"] != 1 {
		t.Errorf("expected exactly one upload, for b: %v", e.remote.uploadCalls)
	}

	// B's baseline now equals its local digest.
	base, ok := e.store.Get("b")
	if !ok || base.Aggregate != e.localDigest("b").Aggregate {
		t.Errorf("expected baseline to match b's local digest after upload")
	}
}

func TestRunUploadsNewWorkflow(t *testing.T) {
	e := newEnv(t)
	files := map[string]string{workflow.ManifestName: "name: fresh", "flow.json": "{}"}
	e.writeLocal("fresh", files)
	e.setBaseline("fresh", files) // baseline exists, remote does not

	results := e.engine().Run(context.Background(), []string{"fresh"})

	if results[0].Status != StatusNew || results[0].Action != ActionUpload {
		t.Fatalf("expected new/upload, got %s/%s", results[0].Status, results[0].Action)
	}
	if _, ok := e.remote.workflows["fresh"]; !ok {
		t.Error("workflow should exist remotely after upload")
	}
}

func TestRunDownloadsOutdatedWorkflow(t *testing.T) {
	e := newEnv(t)
	agreed := map[string]string{workflow.ManifestName: "name: w", "flow.json": "old"}
	updated := map[string]string{workflow.ManifestName: "name: w", "flow.json": "new"}
	e.writeLocal("w", agreed)
	e.setRemote("w", updated)
	e.setBaseline("w", agreed)

	results := e.engine().Run(context.Background(), []string{"w"})

	if results[0].Status != StatusOutdated || results[0].Action != ActionDownload {
		t.Fatalf("expected outdated/download, got %s/%s", results[0].Status, results[0].Action)
	}

	files, err := e.local.List("w")
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]string{}
	for _, f := range files {
		got[f.Name] = string(f.Data)
	}
	if got["flow.json"] != "new" {
		t.Errorf("local content should match remote after download, got %q", got["flow.json"])
	}

	base, _ := e.store.Get("w")
	if base.Aggregate != digestOf(updated).Aggregate {
		t.Error("baseline should equal the remote digest after download")
	}
}

func TestRunReportsOnlyForMissingAndUnknown(t *testing.T) {
	e := newEnv(t)

	// missing: baseline exists, no local directory.
	e.setBaseline("gone", map[string]string{"flow.json": "x"})
	e.setRemote("gone", map[string]string{"flow.json": "x"})

	// unknown: no baseline entry at all.
	e.writeLocal("stray", map[string]string{workflow.ManifestName: "name: stray"})

	results := e.engine().Run(context.Background(), []string{"gone", "stray"})

	if results[0].Status != StatusMissing || results[0].Action != ActionNone || results[0].Err != nil {
		t.Errorf("gone: expected missing/none, got %+v", results[0])
	}
	if results[1].Status != StatusUnknown || results[1].Action != ActionNone || results[1].Err != nil {
		t.Errorf("stray: expected unknown/none, got %+v", results[1])
	}
	if e.remote.totalUploads() != 0 {
		t.Errorf("report-only statuses must not write remotely: %v", e.remote.uploadCalls)
	}
}

func TestRunBatchFailureIsolation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		files := map[string]string{workflow.ManifestName: "name: " + name, "flow.json": name + "-edit"}
		agreed := map[string]string{workflow.ManifestName: "name: " + name, "flow.json": name}
		e.writeLocal(name, files)
		e.setRemote(name, agreed)
		e.setBaseline(name, agreed)
	}

	transportErr := errors.New("tls handshake failed")
	e.remote.uploadErrFor["b"] = transportErr

	var order []string
	engine := e.engine(WithResultFunc(func(res Result) { order = append(order, res.Name) }))
	results := engine.Run(ctx, []string{"a", "b", "c"})

	if len(results) != 3 {
		t.Fatalf("expected results for the whole batch, got %d", len(results))
	}
	if results[0].Failed() || results[2].Failed() {
		t.Errorf("a and c should succeed: %v, %v", results[0].Err, results[2].Err)
	}
	if !results[1].Failed() || !errors.Is(results[1].Err, transportErr) {
		t.Errorf("b should fail with the transport error, got %v", results[1].Err)
	}

	// b's baseline must not move on a failed upload.
	base, _ := e.store.Get("b")
	want := digestOf(map[string]string{workflow.ManifestName: "name: b", "flow.json": "b"})
	if base.Aggregate != want.Aggregate {
		t.Error("failed action must not persist a new baseline")
	}

	// Callback fired per workflow, in batch order.
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("expected ordered callbacks [a b c], got %v", order)
	}
}

func TestConflictSkip(t *testing.T) {
	e := newEnv(t)
	e.writeLocal("w", map[string]string{"flow.json": "local"})
	e.setRemote("w", map[string]string{"flow.json": "remote"})
	e.setBaseline("w", map[string]string{"flow.json": "base"})

	results := e.engine(WithStrategy(StrategySkip)).Run(context.Background(), []string{"w"})

	if results[0].Status != StatusConflict || results[0].Action != ActionSkip || results[0].Failed() {
		t.Fatalf("expected conflict/skip, got %+v", results[0])
	}
	base, _ := e.store.Get("w")
	if base.Aggregate != digestOf(map[string]string{"flow.json": "base"}).Aggregate {
		t.Error("skip must leave the baseline untouched")
	}
	if e.remote.totalUploads() != 0 {
		t.Error("skip must not touch the remote")
	}
}

func TestConflictPull(t *testing.T) {
	e := newEnv(t)
	remoteFiles := map[string]string{"flow.json": "remote"}
	e.writeLocal("w", map[string]string{"flow.json": "local"})
	e.setRemote("w", remoteFiles)
	e.setBaseline("w", map[string]string{"flow.json": "base"})

	results := e.engine(WithStrategy(StrategyPull)).Run(context.Background(), []string{"w"})

	if results[0].Action != ActionDownload || results[0].Failed() {
		t.Fatalf("expected download, got %+v", results[0])
	}
	if e.localDigest("w").Aggregate != digestOf(remoteFiles).Aggregate {
		t.Error("pull should overwrite local with remote content")
	}
	base, _ := e.store.Get("w")
	if base.Aggregate != digestOf(remoteFiles).Aggregate {
		t.Error("pull should set baseline to the remote digest")
	}
}

func TestConflictPush(t *testing.T) {
	e := newEnv(t)
	localFiles := map[string]string{"flow.json": "local"}
	e.writeLocal("w", localFiles)
	e.setRemote("w", map[string]string{"flow.json": "remote"})
	e.setBaseline("w", map[string]string{"flow.json": "base"})

	results := e.engine(WithStrategy(StrategyPush)).Run(context.Background(), []string{"w"})

	if results[0].Action != ActionUpload || results[0].Failed() {
		t.Fatalf("expected upload, got %+v", results[0])
	}
	uploaded := e.remote.workflows["w"]
	if len(uploaded) != 1 || string(uploaded[0].Data) != "local" {
		t.Errorf("push should overwrite remote with local content: %v", uploaded)
	}
	base, _ := e.store.Get("w")
	if base.Aggregate != digestOf(localFiles).Aggregate {
		t.Error("push should set baseline to the local digest")
	}
}

func TestConflictAutoIsSequentialOverwrite(t *testing.T) {
	e := newEnv(t)
	remoteFiles := map[string]string{"flow.json": "remote", "remote-only.json": "r"}
	e.writeLocal("w", map[string]string{"flow.json": "local", "local-only.json": "l"})
	e.setRemote("w", remoteFiles)
	e.setBaseline("w", map[string]string{"flow.json": "base"})

	results := e.engine(WithStrategy(StrategyAuto)).Run(context.Background(), []string{"w"})
	if results[0].Failed() {
		t.Fatalf("auto resolution failed: %v", results[0].Err)
	}

	// Pull first: the remote set replaced the local one, discarding local
	// edits (documented lossy behavior, not a merge). Push then mirrored
	// that state back, so all three views converge on the remote content.
	want := digestOf(remoteFiles).Aggregate
	if e.localDigest("w").Aggregate != want {
		t.Error("local should hold the pulled remote content")
	}
	if digest.Combine(e.remote.workflows["w"]).Aggregate != want {
		t.Error("remote should hold the pushed-back content")
	}
	base, _ := e.store.Get("w")
	if base.Aggregate != want {
		t.Error("baseline should match the converged content")
	}
	if e.remote.uploadCalls["w"] != 1 {
		t.Errorf("auto should push exactly once, got %d", e.remote.uploadCalls["w"])
	}
}

func TestPreActionVeto(t *testing.T) {
	e := newEnv(t)
	agreed := map[string]string{"flow.json": "old"}
	e.writeLocal("w", map[string]string{"flow.json": "new"})
	e.setRemote("w", agreed)
	e.setBaseline("w", agreed)

	vetoErr := errors.New("schema validation failed")
	engine := e.engine(WithHooks(Hooks{
		PreAction: func(_ context.Context, name string, _ Status) error { return vetoErr },
	}))

	results := engine.Run(context.Background(), []string{"w"})

	if !results[0].Failed() || !errors.Is(results[0].Err, vetoErr) {
		t.Fatalf("veto should surface as a failed result, got %+v", results[0])
	}
	if e.remote.totalUploads() != 0 {
		t.Error("vetoed action must not be attempted")
	}
	base, _ := e.store.Get("w")
	if base.Aggregate != digestOf(agreed).Aggregate {
		t.Error("vetoed action must not move the baseline")
	}
}

func TestPostActionRunsOnlyAfterSuccess(t *testing.T) {
	e := newEnv(t)
	agreed := map[string]string{"flow.json": "old"}

	e.writeLocal("ok", map[string]string{"flow.json": "new"})
	e.setRemote("ok", agreed)
	e.setBaseline("ok", agreed)

	e.writeLocal("broken", map[string]string{"flow.json": "new"})
	e.setRemote("broken", agreed)
	e.setBaseline("broken", agreed)
	e.remote.uploadErrFor["broken"] = errors.New("boom")

	var postCalls []string
	engine := e.engine(WithHooks(Hooks{
		PostAction: func(_ context.Context, name string, _ Status, _ Action) {
			postCalls = append(postCalls, name)
		},
	}))
	engine.Run(context.Background(), []string{"ok", "broken"})

	if len(postCalls) != 1 || postCalls[0] != "ok" {
		t.Errorf("post-action should fire only for successful actions, got %v", postCalls)
	}
}

func TestDryRunTakesNoAction(t *testing.T) {
	e := newEnv(t)
	agreed := map[string]string{"flow.json": "old"}
	e.writeLocal("w", map[string]string{"flow.json": "new"})
	e.setRemote("w", agreed)
	e.setBaseline("w", agreed)

	results := e.engine(WithDryRun(true)).Run(context.Background(), []string{"w"})

	if results[0].Status != StatusModified || results[0].Failed() {
		t.Fatalf("dry-run should still classify, got %+v", results[0])
	}
	if e.remote.totalUploads() != 0 {
		t.Error("dry-run must not upload")
	}
	base, _ := e.store.Get("w")
	if base.Aggregate != digestOf(agreed).Aggregate {
		t.Error("dry-run must not move the baseline")
	}
}

func TestRunSelfHealsConvergentViews(t *testing.T) {
	e := newEnv(t)
	converged := map[string]string{"flow.json": "same-everywhere"}
	e.writeLocal("w", converged)
	e.setRemote("w", converged)
	e.setBaseline("w", map[string]string{"flow.json": "stale"})

	results := e.engine().Run(context.Background(), []string{"w"})

	if results[0].Status != StatusSynced || results[0].Failed() {
		t.Fatalf("expected self-healed synced, got %+v", results[0])
	}
	base, _ := e.store.Get("w")
	if base.Aggregate != digestOf(converged).Aggregate {
		t.Error("baseline should adopt the convergent digest")
	}
	if e.remote.totalUploads() != 0 {
		t.Error("self-heal must not write remotely")
	}
}

func TestRunObservesFreshStateEachBatch(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	agreed := map[string]string{"flow.json": "v1"}
	e.writeLocal("w", agreed)
	e.setRemote("w", agreed)
	e.setBaseline("w", agreed)

	engine := e.engine()
	if res := engine.Run(ctx, []string{"w"}); res[0].Status != StatusSynced {
		t.Fatalf("expected synced first batch, got %+v", res[0])
	}

	// The remote moved on between batches; the second run must see it
	// rather than the first batch's cached snapshot.
	e.setRemote("w", map[string]string{"flow.json": "v2"})

	res := engine.Run(ctx, []string{"w"})
	if res[0].Status != StatusOutdated || res[0].Action != ActionDownload {
		t.Fatalf("expected outdated/download on second batch, got %+v", res[0])
	}
}

func TestWorkflowsUnion(t *testing.T) {
	e := newEnv(t)

	// Tracked locally, recorded in the baseline only, and remote only.
	e.writeLocal("alpha", map[string]string{workflow.ManifestName: "name: alpha"})
	e.setBaseline("gone", map[string]string{"flow.json": "x"})
	e.setRemote("remote-only", map[string]string{"flow.json": "{}"})

	names, err := e.engine().Workflows(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"alpha", "gone", "remote-only"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}

	e.remote.listErr = errors.New("server unavailable")
	if _, err := e.engine().Workflows(context.Background()); err == nil {
		t.Error("remote list failure should propagate")
	}
}

func TestStatusIsReadOnly(t *testing.T) {
	e := newEnv(t)
	converged := map[string]string{"flow.json": "same-everywhere"}
	stale := map[string]string{"flow.json": "stale"}
	e.writeLocal("w", converged)
	e.setRemote("w", converged)
	e.setBaseline("w", stale)

	status, err := e.engine().Status(context.Background(), "w")
	if err != nil {
		t.Fatal(err)
	}
	if status != StatusSynced {
		t.Fatalf("expected synced for convergent views, got %s", status)
	}

	// Inspection must not adopt the convergent digest; only engine runs do.
	base, _ := e.store.Get("w")
	if base.Aggregate != digestOf(stale).Aggregate {
		t.Error("Status must not rewrite the baseline")
	}
}

func TestResolveErrorDoesNotHaltBatch(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	inSync := map[string]string{"flow.json": "ok"}
	e.writeLocal("healthy", inSync)
	e.setRemote("healthy", inSync)
	e.setBaseline("healthy", inSync)

	e.writeLocal("flaky", map[string]string{"flow.json": "x"})
	e.setBaseline("flaky", map[string]string{"flow.json": "x"})
	e.remote.fetchErrFor["flaky"] = errors.New("gateway timeout")

	results := e.engine().Run(ctx, []string{"flaky", "healthy"})

	if !results[0].Failed() {
		t.Error("transport failure during resolution should fail the item")
	}
	if results[1].Failed() || results[1].Status != StatusSynced {
		t.Errorf("healthy workflow should still be processed: %+v", results[1])
	}
}
