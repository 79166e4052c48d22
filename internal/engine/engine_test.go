package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/registry-tools/apicurio-sync/internal/artifact"
	"github.com/registry-tools/apicurio-sync/internal/engine"
	"github.com/registry-tools/apicurio-sync/internal/lockfile"
	"github.com/registry-tools/apicurio-sync/internal/manifest"
	"github.com/registry-tools/apicurio-sync/internal/registry"
	"github.com/registry-tools/apicurio-sync/internal/registry/registrytest"
)

// setupProject returns an engine rooted at a temp dir, a fake registry, and
// an empty lockfile stored inside the same dir.
func setupProject(t *testing.T) (*engine.Engine, *registrytest.Fake, *lockfile.Lockfile, string) {
	t.Helper()
	dir := t.TempDir()
	fake := registrytest.New()
	eng := engine.New(fake, dir)
	lf, err := lockfile.Load(filepath.Join(dir, "apicurio-sync.lock"))
	require.NoError(t, err)
	return eng, fake, lf, dir
}

func writeLocal(t *testing.T, dir, path, content string) {
	t.Helper()
	full := filepath.Join(dir, path)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0750))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

func syncRun(t *testing.T, eng *engine.Engine, m *manifest.Manifest, lf *lockfile.Lockfile) engine.RunResult {
	t.Helper()
	plan, err := eng.Plan(context.Background(), m, lf)
	require.NoError(t, err)
	run, err := eng.Apply(context.Background(), plan, m, lf)
	require.NoError(t, err)
	return run
}

func updateRun(t *testing.T, eng *engine.Engine, m *manifest.Manifest, lf *lockfile.Lockfile) engine.RunResult {
	t.Helper()
	plan, err := eng.PlanUpdate(context.Background(), m, lf)
	require.NoError(t, err)
	run, err := eng.Apply(context.Background(), plan, m, lf)
	require.NoError(t, err)
	return run
}

func TestSync_FirstPullResolvesLatestAndPins(t *testing.T) {
	eng, fake, lf, dir := setupProject(t)
	ref := artifact.NewRef("orders", "order-event")
	fake.Seed(ref, []byte(`{"v":1}`))

	m := &manifest.Manifest{Pull: []manifest.PullEntry{
		{Group: "orders", Artifact: "order-event", Path: "schemas/order.json"},
	}}

	run := syncRun(t, eng, m, lf)
	require.False(t, run.Failed())
	require.Equal(t, engine.StatusPulled, run.Results[0].Status)

	data, err := os.ReadFile(filepath.Join(dir, "schemas/order.json"))
	require.NoError(t, err)
	require.Equal(t, `{"v":1}`, string(data))

	locked, ok := lf.Get(ref, lockfile.DirectionPull)
	require.True(t, ok, "pull should create a lock entry")
	require.Equal(t, "1", locked.Version)
	require.Equal(t, lockfile.ContentDigest(data), locked.Digest)
}

func TestSync_Idempotence(t *testing.T) {
	eng, fake, lf, _ := setupProject(t)
	ref := artifact.NewRef("orders", "order-event")
	fake.Seed(ref, []byte(`{"v":1}`))

	m := &manifest.Manifest{Pull: []manifest.PullEntry{
		{Group: "orders", Artifact: "order-event", Path: "schemas/order.json"},
	}}

	syncRun(t, eng, m, lf)
	firstEntries := lf.Entries()
	downloadsAfterFirst := fake.ContentFetches

	run := syncRun(t, eng, m, lf)
	require.False(t, run.Failed())
	require.Equal(t, engine.StatusSkipped, run.Results[0].Status,
		"second run should skip the already-pinned entry")
	require.Equal(t, downloadsAfterFirst, fake.ContentFetches,
		"second run must not download again")
	require.Equal(t, firstEntries, lf.Entries(), "lockfile must be unchanged")
}

func TestSync_PushIsUnconditional(t *testing.T) {
	eng, fake, lf, dir := setupProject(t)
	writeLocal(t, dir, "api/openapi.yaml", "openapi: 3.0.0")

	m := &manifest.Manifest{Push: []manifest.PushEntry{
		{Group: "apis", Artifact: "shop-api", Path: "api/openapi.yaml", Type: "OPENAPI"},
	}}

	run := syncRun(t, eng, m, lf)
	require.False(t, run.Failed())
	require.Equal(t, engine.StatusPushed, run.Results[0].Status)
	require.Equal(t, 1, fake.Uploads)

	// Push re-uploads every run; the registry dedupes.
	run = syncRun(t, eng, m, lf)
	require.Equal(t, engine.StatusPushed, run.Results[0].Status)
	require.Equal(t, 2, fake.Uploads)

	locked, ok := lf.Get(artifact.NewRef("apis", "shop-api"), lockfile.DirectionPush)
	require.True(t, ok)
	require.Equal(t, "1", locked.Version, "identical content keeps the same registry version")
}

func TestSync_PinStability(t *testing.T) {
	eng, fake, lf, _ := setupProject(t)
	ref := artifact.NewRef("orders", "order-event")
	fake.Seed(ref, []byte(`{"v":1}`))

	m := &manifest.Manifest{Pull: []manifest.PullEntry{
		{Group: "orders", Artifact: "order-event", Path: "schemas/order.json"},
	}}
	syncRun(t, eng, m, lf)

	// Registry moves on; the pin must not.
	fake.Seed(ref, []byte(`{"v":2}`))
	run := syncRun(t, eng, m, lf)
	require.False(t, run.Failed())
	locked, _ := lf.Get(ref, lockfile.DirectionPull)
	require.Equal(t, "1", locked.Version, "plain sync must never advance a pin")
}

func TestUpdate_AdvancesPinWithoutFileWrite(t *testing.T) {
	eng, fake, lf, dir := setupProject(t)
	ref := artifact.NewRef("orders", "order-event")
	fake.Seed(ref, []byte(`{"v":1}`))

	m := &manifest.Manifest{Pull: []manifest.PullEntry{
		{Group: "orders", Artifact: "order-event", Path: "schemas/order.json"},
	}}
	syncRun(t, eng, m, lf)
	fake.Seed(ref, []byte(`{"v":2}`))

	downloadsBefore := fake.ContentFetches
	run := updateRun(t, eng, m, lf)
	require.False(t, run.Failed())
	require.Equal(t, engine.StatusPinned, run.Results[0].Status)
	require.Equal(t, downloadsBefore, fake.ContentFetches, "update must not download content")

	locked, _ := lf.Get(ref, lockfile.DirectionPull)
	require.Equal(t, "2", locked.Version)

	// File still holds v1 until the next sync.
	data, err := os.ReadFile(filepath.Join(dir, "schemas/order.json"))
	require.NoError(t, err)
	require.Equal(t, `{"v":1}`, string(data))

	// The following sync materializes the new pin.
	run = syncRun(t, eng, m, lf)
	require.Equal(t, engine.StatusPulled, run.Results[0].Status)
	data, err = os.ReadFile(filepath.Join(dir, "schemas/order.json"))
	require.NoError(t, err)
	require.Equal(t, `{"v":2}`, string(data))
}

func TestUpdate_KeepsDigestWhenPinUnchanged(t *testing.T) {
	eng, fake, lf, _ := setupProject(t)
	ref := artifact.NewRef("orders", "order-event")
	fake.Seed(ref, []byte(`{"v":1}`))

	m := &manifest.Manifest{Pull: []manifest.PullEntry{
		{Group: "orders", Artifact: "order-event", Path: "schemas/order.json"},
	}}
	syncRun(t, eng, m, lf)
	before, _ := lf.Get(ref, lockfile.DirectionPull)

	updateRun(t, eng, m, lf)
	after, _ := lf.Get(ref, lockfile.DirectionPull)
	require.Equal(t, before, after, "re-resolving to the same version must not clear the digest")

	// And the next sync still skips.
	run := syncRun(t, eng, m, lf)
	require.Equal(t, engine.StatusSkipped, run.Results[0].Status)
}

func TestSync_LockBeatsExplicitManifestVersion(t *testing.T) {
	eng, fake, lf, _ := setupProject(t)
	ref := artifact.NewRef("orders", "order-event")
	fake.Seed(ref, []byte(`{"v":1}`))
	fake.Seed(ref, []byte(`{"v":2}`))
	fake.Seed(ref, []byte(`{"v":3}`))

	m := &manifest.Manifest{Pull: []manifest.PullEntry{
		{Group: "orders", Artifact: "order-event", Path: "schemas/order.json", Version: "1"},
	}}
	syncRun(t, eng, m, lf)
	locked, _ := lf.Get(ref, lockfile.DirectionPull)
	require.Equal(t, "1", locked.Version)

	// Changing the manifest's requested version does not move an existing pin.
	m.Pull[0].Version = "3"
	syncRun(t, eng, m, lf)
	locked, _ = lf.Get(ref, lockfile.DirectionPull)
	require.Equal(t, "1", locked.Version, "must run update to move to the requested version")

	// Update honors the explicit version.
	updateRun(t, eng, m, lf)
	locked, _ = lf.Get(ref, lockfile.DirectionPull)
	require.Equal(t, "3", locked.Version)
}

func TestSync_ExplicitVersionResolved(t *testing.T) {
	eng, fake, lf, dir := setupProject(t)
	ref := artifact.NewRef("orders", "order-event")
	fake.Seed(ref, []byte(`{"v":1}`))
	fake.Seed(ref, []byte(`{"v":2}`))

	m := &manifest.Manifest{Pull: []manifest.PullEntry{
		{Group: "orders", Artifact: "order-event", Path: "schemas/order.json", Version: "1"},
	}}
	run := syncRun(t, eng, m, lf)
	require.False(t, run.Failed())

	data, err := os.ReadFile(filepath.Join(dir, "schemas/order.json"))
	require.NoError(t, err)
	require.Equal(t, `{"v":1}`, string(data), "explicit version wins over latest when unlocked")
}

func TestPlan_DuplicateEntriesFailBeforeNetwork(t *testing.T) {
	eng, fake, lf, _ := setupProject(t)

	m := &manifest.Manifest{Push: []manifest.PushEntry{
		{Group: "apis", Artifact: "shop-api", Path: "a.yaml"},
		{Group: "apis", Artifact: "shop-api", Path: "b.yaml"},
	}}

	_, err := eng.Plan(context.Background(), m, lf)
	require.ErrorIs(t, err, manifest.ErrDuplicateArtifact)
	require.Zero(t, fake.LatestLookups+fake.MetaLookups+fake.ContentFetches+fake.Uploads,
		"duplicate detection must happen before any registry call")
}

func TestSync_PartialFailure(t *testing.T) {
	eng, fake, lf, _ := setupProject(t)
	okRef := artifact.NewRef("orders", "order-event")
	fake.Seed(okRef, []byte(`{"v":1}`))

	m := &manifest.Manifest{Pull: []manifest.PullEntry{
		{Group: "orders", Artifact: "order-event", Path: "schemas/order.json"},
		{Group: "orders", Artifact: "missing-event", Path: "schemas/missing.json"},
	}}

	plan, err := eng.Plan(context.Background(), m, lf)
	require.NoError(t, err, "per-entry resolution failures must not abort planning")
	run, err := eng.Apply(context.Background(), plan, m, lf)
	require.NoError(t, err)

	require.True(t, run.Failed())
	require.Len(t, run.Errors(), 1)
	require.ErrorIs(t, run.Errors()[0], registry.ErrNotFound)
	require.Equal(t, artifact.NewRef("orders", "missing-event"), run.Errors()[0].Ref)

	// The successful entry is locked; the failed one left no trace.
	_, ok := lf.Get(okRef, lockfile.DirectionPull)
	require.True(t, ok)
	_, ok = lf.Get(artifact.NewRef("orders", "missing-event"), lockfile.DirectionPull)
	require.False(t, ok)
}

func TestSync_PushLocalFileErrorDoesNotAbortRun(t *testing.T) {
	eng, fake, lf, dir := setupProject(t)
	writeLocal(t, dir, "api/good.yaml", "openapi: 3.0.0")

	m := &manifest.Manifest{Push: []manifest.PushEntry{
		{Group: "apis", Artifact: "good", Path: "api/good.yaml"},
		{Group: "apis", Artifact: "gone", Path: "api/gone.yaml"},
	}}

	run := syncRun(t, eng, m, lf)
	require.True(t, run.Failed())
	require.Len(t, run.Errors(), 1)
	require.ErrorIs(t, run.Errors()[0], engine.ErrLocalFile)
	require.Equal(t, 1, fake.Uploads, "the good entry must still be pushed")

	_, ok := lf.Get(artifact.NewRef("apis", "good"), lockfile.DirectionPush)
	require.True(t, ok)
	_, ok = lf.Get(artifact.NewRef("apis", "gone"), lockfile.DirectionPush)
	require.False(t, ok)
}

func TestSync_RegistryUnavailableIsPerEntry(t *testing.T) {
	eng, fake, lf, _ := setupProject(t)
	okRef := artifact.NewRef("orders", "order-event")
	downRef := artifact.NewRef("orders", "flaky-event")
	fake.Seed(okRef, []byte(`{"v":1}`))
	fake.Seed(downRef, []byte(`{"v":1}`))
	fake.FailWith[downRef] = registry.ErrUnavailable

	m := &manifest.Manifest{Pull: []manifest.PullEntry{
		{Group: "orders", Artifact: "order-event", Path: "a.json"},
		{Group: "orders", Artifact: "flaky-event", Path: "b.json"},
	}}

	run := syncRun(t, eng, m, lf)
	require.True(t, run.Failed())
	require.ErrorIs(t, run.Errors()[0], registry.ErrUnavailable)

	// Idempotent retry: once the registry recovers, only the failed entry
	// does new work.
	delete(fake.FailWith, downRef)
	run = syncRun(t, eng, m, lf)
	require.False(t, run.Failed())
	require.Equal(t, engine.StatusSkipped, run.Results[0].Status)
	require.Equal(t, engine.StatusPulled, run.Results[1].Status)
}

func TestApply_PrunesEntriesRemovedFromManifest(t *testing.T) {
	eng, fake, lf, _ := setupProject(t)
	keep := artifact.NewRef("orders", "keep")
	drop := artifact.NewRef("orders", "drop")
	fake.Seed(keep, []byte("a"))
	fake.Seed(drop, []byte("b"))

	m := &manifest.Manifest{Pull: []manifest.PullEntry{
		{Group: "orders", Artifact: "keep", Path: "keep.json"},
		{Group: "orders", Artifact: "drop", Path: "drop.json"},
	}}
	syncRun(t, eng, m, lf)
	require.Equal(t, 2, lf.Len())

	m.Pull = m.Pull[:1]
	syncRun(t, eng, m, lf)
	require.Equal(t, 1, lf.Len())
	_, ok := lf.Get(drop, lockfile.DirectionPull)
	require.False(t, ok, "lock entries leave with their manifest entries")
}

func TestSync_RedownloadsWhenLocalFileDrifted(t *testing.T) {
	eng, fake, lf, dir := setupProject(t)
	ref := artifact.NewRef("orders", "order-event")
	fake.Seed(ref, []byte(`{"v":1}`))

	m := &manifest.Manifest{Pull: []manifest.PullEntry{
		{Group: "orders", Artifact: "order-event", Path: "schemas/order.json"},
	}}
	syncRun(t, eng, m, lf)

	// Local edit: the next sync restores the locked version.
	writeLocal(t, dir, "schemas/order.json", "scribbles")
	run := syncRun(t, eng, m, lf)
	require.Equal(t, engine.StatusPulled, run.Results[0].Status)
	data, err := os.ReadFile(filepath.Join(dir, "schemas/order.json"))
	require.NoError(t, err)
	require.Equal(t, `{"v":1}`, string(data))
}

func TestUpdate_NotFoundIsPerEntry(t *testing.T) {
	eng, fake, lf, _ := setupProject(t)
	ref := artifact.NewRef("orders", "order-event")
	fake.Seed(ref, []byte(`{"v":1}`))

	m := &manifest.Manifest{Pull: []manifest.PullEntry{
		{Group: "orders", Artifact: "order-event", Path: "a.json"},
		{Group: "orders", Artifact: "no-such", Path: "b.json"},
	}}

	run := updateRun(t, eng, m, lf)
	require.True(t, run.Failed())
	require.Equal(t, engine.StatusPinned, run.Results[0].Status)
	require.Equal(t, engine.StatusFailed, run.Results[1].Status)

	var entryErr *engine.EntryError
	require.True(t, errors.As(run.Errors()[0], &entryErr))
	require.ErrorIs(t, entryErr, registry.ErrNotFound)
}
