package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/registry-tools/apicurio-sync/internal/artifact"
	"github.com/registry-tools/apicurio-sync/internal/lockfile"
	"github.com/registry-tools/apicurio-sync/internal/log"
	"github.com/registry-tools/apicurio-sync/internal/manifest"
)

// ErrLocalFile classifies read/write failures on paths the manifest declares.
// Per-entry, never fatal to the run.
var ErrLocalFile = errors.New("local file error")

// EntryError is a per-entry failure carrying the artifact it belongs to.
type EntryError struct {
	Ref       artifact.Ref
	Direction lockfile.Direction
	Cause     error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Ref, e.Direction, e.Cause)
}

func (e *EntryError) Unwrap() error {
	return e.Cause
}

// Status is the outcome of applying one planned entry.
type Status int

const (
	StatusPushed Status = iota
	StatusPulled
	StatusSkipped
	StatusPinned
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPushed:
		return "pushed"
	case StatusPulled:
		return "pulled"
	case StatusSkipped:
		return "up-to-date"
	case StatusPinned:
		return "pinned"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result reports what happened to one entry.
type Result struct {
	Ref       artifact.Ref
	Direction lockfile.Direction
	Status    Status
	Version   string
	Err       *EntryError
}

// RunResult aggregates per-entry outcomes for one run.
type RunResult struct {
	Results []Result
}

// Failed reports whether any entry failed. Drives the process exit status.
func (r RunResult) Failed() bool {
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Errors returns every per-entry failure.
func (r RunResult) Errors() []*EntryError {
	var errs []*EntryError
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errs
}

// Apply executes a plan. Entry failures are collected, not propagated: one
// bad entry never aborts the rest. The lockfile is updated only by entries
// that fully succeeded, pruned of entries the manifest no longer declares,
// and saved atomically at the end. The returned error covers only fatal
// conditions (lockfile save).
func (e *Engine) Apply(ctx context.Context, plan *SyncPlan, m *manifest.Manifest, lf *lockfile.Lockfile) (RunResult, error) {
	ctx, span := e.tracer.Start(ctx, "sync.apply")
	defer span.End()

	var run RunResult
	for _, entry := range plan.Entries {
		run.Results = append(run.Results, e.applyEntry(ctx, entry, lf))
	}

	e.prune(m, lf)

	if lf.Dirty() {
		if err := lf.Save(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return run, fmt.Errorf("saving lockfile: %w", err)
		}
	}

	if run.Failed() {
		span.SetStatus(codes.Error, "one or more entries failed")
	}
	return run, nil
}

func (e *Engine) applyEntry(ctx context.Context, entry PlannedEntry, lf *lockfile.Lockfile) Result {
	ctx, span := e.tracer.Start(ctx, "entry."+entry.Action.String())
	defer span.End()
	span.SetAttributes(
		attribute.String("artifact.group", entry.Ref.Group),
		attribute.String("artifact.id", entry.Ref.ID),
	)

	result := Result{
		Ref:       entry.Ref,
		Direction: entry.Direction,
		Version:   entry.Version,
	}
	fail := func(cause error) Result {
		result.Status = StatusFailed
		result.Err = &EntryError{Ref: entry.Ref, Direction: entry.Direction, Cause: cause}
		span.SetStatus(codes.Error, cause.Error())
		log.ErrorErr(log.CatEngine, "entry failed", cause, "ref", entry.Ref, "direction", entry.Direction)
		return result
	}

	if entry.ResolveErr != nil {
		return fail(entry.ResolveErr)
	}

	switch entry.Action {
	case ActionSkip:
		result.Status = StatusSkipped
		return result

	case ActionPinOnly:
		e.pin(entry, lf)
		result.Status = StatusPinned
		return result

	case ActionPull:
		content, err := e.registry.GetVersionContent(ctx, entry.Ref, entry.Version)
		if err != nil {
			return fail(fmt.Errorf("downloading %s@%s: %w", entry.Ref, entry.Version, err))
		}
		dest := filepath.Join(e.workdir, entry.Path)
		if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
			return fail(fmt.Errorf("%w: creating %s: %v", ErrLocalFile, filepath.Dir(dest), err))
		}
		if err := os.WriteFile(dest, content, 0644); err != nil { //nolint:gosec // G306: artifacts are project source files
			return fail(fmt.Errorf("%w: writing %s: %v", ErrLocalFile, entry.Path, err))
		}
		lf.Upsert(lockfile.Entry{
			Group:     entry.Ref.Group,
			Artifact:  entry.Ref.ID,
			Direction: lockfile.DirectionPull,
			Version:   entry.Version,
			Digest:    lockfile.ContentDigest(content),
		})
		result.Status = StatusPulled
		log.Info(log.CatEngine, "pulled artifact", "ref", entry.Ref, "version", entry.Version, "path", entry.Path)
		return result

	case ActionPush:
		source := filepath.Join(e.workdir, entry.Path)
		content, err := os.ReadFile(source) //nolint:gosec // G304: path is declared in the manifest
		if err != nil {
			return fail(fmt.Errorf("%w: reading %s: %v", ErrLocalFile, entry.Path, err))
		}
		created, err := e.registry.UploadArtifact(ctx, entry.Ref, content, entry.Metadata)
		if err != nil {
			return fail(fmt.Errorf("uploading %s: %w", entry.Ref, err))
		}
		lf.Upsert(lockfile.Entry{
			Group:     entry.Ref.Group,
			Artifact:  entry.Ref.ID,
			Direction: lockfile.DirectionPush,
			Version:   created.Version,
			Digest:    lockfile.ContentDigest(content),
		})
		result.Version = created.Version
		result.Status = StatusPushed
		log.Info(log.CatEngine, "pushed artifact", "ref", entry.Ref, "version", created.Version, "path", entry.Path)
		return result

	default:
		return fail(fmt.Errorf("unknown action %d", entry.Action))
	}
}

// pin updates the lock entry's version without touching file content. When
// the pin advances, the recorded digest is cleared so the next sync sees the
// local file as stale and downloads the new version.
func (e *Engine) pin(entry PlannedEntry, lf *lockfile.Lockfile) {
	locked, ok := lf.Get(entry.Ref, lockfile.DirectionPull)
	if ok && locked.Version == entry.Version {
		return
	}
	lf.Upsert(lockfile.Entry{
		Group:     entry.Ref.Group,
		Artifact:  entry.Ref.ID,
		Direction: lockfile.DirectionPull,
		Version:   entry.Version,
	})
	log.Info(log.CatEngine, "pinned version", "ref", entry.Ref, "version", entry.Version)
}

// prune drops lock entries whose artifact left the manifest.
func (e *Engine) prune(m *manifest.Manifest, lf *lockfile.Lockfile) {
	type key struct {
		ref artifact.Ref
		dir lockfile.Direction
	}
	declared := make(map[key]struct{}, len(m.Push)+len(m.Pull))
	for _, entry := range m.Push {
		declared[key{entry.Ref(), lockfile.DirectionPush}] = struct{}{}
	}
	for _, entry := range m.Pull {
		declared[key{entry.Ref(), lockfile.DirectionPull}] = struct{}{}
	}
	lf.Retain(func(ref artifact.Ref, dir lockfile.Direction) bool {
		_, ok := declared[key{ref, dir}]
		return ok
	})
}
