// Package engine is the reconciliation core: it computes a SyncPlan from the
// manifest, the lockfile, and registry metadata, and applies it. Planning is
// separated from execution so dry runs and tests never need side effects.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/registry-tools/apicurio-sync/internal/artifact"
	"github.com/registry-tools/apicurio-sync/internal/lockfile"
	"github.com/registry-tools/apicurio-sync/internal/log"
	"github.com/registry-tools/apicurio-sync/internal/manifest"
	"github.com/registry-tools/apicurio-sync/internal/registry"
)

// Action is what the engine decided to do for one manifest entry.
type Action int

const (
	// ActionPush uploads local content. Push is unconditional on every run;
	// the registry deduplicates identical content server-side.
	ActionPush Action = iota
	// ActionPull downloads the resolved version to the local path.
	ActionPull
	// ActionSkip means the entry is locked and the local content already
	// matches the lock fingerprint; nothing to download.
	ActionSkip
	// ActionPinOnly records a newly resolved version in the lockfile without
	// touching file content. Produced only by PlanUpdate.
	ActionPinOnly
)

func (a Action) String() string {
	switch a {
	case ActionPush:
		return "push"
	case ActionPull:
		return "pull"
	case ActionSkip:
		return "skip"
	case ActionPinOnly:
		return "pin"
	default:
		return "unknown"
	}
}

// PlannedEntry is the decision for a single artifact.
type PlannedEntry struct {
	Ref       artifact.Ref
	Direction lockfile.Direction
	Action    Action
	// Version is the resolved version for pull and pin actions.
	Version string
	// Path is the local file path, relative to the working directory.
	Path string
	// Metadata carries the optional upload fields for push actions.
	Metadata artifact.PushMetadata
	// ResolveErr records a per-entry planning failure (registry lookup).
	// Apply reports it as a failed result without performing side effects.
	ResolveErr error
}

// SyncPlan is the ordered set of decisions for one run. Pulls come before
// pushes, matching the order entries are applied.
type SyncPlan struct {
	Entries []PlannedEntry
}

// Engine reconciles one manifest against one lockfile through one registry
// client. The registry target is fixed at construction; the engine has no
// notion of a "current" context.
type Engine struct {
	registry registry.Client
	workdir  string
	tracer   trace.Tracer
}

// New builds an engine rooted at workdir.
func New(client registry.Client, workdir string) *Engine {
	return &Engine{
		registry: client,
		workdir:  workdir,
		tracer:   otel.Tracer("apicurio-sync"),
	}
}

// Plan computes the sync decisions. The only I/O is registry metadata lookups
// for pull entries that are not yet locked, plus local digest reads to detect
// already-up-to-date pulls. Fails fast on manifest duplicates before any
// lookup.
func (e *Engine) Plan(ctx context.Context, m *manifest.Manifest, lf *lockfile.Lockfile) (*SyncPlan, error) {
	ctx, span := e.tracer.Start(ctx, "sync.plan")
	defer span.End()

	if err := m.Validate(); err != nil {
		return nil, err
	}

	plan := &SyncPlan{}
	for _, entry := range m.Pull {
		plan.Entries = append(plan.Entries, e.planPull(ctx, entry, lf))
	}
	for _, entry := range m.Push {
		planned := PlannedEntry{
			Ref:       entry.Ref(),
			Direction: lockfile.DirectionPush,
			Action:    ActionPush,
			Path:      entry.Path,
		}
		// Validate guarantees the metadata parses.
		planned.Metadata, _ = entry.Metadata()
		plan.Entries = append(plan.Entries, planned)
	}

	span.SetAttributes(attribute.Int("plan.entries", len(plan.Entries)))
	return plan, nil
}

// planPull resolves the version for one pull entry. Precedence: existing lock
// entry, then explicit manifest version, then registry latest. Once locked, a
// plain sync never advances the pin, no matter what the manifest or the
// registry say.
func (e *Engine) planPull(ctx context.Context, entry manifest.PullEntry, lf *lockfile.Lockfile) PlannedEntry {
	planned := PlannedEntry{
		Ref:       entry.Ref(),
		Direction: lockfile.DirectionPull,
		Action:    ActionPull,
		Path:      entry.Path,
	}

	if locked, ok := lf.Get(planned.Ref, lockfile.DirectionPull); ok {
		planned.Version = locked.Version
		if locked.Digest != "" && e.localDigest(entry.Path) == locked.Digest {
			planned.Action = ActionSkip
		}
		return planned
	}

	meta, err := e.resolve(ctx, entry)
	if err != nil {
		planned.ResolveErr = err
		return planned
	}
	planned.Version = meta.Version
	return planned
}

// PlanUpdate re-resolves every pull pin against the registry, ignoring the
// lockfile. This is the one operation allowed to advance a pin. Push entries
// are not part of update. The produced actions are metadata-only; Apply never
// writes files for them.
func (e *Engine) PlanUpdate(ctx context.Context, m *manifest.Manifest, lf *lockfile.Lockfile) (*SyncPlan, error) {
	ctx, span := e.tracer.Start(ctx, "update.plan")
	defer span.End()

	if err := m.Validate(); err != nil {
		return nil, err
	}

	plan := &SyncPlan{}
	for _, entry := range m.Pull {
		planned := PlannedEntry{
			Ref:       entry.Ref(),
			Direction: lockfile.DirectionPull,
			Action:    ActionPinOnly,
			Path:      entry.Path,
		}
		meta, err := e.resolve(ctx, entry)
		if err != nil {
			planned.ResolveErr = err
		} else {
			planned.Version = meta.Version
		}
		plan.Entries = append(plan.Entries, planned)
	}

	span.SetAttributes(attribute.Int("plan.entries", len(plan.Entries)))
	return plan, nil
}

// resolve applies rules 2 and 3: explicit manifest version if given,
// otherwise the registry's latest.
func (e *Engine) resolve(ctx context.Context, entry manifest.PullEntry) (registry.VersionMeta, error) {
	if entry.Version != "" {
		meta, err := e.registry.GetVersionMeta(ctx, entry.Ref(), entry.Version)
		if err != nil {
			return registry.VersionMeta{}, fmt.Errorf("resolving %s@%s: %w", entry.Ref(), entry.Version, err)
		}
		return meta, nil
	}
	meta, err := e.registry.GetLatestVersion(ctx, entry.Ref())
	if err != nil {
		return registry.VersionMeta{}, fmt.Errorf("resolving latest %s: %w", entry.Ref(), err)
	}
	log.Debug(log.CatEngine, "resolved latest version", "ref", entry.Ref(), "version", meta.Version)
	return meta, nil
}

// localDigest fingerprints the file at the entry's path, or returns "" when
// it cannot be read. Used only to detect up-to-date pulls; errors here simply
// mean "pull again".
func (e *Engine) localDigest(path string) string {
	content, err := os.ReadFile(filepath.Join(e.workdir, path)) //nolint:gosec // G304: path is declared in the manifest
	if err != nil {
		return ""
	}
	return lockfile.ContentDigest(content)
}
