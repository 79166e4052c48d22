package engine

import (
	"github.com/registry-tools/apicurio-sync/internal/artifact"
	"github.com/registry-tools/apicurio-sync/internal/lockfile"
	"github.com/registry-tools/apicurio-sync/internal/manifest"
)

// EntryState describes one manifest entry for the status command: whether it
// is locked, and whether the local content drifted from the lock fingerprint.
// Computed entirely offline.
type EntryState struct {
	Ref       artifact.Ref
	Direction lockfile.Direction
	Path      string
	Version   string
	Locked    bool
	Drifted   bool
}

// Status compares every manifest entry against the lockfile and local files.
func (e *Engine) Status(m *manifest.Manifest, lf *lockfile.Lockfile) []EntryState {
	states := make([]EntryState, 0, len(m.Pull)+len(m.Push))

	for _, entry := range m.Pull {
		state := EntryState{Ref: entry.Ref(), Direction: lockfile.DirectionPull, Path: entry.Path}
		if locked, ok := lf.Get(state.Ref, lockfile.DirectionPull); ok {
			state.Locked = true
			state.Version = locked.Version
			state.Drifted = locked.Digest == "" || e.localDigest(entry.Path) != locked.Digest
		}
		states = append(states, state)
	}

	for _, entry := range m.Push {
		state := EntryState{Ref: entry.Ref(), Direction: lockfile.DirectionPush, Path: entry.Path}
		if locked, ok := lf.Get(state.Ref, lockfile.DirectionPush); ok {
			state.Locked = true
			state.Version = locked.Version
			state.Drifted = locked.Digest == "" || e.localDigest(entry.Path) != locked.Digest
		}
		states = append(states, state)
	}

	return states
}
