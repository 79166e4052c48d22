// Package lockfile persists the resolved state of every synced artifact: the
// version last pinned and the sha256 of the content last seen. It is the only
// durable memory of "what is on disk right now"; the engine owns it
// exclusively.
package lockfile

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/registry-tools/apicurio-sync/internal/artifact"
	"github.com/registry-tools/apicurio-sync/internal/log"
)

// ErrCorrupt means the lockfile exists but cannot be parsed. This is fatal:
// without the pins the engine cannot reason about what is already synced.
// Inspect the file, or delete it to re-resolve everything from scratch.
var ErrCorrupt = errors.New("lockfile is corrupt")

// Direction marks which sync direction a lock entry belongs to.
type Direction string

const (
	DirectionPush Direction = "push"
	DirectionPull Direction = "pull"
)

// Entry records the resolved state for one artifact in one direction.
// Exactly one entry exists per (ref, direction).
type Entry struct {
	Group     string    `yaml:"group"`
	Artifact  string    `yaml:"artifact"`
	Direction Direction `yaml:"direction"`
	Version   string    `yaml:"version"`
	Digest    string    `yaml:"digest,omitempty"`
}

// Ref returns the entry's registry identity.
func (e Entry) Ref() artifact.Ref {
	return artifact.NewRef(e.Group, e.Artifact)
}

type key struct {
	ref       artifact.Ref
	direction Direction
}

// Lockfile is the in-memory lock state, loaded once per run and saved
// atomically when any entry changed.
type Lockfile struct {
	path    string
	entries map[key]Entry
	dirty   bool
}

// fileFormat is the serialized shape: a flat, sorted list of entries.
type fileFormat struct {
	Artifacts []Entry `yaml:"artifacts"`
}

// PathFor derives the lockfile path from the manifest path by swapping the
// extension for .lock, keeping the two files side by side.
func PathFor(manifestPath string) string {
	ext := filepath.Ext(manifestPath)
	return strings.TrimSuffix(manifestPath, ext) + ".lock"
}

// Load reads the lockfile at path. A missing file is not an error: it loads
// as an empty lockfile (first run). An unparseable file is ErrCorrupt.
func Load(path string) (*Lockfile, error) {
	l := &Lockfile{path: path, entries: make(map[key]Entry)}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path is derived from the manifest flag
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug(log.CatLockfile, "no lockfile found, starting empty", "path", path)
			return l, nil
		}
		return nil, fmt.Errorf("reading lockfile: %w", err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v (inspect the file, or delete it to re-resolve all pins)", ErrCorrupt, path, err)
	}
	for _, e := range f.Artifacts {
		if e.Artifact == "" || (e.Direction != DirectionPush && e.Direction != DirectionPull) {
			return nil, fmt.Errorf("%w: %s: entry %s/%s has no valid direction", ErrCorrupt, path, e.Group, e.Artifact)
		}
		l.entries[key{e.Ref(), e.Direction}] = e
	}

	log.Debug(log.CatLockfile, "lockfile loaded", "path", path, "entries", len(l.entries))
	return l, nil
}

// Path returns the on-disk location.
func (l *Lockfile) Path() string {
	return l.path
}

// Get looks up the entry for a ref and direction.
func (l *Lockfile) Get(ref artifact.Ref, dir Direction) (Entry, bool) {
	e, ok := l.entries[key{ref, dir}]
	return e, ok
}

// Upsert records a successfully synced entry.
func (l *Lockfile) Upsert(e Entry) {
	k := key{e.Ref(), e.Direction}
	if existing, ok := l.entries[k]; ok && existing == e {
		return
	}
	l.entries[k] = e
	l.dirty = true
}

// Retain drops every entry whose (ref, direction) is not in keep. Entries
// leave the lockfile when they leave the manifest.
func (l *Lockfile) Retain(keep func(ref artifact.Ref, dir Direction) bool) {
	for k := range l.entries {
		if !keep(k.ref, k.direction) {
			delete(l.entries, k)
			l.dirty = true
		}
	}
}

// Entries returns all entries sorted by (group, artifact, direction).
func (l *Lockfile) Entries() []Entry {
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ref() != out[j].Ref() {
			return out[i].Ref().Less(out[j].Ref())
		}
		return out[i].Direction < out[j].Direction
	})
	return out
}

// Len reports the number of entries.
func (l *Lockfile) Len() int {
	return len(l.entries)
}

// Dirty reports whether the state changed since load.
func (l *Lockfile) Dirty() bool {
	return l.dirty
}

// Save writes the lockfile atomically: encode to a temp file in the same
// directory, then rename over the target. A crash mid-write never leaves a
// truncated lockfile behind. Entries are sorted so identical state always
// serializes identically.
func (l *Lockfile) Save() error {
	f := fileFormat{Artifacts: l.Entries()}

	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, ".apicurio-sync-lock-*")
	if err != nil {
		return fmt.Errorf("creating temp lockfile: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	enc := yaml.NewEncoder(tmp)
	enc.SetIndent(2)
	if err := enc.Encode(&f); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encoding lockfile: %w", err)
	}
	if err := enc.Close(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encoding lockfile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing lockfile: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		return fmt.Errorf("replacing lockfile: %w", err)
	}

	l.dirty = false
	log.Debug(log.CatLockfile, "lockfile saved", "path", l.path, "entries", len(f.Artifacts))
	return nil
}

// ContentDigest fingerprints artifact content the way lock entries record it.
func ContentDigest(content []byte) string {
	sum := sha256.Sum256(content)
	return "sha256:" + hex.EncodeToString(sum[:])
}
