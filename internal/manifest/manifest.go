// Package manifest models the declarative apicurio-sync.yaml file: the lists
// of artifacts to push to and pull from the registry.
package manifest

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/registry-tools/apicurio-sync/internal/artifact"
	"github.com/registry-tools/apicurio-sync/internal/log"
)

// DefaultFilename is the manifest name looked up in the working directory.
const DefaultFilename = "apicurio-sync.yaml"

// Configuration errors. All of them abort a run before any network call.
var (
	// ErrDuplicateArtifact means two entries in the same direction share a
	// (group, artifact) pair.
	ErrDuplicateArtifact = errors.New("duplicate artifact in manifest")
	// ErrInvalidEntry means an entry is missing required fields.
	ErrInvalidEntry = errors.New("invalid manifest entry")
	// ErrManifestExists is returned by WriteEmpty when the file already exists.
	ErrManifestExists = errors.New("manifest file already exists")
)

// PushEntry declares "this local file should exist as this artifact in the
// registry". Read fresh from the manifest on every run, never persisted.
type PushEntry struct {
	Group       string            `yaml:"group"`
	Artifact    string            `yaml:"artifact"`
	Path        string            `yaml:"path"`
	Type        string            `yaml:"type,omitempty"`
	Name        string            `yaml:"name,omitempty"`
	Description string            `yaml:"description,omitempty"`
	Labels      []string          `yaml:"labels,omitempty"`
	Properties  map[string]string `yaml:"properties,omitempty"`
}

// Ref returns the entry's registry identity.
func (e PushEntry) Ref() artifact.Ref {
	return artifact.NewRef(e.Group, e.Artifact)
}

// Metadata returns the optional descriptive fields to send on upload.
func (e PushEntry) Metadata() (artifact.PushMetadata, error) {
	typ, err := artifact.ParseType(e.Type)
	if err != nil {
		return artifact.PushMetadata{}, fmt.Errorf("%w: %s: %v", ErrInvalidEntry, e.Ref(), err)
	}
	return artifact.PushMetadata{
		Name:        e.Name,
		Description: e.Description,
		Type:        typ,
		Labels:      e.Labels,
		Properties:  e.Properties,
	}, nil
}

// PullEntry declares "this artifact should exist as this local file". An
// empty Version means "latest at first sync".
type PullEntry struct {
	Group    string `yaml:"group"`
	Artifact string `yaml:"artifact"`
	Path     string `yaml:"path"`
	Version  string `yaml:"version,omitempty"`
}

// Ref returns the entry's registry identity.
func (e PullEntry) Ref() artifact.Ref {
	return artifact.NewRef(e.Group, e.Artifact)
}

// Manifest is the parsed project configuration.
type Manifest struct {
	Push []PushEntry `yaml:"push"`
	Pull []PullEntry `yaml:"pull"`
}

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the CLI flag
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	log.Debug(log.CatConfig, "manifest loaded", "path", path, "push", len(m.Push), "pull", len(m.Pull))
	return &m, nil
}

// Validate enforces required fields and the per-direction uniqueness of
// (group, artifact). It runs before any I/O so a bad manifest never triggers
// network calls.
func (m *Manifest) Validate() error {
	seenPush := make(map[artifact.Ref]struct{}, len(m.Push))
	for i, e := range m.Push {
		if e.Artifact == "" || e.Path == "" {
			return fmt.Errorf("%w: push[%d] requires artifact and path", ErrInvalidEntry, i)
		}
		if _, err := e.Metadata(); err != nil {
			return err
		}
		ref := e.Ref()
		if _, dup := seenPush[ref]; dup {
			return fmt.Errorf("%w: %s appears twice in push", ErrDuplicateArtifact, ref)
		}
		seenPush[ref] = struct{}{}
	}

	seenPull := make(map[artifact.Ref]struct{}, len(m.Pull))
	for i, e := range m.Pull {
		if e.Artifact == "" || e.Path == "" {
			return fmt.Errorf("%w: pull[%d] requires artifact and path", ErrInvalidEntry, i)
		}
		ref := e.Ref()
		if _, dup := seenPull[ref]; dup {
			return fmt.Errorf("%w: %s appears twice in pull", ErrDuplicateArtifact, ref)
		}
		seenPull[ref] = struct{}{}
	}
	return nil
}

// WriteEmpty creates a skeleton manifest at path. Refuses to overwrite an
// existing file.
func WriteEmpty(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644) //nolint:gosec // G304: path comes from the CLI flag
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrManifestExists, path)
		}
		return fmt.Errorf("creating manifest: %w", err)
	}
	defer func() { _ = f.Close() }()

	empty := Manifest{Push: []PushEntry{}, Pull: []PullEntry{}}
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(&empty); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return enc.Close()
}
