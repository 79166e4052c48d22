// Package registrytest provides an in-memory registry client for tests.
// It mimics the v2 API's RETURN_OR_UPDATE dedupe on upload and counts calls
// so tests can assert which network operations a run performed.
package registrytest

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/registry-tools/apicurio-sync/internal/artifact"
	"github.com/registry-tools/apicurio-sync/internal/registry"
)

type storedVersion struct {
	version string
	content []byte
	meta    artifact.PushMetadata
}

// Fake is an in-memory registry.Client.
type Fake struct {
	mu        sync.Mutex
	artifacts map[artifact.Ref][]storedVersion
	nextID    int64

	// FailWith makes every call for the given ref return the given error.
	FailWith map[artifact.Ref]error

	// Call counters.
	LatestLookups  int
	MetaLookups    int
	ContentFetches int
	Uploads        int
}

// New creates an empty fake registry.
func New() *Fake {
	return &Fake{
		artifacts: make(map[artifact.Ref][]storedVersion),
		FailWith:  make(map[artifact.Ref]error),
	}
}

// Seed registers content as the next version of ref and returns the version.
func (f *Fake) Seed(ref artifact.Ref, content []byte) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.store(ref, content, artifact.PushMetadata{}).version
}

func (f *Fake) store(ref artifact.Ref, content []byte, meta artifact.PushMetadata) storedVersion {
	versions := f.artifacts[ref]
	for _, v := range versions {
		if bytes.Equal(v.content, content) {
			return v
		}
	}
	v := storedVersion{
		version: strconv.Itoa(len(versions) + 1),
		content: append([]byte(nil), content...),
		meta:    meta,
	}
	f.artifacts[ref] = append(versions, v)
	return v
}

func (f *Fake) injected(ref artifact.Ref) error {
	if err, ok := f.FailWith[ref]; ok {
		return err
	}
	return nil
}

func (f *Fake) GetLatestVersion(ctx context.Context, ref artifact.Ref) (registry.VersionMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LatestLookups++
	if err := f.injected(ref); err != nil {
		return registry.VersionMeta{}, err
	}
	versions := f.artifacts[ref]
	if len(versions) == 0 {
		return registry.VersionMeta{}, fmt.Errorf("%w: %s", registry.ErrNotFound, ref)
	}
	latest := versions[len(versions)-1]
	return f.meta(ref, latest), nil
}

func (f *Fake) GetVersionMeta(ctx context.Context, ref artifact.Ref, version string) (registry.VersionMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.MetaLookups++
	if err := f.injected(ref); err != nil {
		return registry.VersionMeta{}, err
	}
	for _, v := range f.artifacts[ref] {
		if v.version == version {
			return f.meta(ref, v), nil
		}
	}
	return registry.VersionMeta{}, fmt.Errorf("%w: %s@%s", registry.ErrNotFound, ref, version)
}

func (f *Fake) GetVersionContent(ctx context.Context, ref artifact.Ref, version string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ContentFetches++
	if err := f.injected(ref); err != nil {
		return nil, err
	}
	for _, v := range f.artifacts[ref] {
		if v.version == version {
			return append([]byte(nil), v.content...), nil
		}
	}
	return nil, fmt.Errorf("%w: %s@%s", registry.ErrNotFound, ref, version)
}

func (f *Fake) UploadArtifact(ctx context.Context, ref artifact.Ref, content []byte, meta artifact.PushMetadata) (registry.VersionMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Uploads++
	if err := f.injected(ref); err != nil {
		return registry.VersionMeta{}, err
	}
	stored := f.store(ref, content, meta)
	return f.meta(ref, stored), nil
}

func (f *Fake) SystemInfo(ctx context.Context) (registry.SystemInfo, error) {
	return registry.SystemInfo{
		Name:        "fake-registry",
		Description: "in-memory registry for tests",
		Version:     "0.0.0",
	}, nil
}

// MetadataFor returns the push metadata last stored for ref at version.
func (f *Fake) MetadataFor(ref artifact.Ref, version string) (artifact.PushMetadata, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.artifacts[ref] {
		if v.version == version {
			return v.meta, true
		}
	}
	return artifact.PushMetadata{}, false
}

func (f *Fake) meta(ref artifact.Ref, v storedVersion) registry.VersionMeta {
	f.nextID++
	return registry.VersionMeta{
		Ref:      ref,
		Version:  v.version,
		GlobalID: f.nextID,
		Type:     v.meta.Type,
	}
}
