// Package registry defines the capability surface the sync engine consumes
// to talk to an artifact registry, plus the Apicurio Registry v2 HTTP
// implementation of it.
package registry

import (
	"context"
	"errors"

	"github.com/registry-tools/apicurio-sync/internal/artifact"
)

// Errors returned by registry clients. Callers match with errors.Is; both are
// per-entry conditions, never fatal to a whole run.
var (
	// ErrNotFound means the artifact or version does not exist in the registry.
	ErrNotFound = errors.New("artifact not found in registry")
	// ErrUnavailable means the registry could not be reached or answered with
	// a server error.
	ErrUnavailable = errors.New("registry unavailable")
)

// VersionMeta is the registry's description of one artifact version.
type VersionMeta struct {
	Ref       artifact.Ref
	Version   string
	GlobalID  int64
	ContentID int64
	Type      artifact.Type
}

// SystemInfo describes the remote registry, as reported by its info endpoint.
type SystemInfo struct {
	Name        string
	Description string
	Version     string
	BuiltOn     string
}

// Client is the capability surface the engine depends on. Implementations
// must translate transport failures to ErrUnavailable and missing artifacts
// to ErrNotFound so the engine can classify per-entry outcomes.
type Client interface {
	// GetLatestVersion resolves the newest version of an artifact.
	GetLatestVersion(ctx context.Context, ref artifact.Ref) (VersionMeta, error)
	// GetVersionMeta resolves metadata for one specific version.
	GetVersionMeta(ctx context.Context, ref artifact.Ref, version string) (VersionMeta, error)
	// GetVersionContent downloads the content of one version.
	GetVersionContent(ctx context.Context, ref artifact.Ref, version string) ([]byte, error)
	// UploadArtifact registers content as a new version (or re-registers
	// existing content; the registry deduplicates). Returns the version the
	// registry assigned.
	UploadArtifact(ctx context.Context, ref artifact.Ref, content []byte, meta artifact.PushMetadata) (VersionMeta, error)
	// SystemInfo reports registry build information.
	SystemInfo(ctx context.Context) (SystemInfo, error)
}
