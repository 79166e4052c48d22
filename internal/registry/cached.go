package registry

import (
	"context"
	"time"

	"github.com/registry-tools/apicurio-sync/internal/artifact"
	"github.com/registry-tools/apicurio-sync/internal/cachemanager"
)

// MetadataTTL bounds how long resolved version metadata is reused. Watch mode
// re-plans on every file change, so lookups repeat often; content and uploads
// are never cached.
const MetadataTTL = 5 * time.Minute

type metaLookup struct {
	ref     artifact.Ref
	version string
}

// CachedClient decorates a Client with read-through caching of the metadata
// lookups (latest version, version meta). Mutating and content calls pass
// straight through.
type CachedClient struct {
	inner   Client
	latest  *cachemanager.ReadThroughCache[string, VersionMeta, metaLookup]
	version *cachemanager.ReadThroughCache[string, VersionMeta, metaLookup]
}

// NewCachedClient wraps inner. When skipCache is true every lookup goes to
// the registry (the --no-cache flag).
func NewCachedClient(inner Client, skipCache bool) *CachedClient {
	latestStore := cachemanager.NewInMemoryCacheManager[string, VersionMeta](
		"registry-latest", cachemanager.DefaultExpiration, cachemanager.DefaultCleanupInterval)
	versionStore := cachemanager.NewInMemoryCacheManager[string, VersionMeta](
		"registry-version-meta", cachemanager.DefaultExpiration, cachemanager.DefaultCleanupInterval)

	return &CachedClient{
		inner: inner,
		latest: cachemanager.NewReadThroughCache(latestStore,
			func(ctx context.Context, in metaLookup) (VersionMeta, error) {
				return inner.GetLatestVersion(ctx, in.ref)
			}, skipCache),
		version: cachemanager.NewReadThroughCache(versionStore,
			func(ctx context.Context, in metaLookup) (VersionMeta, error) {
				return inner.GetVersionMeta(ctx, in.ref, in.version)
			}, skipCache),
	}
}

func (c *CachedClient) GetLatestVersion(ctx context.Context, ref artifact.Ref) (VersionMeta, error) {
	return c.latest.Get(ctx, "latest:"+ref.String(), metaLookup{ref: ref}, MetadataTTL)
}

func (c *CachedClient) GetVersionMeta(ctx context.Context, ref artifact.Ref, version string) (VersionMeta, error) {
	return c.version.Get(ctx, "meta:"+ref.String()+"@"+version, metaLookup{ref: ref, version: version}, MetadataTTL)
}

func (c *CachedClient) GetVersionContent(ctx context.Context, ref artifact.Ref, version string) ([]byte, error) {
	return c.inner.GetVersionContent(ctx, ref, version)
}

// UploadArtifact passes through and invalidates the cached latest version,
// since a successful upload may advance it.
func (c *CachedClient) UploadArtifact(ctx context.Context, ref artifact.Ref, content []byte, meta artifact.PushMetadata) (VersionMeta, error) {
	created, err := c.inner.UploadArtifact(ctx, ref, content, meta)
	if err != nil {
		return VersionMeta{}, err
	}
	c.latest.Invalidate(ctx, "latest:"+ref.String())
	return created, nil
}

func (c *CachedClient) SystemInfo(ctx context.Context) (SystemInfo, error) {
	return c.inner.SystemInfo(ctx)
}
