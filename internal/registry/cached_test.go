package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/registry-tools/apicurio-sync/internal/artifact"
	"github.com/registry-tools/apicurio-sync/internal/registry"
	"github.com/registry-tools/apicurio-sync/internal/registry/registrytest"
)

func TestCachedClient_LatestIsCached(t *testing.T) {
	fake := registrytest.New()
	ref := artifact.NewRef("orders", "order-event")
	fake.Seed(ref, []byte("v1"))
	client := registry.NewCachedClient(fake, false)

	first, err := client.GetLatestVersion(context.Background(), ref)
	require.NoError(t, err)
	second, err := client.GetLatestVersion(context.Background(), ref)
	require.NoError(t, err)

	require.Equal(t, first.Version, second.Version)
	require.Equal(t, 1, fake.LatestLookups, "second lookup must be served from cache")
}

func TestCachedClient_VersionMetaIsCachedPerVersion(t *testing.T) {
	fake := registrytest.New()
	ref := artifact.NewRef("orders", "order-event")
	fake.Seed(ref, []byte("v1"))
	fake.Seed(ref, []byte("v2"))
	client := registry.NewCachedClient(fake, false)

	_, err := client.GetVersionMeta(context.Background(), ref, "1")
	require.NoError(t, err)
	_, err = client.GetVersionMeta(context.Background(), ref, "1")
	require.NoError(t, err)
	require.Equal(t, 1, fake.MetaLookups)

	_, err = client.GetVersionMeta(context.Background(), ref, "2")
	require.NoError(t, err)
	require.Equal(t, 2, fake.MetaLookups, "a different version is a different cache key")
}

func TestCachedClient_SkipCache(t *testing.T) {
	fake := registrytest.New()
	ref := artifact.NewRef("orders", "order-event")
	fake.Seed(ref, []byte("v1"))
	client := registry.NewCachedClient(fake, true)

	_, err := client.GetLatestVersion(context.Background(), ref)
	require.NoError(t, err)
	_, err = client.GetLatestVersion(context.Background(), ref)
	require.NoError(t, err)
	require.Equal(t, 2, fake.LatestLookups, "skipCache must go to the registry every time")
}

func TestCachedClient_ErrorsAreNotCached(t *testing.T) {
	fake := registrytest.New()
	ref := artifact.NewRef("orders", "order-event")
	fake.FailWith[ref] = registry.ErrUnavailable
	client := registry.NewCachedClient(fake, false)

	_, err := client.GetLatestVersion(context.Background(), ref)
	require.ErrorIs(t, err, registry.ErrUnavailable)

	delete(fake.FailWith, ref)
	fake.Seed(ref, []byte("v1"))
	meta, err := client.GetLatestVersion(context.Background(), ref)
	require.NoError(t, err, "a failed lookup must not poison the cache")
	require.Equal(t, "1", meta.Version)
}

func TestCachedClient_UploadInvalidatesLatest(t *testing.T) {
	fake := registrytest.New()
	ref := artifact.NewRef("apis", "shop-api")
	fake.Seed(ref, []byte("v1"))
	client := registry.NewCachedClient(fake, false)

	before, err := client.GetLatestVersion(context.Background(), ref)
	require.NoError(t, err)
	require.Equal(t, "1", before.Version)

	_, err = client.UploadArtifact(context.Background(), ref, []byte("v2"), artifact.PushMetadata{})
	require.NoError(t, err)

	after, err := client.GetLatestVersion(context.Background(), ref)
	require.NoError(t, err)
	require.Equal(t, "2", after.Version, "upload must invalidate the cached latest version")
	require.Equal(t, 2, fake.LatestLookups)
}

func TestCachedClient_ContentPassesThrough(t *testing.T) {
	fake := registrytest.New()
	ref := artifact.NewRef("orders", "order-event")
	fake.Seed(ref, []byte("v1"))
	client := registry.NewCachedClient(fake, false)

	for i := 0; i < 2; i++ {
		content, err := client.GetVersionContent(context.Background(), ref, "1")
		require.NoError(t, err)
		require.Equal(t, "v1", string(content))
	}
	require.Equal(t, 2, fake.ContentFetches, "content is never cached")
}
