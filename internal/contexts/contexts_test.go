package contexts_test

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/registry-tools/apicurio-sync/internal/contexts"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func contextPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "contexts.yaml")
}

func TestLoadFile_AbsentIsEmpty(t *testing.T) {
	f, err := contexts.LoadFile(contextPath(t))
	require.NoError(t, err)
	require.Empty(t, f.CurrentContext)
	require.NotNil(t, f.Contexts)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := contextPath(t)
	f, err := contexts.LoadFile(path)
	require.NoError(t, err)

	f.Set(contexts.Context{
		Name:        "staging",
		RegistryURL: mustURL(t, "https://registry.staging.example.com"),
		Auth:        contexts.Auth{Type: contexts.AuthBasic, Username: "ci", Password: "hunter2"},
	}, true)
	require.NoError(t, f.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm(), "credentials must not be group readable")

	reloaded, err := contexts.LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "staging", reloaded.CurrentContext)

	ctx, err := reloaded.Get("")
	require.NoError(t, err)
	require.Equal(t, "staging", ctx.Name)
	require.Equal(t, "https://registry.staging.example.com", ctx.RegistryURL.String())
	require.Equal(t, contexts.AuthBasic, ctx.Auth.Type)
	require.Equal(t, "ci", ctx.Auth.Username)
}

func TestGet_Errors(t *testing.T) {
	f, err := contexts.LoadFile(contextPath(t))
	require.NoError(t, err)

	_, err = f.Get("")
	require.ErrorIs(t, err, contexts.ErrNoContext)

	_, err = f.Get("nope")
	require.ErrorIs(t, err, contexts.ErrContextNotFound)
}

func TestResolve_FromFile(t *testing.T) {
	path := contextPath(t)
	f, err := contexts.LoadFile(path)
	require.NoError(t, err)
	f.Set(contexts.Context{Name: "prod", RegistryURL: mustURL(t, "https://registry.example.com")}, true)
	require.NoError(t, f.Save(path))

	ctx, err := contexts.Resolve(path)
	require.NoError(t, err)
	require.Equal(t, "prod", ctx.Name)
	require.Equal(t, "https://registry.example.com", ctx.RegistryURL.String())
}

func TestResolve_EnvURLWinsOverFile(t *testing.T) {
	path := contextPath(t)
	f, err := contexts.LoadFile(path)
	require.NoError(t, err)
	f.Set(contexts.Context{
		Name:        "prod",
		RegistryURL: mustURL(t, "https://registry.example.com"),
		Auth:        contexts.Auth{Type: contexts.AuthBasic, Username: "ci"},
	}, true)
	require.NoError(t, f.Save(path))

	t.Setenv(contexts.EnvRegistryURL, "http://localhost:8080")

	ctx, err := contexts.Resolve(path)
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8080", ctx.RegistryURL.String())
	require.Equal(t, contexts.AuthBasic, ctx.Auth.Type,
		"env override replaces the URL but keeps the context's credentials")
}

func TestResolve_EnvURLWithoutFile(t *testing.T) {
	t.Setenv(contexts.EnvRegistryURL, "http://localhost:8080")

	ctx, err := contexts.Resolve(contextPath(t))
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8080", ctx.RegistryURL.String())
	require.Equal(t, contexts.AuthNone, ctx.Auth.Type)
}

func TestResolve_EnvContextNameSelectsEntry(t *testing.T) {
	path := contextPath(t)
	f, err := contexts.LoadFile(path)
	require.NoError(t, err)
	f.Set(contexts.Context{Name: "prod", RegistryURL: mustURL(t, "https://prod.example.com")}, true)
	f.Set(contexts.Context{Name: "staging", RegistryURL: mustURL(t, "https://staging.example.com")}, false)
	require.NoError(t, f.Save(path))

	t.Setenv(contexts.EnvContextName, "staging")

	ctx, err := contexts.Resolve(path)
	require.NoError(t, err)
	require.Equal(t, "staging", ctx.Name)
	require.Equal(t, "https://staging.example.com", ctx.RegistryURL.String())
}

func TestResolve_NothingConfigured(t *testing.T) {
	_, err := contexts.Resolve(contextPath(t))
	require.ErrorIs(t, err, contexts.ErrNoContext)
}

func TestResolve_UnknownEnvContextName(t *testing.T) {
	path := contextPath(t)
	f, err := contexts.LoadFile(path)
	require.NoError(t, err)
	f.Set(contexts.Context{Name: "prod", RegistryURL: mustURL(t, "https://prod.example.com")}, true)
	require.NoError(t, f.Save(path))

	t.Setenv(contexts.EnvContextName, "nope")

	_, err = contexts.Resolve(path)
	require.ErrorIs(t, err, contexts.ErrContextNotFound)
}
