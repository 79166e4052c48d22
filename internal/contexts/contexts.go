// Package contexts manages the named registry configurations the CLI can
// target. A context couples a registry URL with stored credentials; the
// context file keeps a pointer to the current one. The engine never sees a
// context, only the client built from it.
package contexts

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/registry-tools/apicurio-sync/internal/log"
)

// Environment overrides. A registry URL from the environment wins over the
// context file, which keeps CI runs free of per-machine state.
const (
	EnvRegistryURL = "APICURIO_SYNC_REGISTRY_URL"
	EnvContextName = "APICURIO_SYNC_CONTEXT_NAME"
)

var (
	// ErrNoContext means neither the context file nor the environment
	// provides a usable registry target.
	ErrNoContext = errors.New("no context configured: run 'apicurio-sync context set --url <registry> <name>' or set " + EnvRegistryURL)
	// ErrContextNotFound means the requested context name is not in the file.
	ErrContextNotFound = errors.New("context not found")
)

// AuthKind discriminates the stored credential types.
type AuthKind string

const (
	AuthNone  AuthKind = "none"
	AuthBasic AuthKind = "basic"
	AuthOIDC  AuthKind = "oidc"
)

// Auth is the credential record stored with a context.
type Auth struct {
	Type         AuthKind  `yaml:"type"`
	Username     string    `yaml:"username,omitempty"`
	Password     string    `yaml:"password,omitempty"`
	IssuerURL    string    `yaml:"issuer_url,omitempty"`
	ClientID     string    `yaml:"client_id,omitempty"`
	AccessToken  string    `yaml:"access_token,omitempty"`
	RefreshToken string    `yaml:"refresh_token,omitempty"`
	ExpiresAt    time.Time `yaml:"expires_at,omitempty"`
}

// Context is one resolved registry target.
type Context struct {
	Name        string
	RegistryURL *url.URL
	Auth        Auth
}

// registryRecord is a context's serialized form.
type registryRecord struct {
	URL  string `yaml:"url"`
	Auth Auth   `yaml:"auth,omitempty"`
}

// File is the on-disk context store.
type File struct {
	CurrentContext string                    `yaml:"current_context,omitempty"`
	Contexts       map[string]registryRecord `yaml:"contexts"`
}

// DefaultPath locates the context file under the user config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving config directory: %w", err)
	}
	return filepath.Join(dir, "apicurio-sync", "contexts.yaml"), nil
}

// LoadFile reads the context store. A missing file loads as empty.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the CLI flag
	if err != nil {
		if os.IsNotExist(err) {
			return &File{Contexts: map[string]registryRecord{}}, nil
		}
		return nil, fmt.Errorf("reading context file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing context file %s: %w", path, err)
	}
	if f.Contexts == nil {
		f.Contexts = map[string]registryRecord{}
	}
	return &f, nil
}

// Save writes the context store, creating parent directories as needed. The
// file holds credentials, so it is not group or world readable.
func (f *File) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating context directory: %w", err)
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding context file: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing context file: %w", err)
	}
	log.Debug(log.CatContext, "context file saved", "path", path)
	return nil
}

// Get resolves a named context, or the current one when name is empty.
func (f *File) Get(name string) (Context, error) {
	if name == "" {
		name = f.CurrentContext
	}
	if name == "" {
		return Context{}, ErrNoContext
	}
	record, ok := f.Contexts[name]
	if !ok {
		return Context{}, fmt.Errorf("%w: %q", ErrContextNotFound, name)
	}
	u, err := url.Parse(record.URL)
	if err != nil {
		return Context{}, fmt.Errorf("context %q has invalid url %q: %w", name, record.URL, err)
	}
	return Context{Name: name, RegistryURL: u, Auth: record.Auth}, nil
}

// Set upserts a named context, optionally marking it current.
func (f *File) Set(ctx Context, current bool) {
	f.Contexts[ctx.Name] = registryRecord{URL: ctx.RegistryURL.String(), Auth: ctx.Auth}
	if current {
		f.CurrentContext = ctx.Name
	}
}

// Resolve builds the effective context from the file and the environment.
// The environment URL wins; the environment context name selects a file
// entry. A context must come from somewhere or the run cannot proceed.
func Resolve(path string) (Context, error) {
	f, err := LoadFile(path)
	if err != nil {
		return Context{}, err
	}

	name := os.Getenv(EnvContextName)
	ctx, fileErr := f.Get(name)

	if raw := os.Getenv(EnvRegistryURL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil {
			return Context{}, fmt.Errorf("invalid %s: %w", EnvRegistryURL, err)
		}
		if fileErr != nil {
			envName := name
			if envName == "" {
				envName = raw
			}
			return Context{Name: envName, RegistryURL: u, Auth: Auth{Type: AuthNone}}, nil
		}
		ctx.RegistryURL = u
		return ctx, nil
	}

	if fileErr != nil {
		if errors.Is(fileErr, ErrContextNotFound) {
			return Context{}, fileErr
		}
		return Context{}, ErrNoContext
	}
	return ctx, nil
}
