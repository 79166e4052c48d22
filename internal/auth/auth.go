// Package auth turns the credential records stored in a context into
// Authorization headers for registry requests, and implements the login
// flows that create those records.
package auth

import (
	"context"
	"encoding/base64"

	"github.com/registry-tools/apicurio-sync/internal/contexts"
	"github.com/registry-tools/apicurio-sync/internal/registry"
)

// TokenSourceFor builds the registry token source matching an auth record.
// OIDC records get a refreshing source; onRefresh (may be nil) is invoked
// with the updated record whenever tokens are renewed, so the caller can
// persist them back to the context file.
func TokenSourceFor(a contexts.Auth, onRefresh func(contexts.Auth)) registry.TokenSource {
	switch a.Type {
	case contexts.AuthBasic:
		return &basicTokenSource{username: a.Username, password: a.Password}
	case contexts.AuthOIDC:
		return newOIDCTokenSource(a, onRefresh)
	default:
		return registry.AnonymousTokenSource{}
	}
}

type basicTokenSource struct {
	username string
	password string
}

func (s *basicTokenSource) Authorization(ctx context.Context) (string, error) {
	cred := base64.StdEncoding.EncodeToString([]byte(s.username + ":" + s.password))
	return "Basic " + cred, nil
}

// BasicLogin builds a basic auth record. The password may be empty, in which
// case only the username is sent.
func BasicLogin(username, password string) contexts.Auth {
	return contexts.Auth{
		Type:     contexts.AuthBasic,
		Username: username,
		Password: password,
	}
}
