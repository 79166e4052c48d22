package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/registry-tools/apicurio-sync/internal/contexts"
	"github.com/registry-tools/apicurio-sync/internal/log"
)

// expirySlack renews access tokens slightly before they expire so a token
// that is valid when checked does not expire mid-request.
const expirySlack = 30 * time.Second

// ErrLoginTimeout means the browser callback never arrived.
var ErrLoginTimeout = errors.New("timed out waiting for the login callback")

// providerMetadata is the subset of the OIDC discovery document we need.
type providerMetadata struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
}

// discover fetches the issuer's OIDC configuration.
func discover(ctx context.Context, client *http.Client, issuerURL string) (providerMetadata, error) {
	wellKnown := strings.TrimSuffix(issuerURL, "/") + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return providerMetadata{}, fmt.Errorf("building discovery request: %w", err)
	}
	res, err := client.Do(req)
	if err != nil {
		return providerMetadata{}, fmt.Errorf("discovering issuer %s: %w", issuerURL, err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode != http.StatusOK {
		return providerMetadata{}, fmt.Errorf("discovering issuer %s: status %d", issuerURL, res.StatusCode)
	}
	var meta providerMetadata
	if err := json.NewDecoder(res.Body).Decode(&meta); err != nil {
		return providerMetadata{}, fmt.Errorf("parsing discovery document: %w", err)
	}
	if meta.AuthorizationEndpoint == "" || meta.TokenEndpoint == "" {
		return providerMetadata{}, fmt.Errorf("issuer %s discovery document is missing endpoints", issuerURL)
	}
	return meta, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func requestToken(ctx context.Context, client *http.Client, endpoint string, form url.Values) (tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return tokenResponse{}, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := client.Do(req)
	if err != nil {
		return tokenResponse{}, fmt.Errorf("requesting token: %w", err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode != http.StatusOK {
		return tokenResponse{}, fmt.Errorf("token endpoint returned %d", res.StatusCode)
	}
	var tokens tokenResponse
	if err := json.NewDecoder(res.Body).Decode(&tokens); err != nil {
		return tokenResponse{}, fmt.Errorf("parsing token response: %w", err)
	}
	if tokens.AccessToken == "" {
		return tokenResponse{}, errors.New("token response contained no access token")
	}
	return tokens, nil
}

func randomURLSafe(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// OIDCLoginOptions configures the authorization-code login flow.
type OIDCLoginOptions struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	Scope        string
	// Port is the local callback listener port.
	Port int
	// Timeout bounds the wait for the browser callback.
	Timeout time.Duration
	// OpenURL is called with the authorization URL the user must visit.
	OpenURL func(authURL string)
}

// OIDCLogin runs the authorization-code flow with PKCE: it starts a local
// callback listener, hands the authorization URL to the caller, waits for
// the redirect, and exchanges the code for tokens.
func OIDCLogin(ctx context.Context, opts OIDCLoginOptions) (contexts.Auth, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	meta, err := discover(ctx, client, opts.IssuerURL)
	if err != nil {
		return contexts.Auth{}, err
	}

	verifier := randomURLSafe(32)
	challengeSum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(challengeSum[:])
	state := randomURLSafe(16)
	redirectURI := fmt.Sprintf("http://localhost:%d/callback", opts.Port)

	scope := opts.Scope
	if scope == "" {
		scope = "openid profile email offline_access"
	}

	authQuery := url.Values{
		"response_type":         {"code"},
		"client_id":             {opts.ClientID},
		"redirect_uri":          {redirectURI},
		"scope":                 {scope},
		"state":                 {state},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
	}
	authURL := meta.AuthorizationEndpoint + "?" + authQuery.Encode()

	code, err := waitForCallback(ctx, opts.Port, state, opts.Timeout, func() {
		if opts.OpenURL != nil {
			opts.OpenURL(authURL)
		}
	})
	if err != nil {
		return contexts.Auth{}, err
	}

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"client_id":     {opts.ClientID},
		"code_verifier": {verifier},
	}
	if opts.ClientSecret != "" {
		form.Set("client_secret", opts.ClientSecret)
	}
	tokens, err := requestToken(ctx, client, meta.TokenEndpoint, form)
	if err != nil {
		return contexts.Auth{}, err
	}

	log.Info(log.CatAuth, "oidc login completed", "issuer", opts.IssuerURL)
	return contexts.Auth{
		Type:         contexts.AuthOIDC,
		IssuerURL:    opts.IssuerURL,
		ClientID:     opts.ClientID,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tokens.ExpiresIn) * time.Second),
	}, nil
}

// waitForCallback serves the redirect endpoint on localhost until one valid
// authorization code arrives.
func waitForCallback(ctx context.Context, port int, state string, timeout time.Duration, onReady func()) (string, error) {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return "", fmt.Errorf("starting callback listener: %w", err)
	}

	type callback struct {
		code string
		err  error
	}
	results := make(chan callback, 1)
	var once sync.Once

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			once.Do(func() { results <- callback{err: errors.New("authorization state mismatch")} })
			return
		}
		code := query.Get("code")
		if code == "" {
			msg := query.Get("error_description")
			if msg == "" {
				msg = query.Get("error")
			}
			http.Error(w, "authorization failed: "+msg, http.StatusBadRequest)
			once.Do(func() { results <- callback{err: fmt.Errorf("authorization failed: %s", msg)} })
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<h1>Authentication completed!</h1><p>You can close this window now.</p>"))
		once.Do(func() { results <- callback{code: code} })
	})

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = server.Serve(listener) }()
	defer func() { _ = server.Close() }()

	onReady()

	select {
	case res := <-results:
		return res.code, res.err
	case <-time.After(timeout):
		return "", ErrLoginTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// oidcTokenSource serves bearer tokens, refreshing them through the issuer
// when they near expiry.
type oidcTokenSource struct {
	mu        sync.Mutex
	auth      contexts.Auth
	client    *http.Client
	onRefresh func(contexts.Auth)
}

func newOIDCTokenSource(a contexts.Auth, onRefresh func(contexts.Auth)) *oidcTokenSource {
	return &oidcTokenSource{
		auth:      a,
		client:    &http.Client{Timeout: 30 * time.Second},
		onRefresh: onRefresh,
	}
}

func (s *oidcTokenSource) Authorization(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Now().Add(expirySlack).Before(s.auth.ExpiresAt) {
		return "Bearer " + s.auth.AccessToken, nil
	}
	if s.auth.RefreshToken == "" {
		return "", errors.New("access token expired and no refresh token is stored: run 'apicurio-sync context login oidc' again")
	}

	meta, err := discover(ctx, s.client, s.auth.IssuerURL)
	if err != nil {
		return "", err
	}
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {s.auth.RefreshToken},
		"client_id":     {s.auth.ClientID},
	}
	tokens, err := requestToken(ctx, s.client, meta.TokenEndpoint, form)
	if err != nil {
		return "", fmt.Errorf("refreshing access token: %w", err)
	}

	s.auth.AccessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		s.auth.RefreshToken = tokens.RefreshToken
	}
	s.auth.ExpiresAt = time.Now().Add(time.Duration(tokens.ExpiresIn) * time.Second)
	log.Debug(log.CatAuth, "refreshed access token", "issuer", s.auth.IssuerURL)

	if s.onRefresh != nil {
		s.onRefresh(s.auth)
	}
	return "Bearer " + s.auth.AccessToken, nil
}
