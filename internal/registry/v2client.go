package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/registry-tools/apicurio-sync/internal/artifact"
	"github.com/registry-tools/apicurio-sync/internal/log"
)

// TokenSource supplies the Authorization header value for registry requests.
// An empty value means the request is sent unauthenticated.
type TokenSource interface {
	Authorization(ctx context.Context) (string, error)
}

// AnonymousTokenSource sends no credentials.
type AnonymousTokenSource struct{}

// Authorization returns an empty header value.
func (AnonymousTokenSource) Authorization(ctx context.Context) (string, error) {
	return "", nil
}

// V2Client talks to the Apicurio Registry v2 REST API.
// https://www.apicur.io/registry/docs/apicurio-registry/2.x/assets-attachments/registry-rest-api.htm
type V2Client struct {
	baseURL *url.URL
	http    *http.Client
	tokens  TokenSource
}

// NewV2Client builds a client rooted at the registry base URL. The v2 API
// prefix is appended here so contexts only store the registry root.
func NewV2Client(baseURL *url.URL, tokens TokenSource) *V2Client {
	if tokens == nil {
		tokens = AnonymousTokenSource{}
	}
	base := *baseURL
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	apiBase := base.JoinPath("apis", "registry", "v2")
	apiBase.Path += "/"
	return &V2Client{
		baseURL: apiBase,
		http:    &http.Client{Timeout: 30 * time.Second},
		tokens:  tokens,
	}
}

// versionMetaResponse mirrors the v2 API metadata payload.
type versionMetaResponse struct {
	GroupID   string `json:"groupId"`
	ID        string `json:"id"`
	Version   string `json:"version"`
	GlobalID  int64  `json:"globalId"`
	ContentID int64  `json:"contentId"`
	Type      string `json:"type"`
}

func (m versionMetaResponse) toVersionMeta() VersionMeta {
	return VersionMeta{
		Ref:       artifact.NewRef(m.GroupID, m.ID),
		Version:   m.Version,
		GlobalID:  m.GlobalID,
		ContentID: m.ContentID,
		Type:      artifact.Type(m.Type),
	}
}

type systemInfoResponse struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
	BuiltOn     string `json:"builtOn"`
}

// GetLatestVersion fetches the artifact's current metadata, which describes
// the newest version.
func (c *V2Client) GetLatestVersion(ctx context.Context, ref artifact.Ref) (VersionMeta, error) {
	var meta versionMetaResponse
	path := fmt.Sprintf("groups/%s/artifacts/%s/meta", url.PathEscape(ref.Group), url.PathEscape(ref.ID))
	if err := c.getJSON(ctx, path, &meta); err != nil {
		return VersionMeta{}, err
	}
	return meta.toVersionMeta(), nil
}

// GetVersionMeta fetches metadata for one specific version.
func (c *V2Client) GetVersionMeta(ctx context.Context, ref artifact.Ref, version string) (VersionMeta, error) {
	var meta versionMetaResponse
	path := fmt.Sprintf("groups/%s/artifacts/%s/versions/%s/meta",
		url.PathEscape(ref.Group), url.PathEscape(ref.ID), url.PathEscape(version))
	if err := c.getJSON(ctx, path, &meta); err != nil {
		return VersionMeta{}, err
	}
	return meta.toVersionMeta(), nil
}

// GetVersionContent downloads the raw content of one version.
func (c *V2Client) GetVersionContent(ctx context.Context, ref artifact.Ref, version string) ([]byte, error) {
	path := fmt.Sprintf("groups/%s/artifacts/%s/versions/%s",
		url.PathEscape(ref.Group), url.PathEscape(ref.ID), url.PathEscape(version))
	res, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading content: %v", ErrUnavailable, err)
	}
	return body, nil
}

// UploadArtifact creates or updates an artifact. ifExists=RETURN_OR_UPDATE
// makes re-uploads of identical content idempotent on the registry side.
func (c *V2Client) UploadArtifact(ctx context.Context, ref artifact.Ref, content []byte, meta artifact.PushMetadata) (VersionMeta, error) {
	path := fmt.Sprintf("groups/%s/artifacts?ifExists=RETURN_OR_UPDATE", url.PathEscape(ref.Group))
	headers := http.Header{}
	headers.Set("X-Registry-ArtifactId", ref.ID)
	headers.Set("Content-Type", "application/octet-stream")
	if meta.Type != "" {
		headers.Set("X-Registry-ArtifactType", string(meta.Type))
	}
	if meta.Name != "" {
		headers.Set("X-Registry-Name", meta.Name)
	}
	if meta.Description != "" {
		headers.Set("X-Registry-Description", meta.Description)
	}

	res, err := c.do(ctx, http.MethodPost, path, bytes.NewReader(content), headers)
	if err != nil {
		return VersionMeta{}, err
	}
	defer func() { _ = res.Body.Close() }()

	var created versionMetaResponse
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		return VersionMeta{}, fmt.Errorf("decoding upload response: %w", err)
	}
	result := created.toVersionMeta()

	// Labels and properties are not accepted on the create call; the v2 API
	// takes them through the editable version metadata endpoint.
	if len(meta.Labels) > 0 || len(meta.Properties) > 0 {
		if err := c.putVersionMeta(ctx, result.Ref, result.Version, meta); err != nil {
			return VersionMeta{}, err
		}
	}

	log.Debug(log.CatRegistry, "uploaded artifact", "ref", ref, "version", result.Version)
	return result, nil
}

func (c *V2Client) putVersionMeta(ctx context.Context, ref artifact.Ref, version string, meta artifact.PushMetadata) error {
	payload := struct {
		Name        string            `json:"name,omitempty"`
		Description string            `json:"description,omitempty"`
		Labels      []string          `json:"labels,omitempty"`
		Properties  map[string]string `json:"properties,omitempty"`
	}{meta.Name, meta.Description, meta.Labels, meta.Properties}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding version metadata: %w", err)
	}
	path := fmt.Sprintf("groups/%s/artifacts/%s/versions/%s/meta",
		url.PathEscape(ref.Group), url.PathEscape(ref.ID), url.PathEscape(version))
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	res, err := c.do(ctx, http.MethodPut, path, bytes.NewReader(body), headers)
	if err != nil {
		return err
	}
	_ = res.Body.Close()
	return nil
}

// SystemInfo reports registry build information.
func (c *V2Client) SystemInfo(ctx context.Context) (SystemInfo, error) {
	var info systemInfoResponse
	if err := c.getJSON(ctx, "system/info", &info); err != nil {
		return SystemInfo{}, err
	}
	return SystemInfo(info), nil
}

func (c *V2Client) getJSON(ctx context.Context, path string, out any) error {
	res, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding registry response: %w", err)
	}
	return nil
}

func (c *V2Client) do(ctx context.Context, method, path string, body io.Reader, headers http.Header) (*http.Response, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("building registry url: %w", err)
	}
	u := c.baseURL.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("building registry request: %w", err)
	}
	for k, vals := range headers {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	authz, err := c.tokens.Authorization(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving credentials: %w", err)
	}
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}

	log.Debug(log.CatRegistry, "registry request", "method", method, "url", u)
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch {
	case res.StatusCode == http.StatusNotFound:
		_ = res.Body.Close()
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	case res.StatusCode >= 500:
		_ = res.Body.Close()
		return nil, fmt.Errorf("%w: %s %s returned %d", ErrUnavailable, method, path, res.StatusCode)
	case res.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		_ = res.Body.Close()
		return nil, fmt.Errorf("registry returned %d for %s %s: %s", res.StatusCode, method, path, strings.TrimSpace(string(msg)))
	}
	return res, nil
}
