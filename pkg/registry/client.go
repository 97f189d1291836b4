package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/platinummonkey/tfgate/pkg/observability"
)

const (
	// DefaultTimeout bounds every outbound backend call
	DefaultTimeout = 10 * time.Second
	// DefaultDiscoveryTTL is how long the discovery document is cached
	DefaultDiscoveryTTL = 5 * time.Minute

	// TerraformGetHeader carries the download location on 204 answers
	TerraformGetHeader = "X-Terraform-Get"

	// maxErrorBody caps how much of an error body is kept in StatusError
	maxErrorBody = 4096
	discoveryKey = "discovery"
)

// Client is a typed wrapper over the backend registry HTTP API.
//
// A Client is immutable once built: WithToken returns a copy bound to one
// caller's token, so a single base client can be shared by all requests
// without leaking tokens between users.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	discovery  *lru.LRU[string, Discovery]
	metrics    *observability.Metrics
	logger     *observability.Logger
}

// Option configures a Client
type Option func(*Client)

// WithTimeout sets the per-call timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithDiscoveryTTL sets how long the discovery document is cached
func WithDiscoveryTTL(ttl time.Duration) Option {
	return func(c *Client) {
		c.discovery = lru.NewLRU[string, Discovery](1, nil, ttl)
	}
}

// WithMetrics records every call in the given metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithLogger sets the client logger
func WithLogger(l *observability.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client for the registry at baseURL
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		discovery:  lru.NewLRU[string, Discovery](1, nil, DefaultDiscoveryTTL),
		logger:     observability.NewLogger(observability.InfoLevel, nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithToken returns a copy of the client that attaches the given bearer token
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// Token returns the bearer token this client attaches, if any
func (c *Client) Token() string {
	return c.token
}

// BaseURL returns the backend base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// IssueToken exchanges user credentials for a backend token
func (c *Client) IssueToken(ctx context.Context, creds Credentials) (*TokenResponse, error) {
	if creds.GrantType == "" {
		creds.GrantType = GrantTypePassword
	}
	var out TokenResponse
	if err := c.doJSON(ctx, "issue_token", http.MethodPost, "/auth/token", nil, "", creds, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyToken checks a token against the backend. A nil error means valid;
// errors.Is(err, ErrUnauthorized) means the token has expired.
func (c *Client) VerifyToken(ctx context.Context, token string) error {
	resp, err := c.send(ctx, "verify_token", http.MethodGet, "/auth/verify", nil, token, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

// RefreshToken trades a stale token for a new one
func (c *Client) RefreshToken(ctx context.Context, token string) (*TokenResponse, error) {
	var out TokenResponse
	if err := c.doJSON(ctx, "refresh_token", http.MethodPost, "/auth/refresh", nil, token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchModules searches modules with optional filters
func (c *Client) SearchModules(ctx context.Context, params SearchParams) (*SearchResult, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	query := url.Values{}
	query.Set("query", params.Query)
	if params.Provider != "" {
		query.Set("provider", params.Provider)
	}
	if params.Namespace != "" {
		query.Set("namespace", params.Namespace)
	}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(params.Offset))

	var out SearchResult
	if err := c.doJSON(ctx, "search_modules", http.MethodGet, "/v1/modules/search", query, c.token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListVersions lists the available versions of a module
func (c *Client) ListVersions(ctx context.Context, namespace, name, provider string) (*VersionsResult, error) {
	var out VersionsResult
	if err := c.doJSON(ctx, "list_versions", http.MethodGet, modulePath(namespace, name, provider, "versions"), nil, c.token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetModule returns the raw detail document for one module version
func (c *Client) GetModule(ctx context.Context, namespace, name, provider, version string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.doJSON(ctx, "get_module", http.MethodGet, modulePath(namespace, name, provider, version), nil, c.token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetDownloadURL resolves the download location of a module version
func (c *Client) GetDownloadURL(ctx context.Context, namespace, name, provider, version string) (*DownloadLocation, error) {
	return c.location(ctx, "get_download_url", modulePath(namespace, name, provider, version, "download"))
}

// GetModuleSource resolves the source location of a module version
func (c *Client) GetModuleSource(ctx context.Context, namespace, name, provider, version string) (*DownloadLocation, error) {
	return c.location(ctx, "get_module_source", modulePath(namespace, name, provider, version, "source"))
}

// DiscoverEndpoints fetches the service discovery document, served from
// cache while fresh
func (c *Client) DiscoverEndpoints(ctx context.Context) (Discovery, error) {
	if doc, ok := c.discovery.Get(discoveryKey); ok {
		return doc, nil
	}

	var doc Discovery
	if err := c.doJSON(ctx, "discover_endpoints", http.MethodGet, "/.well-known/terraform.json", nil, "", nil, &doc); err != nil {
		return nil, err
	}
	c.discovery.Add(discoveryKey, doc)
	return doc, nil
}

// Ping checks that the backend answers the discovery endpoint, bypassing the cache
func (c *Client) Ping(ctx context.Context) error {
	var doc Discovery
	return c.doJSON(ctx, "ping", http.MethodGet, "/.well-known/terraform.json", nil, "", nil, &doc)
}

func (c *Client) location(ctx context.Context, op, path string) (*DownloadLocation, error) {
	resp, err := c.send(ctx, op, http.MethodGet, path, nil, c.token, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	// Header lookup is canonicalized, so any casing on the wire matches
	loc := resp.Header.Get(TerraformGetHeader)
	if loc == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNoDownloadLocation)
	}
	return &DownloadLocation{DownloadURL: loc}, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, query url.Values, token string, body, out interface{}) error {
	resp, err := c.send(ctx, op, method, path, query, token, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%s: empty body: %w", op, ErrMalformedResponse)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: %v: %w", op, err, ErrMalformedResponse)
	}
	return nil
}

// send performs the request and returns the response only for 2xx answers.
// The caller closes the body.
func (c *Client) send(ctx context.Context, op, method, path string, query url.Values, token string, body interface{}) (*http.Response, error) {
	start := time.Now()

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	c.logger.WithFields(map[string]interface{}{
		"operation": op,
		"method":    method,
		"path":      path,
	}).Debug("registry request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordRegistryRequest(op, "transport_error", time.Since(start))
		return nil, &TransportError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.metrics.RecordRegistryRequest(op, strconv.Itoa(resp.StatusCode), time.Since(start))
		return nil, &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	c.metrics.RecordRegistryRequest(op, strconv.Itoa(resp.StatusCode), time.Since(start))
	return resp, nil
}

func modulePath(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return "/v1/modules/" + strings.Join(escaped, "/")
}
