// Package client is the Go SDK for services sitting behind a grid auth
// deployment. It validates forwarded credentials against the auth service
// and applies on-behalf-of enrichment to outbound requests.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultAPIKeyHeader carries the machine credential unless overridden.
const DefaultAPIKeyHeader = "X-Gu-Media-Key"

// Client provides a high-level interface to a grid auth deployment.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	apiKey       string
	apiKeyHeader string
	enrich       func(*http.Request)
}

// ClientOptions configures SDK client construction.
type ClientOptions struct {
	HTTPClient   *http.Client
	APIKey       string
	APIKeyHeader string
	Enrich       func(*http.Request)
}

// ClientOption mutates ClientOptions.
type ClientOption func(*ClientOptions)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(opts *ClientOptions) {
		opts.HTTPClient = client
	}
}

// WithAPIKey authenticates requests with a machine credential.
func WithAPIKey(key string) ClientOption {
	return func(opts *ClientOptions) {
		opts.APIKey = key
	}
}

// WithAPIKeyHeader overrides the header the machine credential travels in.
func WithAPIKeyHeader(name string) ClientOption {
	return func(opts *ClientOptions) {
		opts.APIKeyHeader = name
	}
}

// WithOnBehalfOf forwards an upstream caller's credential on every request.
// The enricher typically comes from the resolution engine's on-behalf-of
// principal and stamps the original credential plus the originating service
// header. It runs exactly once per outbound request, after the client's own
// API key (when both are set, the forwarded credential wins).
func WithOnBehalfOf(enrich func(*http.Request)) ClientOption {
	return func(opts *ClientOptions) {
		opts.Enrich = enrich
	}
}

// New creates a client for the auth service at baseURL. An http.Client is
// created automatically when one is not supplied.
func New(baseURL string, optFns ...ClientOption) *Client {
	opts := ClientOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.APIKeyHeader == "" {
		opts.APIKeyHeader = DefaultAPIKeyHeader
	}

	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		httpClient:   opts.HTTPClient,
		apiKey:       opts.APIKey,
		apiKeyHeader: opts.APIKeyHeader,
		enrich:       opts.Enrich,
	}
}

// Session is the whoami envelope returned by the auth service.
type Session struct {
	Identity    string `json:"identity"`
	Tier        string `json:"tier"`
	Kind        string `json:"kind"`
	DisplayName string `json:"displayName,omitempty"`
}

// AuthConfig is the public discovery document of the auth service.
type AuthConfig struct {
	ServiceName    string `json:"serviceName"`
	LoginURI       string `json:"loginUri"`
	KeysURI        string `json:"keysUri"`
	CookieName     string `json:"cookieName"`
	APIKeyHeader   string `json:"apiKeyHeader"`
	FederatedLogin bool   `json:"federatedLogin"`
	LocalLogin     bool   `json:"localLogin"`
}

// AuthError is a terminal authentication or authorization response decoded
// from the service's error envelope.
type AuthError struct {
	StatusCode int
	ErrorKey   string
	Message    string
	LoginURL   string
}

func (e *AuthError) Error() string {
	if e.LoginURL != "" {
		return fmt.Sprintf("%s (%d): %s, login at %s", e.ErrorKey, e.StatusCode, e.Message, e.LoginURL)
	}
	return fmt.Sprintf("%s (%d): %s", e.ErrorKey, e.StatusCode, e.Message)
}

// Session validates the applied credential and returns who it resolves to.
func (c *Client) Session(ctx context.Context) (*Session, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/auth/session")
	if err != nil {
		return nil, err
	}

	var session Session
	if err := c.do(req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Config fetches the service's public discovery document. It requires no
// credential.
func (c *Client) Config(ctx context.Context) (*AuthConfig, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/auth/config")
	if err != nil {
		return nil, err
	}

	var cfg AuthConfig
	if err := c.do(req, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Healthcheck probes the service. A degraded service returns an error.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/management/healthcheck")
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// newRequest builds a request with the credential chain applied: the
// client's own API key first, then on-behalf-of enrichment, so a forwarded
// caller credential overrides the service credential.
func (c *Client) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	if c.apiKey != "" {
		req.Header.Set(c.apiKeyHeader, c.apiKey)
	}
	if c.enrich != nil {
		c.enrich(req)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// envelope mirrors the service's error body.
type envelope struct {
	ErrorKey     string `json:"errorKey"`
	ErrorMessage string `json:"errorMessage"`
	Links        []struct {
		Rel  string `json:"rel"`
		Href string `json:"href"`
	} `json:"links"`
}

func decodeError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("auth service returned %d", resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil || env.ErrorKey == "" {
		return fmt.Errorf("auth service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	authErr := &AuthError{
		StatusCode: resp.StatusCode,
		ErrorKey:   env.ErrorKey,
		Message:    env.ErrorMessage,
	}
	for _, link := range env.Links {
		if link.Rel == "login" {
			authErr.LoginURL = link.Href
		}
	}
	return authErr
}
