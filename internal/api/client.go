package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"allin/internal/credential"
)

const (
	// DefaultTimeout bounds a single backend call.
	DefaultTimeout = 10 * time.Second

	// RequestIDHeader carries a per-request correlation ID.
	RequestIDHeader = "X-Request-ID"

	maxResponseBytes = 1 << 20
)

// Endpoint paths, relative to the base URL.
const (
	PathLogin       = "auth/login"
	PathRegister    = "auth/register"
	PathProfile     = "auth/profile"
	PathRefresh     = "auth/refresh"
	PathLogout      = "auth/logout"
	PathPermissions = "auth/permissions"
)

// TokenSource yields the bearer token to send, "" when there is none.
// *credential.Store satisfies it.
type TokenSource interface {
	Token() string
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL is the API root, for example "https://api.allin.example/api/".
	BaseURL string

	// Timeout bounds each request. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Tokens provides the bearer token for authenticated calls.
	Tokens TokenSource

	// Transport is the base round tripper. Defaults to http.DefaultTransport.
	Transport http.RoundTripper

	// UserAgent is sent on every request when set.
	UserAgent string
}

// Client calls the ALL-IN identity endpoints.
type Client struct {
	baseURL   *url.URL
	anon      *http.Client
	authed    *http.Client
	transport http.RoundTripper
	timeout   time.Duration
	userAgent string
}

// bearerSource adapts a TokenSource to oauth2.TokenSource.
type bearerSource struct {
	tokens TokenSource
}

func (s bearerSource) Token() (*oauth2.Token, error) {
	if s.tokens == nil {
		return nil, ErrNoCredential
	}
	tok := s.tokens.Token()
	if tok == "" {
		return nil, ErrNoCredential
	}
	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer"}, nil
}

// NewClient validates cfg and returns a client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("api base URL is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid api base URL %q: scheme must be http or https", cfg.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &Client{
		baseURL: base,
		anon:    &http.Client{Timeout: timeout, Transport: transport},
		authed: &http.Client{
			Timeout: timeout,
			Transport: &oauth2.Transport{
				Source: bearerSource{tokens: cfg.Tokens},
				Base:   transport,
			},
		},
		transport: transport,
		timeout:   timeout,
		userAgent: cfg.UserAgent,
	}, nil
}

// BaseURL returns the resolved API root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Login exchanges credentials for an identity.
func (c *Client) Login(ctx context.Context, email, password string) (*credential.IdentitySnapshot, error) {
	var out authResponse
	op := http.MethodPost + " " + PathLogin
	if err := c.do(ctx, c.anon, http.MethodPost, PathLogin, LoginRequest{Email: email, Password: password}, &out); err != nil {
		return nil, err
	}
	return identityFrom(op, out)
}

// Register creates an account and returns its identity.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*credential.IdentitySnapshot, error) {
	var out authResponse
	op := http.MethodPost + " " + PathRegister
	if err := c.do(ctx, c.anon, http.MethodPost, PathRegister, req, &out); err != nil {
		return nil, err
	}
	return identityFrom(op, out)
}

func identityFrom(op string, out authResponse) (*credential.IdentitySnapshot, error) {
	token := out.token()
	if token == "" {
		return nil, &Error{Op: op, Status: http.StatusOK, Err: errors.New("response has no bearer token")}
	}
	return &credential.IdentitySnapshot{User: out.User, BearerToken: token}, nil
}

// Profile returns the authoritative profile of the signed-in user.
func (c *Client) Profile(ctx context.Context) (*credential.UserProfile, error) {
	var out credential.UserProfile
	if err := c.do(ctx, c.authed, http.MethodGet, PathProfile, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateProfile applies a partial update and returns the resulting profile.
func (c *Client) UpdateProfile(ctx context.Context, update ProfileUpdate) (*credential.UserProfile, error) {
	var out credential.UserProfile
	if err := c.do(ctx, c.authed, http.MethodPut, PathProfile, update, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh asks for a new bearer token.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	var out refreshResponse
	if err := c.do(ctx, c.authed, http.MethodPost, PathRefresh, nil, &out); err != nil {
		return "", err
	}
	token := out.BearerToken
	if token == "" {
		token = out.Token
	}
	if token == "" {
		return "", &Error{Op: http.MethodPost + " " + PathRefresh, Status: http.StatusOK, Err: errors.New("response has no bearer token")}
	}
	return token, nil
}

// Logout invalidates token server-side. The token is passed explicitly
// because callers clear local credentials before notifying the server.
func (c *Client) Logout(ctx context.Context, token string) error {
	if token == "" {
		return &Error{Op: http.MethodPost + " " + PathLogout, Err: ErrNoCredential}
	}
	hc := &http.Client{
		Timeout: c.timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   c.transport,
		},
	}
	return c.do(ctx, hc, http.MethodPost, PathLogout, nil, nil)
}

// Entitlements returns the signed-in user's entitlements.
func (c *Client) Entitlements(ctx context.Context) ([]string, error) {
	var out permissionsResponse
	if err := c.do(ctx, c.authed, http.MethodGet, PathPermissions, nil, &out); err != nil {
		return nil, err
	}
	return out.Entitlements, nil
}

type rawEnvelope struct {
	Success *bool           `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, body, out any) error {
	op := method + " " + path
	target := c.baseURL.ResolveReference(&url.URL{Path: path})

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &Error{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	var env rawEnvelope
	var decodeErr error
	if len(bytes.TrimSpace(data)) > 0 {
		decodeErr = json.Unmarshal(data, &env)
	}
	message := env.Message
	if message == "" {
		message = env.Error
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Op: op, Status: resp.StatusCode, Message: message}
	}
	if decodeErr != nil {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode envelope: %w", decodeErr)}
	}
	if env.Success != nil && !*env.Success {
		status := env.Code
		if status == 0 {
			status = http.StatusBadRequest
		}
		return &Error{Op: op, Status: status, Message: message}
	}
	if env.Code >= 400 {
		return &Error{Op: op, Status: env.Code, Message: message}
	}

	if out == nil {
		return nil
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return &Error{Op: op, Status: resp.StatusCode, Err: errors.New("response has no data")}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}
