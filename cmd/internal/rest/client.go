// Package rest is the HTTP collaborator of the session core. It talks to
// the backend's JSON API, injects the bearer token, and honors the global
// unauthorized contract: a 401 on any authenticated call is routed to the
// session controller instead of being handled locally.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"pulse/cmd/internal/session"
)

const defaultTimeout = 15 * time.Second

// Config describes the backend endpoint.
type Config struct {
	// BaseURL is the REST base including any API prefix,
	// e.g. "https://host/api/v1".
	BaseURL string
	// Timeout bounds each request end to end.
	Timeout time.Duration
}

// Client is a thin typed wrapper over the backend API.
type Client struct {
	log   *slog.Logger
	base  string
	httpc *http.Client

	token          func() (string, bool)
	onUnauthorized func()
	// unauthorizedBusy guards against re-entrant hook invocations when
	// several in-flight calls hit 401 at once.
	unauthorizedBusy atomic.Bool
}

// NewClient validates the base URL and constructs a Client.
func NewClient(log *slog.Logger, cfg Config) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}

	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url scheme: %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, fmt.Errorf("base url missing host: %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		log:   log,
		base:  base,
		httpc: &http.Client{Timeout: timeout},
	}, nil
}

// BaseURL returns the normalized REST base.
func (c *Client) BaseURL() string { return c.base }

// SetTokenSource wires the current-token read used for bearer injection.
func (c *Client) SetTokenSource(fn func() (string, bool)) { c.token = fn }

// SetUnauthorizedHook wires the global 401 policy (session logout). The
// hook never fires for the auth surface itself (login, register, whoami),
// which is what prevents logout/redirect loops.
func (c *Client) SetUnauthorizedHook(fn func()) { c.onUnauthorized = fn }

// ---- auth surface ----

type authResponse struct {
	Token string              `json:"token"`
	User  session.UserProfile `json:"user"`
}

type whoamiResponse struct {
	User *session.UserProfile `json:"user"`
}

// Whoami confirms a token against GET /auth/me and returns the fresh
// profile. Any non-2xx status or a body without a user is a rejection.
//
// The token is passed explicitly because confirmation runs against the
// persisted credential, which may not be the controller's current one by
// the time the response lands.
func (c *Client) Whoami(ctx context.Context, token string) (session.UserProfile, error) {
	var out whoamiResponse
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &out, callOpts{bearer: token}); err != nil {
		return session.UserProfile{}, err
	}
	if out.User == nil || strings.TrimSpace(out.User.ID) == "" {
		return session.UserProfile{}, fmt.Errorf("whoami: response missing user")
	}
	return *out.User, nil
}

// Login exchanges credentials for a token + profile pair.
func (c *Client) Login(ctx context.Context, email, password string) (session.Credential, error) {
	body := map[string]string{"email": email, "password": password}
	var out authResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &out, callOpts{}); err != nil {
		return session.Credential{}, err
	}
	cred := session.Credential{Token: out.Token, User: out.User}
	if !cred.Present() {
		return session.Credential{}, fmt.Errorf("login: response missing token or user")
	}
	return cred, nil
}

// Register creates an account and returns the issued token + profile.
func (c *Client) Register(ctx context.Context, name, email, password string) (session.Credential, error) {
	body := map[string]string{"name": name, "email": email, "password": password}
	var out authResponse
	if err := c.do(ctx, http.MethodPost, "/auth/register", body, &out, callOpts{}); err != nil {
		return session.Credential{}, err
	}
	cred := session.Credential{Token: out.Token, User: out.User}
	if !cred.Present() {
		return session.Credential{}, fmt.Errorf("register: response missing token or user")
	}
	return cred, nil
}

// ---- generic authenticated surface ----

// Get performs an authenticated GET and decodes the JSON response into out.
// A 401 triggers the global unauthorized policy before the error returns.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out, callOpts{useTokenSource: true, unauthorizedPolicy: true})
}

// Post performs an authenticated POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out, callOpts{useTokenSource: true, unauthorizedPolicy: true})
}

// ---- transport ----

type callOpts struct {
	// bearer is an explicit token override (confirmation flow).
	bearer string
	// useTokenSource injects the controller's current token.
	useTokenSource bool
	// unauthorizedPolicy invokes the global 401 hook on rejection.
	unauthorizedPolicy bool
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, opts callOpts) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s %s: encode body: %w", method, path, err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	switch {
	case opts.bearer != "":
		req.Header.Set("Authorization", "Bearer "+opts.bearer)
	case opts.useTokenSource && c.token != nil:
		if tok, ok := c.token(); ok {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: readErrorMessage(resp.Body)}
		if resp.StatusCode == http.StatusUnauthorized && opts.unauthorizedPolicy {
			c.fireUnauthorized(path)
		}
		return fmt.Errorf("%s %s: %w", method, path, apiErr)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

func (c *Client) fireUnauthorized(path string) {
	if c.onUnauthorized == nil {
		return
	}
	if !c.unauthorizedBusy.CompareAndSwap(false, true) {
		return
	}
	defer c.unauthorizedBusy.Store(false)

	c.log.Info("rest.unauthorized", "path", path)
	c.onUnauthorized()
}

func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4<<10))
	if err != nil {
		return ""
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	return body.Error
}
