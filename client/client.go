package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	ea "github.com/panyam/easyauth"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status      int
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	if e.Code != "" {
		return e.Code
	}
	return fmt.Sprintf("HTTP %d", e.Status)
}

// Kind maps the error code back to an easyauth Kind so callers can use
// ea.KindOf on both local and remote errors.
func (e *APIError) Kind() ea.Kind {
	switch e.Code {
	case "invalid_request":
		return ea.KindInvalidArgument
	case "invalid_credentials", "unauthorized":
		return ea.KindInvalidCredentials
	case "conflict":
		return ea.KindConflict
	case "not_found":
		return ea.KindNotFound
	case "invalid_token":
		return ea.KindExpiredToken
	}
	return ea.KindUnknown
}

// Unwrap exposes the Kind as an *ea.Error so errors.Is(err, ea.ErrConflict)
// works on remote errors.
func (e *APIError) Unwrap() error {
	if k := e.Kind(); k != ea.KindUnknown {
		return ea.NewError(k, "client", e.Description, nil)
	}
	return nil
}

type sessionResponse struct {
	User      *ea.User `json:"user"`
	Token     string   `json:"token"`
	ExpiresAt int64    `json:"expires_at"`
}

// AuthClient talks to the httpauth routes of one server and keeps its
// session in a CredentialStore.
type AuthClient struct {
	mu            sync.Mutex
	serverURL     string
	prefix        string
	store         CredentialStore
	clock         clockwork.Clock
	httpClient    *http.Client
	baseTransport http.RoundTripper
}

// ClientOption configures an AuthClient
type ClientOption func(*AuthClient)

// WithPrefix sets the path the auth routes are mounted under. Defaults to /auth.
func WithPrefix(prefix string) ClientOption {
	return func(c *AuthClient) {
		c.prefix = "/" + strings.Trim(prefix, "/")
		if c.prefix == "/" {
			c.prefix = ""
		}
	}
}

// WithTransport sets the base transport (for connection pooling, proxies, etc.)
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *AuthClient) {
		c.baseTransport = transport
	}
}

// WithTimeout sets the timeout of the returned HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *AuthClient) {
		c.httpClient.Timeout = d
	}
}

func WithClock(clock clockwork.Clock) ClientOption {
	return func(c *AuthClient) {
		c.clock = clock
	}
}

// NewAuthClient creates a client for serverURL. Credentials are keyed by the
// scheme and host of serverURL.
func NewAuthClient(serverURL string, store CredentialStore, opts ...ClientOption) *AuthClient {
	if u, err := url.Parse(serverURL); err == nil && u.Scheme != "" && u.Host != "" {
		serverURL = fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	}
	c := &AuthClient{
		serverURL:     serverURL,
		prefix:        "/auth",
		store:         store,
		clock:         clockwork.NewRealClock(),
		httpClient:    &http.Client{},
		baseTransport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient.Transport = &sessionTransport{client: c}
	return c
}

// HTTPClient returns an HTTP client that sends the stored session token.
func (c *AuthClient) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *AuthClient) ServerURL() string {
	return c.serverURL
}

// Token returns the stored session token, or "" when there is none or it has
// expired.
func (c *AuthClient) Token() (string, error) {
	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil {
		return "", err
	}
	if cred == nil || cred.IsExpired(c.clock.Now()) {
		return "", nil
	}
	return cred.Token, nil
}

// IsLoggedIn returns true if there is a non-expired credential.
func (c *AuthClient) IsLoggedIn() bool {
	token, err := c.Token()
	return err == nil && token != ""
}

// Signup registers a new account and stores the session the server opens.
func (c *AuthClient) Signup(ctx context.Context, email, password string) (*ServerCredential, error) {
	return c.startSession(ctx, "/signup", email, password)
}

// Login authenticates with email and password and stores the session.
func (c *AuthClient) Login(ctx context.Context, email, password string) (*ServerCredential, error) {
	return c.startSession(ctx, "/login", email, password)
}

func (c *AuthClient) startSession(ctx context.Context, path, email, password string) (*ServerCredential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var resp sessionResponse
	if err := c.post(ctx, path, map[string]string{"email": email, "password": password}, "", &resp); err != nil {
		return nil, err
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("server returned no session token")
	}
	cred := &ServerCredential{
		Token:     resp.Token,
		ExpiresAt: time.Unix(resp.ExpiresAt, 0),
		CreatedAt: c.clock.Now(),
	}
	if resp.User != nil {
		cred.UserID = resp.User.ID
		cred.UserEmail = resp.User.Email
	}
	if err := c.store.SetCredential(c.serverURL, cred); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}
	return cred, nil
}

// Logout ends the session on the server and removes the stored credential.
// The credential is removed even when the server call fails.
func (c *AuthClient) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil {
		return err
	}
	if cred == nil {
		return nil
	}
	callErr := c.post(ctx, "/logout", nil, cred.Token, nil)
	if err := c.store.RemoveCredential(c.serverURL); err != nil {
		return err
	}
	return callErr
}

// Me returns the user of the stored session.
func (c *AuthClient) Me(ctx context.Context) (*ea.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/me"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		User *ea.User `json:"user"`
	}
	if err := decodeResponse(resp, &body); err != nil {
		return nil, err
	}
	return body.User, nil
}

// RequestPasswordReset asks the server to mail a reset link. The server
// answers the same way for unknown emails.
func (c *AuthClient) RequestPasswordReset(ctx context.Context, email string) error {
	return c.post(ctx, "/password/forgot", map[string]string{"email": email}, "", nil)
}

// ResetPassword redeems a reset token.
func (c *AuthClient) ResetPassword(ctx context.Context, email, token, newPassword string) error {
	return c.post(ctx, "/password/reset", map[string]string{
		"email":        email,
		"token":        token,
		"new_password": newPassword,
	}, "", nil)
}

func (c *AuthClient) url(path string) string {
	return c.serverURL + c.prefix + path
}

// post goes through the base transport so the stored token is only sent when
// bearer is set.
func (c *AuthClient) post(ctx context.Context, path string, body any, bearer string, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := &http.Client{
		Transport: NewAuthTransport(c.baseTransport, bearer),
		Timeout:   c.httpClient.Timeout,
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		json.Unmarshal(data, apiErr)
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("invalid response from server: %w", err)
	}
	return nil
}

// sessionTransport adds the stored token. A 401 on an authenticated request
// means the server no longer knows the session, so the credential is dropped.
type sessionTransport struct {
	client *AuthClient
}

func (t *sessionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.client.Token()
	if err != nil {
		return nil, err
	}
	resp, err := NewAuthTransport(t.client.baseTransport, token).RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && token != "" {
		t.client.mu.Lock()
		if cred, _ := t.client.store.GetCredential(t.client.serverURL); cred != nil && cred.Token == token {
			t.client.store.RemoveCredential(t.client.serverURL)
		}
		t.client.mu.Unlock()
	}
	return resp, nil
}
