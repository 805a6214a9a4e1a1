// Package auth talks to the storefront's auth endpoints and owns the credential lifecycle.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"finitefield.org/hanko-storefront/internal/domain"
)

const defaultTimeout = 8 * time.Second

var errBaseURLRequired = errors.New("auth: base url is required")

// Doer sends HTTP requests.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client calls /auth/login, /auth/register, /auth/verify and /auth/refresh. It never
// refreshes on its own; the Manager decides what a failure means.
type Client struct {
	baseURL string
	http    Doer
}

// ClientOption customises the Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(doer Doer) ClientOption {
	return func(c *Client) {
		if doer != nil {
			c.http = doer
		}
	}
}

// NewClient constructs an auth API client rooted at baseURL (e.g. http://host/api).
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// TokenResponse is the successful login/register payload. User is nil when the server
// only returned tokens.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	User         *domain.User
	Message      string
}

type tokenPayload struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	User         *userPayload `json:"user"`
	Message      string       `json:"message"`
}

type userPayload struct {
	ID       domain.WireID `json:"id"`
	Username string        `json:"username"`
	Email    string        `json:"email"`
}

func (p *userPayload) toUser() *domain.User {
	if p == nil || p.ID == "" {
		return nil
	}
	return &domain.User{ID: p.ID.String(), Username: strings.TrimSpace(p.Username), Email: strings.TrimSpace(p.Email)}
}

type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Msg     string `json:"msg"`
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, username, password string) (TokenResponse, error) {
	body := map[string]string{"username": username, "password": password}
	return c.tokens(ctx, "auth.login", "Login error", body, "auth", "login")
}

// Register creates an account and returns its token pair.
func (c *Client) Register(ctx context.Context, username, email, password string) (TokenResponse, error) {
	body := map[string]string{"username": username, "email": email, "password": password}
	return c.tokens(ctx, "auth.register", "Registration error", body, "auth", "register")
}

// Verify resolves the user behind accessToken.
func (c *Client) Verify(ctx context.Context, accessToken string) (domain.User, error) {
	const op = "auth.verify"
	var payload struct {
		User *userPayload `json:"user"`
	}
	if err := c.call(ctx, op, "", http.MethodGet, accessToken, nil, &payload, "auth", "verify"); err != nil {
		return domain.User{}, err
	}
	user := payload.User.toUser()
	if user == nil {
		if id := SubjectFromToken(accessToken); id != "" {
			return domain.User{ID: id}, nil
		}
		return domain.User{}, domain.ServerError(op, http.StatusOK, "")
	}
	return *user, nil
}

// Refresh exchanges refreshToken for a new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (string, error) {
	const op = "auth.refresh"
	var payload tokenPayload
	if err := c.call(ctx, op, "", http.MethodPost, refreshToken, nil, &payload, "auth", "refresh"); err != nil {
		return "", err
	}
	access := strings.TrimSpace(payload.AccessToken)
	if access == "" {
		return "", domain.ServerError(op, http.StatusOK, "")
	}
	return access, nil
}

func (c *Client) tokens(ctx context.Context, op, fallback string, body any, segments ...string) (TokenResponse, error) {
	var payload tokenPayload
	if err := c.call(ctx, op, fallback, http.MethodPost, "", body, &payload, segments...); err != nil {
		return TokenResponse{}, err
	}
	access := strings.TrimSpace(payload.AccessToken)
	if access == "" {
		return TokenResponse{}, domain.ServerError(op, http.StatusOK, fallback)
	}
	return TokenResponse{
		AccessToken:  access,
		RefreshToken: strings.TrimSpace(payload.RefreshToken),
		User:         payload.User.toUser(),
		Message:      strings.TrimSpace(payload.Message),
	}, nil
}

func (c *Client) call(ctx context.Context, op, fallback, method, bearer string, body, out any, segments ...string) error {
	endpoint, err := url.JoinPath(c.baseURL, segments...)
	if err != nil {
		return err
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.NetworkError(op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.NetworkError(op, err)
	}
	if resp.StatusCode >= 400 {
		return domain.ServerError(op, resp.StatusCode, errorMessage(raw, fallback))
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &domain.Error{Kind: domain.KindServer, Op: op, Status: resp.StatusCode, Err: err}
	}
	return nil
}

func errorMessage(raw []byte, fallback string) string {
	var payload errorPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fallback
	}
	for _, candidate := range []string{payload.Error, payload.Message, payload.Msg} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return fallback
}
