package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"finitefield.org/hanko-storefront/internal/domain"
	"finitefield.org/hanko-storefront/internal/storage"
)

var (
	errAPIRequired    = errors.New("auth: api client is required")
	errTokensRequired = errors.New("auth: token storage is required")
)

// API is the subset of Client used by the Manager.
type API interface {
	Login(ctx context.Context, username, password string) (TokenResponse, error)
	Register(ctx context.Context, username, email, password string) (TokenResponse, error)
	Verify(ctx context.Context, accessToken string) (domain.User, error)
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

// Listener observes identity transitions. Listeners run synchronously on the goroutine
// that caused the transition, after the manager's lock is released.
type Listener func(ctx context.Context, transition domain.IdentityTransition)

// LoginResult is returned by Login and Register.
type LoginResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Deps bundles the Manager's collaborators.
type Deps struct {
	API    API
	Tokens *storage.Tokens
	Logger *zap.Logger
}

// Manager owns the identity state machine and the persisted token pair:
// anonymous → authenticating → authenticated | session_error.
type Manager struct {
	api    API
	tokens *storage.Tokens
	logger *zap.Logger

	mu       sync.Mutex
	identity domain.Identity
	access   string
	refresh  string

	listenersMu sync.RWMutex
	listeners   []Listener
}

// NewManager constructs a Manager in the anonymous state. Call Restore to pick up
// persisted credentials.
func NewManager(deps Deps) (*Manager, error) {
	if deps.API == nil {
		return nil, errAPIRequired
	}
	if deps.Tokens == nil {
		return nil, errTokensRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		api:      deps.API,
		tokens:   deps.Tokens,
		logger:   logger,
		identity: domain.Identity{Status: domain.IdentityAnonymous},
	}, nil
}

// Subscribe registers fn for every subsequent transition.
func (m *Manager) Subscribe(fn Listener) {
	if fn == nil {
		return
	}
	m.listenersMu.Lock()
	m.listeners = append(m.listeners, fn)
	m.listenersMu.Unlock()
}

// State returns the current identity.
func (m *Manager) State() domain.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// AccessToken returns the current access token, or "" when signed out.
func (m *Manager) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.access
}

// Restore inspects persisted tokens. With an access token present it verifies it; a failed
// verification clears both tokens and leaves the manager anonymous.
func (m *Manager) Restore(ctx context.Context) domain.Identity {
	pair, err := m.tokens.Load(ctx)
	if err != nil {
		m.logger.Warn("auth: unable to read stored tokens", zap.Error(err))
	}
	if pair.AccessToken == "" {
		return m.transition(ctx, domain.Identity{Status: domain.IdentityAnonymous}, "", "", false)
	}

	m.transition(ctx, domain.Identity{Status: domain.IdentityAuthenticating}, pair.AccessToken, pair.RefreshToken, true)
	user, err := m.api.Verify(ctx, pair.AccessToken)
	if err != nil {
		m.logger.Info("auth: stored session rejected", zap.String("kind", string(domain.KindOf(err))))
		m.clearStored(ctx)
		return m.transition(ctx, domain.Identity{Status: domain.IdentityAnonymous}, "", "", true)
	}
	return m.transition(ctx, authenticated(user), pair.AccessToken, pair.RefreshToken, true)
}

// Login authenticates with username and password. On failure the stored tokens are left
// untouched and the identity moves to session_error.
func (m *Manager) Login(ctx context.Context, username, password string) LoginResult {
	m.begin(ctx)
	resp, err := m.api.Login(ctx, strings.TrimSpace(username), password)
	return m.complete(ctx, resp, err)
}

// Register creates an account and signs in with the returned tokens.
func (m *Manager) Register(ctx context.Context, username, email, password string) LoginResult {
	m.begin(ctx)
	resp, err := m.api.Register(ctx, strings.TrimSpace(username), strings.TrimSpace(email), password)
	return m.complete(ctx, resp, err)
}

func (m *Manager) begin(ctx context.Context) {
	m.mu.Lock()
	access, refresh := m.access, m.refresh
	m.mu.Unlock()
	m.transition(ctx, domain.Identity{Status: domain.IdentityAuthenticating}, access, refresh, true)
}

func (m *Manager) complete(ctx context.Context, resp TokenResponse, err error) LoginResult {
	if err != nil {
		message := domain.UserMessage(err)
		m.mu.Lock()
		access, refresh := m.access, m.refresh
		m.mu.Unlock()
		m.transition(ctx, domain.Identity{Status: domain.IdentitySessionError, Message: message}, access, refresh, true)
		return LoginResult{Success: false, Error: message}
	}

	if err := m.tokens.Save(ctx, storage.TokenPair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}); err != nil {
		m.logger.Warn("auth: unable to persist tokens", zap.Error(err))
	}
	refresh := resp.RefreshToken
	if refresh == "" {
		m.mu.Lock()
		refresh = m.refresh
		m.mu.Unlock()
	}

	var user domain.User
	if resp.User != nil {
		user = *resp.User
	} else {
		user = domain.User{ID: SubjectFromToken(resp.AccessToken)}
	}
	if user.ID == "" {
		m.logger.Warn("auth: token response carried no user id")
	}
	m.transition(ctx, authenticated(user), resp.AccessToken, refresh, true)
	return LoginResult{Success: true, Message: resp.Message}
}

// Logout clears both tokens and moves to anonymous. It never fails and performs no
// network I/O.
func (m *Manager) Logout() {
	ctx := context.Background()
	m.clearStored(ctx)
	m.transition(ctx, domain.Identity{Status: domain.IdentityAnonymous}, "", "", true)
}

// RefreshToken exchanges the refresh token for a new access token. Only the access token is
// replaced and no transition is emitted. Any failure ends the session.
func (m *Manager) RefreshToken(ctx context.Context) bool {
	m.mu.Lock()
	refresh := m.refresh
	m.mu.Unlock()
	if refresh == "" {
		m.logger.Info("auth: no refresh token available")
		m.Logout()
		return false
	}

	access, err := m.api.Refresh(ctx, refresh)
	if err != nil {
		m.logger.Warn("auth: refresh failed", zap.String("kind", string(domain.KindOf(err))))
		m.Logout()
		return false
	}
	m.mu.Lock()
	if m.refresh != refresh {
		// a logout or new login happened while refreshing
		m.mu.Unlock()
		return false
	}
	m.access = access
	m.mu.Unlock()

	if err := m.tokens.SaveAccess(ctx, access); err != nil {
		m.logger.Warn("auth: unable to persist refreshed token", zap.Error(err))
	}
	return true
}

// ClearError returns a session_error identity to anonymous.
func (m *Manager) ClearError() {
	m.mu.Lock()
	if m.identity.Status != domain.IdentitySessionError {
		m.mu.Unlock()
		return
	}
	access, refresh := m.access, m.refresh
	m.mu.Unlock()
	m.transition(context.Background(), domain.Identity{Status: domain.IdentityAnonymous}, access, refresh, true)
}

func (m *Manager) clearStored(ctx context.Context) {
	if err := m.tokens.Clear(ctx); err != nil {
		m.logger.Warn("auth: unable to clear stored tokens", zap.Error(err))
	}
}

// transition installs next and the token pair, then notifies listeners if notify is set
// and the identity changed.
func (m *Manager) transition(ctx context.Context, next domain.Identity, access, refresh string, notify bool) domain.Identity {
	m.mu.Lock()
	prev := m.identity
	m.identity = next
	m.access = access
	m.refresh = refresh
	m.mu.Unlock()

	if !notify || sameIdentity(prev, next) {
		return next
	}
	m.logger.Info("auth: identity transition",
		zap.String("from", string(prev.Status)),
		zap.String("to", string(next.Status)),
	)
	m.listenersMu.RLock()
	listeners := append([]Listener(nil), m.listeners...)
	m.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(ctx, domain.IdentityTransition{From: prev, To: next})
	}
	return next
}

func sameIdentity(a, b domain.Identity) bool {
	return a.Status == b.Status && a.UserID() == b.UserID() && a.Message == b.Message
}

func authenticated(user domain.User) domain.Identity {
	u := user
	return domain.Identity{Status: domain.IdentityAuthenticated, User: &u}
}

// SubjectFromToken returns the sub claim of a JWT without verifying it. Numeric subjects
// are rendered in decimal. Undecodable tokens yield "".
func SubjectFromToken(token string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	switch sub := claims["sub"].(type) {
	case string:
		return strings.TrimSpace(sub)
	case float64:
		return strconv.FormatInt(int64(sub), 10)
	case nil:
		return ""
	default:
		return fmt.Sprint(sub)
	}
}
