package storage

import (
	"context"
	"errors"
)

// TokenPair is the persisted credential pair. RefreshToken may be empty when the backend
// only issued an access token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Tokens reads and writes the credential pair.
type Tokens struct {
	store Store
}

// NewTokens wraps store.
func NewTokens(store Store) *Tokens {
	return &Tokens{store: store}
}

// Load returns the stored pair. Missing keys yield empty strings.
func (t *Tokens) Load(ctx context.Context) (TokenPair, error) {
	access, _, err := t.store.Get(ctx, KeyAccessToken)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, _, err := t.store.Get(ctx, KeyRefreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Save persists the pair. An empty refresh token leaves the stored one untouched.
func (t *Tokens) Save(ctx context.Context, pair TokenPair) error {
	if err := t.store.Set(ctx, KeyAccessToken, pair.AccessToken); err != nil {
		return err
	}
	if pair.RefreshToken == "" {
		return nil
	}
	return t.store.Set(ctx, KeyRefreshToken, pair.RefreshToken)
}

// SaveAccess replaces only the access token.
func (t *Tokens) SaveAccess(ctx context.Context, access string) error {
	return t.store.Set(ctx, KeyAccessToken, access)
}

// Clear removes both tokens.
func (t *Tokens) Clear(ctx context.Context) error {
	return t.store.Delete(ctx, KeyAccessToken, KeyRefreshToken)
}

// IdentityMarker records which user id the device last reconciled a cart for. An empty
// marker means no authenticated user has been handled.
type IdentityMarker struct {
	store Store
}

// NewIdentityMarker wraps store.
func NewIdentityMarker(store Store) *IdentityMarker {
	return &IdentityMarker{store: store}
}

// Load returns the marker, or "" when unset.
func (m *IdentityMarker) Load(ctx context.Context) (string, error) {
	value, _, err := m.store.Get(ctx, KeyLastIdentity)
	return value, err
}

// Save records userID. An empty id clears the marker.
func (m *IdentityMarker) Save(ctx context.Context, userID string) error {
	if userID == "" {
		return m.store.Delete(ctx, KeyLastIdentity)
	}
	return m.store.Set(ctx, KeyLastIdentity, userID)
}

// Open builds the store selected by driver ("sqlite" or "memory").
func Open(ctx context.Context, driver, path string, opts ...SQLiteOption) (Store, error) {
	switch driver {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "":
		return OpenSQLite(ctx, path, opts...)
	default:
		return nil, errors.New("storage: unknown driver " + driver)
	}
}
