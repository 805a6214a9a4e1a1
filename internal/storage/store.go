// Package storage persists device-local key/value state: the guest cart, the token pair and
// the last handled identity.
package storage

import (
	"context"
	"errors"
)

// Well-known keys.
const (
	KeyCart         = "cart"
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyLastIdentity = "last_identity"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("storage: store closed")

// Store is a string key/value store. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the stored value and whether the key was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Delete removes the given keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
	Close() error
}
