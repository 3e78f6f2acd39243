// Package driven defines secondary port interfaces for external adapters.
package driven

import (
	"context"
	"errors"
)

// ErrNotFound is returned by SecureStorage.Get when the key holds no value.
var ErrNotFound = errors.New("secure storage: item not found")

// ErrEncryptionKeyNotSet is returned by encrypted storage adapters constructed
// without a key.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set VPNSYNC_SECRET_KEY")

// SecureStorage is the host secure-storage boundary. Values are opaque blobs
// keyed by a fixed name per slot. A failed Set must leave any previously
// stored value intact.
type SecureStorage interface {
	// Get returns the stored value or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores or replaces the value for key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key holds a value.
	Exists(ctx context.Context, key string) (bool, error)
}
