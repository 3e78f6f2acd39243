// Package keychain implements the SecureStorage port on top of the system
// keyring, with an encrypted on-disk vault for hosts that have none.
package keychain

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/ericfisherdev/vpnsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SecureStorage = (*Keyring)(nil)

// Keyring stores values in the OS keyring (Secret Service, Keychain, Credential
// Manager) under a single service name. The keyring only holds strings, so
// values are Base64 encoded.
type Keyring struct {
	service string
}

// NewKeyring creates a Keyring scoped to service.
func NewKeyring(service string) *Keyring {
	return &Keyring{service: service}
}

// Get returns the value for key or driven.ErrNotFound.
func (k *Keyring) Get(_ context.Context, key string) ([]byte, error) {
	encoded, err := keyring.Get(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, driven.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("keyring get %q: %w", key, err)
	}

	value, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode keyring item %q: %w", key, err)
	}
	return value, nil
}

// Set stores value under key. The keyring replaces items atomically.
func (k *Keyring) Set(_ context.Context, key string, value []byte) error {
	if err := keyring.Set(k.service, key, base64.StdEncoding.EncodeToString(value)); err != nil {
		return fmt.Errorf("keyring set %q: %w", key, err)
	}
	return nil
}

// Delete removes key. A missing item is not an error.
func (k *Keyring) Delete(_ context.Context, key string) error {
	err := keyring.Delete(k.service, key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete %q: %w", key, err)
	}
	return nil
}

// Exists reports whether key holds a value.
func (k *Keyring) Exists(ctx context.Context, key string) (bool, error) {
	_, err := k.Get(ctx, key)
	if errors.Is(err, driven.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// probeKey is written and removed to check that the keyring is usable.
const probeKey = "vpnsync-probe"

// Available reports whether the keyring accepts writes on this host.
func (k *Keyring) Available() bool {
	if err := keyring.Set(k.service, probeKey, "ok"); err != nil {
		return false
	}
	_ = keyring.Delete(k.service, probeKey)
	return true
}
