package keychain

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/peterbourgon/diskv/v3"

	"github.com/ericfisherdev/vpnsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SecureStorage = (*FileVault)(nil)

// FileVault stores AES-256-GCM sealed values as files in a private directory.
// Writes go to a temp directory first and are renamed into place, so a failed
// write leaves the previous value untouched.
type FileVault struct {
	dv     *diskv.Diskv
	sealer *sealer
}

// NewFileVault creates a vault under dir. key must be 32 bytes; a nil key
// yields driven.ErrEncryptionKeyNotSet.
func NewFileVault(dir string, key []byte) (*FileVault, error) {
	if key == nil {
		return nil, driven.ErrEncryptionKeyNotSet
	}
	s, err := newSealer(key)
	if err != nil {
		return nil, err
	}

	tmp := filepath.Join(dir, ".tmp")
	if err := os.MkdirAll(tmp, 0o700); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}

	dv := diskv.New(diskv.Options{
		BasePath:     dir,
		TempDir:      tmp,
		Transform:    func(string) []string { return []string{} },
		CacheSizeMax: 0,
		FilePerm:     0o600,
		PathPerm:     0o700,
	})

	return &FileVault{dv: dv, sealer: s}, nil
}

// Get returns the decrypted value for key or driven.ErrNotFound.
func (v *FileVault) Get(_ context.Context, key string) ([]byte, error) {
	data, err := v.dv.Read(key)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, driven.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read vault item %q: %w", key, err)
	}

	plaintext, err := v.sealer.open(key, data)
	if err != nil {
		return nil, fmt.Errorf("decrypt vault item %q: %w", key, err)
	}
	return plaintext, nil
}

// Set encrypts and atomically replaces the value for key.
func (v *FileVault) Set(_ context.Context, key string, value []byte) error {
	sealed, err := v.sealer.seal(key, value)
	if err != nil {
		return fmt.Errorf("encrypt vault item %q: %w", key, err)
	}
	if err := v.dv.Write(key, sealed); err != nil {
		return fmt.Errorf("write vault item %q: %w", key, err)
	}
	return nil
}

// Delete removes key. A missing item is not an error.
func (v *FileVault) Delete(_ context.Context, key string) error {
	if !v.dv.Has(key) {
		return nil
	}
	if err := v.dv.Erase(key); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("erase vault item %q: %w", key, err)
	}
	return nil
}

// Exists reports whether key holds a value.
func (v *FileVault) Exists(_ context.Context, key string) (bool, error) {
	return v.dv.Has(key), nil
}
