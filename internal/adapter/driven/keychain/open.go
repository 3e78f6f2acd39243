package keychain

import (
	"log/slog"

	"github.com/ericfisherdev/vpnsync/internal/domain/port/driven"
)

// Options selects and configures the storage backend.
type Options struct {
	Service  string
	VaultDir string
	VaultKey []byte
}

// Open returns the system keyring when it accepts writes and the file vault
// otherwise.
func Open(opts Options, logger *slog.Logger) (driven.SecureStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kr := NewKeyring(opts.Service)
	if kr.Available() {
		logger.Info("using system keyring", "service", opts.Service)
		return kr, nil
	}

	vault, err := NewFileVault(opts.VaultDir, opts.VaultKey)
	if err != nil {
		return nil, err
	}
	logger.Warn("system keyring unavailable, using encrypted file vault", "dir", opts.VaultDir)
	return vault, nil
}
