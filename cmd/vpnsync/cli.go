package main

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"

	"github.com/ericfisherdev/vpnsync/internal/certs"
)

// CLI is the command line grammar.
type CLI struct {
	Debug bool `help:"Debug logging, overrides VPNSYNC_LOG_LEVEL" short:"d"`

	Run  RunCmd  `cmd:"true" help:"Run the refresh engine and the local control API"`
	Cert CertCmd `cmd:"true" help:"Inspect certificates"`
}

// CertCmd groups the certificate helpers.
type CertCmd struct {
	DER    CertDERCmd    `cmd:"true" name:"der" help:"Print the DER body of a PEM certificate as hex"`
	Pubkey CertPubkeyCmd `cmd:"true" name:"pubkey" help:"Print the public key of a PEM certificate as hex"`
	PEM    CertPEMCmd    `cmd:"true" name:"pem" help:"Wrap a binary DER certificate in PEM armor"`
}

// CertDERCmd prints the decoded certificate body.
type CertDERCmd struct {
	File string `arg:"true" help:"PEM certificate file" type:"existingfile"`
}

// Run decodes the PEM file and writes the DER bytes as hex.
func (c *CertDERCmd) Run() error {
	pemText, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("read %s: %w", c.File, err)
	}

	der, err := certs.DERFromPEM(string(pemText))
	if err != nil {
		return err
	}

	fmt.Println(hex.EncodeToString(der))
	return nil
}

// CertPubkeyCmd prints the certificate's public key.
type CertPubkeyCmd struct {
	File string `arg:"true" help:"PEM certificate file" type:"existingfile"`
}

// Run extracts the public key in its algorithm's external representation.
func (c *CertPubkeyCmd) Run() error {
	pemText, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("read %s: %w", c.File, err)
	}

	key, err := certs.PublicKeyFromPEM(string(pemText))
	if err != nil {
		return err
	}

	fmt.Println(hex.EncodeToString(key))
	return nil
}

// CertPEMCmd armors a DER file.
type CertPEMCmd struct {
	File string `arg:"true" help:"DER certificate file" type:"existingfile"`
}

// Run writes the PEM text to stdout.
func (c *CertPEMCmd) Run() error {
	der, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("read %s: %w", c.File, err)
	}

	fmt.Print(certs.EncodePEM(der))
	return nil
}

// newLogger builds the process logger. debug wins over the configured level.
func newLogger(level slog.Level, debug bool) *slog.Logger {
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
