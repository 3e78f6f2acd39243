// Package certs converts client certificates between encodings, extracts
// their public keys, and signs or verifies data with a closed set of algorithms.
// Every function is pure: no key material outlives the call.
package certs

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// pemBoundary matches RFC 7468 encapsulation boundaries of any label.
	pemBoundary = regexp.MustCompile(`-----(?:BEGIN|END)[^\n\r]*?-----`)
	whitespace  = regexp.MustCompile(`\s+`)
)

const pemLineLength = 64

// DERFromPEM strips the PEM boundaries from pemText and decodes the Base64
// body. Line endings, wrapping width, and surrounding whitespace are ignored.
func DERFromPEM(pemText string) ([]byte, error) {
	body := pemBoundary.ReplaceAllString(pemText, "")
	body = whitespace.ReplaceAllString(body, "")

	der, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, newError(ReasonInvalidBase64, err)
	}
	return der, nil
}

// EncodePEM wraps der in CERTIFICATE boundaries with a 64-column Base64 body.
func EncodePEM(der []byte) string {
	encoded := base64.StdEncoding.EncodeToString(der)

	var b strings.Builder
	b.WriteString("-----BEGIN CERTIFICATE-----\n")
	for len(encoded) > pemLineLength {
		b.WriteString(encoded[:pemLineLength])
		b.WriteByte('\n')
		encoded = encoded[pemLineLength:]
	}
	if encoded != "" {
		b.WriteString(encoded)
		b.WriteByte('\n')
	}
	b.WriteString("-----END CERTIFICATE-----\n")
	return b.String()
}

// PublicKey parses a DER certificate and returns the raw subject public key:
// PKCS #1 for RSA, the uncompressed point for ECDSA, and the 32 key bytes for
// Ed25519.
func PublicKey(der []byte) ([]byte, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, newError(ReasonParsingFailure, err)
	}
	if cert.PublicKey == nil {
		return nil, newError(ReasonKeyExtraction, fmt.Errorf("no usable public key (algorithm %s)", cert.PublicKeyAlgorithm))
	}
	return exportPublicKey(cert.PublicKey)
}

func exportPublicKey(pub any) ([]byte, error) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return x509.MarshalPKCS1PublicKey(k), nil
	case *ecdsa.PublicKey:
		ecdhKey, err := k.ECDH()
		if err != nil {
			return nil, newError(ReasonKeyExport, err)
		}
		return ecdhKey.Bytes(), nil
	case ed25519.PublicKey:
		out := make([]byte, len(k))
		copy(out, k)
		return out, nil
	default:
		return nil, newError(ReasonKeyExport, errors.New("unsupported public key type"))
	}
}

// PublicKeyFromPEM is DERFromPEM followed by PublicKey.
func PublicKeyFromPEM(pemText string) ([]byte, error) {
	der, err := DERFromPEM(pemText)
	if err != nil {
		return nil, err
	}
	return PublicKey(der)
}
