package certs

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
)

// Algorithm is one of the supported signature schemes. The set is closed;
// there is no string-keyed lookup beyond ParseAlgorithm.
type Algorithm int

const (
	RSAPKCS1v15SHA256 Algorithm = iota + 1
	RSAPSSSHA256
	ECDSAP256SHA256
	Ed25519
)

// Algorithms lists every supported algorithm.
var Algorithms = []Algorithm{RSAPKCS1v15SHA256, RSAPSSSHA256, ECDSAP256SHA256, Ed25519}

// String returns the canonical algorithm name.
func (a Algorithm) String() string {
	switch a {
	case RSAPKCS1v15SHA256:
		return "RSA-PKCS1v15-SHA256"
	case RSAPSSSHA256:
		return "RSA-PSS-SHA256"
	case ECDSAP256SHA256:
		return "ECDSA-P256-SHA256"
	case Ed25519:
		return "Ed25519"
	default:
		return fmt.Sprintf("Algorithm(%d)", int(a))
	}
}

// ParseAlgorithm maps a canonical name to its Algorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	for _, a := range Algorithms {
		if a.String() == name {
			return a, nil
		}
	}
	return 0, newError(ReasonUnsupportedAlgorithm, fmt.Errorf("%q", name))
}

func (a Algorithm) valid() bool {
	return a >= RSAPKCS1v15SHA256 && a <= Ed25519
}

// Sign signs data with key using alg. The key type must match the algorithm.
func Sign(data []byte, key crypto.PrivateKey, alg Algorithm) ([]byte, error) {
	if !alg.valid() {
		return nil, newError(ReasonUnsupportedAlgorithm, errors.New(alg.String()))
	}

	digest := sha256.Sum256(data)

	var (
		sig []byte
		err error
	)
	switch alg {
	case RSAPKCS1v15SHA256, RSAPSSSHA256:
		k, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, keyMismatch(alg, key)
		}
		if alg == RSAPKCS1v15SHA256 {
			sig, err = rsa.SignPKCS1v15(rand.Reader, k, crypto.SHA256, digest[:])
		} else {
			sig, err = rsa.SignPSS(rand.Reader, k, crypto.SHA256, digest[:], &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
		}
	case ECDSAP256SHA256:
		k, ok := key.(*ecdsa.PrivateKey)
		if !ok || k.Curve != elliptic.P256() {
			return nil, keyMismatch(alg, key)
		}
		sig, err = ecdsa.SignASN1(rand.Reader, k, digest[:])
	case Ed25519:
		k, ok := key.(ed25519.PrivateKey)
		if !ok || len(k) != ed25519.PrivateKeySize {
			return nil, keyMismatch(alg, key)
		}
		sig = ed25519.Sign(k, data)
	}
	if err != nil {
		return nil, newError(ReasonSigning, err)
	}
	return sig, nil
}

// Verify reports whether sig is a valid signature of data under key. A key
// that does not fit alg is an error; a signature that does not verify is not.
func Verify(sig, data []byte, key crypto.PublicKey, alg Algorithm) (bool, error) {
	if !alg.valid() {
		return false, newError(ReasonUnsupportedAlgorithm, errors.New(alg.String()))
	}

	digest := sha256.Sum256(data)

	switch alg {
	case RSAPKCS1v15SHA256:
		k, ok := key.(*rsa.PublicKey)
		if !ok {
			return false, keyMismatch(alg, key)
		}
		return rsa.VerifyPKCS1v15(k, crypto.SHA256, digest[:], sig) == nil, nil
	case RSAPSSSHA256:
		k, ok := key.(*rsa.PublicKey)
		if !ok {
			return false, keyMismatch(alg, key)
		}
		return rsa.VerifyPSS(k, crypto.SHA256, digest[:], sig, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto}) == nil, nil
	case ECDSAP256SHA256:
		k, ok := key.(*ecdsa.PublicKey)
		if !ok || k.Curve != elliptic.P256() {
			return false, keyMismatch(alg, key)
		}
		return ecdsa.VerifyASN1(k, digest[:], sig), nil
	default:
		k, ok := key.(ed25519.PublicKey)
		if !ok || len(k) != ed25519.PublicKeySize {
			return false, keyMismatch(alg, key)
		}
		return ed25519.Verify(k, data, sig), nil
	}
}

func keyMismatch(alg Algorithm, key any) *Error {
	return newError(ReasonKeyMismatch, fmt.Errorf("%T cannot be used with %s", key, alg))
}
