package certs

import "fmt"

// Reason classifies a certificate or signature failure. None of them are
// retryable: the same input fails the same way.
type Reason int

const (
	ReasonInvalidBase64 Reason = iota + 1
	ReasonParsingFailure
	ReasonKeyExtraction
	ReasonKeyExport
	ReasonUnsupportedAlgorithm
	ReasonKeyMismatch
	ReasonSigning
)

// String returns the reason name used in logs.
func (r Reason) String() string {
	switch r {
	case ReasonInvalidBase64:
		return "invalidBase64"
	case ReasonParsingFailure:
		return "certificateParsingFailure"
	case ReasonKeyExtraction:
		return "keyExtraction"
	case ReasonKeyExport:
		return "keyExport"
	case ReasonUnsupportedAlgorithm:
		return "unsupportedAlgorithm"
	case ReasonKeyMismatch:
		return "keyMismatch"
	case ReasonSigning:
		return "signing"
	default:
		return "unknown"
	}
}

// Error is returned by every operation in this package.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "certificate " + e.Reason.String()
	}
	return fmt.Sprintf("certificate %s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Reason, so callers can write
// errors.Is(err, &certs.Error{Reason: certs.ReasonInvalidBase64}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Reason == e.Reason
}

func newError(reason Reason, err error) *Error {
	return &Error{Reason: reason, Err: err}
}
