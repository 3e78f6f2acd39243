package model

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies failures surfaced by the API client.
type ErrorKind int

const (
	ErrorUnknown ErrorKind = iota
	ErrorNetwork
	ErrorUnauthorized
	ErrorPlanDowngraded
	ErrorAppVersionBad
	ErrorAPIVersionBad
	ErrorTooManyRequests
)

// String returns the kind name used in logs.
func (k ErrorKind) String() string {
	switch k {
	case ErrorNetwork:
		return "network"
	case ErrorUnauthorized:
		return "unauthorized"
	case ErrorPlanDowngraded:
		return "planDowngraded"
	case ErrorAppVersionBad:
		return "appVersionBad"
	case ErrorAPIVersionBad:
		return "apiVersionBad"
	case ErrorTooManyRequests:
		return "tooManyRequests"
	default:
		return "unknown"
	}
}

// Fatal reports whether the kind requires the user to update the app.
// Fatal errors are never retried.
func (k ErrorKind) Fatal() bool {
	return k == ErrorAppVersionBad || k == ErrorAPIVersionBad
}

// API response codes with a dedicated error kind.
const (
	CodeAppVersionBad  = 5003
	CodeAPIVersionBad  = 5005
	CodePlanDowngraded = 86300
)

// APIError is a classified failure of a single API request.
type APIError struct {
	Kind       ErrorKind
	HTTPStatus int
	Code       int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	switch {
	case e.Message != "" && e.Code != 0:
		return fmt.Sprintf("api %s (http %d, code %d): %s", e.Kind, e.HTTPStatus, e.Code, e.Message)
	case e.Message != "":
		return fmt.Sprintf("api %s (http %d): %s", e.Kind, e.HTTPStatus, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("api %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("api %s (http %d)", e.Kind, e.HTTPStatus)
	}
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// KindOf classifies err. Transport failures and timeouts are network errors
// even when they were never wrapped in an APIError.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorUnknown
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorNetwork
	}
	return ErrorUnknown
}

// StoreError reports a secure-storage failure. Callers degrade to an
// unauthenticated session instead of aborting.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("credential store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
