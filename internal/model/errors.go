package model

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorClass is the coarse category of a failed completion.
type ErrorClass string

const (
	ClassAuth       ErrorClass = "auth"
	ClassRateLimit  ErrorClass = "rate_limit"
	ClassConnection ErrorClass = "connection"
	ClassUnknown    ErrorClass = "unknown"
)

// StatusError is implemented by provider errors carrying an HTTP status.
type StatusError interface {
	error
	HTTPStatus() int
}

// ClassError tags an error with an explicit class. Providers wrap SDK errors
// in it so callers never need to know about the SDK types.
type ClassError struct {
	Class ErrorClass
	Err   error
}

func (e *ClassError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("provider error class=%s", e.Class)
	}
	return e.Err.Error()
}

func (e *ClassError) Unwrap() error {
	return e.Err
}

// ClassifyStatus maps an upstream HTTP status code to an error class.
func ClassifyStatus(status int) ErrorClass {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ClassAuth
	case http.StatusTooManyRequests:
		return ClassRateLimit
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ClassConnection
	default:
		return ClassUnknown
	}
}

// Classify inspects the error chain and returns its class.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}
	var ce *ClassError
	if errors.As(err, &ce) {
		return ce.Class
	}
	var se StatusError
	if errors.As(err, &se) {
		return ClassifyStatus(se.HTTPStatus())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassConnection
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ClassConnection
	}
	return ClassUnknown
}
