// Package errkind classifies failures so callers can decide whether a worker
// keeps running, backs off, or stops.
package errkind

import (
	"context"
	"errors"
	"net"
	"net/url"
)

var (
	ErrConfiguration = errors.New("configuration error")
	ErrAuth          = errors.New("authentication error")
	ErrTransient     = errors.New("transient network error")
	ErrRateLimit     = errors.New("rate limited")
	ErrIO            = errors.New("io error")
)

type kindError struct {
	kind error
	err  error
}

func (e *kindError) Error() string {
	if e.err == nil {
		return e.kind.Error()
	}
	return e.kind.Error() + ": " + e.err.Error()
}

func (e *kindError) Unwrap() []error {
	if e.err == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.err}
}

// Wrap tags err with kind. The result matches both kind and err under errors.Is.
func Wrap(kind, err error) error {
	if err != nil && errors.Is(err, kind) {
		return err
	}
	return &kindError{kind: kind, err: err}
}

// Fatal reports whether err should stop the worker that produced it.
func Fatal(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrIO)
}

// Kind returns the sentinel err was tagged with, or nil if untagged.
func Kind(err error) error {
	for _, k := range []error{ErrConfiguration, ErrAuth, ErrRateLimit, ErrTransient, ErrIO} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// FromHTTPStatus maps an HTTP status code to a kind, or nil for codes that
// carry no classification.
func FromHTTPStatus(code int) error {
	switch {
	case code == 429 || code == 418:
		return ErrRateLimit
	case code == 401 || code == 403:
		return ErrAuth
	case code >= 500:
		return ErrTransient
	}
	return nil
}

// IsNetwork reports whether err came from the transport rather than the exchange.
func IsNetwork(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
