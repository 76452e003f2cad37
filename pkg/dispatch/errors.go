package dispatch

import "errors"

// ErrMissingSignature is returned when the request carries no Mercury-Signature header.
var ErrMissingSignature = errors.New("missing signature header")

// ValidationError rejects a request whose signature is absent, malformed,
// stale or wrong. The body has not been looked at.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return "webhook validation failed: " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// DispatchError rejects a correctly signed request whose payload is unusable.
type DispatchError struct {
	Message string
	Err     error
}

func (e *DispatchError) Error() string {
	if e.Err == nil {
		return "webhook dispatch failed: " + e.Message
	}
	return "webhook dispatch failed: " + e.Message + ": " + e.Err.Error()
}

func (e *DispatchError) Unwrap() error { return e.Err }
