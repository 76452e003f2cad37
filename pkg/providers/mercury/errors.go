package mercury

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	ErrUnauthorized = errors.New("mercury: unauthorized")
	ErrNotFound     = errors.New("mercury: not found")
)

// APIError is a failed Mercury API call. StatusCode is zero when no response
// was received, e.g. on timeout or connection failure; Err holds the cause.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("mercury %s: %v", e.Op, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("mercury %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("mercury %s: status %d: %s", e.Op, e.StatusCode, e.Message())
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Is matches ErrUnauthorized on 401 and ErrNotFound on 404.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	default:
		return false
	}
}

// Transport reports whether the call failed before a response was received.
func (e *APIError) Transport() bool {
	return e.StatusCode == 0
}

// Message extracts the "message" field of a JSON error body, falling back to the raw body.
func (e *APIError) Message() string {
	if msg := errorMessage(e.Body); msg != "" {
		return msg
	}
	return strings.TrimSpace(e.Body)
}

func newAPIError(op string, resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
	return &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
}
