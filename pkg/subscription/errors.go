package subscription

import (
	"errors"
	"fmt"
)

// ErrorCode classifies lifecycle failures for the host.
type ErrorCode string

const (
	CodeMissingCredentials    ErrorCode = "MISSING_CREDENTIALS"
	CodeNetworkError          ErrorCode = "NETWORK_ERROR"
	CodeWebhookCreationFailed ErrorCode = "WEBHOOK_CREATION_FAILED"
	CodeWebhookNotFound       ErrorCode = "WEBHOOK_NOT_FOUND"
	CodeWebhookRefreshFailed  ErrorCode = "WEBHOOK_REFRESH_FAILED"
	CodeMissingProperties     ErrorCode = "MISSING_PROPERTIES"
	CodeWebhookDeletionFailed ErrorCode = "WEBHOOK_DELETION_FAILED"
)

// CredentialValidationError means Mercury rejected the access token before
// any webhook was created.
type CredentialValidationError struct {
	Message    string
	StatusCode int
	Err        error
}

func (e *CredentialValidationError) Error() string {
	return "mercury credential validation failed: " + e.Message
}

func (e *CredentialValidationError) Unwrap() error { return e.Err }

// SubscriptionError is a create or refresh failure. A WEBHOOK_NOT_FOUND code
// means the remote webhook is gone and the host must create a new one.
type SubscriptionError struct {
	Code       ErrorCode
	Message    string
	StatusCode int
	Response   string
	Err        error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// UnsubscribeError is a delete failure.
type UnsubscribeError struct {
	Code       ErrorCode
	Message    string
	StatusCode int
	Response   string
	Err        error
}

func (e *UnsubscribeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *UnsubscribeError) Unwrap() error { return e.Err }

// Code extracts the lifecycle error code from err, if any.
func Code(err error) ErrorCode {
	var subErr *SubscriptionError
	if errors.As(err, &subErr) {
		return subErr.Code
	}
	var unsubErr *UnsubscribeError
	if errors.As(err, &unsubErr) {
		return unsubErr.Code
	}
	return ""
}
