package worker

import (
	"context"
	"errors"
	"net/http"

	"mercuryhooks/pkg/providers/mercury"
)

// RetryDecision tells the worker how to settle a failed message. Retry or
// Nack redelivers it; neither acks and drops it.
type RetryDecision struct {
	Retry bool
	Nack  bool
}

type RetryPolicy interface {
	OnError(ctx context.Context, evt *Event, err error) RetryDecision
}

// NoRetry nacks every failure.
type NoRetry struct{}

func (NoRetry) OnError(ctx context.Context, evt *Event, err error) RetryDecision {
	return RetryDecision{Retry: false, Nack: true}
}

// RetryTransient redelivers transient Mercury failures and drops everything
// else. Messages that could not be decoded are always dropped.
type RetryTransient struct{}

func (RetryTransient) OnError(ctx context.Context, evt *Event, err error) RetryDecision {
	if evt == nil {
		return RetryDecision{}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return RetryDecision{Retry: true}
	}
	var apiErr *mercury.APIError
	if !errors.As(err, &apiErr) {
		return RetryDecision{}
	}
	if apiErr.Transport() || apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError {
		return RetryDecision{Retry: true}
	}
	return RetryDecision{}
}
