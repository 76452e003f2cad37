package worker

import (
	"context"
	"encoding/json"
	"errors"

	"mercuryhooks/pkg/auth"
	"mercuryhooks/pkg/dispatch"
	"mercuryhooks/pkg/providers/mercury"
)

// ErrNoClient is returned by Event helpers that need a Mercury client when the
// worker was built without a ClientProvider.
var ErrNoClient = errors.New("worker: no mercury client for event")

// Event is one trigger payload received by the worker.
type Event struct {
	// Topic is the topic the message was received on.
	Topic string `json:"topic"`
	// Type is the trigger event type, e.g. "transaction.created".
	Type           string           `json:"type"`
	SubscriptionID string           `json:"subscription_id"`
	Environment    auth.Environment `json:"environment"`
	RequestID      string           `json:"request_id"`
	// Metadata is the broker metadata the server attached to the message.
	Metadata map[string]string `json:"metadata"`
	// Payload is the trigger payload exactly as published.
	Payload json.RawMessage `json:"payload"`
	// Variables is Payload decoded into the normalized transaction fields.
	Variables dispatch.Variables `json:"variables"`
	// Client is a Mercury client for Environment, if a ClientProvider is set.
	Client *mercury.Client `json:"-"`
}

// Debit reports whether the transaction moved money out of the account.
func (e *Event) Debit() bool {
	return e.Variables.Amount.Valid && e.Variables.Amount.Decimal.IsNegative()
}

// FetchTransaction loads the full transaction record the event refers to.
func (e *Event) FetchTransaction(ctx context.Context) (*mercury.Transaction, error) {
	if e.Client == nil {
		return nil, ErrNoClient
	}
	return e.Client.GetTransaction(ctx, e.Variables.TransactionID)
}
