package internal

import "encoding/json"

// Event is a normalized trigger ready to be routed and published.
type Event struct {
	Provider       string          `json:"provider"`
	Name           string          `json:"name"`
	RequestID      string          `json:"request_id,omitempty"`
	SubscriptionID string          `json:"subscription_id,omitempty"`
	Environment    string          `json:"environment,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`

	// Data is the flat parameter set rules are evaluated against.
	Data map[string]interface{} `json:"-"`
	// RawPayload is the verified inbound body, used for JSONPath rules.
	RawPayload []byte `json:"-"`
}
