package worker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"

	"mercuryhooks/pkg/auth"
	"mercuryhooks/pkg/dispatch"
)

// Codec decodes broker messages into Events.
type Codec interface {
	Decode(topic string, msg *message.Message) (*Event, error)
}

// TriggerCodec decodes the trigger payloads published by the server.
type TriggerCodec struct{}

func (TriggerCodec) Decode(topic string, msg *message.Message) (*Event, error) {
	metadata := make(map[string]string, len(msg.Metadata))
	for key, value := range msg.Metadata {
		metadata[key] = value
	}
	return DecodePayload(topic, msg.Payload, metadata)
}

// DecodePayload builds an Event from a trigger payload and the metadata that
// travelled with it. Transports without message metadata pass what they have.
func DecodePayload(topic string, payload []byte, metadata map[string]string) (*Event, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errors.New("trigger payload must be a JSON object")
	}
	var vars dispatch.Variables
	if err := json.Unmarshal(trimmed, &vars); err != nil {
		return nil, fmt.Errorf("decode trigger payload: %w", err)
	}
	if metadata == nil {
		metadata = map[string]string{}
	}

	env, err := auth.ParseEnvironment(metadata["environment"])
	if err != nil {
		return nil, err
	}
	eventType := metadata["event"]
	if eventType == "" && vars.OperationType != "" {
		eventType = string(dispatch.ResourceTransaction) + "." + strings.ToLower(vars.OperationType)
	}
	if topic == "" {
		topic = metadata["topic"]
	}

	return &Event{
		Topic:          topic,
		Type:           eventType,
		SubscriptionID: metadata["subscription_id"],
		Environment:    env,
		RequestID:      metadata["request_id"],
		Metadata:       metadata,
		Payload:        json.RawMessage(trimmed),
		Variables:      vars,
	}, nil
}
