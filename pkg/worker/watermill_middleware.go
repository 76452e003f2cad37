package worker

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// MiddlewareFromWatermill lets watermill handler middleware wrap a worker
// Handler. The message it sees is rebuilt from the event.
func MiddlewareFromWatermill(m message.HandlerMiddleware) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, evt *Event) error {
			uuid := evt.Variables.EventID
			if uuid == "" {
				uuid = watermill.NewUUID()
			}
			msg := message.NewMessage(uuid, message.Payload(evt.Payload))
			msg.SetContext(ctx)
			for key, value := range evt.Metadata {
				msg.Metadata.Set(key, value)
			}
			wrapped := m(func(inner *message.Message) ([]*message.Message, error) {
				return nil, next(inner.Context(), evt)
			})
			_, err := wrapped(msg)
			return err
		}
	}
}
