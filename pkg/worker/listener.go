package worker

import "context"

// Listener hooks into the worker lifecycle. Every callback is optional.
type Listener struct {
	OnStart         func(ctx context.Context)
	OnExit          func(ctx context.Context)
	OnMessageStart  func(ctx context.Context, evt *Event)
	OnMessageFinish func(ctx context.Context, evt *Event, err error)
	// OnError also fires for messages that could not be decoded, with a nil evt.
	OnError func(ctx context.Context, evt *Event, err error)
}
