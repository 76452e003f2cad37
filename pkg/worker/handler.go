package worker

import "context"

// Handler processes one event. A returned error is passed to the RetryPolicy.
type Handler func(ctx context.Context, evt *Event) error

type Middleware func(Handler) Handler
