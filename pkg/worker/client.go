package worker

import (
	"context"
	"fmt"

	"mercuryhooks/pkg/auth"
	"mercuryhooks/pkg/providers/mercury"
)

// ClientProvider supplies a Mercury client to handlers.
type ClientProvider interface {
	Client(ctx context.Context, evt *Event) (*mercury.Client, error)
}

// ClientProviderFunc adapts a function to ClientProvider.
type ClientProviderFunc func(ctx context.Context, evt *Event) (*mercury.Client, error)

func (fn ClientProviderFunc) Client(ctx context.Context, evt *Event) (*mercury.Client, error) {
	return fn(ctx, evt)
}

// MercuryClients builds clients with the credentials of the event's environment.
func MercuryClients(resolver auth.Resolver, opts ...mercury.Option) ClientProvider {
	return ClientProviderFunc(func(ctx context.Context, evt *Event) (*mercury.Client, error) {
		creds, err := resolver.Resolve(ctx, evt.Environment)
		if err != nil {
			return nil, fmt.Errorf("resolve mercury credentials for %s: %w", evt.Environment, err)
		}
		return mercury.NewClient(creds, opts...), nil
	})
}
