package auth

import (
	"context"
	"errors"
)

// ErrNoCredentials is returned when no token is configured for an environment.
var ErrNoCredentials = errors.New("mercury access token is not configured")

// Resolver resolves the credentials used for a subscription's lifecycle calls.
type Resolver interface {
	Resolve(ctx context.Context, env Environment) (Credentials, error)
}

// StaticResolver resolves credentials from configuration.
type StaticResolver struct {
	cfg Config
}

// NewResolver constructs a StaticResolver.
func NewResolver(cfg Config) *StaticResolver {
	return &StaticResolver{cfg: cfg}
}

// DefaultEnvironment returns the configured primary environment.
func (r *StaticResolver) DefaultEnvironment() Environment {
	env, err := ParseEnvironment(r.cfg.Environment)
	if err != nil {
		return EnvironmentProduction
	}
	return env
}

// Resolve returns credentials for env. An empty env uses the configured default.
func (r *StaticResolver) Resolve(_ context.Context, env Environment) (Credentials, error) {
	if env == "" {
		env = r.DefaultEnvironment()
	}
	primary := r.DefaultEnvironment()
	token := ""
	switch {
	case env == primary:
		token = r.cfg.AccessToken
	case env == EnvironmentSandbox:
		token = r.cfg.SandboxAccessToken
	}
	if token == "" {
		return Credentials{Environment: env}, ErrNoCredentials
	}
	return Credentials{AccessToken: token, Environment: env}, nil
}
